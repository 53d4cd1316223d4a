package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/routemesh-go/internal/cli/output"
	"github.com/yndnr/routemesh-go/internal/core/domain"
)

// RoutesCommand lists the routes of a node.
func RoutesCommand() *cli.Command {
	return &cli.Command{
		Name:    "routes",
		Aliases: []string{"routez"},
		Usage:   "list routes and the membership view",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "state",
				Usage: "only routes in this state (dialing, authenticating, established, draining)",
			},
			&cli.BoolFlag{
				Name:  "peers",
				Usage: "list the membership view (established peers) instead of all routes",
			},
		},
		Action: routesAction,
	}
}

func routesAction(c *cli.Context) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	state := c.String("state")
	if state != "" && !validState(state) {
		return cli.Exit(fmt.Sprintf("unknown route state %q", state), 2)
	}

	rz, err := client(flags).Routez(c.Context, state)
	if err != nil {
		return unreachable(flags, err)
	}

	list := rz.Routes
	if c.Bool("peers") {
		list = rz.Peers
	}
	if flags.Output != output.FormatTable {
		if c.Bool("peers") {
			return render(c, flags, list)
		}
		return render(c, flags, rz)
	}

	fmt.Fprintf(c.App.Writer, "%s (cluster %s, membership version %d): %d route(s)\n\n",
		rz.ServerName, rz.Cluster, rz.Version, len(list))
	if len(list) == 0 {
		return nil
	}
	return render(c, flags, list)
}

func validState(s string) bool {
	for _, st := range domain.AllRouteStates() {
		if st.String() == s {
			return true
		}
	}
	return false
}
