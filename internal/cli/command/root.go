package command

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/routemesh-go/internal/cli/connection"
	"github.com/yndnr/routemesh-go/internal/cli/output"
	"github.com/yndnr/routemesh-go/internal/infra/buildinfo"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "routemesh-cli",
		Usage:   "inspect routemesh-server nodes and manage route credentials",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			RoutesCommand(),
			HealthCommand(),
			ServerCommand(),
			PasswdCommand(),
			GenTokenCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "monitor address of the node (host:port or URL)",
			EnvVars: []string{"ROUTEMESH_MONITOR"},
			Value:   "127.0.0.1:8222",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "show wide output (more columns)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "per-request timeout",
			Value: connection.DefaultTimeout,
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Server  string
	Output  output.Format
	Wide    bool
	Timeout time.Duration
}

// ParseGlobalFlags extracts and validates global flags.
func ParseGlobalFlags(c *cli.Context) (*GlobalFlags, error) {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	return &GlobalFlags{
		Server:  c.String("server"),
		Output:  format,
		Wide:    c.Bool("wide"),
		Timeout: c.Duration("timeout"),
	}, nil
}

// client returns a monitor client for the global flags.
func client(flags *GlobalFlags) *connection.HTTPClient {
	return connection.NewHTTPClient(flags.Server, flags.Timeout)
}

// render writes data in the selected format.
func render(c *cli.Context, flags *GlobalFlags, data any) error {
	return output.NewFormatter(flags.Output, flags.Wide).Format(c.App.Writer, data)
}

// unreachable wraps a transport error with the server address.
func unreachable(flags *GlobalFlags, err error) error {
	return cli.Exit(fmt.Sprintf("%s: %v", flags.Server, err), 1)
}
