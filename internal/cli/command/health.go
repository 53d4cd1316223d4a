package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/routemesh-go/internal/cli/connection"
	"github.com/yndnr/routemesh-go/internal/cli/output"
	"github.com/yndnr/routemesh-go/internal/server/httpserver/handler"
)

// healthPollInterval is the polling period of health --wait.
const healthPollInterval = 250 * time.Millisecond

// HealthCommand checks node health.
func HealthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "check that the node's route manager is running",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "keep polling until healthy or this long has passed",
			},
		},
		Action: healthAction,
	}
}

func healthAction(c *cli.Context) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	cl := client(flags)

	wait := c.Duration("wait")
	var health *handler.HealthResponse
	if wait > 0 {
		health, err = waitHealthy(c, cl, wait)
	} else {
		health, err = cl.Health(c.Context)
	}

	var apiErr *connection.APIError
	switch {
	case err == nil:
	case errors.As(err, &apiErr) && health != nil:
		if flags.Output != output.FormatTable {
			_ = render(c, flags, health)
		}
		return cli.Exit(fmt.Sprintf("%s is %s", health.ServerName, health.Status), 1)
	default:
		return unreachable(flags, err)
	}

	if flags.Output != output.FormatTable {
		return render(c, flags, health)
	}
	fmt.Fprintf(c.App.Writer, "%s: %s (%d established routes)\n", health.ServerName, health.Status, health.Routes)
	return nil
}

// waitHealthy polls /healthz until it succeeds or wait elapses. The last
// answer or error is returned.
func waitHealthy(c *cli.Context, cl *connection.HTTPClient, wait time.Duration) (*handler.HealthResponse, error) {
	ctx, cancel := context.WithTimeout(c.Context, wait)
	defer cancel()

	spin := output.NewSpinner(c.App.ErrWriter, "waiting for "+cl.BaseURL())
	spin.Start()
	defer spin.Stop()

	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()
	for {
		health, err := cl.Health(ctx)
		if err == nil {
			spin.Success(health.ServerName + " is healthy")
			return health, nil
		}
		select {
		case <-ctx.Done():
			spin.Fail("gave up after " + wait.String())
			return health, err
		case <-ticker.C:
		}
	}
}
