package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/routemesh-go/internal/exerciser"
	"github.com/yndnr/routemesh-go/internal/infra/buildinfo"
	"github.com/yndnr/routemesh-go/internal/telemetry/logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		if _, ok := err.(cli.ExitCoder); !ok {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newApp() *cli.App {
	def := exerciser.DefaultOptions()
	return &cli.App{
		Name:    "routemesh-exercise",
		Usage:   "restart, pause and resume cluster nodes at random and check the route mesh",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Usage: "routemesh-server binary", Value: def.ServerPath},
			&cli.Uint64Flag{Name: "seed", Usage: "seed driving the faults (0 = random)"},
			&cli.IntFlag{Name: "servers", Usage: "cluster size", Value: def.Servers},
			&cli.IntFlag{Name: "steps", Usage: "number of fault steps", Value: def.Steps},
			&cli.IntFlag{Name: "route-port", Usage: "route port of node 0", Value: def.BaseRoutePort},
			&cli.IntFlag{Name: "monitor-port", Usage: "monitor port of node 0", Value: def.BaseMonitorPort},
			&cli.StringFlag{Name: "dir", Usage: "work directory for configs and logs", Value: def.WorkDir},
			&cli.DurationFlag{Name: "settle", Usage: "how long the final full mesh may take", Value: def.SettleTimeout},
			&cli.BoolFlag{Name: "keep", Usage: "keep the work directory after a successful run"},
			&cli.StringFlag{Name: "log-level", Usage: "exerciser log level", Value: "warn"},
		},
		Action: run,
	}
}

// options maps command line flags onto exerciser options.
func options(c *cli.Context) exerciser.Options {
	opts := exerciser.DefaultOptions()
	opts.ServerPath = c.String("path")
	opts.Seed = c.Uint64("seed")
	opts.Servers = c.Int("servers")
	opts.Steps = c.Int("steps")
	opts.BaseRoutePort = c.Int("route-port")
	opts.BaseMonitorPort = c.Int("monitor-port")
	opts.WorkDir = c.String("dir")
	opts.SettleTimeout = c.Duration("settle")
	opts.Output = c.App.Writer
	return opts
}

func run(c *cli.Context) error {
	log, err := logger.New(logger.Config{Level: c.String("log-level"), Output: os.Stderr})
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	opts := options(c)
	opts.Logger = log.Slog()

	e, err := exerciser.New(opts, nil, nil)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("interrupted (seed %d): %w", e.Seed(), err)
		}
		return fmt.Errorf("%w (logs in %s)", err, opts.WorkDir)
	}
	if !c.Bool("keep") {
		return e.Clean()
	}
	return nil
}
