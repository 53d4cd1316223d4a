package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/routemesh-go/internal/exerciser"
)

func TestOptionsFromFlags(t *testing.T) {
	app := newApp()
	var got exerciser.Options
	app.Action = func(c *cli.Context) error {
		got = options(c)
		return nil
	}
	args := []string{"routemesh-exercise",
		"--path", "/bin/rm", "--seed", "7", "--servers", "5", "--steps", "20",
		"--route-port", "46000", "--monitor-port", "47000", "--dir", "/tmp/ex", "--settle", "5s"}
	if err := app.Run(args); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := exerciser.DefaultOptions()
	want.ServerPath, want.Seed, want.Servers, want.Steps = "/bin/rm", 7, 5, 20
	want.BaseRoutePort, want.BaseMonitorPort = 46000, 47000
	want.WorkDir, want.SettleTimeout = "/tmp/ex", 5*time.Second
	got.Output = nil
	if got != want {
		t.Errorf("options = %+v, want %+v", got, want)
	}
}

func TestRunRejectsBadOptions(t *testing.T) {
	app := newApp()
	app.Writer, app.ErrWriter = &bytes.Buffer{}, &bytes.Buffer{}
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run([]string{"routemesh-exercise", "--servers", "1", "--dir", t.TempDir()})
	var ec cli.ExitCoder
	if !errors.As(err, &ec) || ec.ExitCode() != 2 {
		t.Fatalf("Run(--servers 1) = %v, want exit code 2", err)
	}
}
