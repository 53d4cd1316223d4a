package exerciser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/yndnr/routemesh-go/internal/cli/output"
)

// Options configures an exercise run.
type Options struct {
	// ServerPath is the routemesh-server binary.
	ServerPath string
	// Seed drives the fault sequence. Zero picks a random seed.
	Seed uint64
	// Servers is the cluster size.
	Servers int
	// Steps is the number of fault steps.
	Steps int

	// Node i routes on BaseRoutePort+i and serves its monitor on
	// BaseMonitorPort+i.
	BaseRoutePort   int
	BaseMonitorPort int
	Cluster         string
	WorkDir         string
	LogLevel        string
	PingInterval    time.Duration

	// StartupDelay is waited after launching the cluster.
	StartupDelay time.Duration
	// SettleTimeout bounds the final convergence wait.
	SettleTimeout time.Duration
	// ProbeTimeout bounds a single /routez request.
	ProbeTimeout time.Duration

	// Output receives progress and the summary. Nil discards it.
	Output io.Writer
	Logger *slog.Logger
}

// DefaultOptions returns the options of a standard run.
func DefaultOptions() Options {
	return Options{
		ServerPath:      "routemesh-server",
		Servers:         3,
		Steps:           10000,
		BaseRoutePort:   44000,
		BaseMonitorPort: 45000,
		Cluster:         "exercise",
		WorkDir:         "exercise_data",
		LogLevel:        "debug",
		PingInterval:    2 * time.Second,
		StartupDelay:    time.Second,
		SettleTimeout:   30 * time.Second,
		ProbeTimeout:    time.Second,
	}
}

// Action is what a step does.
type Action int

const (
	ActionObserve Action = iota
	ActionRestart
	ActionPause
	ActionResume
)

func (a Action) String() string {
	switch a {
	case ActionRestart:
		return "restart"
	case ActionPause:
		return "pause"
	case ActionResume:
		return "resume"
	default:
		return "observe"
	}
}

// chooseAction maps a draw in [0,50) to an action: 1 in 50 restarts, 4 in
// 50 pause, 5 in 50 resume.
func chooseAction(draw int) Action {
	switch {
	case draw == 0:
		return ActionRestart
	case draw <= 4:
		return ActionPause
	case draw <= 9:
		return ActionResume
	default:
		return ActionObserve
	}
}

// Stats counts what a run did.
type Stats struct {
	Restarts    int
	Pauses      int
	Resumes     int
	Observes    int
	Validations int
	// Unreachable counts running nodes whose monitor did not answer,
	// typically right after a restart.
	Unreachable int
}

// Exerciser runs the fault loop against a cluster.
type Exerciser struct {
	opts     Options
	rng      *rand.Rand
	nodes    []*Node
	launcher Launcher
	prober   Prober
	logger   *slog.Logger
	stats    Stats
}

// New creates an exerciser. A nil launcher runs opts.ServerPath; a nil
// prober queries the monitor endpoints.
func New(opts Options, launcher Launcher, prober Prober) (*Exerciser, error) {
	def := DefaultOptions()
	if opts.Servers < 2 {
		return nil, fmt.Errorf("exerciser: need at least 2 servers, got %d", opts.Servers)
	}
	if opts.Steps < 0 {
		return nil, fmt.Errorf("exerciser: negative step count %d", opts.Steps)
	}
	if opts.BaseRoutePort <= 0 {
		opts.BaseRoutePort = def.BaseRoutePort
	}
	if opts.BaseMonitorPort <= 0 {
		opts.BaseMonitorPort = def.BaseMonitorPort
	}
	if opts.Cluster == "" {
		opts.Cluster = def.Cluster
	}
	if opts.WorkDir == "" {
		opts.WorkDir = def.WorkDir
	}
	if opts.LogLevel == "" {
		opts.LogLevel = def.LogLevel
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = def.SettleTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = def.ProbeTimeout
	}
	if opts.Seed == 0 {
		opts.Seed = rand.Uint64()
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if launcher == nil {
		launcher = &ExecLauncher{Path: opts.ServerPath}
	}
	if prober == nil {
		prober = HTTPProber{Options: opts}
	}

	nodes := make([]*Node, opts.Servers)
	for i := range nodes {
		nodes[i] = newNode(opts, i)
	}
	return &Exerciser{
		opts:     opts,
		rng:      rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		nodes:    nodes,
		launcher: launcher,
		prober:   prober,
		logger:   opts.Logger.With("component", "exerciser"),
	}, nil
}

// Seed returns the seed driving the run.
func (e *Exerciser) Seed() uint64 { return e.opts.Seed }

// Nodes returns the cluster members.
func (e *Exerciser) Nodes() []*Node { return e.nodes }

// Stats returns the counters so far.
func (e *Exerciser) Stats() Stats { return e.stats }

// Run starts the cluster, takes opts.Steps steps, waits for a full mesh
// and stops every node.
func (e *Exerciser) Run(ctx context.Context) (err error) {
	fmt.Fprintf(e.opts.Output, "Starting cluster exerciser with seed %d\n", e.opts.Seed)
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if stopErr := e.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	if !sleepCtx(ctx, e.opts.StartupDelay) {
		return ctx.Err()
	}

	progress := output.NewProgress(e.opts.Output, "exercise", e.opts.Steps)
	for i := 0; i < e.opts.Steps; i++ {
		action, idx, err := e.Step(ctx)
		if err != nil {
			fmt.Fprintln(e.opts.Output)
			return fmt.Errorf("step %d (%s node %d, seed %d): %w", i+1, action, idx, e.opts.Seed, err)
		}
		progress.Step(fmt.Sprintf("%s %d", action, idx))
	}
	progress.Finish()

	if err := e.Converge(ctx); err != nil {
		return fmt.Errorf("seed %d: %w", e.opts.Seed, err)
	}
	s := e.stats
	fmt.Fprintf(e.opts.Output, "full mesh of %d nodes; %d restarts, %d pauses, %d resumes, %d validations (%d unreachable)\n",
		len(e.nodes), s.Restarts, s.Pauses, s.Resumes, s.Validations, s.Unreachable)
	return nil
}

// Start writes every node's config and launches it.
func (e *Exerciser) Start(ctx context.Context) error {
	for i := range e.nodes {
		if err := e.launch(ctx, i); err != nil {
			_ = e.Stop()
			return err
		}
	}
	return nil
}

func (e *Exerciser) launch(ctx context.Context, idx int) error {
	if err := prepare(e.opts, e.nodes, idx); err != nil {
		return err
	}
	n := e.nodes[idx]
	proc, err := e.launcher.Launch(ctx, n)
	if err != nil {
		return fmt.Errorf("launch %s: %w", n.Name, err)
	}
	n.proc = proc
	n.paused = false
	e.logger.Debug("node launched", "node", n.Name, "route", n.RouteAddr, "monitor", n.MonitorAddr)
	return nil
}

// Step takes one random action and validates the running nodes. It
// returns the action and the affected node index (-1 when none).
func (e *Exerciser) Step(ctx context.Context) (Action, int, error) {
	action := chooseAction(e.rng.IntN(50))
	idx := -1
	var err error
	switch action {
	case ActionRestart:
		idx, err = e.restart(ctx)
	case ActionPause:
		idx, err = e.pause()
	case ActionResume:
		idx, err = e.resume()
	default:
		e.stats.Observes++
	}
	if err != nil {
		return action, idx, err
	}
	return action, idx, e.Validate(ctx)
}

func (e *Exerciser) restart(ctx context.Context) (int, error) {
	idx := e.rng.IntN(len(e.nodes))
	n := e.nodes[idx]
	e.logger.Info("restarting node", "node", n.Name)
	if n.proc != nil {
		if err := n.proc.Stop(); err != nil {
			return idx, fmt.Errorf("stop %s: %w", n.Name, err)
		}
		n.proc = nil
	}
	e.stats.Restarts++
	return idx, e.launch(ctx, idx)
}

func (e *Exerciser) pause() (int, error) {
	var candidates []int
	for _, n := range e.nodes {
		if n.Running() {
			candidates = append(candidates, n.Index)
		}
	}
	if len(candidates) == 0 {
		return -1, nil
	}
	idx := candidates[e.rng.IntN(len(candidates))]
	n := e.nodes[idx]
	e.logger.Info("pausing node", "node", n.Name)
	if err := n.proc.Pause(); err != nil {
		return idx, fmt.Errorf("pause %s: %w", n.Name, err)
	}
	n.paused = true
	e.stats.Pauses++
	return idx, nil
}

func (e *Exerciser) resume() (int, error) {
	var candidates []int
	for _, n := range e.nodes {
		if n.paused {
			candidates = append(candidates, n.Index)
		}
	}
	if len(candidates) == 0 {
		return -1, nil
	}
	idx := candidates[e.rng.IntN(len(candidates))]
	n := e.nodes[idx]
	e.logger.Info("resuming node", "node", n.Name)
	if err := n.proc.Resume(); err != nil {
		return idx, fmt.Errorf("resume %s: %w", n.Name, err)
	}
	n.paused = false
	e.stats.Resumes++
	return idx, nil
}

// Validate checks the route table of every running node. Nodes whose
// monitor does not answer are counted and skipped.
func (e *Exerciser) Validate(ctx context.Context) error {
	for _, n := range e.nodes {
		if !n.Running() {
			continue
		}
		rz, err := e.prober.Routez(ctx, n)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.stats.Unreachable++
			e.logger.Debug("node unreachable", "node", n.Name, "error", err)
			continue
		}
		e.stats.Validations++
		if err := ValidateRoutes(n, rz); err != nil {
			return err
		}
	}
	return nil
}

// Converge resumes paused nodes and waits until every node has an
// established route to every other node.
func (e *Exerciser) Converge(ctx context.Context) error {
	for _, n := range e.nodes {
		if n.paused {
			if err := n.proc.Resume(); err != nil {
				return fmt.Errorf("resume %s: %w", n.Name, err)
			}
			n.paused = false
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.SettleTimeout)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		missing := meshError{}
		var invalid error
		for _, n := range e.nodes {
			rz, err := e.prober.Routez(ctx, n)
			if err != nil {
				missing[n.Name] = []string{"(unreachable)"}
				continue
			}
			if err := ValidateRoutes(n, rz); err != nil {
				invalid = err
				break
			}
			if m := MissingPeers(n, e.nodes, rz); len(m) > 0 {
				missing[n.Name] = m
			}
		}
		if invalid != nil {
			return invalid
		}
		if len(missing) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return missing
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop kills every node. The work directory is kept for inspection.
func (e *Exerciser) Stop() error {
	var errs []error
	for _, n := range e.nodes {
		if n.proc == nil {
			continue
		}
		if err := n.proc.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", n.Name, err))
		}
		n.proc = nil
		n.paused = false
	}
	return errors.Join(errs...)
}

// Clean removes the work directory.
func (e *Exerciser) Clean() error {
	return os.RemoveAll(e.opts.WorkDir)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
