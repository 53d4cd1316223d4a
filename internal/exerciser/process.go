package exerciser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrSignalsUnsupported is returned by Pause and Resume on platforms
// without SIGSTOP and SIGCONT.
var ErrSignalsUnsupported = errors.New("exerciser: pause/resume signals not supported on this platform")

// Process is a running server.
type Process interface {
	Pause() error
	Resume() error
	// Stop kills the process and waits for it to exit.
	Stop() error
}

// Launcher starts server processes.
type Launcher interface {
	Launch(ctx context.Context, n *Node) (Process, error)
}

// ExecLauncher runs the routemesh-server binary at Path. Output goes to
// stdout.log in the node directory.
type ExecLauncher struct {
	Path string
}

// Launch implements Launcher.
func (l *ExecLauncher) Launch(_ context.Context, n *Node) (Process, error) {
	out, err := os.OpenFile(filepath.Join(n.Dir, "stdout.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	// Stop kills the node; a paused process only reacts to SIGKILL.
	cmd := exec.Command(l.Path, "--config", n.ConfigPath)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		out.Close()
		return nil, fmt.Errorf("start %s: %w", l.Path, err)
	}
	return &execProcess{cmd: cmd, out: out}, nil
}

type execProcess struct {
	cmd *exec.Cmd
	out *os.File
}

func (p *execProcess) Pause() error {
	if pauseSignal == nil {
		return ErrSignalsUnsupported
	}
	return p.cmd.Process.Signal(pauseSignal)
}

func (p *execProcess) Resume() error {
	if resumeSignal == nil {
		return ErrSignalsUnsupported
	}
	return p.cmd.Process.Signal(resumeSignal)
}

func (p *execProcess) Stop() error {
	defer p.out.Close()
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	// A killed process reports a non-nil exit status.
	_ = p.cmd.Wait()
	return nil
}
