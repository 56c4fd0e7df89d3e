// Package host supervises the game server process whose worlds are reset.
package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

// Runtime is what the reset sequence needs from the host.
type Runtime interface {
	// Stop asks the host to shut down and returns without waiting.
	Stop() error
	// WaitStopped blocks until the host has exited.
	WaitStopped(ctx context.Context) error
	// Start launches the host and returns once it has been spawned.
	Start() error
}

var (
	ErrNotRunning     = errors.New("server is not running")
	ErrAlreadyRunning = errors.New("server is already running")
	ErrNoCommand      = errors.New("no server command configured")
)

// Plan configures the server process.
type Plan struct {
	Command []string
	Dir     string
	Env     []string

	// StopCommand is written to the server console to stop it gracefully.
	// When empty the process group is sent a termination signal instead.
	StopCommand string
	// StopTimeout bounds WaitStopped before the process group is killed.
	// Zero waits forever.
	StopTimeout time.Duration

	// OnLine receives every line the server writes to stdout.
	OnLine func(line string)
}

// Process runs the server as a child process in its own process group.
type Process struct {
	plan Plan

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	done    chan struct{}
	exitErr error
}

// NewProcess creates a Process. Nothing is started until Start is called.
func NewProcess(p Plan) *Process {
	return &Process{plan: p}
}

// Start spawns the server.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.runningLocked() {
		return ErrAlreadyRunning
	}
	if len(p.plan.Command) == 0 {
		return ErrNoCommand
	}

	cmd := exec.Command(p.plan.Command[0], p.plan.Command[1:]...)
	cmd.Dir = p.plan.Dir
	if len(p.plan.Env) > 0 {
		cmd.Env = append(cmd.Environ(), p.plan.Env...)
	}
	cmd.Stderr = os.Stderr
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open server stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open server stdout: %w", err)
	}

	plog.Info("Starting server", "command", p.plan.Command, "dir", p.plan.Dir)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	done := make(chan struct{})
	p.cmd = cmd
	p.stdin = stdin
	p.done = done
	p.exitErr = nil

	go func() {
		p.pump(stdout)
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		if err != nil {
			plog.Warn("Server exited", "pid", cmd.Process.Pid, "error", err)
		} else {
			plog.Info("Server exited", "pid", cmd.Process.Pid)
		}
		close(done)
	}()
	return nil
}

// pump forwards server output line by line until the pipe closes.
func (p *Process) pump(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if p.plan.OnLine != nil {
			p.plan.OnLine(line)
		} else {
			fmt.Fprintln(os.Stdout, line)
		}
	}
}

// Send writes one line to the server console.
func (p *Process) Send(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.runningLocked() {
		return ErrNotRunning
	}
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return fmt.Errorf("failed to write to server console: %w", err)
	}
	return nil
}

// Stop asks the server to exit. Stopping a server that is not running is a no-op.
func (p *Process) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.runningLocked() {
		plog.Info("Server already stopped")
		return nil
	}

	if p.plan.StopCommand != "" {
		plog.Info("Stopping server", "command", p.plan.StopCommand)
		if _, err := io.WriteString(p.stdin, p.plan.StopCommand+"\n"); err != nil {
			return fmt.Errorf("failed to send stop command: %w", err)
		}
		return nil
	}
	plog.Info("Stopping server", "pid", p.cmd.Process.Pid)
	return terminate(p.cmd)
}

// WaitStopped blocks until the server has exited, killing its process group
// once StopTimeout has passed.
func (p *Process) WaitStopped(ctx context.Context) error {
	p.mu.Lock()
	done, cmd := p.done, p.cmd
	p.mu.Unlock()
	if done == nil {
		return nil
	}

	var timeout <-chan time.Time
	if p.plan.StopTimeout > 0 {
		timer := time.NewTimer(p.plan.StopTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		plog.Warn("Server did not stop in time, killing it", "timeout", p.plan.StopTimeout)
		if err := kill(cmd); err != nil {
			return fmt.Errorf("failed to kill server: %w", err)
		}
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the server process is alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runningLocked()
}

func (p *Process) runningLocked() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}
