// Package hook runs the operator's shell commands after a reset completed.
package hook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

var ErrNothingToExecute = errors.New("nothing to execute")
var ErrDisabled = errors.New("hook execution is disabled")

// Plan lists the commands to run after a reset.
type Plan struct {
	Enabled bool

	PostResetCommands []string

	// FailFast stops at the first failing command.
	FailFast bool
}

// Env describes the finished reset to the hook commands. It is exported to
// each command as QWR_IDENTITY, QWR_SLOT and QWR_CYCLE_ID.
type Env struct {
	Identity string
	Slot     int
	CycleID  string
}

func (e Env) vars() []string {
	return []string{
		"QWR_IDENTITY=" + e.Identity,
		"QWR_SLOT=" + strconv.Itoa(e.Slot),
		"QWR_CYCLE_ID=" + e.CycleID,
	}
}

type Executor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewExecutor creates an Executor. Pass exec.CommandContext outside of tests.
func NewExecutor(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Executor {
	return &Executor{commandContext: commandContext}
}

// RunPostReset runs p's commands one after another.
// A failing command is logged and the next one runs, unless p.FailFast is set.
func (e *Executor) RunPostReset(ctx context.Context, p *Plan, env Env) error {
	if p == nil || !p.Enabled {
		return ErrDisabled
	}
	if len(p.PostResetCommands) == 0 {
		return ErrNothingToExecute
	}

	plog.Info("Running post-reset hook commands", "count", len(p.PostResetCommands), "cycle", env.CycleID)

	for _, hookCommand := range p.PostResetCommands {
		if err := ctx.Err(); err != nil {
			return err
		}

		plog.Info("Executing command", "command", hookCommand)
		cmd := e.createCommand(ctx, hookCommand)
		cmd.Env = append(cmd.Environ(), env.vars()...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			// A cancelled context kills the command; report the cancellation instead.
			if errors.Is(ctx.Err(), context.Canceled) {
				return context.Canceled
			}
			if p.FailFast {
				return fmt.Errorf("command '%s' failed: %w", hookCommand, err)
			}
			plog.Warn("Hook command failed", "command", hookCommand, "error", err)
		}
	}
	return nil
}
