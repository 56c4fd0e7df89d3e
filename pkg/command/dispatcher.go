package command

import (
	"errors"
	"fmt"
	"sync"

	"github.com/paulschiretz/pgl-worldreset/pkg/buildinfo"
	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
	"github.com/paulschiretz/pgl-worldreset/pkg/reset"
)

// Session is the part of the reset orchestrator the commands drive.
type Session interface {
	RequestReset(src reset.Source, slot int)
	RequestConfirm(src reset.Source)
	RequestAbort(src reset.Source)
	Status() reset.Status
}

// Policy is the reloadable part of the command configuration.
type Policy struct {
	// MinimumPermissionLevel maps a subcommand name to the lowest level allowed
	// to run it. Missing entries require level 0.
	MinimumPermissionLevel map[string]int
	SlotCount              int
}

// Dispatcher routes parsed commands to the session.
type Dispatcher struct {
	session Session
	reload  func() error

	mu     sync.RWMutex
	policy Policy
}

// NewDispatcher creates a Dispatcher. reload is invoked by the reload subcommand.
func NewDispatcher(session Session, policy Policy, reload func() error) *Dispatcher {
	return &Dispatcher{session: session, policy: policy, reload: reload}
}

// SetPolicy replaces the permission levels and slot count.
func (d *Dispatcher) SetPolicy(p Policy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.policy = p
}

func (d *Dispatcher) currentPolicy() Policy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.policy
}

// Dispatch handles line for src. It returns false if line is not a reset command.
func (d *Dispatcher) Dispatch(src Source, line string) bool {
	req, err := Parse(line)
	if errors.Is(err, ErrNotCommand) {
		return false
	}
	if err != nil {
		plog.Debug("Rejected command", "source", src.Name(), "line", line, "error", err)
		src.Reply(fmt.Sprintf("Unknown or incomplete command, type '%s' for help", buildinfo.CommandPrefix))
		return true
	}

	policy := d.currentPolicy()
	if req.Sub != Help && src.Level() < policy.MinimumPermissionLevel[req.Sub.String()] {
		plog.Info("Permission denied", "source", src.Name(), "subcommand", req.Sub, "level", src.Level())
		src.Reply("Permission denied")
		return true
	}

	switch req.Sub {
	case Help:
		for _, l := range Usage() {
			src.Reply(l)
		}
	case Run:
		if err := ValidateSlot(req.Slot, policy.SlotCount); err != nil {
			src.Reply(fmt.Sprintf("Wrong slot, must be between 1 and %d", policy.SlotCount))
			return true
		}
		d.session.RequestReset(src, req.Slot)
	case Confirm:
		d.session.RequestConfirm(src)
	case Abort:
		d.session.RequestAbort(src)
	case Reload:
		if err := d.reload(); err != nil {
			plog.Warn("Configuration reload failed", "source", src.Name(), "error", err)
			src.Reply("Failed to reload the configuration: " + err.Error())
			return true
		}
		src.Reply("Configuration reloaded")
	case Status:
		src.Reply(formatStatus(d.session.Status()))
	}
	return true
}

func formatStatus(st reset.Status) string {
	switch st.State {
	case reset.Armed:
		return fmt.Sprintf("Reset of slot %d requested by %s, waiting for confirmation", st.Slot, st.Identity)
	case reset.Running:
		if st.Abortable {
			return fmt.Sprintf("Reset of slot %d confirmed by %s is counting down", st.Slot, st.Identity)
		}
		return fmt.Sprintf("Reset of slot %d confirmed by %s is in progress", st.Slot, st.Identity)
	case reset.Closed:
		return "World reset is shutting down"
	}
	if st.Holder != "" {
		return fmt.Sprintf("No reset pending, operation %q is running", st.Holder)
	}
	return "No reset pending"
}
