// Package reset implements the arm, confirm and abort workflow that wipes the
// configured worlds after taking a safety backup.
//
// A cycle goes Idle -> Armed -> Running -> Idle. Confirming starts a worker
// that counts down, stops the server, backs the worlds up, deletes them and
// starts the server again. Once the countdown has elapsed the cycle can no
// longer be aborted. Deletion only happens after a complete backup.
package reset

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-worldreset/pkg/archive"
	"github.com/paulschiretz/pgl-worldreset/pkg/buildinfo"
	"github.com/paulschiretz/pgl-worldreset/pkg/countdown"
	"github.com/paulschiretz/pgl-worldreset/pkg/event"
	"github.com/paulschiretz/pgl-worldreset/pkg/guard"
	"github.com/paulschiretz/pgl-worldreset/pkg/host"
	"github.com/paulschiretz/pgl-worldreset/pkg/overwrite"
	"github.com/paulschiretz/pgl-worldreset/pkg/planner"
	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

// GuardLabel names the reset when it holds the guard.
const GuardLabel = "reset"

// Source is whoever issued a request. Every request gets at least one reply.
type Source interface {
	Name() string
	Reply(msg string)
}

// Announcer is implemented by sources whose progress messages should reach
// everyone rather than only the requester.
type Announcer interface {
	Announce(msg string)
}

// announce sends a progress message, broadcasting it when src supports that.
func announce(src Source, msg string) {
	if a, ok := src.(Announcer); ok {
		a.Announce(msg)
		return
	}
	src.Reply(msg)
}

// Worlds copies and deletes world directories. *worldsync.Syncer implements it.
type Worlds interface {
	overwrite.Copier
	RemoveWorlds(root string, worlds []string) error
}

// Publisher receives the completion event.
type Publisher interface {
	Publish(event.Event)
}

// Deps are the collaborators of an Orchestrator. Host, Worlds and Bus are required.
type Deps struct {
	Host   host.Runtime
	Worlds Worlds
	Bus    Publisher

	// Guard is shared with other long running operations. Defaults to a private guard.
	Guard *guard.Guard
	// Backup defaults to overwrite.Make.
	Backup func(ctx context.Context, p overwrite.Plan) (overwrite.Record, error)
	// Archive defaults to archive.Pack.
	Archive func(ctx context.Context, dir string, p *archive.Plan) (string, error)
	// NewCycleID defaults to uuid.NewString.
	NewCycleID func() string
	// Preflight runs after the countdown and before the server is stopped.
	// A failure ends the cycle with nothing changed. Optional.
	Preflight func(ctx context.Context, plan *planner.ResetPlan) error
}

var (
	errAborted      = errors.New("reset aborted")
	errBackupFailed = errors.New("overwrite backup failed")
)

// Orchestrator owns the single reset session of the process.
type Orchestrator struct {
	deps Deps

	mu           sync.Mutex
	state        State
	identity     string
	slot         int
	countingDown bool
	plan         *planner.ResetPlan

	// abort is polled by the countdown without taking mu.
	abort atomic.Bool

	wg sync.WaitGroup
}

// New creates an Orchestrator in the Idle state.
func New(plan *planner.ResetPlan, deps Deps) *Orchestrator {
	if deps.Guard == nil {
		deps.Guard = guard.New()
	}
	if deps.Backup == nil {
		deps.Backup = overwrite.Make
	}
	if deps.Archive == nil {
		deps.Archive = archive.Pack
	}
	if deps.NewCycleID == nil {
		deps.NewCycleID = uuid.NewString
	}
	return &Orchestrator{deps: deps, plan: plan}
}

func contentionMessage(holder string) string {
	if holder == "" {
		holder = GuardLabel
	}
	return fmt.Sprintf("Operation %q is already running, please wait for it to finish", holder)
}

// validSlot resolves slot 0 to the first slot and rejects slots out of range.
func validSlot(slot, slotCount int) (int, bool) {
	if slot == 0 {
		return 1, true
	}
	return slot, slot >= 1 && slot <= slotCount
}

// RequestReset arms the session for src. Re-arming while armed re-issues the hint.
func (o *Orchestrator) RequestReset(src Source, slot int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case Closed:
		src.Reply("World reset is unavailable, shutting down")
		return
	case Running:
		src.Reply(contentionMessage(o.deps.Guard.Holder()))
		return
	}

	slot, ok := validSlot(slot, o.plan.SlotCount)
	if !ok {
		src.Reply(fmt.Sprintf("Invalid slot %d, must be between 1 and %d", slot, o.plan.SlotCount))
		return
	}

	o.state = Armed
	o.identity = src.Name()
	o.slot = slot
	o.abort.Store(false)
	plog.Info("World reset armed", "by", src.Name(), "slot", slot, "worlds", o.plan.Worlds)
	announce(src, fmt.Sprintf("World reset requested for slot %d. Use '%s confirm' to proceed or '%s abort' to cancel",
		slot, buildinfo.CommandPrefix, buildinfo.CommandPrefix))
}

// RequestAbort cancels an armed session or a running countdown.
func (o *Orchestrator) RequestAbort(src Source) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case Armed:
		o.abort.Store(true)
		o.state = Idle
		plog.Info("World reset aborted", "by", src.Name())
		announce(src, "World reset aborted")
	case Running:
		if !o.countingDown {
			src.Reply("World reset is past its countdown and can no longer be aborted")
			return
		}
		o.abort.Store(true)
		plog.Info("World reset abort requested", "by", src.Name())
		announce(src, "Abort requested")
	case Closed:
		src.Reply("World reset is unavailable, shutting down")
	default:
		src.Reply("Nothing to abort")
	}
}

// RequestConfirm starts the armed reset on a worker and returns immediately.
func (o *Orchestrator) RequestConfirm(src Source) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case Armed:
		o.startLocked(src, o.slot)
	case Running:
		plog.Warn("Rejected confirm, reset already running", "by", src.Name())
		src.Reply(contentionMessage(o.deps.Guard.Holder()))
	case Closed:
		src.Reply("World reset is unavailable, shutting down")
	default:
		announce(src, "Nothing to confirm")
	}
}

// Trigger arms and confirms in one step on behalf of src.
func (o *Orchestrator) Trigger(src Source, slot int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case Closed:
		src.Reply("World reset is unavailable, shutting down")
		return
	case Running:
		plog.Warn("Rejected triggered reset, reset already running", "by", src.Name())
		src.Reply(contentionMessage(o.deps.Guard.Holder()))
		return
	}

	slot, ok := validSlot(slot, o.plan.SlotCount)
	if !ok {
		src.Reply(fmt.Sprintf("Invalid slot %d, must be between 1 and %d", slot, o.plan.SlotCount))
		return
	}
	o.abort.Store(false)
	o.startLocked(src, slot)
}

// startLocked moves to Running and launches the worker. o.mu must be held.
func (o *Orchestrator) startLocked(src Source, slot int) {
	o.state = Running
	o.identity = src.Name()
	o.slot = slot
	o.countingDown = true

	plan := o.plan
	o.wg.Add(1)
	go o.work(src, plan, src.Name(), slot)
}

// Reload swaps the plan used by future cycles. The session state, the guard
// and the abort signal are left as they are; a running cycle keeps its plan.
func (o *Orchestrator) Reload(plan *planner.ResetPlan) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.plan = plan
	plog.Info("Reset plan reloaded", "state", o.state, "worlds", plan.Worlds)
}

// Shutdown aborts any countdown in flight and refuses all further requests.
// A cycle already past its countdown runs to completion; use Wait for it.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = Closed
	o.abort.Store(true)
}

// Wait blocks until every worker has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// State returns the current session state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns a snapshot for reporting.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:     o.state,
		Identity:  o.identity,
		Slot:      o.slot,
		Holder:    o.deps.Guard.Holder(),
		Abortable: o.state == Armed || (o.state == Running && o.countingDown),
	}
}

// finish returns the session to Idle unless it was closed meanwhile.
func (o *Orchestrator) finish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.countingDown = false
	if o.state != Closed {
		o.state = Idle
	}
}

func (o *Orchestrator) work(src Source, plan *planner.ResetPlan, identity string, slot int) {
	defer o.wg.Done()
	defer o.finish()
	defer func() {
		if r := recover(); r != nil {
			plog.Error("Reset worker panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	cycleID := o.deps.NewCycleID()
	err := o.deps.Guard.Do(GuardLabel, func() error {
		return o.runCycle(src, plan, identity, slot, cycleID)
	})

	var busy *guard.ErrBusy
	switch {
	case err == nil:
	case errors.As(err, &busy):
		plog.Warn("Reset rejected, guard is held", "holder", busy.Holder, "by", identity)
		src.Reply(contentionMessage(busy.Holder))
	case errors.Is(err, errAborted), errors.Is(err, errBackupFailed):
		// Already reported to src.
	default:
		plog.Error("World reset failed", "cycle", cycleID, "error", err)
		src.Reply("World reset failed: " + err.Error())
	}
}

// endCountdown leaves the abortable phase. An abort that raced the end of the
// countdown still wins.
func (o *Orchestrator) endCountdown() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.countingDown = false
	return o.abort.Load()
}

func (o *Orchestrator) runCycle(src Source, plan *planner.ResetPlan, identity string, slot int, cycleID string) error {
	ctx := context.Background()
	plog.Info("World reset confirmed", "cycle", cycleID, "by", identity, "slot", slot)

	opts := plan.Countdown
	opts.OnTick = func(remaining int) {
		announce(src, fmt.Sprintf("Resetting worlds in %d seconds, use '%s abort' to cancel", remaining, buildinfo.CommandPrefix))
	}
	res := countdown.Run(ctx, &o.abort, opts)
	if aborted := o.endCountdown(); res == countdown.Cancelled || aborted {
		plog.Info("World reset aborted during countdown", "cycle", cycleID)
		announce(src, "World reset aborted")
		return errAborted
	}

	if o.deps.Preflight != nil {
		if err := o.deps.Preflight(ctx, plan); err != nil {
			return fmt.Errorf("preflight check failed: %w", err)
		}
	}

	start := time.Now()
	announce(src, "Stopping server")
	if err := o.deps.Host.Stop(); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	if err := o.deps.Host.WaitStopped(ctx); err != nil {
		return fmt.Errorf("failed waiting for server to stop: %w", err)
	}

	rec, err := o.deps.Backup(ctx, overwrite.Plan{
		ServerRoot: plan.ServerRoot,
		BackupRoot: plan.BackupRoot,
		Folder:     plan.OverwriteFolder,
		Worlds:     plan.Worlds,
		Matcher:    plan.Matcher,
		Identity:   identity,
		Copier:     o.deps.Worlds,
	})
	if err != nil {
		// The server stays stopped so nobody plays on worlds without a backup.
		plog.Error("Overwrite backup failed, worlds were not deleted", "cycle", cycleID, "error", err)
		announce(src, "Backup failed, worlds were not deleted and the server stays stopped")
		return errBackupFailed
	}

	if plan.Archive != nil && plan.Archive.Enabled {
		if path, err := o.deps.Archive(ctx, rec.Dir, plan.Archive); err != nil {
			plog.Warn("Overwrite archive failed, continuing with the directory backup", "cycle", cycleID, "error", err)
		} else {
			plog.Info("Overwrite archive written", "path", path)
		}
	}

	if err := o.deps.Worlds.RemoveWorlds(plan.ServerRoot, plan.Worlds); err != nil {
		return fmt.Errorf("failed to delete worlds: %w", err)
	}

	// The worlds are gone at this point, so a failed start does not hold back ResetDone.
	announce(src, "Starting server")
	startErr := o.deps.Host.Start()
	if startErr != nil {
		plog.Error("Server failed to start after the reset", "cycle", cycleID, "error", startErr)
		src.Reply("Server failed to start: " + startErr.Error())
	}

	plog.Info("World reset done", "cycle", cycleID, "by", identity, "slot", slot, "duration", time.Since(start).Round(time.Millisecond))
	o.deps.Bus.Publish(event.ResetDone{
		Identity: identity,
		Slot:     slot,
		CycleID:  cycleID,
		Time:     time.Now(),
	})
	if startErr != nil {
		announce(src, "World reset done, but the server failed to start")
		return nil
	}
	announce(src, "World reset done")
	return nil
}
