// Package guard provides a non-blocking single-flight lock for long running
// operations. A second caller is rejected immediately instead of queueing.
package guard

import (
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

// ErrBusy is returned by Do when another operation holds the guard.
type ErrBusy struct {
	Holder string
}

func (e *ErrBusy) Error() string {
	return fmt.Sprintf("operation %q is already running", e.Holder)
}

// PanicError wraps a panic recovered inside Do.
type PanicError struct {
	Label string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation %q panicked: %v", e.Label, e.Value)
}

// Guard admits at most one holder at a time.
type Guard struct {
	sem *semaphore.Weighted

	mu     sync.Mutex
	holder string
}

// New creates an unheld Guard.
func New() *Guard {
	return &Guard{sem: semaphore.NewWeighted(1)}
}

// TryAcquire takes the guard for label without blocking.
func (g *Guard) TryAcquire(label string) bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.mu.Lock()
	g.holder = label
	g.mu.Unlock()
	return true
}

// Release frees the guard. It must only be called by the current holder.
func (g *Guard) Release() {
	g.mu.Lock()
	g.holder = ""
	g.mu.Unlock()
	g.sem.Release(1)
}

// Holder returns the label of the current holder, or "" when the guard is free.
func (g *Guard) Holder() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}

// Do runs fn while holding the guard under label.
// It returns *ErrBusy without running fn if the guard is taken. The guard is
// released on every exit path; a panic in fn is recovered and returned as
// *PanicError.
func (g *Guard) Do(label string, fn func() error) (err error) {
	if !g.TryAcquire(label) {
		return &ErrBusy{Holder: g.Holder()}
	}
	defer g.Release()
	defer func() {
		if r := recover(); r != nil {
			plog.Error("Recovered from panic", "operation", label, "panic", r, "stack", string(debug.Stack()))
			err = &PanicError{Label: label, Value: r}
		}
	}()
	return fn()
}
