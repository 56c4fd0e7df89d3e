// Package event is a small in-process publish/subscribe bus.
//
// Handlers run on their own goroutine so a slow subscriber never blocks the
// publisher. A panicking handler is recovered and logged.
package event

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

// Kind identifies an event type.
type Kind string

const (
	KindResetDone    Kind = "reset_done"
	KindTriggerReset Kind = "trigger_reset"
)

// Event is anything that can travel on the bus.
type Event interface {
	Kind() Kind
}

// ResetDone is published after the worlds were deleted and the host was asked
// to start again.
type ResetDone struct {
	Identity string
	Slot     int
	CycleID  string
	Time     time.Time
}

func (ResetDone) Kind() Kind { return KindResetDone }

// TriggerReset asks for a reset without the interactive arm and confirm steps.
type TriggerReset struct {
	Identity string
	Slot     int
}

func (TriggerReset) Kind() Kind { return KindTriggerReset }

// Handler receives published events of the kind it subscribed to.
type Handler func(Event)

// Bus dispatches events to subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	wg       sync.WaitGroup
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// Subscribe registers h for events of kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish delivers e to every handler subscribed to its kind and returns
// without waiting for them.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := b.handlers[e.Kind()]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		plog.Debug("No subscribers for event", "kind", e.Kind())
		return
	}
	for _, h := range handlers {
		b.wg.Add(1)
		go b.dispatch(h, e)
	}
}

func (b *Bus) dispatch(h Handler, e Event) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			plog.Error("Event handler panicked", "kind", e.Kind(), "panic", r, "stack", string(debug.Stack()))
		}
	}()
	h(e)
}

// Wait blocks until every handler started so far has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}
