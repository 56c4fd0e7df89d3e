// Package countdown runs a cancellable countdown before a destructive action.
package countdown

import (
	"context"
	"time"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultTotal = 9 * time.Second
	DefaultPoll  = 100 * time.Millisecond
)

// Result is the outcome of a countdown.
type Result int

const (
	Completed Result = iota
	Cancelled
)

func (r Result) String() string {
	if r == Cancelled {
		return "cancelled"
	}
	return "completed"
}

// Signal is polled during the countdown. *atomic.Bool implements it.
type Signal interface {
	Load() bool
}

// Options configures a countdown.
type Options struct {
	Total time.Duration
	Poll  time.Duration
	// OnTick is called at the start of every second with the whole seconds left.
	OnTick func(remaining int)
}

// Run counts down from opts.Total, checking sig after every poll slice.
// It returns Cancelled as soon as sig reports true or ctx is done.
func Run(ctx context.Context, sig Signal, opts Options) Result {
	total := opts.Total
	if total <= 0 {
		total = DefaultTotal
	}
	poll := opts.Poll
	if poll <= 0 {
		poll = DefaultPoll
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var elapsed, nextTick time.Duration
	for elapsed < total {
		if elapsed >= nextTick {
			if opts.OnTick != nil {
				opts.OnTick(int((total - elapsed + time.Second - 1) / time.Second))
			}
			nextTick += time.Second
		}

		select {
		case <-ctx.Done():
			return Cancelled
		case <-ticker.C:
		}
		elapsed += poll

		if sig.Load() {
			return Cancelled
		}
	}
	return Completed
}
