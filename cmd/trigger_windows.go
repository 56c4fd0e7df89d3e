//go:build windows

package cmd

import "context"

// triggerLoop does nothing on Windows, which has no user signals.
func (d *daemon) triggerLoop(ctx context.Context) {
	<-ctx.Done()
}
