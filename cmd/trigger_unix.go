//go:build !windows

package cmd

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/paulschiretz/pgl-worldreset/pkg/event"
	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

// triggerLoop publishes a TriggerReset for every SIGUSR1 until ctx is done.
func (d *daemon) triggerLoop(ctx context.Context) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			plog.Info("Received SIGUSR1, triggering reset")
			d.bus.Publish(event.TriggerReset{Identity: "SIGUSR1", Slot: 1})
		}
	}
}
