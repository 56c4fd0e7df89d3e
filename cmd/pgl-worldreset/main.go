package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-worldreset/cmd"
	"github.com/paulschiretz/pgl-worldreset/pkg/buildinfo"
	"github.com/paulschiretz/pgl-worldreset/pkg/flagparse"
	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

// run encapsulates the main application logic and returns an error if something
// goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context, args []string) error {
	command, flagMap, err := flagparse.Parse(args)
	if err != nil {
		return err
	}

	if level, ok := flagMap["log-level"].(string); ok {
		plog.SetLevel(plog.LevelFromString(level))
	}

	switch command {
	case flagparse.None:
		return nil
	case flagparse.Version:
		return cmd.RunVersion(buildinfo.Name, buildinfo.Version)
	case flagparse.Init:
		return cmd.RunInit(ctx, flagMap)
	case flagparse.Info:
		return cmd.RunInfo(ctx, flagMap)
	case flagparse.Run:
		plog.Info("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid())
		return cmd.RunDaemon(ctx, flagMap)
	default:
		return fmt.Errorf("internal error: unknown command %v", command)
	}
}

func main() {
	// The daemon shuts the game server down cleanly on Ctrl+C or a service stop.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}
