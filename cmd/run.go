package cmd

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

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-worldreset/pkg/buildinfo"
	"github.com/paulschiretz/pgl-worldreset/pkg/command"
	"github.com/paulschiretz/pgl-worldreset/pkg/config"
	"github.com/paulschiretz/pgl-worldreset/pkg/event"
	"github.com/paulschiretz/pgl-worldreset/pkg/hook"
	"github.com/paulschiretz/pgl-worldreset/pkg/host"
	"github.com/paulschiretz/pgl-worldreset/pkg/lockfile"
	"github.com/paulschiretz/pgl-worldreset/pkg/planner"
	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
	"github.com/paulschiretz/pgl-worldreset/pkg/preflight"
	"github.com/paulschiretz/pgl-worldreset/pkg/reset"
	"github.com/paulschiretz/pgl-worldreset/pkg/worldsync"
)

// shutdownTimeout bounds how long the server gets to stop when the daemon exits.
var shutdownTimeout = 2 * time.Minute

// Server is the managed game server as the daemon uses it.
type Server interface {
	host.Runtime
	Send(line string) error
	Running() bool
}

// daemon ties the console, the game server and the reset session together.
type daemon struct {
	configPath string
	flagMap    map[string]any
	out        io.Writer

	server     Server
	console    *command.ConsoleSource
	bus        *event.Bus
	orch       *reset.Orchestrator
	dispatcher *command.Dispatcher
	hooks      *hook.Executor

	mu   sync.RWMutex
	cfg  config.Config
	plan *planner.ResetPlan
}

// RunDaemon handles the logic for the 'run' command.
func RunDaemon(ctx context.Context, flagMap map[string]any) error {
	cfg, err := loadRunConfig(flagMap)
	if err != nil {
		return err
	}
	d, err := newDaemon(cfg, flagMap, os.Stdout, nil)
	if err != nil {
		return err
	}
	return d.run(ctx, os.Stdin)
}

// loadRunConfig loads the configuration file and applies the flags over it.
func loadRunConfig(flagMap map[string]any) (config.Config, error) {
	path, _ := flagMap["config"].(string)
	if path == "" {
		path = config.ConfigFileName
	}
	loaded, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := config.MergeConfigWithFlags(loaded, flagMap)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newDaemon wires the components. server may be nil, in which case the
// configured server command is managed as a child process.
func newDaemon(cfg config.Config, flagMap map[string]any, out io.Writer, server Server) (*daemon, error) {
	plan, err := planner.GenerateResetPlan(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to plan reset: %w", err)
	}

	path, _ := flagMap["config"].(string)
	if path == "" {
		path = config.ConfigFileName
	}

	d := &daemon{
		configPath: path,
		flagMap:    flagMap,
		out:        out,
		console:    command.NewConsoleSource(out),
		bus:        event.NewBus(),
		hooks:      hook.NewExecutor(exec.CommandContext),
		cfg:        cfg,
		plan:       plan,
	}
	if server == nil {
		server = host.NewProcess(planner.GenerateHostPlan(cfg, d.onServerLine))
	}
	d.server = server

	d.orch = reset.New(plan, reset.Deps{
		Host:      server,
		Worlds:    worldsync.NewSyncer(cfg.Engine.BufferSizeKB * 1024),
		Bus:       d.bus,
		Preflight: runPreflight,
	})
	d.dispatcher = command.NewDispatcher(d.orch, policyFor(cfg), d.reload)

	d.bus.Subscribe(event.KindTriggerReset, d.onTriggerReset)
	d.bus.Subscribe(event.KindResetDone, d.onResetDone)
	return d, nil
}

func policyFor(cfg config.Config) command.Policy {
	return command.Policy{
		MinimumPermissionLevel: cfg.MinimumPermissionLevel,
		SlotCount:              cfg.SlotCount,
	}
}

func runPreflight(ctx context.Context, plan *planner.ResetPlan) error {
	return preflight.NewValidator().Run(ctx, plan, preflight.Full())
}

func (d *daemon) config() config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *daemon) currentPlan() *planner.ResetPlan {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.plan
}

func (d *daemon) run(ctx context.Context, stdin io.Reader) error {
	cfg := d.config()
	plog.SetLevel(plog.LevelFromString(cfg.LogLevel))
	cfg.LogSummary()

	// Creates the backup path as a side effect of the writability probe.
	if err := runPreflight(ctx, d.currentPlan()); err != nil {
		return fmt.Errorf("preflight check failed: %w", err)
	}
	lock, err := lockfile.Acquire(ctx, cfg.BackupPath, "pgl-worldreset:"+cfg.ServerPath)
	if err != nil {
		return fmt.Errorf("failed to acquire lock on backup path: %w", err)
	}
	defer lock.Release()

	if cfg.Server.AutoStart {
		if err := d.server.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	plog.Info(buildinfo.Name+" ready", "version", buildinfo.Version, "help", buildinfo.CommandPrefix)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.consoleLoop(gctx, readLines(stdin))
		return nil
	})
	g.Go(func() error {
		return config.Watch(gctx, d.configPath, d.applyWatched)
	})
	g.Go(func() error {
		d.triggerLoop(gctx)
		return nil
	})

	err = g.Wait()
	d.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readLines feeds the lines of r into a channel that is closed at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			plog.Warn("Console input closed", "error", err)
		}
	}()
	return lines
}

// consoleLoop handles operator input. Lines that are not reset commands are
// forwarded to the server console.
func (d *daemon) consoleLoop(ctx context.Context, lines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				plog.Debug("Console input reached EOF")
				return
			}
			if line == "" || d.dispatcher.Dispatch(d.console, line) {
				continue
			}
			if err := d.server.Send(line); err != nil {
				d.console.Reply("Server is not running, line dropped")
			}
		}
	}
}

// onServerLine echoes server output and handles chat commands from players.
func (d *daemon) onServerLine(line string) {
	d.console.Echo(line)

	player, msg, ok := command.ParseChat(line)
	if !ok {
		return
	}
	cfg := d.config()
	src := command.NewPlayerSource(player, cfg.PermissionLevel(player), d.server)
	d.dispatcher.Dispatch(src, msg)
}

// triggerSource replies to triggered resets on the console.
type triggerSource struct {
	name    string
	console *command.ConsoleSource
}

func (s triggerSource) Name() string     { return s.name }
func (s triggerSource) Reply(msg string) { s.console.Reply(msg) }

func (d *daemon) onTriggerReset(e event.Event) {
	t := e.(event.TriggerReset)
	name := t.Identity
	if name == "" {
		name = "Trigger"
	}
	plog.Info("Reset triggered", "by", name, "slot", t.Slot)
	d.orch.Trigger(triggerSource{name: name, console: d.console}, t.Slot)
}

func (d *daemon) onResetDone(e event.Event) {
	done := e.(event.ResetDone)
	plan := d.currentPlan()
	err := d.hooks.RunPostReset(context.Background(), plan.PostResetHooks, hook.Env{
		Identity: done.Identity,
		Slot:     done.Slot,
		CycleID:  done.CycleID,
	})
	switch {
	case err == nil, errors.Is(err, hook.ErrDisabled), errors.Is(err, hook.ErrNothingToExecute):
	default:
		plog.Warn("Post-reset hooks failed", "cycle", done.CycleID, "error", err)
	}
}

// reload re-reads the configuration file on request.
func (d *daemon) reload() error {
	cfg, err := loadRunConfig(d.flagMap)
	if err != nil {
		return err
	}
	return d.apply(cfg)
}

// applyWatched applies a configuration reloaded after a file change.
func (d *daemon) applyWatched(loaded config.Config) {
	cfg := config.MergeConfigWithFlags(loaded, d.flagMap)
	if err := cfg.Validate(); err != nil {
		plog.Warn("Ignoring changed configuration", "error", err)
		return
	}
	if err := d.apply(cfg); err != nil {
		plog.Warn("Ignoring changed configuration", "error", err)
		return
	}
	d.console.Reply("Configuration reloaded")
}

// apply swaps in cfg. The reset session and any running cycle are kept.
func (d *daemon) apply(cfg config.Config) error {
	plan, err := planner.GenerateResetPlan(cfg)
	if err != nil {
		return err
	}

	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	d.plan = plan
	d.mu.Unlock()

	plog.SetLevel(plog.LevelFromString(cfg.LogLevel))
	d.orch.Reload(plan)
	d.dispatcher.SetPolicy(policyFor(cfg))

	if fmt.Sprint(old.Server) != fmt.Sprint(cfg.Server) || old.ServerPath != cfg.ServerPath {
		plog.Notice("Server settings changed, restart the daemon to apply them")
	}
	if old.Engine.BufferSizeKB != cfg.Engine.BufferSizeKB {
		plog.Notice("Buffer size changed, restart the daemon to apply it")
	}
	return nil
}

// shutdown cancels any pending reset, waits for a running one and stops the server.
func (d *daemon) shutdown() {
	plog.Info("Shutting down")
	d.orch.Shutdown()
	d.orch.Wait()

	if d.server.Running() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.server.Stop(); err != nil {
			plog.Warn("Failed to stop server", "error", err)
		} else if err := d.server.WaitStopped(ctx); err != nil {
			plog.Warn("Server did not stop", "error", err)
		}
	}
	d.bus.Wait()
}
