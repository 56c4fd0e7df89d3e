// Package planner turns a validated configuration into the plans consumed by
// the reset sequence and its collaborators.
package planner

import (
	"path/filepath"
	"slices"
	"time"

	"github.com/paulschiretz/pgl-worldreset/pkg/archive"
	"github.com/paulschiretz/pgl-worldreset/pkg/config"
	"github.com/paulschiretz/pgl-worldreset/pkg/countdown"
	"github.com/paulschiretz/pgl-worldreset/pkg/hook"
	"github.com/paulschiretz/pgl-worldreset/pkg/host"
	"github.com/paulschiretz/pgl-worldreset/pkg/ignore"
)

// ResetPlan is an immutable snapshot of everything one reset cycle needs.
type ResetPlan struct {
	ServerRoot      string
	BackupRoot      string
	OverwriteFolder string
	Worlds          []string
	Matcher         *ignore.Matcher
	SlotCount       int

	Countdown countdown.Options

	Archive        *archive.Plan
	PostResetHooks *hook.Plan
}

// OverwriteDir is where the safety backup of this plan is written.
func (p *ResetPlan) OverwriteDir() string {
	return filepath.Join(p.BackupRoot, p.OverwriteFolder)
}

// GenerateResetPlan builds a ResetPlan from cfg. cfg must have been validated.
func GenerateResetPlan(cfg config.Config) (*ResetPlan, error) {
	format, err := archive.ParseFormat(cfg.Archive.Format)
	if err != nil {
		return nil, err
	}
	level, err := archive.ParseLevel(cfg.Archive.Level)
	if err != nil {
		return nil, err
	}

	return &ResetPlan{
		ServerRoot:      cfg.ServerPath,
		BackupRoot:      cfg.BackupPath,
		OverwriteFolder: cfg.OverwriteBackupFolder,
		Worlds:          slices.Clone(cfg.WorldNames),
		Matcher:         ignore.New(cfg.IgnoredFiles),
		SlotCount:       cfg.SlotCount,
		Countdown: countdown.Options{
			Total: time.Duration(cfg.Countdown.Seconds) * time.Second,
			Poll:  time.Duration(cfg.Countdown.PollMillis) * time.Millisecond,
		},
		Archive: &archive.Plan{
			Enabled:      cfg.Archive.Enabled,
			Format:       format,
			Level:        level,
			BufferSizeKB: cfg.Engine.BufferSizeKB,
		},
		PostResetHooks: &hook.Plan{
			Enabled:           len(cfg.Hooks.PostReset) > 0,
			PostResetCommands: slices.Clone(cfg.Hooks.PostReset),
			FailFast:          cfg.Hooks.FailFast,
		},
	}, nil
}

// GenerateHostPlan builds the server process plan from cfg.
// The server runs with the server path as its working directory.
func GenerateHostPlan(cfg config.Config, onLine func(string)) host.Plan {
	return host.Plan{
		Command:     slices.Clone(cfg.Server.Command),
		Dir:         cfg.ServerPath,
		StopCommand: cfg.Server.StopCommand,
		StopTimeout: time.Duration(cfg.Server.StopTimeoutSeconds) * time.Second,
		OnLine:      onLine,
	}
}
