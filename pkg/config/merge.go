package config

import (
	"maps"
	"slices"

	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

// MergeConfigWithFlags returns base with the explicitly set command-line flags applied.
func MergeConfigWithFlags(base Config, setFlags map[string]any) Config {
	merged := base
	merged.WorldNames = slices.Clone(base.WorldNames)
	merged.IgnoredFiles = slices.Clone(base.IgnoredFiles)
	merged.MinimumPermissionLevel = maps.Clone(base.MinimumPermissionLevel)
	merged.Permissions = maps.Clone(base.Permissions)

	for name, value := range setFlags {
		switch name {
		case "log-level":
			merged.LogLevel = value.(string)
		case "server":
			merged.ServerPath = value.(string)
		case "backup":
			merged.BackupPath = value.(string)
		case "worlds":
			merged.WorldNames = value.([]string)
		case "ignored-files":
			merged.IgnoredFiles = value.([]string)
		case "server-command":
			merged.Server.Command = value.([]string)
		case "autostart":
			merged.Server.AutoStart = value.(bool)
		case "countdown-seconds":
			merged.Countdown.Seconds = value.(int)
		case "post-reset-hooks":
			merged.Hooks.PostReset = value.([]string)
		case "archive":
			merged.Archive.Enabled = value.(bool)
		case "archive-format":
			merged.Archive.Format = value.(string)
		case "buffer-size-kb":
			merged.Engine.BufferSizeKB = value.(int)
		case "config", "force", "default":
			// Consumed by the commands themselves.
		default:
			plog.Debug("No config mapping for flag", "flag", name)
		}
	}
	return merged
}

// PermissionLevel returns the level of player, falling back to DefaultPermissionLevel.
func (c *Config) PermissionLevel(player string) int {
	if level, ok := c.Permissions[player]; ok {
		return level
	}
	return c.DefaultPermissionLevel
}
