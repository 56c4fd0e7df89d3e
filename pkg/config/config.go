package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/paulschiretz/pgl-worldreset/pkg/archive"
	"github.com/paulschiretz/pgl-worldreset/pkg/buildinfo"
	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
	"github.com/paulschiretz/pgl-worldreset/pkg/util"
)

// ConfigFileName is the default name of the configuration file.
const ConfigFileName = "pgl-worldreset.config.json"

// Permission levels, from guest to owner.
const (
	LevelGuest = iota
	LevelUser
	LevelHelper
	LevelAdmin
	LevelOwner
)

type ServerConfig struct {
	// Command starts the game server. It runs in the server path.
	// SECURITY: executed as provided. Ensure it comes from a trusted source.
	Command []string `json:"command" toml:"command"`
	// StopCommand is typed into the server console to stop it. Empty sends a signal.
	StopCommand        string `json:"stopCommand" toml:"stopCommand"`
	StopTimeoutSeconds int    `json:"stopTimeoutSeconds" toml:"stopTimeoutSeconds"`
	// AutoStart launches the server together with the daemon.
	AutoStart bool `json:"autoStart" toml:"autoStart"`
}

type CountdownConfig struct {
	Seconds    int `json:"seconds" toml:"seconds"`
	PollMillis int `json:"pollMillis" toml:"pollMillis"`
}

type ArchiveConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled"`
	Format  string `json:"format" toml:"format"`
	Level   string `json:"level" toml:"level"`
}

type HooksConfig struct {
	// PostReset commands run after the server was started again.
	// SECURITY: executed as provided. Ensure they come from a trusted source.
	PostReset []string `json:"postReset" toml:"postReset"`
	FailFast  bool     `json:"failFast" toml:"failFast"`
}

type EngineConfig struct {
	BufferSizeKB int `json:"bufferSizeKB" toml:"bufferSizeKB"`
}

type Config struct {
	Version  string `json:"version" toml:"version"`
	LogLevel string `json:"logLevel" toml:"logLevel" env:"QWR_LOG_LEVEL"`

	ServerPath            string   `json:"serverPath" toml:"serverPath" env:"QWR_SERVER_PATH"`
	BackupPath            string   `json:"backupPath" toml:"backupPath" env:"QWR_BACKUP_PATH"`
	OverwriteBackupFolder string   `json:"overwriteBackupFolder" toml:"overwriteBackupFolder"`
	IgnoredFiles          []string `json:"ignoredFiles" toml:"ignoredFiles"`
	WorldNames            []string `json:"worldNames" toml:"worldNames"`
	SlotCount             int      `json:"slotCount" toml:"slotCount"`

	// MinimumPermissionLevel maps a subcommand to the level needed to run it.
	MinimumPermissionLevel map[string]int `json:"minimumPermissionLevel" toml:"minimumPermissionLevel"`
	// Permissions maps player names to their level. Unlisted players get DefaultPermissionLevel.
	Permissions            map[string]int `json:"permissions" toml:"permissions"`
	DefaultPermissionLevel int            `json:"defaultPermissionLevel" toml:"defaultPermissionLevel"`

	Server    ServerConfig    `json:"server" toml:"server"`
	Countdown CountdownConfig `json:"countdown" toml:"countdown"`
	Archive   ArchiveConfig   `json:"archive" toml:"archive"`
	Hooks     HooksConfig     `json:"hooks" toml:"hooks"`
	Engine    EngineConfig    `json:"engine" toml:"engine"`
}

// NewDefault returns the configuration used when no file exists.
func NewDefault() Config {
	return Config{
		Version:               buildinfo.Version,
		LogLevel:              "info",
		ServerPath:            "./server",
		BackupPath:            "./qworld_reset",
		OverwriteBackupFolder: "overwrite",
		IgnoredFiles:          []string{"session.lock"},
		WorldNames:            []string{"world"},
		SlotCount:             1,
		MinimumPermissionLevel: map[string]int{
			"run":     LevelHelper,
			"confirm": LevelHelper,
			"abort":   LevelHelper,
			"reload":  LevelHelper,
			"status":  LevelUser,
		},
		Permissions:            map[string]int{},
		DefaultPermissionLevel: LevelUser,
		Server: ServerConfig{
			Command:            []string{"java", "-Xms1G", "-Xmx2G", "-jar", "server.jar", "nogui"},
			StopCommand:        "stop",
			StopTimeoutSeconds: 120,
			AutoStart:          true,
		},
		Countdown: CountdownConfig{
			Seconds:    9,
			PollMillis: 100,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Format:  "tar.zst",
			Level:   "default",
		},
		Hooks: HooksConfig{
			PostReset: []string{},
		},
		Engine: EngineConfig{
			BufferSizeKB: 256,
		},
	}
}

// isTOML reports whether path names a TOML file; anything else is read as JSON.
func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load reads the configuration at path over the defaults and applies
// environment overrides. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := NewDefault()

	file, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		plog.Info("No configuration file found, using defaults", "path", path)
	case err != nil:
		return Config{}, fmt.Errorf("error opening config file %s: %w", path, err)
	default:
		defer file.Close()
		plog.Info("Loading configuration", "path", path)
		if isTOML(path) {
			if _, err := toml.NewDecoder(file).Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("error parsing config file %s: %w", path, err)
			}
		} else {
			if err := json.NewDecoder(file).Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("error parsing config file %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error applying environment overrides: %w", err)
	}

	// NOTE: if cfg.Version differs from buildinfo.Version a migration step goes here.
	cfg.Version = buildinfo.Version
	return cfg, nil
}

// Generate writes cfg to path, as TOML when path ends in .toml and JSON otherwise.
func Generate(path string, cfg Config) error {
	var data []byte
	if isTOML(path) {
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		data = []byte(sb.String())
	} else {
		var err error
		if data, err = json.MarshalIndent(cfg, "", "  "); err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	}

	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	plog.Info("Successfully saved config file", "path", path)
	return nil
}

// Validate checks the configuration for logical errors and normalizes paths.
func (c *Config) Validate() error {
	var err error

	if c.ServerPath == "" {
		return fmt.Errorf("serverPath cannot be empty")
	}
	if c.ServerPath, err = util.ExpandPath(c.ServerPath); err != nil {
		return fmt.Errorf("could not expand server path: %w", err)
	}
	c.ServerPath = filepath.Clean(c.ServerPath)

	if c.BackupPath == "" {
		return fmt.Errorf("backupPath cannot be empty")
	}
	if c.BackupPath, err = util.ExpandPath(c.BackupPath); err != nil {
		return fmt.Errorf("could not expand backup path: %w", err)
	}
	c.BackupPath = filepath.Clean(c.BackupPath)

	// The overwrite folder is deleted wholesale, so it must be a direct child of the backup path.
	switch f := c.OverwriteBackupFolder; {
	case f == "" || f == "." || f == "..":
		return fmt.Errorf("overwriteBackupFolder must name a directory, got %q", f)
	case strings.ContainsAny(f, `\/`):
		return fmt.Errorf("overwriteBackupFolder cannot contain path separators ('/' or '\\')")
	}

	if len(c.WorldNames) == 0 {
		return fmt.Errorf("worldNames cannot be empty")
	}
	for _, w := range c.WorldNames {
		if err := validateWorldName(w); err != nil {
			return err
		}
	}

	if c.SlotCount < 1 {
		return fmt.Errorf("slotCount must be at least 1")
	}

	for sub, level := range c.MinimumPermissionLevel {
		if level < LevelGuest || level > LevelOwner {
			return fmt.Errorf("minimumPermissionLevel.%s must be between %d and %d", sub, LevelGuest, LevelOwner)
		}
	}
	for name, level := range c.Permissions {
		if level < LevelGuest || level > LevelOwner {
			return fmt.Errorf("permissions.%s must be between %d and %d", name, LevelGuest, LevelOwner)
		}
	}
	if c.DefaultPermissionLevel < LevelGuest || c.DefaultPermissionLevel > LevelOwner {
		return fmt.Errorf("defaultPermissionLevel must be between %d and %d", LevelGuest, LevelOwner)
	}

	if c.Server.StopTimeoutSeconds < 0 {
		return fmt.Errorf("server.stopTimeoutSeconds cannot be negative")
	}
	if c.Countdown.Seconds < 1 {
		return fmt.Errorf("countdown.seconds must be at least 1")
	}
	if c.Countdown.PollMillis < 10 || c.Countdown.PollMillis > 1000 {
		return fmt.Errorf("countdown.pollMillis must be between 10 and 1000")
	}

	if _, err := archive.ParseFormat(c.Archive.Format); err != nil {
		return fmt.Errorf("archive.format: %w", err)
	}
	if _, err := archive.ParseLevel(c.Archive.Level); err != nil {
		return fmt.Errorf("archive.level: %w", err)
	}

	if c.Engine.BufferSizeKB <= 0 {
		return fmt.Errorf("engine.bufferSizeKB must be greater than 0")
	}
	return nil
}

// validateWorldName rejects names that would resolve outside the server path.
func validateWorldName(name string) error {
	if name == "" {
		return fmt.Errorf("worldNames cannot contain an empty name")
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("world name %q must be relative to the server path", name)
	}
	clean := filepath.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("world name %q escapes the server path", name)
	}
	return nil
}

// LogSummary logs the effective configuration.
func (c *Config) LogSummary() {
	logArgs := []any{
		"log_level", c.LogLevel,
		"server_path", c.ServerPath,
		"backup_path", c.BackupPath,
		"overwrite_folder", c.OverwriteBackupFolder,
		"worlds", strings.Join(c.WorldNames, ", "),
		"slots", c.SlotCount,
		"countdown", fmt.Sprintf("%ds (poll %dms)", c.Countdown.Seconds, c.Countdown.PollMillis),
		"buffer_size_kb", c.Engine.BufferSizeKB,
	}
	if len(c.IgnoredFiles) > 0 {
		logArgs = append(logArgs, "ignored_files", strings.Join(c.IgnoredFiles, ", "))
	}
	if len(c.Server.Command) > 0 {
		logArgs = append(logArgs, "server_command", strings.Join(c.Server.Command, " "))
	}
	if c.Archive.Enabled {
		logArgs = append(logArgs, "archive", fmt.Sprintf("enabled (f:%s l:%s)", c.Archive.Format, c.Archive.Level))
	}
	if len(c.Hooks.PostReset) > 0 {
		logArgs = append(logArgs, "post_reset_hooks", strings.Join(c.Hooks.PostReset, "; "))
	}
	plog.Info("Configuration loaded", logArgs...)
}
