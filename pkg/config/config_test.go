package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

func TestMain(m *testing.M) {
	plog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()
	if cfg.BackupPath != "./qworld_reset" || cfg.ServerPath != "./server" {
		t.Errorf("unexpected default paths: %q, %q", cfg.BackupPath, cfg.ServerPath)
	}
	if cfg.OverwriteBackupFolder != "overwrite" {
		t.Errorf("unexpected default overwrite folder %q", cfg.OverwriteBackupFolder)
	}
	if !slices.Equal(cfg.IgnoredFiles, []string{"session.lock"}) {
		t.Errorf("unexpected default ignored files %v", cfg.IgnoredFiles)
	}
	if !slices.Equal(cfg.WorldNames, []string{"world"}) {
		t.Errorf("unexpected default worlds %v", cfg.WorldNames)
	}
	for _, sub := range []string{"run", "confirm", "abort", "reload"} {
		if cfg.MinimumPermissionLevel[sub] != LevelHelper {
			t.Errorf("expected %s to need level %d, got %d", sub, LevelHelper, cfg.MinimumPermissionLevel[sub])
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mod         func(*Config)
		errContains string
	}{
		{name: "Valid", mod: func(*Config) {}},
		{name: "Empty server path", mod: func(c *Config) { c.ServerPath = "" }, errContains: "serverPath"},
		{name: "Empty backup path", mod: func(c *Config) { c.BackupPath = "" }, errContains: "backupPath"},
		{name: "Empty overwrite folder", mod: func(c *Config) { c.OverwriteBackupFolder = "" }, errContains: "overwriteBackupFolder"},
		{name: "Nested overwrite folder", mod: func(c *Config) { c.OverwriteBackupFolder = "a/b" }, errContains: "path separators"},
		{name: "Parent overwrite folder", mod: func(c *Config) { c.OverwriteBackupFolder = ".." }, errContains: "overwriteBackupFolder"},
		{name: "No worlds", mod: func(c *Config) { c.WorldNames = nil }, errContains: "worldNames"},
		{name: "Absolute world", mod: func(c *Config) { c.WorldNames = []string{"/etc"} }, errContains: "relative"},
		{name: "Escaping world", mod: func(c *Config) { c.WorldNames = []string{"../other"} }, errContains: "escapes"},
		{name: "Nested world is fine", mod: func(c *Config) { c.WorldNames = []string{"worlds/main", "world_nether"} }},
		{name: "Zero slots", mod: func(c *Config) { c.SlotCount = 0 }, errContains: "slotCount"},
		{name: "Permission level too high", mod: func(c *Config) { c.MinimumPermissionLevel["run"] = 5 }, errContains: "minimumPermissionLevel.run"},
		{name: "Player level negative", mod: func(c *Config) { c.Permissions["Steve"] = -1 }, errContains: "permissions.Steve"},
		{name: "Negative stop timeout", mod: func(c *Config) { c.Server.StopTimeoutSeconds = -1 }, errContains: "stopTimeoutSeconds"},
		{name: "Zero countdown", mod: func(c *Config) { c.Countdown.Seconds = 0 }, errContains: "countdown.seconds"},
		{name: "Poll too fast", mod: func(c *Config) { c.Countdown.PollMillis = 1 }, errContains: "pollMillis"},
		{name: "Bad archive format", mod: func(c *Config) { c.Archive.Format = "rar" }, errContains: "archive.format"},
		{name: "Bad archive level", mod: func(c *Config) { c.Archive.Level = "max" }, errContains: "archive.level"},
		{name: "Zero buffer", mod: func(c *Config) { c.Engine.BufferSizeKB = 0 }, errContains: "bufferSizeKB"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefault()
			tc.mod(&cfg)
			err := cfg.Validate()
			if tc.errContains == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.errContains) {
				t.Fatalf("expected error containing %q, got %v", tc.errContains, err)
			}
		})
	}
}

func TestValidate_CleansPaths(t *testing.T) {
	cfg := NewDefault()
	cfg.ServerPath = "./srv/../server/"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.ServerPath != "server" {
		t.Errorf("expected cleaned server path, got %q", cfg.ServerPath)
	}
}

func TestLoad(t *testing.T) {
	t.Run("Missing file returns defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), ConfigFileName))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cfg.OverwriteBackupFolder != "overwrite" {
			t.Errorf("expected default overwrite folder, got %q", cfg.OverwriteBackupFolder)
		}
	})

	t.Run("JSON overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ConfigFileName)
		content := `{"worldNames": ["world", "world_nether"], "minimumPermissionLevel": {"run": 3}}`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if !slices.Equal(cfg.WorldNames, []string{"world", "world_nether"}) {
			t.Errorf("unexpected worlds %v", cfg.WorldNames)
		}
		if cfg.MinimumPermissionLevel["run"] != 3 {
			t.Errorf("expected run level 3, got %d", cfg.MinimumPermissionLevel["run"])
		}
		if cfg.MinimumPermissionLevel["abort"] != LevelHelper {
			t.Errorf("expected abort level to keep its default, got %d", cfg.MinimumPermissionLevel["abort"])
		}
		if cfg.BackupPath != "./qworld_reset" {
			t.Errorf("expected unset field to keep its default, got %q", cfg.BackupPath)
		}
	})

	t.Run("TOML file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pgl-worldreset.toml")
		content := "overwriteBackupFolder = \"last\"\nignoredFiles = [\"session.lock\", \"*.tmp\"]\n\n[countdown]\nseconds = 5\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.OverwriteBackupFolder != "last" {
			t.Errorf("expected overwrite folder 'last', got %q", cfg.OverwriteBackupFolder)
		}
		if cfg.Countdown.Seconds != 5 || cfg.Countdown.PollMillis != 100 {
			t.Errorf("unexpected countdown %+v", cfg.Countdown)
		}
		if !slices.Equal(cfg.IgnoredFiles, []string{"session.lock", "*.tmp"}) {
			t.Errorf("unexpected ignored files %v", cfg.IgnoredFiles)
		}
	})

	t.Run("Environment overrides file", func(t *testing.T) {
		t.Setenv("QWR_SERVER_PATH", "/srv/minecraft")
		t.Setenv("QWR_LOG_LEVEL", "debug")
		path := filepath.Join(t.TempDir(), ConfigFileName)
		if err := os.WriteFile(path, []byte(`{"serverPath": "/from/file"}`), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.ServerPath != "/srv/minecraft" {
			t.Errorf("expected env server path, got %q", cfg.ServerPath)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("expected env log level, got %q", cfg.LogLevel)
		}
	})

	t.Run("Corrupt file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ConfigFileName)
		if err := os.WriteFile(path, []byte("{invalid"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "error parsing config file") {
			t.Fatalf("expected parse error, got %v", err)
		}
	})
}

func TestGenerateRoundTrip(t *testing.T) {
	for _, name := range []string{ConfigFileName, "pgl-worldreset.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			want := NewDefault()
			want.WorldNames = []string{"world", "world_the_end"}
			want.Permissions = map[string]int{"Steve": LevelOwner}

			if err := Generate(path, want); err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !slices.Equal(got.WorldNames, want.WorldNames) {
				t.Errorf("expected worlds %v, got %v", want.WorldNames, got.WorldNames)
			}
			if got.Permissions["Steve"] != LevelOwner {
				t.Errorf("expected Steve to be owner, got %d", got.Permissions["Steve"])
			}
		})
	}
}

func TestWatch(t *testing.T) {
	watchDebounce = 20 * time.Millisecond
	defer func() { watchDebounce = 250 * time.Millisecond }()

	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := Generate(path, NewDefault()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c Config) { changes <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// An invalid change is skipped.
	if err := os.WriteFile(path, []byte(`{"slotCount": 0}`), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"worldNames": ["reloaded"]}`), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		if !slices.Equal(cfg.WorldNames, []string{"reloaded"}) {
			t.Errorf("expected reloaded worlds, got %v", cfg.WorldNames)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config change")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected Watch to return nil on cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingDirectoryBlocksUntilCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", ConfigFileName)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(Config) {}) }()

	select {
	case err := <-done:
		t.Fatalf("expected Watch to keep running without a config directory, returned %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected Watch to return nil on cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
