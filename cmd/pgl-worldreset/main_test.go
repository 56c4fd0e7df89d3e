package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulschiretz/pgl-worldreset/pkg/config"
	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

func TestMain(m *testing.M) {
	plog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestRun(t *testing.T) {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer devNull.Close()
	origStdout, origStderr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = devNull, devNull
	defer func() { os.Stdout, os.Stderr = origStdout, origStderr }()

	cfgPath := filepath.Join(t.TempDir(), config.ConfigFileName)

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"No Args", nil, false},
		{"Version", []string{"version"}, false},
		{"Unknown Command", []string{"backup"}, true},
		{"Bad Flag", []string{"run", "-nope"}, true},
		{"Init", []string{"init", "-config", cfgPath, "-server", "/srv/mc"}, false},
		{"Info Without Backup", []string{"info", "-config", cfgPath}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := run(context.Background(), tc.args)
			if (err != nil) != tc.wantErr {
				t.Errorf("run(%v) error = %v, wantErr %v", tc.args, err, tc.wantErr)
			}
		})
	}

	if _, err := os.Stat(cfgPath); err != nil {
		t.Errorf("expected init to write %s: %v", cfgPath, err)
	}
}
