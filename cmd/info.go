package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-worldreset/pkg/archive"
	"github.com/paulschiretz/pgl-worldreset/pkg/overwrite"
)

// RunInfo handles the logic for the 'info' command.
func RunInfo(ctx context.Context, flagMap map[string]any) error {
	return runInfo(ctx, flagMap, os.Stdout)
}

func runInfo(ctx context.Context, flagMap map[string]any, out io.Writer) error {
	cfg, err := loadRunConfig(flagMap)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := overwrite.Dir(cfg.BackupPath, cfg.OverwriteBackupFolder)
	audit, err := overwrite.ReadAudit(dir)
	if os.IsNotExist(err) {
		fmt.Fprintf(out, "No overwrite backup found in %s\n", dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read overwrite backup info: %w", err)
	}

	fmt.Fprintf(out, "Overwrite backup: %s\n", dir)
	fmt.Fprintf(out, "  Overwrite time: %s\n", audit.Time.Format(overwrite.AuditTimeLayout))
	fmt.Fprintf(out, "  Confirmed by:   %s\n", audit.Identity)
	for _, w := range cfg.WorldNames {
		state := "missing"
		if _, err := os.Lstat(filepath.Join(dir, w)); err == nil {
			state = "present"
		}
		fmt.Fprintf(out, "  World %-16s %s\n", w, state)
	}

	if format, err := archive.ParseFormat(cfg.Archive.Format); err == nil {
		if info, err := os.Stat(archive.PathFor(dir, format)); err == nil {
			fmt.Fprintf(out, "  Archive: %s (%d bytes)\n", archive.PathFor(dir, format), info.Size())
		}
	}
	return nil
}
