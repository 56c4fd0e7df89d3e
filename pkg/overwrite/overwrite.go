// Package overwrite maintains the single safety backup taken right before
// worlds are deleted.
//
// The backup lives in one folder under the backup root. Every Make discards the
// previous backup, copies the current worlds into it and, only when the copy
// succeeded, writes the audit file naming who confirmed the reset.
package overwrite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-worldreset/pkg/ignore"
	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
	"github.com/paulschiretz/pgl-worldreset/pkg/util"
)

// ErrInvalidPlan is returned when a Plan is missing a required field.
var ErrInvalidPlan = errors.New("invalid overwrite plan")

// Copier copies worlds between two roots. *worldsync.Syncer implements it.
type Copier interface {
	CopyWorlds(srcRoot, dstRoot string, worlds []string, matcher *ignore.Matcher) error
}

// Plan describes one overwrite backup.
type Plan struct {
	ServerRoot string
	BackupRoot string
	Folder     string
	Worlds     []string
	Matcher    *ignore.Matcher
	Identity   string
	Copier     Copier

	// Now is used for the audit timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Record describes a completed overwrite backup.
type Record struct {
	Dir       string
	AuditPath string
	Time      time.Time
	Identity  string
}

func (p *Plan) validate() error {
	switch {
	case p.BackupRoot == "":
		return fmt.Errorf("%w: backup root is empty", ErrInvalidPlan)
	case p.Folder == "" || p.Folder == "." || p.Folder == "..":
		return fmt.Errorf("%w: overwrite folder %q", ErrInvalidPlan, p.Folder)
	case p.Copier == nil:
		return fmt.Errorf("%w: no copier", ErrInvalidPlan)
	}
	return nil
}

// Dir returns the overwrite directory for a backup root and folder name.
func Dir(backupRoot, folder string) string {
	return filepath.Join(backupRoot, folder)
}

// Make replaces the overwrite backup with a fresh copy of the worlds.
//
// The previous backup is deleted first and is not restored on failure. The
// audit file is written only after every world copied without error, so its
// presence marks a complete backup.
func Make(ctx context.Context, p Plan) (Record, error) {
	if err := p.validate(); err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	dir := Dir(p.BackupRoot, p.Folder)
	plog.Info("Creating overwrite backup", "path", dir, "worlds", p.Worlds)

	if err := os.RemoveAll(dir); err != nil {
		return Record{}, fmt.Errorf("failed to delete previous overwrite backup %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return Record{}, fmt.Errorf("failed to create overwrite backup directory %s: %w", dir, err)
	}

	if err := p.Copier.CopyWorlds(p.ServerRoot, dir, p.Worlds, p.Matcher); err != nil {
		return Record{}, fmt.Errorf("overwrite backup incomplete: %w", err)
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	audit := Audit{Time: now(), Identity: p.Identity}
	if err := WriteAudit(dir, audit); err != nil {
		return Record{}, err
	}

	plog.Info("Overwrite backup complete", "path", dir, "confirmedBy", p.Identity)
	return Record{
		Dir:       dir,
		AuditPath: filepath.Join(dir, AuditFileName),
		Time:      audit.Time,
		Identity:  audit.Identity,
	}, nil
}
