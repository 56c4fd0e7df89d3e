// Package preflight checks that a reset can run before anything is changed.
// The checks only read the filesystem, except for the writability probe which
// creates the backup root and removes a temporary file.
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-worldreset/pkg/planner"
	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
	"github.com/paulschiretz/pgl-worldreset/pkg/util"
)

// Plan selects which checks Run performs.
type Plan struct {
	ServerAccessible bool
	BackupWritable   bool
	PathNesting      bool
}

// Full enables every check.
func Full() *Plan {
	return &Plan{ServerAccessible: true, BackupWritable: true, PathNesting: true}
}

// Validator runs preflight checks.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Run performs the checks selected by p against plan.
func (v *Validator) Run(ctx context.Context, plan *planner.ResetPlan, p *Plan) error {
	if p.ServerAccessible {
		if err := CheckServerAccessible(plan.ServerRoot); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.PathNesting {
		if err := CheckPathNesting(plan.ServerRoot, plan.OverwriteDir(), plan.Worlds); err != nil {
			return err
		}
	}
	if p.BackupWritable {
		if err := CheckBackupWritable(plan.BackupRoot); err != nil {
			return err
		}
	}
	plog.Debug("Preflight checks passed", "server", plan.ServerRoot, "backup", plan.BackupRoot)
	return nil
}

// CheckServerAccessible validates that the server root exists and is a directory.
func CheckServerAccessible(serverRoot string) error {
	info, err := os.Stat(serverRoot)
	if os.IsNotExist(err) {
		return fmt.Errorf("server directory %s does not exist", serverRoot)
	}
	if err != nil {
		return fmt.Errorf("cannot stat server directory %s: %w", serverRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("server path %s is not a directory", serverRoot)
	}
	return nil
}

// CheckBackupWritable creates the backup root if needed and probes it with a temp file.
func CheckBackupWritable(backupRoot string) error {
	if err := os.MkdirAll(backupRoot, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create backup directory %s: %w", backupRoot, err)
	}
	f, err := os.CreateTemp(backupRoot, ".pgl-worldreset-writetest-*.tmp")
	if err != nil {
		return fmt.Errorf("backup directory %s is not writable: %w", backupRoot, err)
	}
	f.Close()
	_ = os.Remove(f.Name())
	return nil
}

// CheckPathNesting rejects layouts where deleting a world would delete the
// overwrite backup, or where replacing the backup would delete a world.
func CheckPathNesting(serverRoot, overwriteDir string, worlds []string) error {
	backup, err := resolve(overwriteDir)
	if err != nil {
		return err
	}
	server, err := resolve(serverRoot)
	if err != nil {
		return err
	}
	if isWithin(server, backup) {
		return fmt.Errorf("server directory %s is inside the overwrite backup %s", serverRoot, overwriteDir)
	}
	for _, w := range worlds {
		world, err := resolve(filepath.Join(serverRoot, w))
		if err != nil {
			return err
		}
		if isWithin(backup, world) {
			return fmt.Errorf("overwrite backup %s is inside world %q and would be deleted with it", overwriteDir, w)
		}
		if isWithin(world, backup) {
			return fmt.Errorf("world %q is inside the overwrite backup %s and would be deleted by it", w, overwriteDir)
		}
	}
	return nil
}

// resolve returns the absolute path with every existing symlink resolved, so
// that worlds linked elsewhere are compared by their real location.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("could not determine absolute path for %s: %w", path, err)
	}
	// Resolve the deepest existing ancestor and re-append the rest.
	rest := ""
	cur := abs
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

// isWithin reports whether path equals dir or lies below it.
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
