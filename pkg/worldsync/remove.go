package worldsync

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

// RemoveWorlds deletes every world in worlds from root.
//
// Link chains are unlinked hop by hop (the link entries, not their targets)
// and the real file or directory at the end of the chain is deleted last.
// Missing worlds are logged and skipped.
func (s *Syncer) RemoveWorlds(root string, worlds []string) error {
	for _, world := range worlds {
		if err := s.removeWorld(root, world); err != nil {
			return fmt.Errorf("failed to remove world %q: %w", world, err)
		}
	}
	s.metrics.LogSummary("Remove finished")
	return nil
}

func (s *Syncer) removeWorld(root, world string) error {
	targetPath := filepath.Join(root, world)

	for hops := 0; ; hops++ {
		link, err := isSymlink(targetPath)
		if err != nil {
			return fmt.Errorf("failed to lstat %s: %w", targetPath, err)
		}
		if !link {
			break
		}
		if hops >= maxLinkHops {
			return fmt.Errorf("%s: %w", filepath.Join(root, world), ErrTooManyLinks)
		}

		target, err := os.Readlink(targetPath)
		if err != nil {
			return fmt.Errorf("failed to read link %s: %w", targetPath, err)
		}
		if err := os.Remove(targetPath); err != nil {
			return fmt.Errorf("failed to remove link %s: %w", targetPath, err)
		}
		s.metrics.AddLinksRemoved(1)

		next := nextHop(targetPath, target)
		logHop("Removing", targetPath, next)
		targetPath = next
	}

	kind, _, err := kindOf(targetPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", targetPath, err)
	}

	switch kind {
	case kindDir:
		plog.Info("Removing directory", "path", targetPath)
		if err := os.RemoveAll(targetPath); err != nil {
			return fmt.Errorf("failed to remove directory %s: %w", targetPath, err)
		}
		s.metrics.AddDirsDeleted(1)
	case kindFile, kindOther:
		plog.Info("Removing file", "path", targetPath)
		if err := os.Remove(targetPath); err != nil {
			return fmt.Errorf("failed to remove file %s: %w", targetPath, err)
		}
		s.metrics.AddFilesDeleted(1)
	default:
		plog.Warn("World does not exist while removing, skipping", "path", targetPath)
		s.metrics.AddWorldsSkipped(1)
	}
	return nil
}
