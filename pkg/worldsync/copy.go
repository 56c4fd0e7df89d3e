package worldsync

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-worldreset/pkg/ignore"
	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
	"github.com/paulschiretz/pgl-worldreset/pkg/util"
)

// CopyWorlds copies every world in worlds from srcRoot into dstRoot.
//
// Names flagged by matcher are skipped at every level of a world's tree.
// A world whose source is missing (or a dangling link) is logged and skipped.
// The first I/O failure aborts the whole call; worlds copied before it are
// left in place.
func (s *Syncer) CopyWorlds(srcRoot, dstRoot string, worlds []string, matcher *ignore.Matcher) error {
	for _, world := range worlds {
		if err := s.copyWorld(srcRoot, dstRoot, world, matcher); err != nil {
			return fmt.Errorf("failed to copy world %q: %w", world, err)
		}
	}
	s.metrics.LogSummary("Copy finished")
	return nil
}

func (s *Syncer) copyWorld(srcRoot, dstRoot, world string, matcher *ignore.Matcher) error {
	srcPath := filepath.Join(srcRoot, world)
	dstPath := filepath.Join(dstRoot, world)

	for hops := 0; ; hops++ {
		link, err := isSymlink(srcPath)
		if err != nil {
			return fmt.Errorf("failed to lstat %s: %w", srcPath, err)
		}
		if !link {
			break
		}
		if hops >= maxLinkHops {
			return fmt.Errorf("%s: %w", filepath.Join(srcRoot, world), ErrTooManyLinks)
		}

		logHop("Copying", srcPath, dstPath)
		if err := ensureParentDir(dstPath); err != nil {
			return err
		}
		target, err := os.Readlink(srcPath)
		if err != nil {
			return fmt.Errorf("failed to read link %s: %w", srcPath, err)
		}
		if err := os.Symlink(target, dstPath); err != nil {
			return fmt.Errorf("failed to create link %s -> %s: %w", dstPath, target, err)
		}
		s.metrics.AddLinksCreated(1)

		srcPath = nextHop(srcPath, target)
		rel, err := filepath.Rel(srcRoot, srcPath)
		if err != nil {
			return fmt.Errorf("failed to map %s into backup: %w", srcPath, err)
		}
		dstPath = filepath.Join(dstRoot, rel)
	}

	kind, info, err := kindOf(srcPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", srcPath, err)
	}

	plog.Info("Copying", "from", srcPath, "to", dstPath)
	switch kind {
	case kindDir:
		return s.copyTree(srcPath, dstPath, matcher)
	case kindFile:
		if err := ensureParentDir(dstPath); err != nil {
			return err
		}
		return s.copyFile(srcPath, dstPath, info.Mode().Perm())
	default:
		plog.Warn("World does not exist while copying, skipping", "path", srcPath, "to", dstPath)
		s.metrics.AddWorldsSkipped(1)
		return nil
	}
}

// copyTree recursively copies the directory src into dst. Links inside the
// tree are followed and their content is copied; a dangling link fails the copy.
func (s *Syncer) copyTree(src, dst string, matcher *ignore.Matcher) error {
	root, err := filepath.EvalSymlinks(src)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", src, err)
	}
	return s.walkTree(src, dst, matcher, map[string]bool{root: true})
}

// walkTree copies src into dst. active holds the resolved directories being
// copied on the current path and stops link cycles.
func (s *Syncer) walkTree(src, dst string, matcher *ignore.Matcher, active map[string]bool) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("failed to walk %s: %w", path, walkErr)
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", path, err)
		}
		target := filepath.Join(dst, rel)

		// The world root itself is never subject to ignore rules.
		if rel != "." && matcher.IsIgnored(d.Name()) {
			plog.Notice("IGNORE", "path", path)
			if d.IsDir() {
				s.metrics.AddDirsExcluded(1)
				return filepath.SkipDir
			}
			s.metrics.AddFilesExcluded(1)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			return s.copyLinked(path, target, rel, matcher, active)
		}

		switch mode := info.Mode(); {
		case mode.IsDir():
			// Owner-write is forced so the next backup can delete this copy.
			if err := os.MkdirAll(target, util.WithUserWritePermission(mode.Perm())); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
			s.metrics.AddDirsCreated(1)
			plog.Notice("MKDIR", "path", rel)
		case mode.IsRegular():
			if err := s.copyFile(path, target, mode.Perm()); err != nil {
				return err
			}
			plog.Notice("COPY", "path", rel)
		default:
			plog.Warn("Skipping special file", "path", path, "mode", mode.String())
		}
		return nil
	})
}

// copyLinked copies whatever the link at path points to into target.
func (s *Syncer) copyLinked(path, target, rel string, matcher *ignore.Matcher, active map[string]bool) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("failed to follow link %s: %w", path, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return fmt.Errorf("failed to stat link target %s: %w", resolved, err)
	}
	plog.Notice("FOLLOW", "path", rel, "target", resolved)

	switch mode := info.Mode(); {
	case mode.IsDir():
		if active[resolved] {
			return fmt.Errorf("%s: %w", path, ErrTooManyLinks)
		}
		active[resolved] = true
		defer delete(active, resolved)
		return s.walkTree(resolved, target, matcher, active)
	case mode.IsRegular():
		if err := s.copyFile(resolved, target, mode.Perm()); err != nil {
			return err
		}
		plog.Notice("COPY", "path", rel)
	default:
		plog.Warn("Skipping special file", "path", path, "mode", mode.String())
	}
	return nil
}

// copyFile copies content and permission bits from src to dst.
// The data lands in a temporary file next to dst first and is renamed into
// place, so an interrupted copy never leaves a truncated file under dst.
func (s *Syncer) copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer in.Close()

	dstDir := filepath.Dir(dst)
	out, err := os.CreateTemp(dstDir, "pgl-worldreset-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dstDir, err)
	}
	tempPath := out.Name()
	defer func() {
		out.Close()
		if tempPath != "" {
			os.Remove(tempPath)
		}
	}()

	bufPtr := s.ioBufferPool.Get().(*[]byte)
	defer s.ioBufferPool.Put(bufPtr)
	buf := (*bufPtr)[:cap(*bufPtr)]

	n, err := io.CopyBuffer(out, in, buf)
	if err != nil {
		return fmt.Errorf("failed to copy content from %s to %s: %w", src, tempPath, err)
	}
	s.metrics.AddBytesWritten(n)

	if err := out.Chmod(util.WithUserWritePermission(perm)); err != nil {
		return fmt.Errorf("failed to set permissions on temporary file %s: %w", tempPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", tempPath, dst, err)
	}
	tempPath = ""
	s.metrics.AddFilesCopied(1)
	return nil
}
