// Package worldsync copies and removes world directories as a unit.
//
// Both directions resolve a chain of symbolic links before touching the real
// data. A hop from link L with target T continues at T when T is absolute and
// at filepath.Join(filepath.Dir(L), T) otherwise.
//
// The copier reproduces every hop of a world's own chain as a link in the
// destination with the target string copied verbatim. Links nested inside a
// world are followed and their content is copied. The remover unlinks each
// hop before deleting the real file or directory.
package worldsync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

// maxLinkHops bounds symlink chain resolution, matching the usual ELOOP limit.
const maxLinkHops = 40

// DefaultBufferSize is the copy buffer size used when none is configured.
const DefaultBufferSize = 256 * 1024

// ErrTooManyLinks is returned when a link chain does not bottom out.
var ErrTooManyLinks = errors.New("too many levels of symbolic links")

// Syncer performs the world copy and removal operations.
// A Syncer is safe for sequential reuse; it is not meant to run two
// operations concurrently.
type Syncer struct {
	ioBufferPool *sync.Pool
	metrics      *Metrics
}

// NewSyncer creates a Syncer with a pooled I/O buffer of bufferSize bytes.
func NewSyncer(bufferSize int) *Syncer {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Syncer{
		ioBufferPool: &sync.Pool{
			New: func() any {
				b := make([]byte, bufferSize)
				return &b
			},
		},
		metrics: &Metrics{},
	}
}

// isSymlink reports whether path is a symbolic link. Missing paths are not links.
func isSymlink(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}

// nextHop resolves a link target read from linkPath into the path it refers to.
func nextHop(linkPath, target string) string {
	if filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(filepath.Dir(linkPath), target)
}

// ensureParentDir creates the parent directory of path if it does not exist.
func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create parent directory %s: %w", dir, err)
	}
	return nil
}

// statKind classifies the entry at path after link resolution.
type statKind int

const (
	kindMissing statKind = iota
	kindDir
	kindFile
	kindOther
)

func kindOf(path string) (statKind, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return kindMissing, nil, nil
		}
		return kindMissing, nil, err
	}
	switch {
	case info.IsDir():
		return kindDir, info, nil
	case info.Mode().IsRegular():
		return kindFile, info, nil
	default:
		return kindOther, info, nil
	}
}

// logHop logs one resolved link of a chain.
func logHop(op, from, to string) {
	plog.Info(op+" (symbolic link)", "from", from, "to", to)
}
