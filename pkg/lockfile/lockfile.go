// Package lockfile guards a backup root against two daemons managing it at once.
//
// The lock is a small JSON file refreshed by a heartbeat. A lock whose heartbeat
// is older than the stale timeout, or whose content cannot be parsed, may be
// taken over. Writes go through a temp file and a rename so readers never see a
// partially written lock.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
	"github.com/paulschiretz/pgl-worldreset/pkg/util"
)

// LockFileName is created inside the locked directory.
const LockFileName = ".~pgl-worldreset.lock"

// Content is what a lock file holds.
type Content struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	Owner      string    `json:"owner"`
	Token      string    `json:"token"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// ErrLockActive is returned when a live lock is held by someone else.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	Owner     string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("lock is active, held by %s (PID %d on host '%s'), last heartbeat %s ago",
		e.Owner, e.PID, e.Hostname, e.TimeSince.Truncate(time.Second))
}

var (
	// ErrLostRace is returned when another process took over a stale lock first.
	ErrLostRace = errors.New("lost race during stale lock takeover")
	// ErrCorruptLockFile is returned for an empty or unparsable lock file.
	ErrCorruptLockFile = errors.New("lock file is corrupt or empty")
)

// Variables so tests can shorten them.
var (
	heartbeatInterval = 30 * time.Second
	staleTimeout      = 3 * heartbeatInterval
	readRetryWait     = 50 * time.Millisecond
)

const acquireAttempts = 3

// Lock is a held lock. Release it when done.
type Lock struct {
	path string

	mu      sync.Mutex
	content Content
	stop    chan struct{}
	done    chan struct{}
	held    bool
}

// Acquire takes the lock in dir on behalf of owner.
// It returns *ErrLockActive if a live lock exists.
func Acquire(ctx context.Context, dir, owner string) (*Lock, error) {
	path := filepath.Join(dir, LockFileName)

	for range acquireAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content, err := newContent(owner)
		if err != nil {
			return nil, err
		}

		err = createExclusive(path, content)
		if err == nil {
			return start(path, content), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		existing, err := readContent(path)
		switch {
		case errors.Is(err, ErrCorruptLockFile):
			plog.Warn("Found corrupt lock file, treating it as stale", "path", path, "error", err)
		case os.IsNotExist(err):
			// Released between our create and read.
			continue
		case err != nil:
			return nil, fmt.Errorf("failed to read lock file: %w", err)
		default:
			if age := time.Since(existing.LastUpdate); age < staleTimeout {
				return nil, &ErrLockActive{
					PID:       existing.PID,
					Hostname:  existing.Hostname,
					Owner:     existing.Owner,
					TimeSince: age,
				}
			}
			plog.Warn("Found stale lock, taking it over", "owner", existing.Owner, "pid", existing.PID)
		}

		if err := takeOver(path, content); err != nil {
			plog.Debug("Lock takeover failed, retrying", "error", err)
			continue
		}
		return start(path, content), nil
	}
	return nil, fmt.Errorf("failed to acquire lock after %d attempts", acquireAttempts)
}

func newContent(owner string) (Content, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return Content{}, fmt.Errorf("failed to get hostname: %w", err)
	}
	return Content{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		Owner:      owner,
		Token:      uuid.NewString(),
		LastUpdate: time.Now().UTC(),
	}, nil
}

func createExclusive(path string, content Content) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(content, "", "  ")
	if err == nil {
		_, err = f.Write(data)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// takeOver replaces a stale lock and verifies by token that this process won.
func takeOver(path string, content Content) error {
	if err := writeAtomic(path, content); err != nil {
		return err
	}
	got, err := readContent(path)
	if err != nil {
		return fmt.Errorf("failed to read back lock file: %w", err)
	}
	if got.Token != content.Token {
		return ErrLostRace
	}
	return nil
}

func start(path string, content Content) *Lock {
	removeLeftoverTemps(path)
	l := &Lock{
		path:    path,
		content: content,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		held:    true,
	}
	go l.heartbeat()
	plog.Debug("Lock acquired", "path", path, "owner", content.Owner)
	return l
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release stops the heartbeat and removes the lock file. Safe to call twice.
func (l *Lock) Release() {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return
	}
	l.held = false
	l.mu.Unlock()

	close(l.stop)
	<-l.done

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
		return
	}
	plog.Debug("Lock released", "path", l.path)
}

func (l *Lock) heartbeat() {
	defer close(l.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			l.content.LastUpdate = time.Now().UTC()
			content := l.content
			l.mu.Unlock()
			if err := writeAtomic(l.path, content); err != nil {
				plog.Warn("Lock heartbeat failed", "path", l.path, "error", err)
			}
		}
	}
}

func tempPattern(path string) string {
	return filepath.Base(path) + ".*.tmp"
}

// writeAtomic writes content next to path and renames it into place.
func writeAtomic(path string, content Content) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), tempPattern(path))
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp lock file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp lock file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp lock file: %w", err)
	}
	return nil
}

// readContent reads the lock, retrying briefly on empty or partial content.
func readContent(path string) (Content, error) {
	var lastErr error
	for range 3 {
		data, err := os.ReadFile(path)
		if err != nil {
			return Content{}, err
		}
		var c Content
		switch {
		case len(data) == 0:
			lastErr = errors.New("lock file is empty")
		default:
			if lastErr = json.Unmarshal(data, &c); lastErr == nil {
				return c, nil
			}
		}
		time.Sleep(readRetryWait)
	}
	return Content{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, lastErr)
}

// removeLeftoverTemps deletes temp files of crashed writers older than the stale timeout.
func removeLeftoverTemps(path string) {
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), tempPattern(path)))
	if err != nil {
		return
	}
	threshold := time.Now().Add(-staleTimeout)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove leftover temp lock file", "path", m, "error", err)
		}
	}
}
