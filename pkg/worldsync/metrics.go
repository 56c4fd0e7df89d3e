package worldsync

import (
	"sync/atomic"

	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

// Metrics holds the atomic counters for copy and remove operations.
type Metrics struct {
	FilesCopied   atomic.Int64
	FilesExcluded atomic.Int64
	FilesDeleted  atomic.Int64
	DirsCreated   atomic.Int64
	DirsExcluded  atomic.Int64
	DirsDeleted   atomic.Int64
	LinksCreated  atomic.Int64
	LinksRemoved  atomic.Int64
	BytesWritten  atomic.Int64
	WorldsSkipped atomic.Int64
}

func (m *Metrics) AddFilesCopied(n int64)   { m.FilesCopied.Add(n) }
func (m *Metrics) AddFilesExcluded(n int64) { m.FilesExcluded.Add(n) }
func (m *Metrics) AddFilesDeleted(n int64)  { m.FilesDeleted.Add(n) }
func (m *Metrics) AddDirsCreated(n int64)   { m.DirsCreated.Add(n) }
func (m *Metrics) AddDirsExcluded(n int64)  { m.DirsExcluded.Add(n) }
func (m *Metrics) AddDirsDeleted(n int64)   { m.DirsDeleted.Add(n) }
func (m *Metrics) AddLinksCreated(n int64)  { m.LinksCreated.Add(n) }
func (m *Metrics) AddLinksRemoved(n int64)  { m.LinksRemoved.Add(n) }
func (m *Metrics) AddBytesWritten(n int64)  { m.BytesWritten.Add(n) }
func (m *Metrics) AddWorldsSkipped(n int64) { m.WorldsSkipped.Add(n) }

// LogSummary prints the current counters.
func (m *Metrics) LogSummary(msg string) {
	plog.Info(msg,
		"filesCopied", m.FilesCopied.Load(),
		"filesExcluded", m.FilesExcluded.Load(),
		"filesDeleted", m.FilesDeleted.Load(),
		"dirsCreated", m.DirsCreated.Load(),
		"dirsExcluded", m.DirsExcluded.Load(),
		"dirsDeleted", m.DirsDeleted.Load(),
		"linksCreated", m.LinksCreated.Load(),
		"linksRemoved", m.LinksRemoved.Load(),
		"bytesWritten", m.BytesWritten.Load(),
		"worldsSkipped", m.WorldsSkipped.Load(),
	)
}
