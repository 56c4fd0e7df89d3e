// Package archive packs the overwrite backup directory into a single
// compressed tarball kept next to it.
//
// Only one archive is retained: a new archive replaces the previous one
// atomically once it has been written completely.
package archive

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

// ErrDisabled is returned by Pack when archiving is turned off.
var ErrDisabled = errors.New("archive is disabled")

// Plan configures the overwrite archive.
type Plan struct {
	Enabled bool
	Format  Format
	Level   Level
	// BufferSizeKB sizes the write buffer in front of the compressor.
	BufferSizeKB int
}

// PathFor returns the archive file that belongs to dir.
func PathFor(dir string, format Format) string {
	return filepath.Clean(dir) + format.Extension()
}

// Pack writes dir into the archive returned by PathFor and returns that path.
func Pack(ctx context.Context, dir string, p *Plan) (_ string, retErr error) {
	if p == nil || !p.Enabled {
		return "", ErrDisabled
	}

	archivePath := PathFor(dir, p.Format)
	plog.Info("Packing overwrite archive", "source", dir, "archive", archivePath, "format", p.Format)

	tmp, err := os.CreateTemp(filepath.Dir(archivePath), "pgl-worldreset-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := writeTar(ctx, tmp, dir, p); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp archive: %w", err)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		return "", fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}
	return archivePath, nil
}

func newCompressor(w io.Writer, format Format, level Level) (io.WriteCloser, error) {
	switch format {
	case TarZst:
		var encoderLevel zstd.EncoderLevel
		switch level {
		case Fastest:
			encoderLevel = zstd.SpeedFastest
		case Better:
			encoderLevel = zstd.SpeedBetterCompression
		case Best:
			encoderLevel = zstd.SpeedBestCompression
		default:
			encoderLevel = zstd.SpeedDefault
		}
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(encoderLevel))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zw, nil
	case TarGz:
		lvl := pgzip.DefaultCompression
		switch level {
		case Fastest:
			lvl = pgzip.BestSpeed
		case Better:
			lvl = 6
		case Best:
			lvl = pgzip.BestCompression
		}
		gw, err := pgzip.NewWriterLevel(w, lvl)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unsupported archive format: %s", format)
	}
}

func writeTar(ctx context.Context, w io.Writer, dir string, p *Plan) (retErr error) {
	bufSize := p.BufferSizeKB * 1024
	if bufSize <= 0 {
		bufSize = 256 * 1024
	}
	bufWriter := bufio.NewWriterSize(w, bufSize)

	cw, err := newCompressor(bufWriter, p.Format, p.Level)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)

	defer func() {
		if err := tw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := cw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	base := filepath.Base(dir)
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", path, err)
		}
		name := filepath.ToSlash(filepath.Join(base, rel))

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info for %s: %w", path, err)
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return fmt.Errorf("failed to read link %s: %w", path, err)
			}
		}
		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("failed to create tar header for %s: %w", name, err)
		}
		header.Name = name
		if d.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", name, err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		plog.Notice("ADD", "file", name)
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open file %s: %w", path, err)
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", path, err)
		}
		return nil
	})
}
