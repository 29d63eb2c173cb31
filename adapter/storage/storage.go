// Package storage implements [domain.Storage]: the raw filesystem
// operations the persistence layer composes into an append-only log and a
// crash-safe whole-file rewrite, with no interpretation of the bytes
// involved.
package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/dolmen-go/contextio"

	"satchel/domain"
)

// Storage implements [domain.Storage].
type Storage struct{}

// New returns a new [domain.Storage].
func New() domain.Storage {
	return &Storage{}
}

// AppendFile implements [domain.Storage].
func (s *Storage) AppendFile(ctx context.Context, path string, mode os.FileMode, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, mode)
	if err != nil {
		return err
	}
	defer f.Close()
	w := contextio.NewWriter(ctx, f)
	_, err = w.Write(data)
	return err
}

// Exists implements [domain.Storage].
func (s *Storage) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// EnsureParentDirectoryExists implements [domain.Storage].
func (s *Storage) EnsureParentDirectoryExists(path string, mode os.FileMode) error {
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return err
	}
	root := filepath.VolumeName(dir) + string(os.PathSeparator)
	if runtime.GOOS == "windows" && dir == root {
		return nil
	}
	return os.MkdirAll(dir, mode)
}

// EnsureDatafileIntegrity implements [domain.Storage]. If the main file is
// missing but its crash-safe temp sibling exists, the previous rewrite
// completed writing but was interrupted before the rename; promote it.
func (s *Storage) EnsureDatafileIntegrity(path string, mode os.FileMode) error {
	tmp := path + "~"

	exists, err := s.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	tmpExists, err := s.Exists(tmp)
	if err != nil {
		return err
	}
	if !tmpExists {
		return os.WriteFile(path, nil, mode)
	}
	return os.Rename(tmp, path)
}

// CrashSafeWriteFileLines implements [domain.Storage]. It writes lines to a
// temp sibling, fsyncs it, then renames it over path, fsyncing the
// directory on both sides of the rename so a crash can never leave the
// datafile partially written.
func (s *Storage) CrashSafeWriteFileLines(ctx context.Context, path string, lines [][]byte, fileMode, dirMode os.FileMode) error {
	tmp := path + "~"

	if err := s.flush(filepath.Dir(path), true, dirMode); err != nil {
		return err
	}

	exists, err := s.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		if err := s.flush(path, false, fileMode); err != nil {
			return err
		}
	}

	if err := s.writeLines(ctx, tmp, lines, fileMode); err != nil {
		return err
	}
	if err := s.flush(tmp, false, fileMode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return s.flush(filepath.Dir(path), true, dirMode)
}

func (s *Storage) writeLines(ctx context.Context, path string, lines [][]byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()
	w := contextio.NewWriter(ctx, f)
	for _, line := range lines {
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) flush(path string, isDir bool, mode os.FileMode) error {
	flags := os.O_RDWR
	if isDir {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return &domain.ErrFlushToStorage{Op: "open", Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &domain.ErrFlushToStorage{Op: "fsync", Err: err}
	}
	if err := f.Close(); err != nil {
		return &domain.ErrFlushToStorage{Op: "close", Err: err}
	}
	return nil
}

// ReadFileStream implements [domain.Storage].
func (s *Storage) ReadFileStream(path string, mode os.FileMode) (io.ReadCloser, error) {
	return os.OpenFile(path, os.O_RDONLY, mode)
}

// Remove implements [domain.Storage].
func (s *Storage) Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
