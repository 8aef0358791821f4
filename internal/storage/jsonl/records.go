package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/steveyegge/manna/internal/lockfile"
	"github.com/steveyegge/manna/internal/storage"
)

func openExisting(path string, flag int) (*os.File, error) {
	f, err := os.OpenFile(path, flag, 0) // #nosec G304 - controlled path
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s is missing (run 'manna init')", storage.ErrNotInitialized, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", storage.ErrIO, path, err)
	}
	return f, nil
}

func (s *Store) lock(ctx context.Context, f *os.File, mode lockfile.Mode) error {
	if err := lockfile.Acquire(ctx, f, mode, s.lockTimeout); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrLockFailed, err)
	}
	return nil
}

// readRecords decodes one T per line under a shared lock. Lines that do not
// decode, or that fail validate, are reported through warnf and skipped.
// There is no line length limit.
func readRecords[T any](ctx context.Context, s *Store, path string, validate func(*T) error, warnf func(string, ...interface{})) ([]*T, error) {
	f, err := openExisting(path, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := s.lock(ctx, f, lockfile.Shared); err != nil {
		return nil, err
	}
	defer func() { _ = lockfile.FlockUnlock(f) }()

	var (
		records []*T
		lineNo  int
		skipped int
	)
	r := bufio.NewReader(f)
	for {
		line, readErr := r.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, fmt.Errorf("%w: read %s: %w", storage.ErrIO, path, readErr)
		}
		if len(line) > 0 {
			lineNo++
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				rec := new(T)
				if err := json.Unmarshal(trimmed, rec); err != nil {
					warnf("skipping malformed line %d in %s: %v\n", lineNo, path, err)
					skipped++
				} else if err := validate(rec); err != nil {
					warnf("skipping invalid line %d in %s: %v\n", lineNo, path, err)
					skipped++
				} else {
					records = append(records, rec)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
	}
	if skipped > 0 {
		warnf("%d of %d lines in %s could not be loaded\n", skipped, lineNo, filepath.Base(path))
	}
	return records, nil
}

func encodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerialization, err)
	}
	return append(data, '\n'), nil
}

// appendRecord writes v as one line with a single write under an exclusive
// handle lock, then fsyncs. If a previous writer died mid-line the torn tail
// is terminated first so the new record starts on its own line.
func appendRecord(ctx context.Context, s *Store, path string, v any) error {
	line, err := encodeLine(v)
	if err != nil {
		return err
	}

	f, err := openExisting(path, os.O_RDWR|os.O_APPEND)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := s.lock(ctx, f, lockfile.Exclusive); err != nil {
		return err
	}
	defer func() { _ = lockfile.FlockUnlock(f) }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", storage.ErrIO, path, err)
	}
	if size := info.Size(); size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return fmt.Errorf("%w: read %s: %w", storage.ErrIO, path, err)
		}
		if last[0] != '\n' {
			s.warnf("%s did not end with a newline, repairing torn tail\n", path)
			line = append([]byte{'\n'}, line...)
		}
	}

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("%w: write %s: %w", storage.ErrIO, path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", storage.ErrIO, path, err)
	}
	return nil
}

// rewriteRecords replaces path with one line per record. The data goes to a
// locked temp file in the same directory, which is fsynced, given the
// original file's mode and renamed over path. On any failure the temp file
// is removed and path is untouched.
func rewriteRecords[T any](ctx context.Context, s *Store, path string, records []T) error {
	dir := filepath.Dir(path)
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("%w: create temp file in %s: %w", storage.ErrIO, dir, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := s.lock(ctx, tmp, lockfile.Exclusive); err != nil {
		return err
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		line, err := encodeLine(rec)
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("%w: write %s: %w", storage.ErrIO, tmpPath, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: write %s: %w", storage.ErrIO, tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", storage.ErrIO, tmpPath, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("%w: chmod %s: %w", storage.ErrIO, tmpPath, err)
	}
	// Closing releases the lock; windows cannot rename an open file.
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", storage.ErrIO, tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: replace %s: %w", storage.ErrIO, path, err)
	}
	committed = true
	syncDir(dir)
	return nil
}

// syncDir makes a rename durable. Not every platform can fsync a directory,
// so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir) // #nosec G304 - controlled path
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
