// Package storage provides crash-safe single-file persistence: every write
// lands in a temporary file that is synced and renamed over the target while
// an exclusive file lock is held.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNotFound = errors.New("not found")
)

// Options tunes a File.
type Options struct {
	// Perm is the mode of the data file. Defaults to 0600.
	Perm os.FileMode
	// LockTimeout bounds lock acquisition. Zero blocks until the lock is free.
	LockTimeout time.Duration
	// NoBackup disables the <path>.bak copy of the previous contents.
	NoBackup bool
	// Valid reports whether contents are worth backing up. When it returns
	// false the existing backup is kept. Nil accepts everything.
	Valid func(data []byte) bool
}

// File is a single document on disk guarded by a FileLock.
type File struct {
	path string
	opts Options
	lock *FileLock

	// beforeRename runs after the temp file is written and synced, before it
	// replaces the target. Tests use it to simulate a crash.
	beforeRename func(tmpPath string) error
}

var (
	locksMu sync.Mutex
	locks   = map[string]*FileLock{}
)

// lockFor returns the process-wide lock for an absolute path so that two
// File values on the same path share one mutex.
func lockFor(path string) *FileLock {
	locksMu.Lock()
	defer locksMu.Unlock()

	lock, ok := locks[path]
	if !ok {
		lock = NewFileLock(path)
		locks[path] = lock
	}
	return lock
}

// NewFile creates a File for path. The parent directory is created lazily
// on first write.
func NewFile(path string, opts Options) *File {
	if opts.Perm == 0 {
		opts.Perm = 0o600
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &File{
		path: path,
		opts: opts,
		lock: lockFor(path),
	}
}

// Path returns the absolute path of the data file.
func (f *File) Path() string {
	return f.path
}

// BackupPath returns the path of the backup copy.
func (f *File) BackupPath() string {
	return f.path + ".bak"
}

// Read returns the current contents. ErrNotFound if the file does not exist.
func (f *File) Read() ([]byte, error) {
	return readFile(f.path)
}

// ReadBackup returns the contents of the backup copy.
func (f *File) ReadBackup() ([]byte, error) {
	return readFile(f.BackupPath())
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Write replaces the file contents atomically.
func (f *File) Write(ctx context.Context, data []byte) error {
	return f.Update(ctx, func([]byte) ([]byte, error) {
		return data, nil
	})
}

// Update runs a locked read-modify-write cycle. fn receives the current
// contents (nil if the file does not exist) and returns the new contents.
// If fn returns an error nothing is written.
func (f *File) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := f.lock.LockWithTimeout(ctx, f.opts.LockTimeout); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer f.lock.Unlock()

	current, err := f.Read()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if current != nil && !f.opts.NoBackup && f.valid(current) {
		if err := f.writeBackup(current); err != nil {
			return err
		}
	}

	return f.replace(next)
}

// Remove deletes the data file. Missing files are not an error.
func (f *File) Remove(ctx context.Context) error {
	if err := f.lock.LockWithTimeout(ctx, f.opts.LockTimeout); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer f.lock.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (f *File) valid(data []byte) bool {
	return f.opts.Valid == nil || f.opts.Valid(data)
}

func (f *File) writeBackup(data []byte) error {
	tmp, err := f.writeTemp(data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, f.BackupPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return nil
}

// replace writes data to a unique temp file and renames it over the target.
func (f *File) replace(data []byte) error {
	tmp, err := f.writeTemp(data)
	if err != nil {
		return err
	}

	if f.beforeRename != nil {
		if err := f.beforeRename(tmp); err != nil {
			return err
		}
	}

	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return syncDir(filepath.Dir(f.path))
}

func (f *File) writeTemp(data []byte) (string, error) {
	tmpPath := fmt.Sprintf("%s.%s.tmp", f.path, ulid.Make().String())

	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, f.opts.Perm)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return tmpPath, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory: %w", err)
	}
	defer d.Close()
	// Some filesystems refuse to fsync directories; the rename already happened.
	_ = d.Sync()
	return nil
}
