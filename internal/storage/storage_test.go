package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	f := NewFile(path, Options{})
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, []byte("a: 1\n")))

	data, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, "a: 1\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFile_ReadNotFound(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "missing.yaml"), Options{})

	_, err := f.Read()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFile_UpdateKeepsBackup(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "config.yaml"), Options{})
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, []byte("v1")))
	require.NoError(t, f.Write(ctx, []byte("v2")))

	backup, err := f.ReadBackup()
	require.NoError(t, err)
	assert.Equal(t, "v1", string(backup))
}

func TestFile_UpdateKeepsBackupOfValidContents(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "config.yaml"), Options{
		Valid: func(data []byte) bool { return !strings.HasPrefix(string(data), "garbage") },
	})
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, []byte("v1")))
	require.NoError(t, f.Write(ctx, []byte("v2")))
	require.NoError(t, os.WriteFile(f.Path(), []byte("garbage"), 0o600))
	require.NoError(t, f.Write(ctx, []byte("v3")))

	backup, err := f.ReadBackup()
	require.NoError(t, err)
	assert.Equal(t, "v1", string(backup))

	data, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, "v3", string(data))

	require.NoError(t, f.Write(ctx, []byte("v4")))
	backup, err = f.ReadBackup()
	require.NoError(t, err)
	assert.Equal(t, "v3", string(backup))
}

func TestFile_UpdateErrorLeavesFileUntouched(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "config.yaml"), Options{})
	ctx := context.Background()
	require.NoError(t, f.Write(ctx, []byte("original")))

	boom := errors.New("boom")
	err := f.Update(ctx, func([]byte) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	data, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestFile_CrashBeforeRename(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "config.yaml"), Options{NoBackup: true})
	ctx := context.Background()
	require.NoError(t, f.Write(ctx, []byte("key: before\n")))

	crash := errors.New("simulated crash")
	f.beforeRename = func(string) error { return crash }

	err := f.Write(ctx, []byte("key: after\n"))
	require.ErrorIs(t, err, crash)

	data, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, "key: before\n", string(data))

	// The orphaned temp file is left behind, exactly as a crash would leave it.
	matches, err := filepath.Glob(filepath.Join(dir, "config.yaml.*.tmp"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestFile_Remove(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "config.yaml"), Options{})
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, []byte("x")))
	require.NoError(t, f.Remove(ctx))
	require.NoError(t, f.Remove(ctx))

	_, err := f.Read()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFile_ConcurrentUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Separate File values share the process-wide lock for the path.
			f := NewFile(path, Options{})
			err := f.Update(ctx, func(current []byte) ([]byte, error) {
				return append(current, []byte(fmt.Sprintf("%d\n", i))...), nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	data, err := NewFile(path, Options{}).Read()
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 20)
}

func TestFileLock_TryLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	lock := NewFileLock(path)

	require.NoError(t, lock.Lock())
	assert.False(t, lock.TryLock())
	require.NoError(t, lock.Unlock())

	assert.True(t, lock.TryLock())
	require.NoError(t, lock.Unlock())

	// The lock file stays so every holder locks the same inode.
	_, err := os.Stat(path + ".lock")
	assert.NoError(t, err)
}

func TestFileLock_LockWithTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	holder := NewFileLock(path)
	require.NoError(t, holder.Lock())
	defer holder.Unlock()

	// A second FileLock on the same path contends through flock.
	waiter := NewFileLock(path)
	start := time.Now()
	err := waiter.LockWithTimeout(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}
