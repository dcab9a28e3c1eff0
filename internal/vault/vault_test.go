package vault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeyring(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	k := NewKeyring("agentconfig-test")

	require.NoError(t, k.Probe())

	_, err := k.Get(ctx, "OPENROUTER_API_KEY")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, k.Set(ctx, "OPENROUTER_API_KEY", "sk-or-123"))
	v, err := k.Get(ctx, "OPENROUTER_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-or-123", v)

	require.NoError(t, k.Delete(ctx, "OPENROUTER_API_KEY"))
	require.NoError(t, k.Delete(ctx, "OPENROUTER_API_KEY"))
	_, err = k.Get(ctx, "OPENROUTER_API_KEY")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, BackendKeyring, k.Backend())
}

func TestSelect(t *testing.T) {
	dir := t.TempDir()
	opts := Options{Service: "agentconfig-test", FilePath: filepath.Join(dir, "secrets.enc")}

	t.Run("keyring available", func(t *testing.T) {
		keyring.MockInit()
		v, reason := Select(opts)
		assert.NoError(t, reason)
		assert.Equal(t, BackendKeyring, v.Backend())
	})

	t.Run("keyring failing", func(t *testing.T) {
		keyring.MockInitWithError(errors.New("no secret service"))
		v, reason := Select(opts)
		require.Error(t, reason)
		assert.Contains(t, reason.Error(), "no secret service")
		assert.Equal(t, BackendFile, v.Backend())
	})

	t.Run("disabled by option", func(t *testing.T) {
		keyring.MockInit()
		o := opts
		o.DisableKeyring = true
		v, reason := Select(o)
		assert.Error(t, reason)
		assert.Equal(t, BackendFile, v.Backend())
	})

	t.Run("disabled by environment", func(t *testing.T) {
		keyring.MockInit()
		t.Setenv(DisableKeyringEnv, "1")
		v, reason := Select(opts)
		assert.Error(t, reason)
		assert.Equal(t, BackendFile, v.Backend())
	})
}

func TestFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "secrets.enc")
	f := NewFile(path, "agentconfig-test", 0)

	_, err := f.Get(ctx, "A")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.Set(ctx, "A", "alpha"))
	require.NoError(t, f.Set(ctx, "B", "beta"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "AGV1", string(raw[:4]))
	assert.NotContains(t, string(raw), "alpha")
	assert.NotContains(t, string(raw), "beta")

	// A second handle derives the same key.
	g := NewFile(path, "agentconfig-test", 0)
	v, err := g.Get(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "beta", v)

	require.NoError(t, f.Delete(ctx, "A"))
	require.NoError(t, f.Delete(ctx, "A"))
	_, err = g.Get(ctx, "A")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, BackendFile, f.Backend())
}

func TestFileTampered(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.enc")
	f := NewFile(path, "agentconfig-test", 0)
	require.NoError(t, f.Set(ctx, "A", "alpha"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = f.Get(ctx, "A")
	assert.ErrorIs(t, err, ErrCorrupt)

	err = f.Set(ctx, "B", "beta")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFileForeignKey(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.enc")
	require.NoError(t, NewFile(path, "one-service", 0).Set(ctx, "A", "alpha"))

	_, err := NewFile(path, "another-service", 0).Get(ctx, "A")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "K", "v"))
	v, err := m.Get(ctx, "K")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, 1, m.Len())

	m.Err = errors.New("boom")
	_, err = m.Get(ctx, "K")
	assert.EqualError(t, err, "boom")
}
