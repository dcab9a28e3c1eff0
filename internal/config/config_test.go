package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/opencode-ai/agentconfig/internal/event"
	"github.com/opencode-ai/agentconfig/internal/logging"
	"github.com/opencode-ai/agentconfig/internal/vault"
)

func noEnv(string) (string, bool) { return "", false }

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	if opts.DataDir == "" {
		opts.DataDir = opts.Dir
	}
	if opts.Vault == nil {
		opts.Vault = vault.NewMemory()
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = noEnv
	}
	if opts.Logger == nil {
		nop := logging.Nop()
		opts.Logger = &nop
	}
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTripAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	secrets := vault.NewMemory()

	values := map[string]Value{
		"provider":  String("openrouter"),
		"port":      Int(8080),
		"ratio":     Float(1.0),
		"verbose":   Bool(true),
		"quoted":    String("123"),
		"structure": Doc(Document{"a": []any{int64(1), "two"}}),
	}

	s := openTestStore(t, Options{Dir: dir, Vault: secrets})
	for k, v := range values {
		require.NoError(t, s.Set(ctx, k, v, Plain))
	}
	require.NoError(t, s.Set(ctx, "OPENROUTER_API_KEY", String("sk-or-123"), Secret))
	require.NoError(t, s.Close())

	reopened := openTestStore(t, Options{Dir: dir, Vault: secrets})
	for k, want := range values {
		got, err := reopened.Get(ctx, k, Plain)
		require.NoError(t, err, k)
		assert.True(t, want.Equal(got), "%s: want %v (%s), got %v (%s)", k, want, want.Kind(), got, got.Kind())
	}
	got, err := reopened.Get(ctx, "OPENROUTER_API_KEY", Secret)
	require.NoError(t, err)
	assert.Equal(t, String("sk-or-123"), got)

	info, err := os.Stat(reopened.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStoreNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})

	require.NoError(t, s.Set(ctx, "api_key", String("plain-value"), Plain))
	require.NoError(t, s.Set(ctx, "api_key", String("secret-value"), Secret))

	p, err := s.Get(ctx, "api_key", Plain)
	require.NoError(t, err)
	assert.Equal(t, String("plain-value"), p)

	sec, err := s.Get(ctx, "api_key", Secret)
	require.NoError(t, err)
	assert.Equal(t, String("secret-value"), sec)

	require.NoError(t, s.Delete(ctx, "api_key", Secret))
	ok, err := s.Exists(ctx, "api_key", Plain)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, "api_key", Secret)
	require.NoError(t, err)
	assert.False(t, ok)

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-value")
}

func TestStoreSecretsNeverInFileOrDump(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})

	require.NoError(t, s.Set(ctx, "model", String("gpt"), Plain))
	require.NoError(t, s.Set(ctx, "TOKEN", String("hunter2"), Secret))

	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.NotContains(t, string(raw), "TOKEN")

	dump, err := s.Dump(ctx)
	require.NoError(t, err)
	require.Len(t, dump, 1)
	assert.Equal(t, "model", dump[0].Key)
}

func TestStoreGetNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})

	_, err := s.Get(ctx, "missing", Plain)
	assert.ErrorIs(t, err, ErrNotFound)
	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "missing", cerr.Key)
	assert.Equal(t, Plain, cerr.Namespace)

	_, err = s.Get(ctx, "missing", Secret)
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := s.GetWithDefault(ctx, "missing", Plain, Int(5))
	require.NoError(t, err)
	assert.Equal(t, Int(5), v)
}

func TestStoreEnvOverride(t *testing.T) {
	ctx := context.Background()
	env := map[string]string{
		"AGENT_MODEL":           "from-env",
		"AGENT_PORT":            "9090",
		"AGENT_TIMEOUT":         "not-a-number",
		"AGENT_OPENROUTER_KEY":  "env-secret",
		"AGENT_EXTENSIONS_WEB":  "",
		"AGENT_FEATURE_ENABLED": "true",
	}
	s := openTestStore(t, Options{
		LookupEnv: func(k string) (string, bool) { v, ok := env[k]; return v, ok },
		Schema:    map[string]Kind{"timeout": KindInt, "port": KindString},
	})

	require.NoError(t, s.Set(ctx, "model", String("from-file"), Plain))
	v, err := s.Get(ctx, "model", Plain)
	require.NoError(t, err)
	assert.Equal(t, String("from-env"), v)

	// Schema decides the kind of an override.
	v, err = s.Get(ctx, "port", Plain)
	require.NoError(t, err)
	assert.Equal(t, String("9090"), v)

	v, err = s.Get(ctx, "feature_enabled", Plain)
	require.NoError(t, err)
	assert.Equal(t, Bool(true), v)

	_, err = s.Get(ctx, "timeout", Plain)
	assert.ErrorIs(t, err, ErrInvalidValue)

	// Empty variables do not override.
	require.NoError(t, s.Set(ctx, "extensions.web", Bool(false), Plain))
	v, err = s.Get(ctx, "extensions.web", Plain)
	require.NoError(t, err)
	assert.Equal(t, Bool(false), v)

	// Secrets never read the environment.
	_, err = s.Get(ctx, "openrouter_key", Secret)
	assert.ErrorIs(t, err, ErrNotFound)

	// Overrides are not stored values.
	ok, err := s.Exists(ctx, "feature_enabled", Plain)
	require.NoError(t, err)
	assert.False(t, ok)

	dump, err := s.Dump(ctx)
	require.NoError(t, err)
	for _, e := range dump {
		if e.Key == "model" {
			assert.Equal(t, "AGENT_MODEL", e.Env)
			assert.Equal(t, String("from-env"), e.Value)
		}
	}
}

func TestStoreDotenv(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AGENT_MODEL=dotenv-model\nAGENT_PROVIDER=dotenv-provider\n"), 0o600))

	s := openTestStore(t, Options{
		Dir:     dir,
		EnvFile: envFile,
		LookupEnv: func(k string) (string, bool) {
			if k == "AGENT_PROVIDER" {
				return "process-provider", true
			}
			return "", false
		},
	})

	v, err := s.Get(ctx, "model", Plain)
	require.NoError(t, err)
	assert.Equal(t, String("dotenv-model"), v)

	v, err = s.Get(ctx, "provider", Plain)
	require.NoError(t, err)
	assert.Equal(t, String("process-provider"), v)

	// A missing dotenv file is ignored.
	openTestStore(t, Options{EnvFile: filepath.Join(dir, "nope.env")})
}

func TestStoreEnvNeverOverridesPermissions(t *testing.T) {
	ctx := context.Background()
	env := map[string]string{
		"AGENT_PERMISSIONS_WEB": `{"default":"always_allow"}`,
		"AGENT_PERMISSIONS_DEV": `{"default":"always_allow"}`,
	}
	s := openTestStore(t, Options{
		LookupEnv: func(k string) (string, bool) { v, ok := env[k]; return v, ok },
	})

	stored := Doc(Document{"default": "deny"})
	require.NoError(t, s.Set(ctx, "permissions.web", stored, Plain))

	v, err := s.Get(ctx, "permissions.web", Plain)
	require.NoError(t, err)
	assert.Equal(t, stored, v)

	_, err = s.Get(ctx, "permissions.dev", Plain)
	assert.ErrorIs(t, err, ErrNotFound)

	listed, err := s.List(ctx, "permissions.")
	require.NoError(t, err)
	assert.Equal(t, map[string]Value{"permissions.web": stored}, listed)

	dump, err := s.Dump(ctx)
	require.NoError(t, err)
	require.Len(t, dump, 1)
	assert.Empty(t, dump[0].Env)

	// An explicit empty list opts back in.
	optedIn := openTestStore(t, Options{
		Dir:       filepath.Dir(s.Path()),
		EnvExempt: []string{},
		LookupEnv: func(k string) (string, bool) { v, ok := env[k]; return v, ok },
	})
	v, err = optedIn.Get(ctx, "permissions.web", Plain)
	require.NoError(t, err)
	assert.Equal(t, Doc(Document{"default": "always_allow"}), v)
}

func TestStoreCustomEnvPrefix(t *testing.T) {
	s := openTestStore(t, Options{EnvPrefix: "GOOSE_"})
	assert.Equal(t, "GOOSE_PROVIDER", s.EnvName("provider"))
}

func TestStoreSchemaValidation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{Schema: map[string]Kind{"port": KindInt}})

	err := s.Set(ctx, "port", String("8080"), Plain)
	assert.ErrorIs(t, err, ErrInvalidValue)
	ok, _ := s.Exists(ctx, "port", Plain)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "port", Int(8080), Plain))

	assert.ErrorIs(t, s.Set(ctx, "x", Value{}, Plain), ErrInvalidValue)
	assert.ErrorIs(t, s.Set(ctx, "", String("v"), Plain), ErrInvalidValue)
	assert.ErrorIs(t, s.Set(ctx, "x", String("v"), Namespace("other")), ErrInvalidValue)
}

func TestStoreDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})

	require.NoError(t, s.Delete(ctx, "never-set", Plain))
	require.NoError(t, s.Delete(ctx, "never-set", Secret))

	require.NoError(t, s.Set(ctx, "k", Int(1), Plain))
	require.NoError(t, s.Delete(ctx, "k", Plain))
	require.NoError(t, s.Delete(ctx, "k", Plain))
	ok, err := s.Exists(ctx, "k", Plain)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreDeleteLastKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openTestStore(t, Options{Dir: dir})

	require.NoError(t, s.Set(ctx, "a", String("x"), Plain))
	require.NoError(t, s.Delete(ctx, "a", Plain))

	ok, err := s.Exists(ctx, "a", Plain)
	require.NoError(t, err)
	assert.False(t, ok)

	reopened := openTestStore(t, Options{Dir: dir})
	ok, err = reopened.Exists(ctx, "a", Plain)
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := reopened.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, reopened.Set(ctx, "b", Int(2), Plain))
	v, err := reopened.Get(ctx, "b", Plain)
	require.NoError(t, err)
	assert.Equal(t, Int(2), v)
}

func TestStoreListAndKeys(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Options{})

	require.NoError(t, s.Set(ctx, "extensions.web", Doc(Document{"name": "web"}), Plain))
	require.NoError(t, s.Set(ctx, "extensions.developer", Doc(Document{"name": "developer"}), Plain))
	require.NoError(t, s.Set(ctx, "provider", String("openrouter"), Plain))

	listed, err := s.List(ctx, "extensions.")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
	assert.Contains(t, listed, "extensions.web")

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"extensions.developer", "extensions.web", "provider"}, keys)
}

func TestStoreConcurrentWritersKeepAllKeys(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := openTestStore(t, Options{Dir: dir})
	b := openTestStore(t, Options{Dir: dir})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, a.Set(ctx, fmt.Sprintf("a%d", i), Int(int64(i)), Plain))
		}(i)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, b.Set(ctx, fmt.Sprintf("b%d", i), Int(int64(i)), Plain))
		}(i)
	}
	wg.Wait()

	keys, err := a.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 20)
}

func TestStoreRecoversFromBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openTestStore(t, Options{Dir: dir})

	require.NoError(t, s.Set(ctx, "provider", String("openrouter"), Plain))
	require.NoError(t, s.Set(ctx, "model", String("m1"), Plain))

	// Corrupt the live file; the backup holds the state before the last write.
	require.NoError(t, os.WriteFile(s.Path(), []byte("provider: [unterminated\n"), 0o600))

	v, err := s.Get(ctx, "provider", Plain)
	require.NoError(t, err)
	assert.Equal(t, String("openrouter"), v)

	// The next write repairs the file.
	require.NoError(t, s.Set(ctx, "model", String("m2"), Plain))
	reopened := openTestStore(t, Options{Dir: dir})
	v, err = reopened.Get(ctx, "model", Plain)
	require.NoError(t, err)
	assert.Equal(t, String("m2"), v)
}

func TestStoreWriteOverCorruptFileKeepsBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openTestStore(t, Options{Dir: dir})

	require.NoError(t, s.Set(ctx, "provider", String("openrouter"), Plain))
	require.NoError(t, s.Set(ctx, "model", String("m1"), Plain))
	require.NoError(t, os.WriteFile(s.Path(), []byte("provider: [unterminated\n"), 0o600))

	require.NoError(t, s.Set(ctx, "model", String("m2"), Plain))

	backup, err := os.ReadFile(s.Path() + ".bak")
	require.NoError(t, err)
	entries, err := unmarshalEntries(backup)
	require.NoError(t, err)
	assert.Equal(t, String("openrouter"), entries["provider"])

	// Corrupt again: the store still recovers from a good backup.
	require.NoError(t, os.WriteFile(s.Path(), []byte("provider: [unterminated\n"), 0o600))
	require.NoError(t, s.Set(ctx, "model", String("m3"), Plain))
	v, err := s.Get(ctx, "provider", Plain)
	require.NoError(t, err)
	assert.Equal(t, String("openrouter"), v)
	v, err = s.Get(ctx, "model", Plain)
	require.NoError(t, err)
	assert.Equal(t, String("m3"), v)
}

func TestStoreUnreadableWithoutBackup(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("- not\n- a mapping\n"), 0o600))

	nop := logging.Nop()
	_, err := Open(context.Background(), Options{Dir: dir, Vault: vault.NewMemory(), LookupEnv: noEnv, Logger: &nop})
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestStoreVaultFailureIsPersistenceError(t *testing.T) {
	ctx := context.Background()
	mem := vault.NewMemory()
	s := openTestStore(t, Options{Vault: mem})

	mem.Err = errors.New("keyring locked")
	err := s.Set(ctx, "TOKEN", String("x"), Secret)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "keyring locked")

	_, err = s.Get(ctx, "TOKEN", Secret)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestStoreDegradedSecretStorage(t *testing.T) {
	keyring.MockInitWithError(errors.New("no dbus"))
	t.Cleanup(keyring.MockInit)
	ctx := context.Background()
	dir := t.TempDir()
	bus := event.NewBus()
	defer bus.Close()

	var (
		mu     sync.Mutex
		events []event.Event
	)
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	nop := logging.Nop()
	s, err := Open(ctx, Options{Dir: dir, DataDir: dir, LookupEnv: noEnv, Bus: bus, Logger: &nop})
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.Degraded(), ErrDegradedSecretStorage)
	assert.Equal(t, vault.BackendFile, s.SecretBackend())

	require.NoError(t, s.Set(ctx, "OPENROUTER_API_KEY", String("sk-or"), Secret))
	v, err := s.Get(ctx, "OPENROUTER_API_KEY", Secret)
	require.NoError(t, err)
	assert.Equal(t, String("sk-or"), v)

	raw, err := os.ReadFile(filepath.Join(dir, SecretsFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-or")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e.Type == event.SecretStorage {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestStoreKeyringBackend(t *testing.T) {
	keyring.MockInit()
	nop := logging.Nop()
	s, err := Open(context.Background(), Options{Dir: t.TempDir(), LookupEnv: noEnv, Logger: &nop})
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.Degraded())
	assert.Equal(t, vault.BackendKeyring, s.SecretBackend())
}

func TestStorePublishesEvents(t *testing.T) {
	ctx := context.Background()
	bus := event.NewBus()
	defer bus.Close()

	var (
		mu   sync.Mutex
		seen []event.ConfigChangeData
	)
	bus.SubscribeAll(func(e event.Event) {
		if d, ok := e.Data.(event.ConfigChangeData); ok {
			mu.Lock()
			seen = append(seen, d)
			mu.Unlock()
		}
	})

	s := openTestStore(t, Options{Bus: bus})
	require.NoError(t, s.Set(ctx, "model", String("m"), Plain))
	require.NoError(t, s.Set(ctx, "TOKEN", String("t"), Secret))
	require.NoError(t, s.Delete(ctx, "model", Plain))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 10*time.Millisecond)
}

func TestWatcherRefresh(t *testing.T) {
	ctx := context.Background()
	bus := event.NewBus()
	defer bus.Close()

	changed := make(chan string, 10)
	bus.Subscribe(event.ConfigFileChanged, func(e event.Event) {
		changed <- e.Data.(event.ConfigChangeData).Key
	})

	s := openTestStore(t, Options{Bus: bus})
	require.NoError(t, s.Set(ctx, "model", String("m1"), Plain))

	w, err := s.Watch()
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(s.Path(), []byte("model: m2\nprovider: openrouter\n"), 0o600))

	got := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case k := <-changed:
			got[k] = true
		case <-timeout:
			t.Fatalf("timed out, saw %v", got)
		}
	}
	assert.True(t, got["model"])
	assert.True(t, got["provider"])

	// A refresh with no change reports nothing.
	assert.Empty(t, w.Refresh())
}

func TestDiffKeys(t *testing.T) {
	before := map[string]Value{"a": Int(1), "b": String("x"), "c": Bool(true)}
	after := map[string]Value{"a": Int(1), "b": String("y"), "d": Float(1)}
	assert.Equal(t, []string{"b", "c", "d"}, diffKeys(before, after))
}
