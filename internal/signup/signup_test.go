package signup

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/opencode-ai/agentconfig/internal/config"
	"github.com/opencode-ai/agentconfig/internal/logging"
	"github.com/opencode-ai/agentconfig/internal/vault"
)

func openStore(t *testing.T, opts config.Options) *config.Store {
	t.Helper()
	nop := logging.Nop()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	opts.DataDir = opts.Dir
	opts.LookupEnv = func(string) (string, bool) { return "", false }
	opts.Logger = &nop
	s, err := config.Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDerivedKey(t *testing.T) {
	assert.Equal(t, "OPENROUTER_API_KEY", DerivedKey("openrouter"))
	assert.Equal(t, "GOOGLE_VERTEX_API_KEY", DerivedKey("google-vertex"))
}

func TestStoreProviderSecret(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, config.Options{Vault: vault.NewMemory()})
	nop := logging.Nop()
	s := New(Options{Store: store, Logger: &nop})

	require.NoError(t, s.StoreProviderSecret(ctx, "openrouter", "sk-or-v1-abc"))

	v, err := store.Get(ctx, "OPENROUTER_API_KEY", config.Secret)
	require.NoError(t, err)
	assert.Equal(t, config.String("sk-or-v1-abc"), v)

	ok, err := store.Exists(ctx, "OPENROUTER_API_KEY", config.Plain)
	require.NoError(t, err)
	assert.False(t, ok)

	raw, err := os.ReadFile(store.Path())
	if err == nil {
		assert.NotContains(t, string(raw), "sk-or-v1-abc")
	}

	assert.ErrorIs(t, s.StoreProviderSecret(ctx, "", "x"), config.ErrInvalidValue)
	assert.ErrorIs(t, s.StoreProviderSecret(ctx, "openrouter", ""), config.ErrInvalidValue)
}

func TestConfigureProvider(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, config.Options{Vault: vault.NewMemory()})
	s := New(Options{Store: store})

	require.NoError(t, s.ConfigureProvider(ctx, "openrouter", "sk-or", "anthropic/claude-sonnet-4"))

	v, err := store.Get(ctx, ProviderKey, config.Plain)
	require.NoError(t, err)
	assert.Equal(t, config.String("openrouter"), v)
	v, err = store.Get(ctx, ModelKey, config.Plain)
	require.NoError(t, err)
	assert.Equal(t, config.String("anthropic/claude-sonnet-4"), v)
}

func TestRequireSecureStorage(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))
	t.Cleanup(keyring.MockInit)
	ctx := context.Background()

	store := openStore(t, config.Options{})
	require.Error(t, store.Degraded())

	strict := New(Options{Store: store, RequireSecureStorage: true})
	err := strict.StoreProviderSecret(ctx, "openrouter", "sk-or")
	assert.ErrorIs(t, err, config.ErrDegradedSecretStorage)

	_, err = store.Get(ctx, "OPENROUTER_API_KEY", config.Secret)
	assert.ErrorIs(t, err, config.ErrNotFound)

	// Without the requirement the encrypted file is used.
	lenient := New(Options{Store: store})
	require.NoError(t, lenient.StoreProviderSecret(ctx, "openrouter", "sk-or"))
	v, err := store.Get(ctx, "OPENROUTER_API_KEY", config.Secret)
	require.NoError(t, err)
	assert.Equal(t, config.String("sk-or"), v)
}
