// Package signup stores the credentials a provider sign-up flow obtains.
package signup

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentconfig/internal/config"
	"github.com/opencode-ai/agentconfig/internal/logging"
)

const (
	// ProviderKey is the plain key naming the active provider.
	ProviderKey = "provider"
	// ModelKey is the plain key naming the active model.
	ModelKey = "model"
)

// Store is the subset of the config store sign-up needs.
type Store interface {
	Set(ctx context.Context, key string, v config.Value, ns config.Namespace) error
	Degraded() error
}

// Options configures a Service.
type Options struct {
	Store Store
	// RequireSecureStorage refuses to store secrets in the file fallback.
	RequireSecureStorage bool
	Logger               *zerolog.Logger
}

// Service is the sign-up collaborator.
type Service struct {
	store         Store
	requireSecure bool
	log           zerolog.Logger
}

func New(opts Options) *Service {
	log := logging.Component("signup")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Service{store: opts.Store, requireSecure: opts.RequireSecureStorage, log: log}
}

// DerivedKey returns the secret key a provider's API key is stored under:
// "openrouter" becomes "OPENROUTER_API_KEY".
func DerivedKey(provider string) string {
	return config.EnvName("", provider) + "_API_KEY"
}

// StoreProviderSecret saves a provider's API key in the secret namespace.
func (s *Service) StoreProviderSecret(ctx context.Context, provider, secret string) error {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return &config.Error{Op: "signup", Kind: config.ErrInvalidValue, Err: errors.New("empty provider")}
	}
	if secret == "" {
		return &config.Error{Op: "signup", Kind: config.ErrInvalidValue, Key: DerivedKey(provider), Namespace: config.Secret,
			Err: errors.New("empty secret")}
	}
	if s.requireSecure {
		if err := s.store.Degraded(); err != nil {
			return err
		}
	}

	key := DerivedKey(provider)
	if err := s.store.Set(ctx, key, config.String(secret), config.Secret); err != nil {
		return err
	}
	s.log.Info().Str("provider", provider).Str("key", key).Msg("provider secret stored")
	return nil
}

// ConfigureProvider stores the API key and makes the provider and model the
// active ones.
func (s *Service) ConfigureProvider(ctx context.Context, provider, secret, model string) error {
	if err := s.StoreProviderSecret(ctx, provider, secret); err != nil {
		return err
	}
	if err := s.store.Set(ctx, ProviderKey, config.String(strings.TrimSpace(provider)), config.Plain); err != nil {
		return err
	}
	if model != "" {
		if err := s.store.Set(ctx, ModelKey, config.String(model), config.Plain); err != nil {
			return err
		}
	}
	return nil
}
