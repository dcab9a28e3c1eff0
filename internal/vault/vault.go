// Package vault stores secrets outside the plain configuration file: in the
// platform credential store when one is reachable, otherwise in a locally
// encrypted file.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrNotFound is returned when a secret does not exist.
var ErrNotFound = errors.New("secret not found")

// Backend names the storage a Vault writes to.
type Backend string

const (
	BackendKeyring Backend = "keyring"
	BackendFile    Backend = "file"
	BackendMemory  Backend = "memory"
)

// Vault is a flat key to secret-string store.
type Vault interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Backend() Backend
}

// Options configures backend selection.
type Options struct {
	// Service is the keyring service name and part of the file key material.
	Service string
	// FilePath is where the encrypted fallback lives.
	FilePath string
	// DisableKeyring forces the file backend.
	DisableKeyring bool
	// LockTimeout bounds file lock acquisition for the file backend.
	LockTimeout time.Duration
}

// DisableKeyringEnv forces the file backend when set to a true value.
const DisableKeyringEnv = "AGENT_DISABLE_KEYRING"

// Select returns the platform keyring when it is usable, otherwise the
// encrypted file. reason is non-nil exactly when the file fallback was chosen
// and explains why; the returned Vault is usable either way.
func Select(opts Options) (v Vault, reason error) {
	file := NewFile(opts.FilePath, opts.Service, opts.LockTimeout)

	if opts.DisableKeyring || envTrue(os.Getenv(DisableKeyringEnv)) {
		return file, errors.New("keyring disabled by configuration")
	}

	kr := NewKeyring(opts.Service)
	if err := kr.Probe(); err != nil {
		return file, fmt.Errorf("keyring unavailable: %w", err)
	}
	return kr, nil
}

func envTrue(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
