package vault

import (
	"context"
	"errors"

	"github.com/zalando/go-keyring"
)

// probeKey is looked up once to tell "no such secret" from "no keyring".
const probeKey = "__agentconfig_probe__"

// Keyring stores one platform credential per key under a service name.
type Keyring struct {
	service string
}

// NewKeyring creates a keyring-backed vault.
func NewKeyring(service string) *Keyring {
	return &Keyring{service: service}
}

// Probe reports whether the platform credential store answers.
func (k *Keyring) Probe() error {
	_, err := keyring.Get(k.service, probeKey)
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

func (k *Keyring) Get(_ context.Context, key string) (string, error) {
	v, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return v, nil
}

func (k *Keyring) Set(_ context.Context, key, value string) error {
	return keyring.Set(k.service, key, value)
}

func (k *Keyring) Delete(_ context.Context, key string) error {
	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

func (k *Keyring) Backend() Backend { return BackendKeyring }
