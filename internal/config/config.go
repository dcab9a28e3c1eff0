package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentconfig/internal/event"
	"github.com/opencode-ai/agentconfig/internal/logging"
	"github.com/opencode-ai/agentconfig/internal/storage"
	"github.com/opencode-ai/agentconfig/internal/vault"
)

// Namespace selects plain or secret storage. The two are independent: the
// same key may exist in both.
type Namespace string

const (
	Plain  Namespace = "plain"
	Secret Namespace = "secret"
)

// ParseNamespace maps "plain" / "secret" to a Namespace.
func ParseNamespace(s string) (Namespace, error) {
	switch Namespace(strings.ToLower(s)) {
	case Plain:
		return Plain, nil
	case Secret:
		return Secret, nil
	}
	return "", fmt.Errorf("%w: unknown namespace %q", ErrInvalidValue, s)
}

// Options configures a Store.
type Options struct {
	// Dir holds config.yaml. Defaults to GetPaths().Config.
	Dir string
	// DataDir holds the encrypted secret fallback. Defaults to GetPaths().Data.
	DataDir string
	// Service names the keyring service. Defaults to AppName.
	Service string

	// EnvPrefix prefixes environment overrides. Defaults to DefaultEnvPrefix.
	EnvPrefix string
	// EnvFile is an optional dotenv file consulted after the process environment.
	EnvFile string
	// LookupEnv replaces os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// EnvExempt lists key prefixes the environment never overrides.
	// Defaults to DefaultEnvExempt.
	EnvExempt []string

	// Schema declares the kind of known keys. Writes of another kind and
	// unparseable overrides fail with ErrInvalidValue.
	Schema map[string]Kind

	// Vault replaces backend selection.
	Vault vault.Vault
	// DisableKeyring forces the encrypted file backend.
	DisableKeyring bool

	// LockTimeout bounds file lock acquisition. Zero waits indefinitely.
	LockTimeout time.Duration

	Bus    *event.Bus
	Logger *zerolog.Logger
}

// Store is the key-value configuration store. Plain values live in a YAML
// file; secrets live in a Vault. A Store is safe for concurrent use, and
// several processes may share the same files.
type Store struct {
	opts     Options
	file     *storage.File
	vault    vault.Vault
	degraded error
	env      environment
	bus      *event.Bus
	log      zerolog.Logger

	closeOnce sync.Once
}

// errUnchanged aborts an Update without writing.
var errUnchanged = errors.New("unchanged")

// Open locates the backing files and selects a secret backend. When the
// platform keyring is unusable the store still opens, secrets go to the
// encrypted file and Degraded reports why.
func Open(ctx context.Context, opts Options) (*Store, error) {
	paths := GetPaths()
	if opts.Dir == "" {
		opts.Dir = paths.Config
	}
	if opts.DataDir == "" {
		opts.DataDir = paths.Data
	}
	if opts.Service == "" {
		opts.Service = AppName
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = DefaultEnvPrefix
	}
	if opts.EnvExempt == nil {
		opts.EnvExempt = DefaultEnvExempt
	}

	log := logging.Component("config")
	if opts.Logger != nil {
		log = *opts.Logger
	}

	env, err := newEnvironment(opts.LookupEnv, opts.EnvFile)
	if err != nil {
		return nil, &Error{Op: "open", Kind: ErrPersistence, Err: err}
	}

	s := &Store{
		opts: opts,
		file: storage.NewFile(filepath.Join(opts.Dir, ConfigFileName), storage.Options{
			Perm:        0o600,
			LockTimeout: opts.LockTimeout,
			Valid: func(data []byte) bool {
				_, err := unmarshalEntries(data)
				return err == nil
			},
		}),
		env: env,
		bus: opts.Bus,
		log: log,
	}

	if opts.Vault != nil {
		s.vault = opts.Vault
	} else {
		v, reason := vault.Select(vault.Options{
			Service:        opts.Service,
			FilePath:       filepath.Join(opts.DataDir, SecretsFileName),
			DisableKeyring: opts.DisableKeyring,
			LockTimeout:    opts.LockTimeout,
		})
		s.vault = v
		if reason != nil {
			s.degraded = &Error{Op: "open", Kind: ErrDegradedSecretStorage, Err: reason}
			s.log.Warn().
				Str("backend", string(v.Backend())).
				Str("reason", reason.Error()).
				Msg("secure secret storage unavailable, falling back to encrypted file")
			s.bus.Publish(event.Event{
				Type: event.SecretStorage,
				Data: event.SecretStorageData{Backend: string(v.Backend()), Reason: reason.Error()},
			})
		}
	}

	if _, err := s.load(); err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("path", s.file.Path()).
		Str("secrets", string(s.vault.Backend())).
		Msg("config store opened")
	return s, nil
}

// Path returns the plain configuration file path.
func (s *Store) Path() string {
	return s.file.Path()
}

// EnvName returns the environment variable overriding a plain key.
func (s *Store) EnvName(key string) string {
	return EnvName(s.opts.EnvPrefix, key)
}

// Degraded returns a non-nil error wrapping ErrDegradedSecretStorage when
// secrets are kept in the encrypted file fallback.
func (s *Store) Degraded() error {
	return s.degraded
}

// SecretBackend names the active secret backend.
func (s *Store) SecretBackend() vault.Backend {
	return s.vault.Backend()
}

// Get resolves a key. Plain keys check the environment override first, then
// the file. Secrets come from the vault only.
func (s *Store) Get(ctx context.Context, key string, ns Namespace) (Value, error) {
	if err := checkKey("get", key, ns); err != nil {
		return Value{}, err
	}
	if ns == Secret {
		return s.getSecret(ctx, key)
	}

	if v, ok, err := s.override(key); err != nil || ok {
		return v, err
	}

	entries, err := s.load()
	if err != nil {
		return Value{}, err
	}
	v, ok := entries[key]
	if !ok {
		return Value{}, &Error{Op: "get", Kind: ErrNotFound, Key: key, Namespace: ns}
	}
	return v, nil
}

// GetWithDefault is Get with def in place of ErrNotFound.
func (s *Store) GetWithDefault(ctx context.Context, key string, ns Namespace, def Value) (Value, error) {
	v, err := s.Get(ctx, key, ns)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return v, err
}

// Set stores a value. Plain writes are a locked read-modify-write of the
// whole file; on failure the file is left as it was.
func (s *Store) Set(ctx context.Context, key string, v Value, ns Namespace) error {
	if err := checkKey("set", key, ns); err != nil {
		return err
	}
	if err := s.validate(key, v, ns); err != nil {
		return err
	}

	if ns == Secret {
		return s.setSecret(ctx, key, v)
	}

	err := s.file.Update(ctx, func(current []byte) ([]byte, error) {
		entries, err := s.decode(current)
		if err != nil {
			return nil, err
		}
		entries[key] = v
		return marshalEntries(entries)
	})
	if err != nil {
		return s.persistErr("set", key, ns, err)
	}

	s.log.Debug().Str("key", key).Str("kind", v.Kind().String()).Msg("config value set")
	s.publish(event.ConfigSet, key, ns)
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string, ns Namespace) error {
	if err := checkKey("delete", key, ns); err != nil {
		return err
	}

	if ns == Secret {
		if err := s.vault.Delete(ctx, key); err != nil {
			return s.persistErr("delete", key, ns, err)
		}
		s.publish(event.SecretDeleted, key, ns)
		return nil
	}

	err := s.file.Update(ctx, func(current []byte) ([]byte, error) {
		entries, err := s.decode(current)
		if err != nil {
			return nil, err
		}
		if _, ok := entries[key]; !ok {
			return nil, errUnchanged
		}
		delete(entries, key)
		return marshalEntries(entries)
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return s.persistErr("delete", key, ns, err)
	}

	s.log.Debug().Str("key", key).Msg("config value deleted")
	s.publish(event.ConfigDeleted, key, ns)
	return nil
}

// Exists reports whether key is stored in ns. Environment overrides do not
// count as stored.
func (s *Store) Exists(ctx context.Context, key string, ns Namespace) (bool, error) {
	if err := checkKey("exists", key, ns); err != nil {
		return false, err
	}
	if ns == Secret {
		_, err := s.vault.Get(ctx, key)
		if errors.Is(err, vault.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, s.persistErr("exists", key, ns, err)
		}
		return true, nil
	}

	entries, err := s.load()
	if err != nil {
		return false, err
	}
	_, ok := entries[key]
	return ok, nil
}

// List returns the effective plain values of every stored key starting with
// prefix. Environment overrides apply to the listed keys.
func (s *Store) List(ctx context.Context, prefix string) (map[string]Value, error) {
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Value)
	for k, v := range entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if ov, ok, err := s.override(k); err != nil {
			return nil, err
		} else if ok {
			v = ov
		}
		out[k] = v
	}
	return out, nil
}

// Keys returns the stored plain keys in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// DumpEntry is one line of a diagnostic dump.
type DumpEntry struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
	// Env names the override variable when the value came from the environment.
	Env string `json:"env,omitempty"`
}

// Dump lists the effective plain configuration. Secrets are never included.
func (s *Store) Dump(ctx context.Context) ([]DumpEntry, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]DumpEntry, 0, len(keys))
	for _, k := range keys {
		e := DumpEntry{Key: k, Value: entries[k]}
		if v, ok, err := s.override(k); err != nil {
			return nil, err
		} else if ok {
			e.Value = v
			e.Env = s.EnvName(k)
		}
		out = append(out, e)
	}
	return out, nil
}

// Close releases the store. It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.log.Debug().Msg("config store closed")
	})
	return nil
}

func (s *Store) getSecret(ctx context.Context, key string) (Value, error) {
	raw, err := s.vault.Get(ctx, key)
	if errors.Is(err, vault.ErrNotFound) {
		return Value{}, &Error{Op: "get", Kind: ErrNotFound, Key: key, Namespace: Secret}
	}
	if err != nil {
		return Value{}, s.persistErr("get", key, Secret, err)
	}
	v, err := unmarshalValue([]byte(raw))
	if err != nil {
		return Value{}, &Error{Op: "get", Kind: ErrPersistence, Key: key, Namespace: Secret, Err: err}
	}
	return v, nil
}

func (s *Store) setSecret(ctx context.Context, key string, v Value) error {
	raw, err := marshalValue(v)
	if err != nil {
		return &Error{Op: "set", Kind: ErrInvalidValue, Key: key, Namespace: Secret, Err: err}
	}
	if err := s.vault.Set(ctx, key, string(raw)); err != nil {
		return s.persistErr("set", key, Secret, err)
	}
	s.log.Debug().Str("key", key).Str("backend", string(s.vault.Backend())).Msg("secret set")
	s.publish(event.SecretSet, key, Secret)
	return nil
}

// override reads the environment override for a plain key.
func (s *Store) override(key string) (Value, bool, error) {
	for _, p := range s.opts.EnvExempt {
		if strings.HasPrefix(key, p) {
			return Value{}, false, nil
		}
	}
	raw, ok := s.env.get(s.EnvName(key))
	if !ok {
		return Value{}, false, nil
	}
	if kind, known := s.opts.Schema[key]; known {
		v, err := ParseAs(raw, kind)
		if err != nil {
			return Value{}, false, &Error{Op: "get", Kind: ErrInvalidValue, Key: key, Namespace: Plain, Err: fmt.Errorf("%s: %w", s.EnvName(key), err)}
		}
		return v, true, nil
	}
	return ParseValue(raw), true, nil
}

func (s *Store) validate(key string, v Value, ns Namespace) error {
	if !v.IsValid() {
		return &Error{Op: "set", Kind: ErrInvalidValue, Key: key, Namespace: ns, Err: errors.New("zero value")}
	}
	if ns != Plain {
		return nil
	}
	if kind, known := s.opts.Schema[key]; known && kind != v.Kind() {
		return &Error{Op: "set", Kind: ErrInvalidValue, Key: key, Namespace: ns,
			Err: fmt.Errorf("expected %s, got %s", kind, v.Kind())}
	}
	return nil
}

// load reads and decodes the plain file, recovering from the backup when
// the file does not parse.
func (s *Store) load() (map[string]Value, error) {
	data, err := s.file.Read()
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]Value{}, nil
	}
	if err != nil {
		return nil, &Error{Op: "load", Kind: ErrPersistence, Err: err}
	}
	return s.decode(data)
}

func (s *Store) decode(data []byte) (map[string]Value, error) {
	entries, err := unmarshalEntries(data)
	if err == nil {
		return entries, nil
	}

	backup, berr := s.file.ReadBackup()
	if berr == nil {
		if recovered, rerr := unmarshalEntries(backup); rerr == nil {
			s.log.Warn().Err(err).Str("backup", s.file.BackupPath()).Msg("config file unreadable, using backup")
			return recovered, nil
		}
	}
	return nil, &Error{Op: "load", Kind: ErrPersistence, Err: fmt.Errorf("%s: %w", s.file.Path(), err)}
}

func (s *Store) persistErr(op, key string, ns Namespace, err error) error {
	var cerr *Error
	if errors.As(err, &cerr) {
		return err
	}
	return &Error{Op: op, Kind: ErrPersistence, Key: key, Namespace: ns, Err: err}
}

func (s *Store) publish(t event.EventType, key string, ns Namespace) {
	s.bus.Publish(event.Event{Type: t, Data: event.ConfigChangeData{Key: key, Namespace: string(ns)}})
}

func checkKey(op, key string, ns Namespace) error {
	if key == "" {
		return &Error{Op: op, Kind: ErrInvalidValue, Namespace: ns, Err: errors.New("empty key")}
	}
	if ns != Plain && ns != Secret {
		return &Error{Op: op, Kind: ErrInvalidValue, Key: key, Err: fmt.Errorf("unknown namespace %q", ns)}
	}
	return nil
}
