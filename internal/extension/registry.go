// Package extension manages the registry of configured extensions: which
// capability providers exist, whether they are enabled, how they are
// launched and which settings they read.
package extension

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentconfig/internal/config"
	"github.com/opencode-ai/agentconfig/internal/event"
	"github.com/opencode-ai/agentconfig/internal/logging"
)

// Store is the subset of the config store the registry needs.
type Store interface {
	Get(ctx context.Context, key string, ns config.Namespace) (config.Value, error)
	Set(ctx context.Context, key string, v config.Value, ns config.Namespace) error
	Delete(ctx context.Context, key string, ns config.Namespace) error
	Exists(ctx context.Context, key string, ns config.Namespace) (bool, error)
	List(ctx context.Context, prefix string) (map[string]config.Value, error)
}

// PermissionCleaner drops the permission records of a removed extension.
type PermissionCleaner interface {
	RemoveExtension(ctx context.Context, extension string) error
}

// Options configures a Registry.
type Options struct {
	Store       Store
	Permissions PermissionCleaner
	Bus         *event.Bus
	Logger      *zerolog.Logger
}

// Registry is the set of configured extensions, persisted in the config store
// under "extensions.<name>".
type Registry struct {
	store Store
	perms PermissionCleaner
	bus   *event.Bus
	log   zerolog.Logger
}

// New creates a Registry.
func New(opts Options) *Registry {
	log := logging.Component("extension")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Registry{
		store: opts.Store,
		perms: opts.Permissions,
		bus:   opts.Bus,
		log:   log,
	}
}

func entryKey(name string) string {
	return KeyPrefix + name
}

// EnsureDefault seeds the default built-in when no extension is configured.
// It reports whether it added anything.
func (r *Registry) EnsureDefault(ctx context.Context) (bool, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return false, err
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := r.Add(ctx, Default()); err != nil {
		return false, err
	}
	r.log.Info().Str("extension", DefaultExtension).Msg("seeded default extension")
	return true, nil
}

// List returns every entry in install order. Entries that no longer parse
// are skipped and logged.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	docs, err := r.store.List(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(docs))
	for key, v := range docs {
		name := strings.TrimPrefix(key, KeyPrefix)
		if !namePattern.MatchString(name) {
			continue
		}
		e, err := decodeEntry(name, v)
		if err != nil {
			r.log.Warn().Err(err).Str("extension", name).Msg("skipping malformed extension entry")
			continue
		}
		entries = append(entries, e)
	}
	sortBySeq(entries)
	return entries, nil
}

// Enabled returns the enabled entries in install order.
func (r *Registry) Enabled(ctx context.Context) ([]Entry, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out, nil
}

// Get returns one entry.
func (r *Registry) Get(ctx context.Context, name string) (Entry, error) {
	v, err := r.store.Get(ctx, entryKey(name), config.Plain)
	if errors.Is(err, config.ErrNotFound) {
		return Entry{}, r.notFound(ctx, "get", name)
	}
	if err != nil {
		return Entry{}, err
	}
	e, err := decodeEntry(name, v)
	if err != nil {
		return Entry{}, &config.Error{Op: "get", Kind: config.ErrInvalidValue, Extension: name, Err: err}
	}
	return e, nil
}

// Installed reports whether an entry is stored under name, whether or not
// it still parses.
func (r *Registry) Installed(ctx context.Context, name string) (bool, error) {
	return r.store.Exists(ctx, entryKey(name), config.Plain)
}

// IsEnabled reports whether name exists and is enabled.
func (r *Registry) IsEnabled(ctx context.Context, name string) (bool, error) {
	e, err := r.Get(ctx, name)
	if errors.Is(err, config.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.Enabled, nil
}

// Add installs a new entry and seeds the defaults of its settings that are
// not already set. An entry added enabled with required settings missing is
// kept, and a warning event is published as for Enable.
func (r *Registry) Add(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return &config.Error{Op: "add", Kind: config.ErrInvalidValue, Extension: e.Name, Err: err}
	}

	entries, err := r.List(ctx)
	if err != nil {
		return err
	}
	var next int64 = 1
	for _, existing := range entries {
		if existing.Name == e.Name {
			return &config.Error{Op: "add", Kind: config.ErrConflict, Extension: e.Name}
		}
		if existing.seq >= next {
			next = existing.seq + 1
		}
	}
	if exists, err := r.store.Exists(ctx, entryKey(e.Name), config.Plain); err != nil {
		return err
	} else if exists {
		return &config.Error{Op: "add", Kind: config.ErrConflict, Extension: e.Name}
	}

	for _, k := range e.EnvKeys {
		if k.Default == nil {
			continue
		}
		exists, err := r.store.Exists(ctx, k.Name, k.Namespace())
		if err != nil {
			return err
		}
		if !exists {
			if err := r.store.Set(ctx, k.Name, *k.Default, k.Namespace()); err != nil {
				return err
			}
		}
	}

	e.seq = next
	if err := r.save(ctx, e); err != nil {
		return err
	}

	r.log.Info().Str("extension", e.Name).Str("launch", LaunchType(e.Launch)).Msg("extension added")
	r.publish(event.ExtensionAdded, e, nil)

	// The entry is stored; a failed settings lookup only loses the warning.
	if _, err := r.warnMissing(ctx, e); err != nil {
		r.log.Warn().Err(err).Str("extension", e.Name).Msg("could not check required settings")
	}
	return nil
}

// Enable turns an entry on. Missing required settings do not prevent it; the
// returned Health lists them and a warning event is published.
func (r *Registry) Enable(ctx context.Context, name string) (Health, error) {
	e, err := r.setEnabled(ctx, name, true)
	if err != nil {
		return Health{}, err
	}
	return r.warnMissing(ctx, e)
}

// warnMissing checks an entry's health and publishes a warning when it is
// enabled with required settings unresolved.
func (r *Registry) warnMissing(ctx context.Context, e Entry) (Health, error) {
	h, err := r.health(ctx, e)
	if err != nil {
		return Health{}, err
	}
	if h.Status == StatusWarning {
		r.log.Warn().Str("extension", e.Name).Strs("missing", h.Missing).Msg("extension enabled with missing required settings")
		r.publish(event.ExtensionWarning, e, h.Missing)
	}
	return h, nil
}

// Disable turns an entry off. Its settings are untouched.
func (r *Registry) Disable(ctx context.Context, name string) error {
	_, err := r.setEnabled(ctx, name, false)
	return err
}

func (r *Registry) setEnabled(ctx context.Context, name string, enabled bool) (Entry, error) {
	op := "disable"
	if enabled {
		op = "enable"
	}
	e, err := r.Get(ctx, name)
	if err != nil {
		return Entry{}, err
	}
	if !enabled {
		if err := r.checkProtected(ctx, op, e); err != nil {
			return Entry{}, err
		}
	}
	if e.Enabled == enabled {
		return e, nil
	}
	e.Enabled = enabled
	if err := r.save(ctx, e); err != nil {
		return Entry{}, err
	}
	r.log.Info().Str("extension", name).Bool("enabled", enabled).Msg("extension toggled")
	r.publish(event.ExtensionToggled, e, nil)
	return e, nil
}

// Update applies fn to an entry and saves the result. The name cannot change.
func (r *Registry) Update(ctx context.Context, name string, fn func(*Entry) error) (Entry, error) {
	e, err := r.Get(ctx, name)
	if err != nil {
		return Entry{}, err
	}
	updated := e
	updated.EnvKeys = append([]EnvKey(nil), e.EnvKeys...)
	if err := fn(&updated); err != nil {
		return Entry{}, err
	}
	if updated.Name != name {
		return Entry{}, &config.Error{Op: "update", Kind: config.ErrInvalidValue, Extension: name,
			Err: fmt.Errorf("name is immutable, got %q", updated.Name)}
	}
	if err := updated.Validate(); err != nil {
		return Entry{}, &config.Error{Op: "update", Kind: config.ErrInvalidValue, Extension: name, Err: err}
	}
	if e.Enabled && e.Required && (!updated.Enabled || !updated.Required) {
		if err := r.checkProtected(ctx, "update", e); err != nil {
			return Entry{}, err
		}
	}
	updated.seq = e.seq
	if err := r.save(ctx, updated); err != nil {
		return Entry{}, err
	}
	r.publish(event.ExtensionUpdated, updated, nil)
	return updated, nil
}

// Remove deletes an entry, the settings no surviving entry declares (in both
// namespaces) and its permission records.
func (r *Registry) Remove(ctx context.Context, name string) error {
	e, err := r.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := r.checkProtected(ctx, "remove", e); err != nil {
		return err
	}

	all, err := r.List(ctx)
	if err != nil {
		return err
	}
	refs := map[string]int{}
	for _, other := range all {
		if other.Name == name {
			continue
		}
		for _, k := range other.EnvKeys {
			refs[k.Name]++
		}
	}

	for _, k := range e.EnvKeys {
		if refs[k.Name] > 0 {
			continue
		}
		for _, ns := range []config.Namespace{config.Plain, config.Secret} {
			if err := r.store.Delete(ctx, k.Name, ns); err != nil {
				return err
			}
		}
	}

	if r.perms != nil {
		if err := r.perms.RemoveExtension(ctx, name); err != nil {
			return err
		}
	}

	if err := r.store.Delete(ctx, entryKey(name), config.Plain); err != nil {
		return err
	}

	r.log.Info().Str("extension", name).Msg("extension removed")
	r.publish(event.ExtensionRemoved, e, nil)
	return nil
}

// UpdateSetting writes one of the entry's declared settings into the
// namespace the setting declares.
func (r *Registry) UpdateSetting(ctx context.Context, name, key string, v config.Value) error {
	e, err := r.Get(ctx, name)
	if err != nil {
		return err
	}
	k, ok := e.EnvKey(key)
	if !ok {
		return &config.Error{
			Op:         "update setting",
			Kind:       config.ErrUnknownKey,
			Extension:  name,
			Key:        key,
			Suggestion: config.Suggest(key, e.envKeyNames()),
		}
	}
	return r.store.Set(ctx, k.Name, v, k.Namespace())
}

// checkProtected rejects removing or disabling the last enabled required entry.
func (r *Registry) checkProtected(ctx context.Context, op string, e Entry) error {
	if !e.Required || !e.Enabled {
		return nil
	}
	all, err := r.List(ctx)
	if err != nil {
		return err
	}
	for _, other := range all {
		if other.Name != e.Name && other.Required && other.Enabled {
			return nil
		}
	}
	return &config.Error{Op: op, Kind: config.ErrProtectedExtension, Extension: e.Name,
		Err: errors.New("it is the last required extension")}
}

func (r *Registry) notFound(ctx context.Context, op, name string) error {
	err := &config.Error{Op: op, Kind: config.ErrNotFound, Extension: name}
	if all, lerr := r.List(ctx); lerr == nil {
		names := make([]string, 0, len(all))
		for _, e := range all {
			names = append(names, e.Name)
		}
		sort.Strings(names)
		err.Suggestion = config.Suggest(name, names)
	}
	return err
}

func (r *Registry) save(ctx context.Context, e Entry) error {
	return r.store.Set(ctx, entryKey(e.Name), config.Doc(e.toDocument()), config.Plain)
}

func (r *Registry) publish(t event.EventType, e Entry, missing []string) {
	r.bus.Publish(event.Event{
		Type: t,
		Data: event.ExtensionData{Name: e.Name, Enabled: e.Enabled, Missing: missing},
	})
}

func decodeEntry(name string, v config.Value) (Entry, error) {
	doc, ok := v.AsDocument()
	if !ok {
		return Entry{}, fmt.Errorf("expected a document, got %s", v.Kind())
	}
	return fromDocument(name, doc)
}
