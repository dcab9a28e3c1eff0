package permission

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentconfig/internal/config"
	"github.com/opencode-ai/agentconfig/internal/event"
	"github.com/opencode-ai/agentconfig/internal/logging"
)

// KeyPrefix prefixes the plain config key of every extension's record.
const KeyPrefix = "permissions."

// Store is the subset of the config store the manager needs.
type Store interface {
	Get(ctx context.Context, key string, ns config.Namespace) (config.Value, error)
	Set(ctx context.Context, key string, v config.Value, ns config.Namespace) error
	Delete(ctx context.Context, key string, ns config.Namespace) error
	List(ctx context.Context, prefix string) (map[string]config.Value, error)
}

// Options configures a Manager.
type Options struct {
	Store Store
	// Default applies when no record exists. Defaults to DefaultLevel.
	Default Level
	// Installed reports whether an extension is registered. When set, a
	// decision for an unregistered extension uses Default without recording
	// it, so no record outlives the extension it belongs to.
	Installed func(ctx context.Context, ext string) (bool, error)
	Bus       *event.Bus
	Logger    *zerolog.Logger
}

// Manager resolves and records permission levels. Levels persist in the
// config store; "ask once" approvals last for the life of the Manager, or
// until ResetSession.
type Manager struct {
	store     Store
	fallback  Level
	installed func(ctx context.Context, ext string) (bool, error)
	memo      *sessionMemo
	bus      *event.Bus
	log      zerolog.Logger
}

// NewManager creates a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Default == "" {
		opts.Default = DefaultLevel
	}
	if !opts.Default.Valid() {
		return nil, fmt.Errorf("invalid default permission level %q", opts.Default)
	}
	log := logging.Component("permission")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Manager{
		store:     opts.Store,
		fallback:  opts.Default,
		installed: opts.Installed,
		memo:      newSessionMemo(),
		bus:       opts.Bus,
		log:       log,
	}, nil
}

func recordKey(ext string) string {
	return KeyPrefix + ext
}

// Level returns the effective level of a tool. An empty tool asks for the
// extension-wide level. Precedence: tool record (exact, then the most
// specific wildcard), extension record, default.
func (m *Manager) Level(ctx context.Context, ext, tool string) (Level, error) {
	if ext == "" {
		return "", m.invalid("level", ext, tool, errors.New("empty extension"))
	}
	rec, _, err := m.record(ctx, ext)
	if err != nil {
		return "", err
	}
	return m.resolve(rec, tool), nil
}

// SetLevel stores a level for a tool, or for the extension when tool is
// empty. Any "ask once" approval the change affects is forgotten.
func (m *Manager) SetLevel(ctx context.Context, ext, tool string, level Level) error {
	if ext == "" {
		return m.invalid("set", ext, tool, errors.New("empty extension"))
	}
	if !level.Valid() {
		return m.invalid("set", ext, tool, fmt.Errorf("unknown level %q", level))
	}

	rec, _, err := m.record(ctx, ext)
	if err != nil {
		return err
	}
	if tool == "" {
		rec.Default = level
	} else {
		if rec.Tools == nil {
			rec.Tools = map[string]Level{}
		}
		rec.Tools[tool] = level
	}
	if err := m.save(ctx, rec); err != nil {
		return err
	}

	if tool == "" || isPattern(tool) {
		m.memo.forgetExtension(ext)
	} else {
		m.memo.forget(ext, tool)
	}

	m.log.Info().Str("extension", ext).Str("tool", tool).Str("level", string(level)).Msg("permission level set")
	m.bus.Publish(event.Event{
		Type: event.PermissionChanged,
		Data: event.PermissionData{Extension: ext, Tool: tool, Level: string(level)},
	})
	return nil
}

// Decide resolves whether a tool call may proceed. Any failure to read or
// write the records yields DecisionDeny along with the error.
func (m *Manager) Decide(ctx context.Context, ext, tool string) (Decision, error) {
	if ext == "" {
		return DecisionDeny, m.invalid("decide", ext, tool, errors.New("empty extension"))
	}

	rec, found, err := m.record(ctx, ext)
	if err != nil {
		return DecisionDeny, err
	}
	if !found {
		rec.Default = m.fallback
		persist := true
		if m.installed != nil {
			if persist, err = m.installed(ctx, ext); err != nil {
				return DecisionDeny, err
			}
		}
		if persist {
			if err := m.save(ctx, rec); err != nil {
				return DecisionDeny, err
			}
			m.log.Debug().Str("extension", ext).Str("level", string(m.fallback)).Msg("recorded default permission")
		} else {
			m.log.Debug().Str("extension", ext).Msg("extension not installed, default permission not recorded")
		}
	}

	level := m.resolve(rec, tool)
	switch level {
	case AlwaysAllow:
		return DecisionAllow, nil
	case Deny:
		return DecisionDeny, nil
	case AskEveryTime:
		return DecisionRequireConfirmation, nil
	case AskOnce:
		if m.memo.observe(ext, tool) {
			return DecisionAllow, nil
		}
		return DecisionRequireConfirmation, nil
	}
	return DecisionDeny, m.invalid("decide", ext, tool, fmt.Errorf("unknown level %q", level))
}

// Authorize is Decide for callers that cannot handle errors: failures are
// logged and denied.
func (m *Manager) Authorize(ctx context.Context, ext, tool string) Decision {
	d, err := m.Decide(ctx, ext, tool)
	if err != nil {
		m.log.Error().Err(err).Str("extension", ext).Str("tool", tool).Msg("permission check failed, denying")
		return DecisionDeny
	}
	return d
}

// Asked reports whether the pair has already been asked about this session.
func (m *Manager) Asked(ext, tool string) bool {
	return m.memo.seenBefore(ext, tool)
}

// ResetSession forgets every "ask once" approval.
func (m *Manager) ResetSession() {
	m.memo.reset()
}

// RemoveExtension deletes the records of an extension. Removing an extension
// without records is not an error.
func (m *Manager) RemoveExtension(ctx context.Context, ext string) error {
	if err := m.store.Delete(ctx, recordKey(ext), config.Plain); err != nil {
		return err
	}
	m.memo.forgetExtension(ext)
	m.log.Info().Str("extension", ext).Msg("permission records removed")
	m.bus.Publish(event.Event{
		Type: event.PermissionRemoved,
		Data: event.PermissionData{Extension: ext},
	})
	return nil
}

// Records returns the stored record of an extension. A missing record is
// returned empty.
func (m *Manager) Records(ctx context.Context, ext string) (Record, error) {
	rec, _, err := m.record(ctx, ext)
	return rec, err
}

// All returns every stored record sorted by extension.
func (m *Manager) All(ctx context.Context) ([]Record, error) {
	docs, err := m.store.List(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(docs))
	for key, v := range docs {
		ext := key[len(KeyPrefix):]
		rec, err := decodeRecord(ext, v)
		if err != nil {
			return nil, &config.Error{Op: "list", Kind: config.ErrInvalidValue, Extension: ext, Err: err}
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Extension < out[j].Extension })
	return out, nil
}

func (m *Manager) resolve(rec Record, tool string) Level {
	if tool != "" {
		if l, ok := matchToolLevel(rec.Tools, tool); ok {
			return l
		}
	}
	if rec.Default != "" {
		return rec.Default
	}
	return m.fallback
}

// record loads the record of ext. found is false when none is stored.
func (m *Manager) record(ctx context.Context, ext string) (Record, bool, error) {
	v, err := m.store.Get(ctx, recordKey(ext), config.Plain)
	if errors.Is(err, config.ErrNotFound) {
		return Record{Extension: ext}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec, err := decodeRecord(ext, v)
	if err != nil {
		return Record{}, false, &config.Error{Op: "load", Kind: config.ErrInvalidValue, Key: recordKey(ext), Extension: ext, Err: err}
	}
	return rec, true, nil
}

func (m *Manager) save(ctx context.Context, rec Record) error {
	doc := config.Document{}
	if rec.Default != "" {
		doc["default"] = string(rec.Default)
	}
	if len(rec.Tools) > 0 {
		tools := make(map[string]any, len(rec.Tools))
		for t, l := range rec.Tools {
			tools[t] = string(l)
		}
		doc["tools"] = tools
	}
	return m.store.Set(ctx, recordKey(rec.Extension), config.Doc(doc), config.Plain)
}

func (m *Manager) invalid(op, ext, tool string, err error) error {
	return &config.Error{Op: op, Kind: config.ErrInvalidValue, Extension: ext, Tool: tool, Err: err}
}

func decodeRecord(ext string, v config.Value) (Record, error) {
	doc, ok := v.AsDocument()
	if !ok {
		return Record{}, fmt.Errorf("expected a document, got %s", v.Kind())
	}
	rec := Record{Extension: ext}
	if raw, ok := doc["default"]; ok && raw != nil {
		l, err := levelOf(raw)
		if err != nil {
			return Record{}, fmt.Errorf("default: %w", err)
		}
		rec.Default = l
	}
	if raw, ok := doc["tools"]; ok && raw != nil {
		tools, ok := raw.(map[string]any)
		if !ok {
			return Record{}, errors.New("tools: expected a mapping")
		}
		rec.Tools = make(map[string]Level, len(tools))
		for t, rl := range tools {
			l, err := levelOf(rl)
			if err != nil {
				return Record{}, fmt.Errorf("tools.%s: %w", t, err)
			}
			rec.Tools[t] = l
		}
	}
	return rec, nil
}

func levelOf(raw any) (Level, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected a level name, got %v", raw)
	}
	l := Level(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}
