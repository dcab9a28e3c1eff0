// Package experiment toggles named feature flags stored in the config store
// under "experiments.<flag>".
package experiment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentconfig/internal/config"
	"github.com/opencode-ai/agentconfig/internal/event"
	"github.com/opencode-ai/agentconfig/internal/logging"
)

// KeyPrefix prefixes the plain config key of every flag.
const KeyPrefix = "experiments."

// Store is the subset of the config store the manager needs.
type Store interface {
	Get(ctx context.Context, key string, ns config.Namespace) (config.Value, error)
	Set(ctx context.Context, key string, v config.Value, ns config.Namespace) error
	List(ctx context.Context, prefix string) (map[string]config.Value, error)
}

// Options configures a Manager.
type Options struct {
	Store Store
	// Defaults lists known flags and their value when unset.
	Defaults map[string]bool
	Bus      *event.Bus
	Logger   *zerolog.Logger
}

// Manager reads and writes experiment flags.
type Manager struct {
	store    Store
	defaults map[string]bool
	bus      *event.Bus
	log      zerolog.Logger
}

func NewManager(opts Options) *Manager {
	log := logging.Component("experiment")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Manager{
		store:    opts.Store,
		defaults: opts.Defaults,
		bus:      opts.Bus,
		log:      log,
	}
}

// IsEnabled reports a flag. Unknown flags are off. An environment override
// such as AGENT_EXPERIMENTS_<FLAG>=true applies through the store.
func (m *Manager) IsEnabled(ctx context.Context, flag string) (bool, error) {
	if err := checkFlag(flag); err != nil {
		return false, err
	}
	v, err := m.store.Get(ctx, KeyPrefix+flag, config.Plain)
	if errors.Is(err, config.ErrNotFound) {
		return m.defaults[flag], nil
	}
	if err != nil {
		return false, err
	}
	return asBool(flag, v)
}

// Set stores a flag.
func (m *Manager) Set(ctx context.Context, flag string, enabled bool) error {
	if err := checkFlag(flag); err != nil {
		return err
	}
	if err := m.store.Set(ctx, KeyPrefix+flag, config.Bool(enabled), config.Plain); err != nil {
		return err
	}
	m.log.Info().Str("flag", flag).Bool("enabled", enabled).Msg("experiment toggled")
	m.bus.Publish(event.Event{
		Type: event.ExperimentToggled,
		Data: event.ExperimentData{Flag: flag, Enabled: enabled},
	})
	return nil
}

// List returns every known flag: the defaults merged with stored values.
func (m *Manager) List(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool, len(m.defaults))
	for flag, on := range m.defaults {
		out[flag] = on
	}
	stored, err := m.store.List(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	for key, v := range stored {
		flag := strings.TrimPrefix(key, KeyPrefix)
		on, err := asBool(flag, v)
		if err != nil {
			return nil, err
		}
		out[flag] = on
	}
	return out, nil
}

func asBool(flag string, v config.Value) (bool, error) {
	if b, ok := v.AsBool(); ok {
		return b, nil
	}
	// Values typed by hand may arrive as strings.
	if s, ok := v.AsString(); ok {
		if b, err := config.ParseAs(s, config.KindBool); err == nil {
			on, _ := b.AsBool()
			return on, nil
		}
	}
	return false, &config.Error{Op: "experiment", Kind: config.ErrInvalidValue, Key: KeyPrefix + flag,
		Err: fmt.Errorf("expected a bool, got %s", v.Kind())}
}

func checkFlag(flag string) error {
	if flag == "" || strings.ContainsAny(flag, " \t\n") {
		return &config.Error{Op: "experiment", Kind: config.ErrInvalidValue, Key: KeyPrefix + flag,
			Err: errors.New("invalid flag name")}
	}
	return nil
}
