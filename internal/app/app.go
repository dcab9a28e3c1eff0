// Package app wires the configuration store and its managers together.
package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/agentconfig/internal/config"
	"github.com/opencode-ai/agentconfig/internal/event"
	"github.com/opencode-ai/agentconfig/internal/experiment"
	"github.com/opencode-ai/agentconfig/internal/extension"
	"github.com/opencode-ai/agentconfig/internal/logging"
	"github.com/opencode-ai/agentconfig/internal/permission"
	"github.com/opencode-ai/agentconfig/internal/signup"
)

// Options configures an App.
type Options struct {
	Config config.Options

	// DefaultPermission applies to tools without a record. Defaults to ask_once.
	DefaultPermission permission.Level
	// ExperimentDefaults lists known experiment flags.
	ExperimentDefaults map[string]bool
	// RequireSecureStorage makes sign-up refuse the encrypted file fallback.
	RequireSecureStorage bool
	// Watch reports external edits of the config file on the bus.
	Watch bool

	// Bus receives change events. A private bus is created when nil.
	Bus    *event.Bus
	Logger *zerolog.Logger
}

// App holds one configured store and its managers.
type App struct {
	Bus         *event.Bus
	Store       *config.Store
	Permissions *permission.Manager
	Extensions  *extension.Registry
	Experiments *experiment.Manager
	Signup      *signup.Service

	watcher *config.Watcher
	ownsBus bool
	log     zerolog.Logger
}

// Open opens the store, builds the managers and seeds the default extension
// into an empty registry.
func Open(ctx context.Context, opts Options) (*App, error) {
	log := logging.Component("app")
	if opts.Logger != nil {
		log = *opts.Logger
	}

	a := &App{Bus: opts.Bus, log: log}
	if a.Bus == nil {
		a.Bus = event.NewBus()
		a.ownsBus = true
	}

	cfg := opts.Config
	cfg.Bus = a.Bus
	if cfg.Logger == nil {
		cfg.Logger = opts.Logger
	}
	store, err := config.Open(ctx, cfg)
	if err != nil {
		a.closeBus()
		return nil, err
	}
	a.Store = store

	// The registry needs the manager for cascading removal, so the manager
	// reaches the registry through a closure.
	perms, err := permission.NewManager(permission.Options{
		Store:   store,
		Default: opts.DefaultPermission,
		Installed: func(ctx context.Context, ext string) (bool, error) {
			return a.Extensions.Installed(ctx, ext)
		},
		Bus:    a.Bus,
		Logger: opts.Logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Permissions = perms

	a.Extensions = extension.New(extension.Options{
		Store:       store,
		Permissions: perms,
		Bus:         a.Bus,
		Logger:      opts.Logger,
	})
	if _, err := a.Extensions.EnsureDefault(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Experiments = experiment.NewManager(experiment.Options{
		Store:    store,
		Defaults: opts.ExperimentDefaults,
		Bus:      a.Bus,
		Logger:   opts.Logger,
	})
	a.Signup = signup.New(signup.Options{
		Store:                store,
		RequireSecureStorage: opts.RequireSecureStorage,
		Logger:               opts.Logger,
	})

	if opts.Watch {
		w, err := store.Watch()
		if err != nil {
			a.Close()
			return nil, err
		}
		w.Start()
		a.watcher = w
	}

	if err := store.Degraded(); err != nil {
		log.Warn().Err(err).Msg("secrets are stored in the encrypted file fallback")
	}
	return a, nil
}

// Close stops the watcher and releases the store.
func (a *App) Close() error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Stop())
		a.watcher = nil
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	errs = append(errs, a.closeBus())
	return errors.Join(errs...)
}

func (a *App) closeBus() error {
	if a.ownsBus && a.Bus != nil {
		return a.Bus.Close()
	}
	return nil
}
