package extension

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/agentconfig/internal/config"
)

// Status summarises whether an extension can start.
type Status string

const (
	StatusReady    Status = "ready"
	StatusWarning  Status = "warning"
	StatusDisabled Status = "disabled"
)

// Health is the readiness of one extension.
type Health struct {
	Name    string   `json:"name"`
	Status  Status   `json:"status"`
	Missing []string `json:"missing,omitempty"`
}

// Health reports whether the required settings of an extension resolve.
func (r *Registry) Health(ctx context.Context, name string) (Health, error) {
	e, err := r.Get(ctx, name)
	if err != nil {
		return Health{}, err
	}
	return r.health(ctx, e)
}

// maxHealthChecks bounds concurrent secret lookups during Validate.
const maxHealthChecks = 4

// Validate reports the health of every extension in install order.
func (r *Registry) Validate(ctx context.Context) ([]Health, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Health, len(all))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxHealthChecks)
	for i, e := range all {
		g.Go(func() error {
			h, err := r.health(gctx, e)
			if err != nil {
				return err
			}
			out[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Registry) health(ctx context.Context, e Entry) (Health, error) {
	h := Health{Name: e.Name, Status: StatusReady}
	for _, k := range e.EnvKeys {
		if !k.Required {
			continue
		}
		_, err := r.store.Get(ctx, k.Name, k.Namespace())
		if errors.Is(err, config.ErrNotFound) {
			h.Missing = append(h.Missing, k.Name)
			continue
		}
		if err != nil {
			return Health{}, err
		}
	}
	switch {
	case !e.Enabled:
		h.Status = StatusDisabled
	case len(h.Missing) > 0:
		h.Status = StatusWarning
	}
	return h, nil
}
