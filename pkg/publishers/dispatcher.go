package publishers

import (
	"context"
	"errors"
	"fmt"
)

// Dispatcher fans an event out to every publisher. A failing sink does not stop
// delivery to the others.
type Dispatcher struct {
	pubs    []Publisher
	filters map[string][]string
	log     Logger
}

// NewDispatcher wraps already-built publishers.
func NewDispatcher(pubs []Publisher, log Logger) *Dispatcher {
	return &Dispatcher{pubs: pubs, log: ensureLogger(log)}
}

// NewDispatcherFromConfig builds every enabled publisher in reg.
func NewDispatcherFromConfig(ctx context.Context, reg *ConfigRegistry, builders Registry, log Logger) (*Dispatcher, error) {
	if builders == nil {
		builders = DefaultRegistry()
	}
	cfgs := reg.Enabled()
	pubs, err := BuildAll(ctx, builders, cfgs, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}
	d := NewDispatcher(pubs, log)
	d.filters = make(map[string][]string, len(cfgs))
	for _, cfg := range cfgs {
		if len(cfg.Categories) > 0 {
			d.filters[cfg.ID] = cfg.Categories
		}
	}
	return d, nil
}

// Len reports the number of publishers.
func (d *Dispatcher) Len() int {
	if d == nil {
		return 0
	}
	return len(d.pubs)
}

// Publish delivers evt to every publisher that accepts its category and joins
// the failures.
func (d *Dispatcher) Publish(ctx context.Context, evt Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, p := range d.pubs {
		if !accepts(d.filters[p.ID()], evt.Category) {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			d.log.WarnObj("publisher delivery failed", "publisher_error", map[string]any{
				"publisher_id": p.ID(),
				"type":         p.Type(),
				"event_id":     evt.ID,
				"error":        err.Error(),
			})
			errs = append(errs, fmt.Errorf("publisher %s: %w", p.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Close releases publishers that hold connections.
func (d *Dispatcher) Close() error {
	if d == nil {
		return nil
	}
	return closeAll(d.pubs)
}

func accepts(categories []string, category string) bool {
	return len(categories) == 0 || contains(categories, category)
}
