package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// Registry resolves the dead.letter.transport setting to a sink builder and
// the capabilities of that sink.
type Registry struct {
	mu    sync.RWMutex
	sinks map[string]sink
}

type sink struct {
	build Builder
	caps  Capabilities
}

// DefaultRegistry holds the built-in sinks once transport/transports is
// imported.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]sink)}
}

// Register adds the sink called name, replacing any earlier registration.
// An empty caps.Name is filled with name.
func (r *Registry) Register(name string, build Builder, caps Capabilities) {
	if caps.Name == "" {
		caps.Name = name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[name] = sink{build: build, caps: caps}
}

// Lookup returns the capabilities of the sink called name. Unknown sinks
// report zero capabilities carrying only the name.
func (r *Registry) Lookup(name string) (Capabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sinks[name]
	if !ok {
		return Capabilities{Name: name}, false
	}
	return s.caps, true
}

// Build opens the sink named by cfg. When the builder fails it closes
// whatever half of the pair the builder still handed back.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, errors.New("config is required")
	}
	name := cfg.GetDeadLetterTransport()

	r.mu.RLock()
	s, ok := r.sinks[name]
	r.mu.RUnlock()
	if !ok {
		return Transport{}, fmt.Errorf("unknown dead-letter transport %q (registered: %s)", name, strings.Join(r.Names(), ", "))
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	t, err := s.build(ctx, cfg, logger)
	if err != nil {
		return Transport{}, errors.Join(err, t.Close())
	}
	if t.Publisher == nil {
		return Transport{}, errors.Join(fmt.Errorf("dead-letter transport %q built no publisher", name), t.Close())
	}
	return t, nil
}

// Names returns the registered sink names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.sinks))
	for name := range r.sinks {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Register adds a sink to the default registry.
func Register(name string, build Builder, caps Capabilities) {
	DefaultRegistry.Register(name, build, caps)
}

// Build opens the sink named by cfg from the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
