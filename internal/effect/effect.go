// Package effect provides time-varying attribute generators bound to a set of
// targets. Each effect owns its cadence and emits through the dispatch queue.
package effect

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dokzlo13/lightstage/internal/light"
	"github.com/dokzlo13/lightstage/internal/target"
)

// Effect is a running generator. Tick reports whether it queued new output;
// Flushed is called after the queued output was sent successfully.
type Effect interface {
	Tick(force bool) bool
	Flushed()
}

// Emitter receives effect output. It is satisfied by the dispatch queue.
type Emitter interface {
	Enqueue(t target.Target, attrs light.Attributes) bool
}

// Snapshot exposes the last attributes queued for a target.
type Snapshot interface {
	Current(t target.Target) (light.Attributes, bool)
}

// Binding is everything an effect instance is bound to when it is spawned.
type Binding struct {
	SceneID    int
	Targets    []target.Target
	Attributes light.Attributes
	Globals    light.Globals
	Emit       Emitter
	Current    Snapshot
	Clock      func() time.Time
}

func (b Binding) now() time.Time {
	if b.Clock != nil {
		return b.Clock()
	}
	return time.Now()
}

// Factory creates an effect instance for a binding.
type Factory func(b Binding) (Effect, error)

// Built-in effect names, as referenced by scene states.
const (
	NameColorCycle   = "Color Cycle"
	NameDayLight     = "Day Light"
	NameNaturalLight = "Natural Light"
	NameNightLight   = "Night Light"
)

// Registry maps effect names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewBuiltinRegistry creates a registry holding the built-in effects.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.Register(NameColorCycle, NewColorCycle)
	r.Register(NameDayLight, NewDayLight)
	r.Register(NameNaturalLight, NewNaturalLight)
	r.Register(NameNightLight, NewNightLight)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// New spawns the named effect.
func (r *Registry) New(name string, b Binding) (Effect, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown effect %q", name)
	}
	return f(b)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cadence tracks when an effect last had its output flushed.
type cadence struct {
	interval time.Duration
	last     time.Time
	pending  bool
}

func newCadence(interval time.Duration, now time.Time) cadence {
	return cadence{interval: interval, last: now}
}

// due is also true while output is pending, so a failed flush is retried on
// the next tick instead of a full interval later.
func (c *cadence) due(now time.Time) bool {
	return c.pending || now.Sub(c.last) >= c.interval
}

func (c *cadence) emitted() {
	c.pending = true
}

// skipped restarts the interval after a tick that produced nothing, so a
// failing generator is not retried on every engine tick.
func (c *cadence) skipped(now time.Time) {
	if !c.pending {
		c.last = now
	}
}

// flushed only moves the clock when output is pending, so effects that stayed
// quiet this period keep their own schedule.
func (c *cadence) flushed(now time.Time) {
	if c.pending {
		c.last = now
		c.pending = false
	}
}

func intOr(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}
