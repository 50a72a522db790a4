// Package engine runs the scheduler loop. A single goroutine owns the stager,
// the running effects and the dispatch queue; requests are closures executed
// on that goroutine between ticks.
package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightstage/internal/dispatch"
	"github.com/dokzlo13/lightstage/internal/effect"
	"github.com/dokzlo13/lightstage/internal/eventbus"
	"github.com/dokzlo13/lightstage/internal/light"
	"github.com/dokzlo13/lightstage/internal/scene"
	"github.com/dokzlo13/lightstage/internal/target"
)

const DefaultTickInterval = 100 * time.Millisecond

var ErrStopped = errors.New("engine stopped")

// Publisher receives domain events. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(eventbus.Event)
}

// Options configure an Engine. Zero values pick defaults.
type Options struct {
	TickInterval time.Duration
	Clock        func() time.Time
	Events       Publisher
}

// RunningEffect describes a live effect instance.
type RunningEffect struct {
	SceneID int             `json:"sceneId"`
	Name    string          `json:"name"`
	Targets []target.Target `json:"targets"`
}

type running struct {
	RunningEffect
	fx effect.Effect
}

type request struct {
	fn     func(ctx context.Context) error
	result chan error
}

// Engine is the scheduler loop.
type Engine struct {
	stager  *scene.Stager
	queue   *dispatch.Queue
	effects *effect.Registry
	events  Publisher

	interval time.Duration
	clock    func() time.Time

	requests chan request
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool

	// Owned by the loop goroutine.
	running []running
}

// New creates an engine. Call Run to start the loop.
func New(stager *scene.Stager, queue *dispatch.Queue, effects *effect.Registry, opts Options) *Engine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if effects == nil {
		effects = effect.NewRegistry()
	}

	return &Engine{
		stager:   stager,
		queue:    queue,
		effects:  effects,
		events:   opts.Events,
		interval: opts.TickInterval,
		clock:    opts.Clock,
		requests: make(chan request),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run drives effects until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	e.started.Store(true)
	defer close(e.done)
	defer e.retireAll()

	log.Info().Dur("tick_interval", e.interval).Msg("Engine started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Engine stopping")
			return nil
		case <-e.stop:
			log.Info().Msg("Engine stopped")
			return nil
		case req := <-e.requests:
			req.result <- req.fn(ctx)
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// Stop ends the loop and waits for it to exit. Requests not yet picked up
// fail with ErrStopped.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	if e.started.Load() {
		<-e.done
	}
}

// Done is closed once the loop has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// do runs fn on the loop goroutine and waits for it.
func (e *Engine) do(ctx context.Context, fn func(ctx context.Context) error) error {
	req := request{fn: fn, result: make(chan error, 1)}

	select {
	case <-e.stop:
		return ErrStopped
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case e.requests <- req:
	}
	return <-req.result
}

func (e *Engine) tick(ctx context.Context) {
	emitted := false
	for _, r := range e.running {
		if r.fx.Tick(false) {
			emitted = true
		}
	}
	if !emitted {
		return
	}
	e.flush(ctx)
}

// flush sends the queue and notifies effects only when every controller succeeded,
// so effects re-emit on the next tick after a failure.
func (e *Engine) flush(ctx context.Context) error {
	if err := e.queue.Flush(ctx); err != nil {
		e.publish(eventbus.EventTypeDispatchFailed, map[string]interface{}{"error": err.Error()})
		return err
	}
	for _, r := range e.running {
		r.fx.Flushed()
	}
	return nil
}

func (e *Engine) spawn(spec scene.EffectSpec) {
	fx, err := e.effects.New(spec.Name, effect.Binding{
		SceneID:    spec.SceneID,
		Targets:    spec.Targets,
		Attributes: spec.Attributes,
		Globals:    spec.Globals,
		Emit:       overlayEmitter{next: e.queue, overrides: spec.Overrides},
		Current:    e.queue,
		Clock:      e.clock,
	})
	if err != nil {
		log.Error().Err(err).Str("effect", spec.Name).Int("scene_id", spec.SceneID).Msg("Failed to start effect")
		return
	}

	e.running = append(e.running, running{
		RunningEffect: RunningEffect{SceneID: spec.SceneID, Name: spec.Name, Targets: spec.Targets},
		fx:            fx,
	})
	log.Debug().Str("effect", spec.Name).Int("scene_id", spec.SceneID).Int("targets", len(spec.Targets)).Msg("Effect started")
}

// overlayEmitter lays the fields claimed by higher-precedence states over an
// effect's output, so an effect never overrides a scene that outranks it.
type overlayEmitter struct {
	next      effect.Emitter
	overrides map[target.Key]light.Attributes
}

func (o overlayEmitter) Enqueue(t target.Target, attrs light.Attributes) bool {
	if over, ok := o.overrides[t.Key()]; ok {
		attrs = attrs.Overlay(over)
	}
	return o.next.Enqueue(t, attrs)
}

// retire stops the effects of one scene.
func (e *Engine) retire(sceneID int) {
	kept := e.running[:0]
	for _, r := range e.running {
		if r.SceneID == sceneID {
			closeEffect(r)
			continue
		}
		kept = append(kept, r)
	}
	e.running = kept
}

func (e *Engine) retireAll() {
	for _, r := range e.running {
		closeEffect(r)
	}
	e.running = nil
}

func closeEffect(r running) {
	c, ok := r.fx.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("effect", r.Name).Msg("Failed to close effect")
	}
}

func (e *Engine) publish(t eventbus.EventType, data map[string]interface{}) {
	if e.events == nil {
		return
	}
	e.events.Publish(eventbus.Event{Type: t, Data: data})
}
