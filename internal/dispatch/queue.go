// Package dispatch routes resolved attributes to device controllers and tracks
// the last state queued for every device.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightstage/internal/light"
	"github.com/dokzlo13/lightstage/internal/target"
)

var (
	ErrTargetUnclaimed = errors.New("target unclaimed")
	ErrDispatchFailed  = errors.New("dispatch failed")
)

// Controller is a device backend. Queue buffers a target it owns and reports
// whether it claimed it; Send flushes the buffer and always clears it.
type Controller interface {
	Kind() target.Kind
	Queue(t target.Target, attrs light.Attributes) bool
	Send(ctx context.Context) error
}

// Queue offers targets to controllers in registration order. The first
// controller to claim a target wins.
type Queue struct {
	controllers []Controller

	mu      sync.RWMutex
	current map[target.Key]light.Attributes
}

// NewQueue creates a queue over the given controllers.
func NewQueue(controllers ...Controller) *Queue {
	return &Queue{
		controllers: controllers,
		current:     make(map[target.Key]light.Attributes),
	}
}

// Enqueue hands attrs to the first controller that claims t and records it as
// the current state. Unclaimed targets are logged and dropped.
func (q *Queue) Enqueue(t target.Target, attrs light.Attributes) bool {
	attrs = attrs.WithoutEffect()
	for _, c := range q.controllers {
		if !c.Queue(t, attrs) {
			continue
		}
		q.mu.Lock()
		q.current[t.Key()] = attrs
		q.mu.Unlock()
		return true
	}

	log.Warn().
		Err(ErrTargetUnclaimed).
		Str("target", t.String()).
		Str("kind", string(t.Kind)).
		Msg("No controller for target")
	return false
}

// Current returns the last attributes queued for t.
func (q *Queue) Current(t target.Target) (light.Attributes, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	a, ok := q.current[t.Key()]
	if !ok {
		return light.Attributes{}, false
	}
	return a.Clone(), true
}

// Flush sends every controller's buffer in parallel. A failing controller does
// not stop the others; all failures are returned joined.
func (q *Queue) Flush(ctx context.Context) error {
	errs := make([]error, len(q.controllers))

	var wg sync.WaitGroup
	for i, c := range q.controllers {
		wg.Add(1)
		go func(i int, c Controller) {
			defer wg.Done()
			if err := c.Send(ctx); err != nil {
				log.Error().Err(err).Str("controller", string(c.Kind())).Msg("Failed to send queued targets")
				errs[i] = fmt.Errorf("%w: %s: %w", ErrDispatchFailed, c.Kind(), err)
			}
		}(i, c)
	}
	wg.Wait()

	return errors.Join(errs...)
}
