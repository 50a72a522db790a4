// Package eventbus fans engine events out to subscribers such as the ledger.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType names an engine event.
type EventType string

const (
	EventTypeSceneStaged    EventType = "scene_staged"
	EventTypeSceneUnstaged  EventType = "scene_unstaged"
	EventTypeScenesApplied  EventType = "scenes_applied"
	EventTypeDispatchFailed EventType = "dispatch_failed"
)

const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event is one published occurrence. Time is set on publish when zero.
type Event struct {
	Type EventType
	Time time.Time
	Data map[string]interface{}
}

type Handler func(Event)

type delivery struct {
	event   Event
	handler Handler
}

// Bus delivers events to subscribers on a bounded worker pool. Publish never
// blocks the engine loop; a full queue drops the delivery.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	closed   bool

	queue     chan delivery
	workers   sync.WaitGroup
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// New creates a bus with the default pool size.
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a bus with workerCount workers sharing a queue of queueSize deliveries.
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		handlers: make(map[EventType][]Handler),
		queue:    make(chan delivery, queueSize),
	}
	b.workers.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go b.run(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus started")
	return b
}

func (b *Bus) run(worker int) {
	defer b.workers.Done()
	for d := range b.queue {
		b.deliver(worker, d)
	}
}

func (b *Bus) deliver(worker int, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_type", string(d.event.Type)).
				Int("worker", worker).
				Msg("Event handler panicked")
		}
	}()
	d.handler(d.event)
}

// Subscribe registers handler for events of type t.
func (b *Bus) Subscribe(t EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], handler)
}

// Publish queues event for every subscriber of its type.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	// Held across the sends so Close cannot close the queue underneath.
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.dropped.Add(1)
		log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closed, dropping event")
		return
	}

	for _, handler := range b.handlers[event.Type] {
		select {
		case b.queue <- delivery{event: event, handler: handler}:
		default:
			b.dropped.Add(1)
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus queue full, dropping event")
		}
	}
}

// Dropped returns how many deliveries were discarded.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events and waits until queued deliveries are handled
// or ctx expires.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		b.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Uint64("dropped", b.Dropped()).Msg("Event bus stopped")
	case <-ctx.Done():
		log.Warn().Uint64("dropped", b.Dropped()).Msg("Event bus shutdown timed out, some events may be lost")
	}
}
