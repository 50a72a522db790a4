// Package hue dispatches light attributes to a Philips Hue bridge.
package hue

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lightstage/internal/light"
	"github.com/dokzlo13/lightstage/internal/target"
)

const DefaultRateLimitRPS = 10.0

// Bridge is the part of *huego.Bridge the controller uses.
type Bridge interface {
	GetLightsContext(ctx context.Context) ([]huego.Light, error)
	GetLightContext(ctx context.Context, id int) (*huego.Light, error)
	SetLightStateContext(ctx context.Context, id int, state huego.State) (*huego.Response, error)
}

// Controller claims targets of kind hue and sends them light by light.
type Controller struct {
	bridge  Bridge
	limiter *rate.Limiter

	mu     sync.Mutex
	queued map[int]light.Attributes
	order  []int
	power  map[int]bool
}

// New creates a controller. rps limits requests to the bridge.
func New(bridge Bridge, rps float64) *Controller {
	if rps <= 0 {
		rps = DefaultRateLimitRPS
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Controller{
		bridge:  bridge,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		queued:  make(map[int]light.Attributes),
		power:   make(map[int]bool),
	}
}

// Connect creates a controller for the bridge at host and loads the current
// power state of every light.
func Connect(ctx context.Context, host, user string, rps float64) (*Controller, error) {
	c := New(huego.New(host, user), rps)
	if err := c.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to hue bridge %s: %w", host, err)
	}
	return c, nil
}

// Refresh reloads the power state of every light from the bridge.
func (c *Controller) Refresh(ctx context.Context) error {
	lights, err := c.bridge.GetLightsContext(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range lights {
		if l.State != nil {
			c.power[l.ID] = l.State.On
		}
	}
	log.Info().Int("lights", len(lights)).Msg("Loaded hue lights")
	return nil
}

func (c *Controller) Kind() target.Kind {
	return target.KindHue
}

// Queue claims every hue target. Later attributes for the same light replace earlier ones.
func (c *Controller) Queue(t target.Target, attrs light.Attributes) bool {
	if t.Kind != target.KindHue {
		return false
	}
	id, err := strconv.Atoi(t.ID)
	if err != nil {
		log.Warn().Str("target", t.String()).Msg("Hue light id must be numeric, dropping")
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.queued[id]; !ok {
		c.order = append(c.order, id)
	}
	c.queued[id] = attrs
	return true
}

// Send pushes the queue to the bridge. Per-light failures are logged; an error
// is returned only when every light failed.
func (c *Controller) Send(ctx context.Context) error {
	c.mu.Lock()
	queued, order := c.queued, c.order
	c.queued, c.order = make(map[int]light.Attributes), nil
	c.mu.Unlock()

	if len(order) == 0 {
		return nil
	}

	failed := 0
	var lastErr error
	for _, id := range order {
		if err := c.send(ctx, id, queued[id]); err != nil {
			log.Error().Err(err).Int("light", id).Msg("Failed to set hue light state")
			failed++
			lastErr = err
		}
	}

	if failed == len(order) {
		return fmt.Errorf("all %d hue lights failed: %w", failed, lastErr)
	}
	return nil
}

func (c *Controller) send(ctx context.Context, id int, attrs light.Attributes) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	on, err := c.powerOf(ctx, id, attrs)
	if err != nil {
		return err
	}
	state := ToState(attrs, on)

	log.Debug().Int("light", id).Interface("state", state).Msg("Applying state to hue light")
	if _, err := c.bridge.SetLightStateContext(ctx, id, state); err != nil {
		return err
	}

	c.mu.Lock()
	c.power[id] = state.On
	c.mu.Unlock()
	return nil
}

// powerOf returns the power the light should have after the update. Unknown
// lights are looked up on the bridge.
func (c *Controller) powerOf(ctx context.Context, id int, attrs light.Attributes) (bool, error) {
	if attrs.On != nil {
		return *attrs.On, nil
	}

	c.mu.Lock()
	on, ok := c.power[id]
	c.mu.Unlock()
	if ok {
		return on, nil
	}

	l, err := c.bridge.GetLightContext(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to read light %d: %w", id, err)
	}
	if l.State == nil {
		return false, nil
	}
	return l.State.On, nil
}
