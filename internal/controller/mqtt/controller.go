// Package mqtt dispatches light attributes as JSON set commands over MQTT,
// using the command shape understood by zigbee2mqtt style bridges.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightstage/internal/light"
	"github.com/dokzlo13/lightstage/internal/target"
)

const (
	DefaultTopicPrefix = "lightstage"
	DefaultClientID    = "lightstage"
	publishTimeout     = 5 * time.Second
	connectTimeout     = 10 * time.Second
)

// Config holds MQTT controller configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Retain      bool
}

// Publisher is the part of the paho client the controller uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Command is the JSON payload published to <prefix>/<id>/set.
type Command struct {
	State      string  `json:"state,omitempty"`
	Brightness *int    `json:"brightness,omitempty"` // 0-254
	ColorTemp  *int    `json:"color_temp,omitempty"` // mired
	Color      *Color  `json:"color,omitempty"`
	Transition float64 `json:"transition,omitempty"` // seconds
}

// Color is a hue/saturation pair.
type Color struct {
	Hue        *int `json:"hue,omitempty"`
	Saturation *int `json:"saturation,omitempty"`
}

// ToCommand converts attributes into a set command.
func ToCommand(attrs light.Attributes) Command {
	var cmd Command
	if attrs.On != nil {
		cmd.State = "OFF"
		if *attrs.On {
			cmd.State = "ON"
		}
	}
	if attrs.TransitionMs != nil && *attrs.TransitionMs > 0 {
		cmd.Transition = float64(*attrs.TransitionMs) / 1000
	}
	if attrs.BrightnessPercent != nil {
		cmd.Brightness = light.Int(clamp(*attrs.BrightnessPercent, 0, 100) * 254 / 100)
	}
	if attrs.ColorTemperature != nil && *attrs.ColorTemperature > 0 {
		cmd.ColorTemp = light.Int(1000000 / *attrs.ColorTemperature)
	}
	if attrs.Hue != nil || attrs.Saturation != nil {
		cmd.Color = &Color{Hue: attrs.Hue, Saturation: attrs.Saturation}
	}
	return cmd
}

// Controller claims targets of kind mqtt.
type Controller struct {
	client Publisher
	cfg    Config

	mu     sync.Mutex
	queued map[string]light.Attributes
	order  []string
}

// New creates a controller publishing through client.
func New(client Publisher, cfg Config) *Controller {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	return &Controller{
		client: client,
		cfg:    cfg,
		queued: make(map[string]light.Attributes),
	}
}

// Connect dials the broker and returns a controller with its disconnect function.
func Connect(cfg Config) (*Controller, func(), error) {
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return New(client, cfg), func() { client.Disconnect(1000) }, nil
}

func (c *Controller) Kind() target.Kind {
	return target.KindMQTT
}

func (c *Controller) Queue(t target.Target, attrs light.Attributes) bool {
	if t.Kind != target.KindMQTT {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.queued[t.ID]; !ok {
		c.order = append(c.order, t.ID)
	}
	c.queued[t.ID] = attrs
	return true
}

// Topic returns the set topic of a device.
func (c *Controller) Topic(id string) string {
	return c.cfg.TopicPrefix + "/" + id + "/set"
}

// Send publishes every queued command and waits for the broker to accept them.
// Failures are logged per device; an error is returned only if all failed.
func (c *Controller) Send(ctx context.Context) error {
	c.mu.Lock()
	queued, order := c.queued, c.order
	c.queued, c.order = make(map[string]light.Attributes), nil
	c.mu.Unlock()

	if len(order) == 0 {
		return nil
	}

	var errs []error
	for _, id := range order {
		if err := c.publish(ctx, id, queued[id]); err != nil {
			log.Error().Err(err).Str("device", id).Msg("Failed to publish MQTT command")
			errs = append(errs, err)
		}
	}

	if len(errs) == len(order) {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Controller) publish(ctx context.Context, id string, attrs light.Attributes) error {
	payload, err := json.Marshal(ToCommand(attrs))
	if err != nil {
		return err
	}

	token := c.client.Publish(c.Topic(id), c.cfg.QoS, c.cfg.Retain, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish to %s timed out", c.Topic(id))
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
