package effect

import (
	"time"

	"github.com/dokzlo13/lightstage/internal/light"
	"github.com/dokzlo13/lightstage/internal/target"
)

const (
	daytimeCheckInterval = 5 * time.Minute
	longTransitionMs     = int(60 * time.Minute / time.Millisecond)
	shortTransitionMs    = 5000
)

// Bands use the local wall clock hour and are deliberately fixed.
func isNight(hour int) bool   { return hour >= 21 || hour < 6 }
func isMorning(hour int) bool { return hour >= 6 && hour < 9 }

// DayLight keeps lights dim at night and bright during the day.
//
//	21:00-06:00  minimum brightness
//	06:00-09:00  50%
//	09:00-21:00  100%
type DayLight struct {
	targets    []target.Target
	emit       Emitter
	clock      func() time.Time
	on         *bool
	minimum    int
	transition int
	globals    light.Globals
	timer      cadence
}

// NewDayLight creates a day light effect. Attribute brightness is the night minimum.
func NewDayLight(b Binding) (Effect, error) {
	return &DayLight{
		targets:    b.Targets,
		emit:       b.Emit,
		clock:      b.now,
		on:         b.Attributes.On,
		minimum:    intOr(b.Attributes.BrightnessPercent, 0),
		transition: intOr(b.Attributes.TransitionMs, longTransitionMs),
		globals:    b.Globals,
		timer:      newCadence(daytimeCheckInterval, b.now()),
	}, nil
}

func (d *DayLight) brightnessAt(hour int) int {
	brightness := 100
	switch {
	case isNight(hour):
		brightness = d.minimum
	case isMorning(hour):
		brightness = 50
	}
	if brightness < d.minimum {
		brightness = d.minimum
	}
	return brightness
}

func (d *DayLight) Tick(force bool) bool {
	now := d.clock()
	if !force && !d.timer.due(now) {
		return false
	}

	requested := light.Attributes{
		On:                d.on,
		BrightnessPercent: light.Int(d.brightnessAt(now.Hour())),
		TransitionMs:      light.Int(d.transition),
	}
	attrs := light.Resolve(light.Attributes{}, requested, d.globals)
	for _, t := range d.targets {
		d.emit.Enqueue(t, attrs)
	}

	d.timer.emitted()
	return true
}

func (d *DayLight) Flushed() {
	d.timer.flushed(d.clock())
}

// NaturalLight follows the colour temperature of daylight.
//
//	21:00-06:00  2000K
//	06:00-09:00  2700K
//	09:00-18:00  4000K
//	18:00-21:00  2700K
type NaturalLight struct {
	targets    []target.Target
	emit       Emitter
	clock      func() time.Time
	on         *bool
	brightness int
	transition int
	globals    light.Globals
	timer      cadence
}

// NewNaturalLight creates a natural light effect.
func NewNaturalLight(b Binding) (Effect, error) {
	return &NaturalLight{
		targets:    b.Targets,
		emit:       b.Emit,
		clock:      b.now,
		on:         b.Attributes.On,
		brightness: intOr(b.Attributes.BrightnessPercent, 100),
		transition: intOr(b.Attributes.TransitionMs, longTransitionMs),
		globals:    b.Globals,
		timer:      newCadence(daytimeCheckInterval, b.now()),
	}, nil
}

func colorTemperatureAt(hour int) int {
	switch {
	case isNight(hour):
		return 2000
	case isMorning(hour):
		return 2700
	case hour < 18:
		return 4000
	default:
		return 2700
	}
}

func (n *NaturalLight) Tick(force bool) bool {
	now := n.clock()
	if !force && !n.timer.due(now) {
		return false
	}

	requested := light.Attributes{
		On:                n.on,
		BrightnessPercent: light.Int(n.brightness),
		TransitionMs:      light.Int(n.transition),
		ColorTemperature:  light.Int(colorTemperatureAt(now.Hour())),
	}
	attrs := light.Resolve(light.Attributes{}, requested, n.globals)
	for _, t := range n.targets {
		n.emit.Enqueue(t, attrs)
	}

	n.timer.emitted()
	return true
}

func (n *NaturalLight) Flushed() {
	n.timer.flushed(n.clock())
}

// NightLight dims lights that are already on, leaving lights that are off alone.
//
//	21:00-06:00  5%
//	06:00-09:00  70%
//	09:00-21:00  100%
type NightLight struct {
	targets []target.Target
	emit    Emitter
	current Snapshot
	clock   func() time.Time
	minimum int
	fade    int
	timer   cadence
}

// NewNightLight creates a night light effect. Attribute brightness is the minimum
// and attribute transition is used when the effect is forced.
func NewNightLight(b Binding) (Effect, error) {
	return &NightLight{
		targets: b.Targets,
		emit:    b.Emit,
		current: b.Current,
		clock:   b.now,
		minimum: intOr(b.Attributes.BrightnessPercent, 0),
		fade:    intOr(light.Override(b.Globals.TransitionMs, b.Attributes.TransitionMs), shortTransitionMs),
		timer:   newCadence(daytimeCheckInterval, b.now()),
	}, nil
}

func (n *NightLight) brightnessAt(hour int) int {
	brightness := 100
	switch {
	case isNight(hour):
		brightness = 5
	case isMorning(hour):
		brightness = 70
	}
	if brightness < n.minimum {
		brightness = n.minimum
	}
	return brightness
}

func (n *NightLight) Tick(force bool) bool {
	now := n.clock()
	if !force && !n.timer.due(now) {
		return false
	}

	transition := longTransitionMs
	if force {
		transition = n.fade
	}
	requested := light.Attributes{BrightnessPercent: light.Int(n.brightnessAt(now.Hour()))}

	emitted := false
	for _, t := range n.targets {
		var current light.Attributes
		if n.current != nil {
			current, _ = n.current.Current(t)
		}
		if current.On != nil && !*current.On {
			continue
		}
		n.emit.Enqueue(t, light.Resolve(current, requested, light.Globals{TransitionMs: light.Int(transition)}))
		emitted = true
	}

	if emitted {
		n.timer.emitted()
	}
	return emitted
}

func (n *NightLight) Flushed() {
	n.timer.flushed(n.clock())
}
