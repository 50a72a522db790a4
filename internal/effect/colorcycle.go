package effect

import (
	"time"

	"github.com/dokzlo13/lightstage/internal/light"
	"github.com/dokzlo13/lightstage/internal/target"
)

const defaultCycleTransition = 5000

type hueSat struct {
	hue, sat int
}

var cycleColors = []hueSat{
	{0, 100}, {60, 100}, {120, 100}, {180, 100}, {240, 100}, {300, 100},
}

// ColorCycle rotates targets through the colour wheel, each target offset by
// its position so neighbouring lights show different colours.
type ColorCycle struct {
	targets    []target.Target
	emit       Emitter
	clock      func() time.Time
	on         *bool
	brightness int
	transition int
	globals    light.Globals
	current    int
	timer      cadence
}

// NewColorCycle creates a colour cycle effect. The transition doubles as the cadence.
func NewColorCycle(b Binding) (Effect, error) {
	transition := intOr(light.Override(b.Globals.TransitionMs, b.Attributes.TransitionMs), defaultCycleTransition)
	return &ColorCycle{
		targets:    b.Targets,
		emit:       b.Emit,
		clock:      b.now,
		on:         b.Attributes.On,
		brightness: intOr(b.Attributes.BrightnessPercent, 100),
		transition: transition,
		globals:    b.Globals,
		timer:      newCadence(time.Duration(transition)*time.Millisecond, b.now()),
	}, nil
}

func (c *ColorCycle) Tick(force bool) bool {
	if !force && !c.timer.due(c.clock()) {
		return false
	}

	for i, t := range c.targets {
		color := cycleColors[(c.current+i)%len(cycleColors)]
		requested := light.Attributes{
			On:                c.on,
			BrightnessPercent: light.Int(c.brightness),
			TransitionMs:      light.Int(c.transition),
			Hue:               light.Int(color.hue),
			Saturation:        light.Int(color.sat),
		}
		c.emit.Enqueue(t, light.Resolve(light.Attributes{}, requested, light.Globals{BrightnessPercent: c.globals.BrightnessPercent}))
	}

	c.current = (c.current + 1) % len(cycleColors)
	c.timer.emitted()
	return true
}

func (c *ColorCycle) Flushed() {
	c.timer.flushed(c.clock())
}
