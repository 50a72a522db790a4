package hue

import (
	"github.com/amimof/huego"

	"github.com/dokzlo13/lightstage/internal/light"
)

// Bridge value ranges.
const (
	maxBri            = 254
	maxSat            = 254
	maxHue            = 65535
	minMired          = 153
	maxMired          = 500
	maxTransitionTime = 65535
)

// ToState converts attributes into a bridge light state. huego always sends
// "on", so on carries the power the light should keep when attrs leave it unset.
// A light switched off only receives power and transition.
func ToState(attrs light.Attributes, on bool) huego.State {
	state := huego.State{On: on}
	if attrs.On != nil {
		state.On = *attrs.On
	}
	if attrs.TransitionMs != nil {
		state.TransitionTime = uint16(clamp(*attrs.TransitionMs/100, 0, maxTransitionTime))
	}
	if !state.On {
		return state
	}

	if attrs.BrightnessPercent != nil {
		pct := clamp(*attrs.BrightnessPercent, 0, 100)
		state.Bri = uint8(clamp((pct*maxBri+50)/100, 1, maxBri))
	}
	if attrs.ColorTemperature != nil && *attrs.ColorTemperature > 0 {
		state.Ct = uint16(clamp(1000000 / *attrs.ColorTemperature, minMired, maxMired))
	}
	if attrs.Hue != nil {
		state.Hue = uint16(clamp(*attrs.Hue, 0, 360) * maxHue / 360)
	}
	if attrs.Saturation != nil {
		state.Sat = uint8(clamp(*attrs.Saturation, 0, 100) * maxSat / 100)
	}
	return state
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
