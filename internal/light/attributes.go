// Package light defines the sparse light state record and the pure merge rules
// used by scene resolution and effects.
package light

// Attributes is a sparse light state. A nil field means "leave unchanged".
type Attributes struct {
	On                *bool  `json:"on,omitempty" yaml:"on,omitempty"`
	TransitionMs      *int   `json:"transitionMs,omitempty" yaml:"transitionMs,omitempty"`
	BrightnessPercent *int   `json:"brightnessPercent,omitempty" yaml:"brightnessPercent,omitempty"` // 0-100
	ColorTemperature  *int   `json:"colorTemperature,omitempty" yaml:"colorTemperature,omitempty"`   // Kelvin
	Hue               *int   `json:"hue,omitempty" yaml:"hue,omitempty"`                             // 0-360
	Saturation        *int   `json:"sat,omitempty" yaml:"sat,omitempty"`                             // 0-100
	Effect            string `json:"effect,omitempty" yaml:"effect,omitempty"`
}

// Globals are scene-level overrides applied on top of requested attributes.
type Globals struct {
	BrightnessPercent *int
	TransitionMs      *int
}

// IsEmpty reports whether no field is set.
func (a Attributes) IsEmpty() bool {
	return a.On == nil && a.TransitionMs == nil && a.BrightnessPercent == nil &&
		a.ColorTemperature == nil && a.Hue == nil && a.Saturation == nil && a.Effect == ""
}

// Overlay returns a new record where every field set in b replaces the one in a.
func (a Attributes) Overlay(b Attributes) Attributes {
	out := a.Clone()
	if b.On != nil {
		out.On = Bool(*b.On)
	}
	if b.TransitionMs != nil {
		out.TransitionMs = Int(*b.TransitionMs)
	}
	if b.BrightnessPercent != nil {
		out.BrightnessPercent = Int(*b.BrightnessPercent)
	}
	if b.ColorTemperature != nil {
		out.ColorTemperature = Int(*b.ColorTemperature)
	}
	if b.Hue != nil {
		out.Hue = Int(*b.Hue)
	}
	if b.Saturation != nil {
		out.Saturation = Int(*b.Saturation)
	}
	if b.Effect != "" {
		out.Effect = b.Effect
	}
	return out
}

// WithoutEffect returns a copy with the effect name cleared.
func (a Attributes) WithoutEffect() Attributes {
	out := a.Clone()
	out.Effect = ""
	return out
}

// Resolve merges requested over current and applies the global overrides.
// Pass an empty current for one-shot application. The result never names an effect.
func Resolve(current, requested Attributes, g Globals) Attributes {
	out := current.Overlay(requested)
	out.Effect = ""

	if g.BrightnessPercent != nil {
		base := 100
		if out.BrightnessPercent != nil {
			base = *out.BrightnessPercent
		}
		out.BrightnessPercent = Int(Scale(base, *g.BrightnessPercent))
	}
	if g.TransitionMs != nil {
		out.TransitionMs = Int(*g.TransitionMs)
	}
	return out
}

// Scale scales a brightness percentage by another percentage, flooring the result.
func Scale(brightness, percent int) int {
	if brightness <= 0 || percent <= 0 {
		return 0
	}
	return brightness * percent / 100
}

// Override returns primary when set, otherwise fallback.
func Override(primary, fallback *int) *int {
	if primary != nil {
		return primary
	}
	return fallback
}

// Clone returns a deep copy.
func (a Attributes) Clone() Attributes {
	out := Attributes{Effect: a.Effect}
	if a.On != nil {
		out.On = Bool(*a.On)
	}
	if a.TransitionMs != nil {
		out.TransitionMs = Int(*a.TransitionMs)
	}
	if a.BrightnessPercent != nil {
		out.BrightnessPercent = Int(*a.BrightnessPercent)
	}
	if a.ColorTemperature != nil {
		out.ColorTemperature = Int(*a.ColorTemperature)
	}
	if a.Hue != nil {
		out.Hue = Int(*a.Hue)
	}
	if a.Saturation != nil {
		out.Saturation = Int(*a.Saturation)
	}
	return out
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
