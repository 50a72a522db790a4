package scene

import (
	"github.com/dokzlo13/lightstage/internal/light"
	"github.com/dokzlo13/lightstage/internal/target"
)

// Assignment is the effective attributes for one concrete target.
type Assignment struct {
	Target     target.Target
	Attributes light.Attributes
}

// EffectSpec describes an effect to spawn for a scene state. Overrides holds,
// per target, the fields that higher-precedence states assigned in the same
// pass; they are laid over every emission of the effect.
type EffectSpec struct {
	SceneID    int
	Name       string
	Targets    []target.Target
	Attributes light.Attributes
	Globals    light.Globals
	Overrides  map[target.Key]light.Attributes
}

func (e *EffectSpec) covers(key target.Key) bool {
	for _, t := range e.Targets {
		if t.Key() == key {
			return true
		}
	}
	return false
}

// Plan is the result of one resolution pass.
type Plan struct {
	Assignments []Assignment
	Effects     []EffectSpec
	// Scenes lists the applied scene ids in application order, Fades the consumed fade-outs.
	Scenes []int
	Fades  []int
}

// ByKind groups assignments by backend kind, keeping first-seen order.
func (p Plan) ByKind() map[target.Kind][]Assignment {
	out := make(map[target.Kind][]Assignment)
	for _, a := range p.Assignments {
		out[a.Target.Kind] = append(out[a.Target.Kind], a)
	}
	return out
}

// shadow records attrs as an override on every effect already in the plan
// that drives t.
func (p *Plan) shadow(t target.Target, attrs light.Attributes) {
	key := t.Key()
	for i := range p.Effects {
		fx := &p.Effects[i]
		if !fx.covers(key) {
			continue
		}
		if fx.Overrides == nil {
			fx.Overrides = make(map[target.Key]light.Attributes)
		}
		fx.Overrides[key] = fx.Overrides[key].Overlay(attrs)
	}
}

// Empty reports whether the pass produced neither assignments nor effects.
func (p Plan) Empty() bool {
	return len(p.Assignments) == 0 && len(p.Effects) == 0
}

// accumulator merges per-target attributes field by field.
type accumulator struct {
	order []target.Key
	items map[target.Key]Assignment
}

func newAccumulator() *accumulator {
	return &accumulator{items: make(map[target.Key]Assignment)}
}

func (a *accumulator) put(t target.Target, attrs light.Attributes) {
	key := t.Key()
	prev, ok := a.items[key]
	if !ok {
		a.order = append(a.order, key)
		a.items[key] = Assignment{Target: t, Attributes: attrs.Clone()}
		return
	}
	a.items[key] = Assignment{Target: prev.Target, Attributes: prev.Attributes.Overlay(attrs)}
}

func (a *accumulator) list() []Assignment {
	out := make([]Assignment, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, a.items[key])
	}
	return out
}
