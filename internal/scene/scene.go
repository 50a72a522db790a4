// Package scene holds scene templates and the stager that flattens staged
// scenes into per-device attributes.
package scene

import (
	"errors"
	"time"

	"github.com/dokzlo13/lightstage/internal/light"
	"github.com/dokzlo13/lightstage/internal/target"
)

var ErrSceneNotFound = errors.New("scene not found")

// State applies one attribute set to one or more targets.
type State struct {
	Targets    []target.Target  `json:"targets" yaml:"targets"`
	Attributes light.Attributes `json:"attributes" yaml:"attributes"`
}

// Attributes are the scene-level settings.
type Attributes struct {
	Priority                *int    `json:"priority,omitempty" yaml:"priority,omitempty"`
	GlobalTransitionMs      *int    `json:"globalTransitionMs,omitempty" yaml:"globalTransitionMs,omitempty"`
	GlobalBrightnessPercent *int    `json:"globalBrightnessPercent,omitempty" yaml:"globalBrightnessPercent,omitempty"`
	AlwaysStage             bool    `json:"alwaysStage,omitempty" yaml:"alwaysStage,omitempty"`
	States                  []State `json:"states" yaml:"states"`
}

// Scene is an immutable template. Staging always works on a Clone.
type Scene struct {
	ID          int        `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Attributes  Attributes `json:"attributes" yaml:"attributes"`
}

// Globals returns the scene-level overrides.
func (s Scene) Globals() light.Globals {
	return light.Globals{
		BrightnessPercent: s.Attributes.GlobalBrightnessPercent,
		TransitionMs:      s.Attributes.GlobalTransitionMs,
	}
}

// Clone returns a deep copy of the scene.
func (s Scene) Clone() Scene {
	out := s
	out.Attributes.Priority = clonePtr(s.Attributes.Priority)
	out.Attributes.GlobalTransitionMs = clonePtr(s.Attributes.GlobalTransitionMs)
	out.Attributes.GlobalBrightnessPercent = clonePtr(s.Attributes.GlobalBrightnessPercent)
	out.Attributes.States = make([]State, len(s.Attributes.States))
	for i, st := range s.Attributes.States {
		out.Attributes.States[i] = State{
			Targets:    append([]target.Target(nil), st.Targets...),
			Attributes: st.Attributes.Clone(),
		}
	}
	return out
}

// Registry looks scene templates up by id.
type Registry interface {
	Scene(id int) (Scene, bool)
	Scenes() []Scene
}

// Staged is a staged copy of a scene.
type Staged struct {
	Scene    Scene     `json:"scene"`
	StagedAt time.Time `json:"stagedAt"`
	seq      uint64
}

// StageOptions override the template for one stage request. Nil keeps the template value.
type StageOptions struct {
	Priority          *int
	TransitionMs      *int
	BrightnessPercent *int
}

// ApplyOptions override every scene's globals for one apply pass.
type ApplyOptions struct {
	TransitionMs      *int
	BrightnessPercent *int
}

// Status is the staging state of a scene.
type Status string

const (
	StatusUnstaged  Status = "unstaged"
	StatusStaged    Status = "staged"
	StatusUnstaging Status = "unstaging"
	// StatusAlways marks an alwaysStage template with no staged override.
	StatusAlways Status = "always"
)

func clonePtr(v *int) *int {
	if v == nil {
		return nil
	}
	return light.Int(*v)
}
