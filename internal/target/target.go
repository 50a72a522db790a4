// Package target defines device references and expands group references into
// flat lists of concrete devices.
package target

import (
	"errors"
	"fmt"
	"strconv"
)

// Kind names the backend that owns a target, or KindGroup.
type Kind string

const (
	KindGroup Kind = "group"
	KindHue   Kind = "hue"
	KindMQTT  Kind = "mqtt"
)

var (
	ErrGroupNotFound = errors.New("group not found")
	ErrGroupCycle    = errors.New("group cycle")
)

// Target references a single device or a group. IDs are backend-scoped.
type Target struct {
	Kind Kind   `json:"type" yaml:"type"`
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Key is the identity of a target: (kind, id).
type Key struct {
	Kind Kind
	ID   string
}

// Key returns the (kind, id) identity of the target.
func (t Target) Key() Key {
	return Key{Kind: t.Kind, ID: t.ID}
}

// IsGroup reports whether the target references a group.
func (t Target) IsGroup() bool {
	return t.Kind == KindGroup
}

func (t Target) String() string {
	if t.Name != "" {
		return fmt.Sprintf("%s:%s(%s)", t.Kind, t.ID, t.Name)
	}
	return fmt.Sprintf("%s:%s", t.Kind, t.ID)
}

// GroupRef builds a reference to the group with the given registry id.
func GroupRef(id int) Target {
	return Target{Kind: KindGroup, ID: strconv.Itoa(id)}
}

// Group is a named, possibly nested, collection of targets.
type Group struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Targets     []Target `json:"targets" yaml:"targets"`
}
