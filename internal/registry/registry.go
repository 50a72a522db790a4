package registry

import (
	"github.com/dokzlo13/lightstage/internal/scene"
	"github.com/dokzlo13/lightstage/internal/storage"
	"github.com/dokzlo13/lightstage/internal/target"
)

// Scenes is the scene template registry.
type Scenes struct {
	t *table[scene.Scene]
}

// NewScenes creates a scene registry. store may be nil for a memory-only registry.
func NewScenes(store *storage.Store) *Scenes {
	var typed *storage.TypedStore[scene.Scene]
	if store != nil {
		typed = storage.NewTypedStore[scene.Scene](store, KindScene)
	}
	return &Scenes{t: newTable(typed, scene.Scene.Clone)}
}

func withSceneID(id int, s scene.Scene) scene.Scene {
	s.ID = id
	return s
}

// Load replaces the registry with the persisted scenes.
func (r *Scenes) Load() error { return r.t.load(withSceneID) }

// Save persists the registry.
func (r *Scenes) Save() error { return r.t.save() }

func (r *Scenes) Scene(id int) (scene.Scene, bool) { return r.t.get(id) }

// Scenes returns every scene ordered by id.
func (r *Scenes) Scenes() []scene.Scene {
	ids := r.t.ids()
	out := make([]scene.Scene, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.t.get(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// FindByName returns the lowest-id scene with the given name.
func (r *Scenes) FindByName(name string) (scene.Scene, bool) {
	for _, s := range r.Scenes() {
		if s.Name == name {
			return s, true
		}
	}
	return scene.Scene{}, false
}

// Add stores s under the lowest free id and returns it.
func (r *Scenes) Add(s scene.Scene) int { return r.t.add(withSceneID, s) }

// Put stores s under s.ID, replacing any existing scene.
func (r *Scenes) Put(s scene.Scene) { r.t.put(s.ID, s) }

// Remove deletes a scene and reports whether it existed.
func (r *Scenes) Remove(id int) bool { return r.t.remove(id) }

func (r *Scenes) Len() int { return r.t.len() }

// Groups is the target group registry.
type Groups struct {
	t *table[target.Group]
}

// NewGroups creates a group registry. store may be nil for a memory-only registry.
func NewGroups(store *storage.Store) *Groups {
	var typed *storage.TypedStore[target.Group]
	if store != nil {
		typed = storage.NewTypedStore[target.Group](store, KindGroup)
	}
	return &Groups{t: newTable(typed, cloneGroup)}
}

func cloneGroup(g target.Group) target.Group {
	g.Targets = append([]target.Target(nil), g.Targets...)
	return g
}

func keepGroup(_ int, g target.Group) target.Group { return g }

// Load replaces the registry with the persisted groups.
func (r *Groups) Load() error { return r.t.load(keepGroup) }

// Save persists the registry.
func (r *Groups) Save() error { return r.t.save() }

func (r *Groups) Group(id int) (target.Group, bool) { return r.t.get(id) }

// GroupEntry is a group with its registry id.
type GroupEntry struct {
	ID int `json:"id"`
	target.Group
}

// Groups returns every group ordered by id.
func (r *Groups) Groups() []GroupEntry {
	ids := r.t.ids()
	out := make([]GroupEntry, 0, len(ids))
	for _, id := range ids {
		if g, ok := r.t.get(id); ok {
			out = append(out, GroupEntry{ID: id, Group: g})
		}
	}
	return out
}

// Add stores g under the lowest free id and returns it.
func (r *Groups) Add(g target.Group) int { return r.t.add(keepGroup, g) }

// Put stores g under id, replacing any existing group.
func (r *Groups) Put(id int, g target.Group) { r.t.put(id, g) }

// Remove deletes a group and reports whether it existed.
func (r *Groups) Remove(id int) bool { return r.t.remove(id) }

func (r *Groups) Len() int { return r.t.len() }
