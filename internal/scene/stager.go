package scene

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightstage/internal/light"
	"github.com/dokzlo13/lightstage/internal/target"
)

// TargetResolver expands group references into concrete targets.
type TargetResolver interface {
	ResolveAll(targets []target.Target) []target.Target
}

// EffectCatalog reports which effect names can be spawned.
type EffectCatalog interface {
	Has(name string) bool
}

// Stager holds the staged scenes and pending fade-outs. It is not safe for
// concurrent use; the engine loop owns it.
type Stager struct {
	scenes  Registry
	targets TargetResolver
	effects EffectCatalog
	now     func() time.Time

	staged []Staged
	fades  []Scene
	seq    uint64
}

// NewStager creates a stager. effects may be nil, in which case every effect
// state is applied directly.
func NewStager(scenes Registry, targets TargetResolver, effects EffectCatalog) *Stager {
	return &Stager{
		scenes:  scenes,
		targets: targets,
		effects: effects,
		now:     time.Now,
	}
}

// Stage clones the template, applies the supplied overrides and replaces any
// existing staged copy of the scene.
func (s *Stager) Stage(id int, opts StageOptions) (Staged, error) {
	tmpl, ok := s.scenes.Scene(id)
	if !ok {
		return Staged{}, fmt.Errorf("%w: %d", ErrSceneNotFound, id)
	}

	clone := tmpl.Clone()
	if opts.Priority != nil {
		clone.Attributes.Priority = light.Int(*opts.Priority)
	}
	if opts.TransitionMs != nil {
		clone.Attributes.GlobalTransitionMs = light.Int(*opts.TransitionMs)
	}
	if opts.BrightnessPercent != nil {
		clone.Attributes.GlobalBrightnessPercent = light.Int(*opts.BrightnessPercent)
	}

	s.remove(id)
	s.dropFade(id)
	s.seq++
	staged := Staged{Scene: clone, StagedAt: s.now(), seq: s.seq}
	s.staged = append(s.staged, staged)

	log.Info().Int("scene_id", id).Str("scene", clone.Name).Msg("Scene staged")
	return staged, nil
}

// Unstage removes the staged copy of a scene and reports whether one existed.
// With a transition, a one-shot fade is queued for the next Apply. AlwaysStage
// scenes only lose their staged override; the template keeps applying.
func (s *Stager) Unstage(id int, transitionMs *int) bool {
	staged, ok := s.find(id)
	if !ok {
		return false
	}
	s.remove(id)

	if s.isAlways(staged.Scene) {
		log.Info().Int("scene_id", id).Str("scene", staged.Scene.Name).Msg("Dropped override of always staged scene")
		return true
	}

	if transitionMs != nil {
		s.fades = append(s.fades, fadeOf(staged.Scene, *transitionMs))
	}
	log.Info().Int("scene_id", id).Str("scene", staged.Scene.Name).Msg("Scene unstaged")
	return true
}

// Toggle unstages a staged scene or stages an unstaged one, returning the new status.
func (s *Stager) Toggle(id int, opts StageOptions) (Status, error) {
	if _, ok := s.find(id); ok {
		s.Unstage(id, opts.TransitionMs)
		return s.Status(id), nil
	}
	if _, err := s.Stage(id, opts); err != nil {
		return StatusUnstaged, err
	}
	return StatusStaged, nil
}

// Status reports the staging state of a scene.
func (s *Stager) Status(id int) Status {
	if _, ok := s.find(id); ok {
		return StatusStaged
	}
	for _, f := range s.fades {
		if f.ID == id {
			return StatusUnstaging
		}
	}
	if tmpl, ok := s.scenes.Scene(id); ok && tmpl.Attributes.AlwaysStage {
		return StatusAlways
	}
	return StatusUnstaged
}

// Staged returns the staged copies in arrival order.
func (s *Stager) Staged() []Staged {
	out := make([]Staged, len(s.staged))
	copy(out, s.staged)
	return out
}

// Unstaging returns the ids of scenes with a pending fade-out.
func (s *Stager) Unstaging() []int {
	ids := make([]int, 0, len(s.fades))
	for _, f := range s.fades {
		ids = append(ids, f.ID)
	}
	return ids
}

// Apply runs one resolution pass and consumes the pending fades.
func (s *Stager) Apply(opts ApplyOptions) Plan {
	var (
		plan Plan
		acc  = newAccumulator()
	)

	for _, sc := range s.order() {
		g := light.Globals{
			BrightnessPercent: light.Override(opts.BrightnessPercent, sc.Attributes.GlobalBrightnessPercent),
			TransitionMs:      light.Override(opts.TransitionMs, sc.Attributes.GlobalTransitionMs),
		}
		plan.Scenes = append(plan.Scenes, sc.ID)

		for _, st := range sc.Attributes.States {
			targets := s.resolve(st.Targets)
			if len(targets) == 0 {
				continue
			}

			if name := st.Attributes.Effect; name != "" {
				if s.effects != nil && s.effects.Has(name) {
					plan.Effects = append(plan.Effects, EffectSpec{
						SceneID:    sc.ID,
						Name:       name,
						Targets:    targets,
						Attributes: st.Attributes.WithoutEffect(),
						Globals:    g,
					})
					continue
				}
				log.Warn().Str("effect", name).Int("scene_id", sc.ID).Msg("Unknown effect, applying state directly")
			}

			attrs := light.Resolve(light.Attributes{}, st.Attributes, g)
			for _, t := range targets {
				acc.put(t, attrs)
				plan.shadow(t, attrs)
			}
		}
	}

	// Fades come last so their transition wins. Call-level options do not apply.
	for _, f := range s.fades {
		g := light.Globals{TransitionMs: f.Attributes.GlobalTransitionMs}
		for _, st := range f.Attributes.States {
			attrs := light.Resolve(light.Attributes{}, st.Attributes, g)
			for _, t := range s.resolve(st.Targets) {
				acc.put(t, attrs)
			}
		}
		plan.Fades = append(plan.Fades, f.ID)
	}
	s.fades = nil

	plan.Assignments = acc.list()
	return plan
}

// order returns the scenes of one pass, lowest precedence first.
func (s *Stager) order() []Scene {
	var regular []Staged
	always := make(map[int]Scene)
	for _, st := range s.staged {
		if s.isAlways(st.Scene) {
			always[st.Scene.ID] = st.Scene
			continue
		}
		regular = append(regular, st)
	}

	sort.Slice(regular, func(i, j int) bool {
		pi, pj := regular[i].Scene.Attributes.Priority, regular[j].Scene.Attributes.Priority
		switch {
		case pi == nil && pj != nil:
			return true
		case pi != nil && pj == nil:
			return false
		case pi != nil && *pi != *pj:
			return *pi < *pj
		}
		return regular[i].seq < regular[j].seq
	})

	for _, tmpl := range s.scenes.Scenes() {
		if _, ok := always[tmpl.ID]; !ok && tmpl.Attributes.AlwaysStage {
			always[tmpl.ID] = tmpl
		}
	}
	ids := make([]int, 0, len(always))
	for id := range always {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]Scene, 0, len(regular)+len(ids))
	for _, st := range regular {
		out = append(out, st.Scene)
	}
	for _, id := range ids {
		out = append(out, always[id])
	}
	return out
}

func (s *Stager) isAlways(sc Scene) bool {
	if sc.Attributes.AlwaysStage {
		return true
	}
	tmpl, ok := s.scenes.Scene(sc.ID)
	return ok && tmpl.Attributes.AlwaysStage
}

func (s *Stager) resolve(targets []target.Target) []target.Target {
	if s.targets == nil {
		return targets
	}
	return s.targets.ResolveAll(targets)
}

func (s *Stager) find(id int) (Staged, bool) {
	for _, st := range s.staged {
		if st.Scene.ID == id {
			return st, true
		}
	}
	return Staged{}, false
}

func (s *Stager) remove(id int) {
	kept := s.staged[:0]
	for _, st := range s.staged {
		if st.Scene.ID != id {
			kept = append(kept, st)
		}
	}
	s.staged = kept
}

func (s *Stager) dropFade(id int) {
	kept := s.fades[:0]
	for _, f := range s.fades {
		if f.ID != id {
			kept = append(kept, f)
		}
	}
	s.fades = kept
}

// fadeOf strips every state down to its targets and carries only the transition.
func fadeOf(sc Scene, transitionMs int) Scene {
	fade := sc.Clone()
	fade.Attributes.Priority = nil
	fade.Attributes.GlobalBrightnessPercent = nil
	fade.Attributes.GlobalTransitionMs = light.Int(transitionMs)
	for i := range fade.Attributes.States {
		fade.Attributes.States[i].Attributes = light.Attributes{}
	}
	return fade
}
