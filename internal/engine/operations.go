package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightstage/internal/eventbus"
	"github.com/dokzlo13/lightstage/internal/scene"
)

// StageScene stages a scene and retires the effects of its previous staged copy.
// Nothing is dispatched until ApplyAll.
func (e *Engine) StageScene(ctx context.Context, id int, opts scene.StageOptions) (scene.Staged, error) {
	var staged scene.Staged
	err := e.do(ctx, func(context.Context) error {
		var err error
		if staged, err = e.stager.Stage(id, opts); err != nil {
			return err
		}
		e.retire(id)
		e.publish(eventbus.EventTypeSceneStaged, map[string]interface{}{
			"scene_id": id,
			"scene":    staged.Scene.Name,
			"priority": staged.Scene.Attributes.Priority,
		})
		return nil
	})
	return staged, err
}

// UnstageScene unstages a scene, optionally queueing a fade-out, and reports
// whether the scene was staged.
func (e *Engine) UnstageScene(ctx context.Context, id int, transitionMs *int) (bool, error) {
	var removed bool
	err := e.do(ctx, func(context.Context) error {
		if removed = e.stager.Unstage(id, transitionMs); removed {
			e.retire(id)
			e.publish(eventbus.EventTypeSceneUnstaged, map[string]interface{}{
				"scene_id":      id,
				"transition_ms": transitionMs,
			})
		}
		return nil
	})
	return removed, err
}

// ToggleScene stages an unstaged scene or unstages a staged one.
func (e *Engine) ToggleScene(ctx context.Context, id int, opts scene.StageOptions) (scene.Status, error) {
	var status scene.Status
	err := e.do(ctx, func(context.Context) error {
		wasStaged := e.stager.Status(id) == scene.StatusStaged

		var err error
		if status, err = e.stager.Toggle(id, opts); err != nil {
			return err
		}
		e.retire(id)

		eventType := eventbus.EventTypeSceneStaged
		if wasStaged {
			eventType = eventbus.EventTypeSceneUnstaged
		}
		e.publish(eventType, map[string]interface{}{"scene_id": id, "status": string(status)})
		return nil
	})
	return status, err
}

// ApplyAll runs a resolution pass, replaces every running effect, forces the
// new effects to emit and flushes the result. A dispatch error is returned
// together with the plan that was dispatched.
func (e *Engine) ApplyAll(ctx context.Context, opts scene.ApplyOptions) (scene.Plan, error) {
	var plan scene.Plan
	err := e.do(ctx, func(ctx context.Context) error {
		e.retireAll()
		plan = e.stager.Apply(opts)
		if plan.Empty() {
			log.Debug().Msg("Resolution pass produced no output")
		}

		for _, a := range plan.Assignments {
			e.queue.Enqueue(a.Target, a.Attributes)
		}
		for _, spec := range plan.Effects {
			e.spawn(spec)
		}
		for _, r := range e.running {
			r.fx.Tick(true)
		}

		batch := uuid.New().String()
		log.Info().
			Str("batch", batch).
			Ints("scenes", plan.Scenes).
			Ints("fades", plan.Fades).
			Int("targets", len(plan.Assignments)).
			Int("effects", len(e.running)).
			Msg("Applying scenes")

		e.publish(eventbus.EventTypeScenesApplied, map[string]interface{}{
			"batch":   batch,
			"scenes":  plan.Scenes,
			"fades":   plan.Fades,
			"targets": len(plan.Assignments),
			"effects": len(e.running),
		})
		return e.flush(ctx)
	})
	return plan, err
}

// StagedScenes returns the staged copies in arrival order.
func (e *Engine) StagedScenes(ctx context.Context) ([]scene.Staged, error) {
	var staged []scene.Staged
	err := e.do(ctx, func(context.Context) error {
		staged = e.stager.Staged()
		return nil
	})
	return staged, err
}

// UnstagingScenes returns the ids of scenes with a fade-out waiting for ApplyAll.
func (e *Engine) UnstagingScenes(ctx context.Context) ([]int, error) {
	var ids []int
	err := e.do(ctx, func(context.Context) error {
		ids = e.stager.Unstaging()
		return nil
	})
	return ids, err
}

// SceneStatus reports the staging state of a scene.
func (e *Engine) SceneStatus(ctx context.Context, id int) (scene.Status, error) {
	var status scene.Status
	err := e.do(ctx, func(context.Context) error {
		status = e.stager.Status(id)
		return nil
	})
	return status, err
}

// Effects lists the running effects.
func (e *Engine) Effects(ctx context.Context) ([]RunningEffect, error) {
	var out []RunningEffect
	err := e.do(ctx, func(context.Context) error {
		out = make([]RunningEffect, 0, len(e.running))
		for _, r := range e.running {
			out = append(out, r.RunningEffect)
		}
		return nil
	})
	return out, err
}
