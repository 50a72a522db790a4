package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/lightstage/internal/dispatch"
	"github.com/dokzlo13/lightstage/internal/effect"
	"github.com/dokzlo13/lightstage/internal/eventbus"
	"github.com/dokzlo13/lightstage/internal/light"
	"github.com/dokzlo13/lightstage/internal/scene"
	"github.com/dokzlo13/lightstage/internal/target"
)

type mapScenes map[int]scene.Scene

func (m mapScenes) Scene(id int) (scene.Scene, bool) {
	s, ok := m[id]
	return s, ok
}

func (m mapScenes) Scenes() []scene.Scene {
	var out []scene.Scene
	for _, s := range m {
		out = append(out, s)
	}
	return out
}

type noGroups struct{}

func (noGroups) Group(int) (target.Group, bool) { return target.Group{}, false }

type fakeController struct {
	mu      sync.Mutex
	queued  map[string]light.Attributes
	sent    []map[string]light.Attributes
	sendErr error
}

func (f *fakeController) Kind() target.Kind { return target.KindHue }

func (f *fakeController) Queue(t target.Target, attrs light.Attributes) bool {
	if t.Kind != target.KindHue {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queued == nil {
		f.queued = make(map[string]light.Attributes)
	}
	f.queued[t.ID] = attrs
	return true
}

func (f *fakeController) Send(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queued) > 0 {
		f.sent = append(f.sent, f.queued)
	}
	f.queued = nil
	return f.sendErr
}

func (f *fakeController) batches() []map[string]light.Attributes {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]light.Attributes(nil), f.sent...)
}

func (f *fakeController) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// stubEffect is an effect that emits whenever armed and records its lifecycle.
type stubEffect struct {
	mu      sync.Mutex
	b       effect.Binding
	armed   bool
	forced  int
	flushed int
	closed  bool
}

func (p *stubEffect) Tick(force bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if force {
		p.forced++
	}
	if !force && !p.armed {
		return false
	}
	for _, t := range p.b.Targets {
		p.b.Emit.Enqueue(t, light.Attributes{Hue: intPtr(p.forced + p.flushed)})
	}
	return true
}

func (p *stubEffect) Flushed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushed++
}

func (p *stubEffect) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *stubEffect) snapshot() (forced, flushed int, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.forced, p.flushed, p.closed
}

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.EventType
}

func (r *recordingBus) Publish(e eventbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.Type)
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

type fixture struct {
	engine     *Engine
	controller *fakeController
	stubs      *[]*stubEffect
	bus        *recordingBus
}

func newFixture(t *testing.T, interval time.Duration, extra ...scene.Scene) fixture {
	t.Helper()
	scenes := mapScenes{
		1: {ID: 1, Name: "reading", Attributes: scene.Attributes{States: []scene.State{{
			Targets:    []target.Target{{Kind: target.KindHue, ID: "1"}},
			Attributes: light.Attributes{On: boolPtr(true), BrightnessPercent: intPtr(80)},
		}}}},
		2: {ID: 2, Name: "party", Attributes: scene.Attributes{States: []scene.State{{
			Targets:    []target.Target{{Kind: target.KindHue, ID: "2"}},
			Attributes: light.Attributes{Effect: "Stub"},
		}}}},
	}

	for _, sc := range extra {
		scenes[sc.ID] = sc
	}

	var stubs []*stubEffect
	effects := effect.NewBuiltinRegistry()
	effects.Register("Stub", func(b effect.Binding) (effect.Effect, error) {
		p := &stubEffect{b: b}
		stubs = append(stubs, p)
		return p, nil
	})

	controller := &fakeController{}
	bus := &recordingBus{}
	stager := scene.NewStager(scenes, target.NewResolver(noGroups{}), effects)
	e := New(stager, dispatch.NewQueue(controller), effects, Options{TickInterval: interval, Events: bus})

	go e.Run(context.Background())
	t.Cleanup(e.Stop)
	return fixture{engine: e, controller: controller, stubs: &stubs, bus: bus}
}

func TestEngine_StageAndApply(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	if _, err := f.engine.StageScene(ctx, 1, scene.StageOptions{BrightnessPercent: intPtr(50)}); err != nil {
		t.Fatalf("StageScene() error = %v", err)
	}
	if len(f.controller.batches()) != 0 {
		t.Fatal("staging alone must not dispatch")
	}

	plan, err := f.engine.ApplyAll(ctx, scene.ApplyOptions{})
	if err != nil {
		t.Fatalf("ApplyAll() error = %v", err)
	}
	if len(plan.Assignments) != 1 {
		t.Fatalf("got %d assignments, want 1", len(plan.Assignments))
	}

	batches := f.controller.batches()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if got := batches[0]["1"]; *got.BrightnessPercent != 40 {
		t.Errorf("brightness = %d, want 40", *got.BrightnessPercent)
	}

	staged, err := f.engine.StagedScenes(ctx)
	if err != nil || len(staged) != 1 || staged[0].Scene.ID != 1 {
		t.Errorf("StagedScenes() = %+v, %v", staged, err)
	}
}

func TestEngine_StageUnknownScene(t *testing.T) {
	f := newFixture(t, time.Hour)
	if _, err := f.engine.StageScene(context.Background(), 9, scene.StageOptions{}); !errors.Is(err, scene.ErrSceneNotFound) {
		t.Errorf("StageScene() error = %v, want ErrSceneNotFound", err)
	}
}

func TestEngine_FadeOut(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	f.engine.StageScene(ctx, 1, scene.StageOptions{})
	f.engine.ApplyAll(ctx, scene.ApplyOptions{})

	removed, err := f.engine.UnstageScene(ctx, 1, intPtr(500))
	if err != nil || !removed {
		t.Fatalf("UnstageScene() = %v, %v", removed, err)
	}
	if ids, _ := f.engine.UnstagingScenes(ctx); len(ids) != 1 || ids[0] != 1 {
		t.Errorf("UnstagingScenes() = %v", ids)
	}

	f.engine.ApplyAll(ctx, scene.ApplyOptions{})
	batches := f.controller.batches()
	fade := batches[len(batches)-1]["1"]
	if *fade.TransitionMs != 500 || fade.BrightnessPercent != nil || fade.On != nil {
		t.Errorf("fade = %+v, want only transition 500", fade)
	}

	f.engine.ApplyAll(ctx, scene.ApplyOptions{})
	if got := len(f.controller.batches()); got != len(batches) {
		t.Errorf("fade dispatched again: %d batches, want %d", got, len(batches))
	}
}

func TestEngine_EffectsForcedOnApplyAndReplaced(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	f.engine.StageScene(ctx, 2, scene.StageOptions{})
	plan, err := f.engine.ApplyAll(ctx, scene.ApplyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Effects) != 1 || len(*f.stubs) != 1 {
		t.Fatalf("effects = %d, stubs = %d", len(plan.Effects), len(*f.stubs))
	}

	first := (*f.stubs)[0]
	if forced, flushed, _ := first.snapshot(); forced != 1 || flushed != 1 {
		t.Errorf("forced=%d flushed=%d, want 1/1", forced, flushed)
	}
	if batches := f.controller.batches(); len(batches) != 1 || batches[0]["2"].Hue == nil {
		t.Error("forced effect output should be dispatched by ApplyAll")
	}

	running, _ := f.engine.Effects(ctx)
	if len(running) != 1 || running[0].Name != "Stub" || running[0].SceneID != 2 {
		t.Errorf("Effects() = %+v", running)
	}

	// A second pass replaces the instance.
	f.engine.ApplyAll(ctx, scene.ApplyOptions{})
	if _, _, closed := first.snapshot(); !closed {
		t.Error("previous effect should be closed on ApplyAll")
	}
	if len(*f.stubs) != 2 {
		t.Errorf("stubs = %d, want 2", len(*f.stubs))
	}
}

func TestEngine_UnstageRetiresEffects(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	f.engine.StageScene(ctx, 2, scene.StageOptions{})
	f.engine.ApplyAll(ctx, scene.ApplyOptions{})
	f.engine.UnstageScene(ctx, 2, nil)

	if _, _, closed := (*f.stubs)[0].snapshot(); !closed {
		t.Error("unstage should close the scene's effects")
	}
	if running, _ := f.engine.Effects(ctx); len(running) != 0 {
		t.Errorf("Effects() = %+v, want none", running)
	}
}

func TestEngine_FlushedOnlyAfterSuccess(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()
	f.controller.fail(errors.New("bridge unreachable"))

	f.engine.StageScene(ctx, 2, scene.StageOptions{})
	if _, err := f.engine.ApplyAll(ctx, scene.ApplyOptions{}); !errors.Is(err, dispatch.ErrDispatchFailed) {
		t.Fatalf("ApplyAll() error = %v, want ErrDispatchFailed", err)
	}
	if _, flushed, _ := (*f.stubs)[0].snapshot(); flushed != 0 {
		t.Error("Flushed must not be called after a failed flush")
	}

	f.bus.mu.Lock()
	defer f.bus.mu.Unlock()
	found := false
	for _, e := range f.bus.events {
		if e == eventbus.EventTypeDispatchFailed {
			found = true
		}
	}
	if !found {
		t.Error("dispatch failure should be published")
	}
}

func TestEngine_TickLoopDrivesEffects(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond)
	ctx := context.Background()

	f.engine.StageScene(ctx, 2, scene.StageOptions{})
	f.engine.ApplyAll(ctx, scene.ApplyOptions{})

	p := (*f.stubs)[0]
	p.mu.Lock()
	p.armed = true
	p.mu.Unlock()

	deadline := time.After(2 * time.Second)
	for {
		if _, flushed, _ := p.snapshot(); flushed >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("tick loop did not flush effect output")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if len(f.controller.batches()) < 3 {
		t.Error("each emitting tick should produce a dispatch")
	}
}

func TestEngine_Stop(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.engine.StageScene(context.Background(), 2, scene.StageOptions{})
	f.engine.ApplyAll(context.Background(), scene.ApplyOptions{})

	f.engine.Stop()
	f.engine.Stop()

	if _, err := f.engine.StageScene(context.Background(), 1, scene.StageOptions{}); !errors.Is(err, ErrStopped) {
		t.Errorf("StageScene() after Stop error = %v, want ErrStopped", err)
	}
	if _, _, closed := (*f.stubs)[0].snapshot(); !closed {
		t.Error("Stop should close running effects")
	}
}

func TestEngine_ToggleScene(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	status, err := f.engine.ToggleScene(ctx, 1, scene.StageOptions{})
	if err != nil || status != scene.StatusStaged {
		t.Fatalf("ToggleScene() = %s, %v", status, err)
	}
	status, err = f.engine.ToggleScene(ctx, 1, scene.StageOptions{})
	if err != nil || status != scene.StatusUnstaged {
		t.Fatalf("ToggleScene() = %s, %v", status, err)
	}
	if got, _ := f.engine.SceneStatus(ctx, 1); got != scene.StatusUnstaged {
		t.Errorf("SceneStatus() = %s", got)
	}
}

func TestEngine_EffectRespectsHigherPrecedence(t *testing.T) {
	lamp := target.Target{Kind: target.KindHue, ID: "4"}
	f := newFixture(t, time.Hour,
		scene.Scene{ID: 4, Name: "disco", Attributes: scene.Attributes{
			Priority: intPtr(1),
			States:   []scene.State{{Targets: []target.Target{lamp}, Attributes: light.Attributes{Effect: effect.NameColorCycle}}},
		}},
		scene.Scene{ID: 5, Name: "dim", Attributes: scene.Attributes{
			AlwaysStage: true,
			States:      []scene.State{{Targets: []target.Target{lamp}, Attributes: light.Attributes{BrightnessPercent: intPtr(10)}}},
		}},
	)
	ctx := context.Background()

	f.engine.StageScene(ctx, 4, scene.StageOptions{})
	if _, err := f.engine.ApplyAll(ctx, scene.ApplyOptions{}); err != nil {
		t.Fatalf("ApplyAll() error = %v", err)
	}

	batches := f.controller.batches()
	got := batches[len(batches)-1]["4"]
	if got.BrightnessPercent == nil || *got.BrightnessPercent != 10 {
		t.Errorf("brightness = %v, want 10 from the always staged scene", got.BrightnessPercent)
	}
	if got.Hue == nil {
		t.Error("fields the always staged scene leaves unset should come from the effect")
	}
}

func TestEngine_FailedApplyRetriedNextTick(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond, scene.Scene{ID: 3, Name: "daytime", Attributes: scene.Attributes{
		States: []scene.State{{
			Targets:    []target.Target{{Kind: target.KindHue, ID: "3"}},
			Attributes: light.Attributes{Effect: effect.NameDayLight},
		}},
	}})
	ctx := context.Background()
	f.controller.fail(errors.New("bridge unreachable"))

	f.engine.StageScene(ctx, 3, scene.StageOptions{})
	if _, err := f.engine.ApplyAll(ctx, scene.ApplyOptions{}); !errors.Is(err, dispatch.ErrDispatchFailed) {
		t.Fatalf("ApplyAll() error = %v, want ErrDispatchFailed", err)
	}

	// Day Light runs every few minutes; the unsent output must be retried each tick.
	deadline := time.After(2 * time.Second)
	for len(f.controller.batches()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("got %d dispatch attempts, want retries on the following ticks", len(f.controller.batches()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Once a send succeeds the effect goes quiet until its interval.
	f.controller.fail(nil)
	deadline = time.After(2 * time.Second)
	prev := -1
	for {
		n := len(f.controller.batches())
		if n == prev {
			break
		}
		prev = n
		select {
		case <-deadline:
			t.Fatal("effect kept re-emitting after a successful send")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
