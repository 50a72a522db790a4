package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dokzlo13/lightstage/internal/light"
	"github.com/dokzlo13/lightstage/internal/target"
)

type fakeController struct {
	kind    target.Kind
	sendErr error

	mu     sync.Mutex
	queued map[string]light.Attributes
	sent   []map[string]light.Attributes
}

func newFake(kind target.Kind) *fakeController {
	return &fakeController{kind: kind, queued: make(map[string]light.Attributes)}
}

func (f *fakeController) Kind() target.Kind { return f.kind }

func (f *fakeController) Queue(t target.Target, attrs light.Attributes) bool {
	if t.Kind != f.kind {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued[t.ID] = attrs
	return true
}

func (f *fakeController) Send(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, f.queued)
	f.queued = make(map[string]light.Attributes)
	return f.sendErr
}

func intPtr(v int) *int { return &v }

func TestEnqueue_FirstClaimWins(t *testing.T) {
	first := newFake(target.KindHue)
	second := newFake(target.KindHue)
	q := NewQueue(first, second)

	if !q.Enqueue(target.Target{Kind: target.KindHue, ID: "1"}, light.Attributes{BrightnessPercent: intPtr(40)}) {
		t.Fatal("Enqueue() should be claimed")
	}
	if len(first.queued) != 1 || len(second.queued) != 0 {
		t.Errorf("first=%d second=%d, want 1/0", len(first.queued), len(second.queued))
	}
}

func TestEnqueue_UnclaimedDropped(t *testing.T) {
	hue := newFake(target.KindHue)
	q := NewQueue(hue)

	dev := target.Target{Kind: target.KindMQTT, ID: "strip"}
	if q.Enqueue(dev, light.Attributes{BrightnessPercent: intPtr(40)}) {
		t.Error("Enqueue() should report unclaimed")
	}
	if _, ok := q.Current(dev); ok {
		t.Error("unclaimed targets must not enter the snapshot")
	}
}

func TestEnqueue_Snapshot(t *testing.T) {
	q := NewQueue(newFake(target.KindHue))
	dev := target.Target{Kind: target.KindHue, ID: "1"}

	q.Enqueue(dev, light.Attributes{BrightnessPercent: intPtr(40), Effect: "Color Cycle"})
	got, ok := q.Current(dev)
	if !ok || *got.BrightnessPercent != 40 {
		t.Fatalf("Current() = %+v, %v", got, ok)
	}
	if got.Effect != "" {
		t.Error("queued attributes must not carry an effect")
	}

	*got.BrightnessPercent = 99
	if again, _ := q.Current(dev); *again.BrightnessPercent != 40 {
		t.Error("Current() must return a copy")
	}
}

func TestFlush(t *testing.T) {
	ok := newFake(target.KindHue)
	failing := newFake(target.KindMQTT)
	failing.sendErr = errors.New("broker down")
	q := NewQueue(ok, failing)

	q.Enqueue(target.Target{Kind: target.KindHue, ID: "1"}, light.Attributes{BrightnessPercent: intPtr(10)})
	q.Enqueue(target.Target{Kind: target.KindMQTT, ID: "2"}, light.Attributes{BrightnessPercent: intPtr(20)})

	err := q.Flush(context.Background())
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("Flush() error = %v, want ErrDispatchFailed", err)
	}
	if len(ok.sent) != 1 || len(ok.sent[0]) != 1 {
		t.Error("healthy controller should still send")
	}
	if len(failing.queued) != 0 {
		t.Error("Send must clear the buffer even on failure")
	}

	failing.sendErr = nil
	if err := q.Flush(context.Background()); err != nil {
		t.Errorf("Flush() error = %v, want nil", err)
	}
}
