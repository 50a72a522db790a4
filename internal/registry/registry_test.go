package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dokzlo13/lightstage/internal/db"
	"github.com/dokzlo13/lightstage/internal/light"
	"github.com/dokzlo13/lightstage/internal/scene"
	"github.com/dokzlo13/lightstage/internal/storage"
	"github.com/dokzlo13/lightstage/internal/target"
)

const definitions = `
groups:
  1:
    name: living room
    targets:
      - {type: hue, id: "1"}
      - {type: mqtt, id: lamp}
scenes:
  1:
    name: reading
    attributes:
      priority: 2
      states:
        - targets: [{type: group, id: "1"}]
          attributes: {on: true, brightnessPercent: 80}
  3:
    name: candle
    attributes:
      alwaysStage: true
      states:
        - targets: [{type: hue, id: "2"}]
          attributes: {effect: Candle}
`

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "defs.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return storage.NewStore(database.DB)
}

func TestImport(t *testing.T) {
	scenes, groups := NewScenes(nil), NewGroups(nil)

	nScenes, nGroups, err := Import([]byte(definitions), scenes, groups)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if nScenes != 2 || nGroups != 1 {
		t.Errorf("Import() = %d scenes, %d groups, want 2, 1", nScenes, nGroups)
	}

	reading, ok := scenes.Scene(1)
	if !ok {
		t.Fatal("scene 1 missing")
	}
	if reading.ID != 1 || reading.Name != "reading" || *reading.Attributes.Priority != 2 {
		t.Errorf("scene 1 = %+v", reading)
	}
	if got := reading.Attributes.States[0].Attributes.BrightnessPercent; got == nil || *got != 80 {
		t.Errorf("brightness = %v, want 80", got)
	}

	candle, _ := scenes.FindByName("candle")
	if candle.ID != 3 || !candle.Attributes.AlwaysStage {
		t.Errorf("FindByName(candle) = %+v", candle)
	}

	room, ok := groups.Group(1)
	if !ok || len(room.Targets) != 2 || room.Targets[1].Kind != target.KindMQTT {
		t.Errorf("group 1 = %+v", room)
	}
}

func TestImport_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "malformed", doc: "scenes: [oops"},
		{name: "zero_scene_id", doc: "scenes:\n  0: {name: x}\n"},
		{name: "negative_group_id", doc: "groups:\n  -1: {name: x}\n"},
		{name: "valid_groups_bad_scene", doc: "groups:\n  1: {name: hall}\nscenes:\n  1: {name: a}\n  0: {name: b}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenes, groups := NewScenes(nil), NewGroups(nil)
			if _, _, err := Import([]byte(tt.doc), scenes, groups); err == nil {
				t.Error("expected error")
			}
			if scenes.Len() != 0 || groups.Len() != 0 {
				t.Errorf("failed import left %d scenes and %d groups", scenes.Len(), groups.Len())
			}
		})
	}
}

func TestImportFile_Missing(t *testing.T) {
	_, _, err := ImportFile(filepath.Join(t.TempDir(), "absent.yaml"), NewScenes(nil), NewGroups(nil))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestScenes_AddUsesFirstFreeID(t *testing.T) {
	r := NewScenes(nil)
	r.Put(scene.Scene{ID: 1, Name: "a"})
	r.Put(scene.Scene{ID: 3, Name: "c"})

	if id := r.Add(scene.Scene{ID: 99, Name: "b"}); id != 2 {
		t.Errorf("Add() = %d, want 2", id)
	}
	if id := r.Add(scene.Scene{Name: "d"}); id != 4 {
		t.Errorf("Add() = %d, want 4", id)
	}
	if s, _ := r.Scene(2); s.ID != 2 || s.Name != "b" {
		t.Errorf("Scene(2) = %+v", s)
	}

	if !r.Remove(1) || r.Remove(1) {
		t.Error("Remove() should succeed once")
	}
	if id := r.Add(scene.Scene{Name: "e"}); id != 1 {
		t.Errorf("Add() after remove = %d, want 1", id)
	}

	var names []string
	for _, s := range r.Scenes() {
		names = append(names, s.Name)
	}
	if want := []string{"e", "b", "c", "d"}; len(names) != 4 || names[0] != want[0] || names[3] != want[3] {
		t.Errorf("Scenes() = %v, want %v", names, want)
	}
}

func TestScenes_ReturnsCopies(t *testing.T) {
	r := NewScenes(nil)
	r.Put(scene.Scene{ID: 1, Attributes: scene.Attributes{States: []scene.State{{
		Attributes: light.Attributes{BrightnessPercent: light.Int(50)},
	}}}})

	s, _ := r.Scene(1)
	*s.Attributes.States[0].Attributes.BrightnessPercent = 10

	again, _ := r.Scene(1)
	if got := *again.Attributes.States[0].Attributes.BrightnessPercent; got != 50 {
		t.Errorf("stored brightness = %d, want 50", got)
	}
}

func TestSaveAndLoad(t *testing.T) {
	store := openStore(t)

	scenes, groups := NewScenes(store), NewGroups(store)
	if _, _, err := Import([]byte(definitions), scenes, groups); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if err := scenes.Save(); err != nil {
		t.Fatalf("Scenes.Save() error = %v", err)
	}
	if err := groups.Save(); err != nil {
		t.Fatalf("Groups.Save() error = %v", err)
	}

	scenes.Remove(3)
	if err := scenes.Save(); err != nil {
		t.Fatalf("Scenes.Save() error = %v", err)
	}

	reloadedScenes, reloadedGroups := NewScenes(store), NewGroups(store)
	if err := reloadedScenes.Load(); err != nil {
		t.Fatalf("Scenes.Load() error = %v", err)
	}
	if err := reloadedGroups.Load(); err != nil {
		t.Fatalf("Groups.Load() error = %v", err)
	}

	if reloadedScenes.Len() != 1 {
		t.Errorf("reloaded %d scenes, want 1", reloadedScenes.Len())
	}
	if s, ok := reloadedScenes.Scene(1); !ok || s.ID != 1 || s.Name != "reading" {
		t.Errorf("reloaded scene 1 = %+v, %v", s, ok)
	}
	entries := reloadedGroups.Groups()
	if len(entries) != 1 || entries[0].ID != 1 || entries[0].Name != "living room" {
		t.Errorf("reloaded groups = %+v", entries)
	}
}

func TestImportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defs.yaml")
	if err := os.WriteFile(path, []byte(definitions), 0o644); err != nil {
		t.Fatal(err)
	}
	scenes, groups := NewScenes(nil), NewGroups(nil)
	if _, _, err := ImportFile(path, scenes, groups); err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	if scenes.Len() != 2 || groups.Len() != 1 {
		t.Errorf("imported %d scenes, %d groups", scenes.Len(), groups.Len())
	}
}
