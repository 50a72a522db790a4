package storage

import (
	"path/filepath"
	"testing"

	"github.com/dokzlo13/lightstage/internal/db"
)

type record struct {
	Name string `json:"name"`
}

func openStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database.DB)
}

func TestTypedStore_ReplaceAndGetAll(t *testing.T) {
	store := NewTypedStore[record](openStore(t), "scene")

	if err := store.Replace(map[string]record{"1": {Name: "a"}, "2": {Name: "b"}}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if err := store.Replace(map[string]record{"1": {Name: "a2"}, "3": {Name: "c"}}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	values, versions, err := store.GetAll()
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("got %d entries, want 2 (stale entry removed)", len(values))
	}
	if values["1"].Name != "a2" || versions["1"] != 2 {
		t.Errorf("entry 1 = %+v v%d, want a2 v2", values["1"], versions["1"])
	}
	if versions["3"] != 1 {
		t.Errorf("entry 3 version = %d, want 1", versions["3"])
	}

	got, version, err := store.Get("2")
	if err != nil || version != 0 || got.Name != "" {
		t.Errorf("Get(removed) = %+v, %d, %v", got, version, err)
	}
}

func TestTypedStore_KindsAreIsolated(t *testing.T) {
	base := openStore(t)
	scenes := NewTypedStore[record](base, "scene")
	groups := NewTypedStore[record](base, "group")

	scenes.Replace(map[string]record{"1": {Name: "scene"}})
	groups.Replace(map[string]record{"1": {Name: "group"}})
	groups.Replace(map[string]record{})

	values, _, err := scenes.GetAll()
	if err != nil || len(values) != 1 || values["1"].Name != "scene" {
		t.Errorf("scenes = %+v, %v", values, err)
	}
	if values, _, _ := groups.GetAll(); len(values) != 0 {
		t.Errorf("groups = %+v, want empty", values)
	}
}
