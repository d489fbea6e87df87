package artifact

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.Save("model.json", []byte(`{"topics":3}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Exists("model.json") {
		t.Fatal("artifact should exist after Save")
	}
	data, err := s.Load("model.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != `{"topics":3}` {
		t.Errorf("Load = %q", data)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save("a.bin", []byte("x")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the artifact, found %d entries", len(entries))
	}
}

func TestAppendAndReadLines(t *testing.T) {
	s := newTestStore(t)

	for _, p := range []string{"models/a.json", "models/b.json"} {
		if err := s.AppendLine("models.list", p); err != nil {
			t.Fatalf("AppendLine: %v", err)
		}
	}
	lines, err := s.ReadLines("models.list")
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if len(lines) != 2 || lines[0] != "models/a.json" {
		t.Errorf("ReadLines = %v", lines)
	}

	missing, err := s.ReadLines("absent.list")
	if err != nil {
		t.Fatalf("ReadLines missing: %v", err)
	}
	if missing != nil {
		t.Errorf("missing tracker should yield nil, got %v", missing)
	}
}

func TestRemoveMissingIsNoError(t *testing.T) {
	s := newTestStore(t)
	if err := s.Remove("never-existed"); err != nil {
		t.Errorf("Remove missing: %v", err)
	}
}

func TestJSONCheckpointer(t *testing.T) {
	s := newTestStore(t)
	type state struct {
		Done []string `json:"done"`
	}
	cp := JSONCheckpointer[state]{Store: s, Name: "checkpoint.json"}

	if _, ok, err := cp.Load(); err != nil || ok {
		t.Fatalf("empty checkpoint: ok=%v err=%v", ok, err)
	}
	if err := cp.Save(state{Done: []string{"a"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := cp.Load()
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if len(got.Done) != 1 || got.Done[0] != "a" {
		t.Errorf("Load = %+v", got)
	}

	// Torn checkpoints must not occur: the file is always complete JSON.
	data, err := os.ReadFile(filepath.Join(s.Dir(), "checkpoint.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 || data[0] != '{' {
		t.Errorf("checkpoint content: %q", data)
	}
}
