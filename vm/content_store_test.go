package vm

import (
	"path/filepath"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Content hash tests
// ---------------------------------------------------------------------------

func TestContentHashStable(t *testing.T) {
	a := SampleSumLoop(5)
	b := SampleSumLoop(5)
	if ContentHash(a) != ContentHash(b) {
		t.Error("identical programs should hash identically")
	}
}

func TestContentHashIgnoresName(t *testing.T) {
	a := SampleSumLoop(5)
	b := SampleSumLoop(5)
	b.Name = "renamed"
	if ContentHash(a) != ContentHash(b) {
		t.Error("the name is not program content")
	}
}

func TestContentHashSensitive(t *testing.T) {
	a := SampleSumLoop(5)
	if ContentHash(a) == ContentHash(SampleSumLoop(6)) {
		t.Error("different words should hash differently")
	}

	c := SampleSumLoop(5)
	c.Strings = append([]string{}, c.Strings...)
	c.Strings[0] = "Sum: "
	if ContentHash(a) == ContentHash(c) {
		t.Error("different string tables should hash differently")
	}
}

// ---------------------------------------------------------------------------
// RunStore tests
// ---------------------------------------------------------------------------

func TestRunStoreRecordAndQuery(t *testing.T) {
	store, err := OpenRunStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	hash := ContentHashString(SampleSumLoop(5))
	first := &RunRecord{
		ProgramHash: hash,
		Mode:        ModeGeneric.String(),
		Result:      15,
		Output:      "Result: 15\n",
		CreatedAt:   time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	second := &RunRecord{
		ProgramHash: hash,
		Mode:        ModeSpecialized.String(),
		Result:      15,
		Output:      "Result: 15\n",
		CreatedAt:   time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC),
	}
	if err := store.Record(first); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Record(second); err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Errorf("record IDs not assigned uniquely: %q, %q", first.ID, second.ID)
	}

	runs, err := store.RunsFor(hash)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].Mode != "generic" || runs[1].Mode != "specialized" {
		t.Errorf("modes = %q, %q, want generic then specialized", runs[0].Mode, runs[1].Mode)
	}
	if runs[0].Result != 15 || runs[0].Output != "Result: 15\n" {
		t.Errorf("record fields did not round trip: %+v", runs[0])
	}
	if !runs[0].CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created at = %v, want %v", runs[0].CreatedAt, first.CreatedAt)
	}
}

func TestRunStoreLargeResultWord(t *testing.T) {
	store, err := OpenRunStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	// A result above 1<<63 must survive the signed sqlite column.
	rec := &RunRecord{ProgramHash: "h", Mode: "generic", Result: ^Word(0)}
	if err := store.Record(rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	runs, err := store.RunsFor("h")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(runs) != 1 || runs[0].Result != ^Word(0) {
		t.Errorf("result = %d, want %d", runs[0].Result, ^Word(0))
	}
}

func TestRunStoreEmptyQuery(t *testing.T) {
	store, err := OpenRunStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	runs, err := store.RunsFor("nothing")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("runs = %d, want 0", len(runs))
	}
}
