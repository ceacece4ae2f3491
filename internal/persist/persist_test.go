package persist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	want := record{Name: "dev", Count: 3}
	if err := s.Save(KindChannel, "dev", want); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	var got record
	if err := s.Load(KindChannel, "dev", &got); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	if err := s.Save(KindSession, "7", record{Name: "x"}); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, KindSession))
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "7.json" {
		t.Errorf("state dir contents = %v, want exactly 7.json", entries)
	}
}

func TestDeleteMissingIsNoOp(t *testing.T) {
	s := NewStore(t.TempDir())

	if err := s.Delete(KindChannel, "ghost"); err != nil {
		t.Errorf("Delete of missing record error: %v", err)
	}

	s.Save(KindChannel, "dev", record{})
	if err := s.Delete(KindChannel, "dev"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	var got record
	if err := s.Load(KindChannel, "dev", &got); err == nil {
		t.Error("Load after Delete should fail")
	}
}

func TestLoadAll(t *testing.T) {
	s := NewStore(t.TempDir())

	s.Save(KindSession, "1", record{Name: "a"})
	s.Save(KindSession, "2", record{Name: "b"})

	records, err := s.LoadAll(KindSession)
	if err != nil {
		t.Fatalf("LoadAll error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("LoadAll returned %d records, want 2", len(records))
	}
	for _, key := range []string{"1", "2"} {
		if _, ok := records[key]; !ok {
			t.Errorf("missing record %q", key)
		}
	}
}

func TestLoadAllMissingKind(t *testing.T) {
	s := NewStore(t.TempDir())

	records, err := s.LoadAll(KindChannel)
	if err != nil {
		t.Fatalf("LoadAll error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("LoadAll of missing kind = %d records, want 0", len(records))
	}
}

func TestErrorWrapping(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing"))

	err := s.Load(KindChannel, "dev", &record{})
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if !os.IsNotExist(errors.Unwrap(perr)) {
		t.Errorf("unwrapped = %v, want not-exist", errors.Unwrap(perr))
	}
}
