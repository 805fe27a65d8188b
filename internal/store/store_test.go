package store

import (
	"path/filepath"
	"testing"

	"github.com/h2owater425/qached/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New("TEST", "error")
}

func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	if _, err := New(dir, testLogger()); err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestWriteReadDelete(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, ok, err := s.Read("missing"); err != nil || ok {
		t.Fatalf("Read(missing) = ok=%v err=%v, want ok=false err=nil", ok, err)
	}

	if err := s.Write("k", "hello"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	value, ok, err := s.Read("k")
	if err != nil || !ok {
		t.Fatalf("Read(k) = ok=%v err=%v, want ok=true err=nil", ok, err)
	}
	if value != "hello" {
		t.Errorf("value = %q, want %q", value, "hello")
	}

	existed, err := s.Delete("k")
	if err != nil || !existed {
		t.Fatalf("Delete(k) = existed=%v err=%v, want existed=true err=nil", existed, err)
	}

	existed, err = s.Delete("k")
	if err != nil || existed {
		t.Fatalf("second Delete(k) = existed=%v err=%v, want existed=false err=nil", existed, err)
	}

	if _, ok, err := s.Read("k"); err != nil || ok {
		t.Fatalf("Read after delete = ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestWrite_Overwrites(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Write("k", "v1"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write("k", "v2"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	value, ok, err := s.Read("k")
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	if value != "v2" {
		t.Errorf("value = %q, want %q", value, "v2")
	}
}

// TestSurvivesEviction matches spec.md §8's invariant: for every key ever
// SET and not later DELeted, after eviction the store still returns the
// last value written.
func TestSurvivesEviction(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Write("k", "persisted"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Simulate the key being evicted from the in-memory cache: the store
	// itself is untouched and remains authoritative.
	value, ok, err := s.Read("k")
	if err != nil || !ok || value != "persisted" {
		t.Fatalf("Read after simulated eviction = value=%q ok=%v err=%v", value, ok, err)
	}
}
