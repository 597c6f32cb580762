package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMarkers(t *testing.T) {
	m := NewMarkers(filepath.Join(t.TempDir(), "markers"), "")

	if _, ok, err := m.Time(MarkerSetupComplete); err != nil || ok {
		t.Fatalf("Time() before Create = %v, %v", ok, err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := m.Create(MarkerSetupComplete, now); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, ok, err := m.Time(MarkerSetupComplete)
	if err != nil || !ok || !got.Equal(now) {
		t.Errorf("Time() = %v, %v, %v, want %v", got, ok, err, now)
	}

	if err := m.Remove(MarkerSetupComplete); err != nil {
		t.Errorf("Remove() error = %v", err)
	}
	// Removing twice is fine
	if err := m.Remove(MarkerSetupComplete); err != nil {
		t.Errorf("Remove() second call error = %v", err)
	}
	if _, ok, _ := m.Time(MarkerSetupComplete); ok {
		t.Error("marker still present after Remove")
	}
}

func TestMarkersLegacyEmptyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "old"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	_, ok, err := NewMarkers(dir, "").Time("old")
	if err != nil || !ok {
		t.Errorf("Time() on empty marker = %v, %v, want ok", ok, err)
	}
}

func TestMarkerNameValidation(t *testing.T) {
	m := NewMarkers(t.TempDir(), "")
	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		if err := m.Create(name, time.Now()); err == nil {
			t.Errorf("Create(%q) should fail", name)
		}
	}
}

func TestNewMarkersDefaultDir(t *testing.T) {
	m := NewMarkers("", "/home/core")
	if m.Dir() != "/home/core/.local/state/nvme-models" {
		t.Errorf("Dir() = %v", m.Dir())
	}
}
