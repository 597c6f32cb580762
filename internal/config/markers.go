package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Markers manages completion marker files. Each marker holds the RFC 3339
// time it was written.
type Markers struct {
	dir string
}

// NewMarkers creates a new Markers instance. An empty dir selects
// ~/.local/state/nvme-models under home.
func NewMarkers(dir, home string) *Markers {
	if dir == "" {
		if home == "" {
			if h, err := os.UserHomeDir(); err == nil {
				home = h
			} else {
				home = os.TempDir()
			}
		}
		dir = filepath.Join(home, ".local", "state", "nvme-models")
	}

	return &Markers{
		dir: dir,
	}
}

// validateMarkerName ensures the marker name is safe and doesn't contain path traversal characters
func validateMarkerName(name string) error {
	if name == "" {
		return fmt.Errorf("marker name cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("marker name cannot contain path separators: %s", name)
	}
	if name == ".." || name == "." {
		return fmt.Errorf("marker name cannot be '.' or '..': %s", name)
	}
	return nil
}

// Create writes a marker stamped with now, replacing any earlier one.
func (m *Markers) Create(name string, now time.Time) error {
	if err := validateMarkerName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}

	markerPath := filepath.Join(m.dir, name)
	if err := os.WriteFile(markerPath, []byte(now.UTC().Format(time.RFC3339)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to create marker file: %w", err)
	}
	return nil
}

// Time returns when the marker was written. ok is false if it is missing.
func (m *Markers) Time(name string) (t time.Time, ok bool, err error) {
	if err := validateMarkerName(name); err != nil {
		return time.Time{}, false, err
	}
	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if os.IsNotExist(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read marker: %w", err)
	}
	t, err = time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		// Empty markers from older versions still count.
		info, serr := os.Stat(filepath.Join(m.dir, name))
		if serr != nil {
			return time.Time{}, true, nil
		}
		return info.ModTime(), true, nil
	}
	return t, true, nil
}

// Remove deletes a marker; a missing one is not an error.
func (m *Markers) Remove(name string) error {
	if err := validateMarkerName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(m.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Dir returns the marker directory path
func (m *Markers) Dir() string {
	return m.dir
}
