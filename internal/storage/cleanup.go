package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Cleanup removes staging directories older than olderThan. It takes no
// lock: the staging directory named in a held lock's record is always
// skipped, and anything younger than the threshold is left alone.
func (m *Manager) Cleanup(olderThan time.Duration) (removed int, err error) {
	defer func() {
		m.metrics.addRemoved("staging", removed)
		m.metrics.observeOperation("cleanup", err, m.now())
	}()

	active := ""
	if holder, held, herr := m.lock.Holder(); herr == nil && held && holder != nil && holder.Staging != "" {
		active = filepath.Clean(holder.Staging)
	}

	return m.sweep("staging", olderThan, func(name string) (time.Time, bool) {
		if !isStagingName(name) {
			return time.Time{}, false
		}
		// Unparseable names fall back to mtime.
		t, _ := parseStagingTime(name)
		return t, true
	}, active)
}

// PruneBackups removes "<name>.backup.<unix>" directories left by publish
// that are older than olderThan.
func (m *Manager) PruneBackups(olderThan time.Duration) (removed int, err error) {
	defer func() {
		m.metrics.addRemoved("backup", removed)
		m.metrics.observeOperation("prune", err, m.now())
	}()

	return m.sweep("backup", olderThan, parseBackupTime, "")
}

// sweep removes, from every provider directory, the subdirectories that
// match accepts and that are older than olderThan. A zero time from match
// means the entry's mtime is used instead.
func (m *Manager) sweep(kind string, olderThan time.Duration, match func(name string) (time.Time, bool), skip string) (int, error) {
	now := m.now()
	removed := 0
	var errs *multierror.Error

	for _, dir := range m.providerDirs() {
		entries, err := m.fs.ListDirectory(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = multierror.Append(errs, err)
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			created, ok := match(entry.Name())
			if !ok {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if skip != "" && path == skip {
				m.log.Debug().Str("path", path).Msg("skipping active staging directory")
				continue
			}
			if created.IsZero() {
				info, err := entry.Info()
				if err != nil {
					errs = multierror.Append(errs, err)
					continue
				}
				created = info.ModTime()
			}
			if now.Sub(created) < olderThan {
				continue
			}

			if err := os.RemoveAll(path); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
				continue
			}
			removed++
			m.log.Info().Str("op", "cleanup").Str("kind", kind).Str("path", path).Dur("age", now.Sub(created)).Msg("removed")
		}
	}
	return removed, errs.ErrorOrNil()
}

// providerDirs returns each distinct provider directory, resolved.
func (m *Manager) providerDirs() []string {
	seen := map[string]bool{}
	var dirs []string
	for _, name := range m.cfg.Providers() {
		dir, err := m.cfg.ProviderDir(name)
		if err != nil {
			continue
		}
		if resolved, err := m.ValidateDestination(dir); err == nil {
			dir = resolved
		}
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}
