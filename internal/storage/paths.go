package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/common"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/system"
)

// Path limits, matching PATH_MAX and NAME_MAX on Linux.
const (
	MaxPathLength      = 4096
	MaxComponentLength = 255
)

const (
	stagingPrefix = ".tmp_"
	backupMarker  = ".backup."
	// maxNameAttempts bounds the ".N" suffix search for staging and backups.
	maxNameAttempts = 1000
)

// ValidateDestination resolves p against base and rejects it unless the
// fully resolved result is base or one of its descendants. Relative input is
// taken relative to base. The returned path is absolute and symlink-free in
// every existing component, so validating it again returns it unchanged.
func ValidateDestination(base, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", &PathError{Kind: EmptyPath, Path: p, Base: base}
	}
	for _, c := range p {
		if c < 0x20 || c == 0x7f {
			return "", &PathError{Kind: TraversalAttempt, Path: p, Base: base}
		}
	}
	if common.HasTraversal(p) {
		return "", &PathError{Kind: TraversalAttempt, Path: p, Base: base}
	}
	if len(p) > MaxPathLength {
		return "", &PathError{Kind: TooLong, Path: p, Base: base}
	}
	for _, part := range strings.Split(p, "/") {
		if len(part) > MaxComponentLength {
			return "", &PathError{Kind: TooLong, Path: p, Base: base}
		}
	}

	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(base, candidate)
	}
	candidate = filepath.Clean(candidate)

	realBase, err := system.ResolveRealPath(base)
	if err != nil {
		return "", fmt.Errorf("%w: failed to resolve base path %s: %v", ErrFilesystemUnavailable, base, err)
	}
	resolved, err := system.ResolveRealPath(candidate)
	if err != nil {
		// A symlink loop cannot be proven to stay inside base.
		return "", &PathError{Kind: OutsideBoundary, Path: p, Base: base}
	}
	if len(resolved) > MaxPathLength {
		return "", &PathError{Kind: TooLong, Path: p, Base: base}
	}

	if !isWithin(realBase, resolved) {
		return "", &PathError{Kind: OutsideBoundary, Path: p, Base: realBase}
	}
	return resolved, nil
}

// isWithin reports whether path equals base or lies below it. Both must be
// clean absolute paths.
func isWithin(base, path string) bool {
	if path == base {
		return true
	}
	prefix := base
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return strings.HasPrefix(path, prefix)
}

// stagingName returns ".tmp_<sanitized-id>_<unix>".
func stagingName(modelID string, now time.Time) string {
	return fmt.Sprintf("%s%s_%d", stagingPrefix, common.SanitizeName(modelID), now.Unix())
}

// createStaging makes a fresh staging directory under dir. os.Mkdir fails on
// an existing name, so two runs in the same second get ".1", ".2", ...
// reserve, when set, is called with each candidate before it is created;
// an error from it aborts.
func createStaging(dir, modelID string, now time.Time, perms os.FileMode, reserve func(path string) error) (string, error) {
	base := filepath.Join(dir, stagingName(modelID, now))
	for i := 0; i < maxNameAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s.%d", base, i)
		}
		if reserve != nil {
			if err := reserve(candidate); err != nil {
				return "", err
			}
		}
		err := os.Mkdir(candidate, perms)
		if err == nil {
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to create staging directory: %w", err)
		}
	}
	return "", fmt.Errorf("failed to create staging directory under %s: too many collisions", dir)
}

// isStagingName reports whether name is a staging directory.
func isStagingName(name string) bool {
	return strings.HasPrefix(name, stagingPrefix)
}

// parseStagingTime extracts the creation time embedded in a staging name.
func parseStagingTime(name string) (time.Time, bool) {
	if !isStagingName(name) {
		return time.Time{}, false
	}
	rest := strings.TrimPrefix(name, stagingPrefix)
	i := strings.LastIndexByte(rest, '_')
	if i < 0 {
		return time.Time{}, false
	}
	return parseUnixSuffix(rest[i+1:])
}

// backupPath returns a name for moving final aside: "<final>.backup.<unix>",
// with ".N" appended when that already exists.
func backupPath(final string, now time.Time) (string, error) {
	base := fmt.Sprintf("%s%s%d", final, backupMarker, now.Unix())
	for i := 0; i < maxNameAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s.%d", base, i)
		}
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("failed to check backup path %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("failed to choose backup name for %s: too many collisions", final)
}

// isBackupName reports whether name is a backup created at publish time.
func isBackupName(name string) bool {
	_, ok := parseBackupTime(name)
	return ok
}

// parseBackupTime extracts the time from "<name>.backup.<unix>[.N]".
func parseBackupTime(name string) (time.Time, bool) {
	i := strings.LastIndex(name, backupMarker)
	if i <= 0 {
		return time.Time{}, false
	}
	return parseUnixSuffix(name[i+len(backupMarker):])
}

// parseUnixSuffix parses "<unix>" or "<unix>.<n>".
func parseUnixSuffix(s string) (time.Time, bool) {
	if j := strings.IndexByte(s, '.'); j >= 0 {
		if _, err := strconv.Atoi(s[j+1:]); err != nil {
			return time.Time{}, false
		}
		s = s[:j]
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

// isReservedName reports entries that are never listed as models.
func isReservedName(name string) bool {
	return strings.HasPrefix(name, ".") || isBackupName(name)
}
