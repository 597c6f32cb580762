package system

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrFilesystemUnavailable is returned when a path's filesystem cannot be
// queried at all (missing path, stale mount, permission denied on statfs).
var ErrFilesystemUnavailable = errors.New("filesystem unavailable")

// DefaultMountInfoPath is where the kernel exposes this process's mount table.
const DefaultMountInfoPath = "/proc/self/mountinfo"

// MountEntry is one line of /proc/self/mountinfo.
type MountEntry struct {
	MountPoint string
	FSType     string
	Source     string
}

// MountStatus is what the status command reports for the base path.
type MountStatus struct {
	Path           string `json:"path"`
	Exists         bool   `json:"exists"`
	Mounted        bool   `json:"mounted"`
	FSType         string `json:"fs_type,omitempty"`
	Source         string `json:"source,omitempty"`
	AvailableBytes uint64 `json:"available_bytes"`
	TotalBytes     uint64 `json:"total_bytes"`
}

// Inspector answers the two filesystem questions placement depends on.
type Inspector interface {
	// CheckMounted reports whether path is itself a mount point.
	CheckMounted(path string) bool
	// AvailableBytes returns the bytes an unprivileged writer can still use.
	AvailableBytes(path string) (uint64, error)
}

// OSInspector inspects the running system.
type OSInspector struct {
	fs            *FileSystem
	mountInfoPath string
}

// NewInspector returns an Inspector backed by the kernel mount table.
func NewInspector() *OSInspector {
	return &OSInspector{fs: NewFileSystem(), mountInfoPath: DefaultMountInfoPath}
}

// CheckMounted never errors: anything that cannot be inspected is reported
// as not mounted.
func (i *OSInspector) CheckMounted(path string) bool {
	_, ok, err := i.lookup(path)
	if err == nil {
		return ok
	}

	// No mountinfo (containers without /proc): fall back to device ids.
	mounted, err := i.fs.IsMount(path)
	return err == nil && mounted
}

// AvailableBytes returns Bavail * Bsize for the filesystem holding path.
func (i *OSInspector) AvailableBytes(path string) (uint64, error) {
	usage, err := i.fs.GetDiskUsage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Status gathers everything known about path in one call.
func (i *OSInspector) Status(path string) MountStatus {
	st := MountStatus{Path: path}

	exists, err := i.fs.DirectoryExists(path)
	if err != nil || !exists {
		return st
	}
	st.Exists = true
	st.Mounted = i.CheckMounted(path)

	if entry, ok, err := i.lookup(path); err == nil && ok {
		st.FSType = entry.FSType
		st.Source = entry.Source
	}
	if usage, err := i.fs.GetDiskUsage(path); err == nil {
		st.AvailableBytes = usage.Free
		st.TotalBytes = usage.Total
	}
	return st
}

// lookup finds the mount entry whose mount point is exactly path.
func (i *OSInspector) lookup(path string) (MountEntry, bool, error) {
	f, err := os.Open(i.mountInfoPath)
	if err != nil {
		return MountEntry{}, false, err
	}
	defer f.Close()

	entries, err := ParseMountInfo(f)
	if err != nil {
		return MountEntry{}, false, err
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = filepath.Clean(path)
	}

	// Later entries shadow earlier ones on the same mount point.
	var found MountEntry
	ok := false
	for _, e := range entries {
		if e.MountPoint == resolved {
			found = e
			ok = true
		}
	}
	return found, ok, nil
}

// ParseMountInfo parses the mountinfo(5) format. The mount point is the
// fifth field; the filesystem type and source follow the "-" separator.
func ParseMountInfo(r io.Reader) ([]MountEntry, error) {
	var entries []MountEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 7 {
			continue
		}

		sep := -1
		for idx := 6; idx < len(fields); idx++ {
			if fields[idx] == "-" {
				sep = idx
				break
			}
		}
		if sep < 0 || sep+1 >= len(fields) {
			continue
		}

		entry := MountEntry{
			MountPoint: unescapeMountField(fields[4]),
			FSType:     fields[sep+1],
		}
		if sep+2 < len(fields) {
			entry.Source = unescapeMountField(fields[sep+2])
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}
	return entries, nil
}

// unescapeMountField decodes the kernel's \ooo octal escapes (\040 for
// space, \011 for tab, \012 for newline, \134 for backslash).
func unescapeMountField(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
