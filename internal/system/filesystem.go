package system

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// maxSymlinkDepth mirrors the kernel's ELOOP limit.
const maxSymlinkDepth = 40

// Owner identifies the uid/gid new directories are handed to.
// A negative id leaves that half of the ownership unchanged.
type Owner struct {
	UID int
	GID int
}

// NoOwner leaves ownership as created by the current process.
var NoOwner = Owner{UID: -1, GID: -1}

// IsSet reports whether the owner changes anything.
func (o Owner) IsSet() bool {
	return o.UID >= 0 || o.GID >= 0
}

// String returns "uid:gid" with "-" for unchanged halves.
func (o Owner) String() string {
	id := func(v int) string {
		if v < 0 {
			return "-"
		}
		return fmt.Sprintf("%d", v)
	}
	return id(o.UID) + ":" + id(o.GID)
}

// DiskUsage is a statfs snapshot of the filesystem holding a path.
type DiskUsage struct {
	Total uint64 `json:"total_bytes"`
	Used  uint64 `json:"used_bytes"`
	Free  uint64 `json:"free_bytes"`
}

// UsedPercent returns Used as a percentage of Total.
func (d DiskUsage) UsedPercent() float64 {
	if d.Total == 0 {
		return 0
	}
	return float64(d.Used) / float64(d.Total) * 100
}

// FileSystem handles file system operations
type FileSystem struct{}

// NewFileSystem creates a new FileSystem instance
func NewFileSystem() *FileSystem {
	return &FileSystem{}
}

// EnsureDirectory creates a directory with specified owner and permissions.
// Existing directories are brought to the requested owner and mode, so
// running it twice leaves the same end state.
func (fs *FileSystem) EnsureDirectory(path string, owner Owner, perms os.FileMode) error {
	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists but is not a directory", path)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check directory %s: %w", path, err)
	} else if err := os.MkdirAll(path, perms); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	if owner.IsSet() {
		if err := os.Chown(path, owner.UID, owner.GID); err != nil {
			return fmt.Errorf("failed to set ownership on %s to %s: %w", path, owner, err)
		}
	}

	// MkdirAll is subject to umask
	if err := os.Chmod(path, perms); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}

	return nil
}

// ChownRecursive changes the owner of a tree without following symlinks.
func (fs *FileSystem) ChownRecursive(path string, owner Owner) error {
	if !owner.IsSet() {
		return nil
	}
	return filepath.WalkDir(path, func(p string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := os.Lchown(p, owner.UID, owner.GID); err != nil {
			return fmt.Errorf("failed to chown %s to %s: %w", p, owner, err)
		}
		return nil
	})
}

// FileExists checks if a file exists
func (fs *FileSystem) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check if file exists %s: %w", path, err)
}

// DirectoryExists checks if a directory exists
func (fs *FileSystem) DirectoryExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check if directory exists %s: %w", path, err)
}

// IsEmptyDir reports whether path is a directory with no entries.
func (fs *FileSystem) IsEmptyDir(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open directory %s: %w", path, err)
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read directory %s: %w", path, err)
	}
	return false, nil
}

// GetOwner returns the owner (user:group) of a file or directory
func (fs *FileSystem) GetOwner(path string) (Owner, error) {
	info, err := os.Stat(path)
	if err != nil {
		return NoOwner, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return NoOwner, fmt.Errorf("failed to get stat info for %s: not a Unix filesystem", path)
	}

	return Owner{UID: int(stat.Uid), GID: int(stat.Gid)}, nil
}

// GetDiskUsage returns disk usage information for a path
func (fs *FileSystem) GetDiskUsage(path string) (DiskUsage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return DiskUsage{}, fmt.Errorf("%w: failed to get disk usage for %s: %v", ErrFilesystemUnavailable, path, err)
	}

	bsize := uint64(stat.Bsize)
	total := stat.Blocks * bsize
	return DiskUsage{
		Total: total,
		Used:  total - stat.Bfree*bsize,
		// Bavail excludes blocks reserved for root
		Free: stat.Bavail * bsize,
	}, nil
}

// DirSize sums the apparent size of every regular file below path.
// Symlinks are not followed.
func (fs *FileSystem) DirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to size %s: %w", path, err)
	}
	return total, nil
}

// CountFiles counts regular files below path whose extension is in exts.
func (fs *FileSystem) CountFiles(path string, exts ...string) (int, error) {
	count := 0
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrPermission) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		for _, want := range exts {
			if ext == want {
				count++
				break
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count files in %s: %w", path, err)
	}
	return count, nil
}

// ModTime returns the modification time of path.
func (fs *FileSystem) ModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info.ModTime(), nil
}

// ListDirectory lists all entries in a directory
func (fs *FileSystem) ListDirectory(path string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}
	return entries, nil
}

// CreateSymlink creates a symbolic link, creating the link's parent if needed.
func (fs *FileSystem) CreateSymlink(target, linkPath string) error {
	if err := os.MkdirAll(filepath.Dir(linkPath), 0755); err != nil {
		return fmt.Errorf("failed to create parent of %s: %w", linkPath, err)
	}
	if err := os.Symlink(target, linkPath); err != nil {
		return fmt.Errorf("failed to create symlink %s -> %s: %w", linkPath, target, err)
	}
	return nil
}

// WriteFileAtomic writes content next to path and renames it into place.
func (fs *FileSystem) WriteFileAtomic(path string, content []byte, perms os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Chmod(perms); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to set permissions on temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}
	return nil
}

// IsMount checks if a path is a mount point by comparing its device id with
// its parent's. Bind mounts of the same device are not detected here; see
// MountTable for that.
func (fs *FileSystem) IsMount(path string) (bool, error) {
	pathStat, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	parentPath := filepath.Dir(path)
	if parentPath == path {
		// "/" is always a mount point
		return true, nil
	}
	parentStat, err := os.Stat(parentPath)
	if err != nil {
		return false, fmt.Errorf("failed to stat parent %s: %w", parentPath, err)
	}

	pathStatT, ok := pathStat.Sys().(*syscall.Stat_t)
	if !ok {
		return false, fmt.Errorf("failed to get stat info for %s: not a Unix filesystem", path)
	}
	parentStatT, ok := parentStat.Sys().(*syscall.Stat_t)
	if !ok {
		return false, fmt.Errorf("failed to get stat info for %s: not a Unix filesystem", parentPath)
	}

	return pathStatT.Dev != parentStatT.Dev, nil
}

// ResolveRealPath resolves every symlink in path, including a dangling link
// in the deepest existing component. Components that do not exist yet are
// appended unchanged, so the result is where a later mkdir would land.
func ResolveRealPath(path string) (string, error) {
	return resolveRealPath(filepath.Clean(path), 0)
}

func resolveRealPath(path string, depth int) (string, error) {
	if depth > maxSymlinkDepth {
		return "", fmt.Errorf("too many levels of symbolic links resolving %s", path)
	}

	existing := path
	var rest []string
	for {
		_, err := os.Lstat(existing)
		if err == nil {
			break
		}
		if !os.IsNotExist(err) && !errors.Is(err, syscall.ENOTDIR) {
			return "", fmt.Errorf("failed to stat %s: %w", existing, err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		target, rerr := os.Readlink(existing)
		if rerr != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", existing, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(existing), target)
		}
		return resolveRealPath(filepath.Join(append([]string{target}, rest...)...), depth+1)
	}

	return filepath.Join(append([]string{resolved}, rest...)...), nil
}
