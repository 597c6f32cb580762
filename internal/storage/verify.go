package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/common"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/system"
)

// DirStatus describes one provisioned directory.
type DirStatus struct {
	Path      string `json:"path"`
	Exists    bool   `json:"exists"`
	SizeBytes int64  `json:"size_bytes"`
	Staging   int    `json:"staging"`
	Backups   int    `json:"backups"`
}

// LockStatus describes the global lock.
type LockStatus struct {
	Path   string  `json:"path"`
	Held   bool    `json:"held"`
	Holder *Holder `json:"holder,omitempty"`
}

// Report is the read-only health summary behind the status command.
type Report struct {
	BasePath     string             `json:"base_path"`
	RequireMount bool               `json:"require_mount"`
	Mount        system.MountStatus `json:"mount"`
	Usage        system.DiskUsage   `json:"usage"`
	ReserveBytes uint64             `json:"reserve_bytes"`
	Directories  []DirStatus        `json:"directories"`
	Models       int                `json:"models"`
	Links        []LinkResult       `json:"links,omitempty"`
	Lock         LockStatus         `json:"lock"`
	// Problems lists conditions that would make Setup or Acquire fail.
	Problems []string `json:"problems,omitempty"`
}

// statuser is implemented by inspectors that can describe a mount fully.
type statuser interface {
	Status(path string) system.MountStatus
}

// Verify inspects the layout without taking the lock or changing anything.
func (m *Manager) Verify(ctx context.Context) (*Report, error) {
	base := m.cfg.BasePath
	r := &Report{
		BasePath:     base,
		RequireMount: m.cfg.RequireMount,
		ReserveBytes: common.GBToBytes(int64(m.cfg.MinFreeSpaceGB)),
	}

	if s, ok := m.inspector.(statuser); ok {
		r.Mount = s.Status(base)
	} else {
		r.Mount = system.MountStatus{Path: base}
		if exists, _ := m.fs.DirectoryExists(base); exists {
			r.Mount.Exists = true
			r.Mount.Mounted = m.inspector.CheckMounted(base)
			r.Mount.AvailableBytes, _ = m.inspector.AvailableBytes(base)
		}
	}

	if !r.Mount.Exists {
		r.Problems = append(r.Problems, "base path does not exist; run setup")
	} else if m.cfg.RequireMount && !r.Mount.Mounted {
		r.Problems = append(r.Problems, "base path is not a mount point")
	}
	if r.Mount.Exists {
		if usage, err := m.fs.GetDiskUsage(base); err == nil {
			r.Usage = usage
		}
		if r.Mount.AvailableBytes < r.ReserveBytes {
			r.Problems = append(r.Problems, "free space is below min_free_space_gb")
		}
		if want := m.cfg.Owner; want.UID >= 0 {
			if got, err := m.fs.GetOwner(base); err == nil && got.UID != want.UID {
				r.Problems = append(r.Problems, fmt.Sprintf("base path is owned by uid %d, not %s (%s)", got.UID, m.cfg.OwnerName, want))
			}
		}
	}

	holder, held, err := m.lock.Holder()
	if err != nil {
		r.Problems = append(r.Problems, err.Error())
	}
	r.Lock = LockStatus{Path: m.lock.Path(), Held: held, Holder: holder}

	dirs := m.cfg.Directories()
	r.Directories = make([]DirStatus, len(dirs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sizeWorkers)
	for i, dir := range dirs {
		i, dir := i, dir
		g.Go(func() error {
			st := m.dirStatus(gctx, dir, dir == base)
			mu.Lock()
			r.Directories[i] = st
			if !st.Exists {
				r.Problems = append(r.Problems, dir+" is missing")
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if models, err := m.ListModels(ctx, ""); err == nil {
		r.Models = len(models)
	}

	if m.cfg.LegacyLinks && m.homeDir != "" {
		for _, l := range m.legacyLinks() {
			r.Links = append(r.Links, m.legacyLinkState(l.Path, l.Target))
		}
	}
	return r, nil
}

func (m *Manager) dirStatus(ctx context.Context, dir string, isBase bool) DirStatus {
	st := DirStatus{Path: dir}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return st
	}
	st.Exists = true

	// The base total is Usage; walking it again would double the work.
	if !isBase && ctx.Err() == nil {
		st.SizeBytes, _ = m.fs.DirSize(dir)
	}
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			switch {
			case isStagingName(e.Name()):
				st.Staging++
			case isBackupName(e.Name()):
				st.Backups++
			}
		}
	}
	return st
}

// StagingDirs lists every staging directory currently on disk.
func (m *Manager) StagingDirs() []string {
	var out []string
	for _, dir := range m.providerDirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() && isStagingName(e.Name()) {
				out = append(out, filepath.Join(dir, e.Name()))
			}
		}
	}
	return out
}
