// Package storage places model artifacts on the NVMe volume. Every mutating
// operation runs under one cross-process flock; downloads land in a staging
// directory and are published with a single rename.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/config"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/system"
)

const dirPerms os.FileMode = 0755

// Lister enumerates the models a provider keeps under root. Providers that
// manage their own layout (Ollama) register one; the default lists
// directories.
type Lister func(root string) ([]Model, error)

// Manager owns the layout under the configured base path.
type Manager struct {
	cfg       *config.Config
	inspector system.Inspector
	fs        *system.FileSystem
	lock      *Lock
	log       zerolog.Logger
	metrics   *Metrics
	now       func() time.Time
	homeDir   string
	listers   map[string]Lister
}

// Option configures a Manager.
type Option func(*Manager)

// WithInspector replaces the mount and disk inspector.
func WithInspector(i system.Inspector) Option {
	return func(m *Manager) { m.inspector = i }
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics records operations into mt.
func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithHomeDir sets where legacy links are created.
func WithHomeDir(dir string) Option {
	return func(m *Manager) { m.homeDir = dir }
}

// WithLister registers how models of provider are enumerated.
func WithLister(provider string, l Lister) Option {
	return func(m *Manager) { m.listers[provider] = l }
}

// New validates cfg and returns a Manager working on a private copy of it.
func New(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	c := cfg.Clone()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	m := &Manager{
		cfg:       c,
		inspector: system.NewInspector(),
		fs:        system.NewFileSystem(),
		lock:      NewLock(c.LockFile, time.Duration(c.LockTimeout)),
		log:       zerolog.Nop(),
		now:       time.Now,
		homeDir:   c.HomeDir,
		listers:   map[string]Lister{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns a copy of the configuration in use.
func (m *Manager) Config() *config.Config {
	return m.cfg.Clone()
}

// Lock returns the manager's lock, for status queries.
func (m *Manager) Lock() *Lock {
	return m.lock
}

// ValidateDestination resolves p against the base path; see the package
// function of the same name.
func (m *Manager) ValidateDestination(p string) (string, error) {
	return ValidateDestination(m.cfg.BasePath, p)
}

// LinkAction is what Setup did with one legacy path.
type LinkAction string

const (
	LinkCreated  LinkAction = "created"
	LinkExists   LinkAction = "exists"
	LinkReplaced LinkAction = "replaced"
	LinkConflict LinkAction = "conflict"
	LinkMissing  LinkAction = "missing"
)

// LinkResult describes one legacy link.
type LinkResult struct {
	Path   string     `json:"path"`
	Target string     `json:"target"`
	Action LinkAction `json:"action"`
}

// SetupReport summarizes a Setup run.
type SetupReport struct {
	Directories []string     `json:"directories"`
	Links       []LinkResult `json:"links,omitempty"`
	// Warnings holds *ConflictError values; they never fail Setup.
	Warnings []error `json:"-"`
}

// Setup provisions the directory tree and legacy links under the lock.
// Running it again on a provisioned tree changes nothing.
func (m *Manager) Setup(ctx context.Context) (report *SetupReport, err error) {
	log := m.log.With().Str("op", "setup").Str("path", m.cfg.BasePath).Logger()
	defer func() { m.metrics.observeOperation("setup", err, m.now()) }()

	held, err := m.lock.TryAcquire(ctx, Holder{Operation: "setup", Target: m.cfg.BasePath})
	if err != nil {
		if errors.Is(err, ErrLockBusy) {
			m.metrics.incLockBusy()
		}
		return nil, err
	}
	defer held.Release()
	log.Debug().Msg("lock acquired")

	if m.cfg.RequireMount && !m.inspector.CheckMounted(m.cfg.BasePath) {
		return nil, mountRequired(m.cfg.BasePath)
	}

	report = &SetupReport{}
	for _, dir := range m.cfg.Directories() {
		// A pre-existing symlink at a subpath must not lead outside the base.
		if dir != m.cfg.BasePath {
			if _, err := m.ValidateDestination(dir); err != nil {
				return report, err
			}
		}
		if err := m.fs.EnsureDirectory(dir, m.cfg.Owner, dirPerms); err != nil {
			return report, err
		}
		report.Directories = append(report.Directories, dir)
		log.Debug().Str("dir", dir).Msg("directory ready")
	}

	if m.cfg.LegacyLinks && m.homeDir != "" {
		var linkErrs *multierror.Error
		for _, l := range m.legacyLinks() {
			res, err := m.ensureLegacyLink(l.Path, l.Target)
			report.Links = append(report.Links, res)

			var conflict *ConflictError
			switch {
			case errors.As(err, &conflict):
				report.Warnings = append(report.Warnings, conflict)
				log.Warn().Str("link", l.Path).Str("reason", conflict.Reason).Msg("legacy path left untouched")
			case err != nil:
				linkErrs = multierror.Append(linkErrs, err)
			default:
				log.Debug().Str("link", l.Path).Str("action", string(res.Action)).Msg("legacy link ready")
			}
		}
		if err := linkErrs.ErrorOrNil(); err != nil {
			return report, fmt.Errorf("failed to set up legacy links: %w", err)
		}
	}

	log.Info().Int("directories", len(report.Directories)).Int("warnings", len(report.Warnings)).Msg("setup complete")
	return report, nil
}

// legacyLinks lists the well-known cache locations redirected into the base.
func (m *Manager) legacyLinks() []LinkResult {
	links := []LinkResult{
		{Path: filepath.Join(m.homeDir, ".cache", "huggingface"), Target: m.cfg.CacheDir()},
	}
	if dir, err := m.cfg.ProviderDir(config.ProviderOllama); err == nil {
		links = append(links, LinkResult{Path: filepath.Join(m.homeDir, ".ollama"), Target: dir})
	}
	return links
}

// ensureLegacyLink makes path a symlink to target unless that would destroy
// data. Only a missing path or an empty directory is replaced.
func (m *Manager) ensureLegacyLink(path, target string) (LinkResult, error) {
	res := LinkResult{Path: path, Target: target}

	info, err := os.Lstat(path)
	switch {
	case os.IsNotExist(err):
		if err := m.fs.CreateSymlink(target, path); err != nil {
			return res, err
		}
		m.chownLink(path)
		res.Action = LinkCreated
		return res, nil
	case err != nil:
		return res, fmt.Errorf("failed to inspect %s: %w", path, err)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		current, err := os.Readlink(path)
		if err != nil {
			return res, fmt.Errorf("failed to read link %s: %w", path, err)
		}
		if current == target || samePath(current, target) {
			res.Action = LinkExists
			return res, nil
		}
		res.Action = LinkConflict
		return res, &ConflictError{Path: path, Reason: fmt.Sprintf("symlink points to %s", current)}

	case info.IsDir():
		empty, err := m.fs.IsEmptyDir(path)
		if err != nil {
			return res, err
		}
		if !empty {
			res.Action = LinkConflict
			return res, &ConflictError{Path: path, Reason: "directory is not empty"}
		}
		if err := os.Remove(path); err != nil {
			return res, fmt.Errorf("failed to remove empty directory %s: %w", path, err)
		}
		if err := m.fs.CreateSymlink(target, path); err != nil {
			return res, err
		}
		m.chownLink(path)
		res.Action = LinkReplaced
		return res, nil
	}

	res.Action = LinkConflict
	return res, &ConflictError{Path: path, Reason: "not a directory"}
}

// legacyLinkState reports a link's state without changing anything.
func (m *Manager) legacyLinkState(path, target string) LinkResult {
	res := LinkResult{Path: path, Target: target, Action: LinkMissing}
	info, err := os.Lstat(path)
	if err != nil {
		return res
	}
	if info.Mode()&os.ModeSymlink != 0 {
		if current, err := os.Readlink(path); err == nil && (current == target || samePath(current, target)) {
			res.Action = LinkExists
			return res
		}
	}
	res.Action = LinkConflict
	return res
}

func (m *Manager) chownLink(path string) {
	if !m.cfg.Owner.IsSet() {
		return
	}
	if err := os.Lchown(path, m.cfg.Owner.UID, m.cfg.Owner.GID); err != nil {
		m.log.Warn().Err(err).Str("link", path).Msg("failed to chown legacy link")
	}
}

func samePath(a, b string) bool {
	ra, err := system.ResolveRealPath(a)
	if err != nil {
		return false
	}
	rb, err := system.ResolveRealPath(b)
	if err != nil {
		return false
	}
	return ra == rb
}
