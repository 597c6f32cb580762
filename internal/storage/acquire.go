package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/common"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/system"
)

// ReceiptFile is written into every published artifact.
const ReceiptFile = ".nvme-models.json"

// PlacementRequest describes one download.
type PlacementRequest struct {
	Provider           string
	ModelID            string
	EstimatedSizeBytes int64
	// Tool names the program that performs the transfer, for the receipt.
	Tool string
}

func (r PlacementRequest) validate() error {
	if strings.TrimSpace(r.Provider) == "" {
		return fmt.Errorf("%w: provider is required", ErrInvalidRequest)
	}
	if err := common.ValidateIdentifier(r.ModelID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.EstimatedSizeBytes < 0 {
		return fmt.Errorf("%w: negative size estimate", ErrInvalidRequest)
	}
	return nil
}

// StagedArtifact is a completed transfer waiting to be published.
type StagedArtifact struct {
	TempPath  string
	FinalPath string
	SizeBytes int64
	Files     int
}

// Receipt records where an artifact came from.
type Receipt struct {
	ModelID      string    `json:"model_id"`
	Provider     string    `json:"provider"`
	SizeBytes    int64     `json:"size_bytes"`
	Files        int       `json:"files"`
	DownloadedAt time.Time `json:"downloaded_at"`
	Tool         string    `json:"tool,omitempty"`
}

// TransferFunc downloads into dir. It must stop promptly when ctx is done.
type TransferFunc func(ctx context.Context, dir string) error

// Acquire downloads one model through transfer and publishes it under the
// provider's directory, returning the final path. The lock is held for the
// whole call and released on every exit path; on any failure the staging
// directory is removed and nothing changes at the final path.
func (m *Manager) Acquire(ctx context.Context, req PlacementRequest, transfer TransferFunc) (finalPath string, err error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	if transfer == nil {
		return "", fmt.Errorf("%w: transfer is required", ErrInvalidRequest)
	}

	log := m.log.With().Str("op", "acquire").Str("provider", req.Provider).Str("model", req.ModelID).Logger()
	defer func() { m.metrics.observeOperation("acquire", err, m.now()) }()

	// Idle -> LockHeld
	held, err := m.lock.TryAcquire(ctx, Holder{Operation: "acquire", Provider: req.Provider, ModelID: req.ModelID})
	if err != nil {
		if errors.Is(err, ErrLockBusy) {
			m.metrics.incLockBusy()
		}
		return "", err
	}
	defer held.Release()

	// LockHeld -> MountChecked
	if m.cfg.RequireMount && !m.inspector.CheckMounted(m.cfg.BasePath) {
		return "", mountRequired(m.cfg.BasePath)
	}

	// MountChecked -> PathValidated
	providerDir, err := m.providerRoot(req.Provider)
	if err != nil {
		return "", err
	}
	name := common.SanitizeName(req.ModelID)
	if isReservedName(name) {
		return "", fmt.Errorf("%w: %q would be published as a backup directory", ErrInvalidRequest, req.ModelID)
	}
	finalPath, err = m.ValidateDestination(filepath.Join(providerDir, name))
	if err != nil {
		return "", err
	}
	log = log.With().Str("path", finalPath).Logger()
	if err := checkOwnership(finalPath, req.ModelID); err != nil {
		return "", err
	}

	// PathValidated -> CapacityChecked
	if err := m.CheckCapacity(req); err != nil {
		return "", err
	}

	// CapacityChecked -> Staging. The lock record names the staging path
	// before it exists so Cleanup can never take it.
	staging, err := createStaging(providerDir, req.ModelID, m.now(), dirPerms, func(p string) error {
		if err := held.Update(func(h *Holder) {
			h.Target = finalPath
			h.Staging = p
		}); err != nil {
			return fmt.Errorf("failed to record staging directory in lock file: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	published := false
	defer func() {
		if !published {
			if rerr := os.RemoveAll(staging); rerr != nil {
				log.Error().Err(rerr).Str("staging", staging).Msg("failed to remove staging directory")
			} else {
				log.Info().Str("staging", staging).Msg("rolled back")
			}
		}
	}()
	log.Info().Str("staging", staging).Int64("estimate_bytes", req.EstimatedSizeBytes).Msg("transfer starting")

	// Staging -> Transferring
	start := m.now()
	terr := transfer(ctx, staging)
	if terr == nil {
		terr = ctx.Err()
	}
	m.metrics.observeTransfer(req.Provider, m.now().Sub(start))
	if terr != nil {
		return "", &TransferError{Provider: req.Provider, ModelID: req.ModelID, Cause: terr}
	}

	artifact, err := m.verifyStaging(staging, finalPath)
	if err != nil {
		return "", &TransferError{Provider: req.Provider, ModelID: req.ModelID, Cause: err}
	}

	if err := m.writeReceipt(artifact, req); err != nil {
		return "", err
	}
	if err := m.fs.ChownRecursive(staging, m.cfg.Owner); err != nil {
		return "", err
	}

	// Transferring -> Published
	backup, err := m.publish(artifact)
	if err != nil {
		return "", err
	}
	published = true
	m.metrics.addPublished(req.Provider, artifact.SizeBytes)

	ev := log.Info().Int64("bytes", artifact.SizeBytes).Int("files", artifact.Files)
	if backup != "" {
		ev = ev.Str("backup", backup)
	}
	ev.Msg("published")
	return finalPath, nil
}

// RunExclusive runs fn under the lock after the mount and capacity checks,
// without staging. It serves providers that manage their own layout under
// the provider root, which is passed to fn.
func (m *Manager) RunExclusive(ctx context.Context, req PlacementRequest, fn TransferFunc) (err error) {
	if err := req.validate(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: transfer is required", ErrInvalidRequest)
	}

	log := m.log.With().Str("op", "exclusive").Str("provider", req.Provider).Str("model", req.ModelID).Logger()
	defer func() { m.metrics.observeOperation("exclusive", err, m.now()) }()

	held, err := m.lock.TryAcquire(ctx, Holder{Operation: "exclusive", Provider: req.Provider, ModelID: req.ModelID})
	if err != nil {
		if errors.Is(err, ErrLockBusy) {
			m.metrics.incLockBusy()
		}
		return err
	}
	defer held.Release()

	if m.cfg.RequireMount && !m.inspector.CheckMounted(m.cfg.BasePath) {
		return mountRequired(m.cfg.BasePath)
	}
	root, err := m.providerRoot(req.Provider)
	if err != nil {
		return err
	}
	if err := held.Update(func(h *Holder) { h.Target = root }); err != nil {
		log.Warn().Err(err).Msg("failed to record target in lock file")
	}
	if err := m.CheckCapacity(req); err != nil {
		return err
	}

	log.Info().Str("path", root).Msg("transfer starting")
	start := m.now()
	ferr := fn(ctx, root)
	if ferr == nil {
		ferr = ctx.Err()
	}
	m.metrics.observeTransfer(req.Provider, m.now().Sub(start))
	if ferr != nil {
		return &TransferError{Provider: req.Provider, ModelID: req.ModelID, Cause: ferr}
	}
	if err := m.fs.ChownRecursive(root, m.cfg.Owner); err != nil {
		log.Warn().Err(err).Msg("failed to hand provider tree to owner")
	}
	log.Info().Msg("transfer complete")
	return nil
}

// providerRoot validates and creates the provider directory.
func (m *Manager) providerRoot(provider string) (string, error) {
	dir, err := m.cfg.ProviderDir(provider)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	resolved, err := m.ValidateDestination(dir)
	if err != nil {
		return "", err
	}
	if err := m.fs.EnsureDirectory(resolved, m.cfg.Owner, dirPerms); err != nil {
		return "", err
	}
	return resolved, nil
}

// verifyStaging checks that the transfer produced something and that no
// symlink it left behind leads outside the base path.
func (m *Manager) verifyStaging(staging, finalPath string) (*StagedArtifact, error) {
	realBase, err := system.ResolveRealPath(m.cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFilesystemUnavailable, err)
	}

	artifact := &StagedArtifact{TempPath: staging, FinalPath: finalPath}
	err = filepath.WalkDir(staging, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		switch {
		case d.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(p), target)
			}
			resolved, err := system.ResolveRealPath(target)
			if err != nil || !isWithin(realBase, resolved) {
				return fmt.Errorf("symlink %s points outside %s", p, m.cfg.BasePath)
			}
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			artifact.SizeBytes += info.Size()
			artifact.Files++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if artifact.Files == 0 {
		return nil, fmt.Errorf("transfer produced no files")
	}
	return artifact, nil
}

func (m *Manager) writeReceipt(a *StagedArtifact, req PlacementRequest) error {
	data, err := json.MarshalIndent(Receipt{
		ModelID:      req.ModelID,
		Provider:     req.Provider,
		SizeBytes:    a.SizeBytes,
		Files:        a.Files,
		DownloadedAt: m.now().UTC(),
		Tool:         req.Tool,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}
	return m.fs.WriteFileAtomic(filepath.Join(a.TempPath, ReceiptFile), append(data, '\n'), 0644)
}

// publish renames the staging directory onto the final path. An existing
// artifact is first moved to a timestamped backup and restored if the
// second rename fails. It returns the backup path, if any.
func (m *Manager) publish(a *StagedArtifact) (string, error) {
	_, err := os.Lstat(a.FinalPath)
	if os.IsNotExist(err) {
		if err := os.Rename(a.TempPath, a.FinalPath); err != nil {
			return "", fmt.Errorf("failed to publish %s: %w", a.FinalPath, err)
		}
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to inspect %s: %w", a.FinalPath, err)
	}

	backup, err := backupPath(a.FinalPath, m.now())
	if err != nil {
		return "", err
	}
	if err := os.Rename(a.FinalPath, backup); err != nil {
		return "", fmt.Errorf("failed to move existing %s aside: %w", a.FinalPath, err)
	}
	if err := os.Rename(a.TempPath, a.FinalPath); err != nil {
		if rerr := os.Rename(backup, a.FinalPath); rerr != nil {
			return "", fmt.Errorf("failed to publish %s: %w (previous version left at %s: %v)", a.FinalPath, err, backup, rerr)
		}
		return "", fmt.Errorf("failed to publish %s: %w", a.FinalPath, err)
	}
	return backup, nil
}

// checkOwnership refuses to replace an artifact whose receipt names a
// different model. Distinct ids can share a sanitized directory name
// ("foo-bar/baz" and "foo/bar-baz").
func checkOwnership(finalPath, modelID string) error {
	r, err := ReadReceipt(finalPath)
	if err != nil {
		// no receipt: not ours to judge, publish backs it up
		return nil
	}
	if r.ModelID != "" && r.ModelID != modelID {
		return &ConflictError{Path: finalPath, Reason: fmt.Sprintf("directory holds %s, not %s", r.ModelID, modelID)}
	}
	return nil
}

// ReadReceipt loads the receipt from an artifact directory.
func ReadReceipt(dir string) (*Receipt, error) {
	data, err := os.ReadFile(filepath.Join(dir, ReceiptFile))
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode receipt in %s: %w", dir, err)
	}
	return &r, nil
}
