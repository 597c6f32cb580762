package storage

import (
	"errors"
	"fmt"
	"math"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/common"
)

// safetyFactor covers extraction and temporary copies during a transfer.
const safetyFactor = 2

// CheckCapacity fails with a *CapacityError unless the base path has room
// for twice the request's estimate and still keeps min_free_space_gb free
// afterwards. Free space is read fresh on every call.
func (m *Manager) CheckCapacity(req PlacementRequest) error {
	if req.EstimatedSizeBytes < 0 {
		return fmt.Errorf("%w: negative size estimate %d", ErrInvalidRequest, req.EstimatedSizeBytes)
	}

	available, err := m.inspector.AvailableBytes(m.cfg.BasePath)
	if err != nil {
		if errors.Is(err, ErrFilesystemUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrFilesystemUnavailable, err)
	}
	m.metrics.setFree(available)

	return checkCapacity(m.cfg.BasePath, available, uint64(req.EstimatedSizeBytes), common.GBToBytes(int64(m.cfg.MinFreeSpaceGB)))
}

func checkCapacity(path string, available, estimate, reserve uint64) error {
	required := saturatingMul(estimate, safetyFactor)
	if available < required {
		return &CapacityError{Path: path, Available: available, Required: required}
	}

	total := saturatingAdd(required, reserve)
	if available < total {
		return &CapacityError{Path: path, Available: available, Required: total, Reserve: reserve}
	}
	return nil
}

func saturatingMul(a, b uint64) uint64 {
	if a != 0 && b > math.MaxUint64/a {
		return math.MaxUint64
	}
	return a * b
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
