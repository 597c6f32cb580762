package cli

import (
	"context"
	"fmt"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/common"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/storage"
)

// DownloadOptions describes one download command.
type DownloadOptions struct {
	Provider string
	ModelID  string
	Revision string
	Token    string
	// SizeGB overrides the adapter's estimate when positive.
	SizeGB int
}

// DownloadResult is what a successful download produced.
type DownloadResult struct {
	Provider       string `json:"provider"`
	ModelID        string `json:"model_id"`
	Path           string `json:"path"`
	EstimatedBytes int64  `json:"estimated_bytes"`
}

// Download validates the request with the provider adapter, estimates its
// size and hands the transfer to the storage manager. Scoped providers go
// through Acquire's staging; the rest run under RunExclusive.
func Download(ctx context.Context, app *AppContext, opts DownloadOptions) (*DownloadResult, error) {
	adapter, err := app.Adapter(opts.Provider, opts.Revision, opts.Token)
	if err != nil {
		return nil, err
	}

	id := adapter.Normalize(opts.ModelID)
	if err := adapter.Validate(id); err != nil {
		return nil, err
	}
	if err := adapter.Check(ctx); err != nil {
		return nil, err
	}

	var estimate int64
	if opts.SizeGB > 0 {
		estimate = int64(common.GBToBytes(int64(opts.SizeGB)))
	} else {
		app.UI.Infof("Estimating size of %s...", id)
		estimate = adapter.Estimate(ctx, id)
	}
	app.UI.Infof("Estimated size: %s (needs %s free including the 2x safety margin)",
		common.HumanBytes(uint64(estimate)), common.HumanBytes(2*uint64(estimate)))

	req := storage.PlacementRequest{
		Provider:           adapter.Name(),
		ModelID:            id,
		EstimatedSizeBytes: estimate,
		Tool:               adapter.Tool(),
	}
	result := &DownloadResult{Provider: adapter.Name(), ModelID: id, EstimatedBytes: estimate}

	if adapter.Scoped() {
		app.UI.Step(fmt.Sprintf("Downloading %s with %s", id, adapter.Tool()))
		path, err := app.Manager.Acquire(ctx, req, func(ctx context.Context, dir string) error {
			return adapter.Transfer(ctx, dir, id)
		})
		if err != nil {
			return nil, err
		}
		result.Path = path
		return result, nil
	}

	app.UI.Step(fmt.Sprintf("Pulling %s with %s", id, adapter.Tool()))
	err = app.Manager.RunExclusive(ctx, req, func(ctx context.Context, root string) error {
		result.Path = root
		return adapter.Transfer(ctx, root, id)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
