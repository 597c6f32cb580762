package cli

import (
	"context"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/storage"
)

// Info normalizes id the way a download would and inspects the published
// copy. It never takes the lock.
func Info(ctx context.Context, app *AppContext, providerName, id string) (*storage.ModelInfo, error) {
	adapter, err := app.Adapter(providerName, "", "")
	if err != nil {
		return nil, err
	}
	id = adapter.Normalize(id)
	if err := adapter.Validate(id); err != nil {
		return nil, err
	}
	return app.Manager.ModelInfo(ctx, adapter.Name(), id)
}
