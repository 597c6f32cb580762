package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// sizeWorkers bounds concurrent directory walks.
const sizeWorkers = 4

// Model is one published artifact.
type Model struct {
	Provider   string    `json:"provider"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
	Receipt    *Receipt  `json:"receipt,omitempty"`
}

// ListModels returns published models for provider, or for every provider
// when it is empty. It takes no lock and never reports staging directories
// or backups.
func (m *Manager) ListModels(ctx context.Context, provider string) ([]Model, error) {
	providers := m.cfg.Providers()
	if provider != "" {
		if _, ok := m.cfg.ProviderSubpath(provider); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
		}
		providers = []string{provider}
	}

	var models []Model
	seen := map[string]bool{}
	for _, name := range providers {
		dir, err := m.cfg.ProviderDir(name)
		if err != nil {
			return nil, err
		}
		// Shared directories (huggingface and vllm) are listed once.
		if seen[dir] {
			continue
		}
		seen[dir] = true

		list := m.listDir
		if l, ok := m.listers[name]; ok {
			list = l
		}
		found, err := list(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s models: %w", name, err)
		}
		for i := range found {
			if found[i].Provider == "" {
				found[i].Provider = name
			}
		}
		models = append(models, found...)
	}

	if err := m.sizeModels(ctx, models); err != nil {
		return nil, err
	}

	sort.Slice(models, func(i, j int) bool {
		if models[i].Provider != models[j].Provider {
			return models[i].Provider < models[j].Provider
		}
		return models[i].Name < models[j].Name
	})
	return models, nil
}

// listDir is the default Lister: one model per visible subdirectory.
func (m *Manager) listDir(root string) ([]Model, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var models []Model
	for _, entry := range entries {
		if !entry.IsDir() || isReservedName(entry.Name()) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		model := Model{Name: entry.Name(), Path: path}
		if info, err := entry.Info(); err == nil {
			model.ModifiedAt = info.ModTime()
		}
		if r, err := ReadReceipt(path); err == nil {
			model.Receipt = r
			model.Name = r.ModelID
			model.Provider = r.Provider
		}
		models = append(models, model)
	}
	return models, nil
}

// sizeModels fills SizeBytes for entries whose lister left it zero.
func (m *Manager) sizeModels(ctx context.Context, models []Model) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(sizeWorkers)

	for i := range models {
		if models[i].SizeBytes > 0 {
			continue
		}
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			size, err := m.fs.DirSize(models[i].Path)
			if err != nil {
				// A model removed mid-listing is not an error.
				if errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return err
			}
			models[i].SizeBytes = size
			return nil
		})
	}
	return g.Wait()
}
