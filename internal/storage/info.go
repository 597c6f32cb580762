package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/common"
)

// CheckState is the outcome of one model check, and of the model overall.
type CheckState string

const (
	CheckPassed  CheckState = "passed"
	CheckWarning CheckState = "warning"
	CheckFailed  CheckState = "failed"
)

// ModelStatus summarizes a ModelInfo.
type ModelStatus string

const (
	ModelReady   ModelStatus = "ready"
	ModelWarning ModelStatus = "warning"
	ModelError   ModelStatus = "error"
)

// ModelCheck is one line of a ModelInfo report.
type ModelCheck struct {
	Name    string     `json:"check"`
	State   CheckState `json:"status"`
	Message string     `json:"message"`
}

// ModelInfo describes one published model and whether it looks usable.
type ModelInfo struct {
	Provider    string       `json:"provider"`
	ModelID     string       `json:"model_id"`
	Path        string       `json:"path"`
	Exists      bool         `json:"exists"`
	SizeBytes   int64        `json:"size_bytes"`
	WeightFiles int          `json:"weight_files"`
	Receipt     *Receipt     `json:"receipt,omitempty"`
	Status      ModelStatus  `json:"status"`
	Checks      []ModelCheck `json:"checks"`
}

// weightExts are the file types counted as model weights.
var weightExts = []string{".safetensors", ".bin", ".gguf", ".pt", ".pth"}

// tokenizerFiles are accepted as evidence of a tokenizer.
var tokenizerFiles = []string{"tokenizer.json", "tokenizer_config.json", "tokenizer.model"}

func (i *ModelInfo) add(name string, state CheckState, format string, args ...interface{}) {
	i.Checks = append(i.Checks, ModelCheck{Name: name, State: state, Message: fmt.Sprintf(format, args...)})
	switch {
	case state == CheckFailed:
		i.Status = ModelError
	case state == CheckWarning && i.Status != ModelError:
		i.Status = ModelWarning
	}
}

// ModelInfo inspects the published copy of id. Like ListModels it takes no
// lock and never looks at staging directories or backups. Providers with a
// registered lister (ollama) are looked up through it; the rest are checked
// file by file.
func (m *Manager) ModelInfo(ctx context.Context, provider, id string) (*ModelInfo, error) {
	if err := common.ValidateIdentifier(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	dir, err := m.cfg.ProviderDir(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	info := &ModelInfo{Provider: provider, ModelID: id, Status: ModelReady}
	if _, ok := m.listers[provider]; ok {
		return m.listedModelInfo(ctx, info)
	}

	name := common.SanitizeName(id)
	if isReservedName(name) {
		return nil, fmt.Errorf("%w: %q names a backup directory", ErrInvalidRequest, id)
	}
	path, err := m.ValidateDestination(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	info.Path = path

	exists, err := m.fs.DirectoryExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		info.add("exists", CheckFailed, "model directory not found: %s", path)
		return info, nil
	}
	info.Exists = true
	info.add("exists", CheckPassed, "model directory exists: %s", path)

	if r, err := ReadReceipt(path); err == nil {
		info.Receipt = r
		if r.ModelID != id {
			info.add("receipt", CheckWarning, "directory holds %s, not %s", r.ModelID, id)
		} else {
			info.add("receipt", CheckPassed, "downloaded %s with %s", r.DownloadedAt.Format("2006-01-02 15:04"), r.Tool)
		}
	} else {
		info.add("receipt", CheckWarning, "no %s; not downloaded by nvme-models", ReceiptFile)
	}

	if ok, err := m.fs.FileExists(filepath.Join(path, "config.json")); err == nil && ok {
		info.add("config", CheckPassed, "model configuration found")
	} else {
		info.add("config", CheckWarning, "config.json not found")
	}

	tokenizer := ""
	for _, f := range tokenizerFiles {
		if ok, err := m.fs.FileExists(filepath.Join(path, f)); err == nil && ok {
			tokenizer = f
			break
		}
	}
	if tokenizer != "" {
		info.add("tokenizer", CheckPassed, "tokenizer found (%s)", tokenizer)
	} else {
		info.add("tokenizer", CheckWarning, "no tokenizer files found")
	}

	weights, err := m.fs.CountFiles(path, weightExts...)
	if err != nil {
		return nil, err
	}
	info.WeightFiles = weights
	if weights > 0 {
		info.add("weights", CheckPassed, "%d weight file(s)", weights)
	} else {
		info.add("weights", CheckFailed, "no weight files found")
	}

	size, err := m.fs.DirSize(path)
	if err != nil {
		return nil, err
	}
	info.SizeBytes = size
	return info, nil
}

// listedModelInfo finds the model through the provider's lister.
func (m *Manager) listedModelInfo(ctx context.Context, info *ModelInfo) (*ModelInfo, error) {
	models, err := m.ListModels(ctx, info.Provider)
	if err != nil {
		return nil, err
	}
	for _, model := range models {
		if model.Name != info.ModelID {
			continue
		}
		info.Exists = true
		info.Path = model.Path
		info.SizeBytes = model.SizeBytes
		info.add("exists", CheckPassed, "manifest found: %s", model.Path)
		if model.SizeBytes > 0 {
			info.add("size", CheckPassed, "%s of layers", common.HumanBytes(uint64(model.SizeBytes)))
		} else {
			info.add("size", CheckWarning, "manifest lists no layers")
		}
		return info, nil
	}
	info.add("exists", CheckFailed, "model %s not found", info.ModelID)
	return info, nil
}
