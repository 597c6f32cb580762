package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/common"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/storage"
)

const (
	ollamaTool = "ollama"
	// DefaultOllamaTag is appended to names pulled without one.
	DefaultOllamaTag = "latest"

	ollamaRegistry  = "registry.ollama.ai"
	ollamaNamespace = "library"
)

// ollamaModelID is "[namespace/]name[:tag]".
var ollamaModelID = regexp.MustCompile(`^([a-zA-Z0-9_-]+/)?[a-zA-Z0-9._-]+(:[a-zA-Z0-9._-]+)?$`)

type sizeGB struct {
	tag string
	gb  int64
}

// ollamaSizes holds typical quantized sizes per family. The first entry of
// each family is what "latest" resolves to.
var ollamaSizes = []struct {
	family string
	sizes  []sizeGB
}{
	{"codellama", []sizeGB{{"7b", 4}, {"13b", 8}, {"34b", 20}, {"70b", 40}}},
	{"llama2", []sizeGB{{"7b", 4}, {"13b", 8}, {"70b", 40}}},
	{"llama3", []sizeGB{{"8b", 5}, {"70b", 40}}},
	{"mixtral", []sizeGB{{"8x7b", 26}, {"8x22b", 65}}},
	{"mistral", []sizeGB{{"7b", 4}}},
	{"phi", []sizeGB{{"2.7b", 2}}},
	{"gemma", []sizeGB{{"7b", 5}, {"2b", 2}}},
	{"qwen", []sizeGB{{"4b", 3}, {"0.5b", 1}, {"1.8b", 2}, {"7b", 5}, {"14b", 9}, {"32b", 20}, {"72b", 42}}},
}

type ollama struct {
	deps Deps
}

func newOllama(deps Deps) *ollama {
	return &ollama{deps: deps}
}

func (o *ollama) Name() string { return "ollama" }

func (o *ollama) Tool() string { return ollamaTool }

// Scoped is false: the ollama daemon writes blobs and manifests itself.
func (o *ollama) Scoped() bool { return false }

func (o *ollama) Normalize(id string) string {
	id = strings.TrimSpace(id)
	if id != "" && !strings.Contains(id, ":") {
		id += ":" + DefaultOllamaTag
	}
	return id
}

func (o *ollama) Validate(id string) error {
	if err := common.ValidateIdentifier(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModelID, err)
	}
	if !ollamaModelID.MatchString(id) {
		return fmt.Errorf("%w: %q must look like name or name:tag", ErrInvalidModelID, id)
	}
	return nil
}

// Check verifies the CLI is installed and the daemon answers.
func (o *ollama) Check(ctx context.Context) error {
	if !o.deps.LookPath(ollamaTool) {
		return toolMissing(ollamaTool, "see https://ollama.com/download")
	}
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()
	if _, err := o.deps.Runner.Run(ctx, nil, ollamaTool, "list"); err != nil {
		return fmt.Errorf("ollama service is not responding (try: ollama serve): %w", err)
	}
	return nil
}

func (o *ollama) Estimate(_ context.Context, id string) int64 {
	if gb, ok := ollamaTableGB(id); ok {
		return gb * common.GibiByte
	}
	return HeuristicBytes(id)
}

// ollamaTableGB looks id up in the size table. The tag must name the size
// exactly as its first dash-separated token, so "14b" never matches "4b".
func ollamaTableGB(id string) (int64, bool) {
	name, tag, _ := strings.Cut(strings.ToLower(id), ":")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	sizeTag, _, _ := strings.Cut(tag, "-")

	for _, f := range ollamaSizes {
		if !strings.HasPrefix(name, f.family) {
			continue
		}
		if tag == "" || tag == DefaultOllamaTag {
			return f.sizes[0].gb, true
		}
		for _, s := range f.sizes {
			if sizeTag == s.tag || strings.HasSuffix(name, "-"+s.tag) {
				return s.gb, true
			}
		}
		return 0, false
	}
	return 0, false
}

// Transfer pulls id through the daemon. dir is the provider root, exported
// as OLLAMA_MODELS for daemons started from this environment.
func (o *ollama) Transfer(ctx context.Context, dir, id string) error {
	id = o.Normalize(id)
	o.deps.Log.Info().Str("provider", "ollama").Str("model", id).Msg("running ollama pull")
	if _, err := o.deps.Runner.Run(ctx, []string{"OLLAMA_MODELS=" + dir}, ollamaTool, "pull", id); err != nil {
		return err
	}
	return nil
}

type ollamaLayer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

type ollamaManifest struct {
	SchemaVersion int           `json:"schemaVersion"`
	Config        ollamaLayer   `json:"config"`
	Layers        []ollamaLayer `json:"layers"`
}

func (m *ollamaManifest) size() int64 {
	total := m.Config.Size
	for _, l := range m.Layers {
		total += l.Size
	}
	return total
}

// ListOllama is a storage.Lister reading the daemon's manifests under root.
// Both root/manifests (OLLAMA_MODELS=root) and root/models/manifests (the
// default ~/.ollama/models layout through the legacy link) are read.
func ListOllama(root string) ([]storage.Model, error) {
	var models []storage.Model
	found := false
	for _, dir := range []string{filepath.Join(root, "manifests"), filepath.Join(root, "models", "manifests")} {
		list, err := listManifests(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = true
		models = append(models, list...)
	}
	if !found {
		if _, err := os.Stat(root); err != nil {
			return nil, err
		}
	}
	return models, nil
}

func listManifests(dir string) ([]storage.Model, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}

	var models []storage.Model
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 4 {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		var m ollamaManifest
		if err := json.Unmarshal(data, &m); err != nil {
			// Not a manifest; ollama itself skips these too.
			return nil
		}

		var modified time.Time
		if info, err := d.Info(); err == nil {
			modified = info.ModTime()
		}
		models = append(models, storage.Model{
			Provider:   "ollama",
			Name:       ollamaDisplayName(parts[0], parts[1], parts[2], parts[3]),
			Path:       p,
			SizeBytes:  m.size(),
			ModifiedAt: modified,
		})
		return nil
	})
	return models, err
}

func ollamaDisplayName(registry, namespace, repo, tag string) string {
	switch {
	case registry == ollamaRegistry && namespace == ollamaNamespace:
		return repo + ":" + tag
	case registry == ollamaRegistry:
		return namespace + "/" + repo + ":" + tag
	}
	return registry + "/" + namespace + "/" + repo + ":" + tag
}
