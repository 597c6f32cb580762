package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/common"
)

const hfTool = "huggingface-cli"

// hfModelID is "<org>/<name>".
var hfModelID = regexp.MustCompile(`^[a-zA-Z0-9_-]+/[a-zA-Z0-9._-]+$`)

type huggingFace struct {
	name string
	deps Deps
}

func newHuggingFace(name string, deps Deps) *huggingFace {
	return &huggingFace{name: name, deps: deps}
}

func (h *huggingFace) Name() string { return h.name }

func (h *huggingFace) Tool() string { return hfTool }

func (h *huggingFace) Scoped() bool { return true }

func (h *huggingFace) Normalize(id string) string { return strings.TrimSpace(id) }

func (h *huggingFace) Validate(id string) error {
	if err := common.ValidateIdentifier(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModelID, err)
	}
	if !hfModelID.MatchString(id) {
		return fmt.Errorf("%w: %q must look like organization/model-name", ErrInvalidModelID, id)
	}
	return nil
}

func (h *huggingFace) Check(ctx context.Context) error {
	if !h.deps.LookPath(hfTool) {
		return toolMissing(hfTool, "install with: pip install huggingface-hub")
	}
	return nil
}

// Estimate sums the repository's file sizes from the Hub API and falls back
// to the name heuristic when the API is unreachable or reports nothing.
func (h *huggingFace) Estimate(ctx context.Context, id string) int64 {
	log := h.deps.Log.With().Str("provider", h.name).Str("model", id).Logger()

	info, err := h.modelInfo(ctx, id)
	if err != nil {
		log.Debug().Err(err).Msg("model info unavailable, using name heuristic")
		return HeuristicBytes(id)
	}

	var total int64
	for _, s := range info.Siblings {
		total += s.Size
	}
	if total > 0 {
		return total
	}
	for _, tag := range info.Tags {
		if gb, ok := paramGB(tag); ok && gb > 1 {
			return gb * common.GibiByte
		}
	}
	return HeuristicBytes(id)
}

// Transfer runs huggingface-cli download into dir. Files are copied rather
// than symlinked into the shared cache so the published directory stands on
// its own.
func (h *huggingFace) Transfer(ctx context.Context, dir, id string) error {
	args := []string{
		"download", id,
		"--local-dir", dir,
		"--local-dir-use-symlinks", "False",
		"--resume-download",
	}
	if h.deps.Revision != "" {
		args = append(args, "--revision", h.deps.Revision)
	}

	env := []string{}
	if h.deps.CacheDir != "" {
		env = append(env, "HF_HOME="+h.deps.CacheDir)
	}
	// The token goes through the environment so it never shows up in ps.
	if h.deps.Token != "" {
		env = append(env, "HF_TOKEN="+h.deps.Token)
	}

	h.deps.Log.Info().Str("provider", h.name).Str("model", id).Str("dir", dir).Msg("running huggingface-cli download")
	if _, err := h.deps.Runner.Run(ctx, env, hfTool, args...); err != nil {
		return err
	}
	return nil
}

type hfSibling struct {
	Filename string `json:"rfilename"`
	Size     int64  `json:"size"`
}

type hfModelInfo struct {
	ID       string      `json:"id"`
	Siblings []hfSibling `json:"siblings"`
	Tags     []string    `json:"tags"`
}

func (h *huggingFace) modelInfo(ctx context.Context, id string) (*hfModelInfo, error) {
	endpoint := strings.TrimSuffix(h.deps.BaseURL, "/") + "/api/models/" + id
	if h.deps.Revision != "" {
		endpoint += "/revision/" + url.PathEscape(h.deps.Revision)
	}
	endpoint += "?blobs=true"

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if h.deps.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.deps.Token)
	}

	resp, err := h.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model info for %s: %s", id, resp.Status)
	}

	var info hfModelInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode model info for %s: %w", id, err)
	}
	return &info, nil
}
