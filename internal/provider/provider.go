// Package provider adapts the external download tools (huggingface-cli,
// ollama) to the storage manager's transfer callback.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/config"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/system"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrInvalidModelID  = errors.New("invalid model id")
	ErrToolMissing     = errors.New("required tool not found")
)

// Adapter knows how one provider names, sizes and downloads models.
type Adapter interface {
	Name() string
	// Tool is the external program that performs transfers.
	Tool() string
	// Scoped reports whether Transfer writes only into the directory it is
	// given. Unscoped providers manage their own layout under the provider
	// root and run through storage.Manager.RunExclusive.
	Scoped() bool
	// Normalize returns the canonical form of id, e.g. with a default tag.
	Normalize(id string) string
	Validate(id string) error
	// Check verifies the tool (and any daemon it needs) is usable.
	Check(ctx context.Context) error
	// Estimate returns the expected on-disk size in bytes. It never fails;
	// unknown models get a conservative default.
	Estimate(ctx context.Context, id string) int64
	Transfer(ctx context.Context, dir, id string) error
}

// Deps carries what adapters need from the outside world.
type Deps struct {
	Runner system.CommandRunner
	// CacheDir is the HuggingFace cache (HF_HOME).
	CacheDir string
	// HTTPClient and BaseURL reach the HuggingFace metadata API.
	HTTPClient *http.Client
	BaseURL    string
	Revision   string
	Token      string
	Log        zerolog.Logger
	// LookPath reports whether a command is installed.
	LookPath func(name string) bool
}

// DefaultHFEndpoint is the public HuggingFace Hub.
const DefaultHFEndpoint = "https://huggingface.co"

const apiTimeout = 10 * time.Second

// New returns the adapter for name. "hf" is accepted for huggingface.
func New(name string, deps Deps) (Adapter, error) {
	if deps.Runner == nil {
		deps.Runner = system.NewCommandRunner()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: apiTimeout}
	}
	if deps.BaseURL == "" {
		deps.BaseURL = DefaultHFEndpoint
	}
	if deps.LookPath == nil {
		deps.LookPath = system.CommandExists
	}

	switch Canonical(name) {
	case config.ProviderHuggingFace:
		return newHuggingFace(config.ProviderHuggingFace, deps), nil
	case config.ProviderVLLM:
		return newVLLM(deps), nil
	case config.ProviderOllama:
		return newOllama(deps), nil
	}
	return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownProvider, name, strings.Join(Names(), ", "))
}

// Canonical lowercases name and resolves aliases.
func Canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "hf" {
		return config.ProviderHuggingFace
	}
	return name
}

// Names lists the supported providers.
func Names() []string {
	names := []string{config.ProviderHuggingFace, config.ProviderOllama, config.ProviderVLLM}
	sort.Strings(names)
	return names
}

func toolMissing(tool, hint string) error {
	return fmt.Errorf("%w: %s (%s)", ErrToolMissing, tool, hint)
}
