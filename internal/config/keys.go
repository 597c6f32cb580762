package config

import "time"

// Environment variables read by Load. They override the config file.
const (
	EnvBasePath        = "NVME_PATH"
	EnvRequireMount    = "NVME_REQUIRE_MOUNT"
	EnvMinFreeSpaceGB  = "NVME_MIN_FREE_SPACE_GB"
	EnvLockFile        = "NVME_LOCK_FILE"
	EnvLogLevel        = "NVME_LOG_LEVEL"
	EnvMetricsTextfile = "NVME_METRICS_TEXTFILE"
	EnvSudoUser        = "SUDO_USER"
	EnvHome            = "HOME"
)

// Provider names as accepted on the command line and in provider_subpaths.
const (
	ProviderHuggingFace = "huggingface"
	ProviderVLLM        = "vllm"
	ProviderOllama      = "ollama"
)

// Default values
const (
	DefaultBasePath       = "/mnt/nvme"
	DefaultRequireMount   = true
	DefaultMinFreeSpaceGB = 50
	DefaultCacheSubpath   = "hf-cache"
	DefaultLogSubpath     = "logs"
	DefaultLockFile       = "/run/lock/nvme-models.lock"
	DefaultLockTimeout    = 2 * time.Second
	DefaultStagingMaxAge  = 24 * time.Hour
	DefaultLogLevel       = "info"
)

// DefaultProviderSubpaths maps each provider to its directory under the base.
// HuggingFace and vLLM share one tree because vLLM loads HF snapshots.
var DefaultProviderSubpaths = map[string]string{
	ProviderHuggingFace: "models",
	ProviderVLLM:        "models",
	ProviderOllama:      "ollama",
}

// MarkerSetupComplete is written after a successful setup run.
const MarkerSetupComplete = "setup-complete"
