package provider

import "github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/config"

// vLLM serves HuggingFace snapshots, so it downloads them the same way.
func newVLLM(deps Deps) *huggingFace {
	return newHuggingFace(config.ProviderVLLM, deps)
}
