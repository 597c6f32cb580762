package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/common"
)

var (
	estimateProvider string
	estimateRevision string
)

var estimateCmd = &cobra.Command{
	Use:   "estimate MODEL",
	Short: "Estimate the disk space a model needs",
	Long: `Print the estimated size of MODEL and the free space a download would
require. HuggingFace models are looked up in the Hub API; other models are
sized from a table of known ollama tags or the parameter count in the name.`,
	Args: cobra.ExactArgs(1),
	RunE: runEstimate,
}

func init() {
	estimateCmd.Flags().StringVarP(&estimateProvider, "provider", "p", "huggingface", "Provider: huggingface, vllm or ollama")
	estimateCmd.Flags().StringVar(&estimateRevision, "revision", "", "HuggingFace branch, tag or commit")
	rootCmd.AddCommand(estimateCmd)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.Close()

	adapter, err := app.Adapter(estimateProvider, estimateRevision, "")
	if err != nil {
		return err
	}
	id := adapter.Normalize(args[0])
	if err := adapter.Validate(id); err != nil {
		return err
	}

	size := uint64(adapter.Estimate(cmd.Context(), id))
	reserve := common.GBToBytes(int64(app.Config.MinFreeSpaceGB))
	app.UI.KeyValue("Model", id)
	app.UI.KeyValue("Estimated size", common.HumanBytes(size))
	app.UI.KeyValue("Required free", fmt.Sprintf("%s (2x estimate + %s reserve)", common.HumanBytes(2*size+reserve), common.HumanBytes(reserve)))
	return nil
}
