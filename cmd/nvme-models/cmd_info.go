package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/cli"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/storage"
)

var (
	infoProvider string
	infoJSON     bool
)

var infoCmd = &cobra.Command{
	Use:   "info MODEL",
	Short: "Show one published model and check that it is complete",
	Long: `Show where a model is stored, its size and download receipt, and check
that the directory holds weights, a config.json and tokenizer files.

Missing config or tokenizer files are warnings. A missing directory or no
weight files at all is an error and the command exits non-zero. Nothing is
changed and the lock is not taken.`,
	Example: `  nvme-models info meta-llama/Llama-3.1-8B-Instruct
  nvme-models info -p ollama llama3`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func init() {
	infoCmd.Flags().StringVarP(&infoProvider, "provider", "p", "huggingface", "Model provider (huggingface, ollama)")
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.Close()

	info, err := cli.Info(cmd.Context(), app, infoProvider, args[0])
	if err != nil {
		return err
	}

	if infoJSON {
		if err := app.UI.JSON(info); err != nil {
			return err
		}
	} else {
		cli.RenderModelInfo(app.UI, info)
	}

	if info.Status == storage.ModelError {
		return fmt.Errorf("%s failed its checks", info.ModelID)
	}
	return nil
}
