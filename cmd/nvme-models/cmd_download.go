package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/cli"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/storage"
)

var (
	downloadProvider string
	downloadRevision string
	downloadToken    string
	downloadSizeGB   int
	downloadJSON     bool
)

var downloadCmd = &cobra.Command{
	Use:   "download MODEL",
	Short: "Download a model onto the NVMe volume",
	Long: `Download MODEL with the provider's own tool.

huggingface and vllm models (organization/model-name) are downloaded into a
staging directory and renamed into place only after the transfer succeeds.
ollama models (name[:tag]) are pulled into the shared ollama store while the
storage lock is held.

The download is refused unless the volume has at least twice the estimated
size free, plus the configured reserve. Interrupting it with Ctrl-C removes
the partial download.`,
	Example: `  nvme-models download meta-llama/Llama-3.1-8B-Instruct
  nvme-models download --provider ollama llama3:8b
  nvme-models download --size-gb 140 --revision main org/large-model`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadProvider, "provider", "p", "huggingface", "Provider: huggingface, vllm or ollama")
	downloadCmd.Flags().StringVar(&downloadRevision, "revision", "", "HuggingFace branch, tag or commit")
	downloadCmd.Flags().StringVar(&downloadToken, "token", "", "HuggingFace access token (default $HF_TOKEN)")
	downloadCmd.Flags().IntVar(&downloadSizeGB, "size-gb", 0, "Override the size estimate, in GB")
	downloadCmd.Flags().BoolVar(&downloadJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.Close()

	// Cancelling the context kills the download tool and rolls back staging.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token := downloadToken
	if token == "" {
		token = os.Getenv("HF_TOKEN")
	}

	res, err := cli.Download(ctx, app, cli.DownloadOptions{
		Provider: downloadProvider,
		ModelID:  args[0],
		Revision: downloadRevision,
		Token:    token,
		SizeGB:   downloadSizeGB,
	})
	if err != nil {
		if errors.Is(err, storage.ErrTransferFailed) {
			app.UI.Errorf("Download of %s failed; partial files were removed", args[0])
		}
		return err
	}

	if downloadJSON {
		return app.UI.JSON(res)
	}
	app.UI.Successf("Downloaded %s", res.ModelID)
	app.UI.KeyValue("Path", res.Path)
	return nil
}
