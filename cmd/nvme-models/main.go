package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/cli"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/pkg/version"
)

var (
	configPath     string
	noVerifyMount  bool
	logLevel       string
	noColor        bool
	nonInteractive bool
)

var rootCmd = &cobra.Command{
	Use:   "nvme-models",
	Short: "Manage LLM model storage on a dedicated NVMe volume",
	Long: `Place LLM model downloads on a dedicated NVMe volume.

Every download is staged next to its final location, checked for free space
before it starts and published with an atomic rename, so a failed or
interrupted transfer never leaves a partial model behind. A single lock file
serializes all writers.

Providers: huggingface (alias hf), vllm, ollama.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (yaml, toml or json)")
	flags.BoolVar(&noVerifyMount, "no-verify-mount", false, "Do not require the base path to be a mount point")
	flags.StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.BoolVarP(&nonInteractive, "yes", "y", false, "Assume yes for confirmations and never prompt")

	rootCmd.AddCommand(versionCmd)
}

// newAppContext builds the shared context from the global flags.
func newAppContext() (*cli.AppContext, error) {
	app, err := cli.NewAppContext(cli.Options{
		ConfigPath:     configPath,
		NoVerifyMount:  noVerifyMount,
		LogLevel:       logLevel,
		NonInteractive: nonInteractive,
		NoColor:        noColor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return app, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
