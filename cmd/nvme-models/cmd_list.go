package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/cli"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/provider"
)

var (
	listProvider string
	listJSON     bool
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List published models",
	Long: `List the models published on the NVMe volume with their size and age.
Downloads still in progress and backups of replaced models are not shown.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listProvider, "provider", "p", "", "Only list this provider")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.Close()

	name := listProvider
	if name != "" {
		name = provider.Canonical(name)
	}
	models, err := app.Manager.ListModels(cmd.Context(), name)
	if err != nil {
		return err
	}

	if listJSON {
		return app.UI.JSON(models)
	}
	if len(models) == 0 {
		app.UI.Info("No models found")
		return nil
	}
	cli.RenderModels(app.UI, models, time.Now())
	return nil
}
