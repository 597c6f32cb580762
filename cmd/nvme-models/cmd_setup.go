package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/config"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/storage"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the model directory tree on the NVMe volume",
	Long: `Create the base, cache, provider and log directories and the legacy
links in the home directory (~/.cache/huggingface, ~/.ollama).

Existing directories are left as they are, so setup can be run any number of
times. Legacy paths that already hold real data are reported and never
touched.`,
	Args: cobra.NoArgs,
	RunE: runSetupCmd,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetupCmd(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.Close()

	app.UI.Header("NVMe Model Storage Setup")
	app.UI.Infof("Base path: %s", app.Config.BasePath)

	report, err := app.Manager.Setup(cmd.Context())
	if err != nil {
		if rerr := app.Markers.Remove(config.MarkerSetupComplete); rerr != nil {
			app.Log.Warn().Err(rerr).Msg("failed to clear setup marker")
		}
		return err
	}

	for _, dir := range report.Directories {
		app.UI.Successf("%s", dir)
	}
	for _, link := range report.Links {
		switch link.Action {
		case storage.LinkCreated, storage.LinkReplaced:
			app.UI.Successf("%s -> %s (%s)", link.Path, link.Target, link.Action)
		case storage.LinkExists:
			app.UI.Infof("%s -> %s", link.Path, link.Target)
		}
	}
	for _, w := range report.Warnings {
		app.UI.Warning(w.Error())
	}

	if err := app.Markers.Create(config.MarkerSetupComplete, time.Now()); err != nil {
		app.Log.Warn().Err(err).Msg("failed to write setup marker")
	}

	if len(report.Warnings) > 0 {
		app.UI.Warningf("Setup finished with %d warning(s)", len(report.Warnings))
		return nil
	}
	app.UI.Success("Setup complete")
	return nil
}
