package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/cli"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/config"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/system"
)

var statusJSON bool

var (
	// statusServices are reported when systemd has a unit file for them.
	statusServices = []string{"ollama.service"}
	statusTools    = []string{"huggingface-cli", "ollama"}
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the model volume",
	Long: `Show whether the base path is mounted, how much space is left, which
directories and legacy links exist and whether a download holds the lock.
Nothing is changed and the lock is not taken.`,
	Args: cobra.NoArgs,
	RunE: showStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Manager.Verify(cmd.Context())
	if err != nil {
		return err
	}

	view := cli.StatusView{
		Report:       report,
		MissingTools: system.MissingCommands(statusTools...),
	}
	if t, ok, err := app.Markers.Time(config.MarkerSetupComplete); err == nil && ok {
		view.SetupCompletedAt = &t
	}
	if system.CommandExists("systemctl") {
		runner := system.NewCommandRunner()
		for _, name := range statusServices {
			if ok, err := system.ServiceExists(name); err != nil || !ok {
				continue
			}
			view.Services = append(view.Services, cli.ServiceState{
				Name:   name,
				Active: system.IsServiceActive(cmd.Context(), runner, name),
			})
		}
	}

	if statusJSON {
		return app.UI.JSON(view)
	}
	cli.RenderStatus(app.UI, view, time.Now())
	return nil
}
