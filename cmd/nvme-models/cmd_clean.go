package main

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

var (
	cleanOlderThan time.Duration
	cleanBackups   bool
	cleanDryRun    bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove abandoned staging directories",
	Long: `Remove staging directories (.tmp_*) left behind by downloads that were
killed before they could clean up. Only directories older than --older-than
are removed, and never the one an active download is using.

With --backups, also remove the <model>.backup.<time> copies kept when a
model was downloaded again.

With --dry-run, list the staging directories on disk and exit.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().DurationVar(&cleanOlderThan, "older-than", 0, "Minimum age to remove (default staging_max_age)")
	cleanCmd.Flags().BoolVar(&cleanBackups, "backups", false, "Also remove backups of replaced models")
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "List staging directories without removing anything")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	app, err := newAppContext()
	if err != nil {
		return err
	}
	defer app.Close()

	age := cleanOlderThan
	if age <= 0 {
		age = time.Duration(app.Config.StagingMaxAge)
	}

	staging := app.Manager.StagingDirs()
	if len(staging) > 0 {
		app.UI.Infof("Found %d staging director%s:", len(staging), plural(len(staging), "y", "ies"))
		for _, dir := range staging {
			app.UI.Print("  " + dir)
		}
	}
	if cleanDryRun {
		app.UI.Infof("Dry run: directories older than %s would be removed", age)
		return nil
	}

	if cleanBackups && !nonInteractive {
		app.UI.Warningf("Backups of replaced models older than %s will be deleted", age)
		ok, err := app.UI.PromptYesNo("Continue?", false)
		if err != nil {
			return err
		}
		if !ok {
			app.UI.Info("Cancelled")
			return nil
		}
	}

	var result *multierror.Error

	removed, err := app.Manager.Cleanup(age)
	if err != nil {
		result = multierror.Append(result, err)
	}
	app.UI.Infof("Removed %d staging director%s", removed, plural(removed, "y", "ies"))

	if cleanBackups {
		pruned, err := app.Manager.PruneBackups(age)
		if err != nil {
			result = multierror.Append(result, err)
		}
		app.UI.Infof("Removed %d backup%s", pruned, plural(pruned, "", "s"))
	}

	if err := result.ErrorOrNil(); err != nil {
		for _, e := range result.Errors {
			app.UI.Error(e.Error())
		}
		return fmt.Errorf("clean incomplete: %d error(s)", len(result.Errors))
	}
	app.UI.Success("Clean complete")
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
