package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidefall/newsvault/internal/format"
)

// newMigrateCmd creates and configures the 'migrate' subcommand.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Absorbs legacy shard files into the vault directory",
		Long: `Scans the configured legacy roots for stray shard files left behind by
older collector installs and copies each one to its canonical location.
Legacy files are never modified or removed; a copy only happens when the
canonical file is missing or strictly older.`,
		Args: cobra.NoArgs,
		RunE: runMigrateCommand,
	}
	return cmd
}

func runMigrateCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	report, err := appInstance.GetEngine().TriggerMigration(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(report.Results) == 0 {
		fmt.Fprintln(out, "no legacy shard files found")
		return nil
	}

	tbl := format.NewTable("LEGACY FILE", "SHARD", "OUTCOME", "REASON")
	tbl.SetMaxCell(72)
	for _, res := range report.Results {
		tbl.AddRow(res.Path, res.Shard, res.Outcome, res.Reason)
	}
	if err := tbl.Render(out); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "\nmigrated %d, skipped %d, failed %d\n",
		report.Migrated, report.Skipped, len(report.Failed))
	return err
}
