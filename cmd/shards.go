package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tidefall/newsvault/internal/format"
)

// newShardsCmd creates and configures the 'shards' subcommand.
func newShardsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shards",
		Short: "Lists every shard with its file footprint and row count",
		Args:  cobra.NoArgs,
		RunE:  runShardsCommand,
	}
	return cmd
}

func runShardsCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	statuses, err := appInstance.GetEngine().ListShards(cmd.Context())
	if err != nil {
		return err
	}

	tbl := format.NewTable("SHARD", "ROWS", "SIZE", "PATH")
	tbl.SetMaxCell(96)
	for _, st := range statuses {
		tbl.AddRow(st.Name, st.RowCount, format.Bytes(st.SizeBytes), st.Path)
	}
	return tbl.Render(cmd.OutOrStdout())
}
