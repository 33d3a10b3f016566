package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidefall/newsvault/internal/format"
	"github.com/tidefall/newsvault/internal/validator"
)

// newReportCmd creates and configures the 'report' subcommand.
func newReportCmd() *cobra.Command {
	var (
		nearDups  bool
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Audits every shard and prints a consistency report",
		Long: `Walks all shards and reports row counts, invalid rows, duplicate URLs
within and across shards, and an overall quality score. With --near-dups it
also scans stored titles for pairs that look like reworded copies.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReportCommand(cmd, nearDups, threshold)
		},
	}
	cmd.Flags().BoolVar(&nearDups, "near-dups", false,
		"also scan stored titles for near-duplicate pairs")
	cmd.Flags().Float64Var(&threshold, "threshold", validator.DefaultNearDupThreshold,
		"similarity threshold for near-duplicate detection, in (0, 1]")
	return cmd
}

func runReportCommand(cmd *cobra.Command, nearDups bool, threshold float64) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	eng := appInstance.GetEngine()

	report, err := eng.ConsistencyReport(cmd.Context())
	if err != nil {
		return fmt.Errorf("analyze vault: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "report %s generated %s\n", report.ID, report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "rows %d, unique urls %d, quality %.3f\n\n",
		report.TotalRows, report.UniqueURLs, report.QualityScore)

	tbl := format.NewTable("SHARD", "ROWS", "VALID", "INVALID", "DUP URLS", "ERROR")
	for _, sh := range report.Shards {
		tbl.AddRow(sh.Name, sh.Rows, sh.ValidRows, sh.InvalidRows, len(sh.IntraShardDupURLs), sh.Err)
	}
	if err := tbl.Render(out); err != nil {
		return err
	}

	if len(report.CrossShardDups) > 0 {
		fmt.Fprintf(out, "\ncross-shard duplicates (%d):\n", len(report.CrossShardDups))
		dupTbl := format.NewTable("URL", "SHARDS")
		dupTbl.SetMaxCell(72)
		for _, g := range report.CrossShardDups {
			dupTbl.AddRow(g.URL, strings.Join(g.Shards, ","))
		}
		if err := dupTbl.Render(out); err != nil {
			return err
		}
	}

	if !nearDups {
		return nil
	}
	pairs, err := eng.NearDuplicates(cmd.Context(), threshold)
	if err != nil {
		return fmt.Errorf("near duplicates: %w", err)
	}
	fmt.Fprintf(out, "\nnear-duplicate titles at threshold %.2f: %d\n", threshold, len(pairs))
	if len(pairs) == 0 {
		return nil
	}
	pairTbl := format.NewTable("SIM", "TITLE A", "TITLE B")
	pairTbl.SetMaxCell(40)
	for _, p := range pairs {
		pairTbl.AddRow(fmt.Sprintf("%.3f", p.Similarity), p.TitleA, p.TitleB)
	}
	return pairTbl.Render(out)
}
