package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidefall/newsvault/internal/engine"
	"github.com/tidefall/newsvault/internal/format"
	"github.com/tidefall/newsvault/internal/news"
)

// newRecordsCmd groups the record inspection subcommands.
func newRecordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspects stored records",
	}
	cmd.AddCommand(newRecordsListCmd())
	cmd.AddCommand(newRecordsGetCmd())
	return cmd
}

func newRecordsListCmd() *cobra.Command {
	var (
		source   string
		category string
		keyword  string
		since    string
		until    string
		limit    int
		offset   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Lists records across all shards, newest first",
		Long: `Lists records merged across every shard, deduplicated by URL and sorted
by publication time descending. Filters narrow the listing before paging.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sinceTS, err := parseTimeFlag(since)
			if err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			untilTS, err := parseTimeFlag(until)
			if err != nil {
				return fmt.Errorf("--until: %w", err)
			}
			return runRecordsListCommand(cmd, engine.ListQuery{
				Source:   source,
				Category: category,
				Keyword:  keyword,
				Since:    sinceTS,
				Until:    untilTS,
				Limit:    limit,
				Offset:   offset,
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "only records from this source")
	cmd.Flags().StringVar(&category, "category", "", "only records in this category")
	cmd.Flags().StringVar(&keyword, "keyword", "", "substring match on title or content")
	cmd.Flags().StringVar(&since, "since", "", "only records published at or after this time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&until, "until", "", "only records published at or before this time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to print")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip before printing")
	return cmd
}

func runRecordsListCommand(cmd *cobra.Command, q engine.ListQuery) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	recs, total, err := appInstance.GetEngine().ListRecords(cmd.Context(), q)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tbl := format.NewTable("PUBLISHED", "SOURCE", "TITLE", "URL")
	tbl.SetMaxCell(48)
	for _, rec := range recs {
		tbl.AddRow(formatPubTime(rec.PubTime), rec.Source, rec.Title, rec.URL)
	}
	if err := tbl.Render(out); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "\nshowing %d of %d\n", len(recs), total)
	return err
}

func newRecordsGetCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "get <id-or-url>",
		Short: "Prints one record by ID or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordsGetCommand(cmd, args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")
	return cmd
}

func runRecordsGetCommand(cmd *cobra.Command, idOrURL string, asJSON bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	rec, err := appInstance.GetEngine().GetRecord(cmd.Context(), idOrURL)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(rec)
	}
	printRecord(out, rec)
	return nil
}

func printRecord(out io.Writer, rec news.Record) {
	fmt.Fprintf(out, "id:        %s\n", rec.ID)
	fmt.Fprintf(out, "url:       %s\n", rec.URL)
	fmt.Fprintf(out, "title:     %s\n", rec.Title)
	fmt.Fprintf(out, "source:    %s\n", rec.Source)
	if rec.Category != "" {
		fmt.Fprintf(out, "category:  %s\n", rec.Category)
	}
	if rec.Author != "" {
		fmt.Fprintf(out, "author:    %s\n", rec.Author)
	}
	fmt.Fprintf(out, "published: %s\n", formatPubTime(rec.PubTime))
	if !rec.CrawlTime.IsZero() {
		fmt.Fprintf(out, "crawled:   %s\n", rec.CrawlTime.Format(time.RFC3339))
	}
	if len(rec.Keywords) > 0 {
		fmt.Fprintf(out, "keywords:  %s\n", strings.Join(rec.Keywords, ", "))
	}
	if len(rec.RelatedStocks) > 0 {
		fmt.Fprintf(out, "stocks:    %s\n", strings.Join(rec.RelatedStocks, ", "))
	}
	if rec.Sentiment != "" {
		fmt.Fprintf(out, "sentiment: %s\n", rec.Sentiment)
	}
	if rec.Status != "" {
		fmt.Fprintf(out, "status:    %s\n", rec.Status)
	}
	fmt.Fprintf(out, "\n%s\n", rec.Content)
}

func formatPubTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Format("2006-01-02 15:04")
}

// parseTimeFlag accepts RFC3339 or a bare date.
func parseTimeFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q, want RFC3339 or YYYY-MM-DD", value)
}
