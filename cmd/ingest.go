// Package cmd defines and implements the CLI commands for the newsvault
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tidefall/newsvault/internal/format"
	iduuid "github.com/tidefall/newsvault/internal/id/uuid"
	"github.com/tidefall/newsvault/internal/ingest"
)

// newIngestCmd creates and configures the 'ingest' subcommand.
func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Loads a JSONL feed of records into the vault",
		Long: `Reads newline-delimited JSON records from the given file, or from
stdin when the argument is "-" or omitted, and stores each one in its
source shard under the configured duplicate policy.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runIngestCommand,
	}
	return cmd
}

func runIngestCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()

	input := cmd.InOrStdin()
	feedName := "stdin"
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open feed: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				logger.Warn("failed to close feed file", zap.Error(cerr))
			}
		}()
		input = f
		feedName = args[0]
	}

	batchID, err := iduuid.New().NewRawID()
	if err != nil {
		return fmt.Errorf("batch id: %w", err)
	}

	ingestCfg := appInstance.GetConfig().Ingest
	queue := ingest.NewQueue(ingestCfg.QueueDepth)
	pipeline := ingest.New(
		ingest.Config{Workers: ingestCfg.Workers},
		queue,
		appInstance.GetEngine(),
		appInstance.GetHub(),
		nil,
		batchID,
		logger,
	)

	ctx := cmd.Context()
	runDone := make(chan ingest.Stats, 1)
	go func() { runDone <- pipeline.Run(ctx) }()

	feedStats, feedErr := ingest.FeedJSONL(ctx, input, queue, logger)
	queue.Close()
	stats := <-runDone
	if feedErr != nil {
		return fmt.Errorf("feed %s: %w", feedName, feedErr)
	}

	logger.Info("ingest finished",
		zap.String("feed", feedName),
		zap.String("batch_id", batchID.String()),
		zap.Int("read", feedStats.Read),
		zap.Int("malformed", feedStats.Malformed),
		zap.Int64("accepted", stats.Accepted),
		zap.Int64("duplicates", stats.Duplicates),
		zap.Int64("failed", stats.Failed))

	tbl := format.NewTable("READ", "MALFORMED", "ACCEPTED", "DUPLICATE", "FAILED")
	tbl.AddRow(feedStats.Read, feedStats.Malformed, stats.Accepted, stats.Duplicates, stats.Failed)
	return tbl.Render(cmd.OutOrStdout())
}
