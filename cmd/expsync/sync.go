package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ledgersync/expsync/internal/cache"
	"github.com/ledgersync/expsync/internal/db"
	"github.com/ledgersync/expsync/internal/inbox"
	"github.com/ledgersync/expsync/internal/logging"
	"github.com/ledgersync/expsync/internal/schema"
	expsync "github.com/ledgersync/expsync/internal/sync"
	"github.com/ledgersync/expsync/internal/ui"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync <batch.json>",
	GroupID: "sync",
	Short:   "Reconcile a batch file directly against the database",
	Long: `Reconcile a batch of operations without going through the HTTP server.

The file is either an inbox batch ({"userId": ..., "expenses": [...]}) or a
bare JSON array of operations. --user is required for a bare array and
overrides the userId of a batch.

Example usage:
  expsync sync phone-001.json
  expsync sync ops.json --user user-1 --json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		userFlag, _ := cmd.Flags().GetString("user")
		asJSON, _ := cmd.Flags().GetBool("json")

		batch, err := readBatchFile(args[0], userFlag)
		if err != nil {
			fatalf("%v", err)
		}

		logs := newLogging(cfg)
		defer logs.Close()

		database := openDB(cfg)
		defer database.Close()

		c := openCache(cfg, logs.Logger("cache"))
		defer c.Close()

		results := reconcileBatch(context.Background(), database, c, logs, batch)
		summary := expsync.Summarize(results)

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{"results": results, "summary": summary}); err != nil {
				fatalf("failed to encode results: %v", err)
			}
			return
		}
		printResults(out, batch.Expenses, results, summary)
	},
}

// reconcileBatch applies batch with the same cache invalidation the server
// uses, so a running server never serves stale stats for the user.
func reconcileBatch(ctx context.Context, database *db.DB, c cache.Cache, logs *logging.Factory, batch *inbox.Batch) []expsync.Result {
	svc := expsync.NewService(expsync.NewStore(database), logs.Logger("sync"),
		expsync.WithObserver(cache.NewInvalidator(c, logs.Logger("cache"))))
	return svc.Reconcile(ctx, batch.UserID, batch.Expenses)
}

// readBatchFile decodes a batch or a bare operation array.
func readBatchFile(path, userID string) (*inbox.Batch, error) {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var batch inbox.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		var ops []schema.SyncOperation
		if err2 := json.Unmarshal(data, &ops); err2 != nil {
			return nil, fmt.Errorf("%s is neither a batch object nor an operation array: %v", path, err)
		}
		batch.Expenses = ops
	}

	if userID != "" {
		batch.UserID = userID
	}
	if batch.UserID == "" {
		return nil, fmt.Errorf("no user: pass --user or set userId in %s", path)
	}
	if batch.Expenses == nil {
		batch.Expenses = []schema.SyncOperation{}
	}
	return &batch, nil
}

func printResults(w io.Writer, ops []schema.SyncOperation, results []expsync.Result, summary expsync.Summary) {
	for i, r := range results {
		op := ops[i]
		if r.Success {
			fmt.Fprintf(w, "%s %-6s %s\n", ui.RenderPass("✓"), op.Operation, op.EntityID())
		} else {
			fmt.Fprintf(w, "%s %-6s %s %s\n", ui.RenderFail("✗"), op.Operation, op.EntityID(),
				ui.RenderMuted(fmt.Sprintf("[%s] %s", r.Code, r.Error)))
		}
	}
	fmt.Fprintf(w, "\n%d total, %d successful, %d failed\n", summary.Total, summary.Successful, summary.Failed)
}

func init() {
	syncCmd.Flags().StringP("user", "u", "", "User id that owns the batch")
	syncCmd.Flags().Bool("json", false, "Print results as JSON")

	rootCmd.AddCommand(syncCmd)
}
