package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	expsync "github.com/ledgersync/expsync/internal/sync"
	"github.com/ledgersync/expsync/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show a user's sync statistics",
	Long: `Display the sync ledger statistics for one user:

  - Total ledger entries
  - Time of the newest entry
  - Records never confirmed by a sync (e.g. imported records)`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		userID, _ := cmd.Flags().GetString("user")
		asJSON, _ := cmd.Flags().GetBool("json")

		logs := newLogging(cfg)
		defer logs.Close()

		database := openDB(cfg)
		defer database.Close()

		svc := expsync.NewService(expsync.NewStore(database), logs.Logger("sync"))
		stats, err := svc.Stats(context.Background(), userID)
		if err != nil {
			fatalf("%v", err)
		}

		out := cmd.OutOrStdout()
		if asJSON {
			if err := json.NewEncoder(out).Encode(stats); err != nil {
				fatalf("failed to encode stats: %v", err)
			}
			return
		}

		last := ui.RenderMuted("never")
		if stats.LastSyncTime != nil {
			last = stats.LastSyncTime.Local().Format(time.RFC3339)
		}
		pending := fmt.Sprintf("%d", stats.PendingSync)
		if stats.PendingSync > 0 {
			pending = ui.RenderWarn(pending)
		}

		fmt.Fprintf(out, "\n%s Sync status for %s\n\n", ui.RenderAccent("📊"), userID)
		ui.PrintFields(out, []ui.KeyValue{
			{Key: "Total syncs", Value: fmt.Sprintf("%d", stats.TotalSyncs)},
			{Key: "Last sync", Value: last},
			{Key: "Pending", Value: pending},
			{Key: "Database", Value: database.String()},
		})
		fmt.Fprintln(out)
	},
}

func init() {
	statusCmd.Flags().StringP("user", "u", "", "User id (required)")
	statusCmd.Flags().Bool("json", false, "Print stats as JSON")
	_ = statusCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(statusCmd)
}
