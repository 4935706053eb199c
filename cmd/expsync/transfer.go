package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ledgersync/expsync/internal/cache"
	"github.com/ledgersync/expsync/internal/db"
	"github.com/ledgersync/expsync/internal/transfer"
	"github.com/ledgersync/expsync/internal/ui"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "data",
	Short:   "Export a user's expenses to JSONL",
	Long: `Write every expense owned by a user as one JSON object per line.

Use --out - to write to stdout.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		userID, _ := cmd.Flags().GetString("user")
		out, _ := cmd.Flags().GetString("out")

		database := openDB(cfg)
		defer database.Close()

		ctx := context.Background()
		if out == "-" {
			if _, err := transfer.Export(ctx, database, userID, cmd.OutOrStdout()); err != nil {
				fatalf("%v", err)
			}
			return
		}

		result, err := transfer.ExportFile(ctx, database, userID, out)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Exported %d expenses to %s\n",
			ui.RenderPass("✓"), result.Exported, ui.RenderAccent(result.Path))
	},
}

var importCmd = &cobra.Command{
	Use:     "import",
	GroupID: "data",
	Short:   "Import expenses from JSONL",
	Long: `Import expenses from a JSONL file into a user's account.

Records whose id already exists are skipped. Imported records belong to
--user whatever the file says, and stay pending until a client confirms
them through a sync.

Examples:
  expsync import --user user-1 --in expenses.jsonl
  expsync import --user user-1 --in expenses.jsonl --dry-run`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		userID, _ := cmd.Flags().GetString("user")
		in, _ := cmd.Flags().GetString("in")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")

		logs := newLogging(cfg)
		defer logs.Close()

		database := openDB(cfg)
		defer database.Close()

		c := openCache(cfg, logs.Logger("cache"))
		defer c.Close()

		result, err := importExpenses(context.Background(), database, c, logs.Logger("cache"), in, transfer.ImportOptions{
			UserID: userID,
			DryRun: dryRun,
			Backup: backup,
		})
		if err != nil {
			fatalf("%v", err)
		}

		out := cmd.OutOrStdout()
		if dryRun {
			fmt.Fprintf(out, "%s Dry run: would import %d expenses (%d skipped)\n",
				ui.RenderAccent("→"), result.Imported, result.Skipped)
		} else {
			fmt.Fprintf(out, "%s Imported %d expenses (%d skipped)\n",
				ui.RenderPass("✓"), result.Imported, result.Skipped)
		}
		if result.BackupCreated != "" {
			fmt.Fprintf(out, "  Backup: %s\n", result.BackupCreated)
		}
		for _, msg := range result.Errors {
			fmt.Fprintf(out, "%s %s\n", ui.RenderWarn("⚠"), msg)
		}
		if len(result.Errors) > 0 {
			os.Exit(1)
		}
	},
}

// importExpenses runs an import and drops the user's cached stats and
// summary once records were written.
func importExpenses(ctx context.Context, database *db.DB, c cache.Cache, logger *log.Logger, path string, opts transfer.ImportOptions) (*transfer.ImportResult, error) {
	result, err := transfer.Import(ctx, database, path, opts)
	if err != nil {
		return nil, err
	}
	if !opts.DryRun && result.Imported > 0 {
		if err := c.InvalidateUser(ctx, opts.UserID); err != nil {
			logger.Printf("WARNING: %v", err)
		}
	}
	return result, nil
}

func init() {
	exportCmd.Flags().StringP("user", "u", "", "User id (required)")
	exportCmd.Flags().StringP("out", "o", "expenses.jsonl", "Output file, or - for stdout")
	_ = exportCmd.MarkFlagRequired("user")

	importCmd.Flags().StringP("user", "u", "", "User id that will own the records (required)")
	importCmd.Flags().StringP("in", "i", "expenses.jsonl", "Input JSONL file")
	importCmd.Flags().Bool("dry-run", false, "Validate without writing")
	importCmd.Flags().Bool("backup", false, "Copy the input file aside before importing")
	_ = importCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
