package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ledgersync/expsync/internal/cache"
	"github.com/ledgersync/expsync/internal/inbox"
	expsync "github.com/ledgersync/expsync/internal/sync"
	"github.com/ledgersync/expsync/internal/ui"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Reconcile batch files dropped into an inbox directory",
	Long: `Watch an inbox directory and reconcile every batch file written to it.

A batch file is a JSON object {"userId": "...", "expenses": [...]}. After
processing, the outcome is written to <name>.result.json and the batch is
renamed to <name>.done (or <name>.failed if it could not be read).

Files already in the directory are processed on startup.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.Inbox.Dir
		}

		logs := newLogging(cfg)
		defer logs.Close()

		database := openDB(cfg)
		defer database.Close()

		c := openCache(cfg, logs.Logger("cache"))
		defer c.Close()

		svc := expsync.NewService(expsync.NewStore(database), logs.Logger("sync"),
			expsync.WithObserver(cache.NewInvalidator(c, logs.Logger("cache"))))

		d, err := inbox.New(svc, dir, &inbox.Config{
			DebounceInterval: cfg.Inbox.Debounce,
			Logger:           logs.Logger("inbox"),
		})
		if err != nil {
			fatalf("%v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(cmd.OutOrStdout(), "%s Watching %s (Ctrl+C to stop)\n", ui.RenderAccent("👀"), dir)
		if err := d.Start(ctx); err != nil {
			fatalf("%v", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Stopped.")
	},
}

func init() {
	watchCmd.Flags().String("dir", "", "Inbox directory (overrides inbox.dir)")

	rootCmd.AddCommand(watchCmd)
}
