package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledgersync/expsync/internal/api"
	"github.com/ledgersync/expsync/internal/db"
	"github.com/ledgersync/expsync/internal/loadtest"
	expsync "github.com/ledgersync/expsync/internal/sync"
	"github.com/ledgersync/expsync/internal/ui"
	"github.com/spf13/cobra"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Simulate many offline clients reconciling concurrently",
	Long: `Run a load test of concurrent simulated clients.

Each client is its own user and submits a series of mixed batches. Without
--url the test runs in-process against a throwaway SQLite database; with
--url it posts to a running server, minting tokens with auth.jwt_secret.

Example usage:
  expsync loadtest --clients 50 --batches 10
  expsync loadtest --url http://localhost:3000 --clients 20`,
	Run: func(cmd *cobra.Command, args []string) {
		clients, _ := cmd.Flags().GetInt("clients")
		batches, _ := cmd.Flags().GetInt("batches")
		ops, _ := cmd.Flags().GetInt("ops")
		url, _ := cmd.Flags().GetString("url")
		seed, _ := cmd.Flags().GetInt64("seed")

		opts := loadtest.Options{
			Clients:          clients,
			BatchesPerClient: batches,
			OpsPerBatch:      ops,
			Seed:             seed,
		}

		var sub loadtest.Submitter
		target := "in-process"
		if url != "" {
			cfg := loadConfig(cmd)
			if cfg.Auth.JWTSecret == "" {
				fatalf("auth.jwt_secret is required to mint load test tokens")
			}
			auth := api.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			sub = loadtest.HTTPSubmitter{
				BaseURL: strings.TrimRight(url, "/"),
				Client:  &http.Client{Timeout: 30 * time.Second},
				Token: func(userID string) (string, error) {
					return auth.IssueToken(userID, time.Hour)
				},
			}
			target = url
		} else {
			tmpDir, err := os.MkdirTemp("", "expsync-loadtest-*")
			if err != nil {
				fatalf("failed to create temp dir: %v", err)
			}
			defer os.RemoveAll(tmpDir)

			database, err := db.Open(filepath.Join(tmpDir, "loadtest.db"))
			if err != nil {
				fatalf("failed to open database: %v", err)
			}
			defer database.Close()
			if err := database.InitSchema(); err != nil {
				fatalf("failed to initialize schema: %v", err)
			}

			svc := expsync.NewService(expsync.NewStore(database), log.New(io.Discard, "", 0))
			sub = loadtest.ReconcilerSubmitter{Reconciler: svc}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Load test against %s\n", ui.RenderAccent("⚡"), target)
		fmt.Fprintf(out, "   %d clients × %d batches × %d ops\n", clients, batches, ops)

		stats, err := loadtest.Run(context.Background(), sub, opts)
		if err != nil {
			fatalf("%v", err)
		}
		stats.PrintStats(out)

		if stats.BatchErrors > 0 {
			fmt.Fprintf(out, "%s %d batches failed outright\n", ui.RenderWarn("⚠"), stats.BatchErrors)
		}
	},
}

func init() {
	loadtestCmd.Flags().Int("clients", 10, "Concurrent simulated clients")
	loadtestCmd.Flags().Int("batches", 5, "Batches per client")
	loadtestCmd.Flags().Int("ops", 10, "Operations per batch")
	loadtestCmd.Flags().String("url", "", "Base URL of a running server (default: in-process)")
	loadtestCmd.Flags().Int64("seed", 42, "Workload seed")

	rootCmd.AddCommand(loadtestCmd)
}
