package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgersync/expsync/internal/api"
	"github.com/ledgersync/expsync/internal/cache"
	"github.com/ledgersync/expsync/internal/dashboard"
	"github.com/ledgersync/expsync/internal/expenses"
	"github.com/ledgersync/expsync/internal/inbox"
	expsync "github.com/ledgersync/expsync/internal/sync"
	"github.com/ledgersync/expsync/internal/ui"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Start the HTTP sync server",
	Long: `Start the HTTP server that offline clients reconcile against.

Routes:
  POST   /sync/expenses          Reconcile a batch of operations
  GET    /sync/expenses          Records changed since ?lastSyncTime
  GET    /sync/last-sync         Timestamp of the newest ledger entry
  GET    /sync/stats             Ledger size, last sync, pending records
  POST   /expenses               Create an expense
  GET    /expenses               List with filters and pagination
  GET    /expenses/summary       Totals by category and month
  GET    /expenses/:id           Read one expense
  PATCH  /expenses/:id           Partial update
  DELETE /expenses/:id           Delete
  GET    /ws                     Live sync events for the caller's devices
  GET    /health                 Store health check

Every route except /health requires a bearer token (see 'expsync token').

Example usage:
  expsync serve                  # Listen on server.port (default 3000)
  expsync serve --port 8080
  expsync serve --with-inbox     # Also reconcile files dropped in inbox.dir`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Server.Port = port
		}
		if cfg.Auth.JWTSecret == "" {
			fatalf("auth.jwt_secret is required (set EXPSYNC_AUTH_JWT_SECRET)")
		}

		logs := newLogging(cfg)
		defer logs.Close()

		database := openDB(cfg)
		defer database.Close()

		c := openCache(cfg, logs.Logger("cache"))
		defer c.Close()

		hub := dashboard.NewHub(&dashboard.Config{
			OriginPatterns: cfg.Server.AllowedOrigins,
			Logger:         logs.Logger("dashboard"),
		})
		hub.Start()

		syncSvc := expsync.NewService(expsync.NewStore(database), logs.Logger("sync"),
			expsync.WithObserver(cache.NewInvalidator(c, logs.Logger("cache"))),
			expsync.WithObserver(hub),
		)

		router := api.NewRouter(api.Config{
			Mode:           cfg.Server.Mode,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			LogWriter:      logs.Writer(),
		}, api.Deps{
			Sync:     syncSvc,
			Expenses: expenses.New(database, c, logs.Logger("expenses")),
			Cache:    c,
			Hub:      hub,
			Store:    database,
			Auth:     api.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
			Logger:   logs.Logger("api"),
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if withInbox, _ := cmd.Flags().GetBool("with-inbox"); withInbox {
			d, err := inbox.New(syncSvc, cfg.Inbox.Dir, &inbox.Config{
				DebounceInterval: cfg.Inbox.Debounce,
				Logger:           logs.Logger("inbox"),
			})
			if err != nil {
				fatalf("failed to create inbox daemon: %v", err)
			}
			go func() {
				if err := d.Start(ctx); err != nil {
					logs.Logger("inbox").Printf("Inbox daemon stopped with error: %v", err)
				}
			}()
		}

		srv := api.NewHTTPServer(cfg.Server.Addr(), router)
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s expsync listening on %s\n", ui.RenderAccent("🚀"), cfg.Server.Addr())
		fmt.Fprintf(out, "   Database: %s\n", database)
		fmt.Fprintf(out, "   WebSocket: ws://localhost:%d/ws\n", cfg.Server.Port)
		fmt.Fprintf(out, "\nPress Ctrl+C to stop...\n")

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				fatalf("server failed: %v", err)
			}
		case <-ctx.Done():
		}

		fmt.Fprintln(out, "\nShutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		hub.Stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
		fmt.Fprintln(out, "Server stopped")
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides server.port)")
	serveCmd.Flags().Bool("with-inbox", false, "Also watch inbox.dir for batch files")

	rootCmd.AddCommand(serveCmd)
}
