// Command expsync runs the offline expense reconciliation service and its
// operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "expsync",
	Short: "Offline expense sync server and tools",
	Long: `expsync reconciles expense changes made on offline devices against the
server copy, keeps a per-user sync ledger and answers delta queries.

Configuration is read from expsync.yaml (or .toml/.json) in the working
directory or $HOME/.config/expsync, then from .env, then from EXPSYNC_*
environment variables. Flags override all of them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: expsync.{yaml,toml,json} in . or ~/.config/expsync)")
	rootCmd.PersistentFlags().String("dsn", "", "Database DSN: SQLite path or postgres:// URL (overrides database.dsn)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
