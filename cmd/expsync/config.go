package main

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration",
	Long: `Print the configuration after merging defaults, the config file, .env,
EXPSYNC_* environment variables and flags. Secrets are masked.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		format, _ := cmd.Flags().GetString("format")

		data, err := cfg.Redacted().Render(format)
		if err != nil {
			fatalf("%v", err)
		}
		_, _ = cmd.OutOrStdout().Write(data)
	},
}

func init() {
	configShowCmd.Flags().String("format", "yaml", "Output format: yaml, toml or json")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
