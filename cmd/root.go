package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Prospect discovery and cold outreach pipeline",
	Long: "Runs small-business prospects through discovery, contact enrichment, email verification, " +
		"scoring and drafted outreach. Each stage is a job; `outreach serve` schedules and runs them, " +
		"the other commands inspect and steer the pipeline from the shared store.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// No .env outside local development.
		_ = godotenv.Load()

		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if cmd.Flags().Changed("log-level") {
			c.Log.Level, _ = cmd.Flags().GetString("log-level")
		}
		cfg = c

		return eris.Wrap(config.InitLogger(cfg.Log), "init logger")
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
