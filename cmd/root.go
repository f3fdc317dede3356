package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venturelens/strategy-cli/internal/config"
	"github.com/venturelens/strategy-cli/internal/registry"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "strategy-cli",
	Short: "Business strategy analysis orchestrator",
	Long:  "Tracks questionnaire phases, triggers ML analysis batches on phase completion, and persists results to the application backend.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if err := registry.Validate(); err != nil {
			return fmt.Errorf("validate registry: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
