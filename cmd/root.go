package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vintagevision/vintagevision/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "vintagevision",
	Short: "Identify and appraise vintage items from photos",
	Long:  "Runs a staged vision analysis (triage, evidence, identification, synthesis) over item photos, gathers missing evidence interactively, and measures accuracy against a ground-truth corpus.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
