package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/thriving-index/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "thriving-index",
	Short: "Comparative regional thriving index engine",
	Long: "Aggregates county observations to regions, selects statistically matched " +
		"peer regions by Mahalanobis distance, and benchmarks dozens of socioeconomic " +
		"measures into component and overall scores.",
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
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
