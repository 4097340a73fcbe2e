package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/merchant-ops/portalsync/internal/config"
	"github.com/merchant-ops/portalsync/internal/db"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "portalsync",
	Short: "Merchant portal data ingestion pipeline",
	Long:  "Logs into merchant portals, downloads daily sales and inventory exports, normalizes them against the product and city cross-references, and upserts them into the ingest.* Postgres tables.",
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

// connectPool creates the shared pgx pool from configuration.
func connectPool(ctx context.Context) (*pgxpool.Pool, error) {
	return db.Connect(ctx, cfg.Database.URL)
}
