package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/merchant-ops/portalsync/internal/ingest"
	"github.com/merchant-ops/portalsync/internal/notify"
	"github.com/merchant-ops/portalsync/internal/portal"
	"github.com/merchant-ops/portalsync/internal/session"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the ingestion pipeline",
	Long: `Run the full ingestion pipeline for a target date.

By default, ingests every data kind from every configured portal,
skipping portal/kind pairs that already succeeded for the date.
Use --portals and --kinds to restrict the run, --force to re-ingest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "ingest"))

		opts, err := parseRunOpts(cmd)
		if err != nil {
			return err
		}

		pool, err := connectPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ingest.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "ingest: migrate")
		}

		if err := os.MkdirAll(cfg.Ingest.TempDir, 0o755); err != nil {
			return eris.Wrapf(err, "ingest: create temp dir %s", cfg.Ingest.TempDir)
		}

		store, err := session.NewStore(ctx, cfg.Session)
		if err != nil {
			return eris.Wrap(err, "ingest: session store")
		}

		reg := portal.NewRegistry(cfg)
		engine := ingest.NewEngine(cfg, pool, reg, store, notify.NewWebhook(cfg.Notify.WebhookURL))

		log.Info("starting ingestion run",
			zap.Time("date", opts.Date),
			zap.Strings("portals", opts.Portals),
			zap.Strings("kinds", opts.Kinds),
			zap.Bool("force", opts.Force),
		)

		summary, err := engine.Run(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "ingest run")
		}

		fmt.Printf("Run complete: %d succeeded, %d partial, %d failed, %d skipped\n",
			summary.Succeeded, summary.Partial, summary.Failed, summary.Skipped)

		if summary.Failed > 0 {
			return eris.Errorf("ingest: %d portal/kind pairs failed", summary.Failed)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("date", "", "target date (YYYY-MM-DD, default yesterday)")
	ingestCmd.Flags().String("portals", "", "comma-separated portal names (e.g., meridian,lumina)")
	ingestCmd.Flags().String("kinds", "", "comma-separated data kinds (sales, inventory)")
	ingestCmd.Flags().Bool("force", false, "re-ingest even if the date already succeeded")
	rootCmd.AddCommand(ingestCmd)
}

// parseRunOpts extracts ingest.RunOpts from the cobra command flags.
func parseRunOpts(cmd *cobra.Command) (ingest.RunOpts, error) {
	dateStr, _ := cmd.Flags().GetString("date")
	portalsStr, _ := cmd.Flags().GetString("portals")
	kindsStr, _ := cmd.Flags().GetString("kinds")
	force, _ := cmd.Flags().GetBool("force")

	opts := ingest.RunOpts{Force: force}

	if dateStr == "" {
		opts.Date = time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	} else {
		d, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return ingest.RunOpts{}, eris.Wrapf(err, "ingest: parse date %q", dateStr)
		}
		opts.Date = d
	}

	opts.Portals = splitList(portalsStr)
	opts.Kinds = splitList(kindsStr)
	return opts, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
