package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/merchant-ops/portalsync/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage stored portal sessions",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <portal>",
	Short: "Show stored session material for a portal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := s3Store(cmd.Context())
		if err != nil {
			return err
		}

		m, err := store.Fetch(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "session show")
		}
		if m == nil {
			fmt.Printf("No stored session for %s\n", args[0])
			return nil
		}

		fmt.Printf("Portal:  %s\nUpdated: %s\nSize:    %d bytes\n",
			m.Portal, m.UpdatedAt.Format("2006-01-02 15:04:05 MST"), len(m.Data))
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <portal>",
	Short: "Delete stored session material, forcing a full login next run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := s3Store(cmd.Context())
		if err != nil {
			return err
		}

		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return eris.Wrap(err, "session clear")
		}

		fmt.Printf("Cleared session for %s\n", args[0])
		return nil
	},
}

func s3Store(ctx context.Context) (*session.S3Store, error) {
	if cfg.Session.Bucket == "" {
		return nil, eris.New("session: no session bucket configured")
	}
	return session.NewS3Store(ctx, cfg.Session)
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)
	rootCmd.AddCommand(sessionCmd)
}
