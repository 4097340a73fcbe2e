package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/merchant-ops/portalsync/internal/ingest"
)

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "List ingestion attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		portalName, _ := cmd.Flags().GetString("portal")
		limit, _ := cmd.Flags().GetInt("limit")

		pool, err := connectPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		attempts, err := ingest.NewAttemptLog(pool).List(ctx, portalName, limit)
		if err != nil {
			return eris.Wrap(err, "attempts: list")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tPORTAL\tKIND\tDATE\tSTATUS\tWRITTEN\tFAILED\tERROR")
		for _, a := range attempts {
			errMsg := a.Error
			if len(errMsg) > 60 {
				errMsg = errMsg[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				a.StartedAt.Format("2006-01-02 15:04"),
				a.Portal, a.Kind,
				a.TargetDate.Format("2006-01-02"),
				a.Status, a.RowsWritten, a.RowsFailed, errMsg,
			)
		}
		return w.Flush()
	},
}

func init() {
	attemptsCmd.Flags().String("portal", "", "restrict to one portal")
	attemptsCmd.Flags().Int("limit", 50, "maximum rows to show")
	rootCmd.AddCommand(attemptsCmd)
}
