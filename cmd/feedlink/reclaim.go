package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/feedlink/internal/artifactstore"
	"github.com/smallbiznis/feedlink/internal/ledger"
	"github.com/smallbiznis/feedlink/internal/observability"
	"github.com/smallbiznis/feedlink/internal/ratelimit"
	"github.com/smallbiznis/feedlink/internal/reclaimer"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func reclaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Run one reclaimer sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			var r *reclaimer.Reclaimer
			return runOnce(cmd.Context(), func(ctx context.Context) error {
				report := r.RunOnce(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d deleted=%d not_found=%d errors=%d\n",
					report.Scanned, report.Deleted, report.NotFound, report.Errors)
				return nil
			},
				observability.Module,
				ledger.Module,
				artifactstore.Module,
				ratelimit.Module,
				reclaimer.Module,
				fx.Populate(&r),
			)
		},
	}
}
