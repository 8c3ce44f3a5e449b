package main

import (
	"github.com/smallbiznis/feedlink/internal/artifactstore"
	"github.com/smallbiznis/feedlink/internal/coupon"
	"github.com/smallbiznis/feedlink/internal/extraction"
	"github.com/smallbiznis/feedlink/internal/feedback"
	"github.com/smallbiznis/feedlink/internal/ingestion"
	"github.com/smallbiznis/feedlink/internal/ledger"
	"github.com/smallbiznis/feedlink/internal/observability"
	"github.com/smallbiznis/feedlink/internal/oracle"
	"github.com/smallbiznis/feedlink/internal/owner"
	"github.com/smallbiznis/feedlink/internal/pdfmerge"
	"github.com/smallbiznis/feedlink/internal/providers/email"
	"github.com/smallbiznis/feedlink/internal/qrpage"
	"github.com/smallbiznis/feedlink/internal/ratelimit"
	"github.com/smallbiznis/feedlink/internal/reclaimer"
	"github.com/smallbiznis/feedlink/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background reclaimer",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				core(),
				observability.Module,

				// Functional domains
				ledger.Module,
				owner.Module,
				oracle.Module,
				extraction.Module,
				qrpage.Module,
				pdfmerge.Module,
				artifactstore.Module,
				email.Module,
				ratelimit.Module,
				ingestion.Module,
				feedback.Module,
				coupon.Module,
				reclaimer.Module,
				reclaimer.Loop,

				server.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}
