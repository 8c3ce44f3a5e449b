package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/feedlink/internal/artifactstore"
	"github.com/smallbiznis/feedlink/internal/owner"
	ownerdomain "github.com/smallbiznis/feedlink/internal/owner/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func ownerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Manage invoice owners",
	}
	cmd.AddCommand(ownerCreateCmd())
	cmd.AddCommand(ownerDeleteCmd())
	return cmd
}

func ownerCreateCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "create [username]",
		Short: "Create an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc ownerdomain.Service
			return runOnce(cmd.Context(), func(ctx context.Context) error {
				o, err := svc.Create(ctx, ownerdomain.CreateOwnerRequest{Username: args[0], Email: email})
				if err != nil {
					return fmt.Errorf("create owner: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created owner %s (%s)\n", o.Username, o.ID)
				return nil
			}, owner.Module, fx.Populate(&svc))
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "contact email for the owner")
	return cmd
}

func ownerDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [username]",
		Short: "Delete an owner with all invoice records and stored artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc ownerdomain.Service
			return runOnce(cmd.Context(), func(ctx context.Context) error {
				if err := svc.Delete(ctx, args[0]); err != nil {
					return fmt.Errorf("delete owner: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted owner %s\n", args[0])
				return nil
			}, artifactstore.Module, owner.Module, fx.Populate(&svc))
		},
	}
}
