package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"keyshop-api/internal/database"
	"keyshop-api/pkg/logging"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			if err := database.AutoMigrate(database.DB); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			logging.Infof("Database schema is up to date")
			return nil
		},
	}
}

func reissueCmd() *cobra.Command {
	var transactionID string

	cmd := &cobra.Command{
		Use:   "reissue",
		Short: "Request fresh keys for a recorded payment and mail them to the buyer",
		RunE: func(cmd *cobra.Command, args []string) error {
			transactionID = strings.TrimSpace(transactionID)
			if transactionID == "" {
				return errors.New("--transaction is required")
			}

			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			result, err := a.fulfillment.Reissue(ctx, transactionID)
			if err != nil {
				return err
			}
			if result.IssuanceFailed {
				return fmt.Errorf("key issuance failed for %s: %s", transactionID, result.IssuanceError)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Issued %d key(s) for %s\n", len(result.Payment.Keys), transactionID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&transactionID, "transaction", "t", "", "transaction id of the payment")
	return cmd
}
