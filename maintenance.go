package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"utmrelay/internal/db"
)

func purgeCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete attribution records past the retention horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gdb := setup()
			if olderThan <= 0 {
				olderThan = cfg.AttributionRetention
			}
			n, err := db.RunRetentionOnce(cmd.Context(), db.NewAttributionStore(gdb), olderThan)
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d attribution records older than %s\n", n, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention horizon (default APP_ATTRIBUTION_RETENTION)")
	return cmd
}

func redeliverCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "redeliver",
		Short: "Resend due orders that previously failed to forward",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gdb := setup()
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			n, err := newApp(cfg, gdb).relay.RedeliverPending(ctx)
			if err != nil {
				return fmt.Errorf("redeliver: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "redelivered %d orders\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall time limit")
	return cmd
}
