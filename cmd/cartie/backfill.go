package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/cartie/cartie/internal/backfill"
)

func newBackfillCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Run one channel history backfill cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !cfg.MTProto.Enabled {
				return errors.New("mtproto is disabled in config")
			}
			var (
				worker *backfill.Worker
				logger *slog.Logger
			)
			app := fx.New(coreModule(cfg), fx.Populate(&worker, &logger))
			if err := app.Err(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() {
				if err := app.Stop(context.Background()); err != nil {
					logger.Warn("shutdown", slog.Any("error", err))
				}
			}()

			report, err := worker.RunBackfill(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sources=%d skipped=%d messages=%d failed=%d\n",
				report.Sources, report.Skipped, report.Messages, report.Failed)
			return nil
		},
	}
}
