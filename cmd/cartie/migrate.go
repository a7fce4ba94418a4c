package main

import (
	"github.com/spf13/cobra"

	"github.com/cartie/cartie/internal/db"
	"github.com/cartie/cartie/internal/logger"
)

func newMigrateCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			return db.Migrate(logger.L, cfg.Postgres, direction)
		},
	}
}
