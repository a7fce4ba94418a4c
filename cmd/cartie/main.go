package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cartie/cartie/internal/config"
	"github.com/cartie/cartie/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configLoader reads the config named by the --config flag.
type configLoader func() (config.Config, error)

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "cartie",
		Short:         "Telegram inbound pipeline for vehicle dealers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to config.toml")

	load := configLoader(func() (config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	})

	root.AddCommand(
		newServeCommand(load),
		newMigrateCommand(load),
		newBackfillCommand(load),
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "cartie %s\n", version.GetInfo())
			},
		},
	)
	return root
}
