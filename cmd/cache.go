package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the geocode cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached coordinate",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Cache.Clear(ctx); err != nil {
			return eris.Wrap(err, "cache clear")
		}
		zap.L().Info("geocode cache cleared", zap.String("driver", cfg.Store.Driver))
		fmt.Fprintln(os.Stderr, "Cache cleared.")
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the number of cached coordinates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Cache.Len(ctx)
		if err != nil {
			return eris.Wrap(err, "cache stats")
		}
		fmt.Fprintf(os.Stdout, "Driver:\t%s\nPath:\t%s\nEntries:\t%d\n", cfg.Store.Driver, cfg.Store.Path, n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}
