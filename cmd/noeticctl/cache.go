package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noeticlabs/noeticd/internal/app"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the semantic cache",
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheEvictCmd(), newCachePromoteCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report the total number of live cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, zlog, tel, err := app.Bootstrap(ctx, configPath)
			if err != nil {
				return err
			}
			defer func() {
				_ = zlog.Sync()
				_ = tel.Shutdown(context.Background())
			}()

			deps, err := app.BuildDependencies(ctx, cfg, zlog)
			if err != nil {
				return err
			}
			defer deps.Close()

			count, err := deps.Store.Count(ctx)
			if err != nil {
				return err
			}
			return printJSON(struct {
				Entries int `json:"entries"`
			}{Entries: count})
		},
	}
}

func newCacheEvictCmd() *cobra.Command {
	var flushAll bool
	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Run the TTL sweep and max-entries cap shedding immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, zlog, tel, err := app.Bootstrap(ctx, configPath)
			if err != nil {
				return err
			}
			defer func() {
				_ = zlog.Sync()
				_ = tel.Shutdown(context.Background())
			}()

			deps, err := app.BuildDependencies(ctx, cfg, zlog)
			if err != nil {
				return err
			}
			defer deps.Close()

			if flushAll {
				n, err := deps.Eviction.FlushAll(ctx)
				if err != nil {
					return err
				}
				return printJSON(struct {
					Deleted int `json:"deleted"`
				}{Deleted: n})
			}

			result, err := deps.Eviction.RunEviction(ctx)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().BoolVar(&flushAll, "all", false, "delete every entry regardless of TTL")
	return cmd
}

func newCachePromoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote",
		Short: "Copy live agent-tier entries into the shared tier",
		Long:  "promote is only available when the store is in agent mode; against a server-mode store it returns vectorstore.ErrPromoteUnavailable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, zlog, tel, err := app.Bootstrap(ctx, configPath)
			if err != nil {
				return err
			}
			defer func() {
				_ = zlog.Sync()
				_ = tel.Shutdown(context.Background())
			}()

			deps, err := app.BuildDependencies(ctx, cfg, zlog)
			if err != nil {
				return err
			}
			defer deps.Close()

			n, err := deps.Store.Promote(ctx)
			if err != nil {
				return fmt.Errorf("promote: %w", err)
			}
			return printJSON(struct {
				Promoted int `json:"promoted"`
			}{Promoted: n})
		},
	}
}
