package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noeticlabs/noeticd/internal/app"
	"github.com/noeticlabs/noeticd/internal/search"
)

func newSearchCmd() *cobra.Command {
	var (
		maxResults int
		namespace  string
		skipCache  bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run the semantic-cache-fronted search pipeline",
		Long:  "search embeds the query, probes the semantic cache, and falls through to the live search provider on a miss, writing results back for next time.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			query := strings.Join(args, " ")

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

			resp, err := deps.Search.Search(ctx, search.Request{
				Query:      query,
				MaxResults: maxResults,
				SkipCache:  skipCache,
			}, namespace)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	cmd.Flags().IntVar(&maxResults, "max-results", 10, "maximum results to return")
	cmd.Flags().StringVar(&namespace, "namespace", "", "cache namespace (defaults to the configured search namespace)")
	cmd.Flags().BoolVar(&skipCache, "skip-cache", false, "bypass the semantic cache and always hit the live provider")
	return cmd
}
