package main

import (
	"context"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/noeticlabs/noeticd/internal/app"
	"github.com/noeticlabs/noeticd/internal/crawl"
)

func newMapCmd() *cobra.Command {
	var (
		maxURLs    int
		maxDepth   int
		pathFilter string
	)

	cmd := &cobra.Command{
		Use:   "map <seed-url>",
		Short: "Discover same-domain URLs via breadth-first link traversal",
		Long:  "map boots only the fetch resolver's static fetcher, not the embedder or vector store, since link discovery only needs raw HTML.",
		Args:  cobra.ExactArgs(1),
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

			_, staticFetcher, err := app.BuildFetchResolver(cfg, zlog)
			if err != nil {
				return err
			}

			var filter *regexp.Regexp
			if pathFilter != "" {
				filter, err = regexp.Compile(pathFilter)
				if err != nil {
					return err
				}
			}

			mapSvc := crawl.NewMapService(staticFetcher, zlog)
			urls, err := mapSvc.Discover(ctx, args[0], crawl.MapOptions{
				MaxURLs:    maxURLs,
				MaxDepth:   maxDepth,
				PathFilter: filter,
			})
			if err != nil {
				return err
			}
			return printJSON(urls)
		},
	}

	cmd.Flags().IntVar(&maxURLs, "max-urls", 100, "maximum URLs to discover")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 3, "maximum link traversal depth")
	cmd.Flags().StringVar(&pathFilter, "path-filter", "", "regexp applied to the URL path+query")
	return cmd
}
