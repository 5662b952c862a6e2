package main

import (
	"context"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/noeticlabs/noeticd/internal/app"
	"github.com/noeticlabs/noeticd/internal/crawl"
)

func newSitemapCmd() *cobra.Command {
	var (
		maxURLs    int
		pathFilter string
	)

	cmd := &cobra.Command{
		Use:   "sitemap <domain>",
		Short: "Discover page URLs from a domain's sitemap",
		Long:  "sitemap reads robots.txt Sitemap directives, falls back to conventional sitemap paths, and recurses through sitemap indexes. It needs no fetch resolver or semantic cache.",
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

			var filter *regexp.Regexp
			if pathFilter != "" {
				filter, err = regexp.Compile(pathFilter)
				if err != nil {
					return err
				}
			}

			parser := crawl.NewSitemapParser(cfg.Fetch.RequestTimeout.Duration())
			urls, err := parser.Discover(ctx, args[0], maxURLs, filter)
			if err != nil {
				return err
			}
			return printJSON(urls)
		},
	}

	cmd.Flags().IntVar(&maxURLs, "max-urls", 100, "maximum URLs to discover")
	cmd.Flags().StringVar(&pathFilter, "path-filter", "", "regexp applied to the URL path+query")
	return cmd
}
