// Noeticctl is a one-shot command-line interface over the noeticd service
// layer: search, crawl, map, sitemap, and cache subcommands run in-process
// against the same search/crawl/vectorstore packages the HTTP and MCP
// stdio transports serve, per spec.md's one-shot command transport mode.
//
// Each subcommand builds only the dependencies it needs: map and sitemap
// never touch the embedder or vector store, so they boot in milliseconds
// with no model download or index open.
//
// Usage:
//
//	noeticctl search "golang context cancellation"
//	noeticctl crawl https://example.com/a https://example.com/b
//	noeticctl map https://example.com --max-urls 200
//	noeticctl sitemap https://example.com
//	noeticctl cache stats
//	noeticctl cache evict
//	noeticctl cache promote
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "noeticctl",
		Short: "One-shot CLI for the noeticd knowledge cache",
		Long: "noeticctl runs a single noeticd operation — search, crawl, map,\n" +
			"sitemap, or cache maintenance — against the same service layer the\n" +
			"HTTP and MCP stdio transports use, then exits.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.config/noeticd/config.yaml)")

	root.AddCommand(
		newSearchCmd(),
		newCrawlCmd(),
		newMapCmd(),
		newSitemapCmd(),
		newCacheCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "noeticctl: %v\n", err)
		os.Exit(1)
	}
}

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// version never touches config or the service layer, matching
		// noeticd's own fast-path dispatch.
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("noeticctl\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", gitCommit)
			fmt.Printf("Build Date: %s\n", buildDate)
			return nil
		},
	}
}
