package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/noeticlabs/noeticd/internal/app"
	"github.com/noeticlabs/noeticd/internal/crawl"
)

func newCrawlCmd() *cobra.Command {
	var (
		concurrency int
		namespace   string
		chunkSize   int
	)

	cmd := &cobra.Command{
		Use:   "crawl <url> [url...]",
		Short: "Fetch, chunk, and embed a batch of URLs into the semantic cache",
		Long:  "crawl runs the async batch crawler synchronously, tracking the batch as a job the same way the HTTP/MCP transports do, and blocks until every URL completes.",
		Args:  cobra.MinimumNArgs(1),
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

			jobID, jobCtx, cancel := deps.Jobs.Create(ctx, len(args))
			defer cancel()

			results := deps.Batch.Run(jobCtx, jobID, args, crawl.BatchConfig{
				MaxConcurrency: concurrency,
				Namespace:      namespace,
				ChunkSize:      chunkSize,
			})

			job, _ := deps.Jobs.Get(jobID)
			return printJSON(struct {
				Job     crawl.Job     `json:"job"`
				Results []taskOutcome `json:"results"`
			}{Job: job, Results: taskOutcomes(results)})
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "maximum concurrent fetches")
	cmd.Flags().StringVar(&namespace, "namespace", "default", "cache namespace for crawled chunks")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "chunk size override (0 uses the chunker's default)")
	return cmd
}

// taskOutcome mirrors crawl.TaskResult with Err flattened to a string, since
// the error interface doesn't marshal to anything useful.
type taskOutcome struct {
	URL        string `json:"url"`
	Error      string `json:"error,omitempty"`
	ChunkCount int    `json:"chunk_count"`
}

func taskOutcomes(results []crawl.TaskResult) []taskOutcome {
	out := make([]taskOutcome, len(results))
	for i, r := range results {
		o := taskOutcome{URL: r.URL, ChunkCount: r.ChunkCount}
		if r.Err != nil {
			o.Error = r.Err.Error()
		}
		out[i] = o
	}
	return out
}
