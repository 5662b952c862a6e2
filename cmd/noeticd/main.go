// Noeticd is a local knowledge-cache daemon for AI coding assistants.
//
// It fetches and chunks web content, embeds it into a semantic cache with
// TTL eviction, fronts a live web search provider with that cache, and
// crawls batches of URLs asynchronously as tracked jobs. Tools are exposed
// over an MCP stdio transport for direct assistant integration and an
// HTTP/JSON transport for everything else. The sibling noeticctl binary
// exposes the same service layer as one-shot commands.
//
// Configuration is loaded from ~/.config/noeticd/config.yaml (or the path
// given by -config), overridden by environment variables. See
// internal/config for details.
//
// Usage:
//
//	# Start the HTTP daemon
//	noeticd
//
//	# Start the MCP stdio transport (for an assistant to spawn directly)
//	noeticd stdio
//
//	# Configure via environment
//	SERVER_PORT=9090 VECTORSTORE_PROVIDER=qdrant noeticd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/noeticlabs/noeticd/internal/app"
	"github.com/noeticlabs/noeticd/internal/mcp"
	"github.com/noeticlabs/noeticd/pkg/server"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default ~/.config/noeticd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	// version/help never touch config, telemetry, or the service layer.
	if len(args) > 0 && args[0] == "version" {
		printVersion()
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	var runErr error
	switch {
	case len(args) > 0 && args[0] == "stdio":
		runErr = runStdio(ctx, *configPath)
	case len(args) > 0:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		fmt.Fprintf(os.Stderr, "\nUsage:\n")
		fmt.Fprintf(os.Stderr, "  noeticd           Start the HTTP daemon\n")
		fmt.Fprintf(os.Stderr, "  noeticd stdio     Start the MCP stdio transport\n")
		fmt.Fprintf(os.Stderr, "  noeticd version   Show version information\n")
		fmt.Fprintf(os.Stderr, "\nFor one-shot commands (search, crawl, map, sitemap, cache), use noeticctl.\n")
		os.Exit(1)
	default:
		runErr = runDaemon(ctx, *configPath)
	}

	if runErr != nil {
		log.Fatalf("noeticd: %v", runErr)
	}
	log.Println("shutdown complete")
}

func printVersion() {
	fmt.Printf("noeticd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// runDaemon starts the HTTP/JSON transport and blocks until ctx is
// cancelled. Returns http.ErrServerClosed on graceful shutdown.
func runDaemon(ctx context.Context, configPath string) error {
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
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	go deps.Eviction.Run(ctx)

	srv := server.NewServer(cfg)
	srv.RegisterAPIRoutes(deps.Dependencies)
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	zlog.Info("noeticd daemon configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"),
		zap.String("vectorstore_provider", cfg.VectorStore.Provider),
		zap.String("embeddings_provider", cfg.Embeddings.Provider))

	return srv.Start(ctx)
}

// runStdio starts the MCP stdio transport and blocks until ctx is
// cancelled or the transport errors. Log output goes to stderr only;
// stdout is reserved for the MCP JSON-RPC stream.
func runStdio(ctx context.Context, configPath string) error {
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
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	go deps.Eviction.Run(ctx)

	mcpServer, err := mcp.NewServer(deps.Dependencies)
	if err != nil {
		return fmt.Errorf("building mcp server: %w", err)
	}

	zlog.Info("noeticd stdio transport starting")
	return mcpServer.Run(ctx)
}
