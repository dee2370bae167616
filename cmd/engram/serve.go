package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/calder-labs/engram/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the engine over HTTP and, optionally, MCP stdio",
	Long: `Serve the engine over HTTP and, optionally, MCP stdio.

Startup ingests the design's knowledge sources and launches the retention
loop. The HTTP API is protected by the bearer token in ENGRAM_API_TOKEN;
leave it unset to disable auth for local use.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		withMCP, _ := cmd.Flags().GetBool("mcp")
		logLevelName, _ := cmd.Flags().GetString("log-level")
		return runServer(addr, withMCP, logLevelName)
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:4800", "HTTP listen address")
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func runServer(addr string, withMCP bool, logLevelName string) error {
	fmt.Fprintf(os.Stderr, "engram version %s\n", version)

	logLevel := slog.LevelInfo
	if strings.EqualFold(logLevelName, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing engine: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	stats, err := eng.Stats()
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}
	slog.Info("engine ready",
		"design", eng.Design().Name,
		"db", eng.DatabasePath(),
		"records", stats.Records,
		"units", stats.Units,
	)

	token := os.Getenv("ENGRAM_API_TOKEN")
	if token == "" {
		printWarning("ENGRAM_API_TOKEN not set; HTTP API is unauthenticated")
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(eng, token),
	}

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(eng))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "engram listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
