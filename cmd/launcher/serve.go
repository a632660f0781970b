package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	apiAddr string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, enrichment workers and the MCP server",
		Long: `serve keeps the catalog current in the background. In stdio mode the MCP
protocol runs on stdin/stdout and --api optionally exposes the HTTP API. In
http mode the HTTP API and the MCP endpoint (/mcp) share one listener.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&apiAddr, "api", "", "also serve the HTTP API on this address in stdio mode")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Run(ctx)
	})

	mcpServer := a.MCPServer()
	if cfg.Transport.Mode == "stdio" {
		logger.Info("starting stdio transport", "auth", "disabled")
		g.Go(func() error {
			// The session ends when the client closes stdin; take everything down with it.
			defer stop()
			err := mcpServer.Run(ctx, &sdkmcp.StdioTransport{})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("stdio server: %w", err)
			}
			return nil
		})
		if apiAddr != "" {
			g.Go(func() error {
				return serveHTTP(ctx, a.HTTPHandler(nil), apiAddr)
			})
		}
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		g.Go(func() error {
			return serveHTTP(ctx, a.HTTPHandler(mcpServer), addr)
		})
	}

	err = g.Wait()
	logger.Info("shut down")
	return err
}

// serveHTTP listens on addr until ctx ends, then drains in-flight requests.
func serveHTTP(ctx context.Context, handler http.Handler, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("shutting down", "addr", addr)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return nil
}
