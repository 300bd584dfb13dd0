package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/mirrorpick/internal/mirror"
	"github.com/BadgerOps/mirrorpick/internal/safety"
	"github.com/BadgerOps/mirrorpick/internal/server"
)

var serveListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the resolve API server",
		Long: `Start an HTTP server that resolves download URLs on request.

Endpoints:
  GET  /api/candidates?url=URL   candidate URLs for a download
  POST /api/resolve              {"url": "..."}; probes and returns the outcome
  GET  /api/history              recent resolutions (when history is enabled)
  GET  /metrics                  Prometheus metrics
  GET  /healthz                  liveness

The server has no authentication. By default it listens on the address
configured in the config file (default: 127.0.0.1:8080).`,
		Example: `  mirrorpick serve
  mirrorpick serve --listen 127.0.0.1:9000`,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port, default from config server.listen)")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	listen := serveListen
	if listen == "" {
		listen = globalCfg.Server.Listen
	}
	if !isLoopbackListen(listen) {
		logger.Warn("resolve API has no authentication and is listening on a non-loopback address", "listen", listen)
	}

	hist, err := openHistory(false)
	if err != nil {
		return err
	}

	// Progress lines belong to the CLI; the API reports through JSON and logs.
	opts := globalCfg.ProbeOptions()
	opts.Metrics = globalMetrics
	opts.Output = io.Discard
	sel := mirror.NewSelector(opts, logger)

	srv := server.NewServer(mirror.NewGenerator(globalCfg.Mirrors), sel, hist, globalRegistry, logger)

	errChan := make(chan error, 1)
	go func() {
		fmt.Printf("Starting server on %s...\n", listen)
		if err := srv.Start(listen); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
		fmt.Println("\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		fmt.Println("Server stopped gracefully")
	}

	return nil
}

// isLoopbackListen reports whether a host:port listen address only accepts
// local connections. An empty host binds every interface.
func isLoopbackListen(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	return safety.IsLoopbackHost(&url.URL{Host: net.JoinHostPort(host, "0")})
}
