package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/pqrefresh/internal/safety"
	"github.com/BadgerOps/pqrefresh/internal/server"
)

var serveListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the JSON HTTP API",
		Long: `Start an HTTP server exposing verification, backups, refreshes, run
history, live progress and Prometheus metrics as JSON endpoints.

By default, the server listens on the address configured in the config file
(default: 127.0.0.1:8080). Use --listen to override. The API has no
authentication; binding a non-loopback address logs a warning.`,
		Example: `  pqrefresh serve
  pqrefresh serve --listen 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port, default: server.listen)")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	eng, err := requireEngine()
	if err != nil {
		return err
	}

	listen := serveListen
	if listen == "" {
		listen = globalCfg.Server.Listen
	}
	if !safety.IsLoopbackListen(listen) {
		log.Warn("serving an unauthenticated API on a non-loopback address", "listen", listen)
	}

	log.Info("server starting", "listen", listen, "files", len(globalCfg.Files))

	srv := server.NewServer(eng, globalMetrics, logger)

	// Channel to listen for errors from server
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
		log.Info("received shutdown signal", "signal", sig)
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
