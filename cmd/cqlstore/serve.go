package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adrianmcphee/cqlstore/internal/server"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve collections and media over HTTP",
	Long: `Starts the HTTP server. The connection to Cassandra is opened in the
background; requests arriving before it is ready wait for it, and /healthz
reports 503 until then.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Listen address")
	serveCmd.Flags().String("staging-dir", "", "Directory media uploads are staged in (default: system temp dir)")
	serveCmd.Flags().Int64("max-body", server.DefaultMaxBodyBytes, "Maximum request body size in bytes")
	serveCmd.Flags().Bool("no-metrics", false, "Disable the /metrics endpoint")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := server.Options{
		Addr:         viper.GetString("addr"),
		StagingDir:   viper.GetString("staging-dir"),
		MaxBodyBytes: viper.GetInt64("max-body"),
		Logger:       a.logger,
	}
	if !viper.GetBool("no-metrics") {
		opts.Gatherer = a.registry
	}
	srv := server.New(a.backend, opts)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the connection eagerly so the first request does not pay for it
	a.backend.WaitFunc(ctx, func(err error) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				a.logger.Error("cassandra connection failed", "error", err)
			}
			return
		}
		a.logger.Info("cassandra connection ready", "namespace", a.backend.Config().Namespace)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
