// ABOUTME: CLI command that runs the background embedding pipeline
// ABOUTME: Drains pending windows once or keeps workers running with optional Prometheus metrics
package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/harper/recall/internal/app"
	"github.com/harper/recall/internal/logging"
)

var (
	embedOnce        bool
	embedMetricsAddr string
	embedRetryFailed bool
)

// NewEmbedCmd creates the embed command
func NewEmbedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed pending windows",
		Long: `Run the embedding pipeline.

With --once every pending window is embedded and the command exits.
Otherwise workers keep running, sweeping for pending and idle windows
until interrupted.

Examples:
  recall embed --once
  recall embed --retry-failed --once
  recall embed --metrics-addr :9464`,
		Args: cobra.NoArgs,
		RunE: runEmbed,
	}

	cmd.Flags().BoolVar(&embedOnce, "once", false, "Drain pending windows and exit")
	cmd.Flags().StringVar(&embedMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&embedRetryFailed, "retry-failed", false, "Reset permanently failed windows of the user first")

	return cmd
}

func runEmbed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	registry := prometheus.NewRegistry()
	a, err := openApp(ctx, app.WithRegisterer(registry))
	if err != nil {
		return err
	}
	defer closeApp(a)

	logger := logging.For("embed")
	pipeline := a.Engine.Pipeline()

	if embedRetryFailed {
		n, err := pipeline.RetryFailed(ctx, userID)
		if err != nil {
			return fmt.Errorf("resetting failed windows: %w", err)
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed window(s)\n", n)
		}
	}

	if embedOnce {
		if _, err := a.Engine.SealIdle(ctx); err != nil {
			logger.WithError(err).Warn("Sealing idle drafts failed")
		}
		report, err := pipeline.ProcessPending(ctx)
		if err != nil {
			return fmt.Errorf("embedding windows: %w", err)
		}
		if wantJSON() {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Embedded %d window(s), %d failed\n", report.Embedded, report.Failed)
		}
		return nil
	}

	if embedMetricsAddr != "" {
		srv := &http.Server{
			Addr:              embedMetricsAddr,
			Handler:           metricsMux(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.WithField("addr", embedMetricsAddr).Info("Serving metrics")
	}

	a.Engine.Start(ctx)
	if !quiet {
		fmt.Fprintln(cmd.ErrOrStderr(), "Embedding workers running, press Ctrl+C to stop")
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, draining workers")
	return nil
}

// metricsMux exposes the registry at /metrics
func metricsMux(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return mux
}
