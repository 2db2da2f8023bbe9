package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/naocr/internal/metrics"
	"github.com/MeKo-Tech/naocr/internal/server"
	"github.com/MeKo-Tech/naocr/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for OCR API",
		Long: `Start an HTTP server that provides REST and WebSocket endpoints for
multi-page OCR.

The server provides the following endpoints:
  POST /ocr/pages - Recognize uploaded page images or PDFs as one document
  GET  /ws        - Stream progress and results of recognition runs
  GET  /health    - Health check endpoint
  GET  /metrics   - Prometheus metrics

Examples:
  naocr serve
  naocr serve --port 8080
  naocr serve --host 0.0.0.0 --port 3000
  naocr serve --base-dir /srv/scans --rate-limit-enabled`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *a.cfg
			if cmd.Flags().Changed("host") {
				cfg.Server.Host, _ = cmd.Flags().GetString("host")
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port, _ = cmd.Flags().GetInt("port")
			}
			if cmd.Flags().Changed("cors-origin") {
				cfg.Server.CORSOrigin, _ = cmd.Flags().GetString("cors-origin")
			}
			if cmd.Flags().Changed("max-upload-size") {
				cfg.Server.MaxUploadMB, _ = cmd.Flags().GetInt("max-upload-size")
			}
			if cmd.Flags().Changed("timeout") {
				cfg.Server.TimeoutSec, _ = cmd.Flags().GetInt("timeout")
			}
			if cmd.Flags().Changed("shutdown-timeout") {
				cfg.Server.ShutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
			}
			if cmd.Flags().Changed("base-dir") {
				cfg.Server.BaseDir, _ = cmd.Flags().GetString("base-dir")
			}
			if cmd.Flags().Changed("rate-limit-enabled") {
				cfg.Server.RateLimit.Enabled, _ = cmd.Flags().GetBool("rate-limit-enabled")
			}
			if cmd.Flags().Changed("language") {
				cfg.Engine.Language, _ = cmd.Flags().GetString("language")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			engine, err := a.engine(cfg)
			if err != nil {
				return err
			}
			if !engine.Available() {
				a.logger.Warn("OCR engine not available; recognition requests will be rejected")
			}

			server.Version = version.Version
			ocrServer, err := server.NewServer(server.Config{
				Host:             cfg.Server.Host,
				Port:             cfg.Server.Port,
				CORSOrigin:       cfg.Server.CORSOrigin,
				MaxUploadMB:      int64(cfg.Server.MaxUploadMB),
				TimeoutSec:       cfg.Server.TimeoutSec,
				ProgressInterval: cfg.Session.ProgressInterval,
				PageRange:        cfg.PDF.PageRange,
				BaseDir:          cfg.Server.BaseDir,
				RateLimit: server.RateLimitConfig{
					Enabled:       cfg.Server.RateLimit.Enabled,
					RunsPerMinute: cfg.Server.RateLimit.RunsPerMinute,
					RunsPerHour:   cfg.Server.RateLimit.RunsPerHour,
					MaxRunsPerDay: cfg.Server.RateLimit.MaxRunsPerDay,
					MaxDataPerDay: cfg.Server.RateLimit.MaxDataPerDay,
				},
			}, server.Deps{
				Engine:   engine,
				Metrics:  metrics.New(prometheus.DefaultRegisterer),
				Gatherer: prometheus.DefaultGatherer,
				Logger:   a.logger,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize server: %w", err)
			}

			mux := http.NewServeMux()
			ocrServer.SetupRoutes(mux)

			timeout := time.Duration(cfg.Server.TimeoutSec) * time.Second
			httpServer := &http.Server{
				Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       timeout,
				WriteTimeout:      timeout + 5*time.Second,
			}

			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			serveErr := make(chan error, 1)
			go func() {
				a.logger.Info("Starting OCR server", "host", cfg.Server.Host, "port", cfg.Server.Port)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					_ = ocrServer.Close()
					return fmt.Errorf("server error: %w", err)
				}
			case <-ctx.Done():
				a.logger.Info("Received shutdown signal")
			}

			shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
			a.logger.Info("Starting graceful shutdown", "timeout", shutdownTimeout)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("HTTP server shutdown error", "error", err)
			}
			if err := ocrServer.Close(); err != nil {
				a.logger.Error("Server cleanup error", "error", err)
			}
			a.logger.Info("Graceful shutdown completed")
			return nil
		},
	}

	cmd.Flags().StringP("host", "H", "localhost", "server host")
	cmd.Flags().IntP("port", "p", 8080, "server port")
	cmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	cmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	cmd.Flags().Int("timeout", 120, "request timeout in seconds")
	cmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	cmd.Flags().String("base-dir", "", "directory WebSocket page paths are resolved under (default: working directory)")
	cmd.Flags().Bool("rate-limit-enabled", false, "enable per-client rate limiting")
	cmd.Flags().StringP("language", "l", "eng", "OCR language, e.g. eng, de or deu+eng")
	return cmd
}
