package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fakemeh/fakemeh-api/internal/analyzer"
	"github.com/fakemeh/fakemeh-api/internal/claim"
	"github.com/fakemeh/fakemeh-api/internal/deepfake"
	"github.com/fakemeh/fakemeh-api/internal/faceapi"
	"github.com/fakemeh/fakemeh-api/internal/factcheck"
	"github.com/fakemeh/fakemeh-api/internal/imagesource"
	"github.com/fakemeh/fakemeh-api/internal/platform/config"
	"github.com/fakemeh/fakemeh-api/internal/platform/logger"
	"github.com/fakemeh/fakemeh-api/internal/platform/middleware"
	"github.com/fakemeh/fakemeh-api/internal/webpage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	fetcher := webpage.NewHTTPClient(webpage.ClientOptions{
		MaxBodyBytes: cfg.MaxUploadBytes,
		AllowPrivate: cfg.AllowPrivateFetch,
	})

	svc := analyzer.NewService(analyzer.Dependencies{
		Deepfake: deepfake.NewClient(cfg.Deepfake, log),
		Face:     faceapi.NewClient(cfg.Face, log),
		Claims: claim.NewExtractor(
			claim.NewTesseract(cfg.OCR),
			webpage.NewScraper(fetcher),
			log,
		),
		FactCheck:      factcheck.NewClient(cfg.FactCheck, log),
		Images:         imagesource.NewLoader(fetcher, cfg.MaxUploadBytes),
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, log)

	mux := http.NewServeMux()
	analyzer.NewTransport(svc, log, analyzer.TransportOptions{
		AnalyzeTimeout: cfg.AnalyzeTimeout,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}).RegisterRoutes(mux)

	handler := middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logging(log),
		middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)),
	)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Leaves headroom for the slowest analysis to be written out.
		WriteTimeout: cfg.AnalyzeTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			"addr", srv.Addr,
			"factcheck_enabled", cfg.FactCheckEnabled(),
			"analyze_timeout", cfg.AnalyzeTimeout.String(),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server shut down")
	return nil
}
