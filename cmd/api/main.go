package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/finease/internal/api/handlers"
	"github.com/dvloznov/finease/internal/api/middleware"
	"github.com/dvloznov/finease/internal/app"
	"github.com/dvloznov/finease/internal/config"
	"github.com/dvloznov/finease/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (or set FINEASE_CONFIG)")
	envFile := flag.String("env-file", ".env", "Optional .env file to load before reading the environment")
	flag.Parse()

	// Bootstrap logger until the configured one exists.
	log := logger.New()

	if err := config.LoadEnvFiles(*envFile); err != nil {
		log.Fatal().Err(err).Msg("Failed to load env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log = logger.NewWithOptions(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	})
	log = logger.WithFields(log, map[string]interface{}{"service": "finease-api", "analyzer": cfg.Analyzer})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Deps{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise application")
	}

	mux := http.NewServeMux()
	handlers.NewSessionHandler(a.Session, log).Register(mux)
	handlers.NewAnalysisHandler(a.Workflow, a.Normalizer, a.Fetcher, log).Register(mux)
	handlers.NewRunsHandler(a.Runs, log).Register(mux)
	mux.HandleFunc("/health", handlers.Health)

	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(cfg.AllowedOrigin)(
					middleware.Auth(a.Session.Current, "/api/analysis", "/api/runs")(mux),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
	}

	// Let an in-flight analysis record its outcome before clients close.
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close application")
	}

	log.Info().Msg("Server exited")
}
