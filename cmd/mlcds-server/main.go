package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mlcds/mlcds/internal/config"
	"github.com/mlcds/mlcds/internal/domain/assessment"
	"github.com/mlcds/mlcds/internal/domain/cohort"
	"github.com/mlcds/mlcds/internal/platform/explain"
	"github.com/mlcds/mlcds/internal/platform/middleware"
	"github.com/mlcds/mlcds/internal/platform/web"
	"github.com/mlcds/mlcds/internal/platform/xgb"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mlcds-server",
		Short: "ML-CDS risk calculator server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(assessCmd())
	rootCmd.AddCommand(thresholdsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the risk calculator web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func assessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assess <patient.json>",
		Short: "Run one assessment from a JSON patient document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssess(args[0])
		},
	}
}

func thresholdsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "thresholds",
		Short: "Print the active risk-class cut points",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThresholds()
		},
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// loadArtifacts loads the model and derives the quartile cut points, from
// the reference spreadsheet when configured, otherwise the published
// derivation-cohort values.
func loadArtifacts(cfg *config.Config, logger zerolog.Logger) (*xgb.Model, cohort.Thresholds, error) {
	model, err := xgb.Load(cfg.ModelPath)
	if err != nil {
		return nil, cohort.Thresholds{}, fmt.Errorf("load model: %w", err)
	}
	logger.Info().
		Str("path", cfg.ModelPath).
		Int("trees", len(model.Trees)).
		Int("features", model.NumFeatures()).
		Msg("model loaded")

	if cfg.CohortPath == "" {
		logger.Info().Msg("no reference cohort configured, using published cut points")
		return model, cohort.Default(), nil
	}

	thresholds, err := cohort.FromSpreadsheet(cfg.CohortPath, model)
	if err != nil {
		return nil, cohort.Thresholds{}, fmt.Errorf("derive thresholds: %w", err)
	}
	logger.Info().
		Str("path", cfg.CohortPath).
		Float64("q25", thresholds.Q25).
		Float64("median", thresholds.Median).
		Float64("q75", thresholds.Q75).
		Msg("cohort thresholds derived")
	return model, thresholds, nil
}

func newService(cfg *config.Config, logger zerolog.Logger) (*assessment.Service, error) {
	model, thresholds, err := loadArtifacts(cfg, logger)
	if err != nil {
		return nil, err
	}
	return assessment.NewService(model, explain.New(model), model.FeatureNames, thresholds), nil
}

func runServer() error {
	// Logger
	logger := newLogger()

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	svc, err := newService(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load model artifacts")
	}

	renderer, err := web.NewRenderer()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse templates")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(time.Duration(cfg.RequestTimeout) * time.Second))

	// API group
	apiV1 := e.Group("/api/v1")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Routes
	handler := assessment.NewHandler(svc)
	handler.RegisterRoutes(e, apiV1)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runAssess(path string) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read patient document: %w", err)
	}
	var input assessment.PatientInput
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("decode patient document: %w", err)
	}

	svc, err := newService(cfg, logger)
	if err != nil {
		return err
	}

	a, err := svc.Assess(context.Background(), input)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runThresholds() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	model, thresholds, err := loadArtifacts(cfg, logger)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(map[string]interface{}{
		"model_features": model.NumFeatures(),
		"thresholds":     thresholds,
		"classes":        cohort.Classes(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode thresholds: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
