package main

import (
	"context"
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

	"github.com/triage/triage/internal/config"
	"github.com/triage/triage/internal/domain/feedback"
	"github.com/triage/triage/internal/domain/triage"
	"github.com/triage/triage/internal/platform/auth"
	"github.com/triage/triage/internal/platform/db"
	"github.com/triage/triage/internal/platform/knowledge"
	"github.com/triage/triage/internal/platform/middleware"
	"github.com/triage/triage/internal/platform/ml"
	"github.com/triage/triage/internal/platform/telemetry"
)

// idleSweepInterval paces the background scan for stale sessions.
const idleSweepInterval = time.Minute

func main() {
	rootCmd := &cobra.Command{
		Use:   "triage-server",
		Short: "Symptom triage API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(retrainCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// loadKnowledge builds the condition catalogue, from file when configured.
func loadKnowledge(cfg *config.Config) (*knowledge.Base, error) {
	if cfg.KnowledgeFile != "" {
		base, err := knowledge.LoadFile(cfg.KnowledgeFile)
		if err != nil {
			return nil, fmt.Errorf("load knowledge file %s: %w", cfg.KnowledgeFile, err)
		}
		return base, nil
	}
	return knowledge.Default(), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// trainCmd trains an initial model from synthetic cases only and promotes it.
// It needs no database, so it can seed the model directory before first boot.
func trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train and promote a model from synthetic cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, _ := cmd.Flags().GetInt("samples")
			seed, _ := cmd.Flags().GetInt64("seed")

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			base, err := loadKnowledge(cfg)
			if err != nil {
				return err
			}

			store, err := ml.NewFSStore(cfg.ModelDir)
			if err != nil {
				return err
			}
			registry := ml.NewRegistry(store.WithLogger(logger), logger, cfg.RegressionTolerance)
			ctx := context.Background()
			if err := registry.Bootstrap(ctx); err != nil {
				return fmt.Errorf("bootstrap registry: %w", err)
			}

			gen := ml.NewCaseGenerator(base, seed)
			cases, err := gen.Generate(samples)
			if err != nil {
				return err
			}

			trainer := ml.NewTrainer(ml.NewEncoder(base), logger)
			artifact, err := trainer.Train(ctx, cases, ml.Hyperparameters{MinCases: cfg.MinTrainingCases})
			if err != nil {
				return err
			}
			if err := registry.Register(ctx, artifact); err != nil {
				return err
			}
			if err := registry.Promote(ctx, artifact.Version); err != nil {
				return err
			}

			fmt.Printf("Trained and promoted model version %d (validation accuracy %.4f, %d cases).\n",
				artifact.Version, artifact.ValidationAccuracy, len(cases))
			return nil
		},
	}
	cmd.Flags().Int("samples", feedback.DefaultSyntheticSamples, "Number of synthetic cases to generate")
	cmd.Flags().Int64("seed", time.Now().UnixNano(), "Case generator seed")
	return cmd
}

// retrainCmd runs a single retraining cycle, feedback corrections included.
// Meant to be invoked from cron; a weekly schedule works well.
func retrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retrain",
		Short: "Run one retraining cycle against the database",
		Long:  "Runs a single retraining cycle: synthesize cases, fold in feedback corrections, train, and attempt promotion. Safe to schedule from cron (weekly recommended); concurrent invocations serialize.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			base, err := loadKnowledge(cfg)
			if err != nil {
				return err
			}

			store, err := ml.NewFSStore(cfg.ModelDir)
			if err != nil {
				return err
			}
			registry := ml.NewRegistry(store.WithLogger(logger), logger, cfg.RegressionTolerance)
			if err := registry.Bootstrap(ctx); err != nil {
				return fmt.Errorf("bootstrap registry: %w", err)
			}

			encoder := ml.NewEncoder(base)
			engine := ml.NewEngine(registry, encoder, base, cfg.TopKConditions, logger)
			sessionRepo := triage.NewSessionRepoPG(pool)
			policy := triage.NewPolicy(base, cfg.MinInfoGain)
			triageSvc := triage.NewService(sessionRepo, engine, policy, base, triage.Config{
				ConfidenceThreshold: cfg.ConfidenceThreshold,
				MaxQuestions:        cfg.MaxQuestions,
				IdleTimeout:         cfg.SessionIdleTimeout,
			}, logger)

			scheduler := feedback.NewScheduler(
				feedback.NewRepoPG(pool),
				feedback.NewTrainingRunRepoPG(pool),
				triageSvc,
				ml.NewTrainer(encoder, logger),
				registry,
				base,
				feedback.SchedulerConfig{
					SyntheticSamples: cfg.SyntheticSamples,
					MinTrainingCases: cfg.MinTrainingCases,
				},
				logger,
			)

			run, err := scheduler.RunCycle(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Retraining cycle finished: outcome=%s model_version=%d accuracy=%.4f feedback_applied=%d\n",
				run.Outcome, run.ModelVersion, run.ValidationAccuracy, run.FeedbackApplied)
			return nil
		},
	}
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	base, err := loadKnowledge(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load knowledge base")
	}
	logger.Info().
		Int("conditions", len(base.Conditions())).
		Int("symptoms", len(base.AllSymptoms())).
		Msg("knowledge base loaded")

	// Model registry. An empty model directory is not fatal: the server
	// starts and answers 503 on inference until a model is promoted.
	store, err := ml.NewFSStore(cfg.ModelDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open model store")
	}
	registry := ml.NewRegistry(store.WithLogger(logger), logger, cfg.RegressionTolerance)
	if err := registry.Bootstrap(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap model registry")
	}
	if v := registry.ActiveVersion(); v > 0 {
		logger.Info().Int64("model_version", v).Msg("model promoted from store")
	} else {
		logger.Warn().Msg("no model available, inference disabled until one is trained")
	}

	encoder := ml.NewEncoder(base)
	engine := ml.NewEngine(registry, encoder, base, cfg.TopKConditions, logger)
	metrics := telemetry.NewProvider()

	// Domain services
	sessionRepo := triage.NewSessionRepoPG(pool)
	policy := triage.NewPolicy(base, cfg.MinInfoGain)
	triageSvc := triage.NewService(sessionRepo, engine, policy, base, triage.Config{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		MaxQuestions:        cfg.MaxQuestions,
		IdleTimeout:         cfg.SessionIdleTimeout,
	}, logger).WithEventRecorder(metrics.SessionEvent)

	feedbackRepo := feedback.NewRepoPG(pool)
	runRepo := feedback.NewTrainingRunRepoPG(pool)
	feedbackSvc := feedback.NewService(feedbackRepo, triageSvc, base, logger)
	scheduler := feedback.NewScheduler(
		feedbackRepo, runRepo, triageSvc,
		ml.NewTrainer(encoder, logger), registry, base,
		feedback.SchedulerConfig{
			SyntheticSamples: cfg.SyntheticSamples,
			MinTrainingCases: cfg.MinTrainingCases,
		},
		logger,
	).WithEventRecorder(metrics.RetrainingRun)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(metrics.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.JWTSecret),
		}))
	}

	e.Use(middleware.Audit(logger))

	// API group with rate limiting
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	triage.NewHandler(triageSvc).RegisterRoutes(apiV1)
	feedback.NewHandler(feedbackSvc, scheduler, registry).RegisterRoutes(apiV1)

	// Infrastructure endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.PrometheusHandler())

	// Background workers. Retraining has no in-process loop: cycles run
	// only when triggered, through the admin endpoint or the retrain
	// subcommand under cron (weekly is the recommended cadence).
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go func() {
		ticker := time.NewTicker(idleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				if _, err := triageSvc.ExpireIdle(bgCtx); err != nil {
					logger.Error().Err(err).Msg("idle session sweep failed")
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				stat := pool.Stat()
				metrics.SetDBPoolStats(int64(stat.AcquiredConns()), int64(stat.IdleConns()))
				metrics.SetActiveModelVersion(registry.ActiveVersion())
			}
		}
	}()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
