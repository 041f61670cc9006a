package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Priya8975/block-reminders/internal/api"
	"github.com/Priya8975/block-reminders/internal/clock"
	"github.com/Priya8975/block-reminders/internal/config"
	"github.com/Priya8975/block-reminders/internal/engine"
	"github.com/Priya8975/block-reminders/internal/events"
	"github.com/Priya8975/block-reminders/internal/mailer"
	"github.com/Priya8975/block-reminders/internal/metrics"
	"github.com/Priya8975/block-reminders/internal/queue"
	"github.com/Priya8975/block-reminders/internal/store"
	ws "github.com/Priya8975/block-reminders/internal/websocket"
	"github.com/Priya8975/block-reminders/internal/worker"
	"github.com/Priya8975/block-reminders/migrations"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reminderStore, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	clk := clock.NewRealClock()
	q := queue.New(reminderStore, logger,
		queue.WithBatchLimit(cfg.Delivery.BatchLimit),
		queue.WithClock(clk),
	)

	sender, err := mailer.New(cfg.Email, logger)
	if err != nil {
		return fmt.Errorf("configuring email provider: %w", err)
	}
	logger.Info("email provider configured", "provider", cfg.Email.Provider)

	// The send guard is optional; without Redis sends go straight to the
	// provider.
	var circuit api.CircuitReporter
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		logger.Info("connected to Redis")

		breaker := engine.NewCircuitBreaker(redisStore.Client(), logger)
		limiter := engine.NewRateLimiter(redisStore.Client(), logger)
		guarded := engine.NewGuardedSender(sender, cfg.Email.Provider, breaker, limiter, cfg.Delivery.SendRatePerSecond, logger)
		sender = guarded
		circuit = guarded
	}

	collector := metrics.New(prometheus.DefaultRegisterer)

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	renderer := mailer.Renderer{Sender: cfg.Email.FromName}
	deliverer := worker.NewDeliverer(sender, renderer, cfg.Delivery.Timeout, logger)
	processor := worker.NewProcessor(q, deliverer, cfg.Delivery.Concurrency, logger, collector, hub)

	if cfg.Delivery.PollInterval > 0 {
		scheduler := worker.NewScheduler(processor, clk, cfg.Delivery.PollInterval, logger)
		go scheduler.Start(ctx)
	} else {
		logger.Info("in-process scheduler disabled, waiting for HTTP triggers")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		consumer := events.NewConsumer(cfg.Kafka, q, collector, logger)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("block event consumer stopped", "error", err)
			}
		}()
	}

	router := api.NewRouter(api.Deps{
		Queue:          q,
		Runner:         processor,
		Sender:         sender,
		Renderer:       renderer,
		Hub:            hub,
		Circuit:        circuit,
		Metrics:        collector,
		MetricsHandler: promhttp.Handler(),
		Clock:          clk,
		CronSecret:     cfg.CronSecret,
		SendTimeout:    cfg.Delivery.Timeout,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// openStore connects the configured reminder store and returns a func that
// releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (queue.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		mongoStore, err := store.NewMongo(ctx, cfg.Mongo.URL, cfg.Mongo.Database, cfg.Mongo.ConnectTimeout)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to MongoDB", "database", cfg.Mongo.Database)

		return mongoStore, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoStore.Close(closeCtx); err != nil {
				logger.Error("failed to close mongo client", "error", err)
			}
		}, nil

	default:
		pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to PostgreSQL")

		// MIGRATIONS_DIR overrides the schema built into the binary.
		var schema fs.FS = migrations.FS
		if cfg.MigrationsDir != "" {
			schema = os.DirFS(cfg.MigrationsDir)
		}
		if err := pgStore.RunMigrations(ctx, schema); err != nil {
			pgStore.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("database migrations applied")

		return pgStore, pgStore.Close, nil
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
