package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wallabag_syncer/internal/config"
	"wallabag_syncer/internal/metrics"
	"wallabag_syncer/internal/publisher"
	"wallabag_syncer/internal/scheduler"
	"wallabag_syncer/internal/service"
	"wallabag_syncer/internal/source/wallabag"
	"wallabag_syncer/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single sync pass and exit")
	addURL := flag.String("add", "", "save a URL on the server and store the entry")
	deleteID := flag.Int64("delete", 0, "delete an entry")
	localOnly := flag.Bool("local-only", false, "with -delete, keep the entry on the server")
	archiveID := flag.Int64("archive", 0, "mark an entry as archived")
	starID := flag.Int64("star", 0, "mark an entry as starred")
	unset := flag.Bool("unset", false, "with -archive or -star, clear the flag instead")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	client := wallabag.New(wallabag.Config{
		BaseURL:        cfg.API.BaseURL,
		ClientID:       cfg.API.ClientID,
		ClientSecret:   cfg.API.ClientSecret,
		Username:       cfg.API.Username,
		Password:       cfg.API.Password,
		PerPage:        cfg.API.PerPage,
		Timeout:        cfg.API.Timeout,
		MaxAttempts:    cfg.API.Retry.MaxAttempts,
		InitialBackoff: cfg.API.Retry.InitialBackoff,
		MaxBackoff:     cfg.API.Retry.MaxBackoff,
	}, logger)

	syncService := service.NewSyncService(
		client,
		postgres.NewEntryStore(db),
		postgres.NewTagStore(db),
		postgres.NewSyncStateStore(db),
		postgres.NewTransactionManager(db),
		pub,
		metrics.NewSync(prometheus.DefaultRegisterer),
		logger,
		cfg.Sync,
	)
	defer syncService.Wait()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = runCommand(ctx, syncService, command{
		addURL:    *addURL,
		deleteID:  *deleteID,
		localOnly: *localOnly,
		archiveID: *archiveID,
		starID:    *starID,
		unset:     *unset,
	}, logger)
	switch {
	case err == nil:
		return
	case !errors.Is(err, errNoCommand):
		logger.Error("command failed", "error", err)
		syncService.Wait()
		os.Exit(1)
	}

	sched := scheduler.NewScheduler(syncService, cfg.Sync.Interval, cfg.Sync.Timeout, logger)

	if *once {
		if _, err := sched.RunOnce(ctx); err != nil {
			syncService.Wait()
			os.Exit(1)
		}
		return
	}

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("starting wallabag syncer",
		"source", client.Name(),
		"interval", cfg.Sync.Interval,
		"workers", cfg.Sync.Workers,
	)

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
	logger.Info("received shutdown signal")
}

var errNoCommand = errors.New("no command")

type command struct {
	addURL    string
	deleteID  int64
	localOnly bool
	archiveID int64
	starID    int64
	unset     bool
}

func runCommand(ctx context.Context, svc *service.SyncService, cmd command, logger *slog.Logger) error {
	switch {
	case cmd.addURL != "":
		entry, err := svc.Add(ctx, cmd.addURL)
		if err != nil {
			return err
		}
		logger.Info("entry saved", "entry_id", entry.ID, "title", entry.Title)
		return nil
	case cmd.deleteID != 0:
		return svc.Delete(ctx, cmd.deleteID, !cmd.localOnly)
	case cmd.archiveID != 0:
		return svc.SetArchived(ctx, cmd.archiveID, !cmd.unset)
	case cmd.starID != 0:
		return svc.SetStarred(ctx, cmd.starID, !cmd.unset)
	default:
		return errNoCommand
	}
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return srv
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
