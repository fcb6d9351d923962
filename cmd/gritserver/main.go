package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"grit-server/pkg/alerting"
	"grit-server/pkg/analytics"
	"grit-server/pkg/archive"
	"grit-server/pkg/auth"
	"grit-server/pkg/config"
	httpserver "grit-server/pkg/http"
	"grit-server/pkg/messaging"
	"grit-server/pkg/metrics"
	"grit-server/pkg/session"
)

var logger = logrus.New()

func main() {
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	configureLogging(cfg.Logging)

	metrics.Init(logger)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Durable state store and hot cache share one Redis deployment.
	store, err := session.NewRedisStateStore(cfg.Redis, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize Redis state store")
	}
	defer store.Close()
	cache := session.NewRedisScoreCache(store.GetClient(), cfg.Redis.CacheTTL, logger)

	// Analytical store and event bus are optional backends.
	var writer *analytics.Writer
	if cfg.Database.Enabled {
		mysqlStore, err := analytics.NewMySQLStore(cfg.Database, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to analytical store")
		}
		defer mysqlStore.Close()
		if err := mysqlStore.Migrate(); err != nil {
			logger.WithError(err).Fatal("Failed to migrate analytical store")
		}
		writer = analytics.NewWriter(mysqlStore, logger)
		defer writer.Close()
	} else {
		logger.Info("Analytical store disabled")
	}

	var publisher analytics.Publisher
	if cfg.Messaging.Enabled {
		amqpClient := messaging.NewAMQPClient(cfg.Messaging, logger)
		if err := amqpClient.Connect(); err != nil {
			logger.WithError(err).Warn("Event bus unavailable at startup, continuing without it")
		} else {
			publisher = amqpClient
			defer amqpClient.Disconnect()
		}
	} else {
		logger.Info("Event bus disabled")
	}

	var archiver session.Archiver
	if cfg.Archive.Enabled {
		s3Archiver, err := archive.NewS3Archiver(rootCtx, cfg.Archive, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize session archive")
		}
		archiver = s3Archiver
	} else {
		logger.Info("Session archive disabled")
	}

	hub := httpserver.NewScoreHub(logger)
	go hub.Run(rootCtx)

	deps := session.Deps{
		Store:       store,
		Cache:       cache,
		Analytics:   analytics.NewFanout(writer, publisher, logger),
		Archiver:    archiver,
		Broadcaster: hub,
	}
	opts := session.Options{
		PacketHistorySize: cfg.Fusion.PacketHistorySize,
		ScoreHistorySize:  cfg.Fusion.ScoreHistorySize,
		MaxSessionAge:     cfg.Fusion.MaxSessionAge,
		EmpiricalBaseline: cfg.Fusion.EmpiricalBaseline,
	}
	manager := session.NewManager(deps, opts, logger)

	restoreSessions(rootCtx, manager, store)

	verifier := auth.NewVerifier(cfg.Auth, logger)
	server := httpserver.NewServer(cfg.HTTP, manager, cache, hub, verifier, logger)
	server.AddReadinessCheck("redis", func(ctx context.Context) error {
		return store.GetClient().Ping(ctx).Err()
	})

	// Background alert evaluation, results are logged.
	evaluator := alerting.NewEvaluator(logger, nil)
	go evaluationLoop(rootCtx, evaluator)

	server.Start()
	logger.WithField("port", cfg.HTTP.Port).Info("Grit server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error shutting down HTTP server")
	}

	// Sessions are not ended on shutdown: snapshots stay in Redis and
	// are restored on the next start.
	manager.Shutdown()
	rootCancel()

	logger.Info("Shutdown complete")
}

func configureLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// restoreSessions reactivates sessions whose snapshots survived the
// previous process.
func restoreSessions(ctx context.Context, manager *session.Manager, store *session.RedisStateStore) {
	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ids, err := store.ListSessionIDs(loadCtx)
	if err != nil {
		logger.WithError(err).Warn("Could not list persisted sessions")
		return
	}

	restored := 0
	for _, id := range ids {
		snap, err := store.Load(loadCtx, id)
		if err != nil || snap == nil {
			logger.WithError(err).WithField("session_id", id).Warn("Skipping unreadable session snapshot")
			continue
		}
		if err := manager.RestoreSession(snap); err != nil {
			logger.WithError(err).WithField("session_id", id).Warn("Failed to restore session")
			continue
		}
		restored++
	}
	if restored > 0 {
		logger.WithField("count", restored).Info("Restored sessions from durable state")
	}
}

func evaluationLoop(ctx context.Context, evaluator *alerting.Evaluator) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := evaluator.Evaluate()
			for _, alert := range report.Alerts {
				logger.WithFields(logrus.Fields{
					"alert":    alert.Name,
					"severity": alert.Severity,
					"value":    alert.Value,
				}).Warn(alert.Message)
			}
		}
	}
}
