package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"todo-backend/internal/config"
	"todo-backend/internal/repository"
	pkgconfig "todo-backend/pkg/config"
	"todo-backend/pkg/db"
	"todo-backend/pkg/logger"
	"todo-backend/pkg/mq"
	"todo-backend/pkg/otel"
	"todo-backend/pkg/outbox"
)

// worker 把 outbox 中的任务事件发布到 RabbitMQ
func main() {
	configDir := flag.String("config", "config", "directory containing base.yaml and <env>.yaml")
	flag.Parse()

	env := pkgconfig.GetConfigEnv()
	cfg, err := config.Load(env, *configDir)
	if err != nil {
		logger.NewLogger("").Fatal("Failed to load config", zap.String("env", env), zap.Error(err))
	}

	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	log.Info("Starting outbox worker...",
		zap.String("env", env),
		zap.String("db_host", cfg.DB.Host),
		zap.Duration("interval", cfg.Outbox.Interval),
		zap.Int("batch_size", cfg.Outbox.BatchSize),
	)

	cfg.Otel.ServiceName += "-worker"
	shutdownTracing, err := otel.Init(cfg.Otel, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownTracing()

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 与 server 谁先启动都可以
	if err := db.Migrate(ctx, dbConn, repository.Migrations(), log); err != nil {
		log.Fatal("Failed to apply migrations", zap.Error(err))
	}

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	dispatcher := outbox.NewDispatcher(outbox.NewRepository(dbConn), publisher, log).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries)

	log.Info("Outbox dispatcher running")
	dispatcher.Start(ctx)

	log.Info("Outbox worker shutdown complete")
}
