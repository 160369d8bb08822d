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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"todo-backend/internal/cache"
	"todo-backend/internal/config"
	"todo-backend/internal/handler"
	"todo-backend/internal/httpserver"
	"todo-backend/internal/repository"
	"todo-backend/internal/service/task"
	"todo-backend/pkg/circuitbreaker"
	pkgconfig "todo-backend/pkg/config"
	"todo-backend/pkg/db"
	"todo-backend/pkg/logger"
	"todo-backend/pkg/mq"
	"todo-backend/pkg/otel"
	"todo-backend/pkg/outbox"
	redisclient "todo-backend/pkg/redis"
)

func main() {
	configDir := flag.String("config", "config", "directory containing base.yaml and <env>.yaml")
	flag.Parse()

	env := pkgconfig.GetConfigEnv()
	cfg, err := config.Load(env, *configDir)
	if err != nil {
		// logger 依赖配置中的级别，这里只能用默认 logger
		logger.NewLogger("").Fatal("Failed to load config", zap.String("env", env), zap.Error(err))
	}

	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	log.Info("Starting todo-backend...",
		zap.String("env", env),
		zap.String("port", cfg.Server.Port),
		zap.String("base_path", cfg.Server.BasePath),
		zap.String("db_host", cfg.DB.Host),
	)

	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := otel.Init(cfg.Otel, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownTracing()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("Invalid timezone", zap.Error(err))
	}

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx, dbConn, repository.Migrations(), log); err != nil {
		migrateCancel()
		log.Fatal("Failed to apply migrations", zap.Error(err))
	}
	migrateCancel()

	// Redis
	rdb := redisclient.NewRedisClient(cfg.Redis, log)
	defer rdb.Close()

	outboxRepo := outbox.NewRepository(dbConn)
	taskRepo := repository.NewTaskRepository(dbConn, outboxRepo, log)
	summaryCache := cache.NewSummaryCache(rdb, cfg.Cache.SummaryTTL, circuitbreaker.New(circuitbreaker.DefaultConfig()), log)
	taskService := task.NewService(taskRepo, summaryCache, log)

	taskHandler := handler.NewTaskHandler(taskService, task.NewSerializer(loc), handler.PageConfig{
		DefaultSize: cfg.Pagination.DefaultPageSize,
		MaxSize:     cfg.Pagination.MaxPageSize,
	}, log)

	// MQ 只用于 outbox 重放；未配置令牌或 MQ 不可用时不注册 /admin
	var adminHandler *handler.AdminHandler
	if cfg.Admin.Token != "" {
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Warn("MQ publisher unavailable, outbox admin routes disabled", zap.Error(err))
		} else {
			defer publisher.Close()
			adminHandler = handler.NewAdminHandler(outbox.NewReplayService(outboxRepo, publisher, log), log)
		}
	}

	router := httpserver.NewRouter(httpserver.Options{
		Tasks:       taskHandler,
		Admin:       adminHandler,
		AdminToken:  cfg.Admin.Token,
		BasePath:    cfg.Server.BasePath,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      log,
		Checks: []httpserver.ReadinessCheck{
			{Name: "db", Check: dbConn.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return redisclient.Ping(ctx, rdb) }},
		},
	})

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down todo-backend gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("todo-backend shutdown complete")
}
