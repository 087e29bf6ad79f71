package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"member_comms/internal/config"
	"member_comms/internal/handler"
	"member_comms/internal/middleware"
	"member_comms/internal/repository"
	"member_comms/internal/service"
	"member_comms/internal/transport"
	"member_comms/pkg/logger"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.New(cfg.Log.Level)
	defer appLogger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisOpts := &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	var checks []handler.HealthCheck

	// Подключение к Redis (нужен только для redis-транспорта)
	var rdb *redis.Client
	if cfg.Transport.Driver == config.DriverRedis {
		rdb = redis.NewClient(redisOpts)
		defer rdb.Close()

		// Проверка подключения к Redis
		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Fatal("Failed to connect to Redis", "error", err)
		}
		appLogger.Info("Redis connection established")
		checks = append(checks, handler.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	// Инициализация репозиториев
	var repos *repository.Repositories
	switch cfg.Store.Driver {
	case config.DriverMemory:
		repos = repository.NewMemoryRepositories(appLogger)
	default:
		// Подключение к PostgreSQL
		dbPool, err := openPostgres(ctx, cfg.Database)
		if err != nil {
			appLogger.Fatal("Failed to connect to database", "error", err)
		}
		defer dbPool.Close()
		appLogger.Info("Database connection established")

		// Применение схемы
		if err := repository.Migrate(ctx, dbPool); err != nil {
			appLogger.Fatal("Failed to migrate database", "error", err)
		}
		repos = repository.NewRepositories(dbPool, rdb, appLogger)
		checks = append(checks, handler.HealthCheck{Name: "postgres", Check: dbPool.Ping})
	}

	// Инициализация транспорта
	var connect transport.Connector
	switch cfg.Transport.Driver {
	case config.DriverMemory:
		hub := transport.NewMemoryTransport(cfg.Transport.Buffer)
		defer hub.Close()
		connect = transport.Shared(hub)
	default:
		connect = transport.RedisConnector(redisOpts, appLogger)
	}
	manager := transport.NewManager(connect, appLogger)

	// The server publishes for its whole lifetime, so it holds one reference.
	release, err := manager.Acquire(ctx)
	if err != nil {
		appLogger.Fatal("Failed to connect transport", "error", err, "driver", cfg.Transport.Driver)
	}
	defer release()

	// Инициализация сервисов
	services := service.NewServices(repos, manager, cfg, appLogger)
	go services.Typing.Run(ctx)

	// Инициализация middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.AccessSecret, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, cfg.Server.RateLimit, cfg.Server.RateWindow, appLogger)

	// Инициализация handlers
	handlers := handler.NewHandlers(services, manager, cfg, appLogger, checks...)

	// Настройка роутера
	router := handler.SetupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	// Запуск HTTP сервера
	// WriteTimeout stays unset: websocket streams are long-lived and set
	// their own write deadlines.
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr, "store", cfg.Store.Driver, "transport", cfg.Transport.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Ожидание сигнала для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited", "transport_connects", manager.State().Connects)
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid DSN: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}
	poolCfg.MaxConnIdleTime = cfg.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
