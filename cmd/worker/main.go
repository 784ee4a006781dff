// Package main - точка входа для фоновых процессов (Worker) Shiva Voice Hub.
//
// Worker отвечает за периодические задачи:
// - Пересборка кеша лидерборда из PostgreSQL в Redis
//
// Бот может работать и без Worker: кеш тогда наполняется только по факту
// начислений, а промахи уходят напрямую в базу. Worker держит кеш тёплым.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/shiva-hub/shiva-voice-hub/config"
	"github.com/shiva-hub/shiva-voice-hub/internal/infrastructure/persistence/postgres"
	"github.com/shiva-hub/shiva-voice-hub/internal/infrastructure/persistence/redis"
	"github.com/shiva-hub/shiva-voice-hub/internal/infrastructure/scheduler"
	"github.com/shiva-hub/shiva-voice-hub/internal/infrastructure/scheduler/jobs"
	"github.com/shiva-hub/shiva-voice-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Создаём корневой контекст с возможностью отмены
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Запускаем приложение
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.Setup(logger.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	log.Info("starting Shiva Voice Hub Worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, nothing to do")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	var dbConn *postgres.Connection
	if cfg.Database.URL != "" {
		dbConn, err = postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	} else {
		dbCfg := postgres.DefaultConfig()
		dbCfg.Host = cfg.Database.Host
		dbCfg.Port = cfg.Database.Port
		dbCfg.Database = cfg.Database.Name
		dbCfg.User = cfg.Database.User
		dbCfg.Password = cfg.Database.Password
		dbCfg.SSLMode = cfg.Database.SSLMode
		dbConn, err = postgres.NewConnection(ctx, dbCfg)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК МИГРАЦИЙ (Worker также должен иметь актуальную схему)
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Database.AutoMigrate {
		log.Info("checking database migrations...")
		migrator := postgres.NewMigrator(dbConn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ПОДКЛЮЧЕНИЕ К REDIS
	// ─────────────────────────────────────────────────────────────────────────
	// Worker без Redis бессмыслен: его единственная задача - греть кеш
	if cfg.Redis.Disabled {
		return fmt.Errorf("worker requires Redis, set REDIS_DISABLED=false")
	}

	log.Info("connecting to Redis...")
	var redisCache *redis.Cache
	if cfg.Redis.URL != "" {
		redisCache, err = redis.NewCacheFromURL(cfg.Redis.URL)
	} else {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCache, err = redis.NewCache(redisCfg)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisCache.Close()
	leaderboardCache := redis.NewLeaderboardCache(redisCache)
	log.Info("Redis connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ИНИЦИАЛИЗАЦИЯ РЕПОЗИТОРИЕВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	userLevelRepo := postgres.NewUserLevelRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ПЛАНИРОВЩИК И РЕГИСТРАЦИЯ ЗАДАЧ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing scheduler...")
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:        log,
		Timezone:      cfg.App.Location,
		EnableMetrics: cfg.Observability.MetricsEnabled,
	})

	rebuildConfig := jobs.DefaultRebuildLeaderboardConfig()
	rebuildConfig.TopN = cfg.Leveling.LeaderboardTopN
	rebuildConfig.Timeout = cfg.Scheduler.JobTimeout
	rebuildJob := jobs.NewRebuildLeaderboardJob(userLevelRepo, leaderboardCache, log, rebuildConfig)

	if err := sched.Register(rebuildJob, scheduler.NewIntervalSchedule(cfg.Scheduler.RebuildLeaderboardInterval)); err != nil {
		return fmt.Errorf("failed to register rebuild job: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ЗАПУСК
	// ─────────────────────────────────────────────────────────────────────────
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// Первый прогон сразу: после деплоя кеш не должен ждать целый интервал
	if _, err := sched.RunNow(ctx, rebuildJob.Name()); err != nil {
		log.Warn("initial leaderboard rebuild failed", "error", err)
	}

	log.Info("Shiva Voice Hub Worker is running",
		"rebuild_interval", cfg.Scheduler.RebuildLeaderboardInterval.String(),
		"top_n", cfg.Leveling.LeaderboardTopN,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	if err := sched.Stop(); err != nil {
		log.Error("failed to stop scheduler", "error", err)
	}

	log.Info("shutdown completed successfully")
	return nil
}
