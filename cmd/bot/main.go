// Package main - точка входа для Discord-бота Shiva Voice Hub.
//
// Бот начисляет XP за время, проведённое в голосовых каналах: каждый
// завершённый голосовой сеанс конвертируется в опыт, уровень всегда
// пересчитывается из накопленного XP, а повышение уровня анонсируется
// в настроенный канал гильдии.
//
// Архитектура следует принципам Clean Architecture и DDD:
// - Domain: чистая бизнес-логика без внешних зависимостей
// - Application: оркестрация use cases (Commands/Queries/Event handlers)
// - Infrastructure: реализация репозиториев, Redis, Discord REST
// - Interface: Discord Gateway, HTTP endpoints
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/shiva-hub/shiva-voice-hub/config"

	// Application layer
	"github.com/shiva-hub/shiva-voice-hub/internal/application/command"
	"github.com/shiva-hub/shiva-voice-hub/internal/application/eventhandler"
	"github.com/shiva-hub/shiva-voice-hub/internal/application/query"

	// Infrastructure layer
	"github.com/shiva-hub/shiva-voice-hub/internal/infrastructure/external/discord"
	"github.com/shiva-hub/shiva-voice-hub/internal/infrastructure/messaging"
	"github.com/shiva-hub/shiva-voice-hub/internal/infrastructure/persistence/postgres"
	"github.com/shiva-hub/shiva-voice-hub/internal/infrastructure/persistence/redis"
	"github.com/shiva-hub/shiva-voice-hub/internal/infrastructure/scheduler"
	"github.com/shiva-hub/shiva-voice-hub/internal/infrastructure/scheduler/jobs"
	"github.com/shiva-hub/shiva-voice-hub/internal/infrastructure/tracker"

	// Interface layer
	"github.com/shiva-hub/shiva-voice-hub/internal/interface/gateway"
	httpserver "github.com/shiva-hub/shiva-voice-hub/internal/interface/http"

	// Packages
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
	// .env опционален: в production переменные приходят из окружения
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
	log.Info("starting Shiva Voice Hub Bot",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
	)

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
		dbCfg.MaxConns = int32(cfg.Database.MaxConns)
		dbCfg.MinConns = int32(cfg.Database.MinConns)
		dbCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		dbCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		dbCfg.ConnectTimeout = cfg.Database.ConnectTimeout
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
	// 4. ЗАПУСК МИГРАЦИЙ
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Database.AutoMigrate {
		log.Info("running database migrations...")
		migrator := postgres.NewMigrator(dbConn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		status, err := migrator.Status(ctx)
		if err != nil {
			log.Warn("failed to get migration status", "error", err)
		} else {
			appliedCount := 0
			for _, m := range status {
				if m.IsApplied {
					appliedCount++
				}
			}
			log.Info("migrations completed", "applied", appliedCount, "total", len(status))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	var leaderboardCache *redis.LeaderboardCache

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		if cfg.Redis.URL != "" {
			redisCache, err = redis.NewCacheFromURL(cfg.Redis.URL)
		} else {
			redisCfg := redis.DefaultConfig()
			redisCfg.Host = cfg.Redis.Host
			redisCfg.Port = cfg.Redis.Port
			redisCfg.Password = cfg.Redis.Password
			redisCfg.DB = cfg.Redis.DB
			redisCfg.PoolSize = cfg.Redis.PoolSize
			redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
			redisCfg.DialTimeout = cfg.Redis.DialTimeout
			redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
			redisCfg.WriteTimeout = cfg.Redis.WriteTimeout
			redisCache, err = redis.NewCache(redisCfg)
		}
		if err != nil {
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			leaderboardCache = redis.NewLeaderboardCache(redisCache)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ИНИЦИАЛИЗАЦИЯ РЕПОЗИТОРИЕВ И ТРЕКЕРА СЕССИЙ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	userLevelRepo := postgres.NewUserLevelRepository(dbConn)
	guildSettingsRepo := postgres.NewGuildSettingsRepository(dbConn)
	sessionTracker := tracker.NewMemoryTracker()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ИНИЦИАЛИЗАЦИЯ EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	eventBusConfig := messaging.DefaultInMemoryEventBusConfig()
	eventBusConfig.Logger = log
	eventBusConfig.AsyncMode = true
	eventBus := messaging.NewInMemoryEventBus(eventBusConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ИНИЦИАЛИЗАЦИЯ ВНЕШНИХ КЛИЕНТОВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing Discord REST client...")
	discordConfig := discord.DefaultClientConfig(cfg.Discord.Token)
	discordConfig.BaseURL = cfg.Discord.APIBaseURL
	discordConfig.Timeout = cfg.Discord.RequestTimeout
	discordConfig.Logger = log
	discordConfig.Debug = cfg.App.Debug
	discordClient := discord.NewClient(discordConfig)

	// Самопроверка REST-клиента: невалидный токен лучше увидеть в логах
	// сразу, а не дожидаться первого неотправленного объявления
	selfCheckCtx, selfCheckCancel := context.WithTimeout(ctx, cfg.Discord.RequestTimeout)
	botUserID, err := discordClient.GetCurrentUser(selfCheckCtx)
	selfCheckCancel()
	if err != nil {
		log.Warn("Discord REST self-check failed", "error", err)
	} else {
		log.Info("Discord REST client ready", "bot_user_id", botUserID)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ИНИЦИАЛИЗАЦИЯ APPLICATION LAYER (Commands, Queries)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application layer...")

	awardCmd := command.NewAwardSessionHandler(userLevelRepo, eventBus, command.AwardSessionHandlerConfig{
		MinDuration: cfg.Leveling.MinSessionDuration,
		Logger:      log,
	})
	presenceCmd := command.NewTrackPresenceHandler(sessionTracker, awardCmd, eventBus, command.TrackPresenceHandlerConfig{
		MaxDuration: cfg.Leveling.MaxSessionDuration,
		Logger:      log,
	})

	// nil-интерфейс вместо typed nil, иначе handler посчитает кеш живым
	var lbCache query.LeaderboardCache
	if leaderboardCache != nil && cfg.Features.IsEnabled(config.FeatureLeaderboardCache, nil) {
		lbCache = leaderboardCache
	}
	leaderboardQuery := query.NewGetLeaderboardHandler(userLevelRepo, lbCache, log)
	userLevelQuery := query.NewGetUserLevelHandler(userLevelRepo)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. РЕГИСТРАЦИЯ EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("registering event handlers...")

	// Fallback-резолвер системного канала через REST включается флагом;
	// гейт по пользователю проверяется на каждом событии level-up
	var channelResolver eventhandler.ChannelResolver
	if cfg.Features.IsEnabled(config.FeatureAnnounceSystemFallback, nil) {
		channelResolver = discordClient
	}
	levelUpHandler := eventhandler.NewOnLevelUpHandler(guildSettingsRepo, discordClient, eventhandler.OnLevelUpConfig{
		Channels: channelResolver,
		Gate: func(userID, guildID string) bool {
			return cfg.Features.AnnouncementsEnabled(&config.FeatureContext{
				UserID:  userID,
				GuildID: guildID,
			})
		},
		Logger: log,
	})
	if err := eventBus.Subscribe(levelUpHandler); err != nil {
		return fmt.Errorf("failed to subscribe level-up handler: %w", err)
	}

	if lbCache != nil {
		xpAwardedHandler := eventhandler.NewOnXPAwardedHandler(leaderboardCache, log)
		if err := eventBus.Subscribe(xpAwardedHandler); err != nil {
			return fmt.Errorf("failed to subscribe xp-awarded handler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. СОЗДАНИЕ DISCORD GATEWAY
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing Discord gateway...")
	guildState := gateway.NewGuildState()
	gw, err := gateway.New(gateway.Config{
		Token:            cfg.Discord.Token,
		URL:              cfg.Discord.GatewayURL,
		HandshakeTimeout: cfg.Discord.HandshakeTimeout,
		WriteTimeout:     cfg.Discord.WriteTimeout,
		InitialBackoff:   cfg.Discord.ReconnectInitialBackoff,
		MaxBackoff:       cfg.Discord.ReconnectMaxBackoff,
		Logger:           log,
	}, presenceCmd, guildSettingsRepo, guildState)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. СОЗДАНИЕ HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing HTTP server...")

	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	httpConfig.EnableCORS = cfg.HTTP.EnableCORS
	httpConfig.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpConfig.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute

	var cacheHealth httpserver.HealthChecker
	if redisCache != nil {
		cacheHealth = redisCache
	}
	httpServer := httpserver.NewServer(httpConfig, httpserver.Dependencies{
		GetLeaderboardHandler: leaderboardQuery,
		GetUserLevelHandler:   userLevelQuery,
		GuildSettings:         guildSettingsRepo,
		Database:              dbConn,
		Cache:                 cacheHealth,
		Logger:                log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 13. ПЛАНИРОВЩИК ФОНОВЫХ ЗАДАЧ
	// ─────────────────────────────────────────────────────────────────────────
	// Sweep живёт в процессе бота: трекер сессий in-memory и снаружи недоступен
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		log.Info("initializing scheduler...")
		sched = scheduler.NewScheduler(scheduler.SchedulerConfig{
			Logger:        log,
			Timezone:      cfg.App.Location,
			EnableMetrics: cfg.Observability.MetricsEnabled,
		})

		sweepJob := jobs.NewSweepSessionsJob(sessionTracker, cfg.Scheduler.SessionMaxAge, log)
		if err := sched.Register(sweepJob, scheduler.NewIntervalSchedule(cfg.Scheduler.SweepSessionsInterval)); err != nil {
			return fmt.Errorf("failed to register sweep job: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 14. ЗАПУСК СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting services...")

	gwCtx, gwCancel := context.WithCancel(ctx)
	defer gwCancel()

	// Канал для ошибок
	errCh := make(chan error, 2)

	if cfg.HTTP.Enabled {
		go func() {
			log.Info("starting HTTP server", "address", httpServer.Address())
			if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server error: %w", err)
			}
		}()
	}

	go func() {
		log.Info("connecting to Discord gateway...")
		if err := gw.Run(gwCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("gateway error: %w", err)
		}
	}()

	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 15. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("Shiva Voice Hub Bot is running",
		"http_address", httpServer.Address(),
		"http_enabled", cfg.HTTP.Enabled,
	)

	// Ожидаем сигнал завершения или ошибку
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Error("service error", "error", err)
		return err
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	// Начинаем graceful shutdown
	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error

	// 0. Останавливаем планировщик
	if sched != nil {
		log.Info("stopping scheduler...")
		if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			log.Error("failed to stop scheduler", "error", err)
		}
	}

	// 1. Отключаемся от gateway: открытые сессии останутся в трекере,
	// но повторный IDENTIFY после рестарта пересоберёт их из GUILD_CREATE
	log.Info("stopping Discord gateway...")
	gwCancel()

	// 2. Останавливаем HTTP сервер
	log.Info("stopping HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		shutdownErr = err
	}

	// 3. Event bus и база данных закроются через defer

	if shutdownErr != nil {
		log.Warn("shutdown completed with errors")
	} else {
		log.Info("shutdown completed successfully")
	}

	return nil
}
