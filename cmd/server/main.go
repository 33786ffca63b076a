package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"brokerage/internal/api"
	"brokerage/internal/config"
	"brokerage/internal/marketdata"
	"brokerage/internal/repository"
	"brokerage/internal/service"
	"brokerage/internal/websocket"
	"brokerage/internal/worker"
	"brokerage/pkg/ratelimit"
	"brokerage/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Инициализация логгера
	logger := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logger.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("Не удалось подключиться к БД", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Подключение к БД установлено",
		zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Инициализация репозиториев
	accountRepo := repository.NewAccountRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	heartbeatRepo := repository.NewHeartbeatRepository(db)

	// Инициализация сервисов
	fundsService := service.NewFundsService(accountRepo)
	thresholdsService := service.NewThresholdsService(
		settingsRepo,
		cfg.Risk.WarningThreshold,
		cfg.Risk.AutoCloseThreshold,
		cfg.Risk.ThresholdsCacheTTL,
	)

	// Кэш котировок и клиент фида
	quoteCache := marketdata.NewQuoteCache()
	feedClient := marketdata.NewFeedClient(cfg.MarketData, quoteCache, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := feedClient.Connect(ctx); err != nil {
		// Фид не критичен для старта: без котировок ордера остаются
		// PENDING, reconnect-цикл продолжает попытки в фоне
		logger.Warn("Фид котировок недоступен при старте", zap.Error(err))
	}
	defer feedClient.Close()

	// WebSocket hub потока дашборда
	hub := websocket.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	// Воркер исполнения
	executor := worker.NewExecutor(
		orderRepo,
		positionRepo,
		fundsService,
		thresholdsService,
		heartbeatRepo,
		feedClient,
		hub,
		logger,
		cfg.Worker,
	)

	// Самопланирование включается только при WORKER_INTERVAL > 0,
	// иначе проходы запускает внешний планировщик через POST /worker/run
	runner := worker.NewRunner(executor, cfg.Worker.Interval, logger)
	go runner.Start(ctx)

	// Настройка зависимостей для API
	deps := &api.Dependencies{
		Trigger:         executor,
		Thresholds:      thresholdsService,
		Heartbeats:      heartbeatRepo,
		DB:              db,
		Feed:            feedClient,
		Hub:             hub,
		WorkerTokenHash: cfg.Security.WorkerTokenHash,
		TriggerLimiter:  ratelimit.NewRateLimiter(1, 2),
		Logger:          logger,
	}

	router := api.SetupRoutes(deps)

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("Запуск HTTP сервера", zap.String("addr", server.Addr))
		if cfg.Server.UseHTTPS {
			if err := server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Сервер остановился с ошибкой", zap.Error(err))
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("Сервер остановился с ошибкой", zap.Error(err))
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Остановка сервера...")

	// Останавливаем фоновые циклы и ждем завершения текущего прохода
	cancel()
	runner.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Принудительная остановка сервера", zap.Error(err))
	}

	logger.Info("Сервер остановлен")
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
