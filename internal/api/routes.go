package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"brokerage/internal/api/handlers"
	"brokerage/internal/api/middleware"
	"brokerage/internal/service"
	"brokerage/internal/websocket"
	"brokerage/pkg/ratelimit"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	// Триггер прохода воркера (обычно *worker.Executor)
	Trigger handlers.PassTrigger

	// Резолвер риск-порогов
	Thresholds service.ThresholdsServiceInterface

	// Чтение heartbeat воркера для health-эндпоинта
	Heartbeats service.HeartbeatRepositoryInterface

	// Подключение к БД (обычно *sql.DB)
	DB handlers.DBPinger

	// Фид котировок (обычно *marketdata.FeedClient)
	Feed handlers.FeedHealthSource

	// WebSocket hub потока дашборда; nil отключает /ws/stream
	Hub *websocket.Hub

	// bcrypt-хеш bearer-токена планировщика (WORKER_TOKEN_HASH)
	WorkerTokenHash string

	// Ограничитель частоты триггера воркера; nil отключает лимит
	TriggerLimiter *ratelimit.RateLimiter

	Logger *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /worker/
//	│   └── POST /run - запустить один проход воркера (bearer auth + rate limit)
//	├── /settings/
//	│   ├── GET /risk - текущие риск-пороги и их источник
//	│   ├── PATCH /risk - обновить риск-пороги
//	│   └── DELETE /risk - сбросить риск-пороги
//	└── GET /health - состояние БД, фида и heartbeat воркера
//
// /metrics - Prometheus метрики
// /ws/stream - WebSocket поток heartbeat и событий риска
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. WorkerAuth + RateLimit (только для триггера воркера)
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Триггер воркера: отдельный subrouter с auth и rate limit
	if deps.Trigger != nil {
		// Типизированный nil *Hub не должен попасть в интерфейс broadcaster
		var broadcaster handlers.HeartbeatBroadcaster
		if deps.Hub != nil {
			broadcaster = deps.Hub
		}
		workerHandler := handlers.NewWorkerHandler(deps.Trigger, broadcaster, logger)

		workerRoutes := api.PathPrefix("/worker").Subrouter()
		workerRoutes.Use(middleware.WorkerAuth(deps.WorkerTokenHash, logger))
		if deps.TriggerLimiter != nil {
			workerRoutes.Use(middleware.RateLimit(deps.TriggerLimiter))
		}
		workerRoutes.HandleFunc("/run", workerHandler.RunWorker).Methods("POST")
	}

	// Риск-пороги
	if deps.Thresholds != nil {
		riskHandler := handlers.NewRiskSettingsHandler(deps.Thresholds)
		api.HandleFunc("/settings/risk", riskHandler.GetRiskSettings).Methods("GET")
		api.HandleFunc("/settings/risk", riskHandler.UpdateRiskSettings).Methods("PATCH")
		api.HandleFunc("/settings/risk", riskHandler.ResetRiskSettings).Methods("DELETE")
	}

	// Health check
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Feed, deps.Heartbeats, logger)
	api.HandleFunc("/health", healthHandler.GetHealth).Methods("GET")

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// WebSocket поток дашборда
	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, w, r)
		})
	}

	return router
}
