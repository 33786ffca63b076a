package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"brokerage/internal/marketdata"
	"brokerage/internal/models"
	"brokerage/internal/repository"
	"brokerage/internal/service"
)

// DBPinger проверяет живость подключения к БД
type DBPinger interface {
	Ping() error
}

// FeedHealthSource отдает снимок здоровья фида котировок
type FeedHealthSource interface {
	GetHealth() marketdata.Health
}

// HealthHandler отвечает за health-эндпоинт сервиса
//
// Endpoints:
// - GET /api/v1/health - состояние БД, фида котировок и последний heartbeat воркера
//
// Назначение:
// Дает внешнему мониторингу все необходимое, чтобы решить, можно ли
// доверять server-side режиму риска: живость БД, соединение с фидом
// и свежесть последнего прохода воркера.
type HealthHandler struct {
	db         DBPinger
	feed       FeedHealthSource
	heartbeats service.HeartbeatRepositoryInterface
	logger     *zap.Logger
}

// NewHealthHandler создает новый HealthHandler с внедрением зависимостей
func NewHealthHandler(db DBPinger, feed FeedHealthSource, heartbeats service.HeartbeatRepositoryInterface, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		db:         db,
		feed:       feed,
		heartbeats: heartbeats,
		logger:     logger,
	}
}

// HealthResponse представляет ответ health-эндпоинта
type HealthResponse struct {
	Status     string                  `json:"status"` // ok | degraded
	Time       time.Time               `json:"time"`
	Database   string                  `json:"database"` // up | down
	MarketData *marketdata.Health      `json:"market_data,omitempty"`
	Worker     *models.WorkerHeartbeat `json:"worker,omitempty"`
}

// GetHealth возвращает состояние сервиса
//
// GET /api/v1/health
//
// Статус "degraded" означает, что БД недоступна или фид котировок
// не подключен; HTTP код при этом остается 200 - интерпретация
// на стороне мониторинга.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:   "ok",
		Time:     time.Now(),
		Database: "up",
	}

	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			h.logger.Warn("Health: БД недоступна", zap.Error(err))
			response.Database = "down"
			response.Status = "degraded"
		}
	}

	if h.feed != nil {
		health := h.feed.GetHealth()
		response.MarketData = &health
		if !health.IsConnected {
			response.Status = "degraded"
		}
	}

	if h.heartbeats != nil {
		hb, err := h.heartbeats.GetLatest()
		switch {
		case err == nil:
			response.Worker = hb
		case errors.Is(err, repository.ErrHeartbeatNotFound):
			// Воркер еще ни разу не запускался - поле worker отсутствует
		default:
			h.logger.Warn("Health: не удалось прочитать heartbeat", zap.Error(err))
		}
	}

	respondWithJSON(w, http.StatusOK, response)
}
