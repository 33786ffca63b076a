package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"brokerage/internal/models"
	"brokerage/internal/worker"
)

// PassTrigger запускает один проход воркера исполнения
type PassTrigger interface {
	ProcessPendingOrdersWith(opts worker.PassOptions) (*worker.PassResult, error)
}

// RunWorkerRequest - опциональные переопределения параметров прохода.
// Пустое тело запроса означает значения из конфигурации воркера.
type RunWorkerRequest struct {
	Limit    *int   `json:"limit,omitempty"`
	MaxAgeMs *int64 `json:"max_age_ms,omitempty"`
}

// HeartbeatBroadcaster рассылает сводку прохода подписчикам дашборда
type HeartbeatBroadcaster interface {
	BroadcastHeartbeat(hb *models.WorkerHeartbeat)
}

// WorkerHandler отвечает за внешний триггер воркера исполнения
//
// Endpoints:
// - POST /api/v1/worker/run - запустить один проход воркера
//
// Назначение:
// Точка входа внешнего планировщика (cron). Один вызов - один проход:
// забор PENDING ордеров, исполнение, риск-проход, heartbeat.
// Повторный вызов во время активного прохода безопасен и возвращает 409.
type WorkerHandler struct {
	trigger     PassTrigger
	broadcaster HeartbeatBroadcaster
	logger      *zap.Logger
}

// NewWorkerHandler создает новый WorkerHandler с внедрением зависимостей
//
// broadcaster может быть nil - тогда сводка не уходит в WebSocket поток.
func NewWorkerHandler(trigger PassTrigger, broadcaster HeartbeatBroadcaster, logger *zap.Logger) *WorkerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerHandler{
		trigger:     trigger,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// RunWorker запускает один проход воркера исполнения
//
// POST /api/v1/worker/run
// Body (опционально): {"limit": 50, "max_age_ms": 0}
//
// Вызов идемпотентен: ордер, уже переведенный из PENDING другим проходом,
// будет засчитан как skipped, а не исполнен повторно.
//
// HTTP коды:
// - 200 OK: проход завершен, возвращается сводка прохода
// - 400 Bad Request: невалидное тело запроса
// - 409 Conflict: проход уже выполняется в этом процессе
// - 500 Internal Server Error: не удалось прочитать очередь ордеров
func (h *WorkerHandler) RunWorker(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.parsePassOptions(w, r)
	if !ok {
		return
	}

	result, err := h.trigger.ProcessPendingOrdersWith(opts)
	if err != nil {
		if errors.Is(err, worker.ErrPassInProgress) {
			respondWithError(w, http.StatusConflict, CodePassInProgress,
				"worker pass is already running")
			return
		}

		h.logger.Error("Проход воркера завершился ошибкой", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, CodeInternalError,
			"worker pass failed: "+err.Error())
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.BroadcastHeartbeat(&models.WorkerHeartbeat{
			LastRunAt: result.StartedAt,
			Scanned:   result.Scanned,
			Updated:   result.Updated,
			Skipped:   result.Skipped,
			Errors:    result.Errors,
			ElapsedMs: result.ElapsedMs,
		})
	}

	respondWithJSON(w, http.StatusOK, result)
}

// parsePassOptions читает опциональные переопределения из тела запроса.
// Отсутствующее тело - штатный вызов планировщика с дефолтами.
func (h *WorkerHandler) parsePassOptions(w http.ResponseWriter, r *http.Request) (worker.PassOptions, bool) {
	var opts worker.PassOptions

	var req RunWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return opts, true
		}
		respondWithError(w, http.StatusBadRequest, CodeValidationError,
			"invalid request body: "+err.Error())
		return opts, false
	}

	if req.Limit != nil {
		if *req.Limit <= 0 {
			respondWithError(w, http.StatusBadRequest, CodeValidationError,
				"limit must be positive")
			return opts, false
		}
		opts.Limit = req.Limit
	}
	if req.MaxAgeMs != nil {
		if *req.MaxAgeMs < 0 {
			respondWithError(w, http.StatusBadRequest, CodeValidationError,
				"max_age_ms cannot be negative")
			return opts, false
		}
		age := time.Duration(*req.MaxAgeMs) * time.Millisecond
		opts.MinOrderAge = &age
	}

	return opts, true
}
