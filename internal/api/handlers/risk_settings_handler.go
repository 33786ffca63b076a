package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"brokerage/internal/service"
)

// RiskSettingsHandler отвечает за управление риск-порогами
//
// Endpoints:
// - GET /api/v1/settings/risk - текущие разрешенные пороги и их источник
// - PATCH /api/v1/settings/risk - обновить пороги (пишутся в system_settings)
// - DELETE /api/v1/settings/risk - сбросить пороги до env/default слоя
//
// Назначение:
// Админская поверхность над резолвером порогов. Запись проходит через
// system_settings (высший приоритет) и немедленно инвалидирует кэш,
// поэтому следующий проход воркера видит новые значения.
type RiskSettingsHandler struct {
	thresholds service.ThresholdsServiceInterface
}

// NewRiskSettingsHandler создает новый RiskSettingsHandler с внедрением зависимости
func NewRiskSettingsHandler(thresholds service.ThresholdsServiceInterface) *RiskSettingsHandler {
	return &RiskSettingsHandler{thresholds: thresholds}
}

// GetRiskSettings возвращает текущие риск-пороги
//
// GET /api/v1/settings/risk
//
// Ответ содержит нормализованные доли (0, 1] и источник разрешения
// (system_settings, env или default).
//
// HTTP коды:
// - 200 OK: успешно
// - 500 Internal Server Error: ошибка чтения настроек
func (h *RiskSettingsHandler) GetRiskSettings(w http.ResponseWriter, r *http.Request) {
	thresholds, err := h.thresholds.Resolve()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternalError,
			"failed to resolve risk thresholds: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, thresholds)
}

// UpdateRiskSettings обновляет риск-пороги
//
// PATCH /api/v1/settings/risk
//
// Body (оба поля опциональны, но хотя бы одно обязательно):
//
//	{"warning_threshold": 0.85, "auto_close_threshold": 95}
//
// Принимаются доли (0, 1] и проценты (1, 100]. Значение вне диапазона
// отклоняется целиком - прежняя конфигурация остается в силе.
//
// HTTP коды:
// - 200 OK: возвращает свежеразрешенные пороги (с учетом clamp-правила)
// - 400 Bad Request: невалидный body или значение вне (0, 100]
// - 500 Internal Server Error: ошибка записи настроек
func (h *RiskSettingsHandler) UpdateRiskSettings(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateThresholdsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError,
			"invalid request body: "+err.Error())
		return
	}

	if req.WarningThreshold == nil && req.AutoCloseThreshold == nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError,
			"at least one of warning_threshold, auto_close_threshold is required")
		return
	}

	thresholds, err := h.thresholds.UpdateThresholds(&req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidThreshold) {
			respondWithError(w, http.StatusBadRequest, CodeValidationError,
				"threshold must be a fraction in (0, 1] or a percent in (1, 100]")
			return
		}
		respondWithError(w, http.StatusInternalServerError, CodeInternalError,
			"failed to update risk thresholds: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, thresholds)
}

// ResetRiskSettings сбрасывает риск-пороги
//
// DELETE /api/v1/settings/risk
//
// Удаляет слой system_settings; резолвер возвращается к env-слою
// или дефолтам 0.80/0.90.
//
// HTTP коды:
// - 200 OK: возвращает пороги после сброса
// - 500 Internal Server Error: ошибка удаления настроек
func (h *RiskSettingsHandler) ResetRiskSettings(w http.ResponseWriter, r *http.Request) {
	if err := h.thresholds.ResetThresholds(); err != nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternalError,
			"failed to reset risk thresholds: "+err.Error())
		return
	}

	thresholds, err := h.thresholds.Resolve()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternalError,
			"failed to resolve risk thresholds: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, thresholds)
}
