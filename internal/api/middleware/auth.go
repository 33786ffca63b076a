package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"brokerage/pkg/crypto"
	"brokerage/pkg/ratelimit"
)

// errorBody пишет JSON ошибку в формате handlers.ErrorResponse
func errorBody(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}

// WorkerAuth - middleware аутентификации триггера воркера
//
// Назначение:
// Защищает POST /api/v1/worker/run от неавторизованного запуска прохода.
// Внешний планировщик передает bearer-токен в заголовке Authorization;
// токен сверяется с bcrypt-хешем из WORKER_TOKEN_HASH.
//
// Безопасность:
// - bcrypt сравнивает в constant time - защита от timing attacks
// - Сам токен нигде не хранится, только хеш
// - Если хеш не сконфигурирован, endpoint недоступен (403)
func WorkerAuth(tokenHash string, logger *zap.Logger) mux.MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				errorBody(w, http.StatusForbidden, "UNAUTHORIZED",
					"worker trigger disabled: WORKER_TOKEN_HASH is not configured")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				errorBody(w, http.StatusUnauthorized, "UNAUTHORIZED",
					"missing Authorization header")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader || token == "" {
				errorBody(w, http.StatusUnauthorized, "UNAUTHORIZED",
					"Authorization header must be 'Bearer <token>'")
				return
			}

			if err := crypto.VerifyToken(token, tokenHash); err != nil {
				logger.Warn("Отклонен запрос с невалидным токеном воркера",
					zap.String("remote_addr", r.RemoteAddr))
				errorBody(w, http.StatusUnauthorized, "UNAUTHORIZED",
					"invalid worker token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit - middleware ограничения частоты запросов
//
// Используется на триггере воркера: планировщик может дергать endpoint
// сколь угодно часто, но запускать проход чаще лимита бессмысленно
// и вредно для БД. Сверх лимита - 429 Too Many Requests.
func RateLimit(limiter *ratelimit.RateLimiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow() {
				errorBody(w, http.StatusTooManyRequests, "RATE_LIMITED",
					"too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
