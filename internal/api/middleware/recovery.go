package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// Recovery - middleware восстановления после паники в handlers
//
// Назначение:
// Перехватывает panic в HTTP handlers и предотвращает падение всего сервера.
// Логирует ошибку со stack trace и возвращает клиенту 500.
//
// Паника в проходе воркера сюда не доходит: executor изолирует ее
// на уровне обработки отдельного ордера.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Паника в HTTP handler",
						zap.Any("panic", err),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)

					errorBody(w, http.StatusInternalServerError, "INTERNAL_ERROR",
						"internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
