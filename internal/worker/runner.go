package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Runner самопланирует проходы воркера с фиксированным интервалом
//
// Это встроенная замена внешнему cron-триггеру: воркер остается
// stateless-проходом, запускаемым откуда угодно, а Runner лишь дергает
// его по тикеру. При interval <= 0 Runner не стартует - проходы тогда
// запускаются только внешним триггером через API.
type Runner struct {
	executor *Executor
	interval time.Duration
	logger   *zap.Logger
	done     chan struct{}
}

// NewRunner создает новый Runner
func NewRunner(executor *Executor, interval time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		executor: executor,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start запускает цикл проходов до отмены контекста.
// Блокирует вызывающую горутину; обычно запускается через go r.Start(ctx).
func (r *Runner) Start(ctx context.Context) {
	defer close(r.done)

	if r.interval <= 0 {
		r.logger.Info("самопланирование воркера выключено")
		return
	}

	r.logger.Info("воркер запущен", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("воркер остановлен")
			return
		case <-ticker.C:
			if _, err := r.executor.ProcessPendingOrders(); err != nil {
				// Проход, перекрывшийся с внешним триггером, не ошибка
				if errors.Is(err, ErrPassInProgress) {
					continue
				}
				r.logger.Error("проход воркера завершился ошибкой", zap.Error(err))
			}
		}
	}
}

// Wait блокируется до полной остановки цикла
func (r *Runner) Wait() {
	<-r.done
}
