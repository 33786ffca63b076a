package worker

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"brokerage/internal/config"
	"brokerage/internal/models"
	"brokerage/internal/repository"
	"brokerage/internal/risk"
	"brokerage/internal/service"
)

// Ошибки воркера
var (
	ErrPassInProgress = errors.New("worker pass is already in progress")
)

// QuoteSource определяет источник котировок для воркера
type QuoteSource interface {
	GetQuote(token int64, maxAge time.Duration) *models.Quote
	EnsureSubscribed(tokens []int64)
	IsConnected() bool
}

// Notifier принимает сигналы для внешнего коллаборатора уведомлений.
// Реализация обязана не блокировать вызывающего.
type Notifier interface {
	Notify(n models.Notification)
}

// ThresholdsResolver отдает актуальные риск-пороги
type ThresholdsResolver interface {
	Resolve() (models.RiskThresholds, error)
}

// PassOptions переопределяет параметры одного прохода.
// nil-поля означают значения из конфигурации воркера.
type PassOptions struct {
	// Limit ограничивает размер пачки PENDING ордеров
	Limit *int

	// MinOrderAge переопределяет грейс-окно пути размещения;
	// нулевая длительность забирает все PENDING ордера сразу
	MinOrderAge *time.Duration
}

// PassResult итоги одного прохода воркера
type PassResult struct {
	StartedAt time.Time `json:"started_at"`
	Scanned   int       `json:"scanned"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	ElapsedMs int64     `json:"elapsed_ms"`
}

// Executor - воркер исполнения ордеров и применения риск-правил
//
// Stateless-проход: каждый вызов ProcessPendingOrders самодостаточен
// и безопасен при перекрытии с конкурентным проходом - корректность
// обеспечивают оптимистичный guard по статусу ордера и ключи
// идемпотентности ledger, а не сам воркер.
//
// Внутри одного процесса одновременно работает не более одного прохода
// (atomic guard); параллельный триггер получает ErrPassInProgress.
type Executor struct {
	orders     service.OrderRepositoryInterface
	positions  service.PositionRepositoryInterface
	funds      service.FundsServiceInterface
	thresholds ThresholdsResolver
	heartbeats service.HeartbeatRepositoryInterface
	quotes     QuoteSource
	notifier   Notifier
	logger     *zap.Logger
	cfg        config.WorkerConfig

	passRunning int32 // atomic
}

// NewExecutor создает новый воркер исполнения.
// notifier может быть nil - сигналы тогда не отправляются.
func NewExecutor(
	orders service.OrderRepositoryInterface,
	positions service.PositionRepositoryInterface,
	funds service.FundsServiceInterface,
	thresholds ThresholdsResolver,
	heartbeats service.HeartbeatRepositoryInterface,
	quotes QuoteSource,
	notifier Notifier,
	logger *zap.Logger,
	cfg config.WorkerConfig,
) *Executor {
	return &Executor{
		orders:     orders,
		positions:  positions,
		funds:      funds,
		thresholds: thresholds,
		heartbeats: heartbeats,
		quotes:     quotes,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
	}
}

// ProcessPendingOrders выполняет один полный проход воркера:
//
//  1. Забирает до BatchLimit ордеров в статусе PENDING (старые первыми),
//     пропуская ордера младше MinOrderAge (грейс-окно пути размещения).
//  2. Исполняет каждый ордер против кэша котировок; отсутствие свежей
//     котировки - не ошибка, ордер остается PENDING до следующего прохода.
//  3. Прогоняет риск-оценку по всем счетам с открытыми позициями:
//     Stop Loss / Target / принудительное закрытие по утилизации маржи.
//  4. Пишет heartbeat с итогами прохода независимо от ошибок.
//
// Ошибка одного ордера никогда не прерывает проход - она считается
// и проход продолжается. Единственная ошибка, возвращаемая наружу, -
// инфраструктурная (недоступность персистентности при заборе пачки).
func (e *Executor) ProcessPendingOrders() (*PassResult, error) {
	return e.ProcessPendingOrdersWith(PassOptions{})
}

// ProcessPendingOrdersWith выполняет проход с переопределенными
// параметрами пачки (ручной триггер с limit / max_age_ms в теле запроса)
func (e *Executor) ProcessPendingOrdersWith(opts PassOptions) (*PassResult, error) {
	if !atomic.CompareAndSwapInt32(&e.passRunning, 0, 1) {
		return nil, ErrPassInProgress
	}
	defer atomic.StoreInt32(&e.passRunning, 0)

	started := time.Now()
	result := &PassResult{StartedAt: started}

	if !e.quotes.IsConnected() {
		// Проход продолжается: кэш может еще держать свежие котировки
		e.logger.Warn("фид котировок отключен, возможны устаревшие цены")
	}

	limit := e.cfg.BatchLimit
	if opts.Limit != nil && *opts.Limit > 0 {
		limit = *opts.Limit
	}
	minOrderAge := e.cfg.MinOrderAge
	if opts.MinOrderAge != nil && *opts.MinOrderAge >= 0 {
		minOrderAge = *opts.MinOrderAge
	}

	pending, err := e.orders.GetPending(limit, started.Add(-minOrderAge))
	if err != nil {
		return nil, fmt.Errorf("забор PENDING ордеров: %w", err)
	}
	result.Scanned = len(pending)

	// Доподписываемся на инструменты пачки до исполнения:
	// на первом проходе котировок еще нет, но следующий их увидит
	e.quotes.EnsureSubscribed(orderTokens(pending))

	var executed, rejected int
	for _, order := range pending {
		outcome := e.processOrder(order)
		switch outcome {
		case outcomeExecuted:
			executed++
			result.Updated++
		case outcomeRejected:
			// Ордер переведен в REJECTED, но для счетчиков прохода
			// это ошибка исполнения, а не успешное обновление
			rejected++
			result.Errors++
		case outcomeSkipped:
			result.Skipped++
		case outcomeError:
			result.Errors++
		}
	}

	e.runRiskPass(result)

	result.ElapsedMs = time.Since(started).Milliseconds()
	RecordPass(float64(result.ElapsedMs), executed, result.Skipped, rejected, result.Errors-rejected)

	e.saveHeartbeat(result)

	e.logger.Info("проход воркера завершен",
		zap.Int("scanned", result.Scanned),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
		zap.Int64("elapsed_ms", result.ElapsedMs))

	return result, nil
}

type orderOutcome int

const (
	outcomeExecuted orderOutcome = iota
	outcomeRejected
	outcomeSkipped
	outcomeError
)

// processOrder исполняет один PENDING ордер.
// Паника внутри обработки изолируется в outcomeError.
func (e *Executor) processOrder(order *models.Order) (outcome orderOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("паника при обработке ордера",
				zap.Int64("order_id", order.ID), zap.Any("panic", r))
			outcome = outcomeError
		}
	}()

	quote := e.quotes.GetQuote(order.InstrumentToken, e.cfg.QuoteMaxAge)
	if quote == nil {
		// Устаревшая или отсутствующая котировка - ждем следующего прохода
		return outcomeSkipped
	}

	price := quote.LastTradePrice

	// LIMIT исполняется только при удовлетворении лимита
	if order.OrderType == models.OrderTypeLimit && order.LimitPrice != nil {
		if order.Side == models.OrderSideBuy && price > *order.LimitPrice {
			return outcomeSkipped
		}
		if order.Side == models.OrderSideSell && price < *order.LimitPrice {
			return outcomeSkipped
		}
	}

	return e.fillOrder(order, price)
}

// fillOrder применяет исполнение ордера по цене price.
//
// Порядок: сначала ledger, затем переход ордера в EXECUTED - ордер
// не может стать EXECUTED при неуспешном вызове ledger. Для флипа
// через ноль блокировка новой экспозиции идет до освобождения старой:
// при нехватке маржи ордер отклоняется без каких-либо изменений счета.
// Ключи идемпотентности детерминированы от id ордера, поэтому повтор
// после частичного сбоя не применяет деньги дважды.
func (e *Executor) fillOrder(order *models.Order, price float64) orderOutcome {
	delta := order.SignedQuantity()

	current := e.findOpenPosition(order.AccountID, order.InstrumentToken)

	// Закрывающий ордер риск-прохода может только уменьшать привязанную
	// позицию. Если она уже закрыта, перевернута или стала меньше ордера
	// (книга изменилась между синтезом и исполнением), ордер отменяется:
	// следующий риск-проход синтезирует новый нужного размера.
	if order.IsSynthesizedClose() && !closesCurrentPosition(order, current, delta) {
		return e.cancelStaleClose(order)
	}

	closedQty, openedQty := splitFill(current, delta)

	if openedQty > 0 {
		notional := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(openedQty))
		marginKey := fmt.Sprintf("order-margin:%d", order.ID)
		_, err := e.funds.BlockMargin(order.AccountID, notional,
			fmt.Sprintf("маржа под ордер #%d %s %s", order.ID, order.Side, order.Symbol), &marginKey)
		if err != nil {
			if errors.Is(err, repository.ErrInsufficientMargin) {
				return e.rejectOrder(order, "недостаточно маржи")
			}
			e.logger.Error("ошибка ledger при блокировке маржи",
				zap.Int64("order_id", order.ID), zap.Error(err))
			return outcomeError
		}
	}

	if closedQty > 0 && current != nil {
		released := decimal.NewFromFloat(current.AveragePrice).Mul(decimal.NewFromInt(closedQty))
		releaseKey := fmt.Sprintf("order-release:%d", order.ID)
		_, err := e.funds.ReleaseMargin(order.AccountID, released,
			fmt.Sprintf("освобождение маржи по ордеру #%d %s", order.ID, order.Symbol), &releaseKey)
		if err != nil {
			e.logger.Error("ошибка ledger при освобождении маржи",
				zap.Int64("order_id", order.ID), zap.Error(err))
			return outcomeError
		}
	}

	_, err := e.positions.ApplyFill(repository.FillParams{
		OrderID:         order.ID,
		AccountID:       order.AccountID,
		Symbol:          order.Symbol,
		InstrumentToken: order.InstrumentToken,
		QuantityDelta:   delta,
		Price:           price,
		FilledAt:        time.Now(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyProcessed) {
			// Конкурентный проход успел первым; деньги защищены ключами
			return outcomeSkipped
		}
		e.logger.Error("ошибка применения исполнения",
			zap.Int64("order_id", order.ID), zap.Error(err))
		return outcomeError
	}

	e.logger.Info("ордер исполнен",
		zap.Int64("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.Int64("quantity", order.Quantity),
		zap.Float64("price", price))

	return outcomeExecuted
}

// closesCurrentPosition проверяет, что закрывающий ордер все еще
// строго уменьшает открытую позицию
func closesCurrentPosition(order *models.Order, current *models.Position, delta int64) bool {
	if current == nil || current.Quantity == 0 {
		return false
	}
	if order.ClosesPositionID != nil && *order.ClosesPositionID != current.ID {
		return false
	}
	if sameSign(current.Quantity, delta) {
		return false
	}
	return absInt64(delta) <= absInt64(current.Quantity)
}

// cancelStaleClose отменяет закрывающий ордер, потерявший свою позицию
func (e *Executor) cancelStaleClose(order *models.Order) orderOutcome {
	if err := e.orders.MarkCancelled(order.ID); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyProcessed) {
			return outcomeSkipped
		}
		e.logger.Error("не удалось отменить устаревший закрывающий ордер",
			zap.Int64("order_id", order.ID), zap.Error(err))
		return outcomeError
	}

	e.logger.Info("устаревший закрывающий ордер отменен",
		zap.Int64("order_id", order.ID),
		zap.Int64p("position_id", order.ClosesPositionID))

	return outcomeSkipped
}

// rejectOrder переводит ордер в REJECTED и шлет сигнал о нехватке маржи
func (e *Executor) rejectOrder(order *models.Order, reason string) orderOutcome {
	if err := e.orders.MarkRejected(order.ID); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyProcessed) {
			return outcomeSkipped
		}
		e.logger.Error("не удалось отклонить ордер",
			zap.Int64("order_id", order.ID), zap.Error(err))
		return outcomeError
	}

	e.notify(models.Notification{
		Timestamp: time.Now(),
		Type:      models.NotificationTypeMargin,
		Severity:  models.SeverityWarn,
		AccountID: &order.AccountID,
		Message:   fmt.Sprintf("ордер #%d отклонен: %s", order.ID, reason),
		Meta:      map[string]interface{}{"order_id": order.ID, "symbol": order.Symbol},
	})

	e.logger.Warn("ордер отклонен",
		zap.Int64("order_id", order.ID), zap.String("reason", reason))

	return outcomeRejected
}

// splitFill делит дельту исполнения на закрывающую и открывающую части
// относительно текущей позиции
func splitFill(current *models.Position, delta int64) (closedQty, openedQty int64) {
	if current == nil || current.Quantity == 0 || sameSign(current.Quantity, delta) {
		return 0, absInt64(delta)
	}

	closedQty = absInt64(delta)
	if closedQty > absInt64(current.Quantity) {
		closedQty = absInt64(current.Quantity)
	}
	openedQty = absInt64(delta) - closedQty
	return closedQty, openedQty
}

func (e *Executor) findOpenPosition(accountID, instrumentToken int64) *models.Position {
	positions, err := e.positions.GetOpenByAccount(accountID)
	if err != nil {
		return nil
	}
	for _, pos := range positions {
		if pos.InstrumentToken == instrumentToken {
			return pos
		}
	}
	return nil
}

// runRiskPass прогоняет риск-оценку по всем счетам с открытыми позициями
func (e *Executor) runRiskPass(result *PassResult) {
	thresholds, err := e.thresholds.Resolve()
	if err != nil {
		// Резолвер сам падает на дефолты; сюда попадают только
		// неожиданные ошибки
		e.logger.Error("не удалось разрешить риск-пороги", zap.Error(err))
		result.Errors++
		return
	}

	accounts, err := e.positions.GetAccountsWithOpenPositions()
	if err != nil {
		e.logger.Error("не удалось получить счета с позициями", zap.Error(err))
		result.Errors++
		return
	}

	for _, accountID := range accounts {
		e.evaluateAccount(accountID, thresholds, result)
	}
}

// evaluateAccount применяет риск-правила к одному счету:
// сперва точечные Stop Loss / Target, затем агрегатная утилизация маржи
func (e *Executor) evaluateAccount(accountID int64, thresholds models.RiskThresholds, result *PassResult) {
	positions, err := e.positions.GetOpenByAccount(accountID)
	if err != nil {
		e.logger.Error("не удалось получить позиции счета",
			zap.Int64("account_id", accountID), zap.Error(err))
		result.Errors++
		return
	}
	if len(positions) == 0 {
		return
	}

	e.quotes.EnsureSubscribed(positionTokens(positions))

	account, err := e.funds.GetAccount(accountID)
	if err != nil {
		e.logger.Error("не удалось получить счет",
			zap.Int64("account_id", accountID), zap.Error(err))
		result.Errors++
		return
	}

	// Точечные правила: Stop Loss и Target
	closedHere := make(map[int64]bool)
	for _, pos := range positions {
		quote := e.quotes.GetQuote(pos.InstrumentToken, e.cfg.QuoteMaxAge)
		if quote == nil {
			continue
		}
		price := quote.LastTradePrice

		switch {
		case risk.IsStopLossHit(pos.Quantity, price, pos.StopLoss):
			StopLossTriggered.Inc()
			e.notifyPositionClose(pos, models.NotificationTypeStopLoss, price)
			if e.closePosition(pos, result) {
				closedHere[pos.ID] = true
			}
		case risk.IsTargetHit(pos.Quantity, price, pos.Target):
			TargetTriggered.Inc()
			e.notifyPositionClose(pos, models.NotificationTypeTarget, price)
			if e.closePosition(pos, result) {
				closedHere[pos.ID] = true
			}
		}
	}

	// Агрегатная утилизация маржи по оставшимся позициям
	var pqs []risk.PositionQuote
	for _, pos := range positions {
		if closedHere[pos.ID] {
			continue
		}
		var price float64
		if quote := e.quotes.GetQuote(pos.InstrumentToken, e.cfg.QuoteMaxAge); quote != nil {
			price = quote.LastTradePrice
		}
		pqs = append(pqs, risk.PositionQuote{Position: pos, Price: price})
	}
	if len(pqs) == 0 {
		return
	}

	totalFunds, _ := account.TotalFunds().Float64()
	assessment := risk.PickAutoClosePositions(pqs, totalFunds, thresholds, e.cfg.MaxAutoClose)

	MarginUtilization.WithLabelValues(strconv.FormatInt(accountID, 10)).Set(assessment.MarginUtilization)

	if assessment.ShouldAutoClose {
		for _, pos := range assessment.PositionsToClose {
			AutoClosedPositions.Inc()
			e.notify(models.Notification{
				Timestamp: time.Now(),
				Type:      models.NotificationTypeAutoClose,
				Severity:  models.SeverityError,
				AccountID: &accountID,
				Message: fmt.Sprintf("принудительное закрытие %s: утилизация маржи %.1f%%",
					pos.Symbol, assessment.MarginUtilization*100),
				Meta: map[string]interface{}{"position_id": pos.ID, "symbol": pos.Symbol},
			})
			e.closePosition(pos, result)
		}
		return
	}

	if assessment.ShouldWarn {
		RiskWarnings.Inc()
		e.notify(models.Notification{
			Timestamp: time.Now(),
			Type:      models.NotificationTypeRiskWarning,
			Severity:  models.SeverityWarn,
			AccountID: &accountID,
			Message: fmt.Sprintf("утилизация маржи %.1f%% выше порога %.1f%%",
				assessment.MarginUtilization*100, thresholds.WarningThreshold*100),
			Meta: map[string]interface{}{"utilization": assessment.MarginUtilization},
		})
	}
}

// closePosition синтезирует закрывающий MARKET-ордер и проводит его
// через тот же путь исполнения, что и клиентские ордера.
// Возвращает true, если позиция закрыта в этом проходе.
func (e *Executor) closePosition(pos *models.Position, result *PassResult) bool {
	quote := e.quotes.GetQuote(pos.InstrumentToken, e.cfg.QuoteMaxAge)
	if quote == nil {
		result.Skipped++
		return false
	}

	// Если закрывающий ордер прошлого прохода еще PENDING (исполнение
	// оборвалось после синтеза), второй не создаем - иначе оба исполнятся
	// и позиция перевернется вместо закрытия
	alreadyPending, err := e.orders.HasPendingClose(pos.ID)
	if err != nil {
		e.logger.Error("не удалось проверить существующий закрывающий ордер",
			zap.Int64("position_id", pos.ID), zap.Error(err))
		result.Errors++
		return false
	}
	if alreadyPending {
		e.logger.Warn("закрывающий ордер уже существует, синтез пропущен",
			zap.Int64("position_id", pos.ID))
		result.Skipped++
		return false
	}

	side := models.OrderSideSell
	if pos.Quantity < 0 {
		side = models.OrderSideBuy
	}

	positionID := pos.ID
	closing := &models.Order{
		AccountID:        pos.AccountID,
		Symbol:           pos.Symbol,
		InstrumentToken:  pos.InstrumentToken,
		Side:             side,
		OrderType:        models.OrderTypeMarket,
		Quantity:         absInt64(pos.Quantity),
		Status:           models.OrderStatusPending,
		ClosesPositionID: &positionID,
	}

	if err := e.orders.Create(closing); err != nil {
		e.logger.Error("не удалось создать закрывающий ордер",
			zap.Int64("position_id", pos.ID), zap.Error(err))
		result.Errors++
		return false
	}

	outcome := e.fillOrder(closing, quote.LastTradePrice)
	switch outcome {
	case outcomeExecuted:
		result.Updated++
		e.logger.Info("позиция принудительно закрыта",
			zap.Int64("position_id", pos.ID),
			zap.String("symbol", pos.Symbol),
			zap.Float64("price", quote.LastTradePrice))
		return true
	case outcomeRejected:
		result.Errors++
	case outcomeSkipped:
		result.Skipped++
	case outcomeError:
		result.Errors++
	}
	return false
}

func (e *Executor) notifyPositionClose(pos *models.Position, notifType string, price float64) {
	e.notify(models.Notification{
		Timestamp: time.Now(),
		Type:      notifType,
		Severity:  models.SeverityInfo,
		AccountID: &pos.AccountID,
		Message:   fmt.Sprintf("%s по %s на цене %.2f", notifType, pos.Symbol, price),
		Meta:      map[string]interface{}{"position_id": pos.ID, "symbol": pos.Symbol, "price": price},
	})
}

func (e *Executor) notify(n models.Notification) {
	if e.notifier != nil {
		e.notifier.Notify(n)
	}
}

// saveHeartbeat пишет итоги прохода; ошибка записи только логируется -
// heartbeat нужен мониторингу, а не корректности
func (e *Executor) saveHeartbeat(result *PassResult) {
	hb := &models.WorkerHeartbeat{
		LastRunAt: result.StartedAt,
		Scanned:   result.Scanned,
		Updated:   result.Updated,
		Skipped:   result.Skipped,
		Errors:    result.Errors,
		ElapsedMs: result.ElapsedMs,
	}
	if err := e.heartbeats.Save(hb); err != nil {
		e.logger.Error("не удалось сохранить heartbeat", zap.Error(err))
		return
	}

	// Храним хвост истории проходов ограниченной длины
	if _, err := e.heartbeats.DeleteOlderThan(100); err != nil {
		e.logger.Warn("не удалось подрезать историю heartbeat", zap.Error(err))
	}
}

func orderTokens(orders []*models.Order) []int64 {
	tokens := make([]int64, 0, len(orders))
	for _, o := range orders {
		tokens = append(tokens, o.InstrumentToken)
	}
	return tokens
}

func positionTokens(positions []*models.Position) []int64 {
	tokens := make([]int64, 0, len(positions))
	for _, p := range positions {
		tokens = append(tokens, p.InstrumentToken)
	}
	return tokens
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
