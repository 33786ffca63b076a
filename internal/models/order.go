package models

import "time"

// Order представляет торговую заявку клиента
//
// Создается путем размещения (внешний коллаборатор), который также блокирует
// начальную маржу. После создания единственный писатель полей status,
// filled_quantity и average_price - воркер исполнения (internal/worker).
// Терминальные статусы (EXECUTED, CANCELLED, REJECTED) необратимы.
type Order struct {
	ID              int64      `json:"id" db:"id"`
	AccountID       int64      `json:"account_id" db:"account_id"`
	Symbol          string     `json:"symbol" db:"symbol"`
	InstrumentToken int64      `json:"instrument_token" db:"instrument_token"`
	Side            string     `json:"side" db:"side"`             // BUY, SELL
	OrderType       string     `json:"order_type" db:"order_type"` // MARKET, LIMIT
	Quantity        int64      `json:"quantity" db:"quantity"`
	LimitPrice      *float64   `json:"limit_price,omitempty" db:"limit_price"`
	Status          string     `json:"status" db:"status"`
	FilledQuantity  int64      `json:"filled_quantity" db:"filled_quantity"`
	AveragePrice    *float64   `json:"average_price,omitempty" db:"average_price"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty" db:"executed_at"`

	// ClosesPositionID заполняется только для закрывающих ордеров,
	// синтезированных риск-проходом. Такой ордер может лишь уменьшать
	// привязанную позицию: если она уже закрыта или изменилась, ордер
	// отменяется вместо открытия новой экспозиции.
	ClosesPositionID *int64 `json:"closes_position_id,omitempty" db:"closes_position_id"`
}

// IsSynthesizedClose возвращает true для закрывающего ордера риск-прохода
func (o *Order) IsSynthesizedClose() bool {
	return o.ClosesPositionID != nil
}

// Стороны ордера
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// Типы ордера
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Статусы ордера (state machine: PENDING -> EXECUTED | CANCELLED | REJECTED)
const (
	OrderStatusPending   = "PENDING"
	OrderStatusExecuted  = "EXECUTED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRejected  = "REJECTED"
)

// IsTerminal возвращает true для терминальных статусов
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusExecuted ||
		o.Status == OrderStatusCancelled ||
		o.Status == OrderStatusRejected
}

// SignedQuantity возвращает количество со знаком направления
// (+ для BUY, - для SELL)
func (o *Order) SignedQuantity() int64 {
	if o.Side == OrderSideSell {
		return -o.Quantity
	}
	return o.Quantity
}
