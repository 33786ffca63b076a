package models

import "time"

// Position представляет открытую позицию по инструменту
//
// Quantity со знаком: положительное - лонг, отрицательное - шорт.
// Позиция с quantity == 0 логически закрыта; путь исполнения удаляет
// такие строки внутри транзакции исполнения.
type Position struct {
	ID              int64     `json:"id" db:"id"`
	AccountID       int64     `json:"account_id" db:"account_id"`
	Symbol          string    `json:"symbol" db:"symbol"`
	InstrumentToken int64     `json:"instrument_token" db:"instrument_token"`
	Quantity        int64     `json:"quantity" db:"quantity"`
	AveragePrice    float64   `json:"average_price" db:"average_price"`
	StopLoss        *float64  `json:"stop_loss,omitempty" db:"stop_loss"`
	Target          *float64  `json:"target,omitempty" db:"target"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// IsLong возвращает true для лонг-позиции
func (p *Position) IsLong() bool {
	return p.Quantity > 0
}

// IsShort возвращает true для шорт-позиции
func (p *Position) IsShort() bool {
	return p.Quantity < 0
}

// IsFlat возвращает true для закрытой позиции
func (p *Position) IsFlat() bool {
	return p.Quantity == 0
}

// UnrealizedPnl возвращает нереализованный PNL по текущей цене
//
// Лонг: (цена - средняя) * количество. Шорт получается автоматически
// за счет отрицательного количества. Если цена невалидна, возвращает 0.
func (p *Position) UnrealizedPnl(currentPrice float64) float64 {
	if currentPrice <= 0 || p.Quantity == 0 {
		return 0
	}
	return (currentPrice - p.AveragePrice) * float64(p.Quantity)
}
