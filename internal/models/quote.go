package models

import "time"

// Quote представляет нормализованную котировку из кэша рыночных данных
//
// Эфемерная, только in-memory, перезаписывается каждым входящим тиком
// (last-write-wins). Единственная типизированная форма котировки -
// нормализация разношерстных payload'ов фида происходит один раз
// на границе кэша (internal/marketdata).
type Quote struct {
	InstrumentToken int64     `json:"instrument_token"`
	LastTradePrice  float64   `json:"last_trade_price"`
	PrevClosePrice  float64   `json:"prev_close_price,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
}

// Age возвращает возраст котировки относительно now
func (q *Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.ReceivedAt)
}
