package models

import "time"

// Notification представляет сигнал внешнему коллаборатору уведомлений
//
// Fire-and-forget: доставка не блокирует воркер, при переполнении канала
// сообщение дропается.
type Notification struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"` // info, warn, error
	AccountID *int64                 `json:"account_id,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// Типы уведомлений
const (
	NotificationTypeRiskWarning = "RISK_WARNING" // утилизация маржи выше warning-порога
	NotificationTypeAutoClose   = "AUTO_CLOSE"   // принудительное закрытие позиций
	NotificationTypeStopLoss    = "STOP_LOSS"    // срабатывание Stop Loss
	NotificationTypeTarget      = "TARGET"       // достижение Target
	NotificationTypeMargin      = "MARGIN"       // недостаток маржи при исполнении
	NotificationTypeError       = "ERROR"        // ошибка обработки ордера
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
