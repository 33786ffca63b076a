package websocket

import (
	"time"

	"brokerage/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeNotification - событие риска или исполнения
	// Отправляется при событиях: RISK_WARNING, AUTO_CLOSE, STOP_LOSS,
	// TARGET, MARGIN, ERROR
	MessageTypeNotification MessageType = "notification"

	// MessageTypeHeartbeat - сводка прохода воркера
	// Отправляется после каждого завершенного прохода
	MessageTypeHeartbeat MessageType = "heartbeat"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// NotificationMessage - сообщение о событии риска или исполнения
type NotificationMessage struct {
	BaseMessage
	Data *NotificationData `json:"data"`
}

// NotificationData - данные уведомления
type NotificationData struct {
	// Тип уведомления (RISK_WARNING, AUTO_CLOSE, STOP_LOSS, TARGET, MARGIN, ERROR)
	Type string `json:"type"`

	// Уровень важности (info, warn, error)
	Severity string `json:"severity"`

	// ID связанного счета (если применимо)
	AccountID *int64 `json:"account_id,omitempty"`

	// Текст сообщения
	Message string `json:"message"`

	// Дополнительные метаданные (токены, цены, утилизация маржи и т.д.)
	Meta map[string]interface{} `json:"meta,omitempty"`

	// Время события
	Timestamp time.Time `json:"timestamp"`
}

// HeartbeatMessage - сообщение со сводкой прохода воркера
//
// Позволяет frontend показывать живость воркера и статистику
// последнего прохода без опроса REST API.
type HeartbeatMessage struct {
	BaseMessage
	Data *HeartbeatData `json:"data"`
}

// HeartbeatData - данные сводки прохода
type HeartbeatData struct {
	LastRunAt time.Time `json:"last_run_at"`
	Scanned   int       `json:"scanned"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	ElapsedMs int64     `json:"elapsed_ms"`
}

// ============ Фабричные функции для создания сообщений ============

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(n models.Notification) *NotificationMessage {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now(),
		},
		Data: &NotificationData{
			Type:      n.Type,
			Severity:  n.Severity,
			AccountID: n.AccountID,
			Message:   n.Message,
			Meta:      n.Meta,
			Timestamp: ts,
		},
	}
}

// NewHeartbeatMessage создает сообщение сводки прохода
func NewHeartbeatMessage(hb *models.WorkerHeartbeat) *HeartbeatMessage {
	return &HeartbeatMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeHeartbeat,
			Timestamp: time.Now(),
		},
		Data: &HeartbeatData{
			LastRunAt: hb.LastRunAt,
			Scanned:   hb.Scanned,
			Updated:   hb.Updated,
			Skipped:   hb.Skipped,
			Errors:    hb.Errors,
			ElapsedMs: hb.ElapsedMs,
		},
	}
}
