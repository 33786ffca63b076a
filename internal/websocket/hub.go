package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"brokerage/internal/models"
	"brokerage/internal/worker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Hub реализует интерфейс уведомлений воркера
var _ worker.Notifier = (*Hub)(nil)

// jsonBufferPool переиспользует буферы сериализации между broadcast-ами
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Центральный менеджер для broadcast сообщений всем подключенным клиентам
// дашборда. Обеспечивает real-time поток событий риска и heartbeat воркера
// без необходимости polling.
//
// Функции:
// - Регистрация новых WebSocket клиентов
// - Отмена регистрации отключенных клиентов
// - Broadcast сообщений всем активным клиентам
// - Очистка медленных соединений (переполнение буфера отправки)
// - Потокобезопасная работа с клиентами (sync.RWMutex)
//
// Типы сообщений:
// - notification: событие риска или исполнения (RISK_WARNING, AUTO_CLOSE, ...)
// - heartbeat: сводка последнего прохода воркера
//
// Использование:
// 1. Создать hub: hub := NewHub(logger)
// 2. Запустить в горутине: go hub.Run()
// 3. Отправлять сообщения: hub.BroadcastNotification(...) / hub.Notify(...)
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan []byte

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	// Сигнал остановки главного цикла
	done     chan struct{}
	stopOnce sync.Once

	// Счетчик сообщений, сброшенных при переполнении broadcast-канала
	dropped int64

	// Mutex для потокобезопасного доступа к clients
	mu sync.RWMutex

	logger *zap.Logger
}

// NewHub создает новый Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Обрабатывает регистрацию, отмену регистрации и broadcast.
// Выходит после вызова Stop().
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("WebSocket клиент подключен", zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("WebSocket клиент отключен", zap.Int("total_clients", total))

		case message := <-h.broadcast:
			// Копируем список клиентов под коротким RLock,
			// отправляем без блокировки
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Клиент не успевает читать - помечаем для удаления
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				total := len(h.clients)
				h.mu.Unlock()
				h.logger.Warn("Удалены медленные WebSocket клиенты",
					zap.Int("removed", len(toRemove)),
					zap.Int("total_clients", total))
			}
		}
	}
}

// Stop останавливает главный цикл и закрывает все соединения
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast отправляет сообщение всем подключенным клиентам
//
// Не блокируется: при переполнении broadcast-канала сообщение дропается
// и увеличивается счетчик DroppedMessages.
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("Ошибка сериализации broadcast-сообщения", zap.Error(err))
		jsonBufferPool.Put(buf)
		return
	}

	// Убираем trailing newline от Encode
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	// Копируем данные - буфер вернется в пул
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.BroadcastRaw(msgCopy)
}

// BroadcastRaw отправляет уже сериализованное сообщение без блокировки
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		atomic.AddInt64(&h.dropped, 1)
	}
}

// Notify реализует worker.Notifier: события воркера уходят в поток дашборда.
// Никогда не блокирует проход воркера.
func (h *Hub) Notify(n models.Notification) {
	h.BroadcastNotification(n)
}

// BroadcastNotification отправляет уведомление всем клиентам
func (h *Hub) BroadcastNotification(n models.Notification) {
	h.Broadcast(NewNotificationMessage(n))
}

// BroadcastHeartbeat отправляет сводку прохода воркера всем клиентам
func (h *Hub) BroadcastHeartbeat(hb *models.WorkerHeartbeat) {
	if hb == nil {
		return
	}
	h.Broadcast(NewHeartbeatMessage(hb))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число сообщений, сброшенных из-за переполнения
func (h *Hub) DroppedMessages() int64 {
	return atomic.LoadInt64(&h.dropped)
}
