package marketdata

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"brokerage/internal/config"
	"brokerage/internal/models"
	"brokerage/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FeedState состояние соединения с фидом котировок
type FeedState int32

const (
	FeedStateDisconnected FeedState = iota
	FeedStateConnecting
	FeedStateConnected
	FeedStateReconnecting
	FeedStateClosed
)

func (s FeedState) String() string {
	switch s {
	case FeedStateDisconnected:
		return "disconnected"
	case FeedStateConnecting:
		return "connecting"
	case FeedStateConnected:
		return "connected"
	case FeedStateReconnecting:
		return "reconnecting"
	case FeedStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Health снимок здоровья фида для health-эндпоинта
type Health struct {
	IsConnected   bool       `json:"is_connected"`
	State         string     `json:"state"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
	Subscriptions int        `json:"subscriptions"`
	CachedQuotes  int        `json:"cached_quotes"`
}

// FeedClient поддерживает долгоживущую подписку на upstream-фид котировок
//
// Назначение:
// Обеспечивает надежное WebSocket соединение с источником котировок,
// автоматически переподключаясь при разрывах с exponential backoff.
//
// Модель подписок - desired-state: "wanted" хранит все когда-либо
// запрошенные токены и переживает реконнекты; "subscribed" отражает
// подтвержденное состояние текущего соединения и очищается при каждом
// разрыве. На переподключении весь wanted-набор подписывается заново
// пачками ограниченного размера, чтобы не раздувать control-сообщения.
//
// Ошибки соединения никогда не доходят до читателей кэша: они видят
// только отсутствие/устаревание котировки.
type FeedClient struct {
	cfg    config.MarketDataConfig
	cache  *QuoteCache
	logger *zap.Logger

	// WebSocket соединение
	conn   *websocket.Conn
	connMu sync.RWMutex

	// Состояние
	state int32 // atomic FeedState

	// Счетчик попыток переподключения
	retryCount int32 // atomic

	closeChan chan struct{}
	closeOnce sync.Once

	// Подписки: wanted переживает реконнект, subscribed - нет
	wanted     map[int64]struct{}
	subscribed map[int64]struct{}
	subMu      sync.Mutex

	// Метки времени для health (atomic, unix nano; 0 = не было)
	lastMessageAt int64
	lastErrorAt   int64
}

// NewFeedClient создает новый клиент фида котировок
func NewFeedClient(cfg config.MarketDataConfig, cache *QuoteCache, logger *zap.Logger) *FeedClient {
	return &FeedClient{
		cfg:        cfg,
		cache:      cache,
		logger:     logger,
		closeChan:  make(chan struct{}),
		wanted:     make(map[int64]struct{}),
		subscribed: make(map[int64]struct{}),
	}
}

// GetState возвращает текущее состояние соединения
func (c *FeedClient) GetState() FeedState {
	return FeedState(atomic.LoadInt32(&c.state))
}

// IsConnected проверяет, установлено ли соединение
func (c *FeedClient) IsConnected() bool {
	return c.GetState() == FeedStateConnected
}

// GetQuote возвращает котировку токена не старше maxAge, иначе nil.
// Чистое чтение кэша, сетевых вызовов не делает.
func (c *FeedClient) GetQuote(token int64, maxAge time.Duration) *models.Quote {
	return c.cache.Get(token, maxAge)
}

// GetHealth возвращает снимок здоровья фида
func (c *FeedClient) GetHealth() Health {
	c.subMu.Lock()
	subscriptions := len(c.wanted)
	c.subMu.Unlock()

	return Health{
		IsConnected:   c.IsConnected(),
		State:         c.GetState().String(),
		LastMessageAt: unixNanoTime(atomic.LoadInt64(&c.lastMessageAt)),
		LastErrorAt:   unixNanoTime(atomic.LoadInt64(&c.lastErrorAt)),
		Subscriptions: subscriptions,
		CachedQuotes:  c.cache.Size(),
	}
}

func unixNanoTime(nano int64) *time.Time {
	if nano == 0 {
		return nil
	}
	t := time.Unix(0, nano)
	return &t
}

// Connect устанавливает соединение с фидом.
//
// Первичный dial ретраится с backoff; при невозможности подключиться
// возвращает ошибку, и вызывающий решает, продолжать ли без котировок.
func (c *FeedClient) Connect(ctx context.Context) error {
	select {
	case <-c.closeChan:
		return fmt.Errorf("feed client is closed")
	default:
	}

	atomic.StoreInt32(&c.state, int32(FeedStateConnecting))

	err := retry.Do(ctx, func() error {
		return c.dial()
	}, retry.NetworkConfig())
	if err != nil {
		atomic.StoreInt32(&c.state, int32(FeedStateDisconnected))
		c.noteError()
		return fmt.Errorf("подключение к фиду котировок: %w", err)
	}

	c.afterConnect()
	c.logger.Info("фид котировок подключен", zap.String("url", c.cfg.URL))

	return nil
}

// dial выполняет подключение и начальную подписку
func (c *FeedClient) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	// Новое соединение ничего не знает о прошлых подписках
	c.subMu.Lock()
	c.subscribed = make(map[int64]struct{})
	c.subMu.Unlock()

	if err := c.resubscribe(); err != nil {
		// Подписки доберутся на следующем EnsureSubscribed или реконнекте
		c.logger.Warn("не удалось восстановить подписки", zap.Error(err))
	}

	return nil
}

// afterConnect переводит клиент в рабочее состояние и запускает горутины
func (c *FeedClient) afterConnect() {
	atomic.StoreInt32(&c.state, int32(FeedStateConnected))
	atomic.StoreInt32(&c.retryCount, 0)
	feedConnected.Set(1)

	go c.readPump()
	go c.pingPump()
}

// EnsureSubscribed добавляет токены в desired-набор подписок.
//
// Идемпотентна и не блокирует: если соединения нет, подписка отложена
// и будет отправлена после подключения. Ошибка отправки не возвращается -
// wanted-набор уже пополнен, реконнект доподпишет.
func (c *FeedClient) EnsureSubscribed(tokens []int64) {
	c.subMu.Lock()
	var fresh []int64
	for _, token := range tokens {
		if token <= 0 {
			continue
		}
		c.wanted[token] = struct{}{}
		if _, ok := c.subscribed[token]; !ok {
			fresh = append(fresh, token)
		}
	}
	c.subMu.Unlock()

	if len(fresh) == 0 || !c.IsConnected() {
		return
	}

	if err := c.sendSubscribe(fresh); err != nil {
		c.logger.Warn("не удалось отправить подписку",
			zap.Int("tokens", len(fresh)), zap.Error(err))
	}
}

// subscribeMessage исходящее control-сообщение фида
type subscribeMessage struct {
	Action string  `json:"action"`
	Tokens []int64 `json:"tokens"`
}

// sendSubscribe отправляет подписку на токены пачками ограниченного размера
func (c *FeedClient) sendSubscribe(tokens []int64) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("no connection")
	}

	batchSize := c.cfg.SubscribeBatchSize
	if batchSize <= 0 {
		batchSize = 400
	}

	for start := 0; start < len(tokens); start += batchSize {
		end := start + batchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]

		msg := subscribeMessage{Action: "subscribe", Tokens: batch}
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal subscribe: %w", err)
		}

		conn.SetWriteDeadline(time.Now().Add(c.cfg.PongTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return fmt.Errorf("write subscribe: %w", err)
		}

		c.subMu.Lock()
		for _, token := range batch {
			c.subscribed[token] = struct{}{}
		}
		c.subMu.Unlock()
	}

	return nil
}

// resubscribe переподписывает весь wanted-набор после (пере)подключения
func (c *FeedClient) resubscribe() error {
	c.subMu.Lock()
	tokens := make([]int64, 0, len(c.wanted))
	for token := range c.wanted {
		tokens = append(tokens, token)
	}
	c.subMu.Unlock()

	if len(tokens) == 0 {
		return nil
	}

	if err := c.sendSubscribe(tokens); err != nil {
		return err
	}

	c.logger.Info("подписки восстановлены", zap.Int("tokens", len(tokens)))
	return nil
}

// readPump читает сообщения фида до разрыва соединения
func (c *FeedClient) readPump() {
	for {
		select {
		case <-c.closeChan:
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}

		atomic.StoreInt64(&c.lastMessageAt, time.Now().UnixNano())
		c.handleMessage(message)
	}
}

// pingPump отправляет ping для проверки живости соединения
func (c *FeedClient) pingPump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeChan:
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()

			if conn == nil || c.GetState() != FeedStateConnected {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(c.cfg.PongTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("ping фида не прошел", zap.Error(err))
				c.handleDisconnect(err)
				return
			}
		}
	}
}

// tickPayload входящий тик фида.
//
// Upstream непоследователен в именовании поля цены, поэтому
// декларируются все встречающиеся варианты; normalizeTick сводит их
// к одному типизированному Quote на границе кэша.
type tickPayload struct {
	Token           int64   `json:"token"`
	InstrumentToken int64   `json:"instrument_token"`
	LastPrice       float64 `json:"last_price"`
	LTP             float64 `json:"ltp"`
	Price           float64 `json:"price"`
	PrevClose       float64 `json:"prev_close"`
	ClosePrice      float64 `json:"close_price"`
}

// handleMessage разбирает входящее сообщение и кладет тики в кэш.
//
// Фид может прислать одиночный тик или массив тиков. Нераспознанное
// сообщение молча игнорируется (control-ответы фида не интересны).
func (c *FeedClient) handleMessage(message []byte) {
	var batch []tickPayload
	if err := json.Unmarshal(message, &batch); err != nil {
		var single tickPayload
		if err := json.Unmarshal(message, &single); err != nil {
			return
		}
		batch = []tickPayload{single}
	}

	now := time.Now()
	for _, tick := range batch {
		quote, ok := normalizeTick(tick, now)
		if !ok {
			continue
		}
		c.cache.Put(quote)
		feedTicksReceived.Inc()
	}
}

// normalizeTick сводит duck-typed тик к типизированной котировке.
// Тик без токена или с невалидной ценой отбрасывается.
func normalizeTick(tick tickPayload, now time.Time) (models.Quote, bool) {
	token := tick.InstrumentToken
	if token == 0 {
		token = tick.Token
	}
	if token <= 0 {
		return models.Quote{}, false
	}

	price := tick.LastPrice
	if price == 0 {
		price = tick.LTP
	}
	if price == 0 {
		price = tick.Price
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return models.Quote{}, false
	}

	prevClose := tick.PrevClose
	if prevClose == 0 {
		prevClose = tick.ClosePrice
	}
	if prevClose < 0 || math.IsNaN(prevClose) || math.IsInf(prevClose, 0) {
		prevClose = 0
	}

	return models.Quote{
		InstrumentToken: token,
		LastTradePrice:  price,
		PrevClosePrice:  prevClose,
		ReceivedAt:      now,
	}, true
}

// handleDisconnect обрабатывает разрыв соединения и запускает реконнект
func (c *FeedClient) handleDisconnect(err error) {
	select {
	case <-c.closeChan:
		return
	default:
	}

	// Избегаем повторной обработки одного разрыва
	state := c.GetState()
	if state == FeedStateReconnecting || state == FeedStateClosed {
		return
	}

	atomic.StoreInt32(&c.state, int32(FeedStateReconnecting))
	feedConnected.Set(0)
	c.noteError()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	if err != nil {
		c.logger.Warn("фид котировок отключен", zap.Error(err))
	}

	go c.reconnectLoop()
}

// reconnectLoop переподключается с exponential backoff
func (c *FeedClient) reconnectLoop() {
	delay := c.cfg.ReconnectInitialDelay

	for {
		select {
		case <-c.closeChan:
			return
		default:
		}

		retryCount := atomic.AddInt32(&c.retryCount, 1)
		feedReconnects.Inc()

		if c.cfg.ReconnectMaxRetries > 0 && int(retryCount) > c.cfg.ReconnectMaxRetries {
			c.logger.Error("исчерпаны попытки переподключения к фиду",
				zap.Int("max_retries", c.cfg.ReconnectMaxRetries))
			atomic.StoreInt32(&c.state, int32(FeedStateDisconnected))
			return
		}

		c.logger.Info("переподключение к фиду",
			zap.Duration("delay", delay),
			zap.Int32("attempt", retryCount))

		select {
		case <-c.closeChan:
			return
		case <-time.After(delay):
		}

		if err := c.dial(); err != nil {
			c.logger.Warn("переподключение не удалось", zap.Error(err))
			c.noteError()

			delay = delay * 2
			if delay > c.cfg.ReconnectMaxDelay {
				delay = c.cfg.ReconnectMaxDelay
			}
			continue
		}

		c.afterConnect()
		c.logger.Info("фид котировок переподключен")
		return
	}
}

func (c *FeedClient) noteError() {
	atomic.StoreInt64(&c.lastErrorAt, time.Now().UnixNano())
}

// Close закрывает соединение и останавливает переподключение
func (c *FeedClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeChan)
		atomic.StoreInt32(&c.state, int32(FeedStateClosed))
		feedConnected.Set(0)

		c.connMu.Lock()
		defer c.connMu.Unlock()
		if c.conn != nil {
			err = c.conn.Close()
			c.conn = nil
		}
	})
	return err
}
