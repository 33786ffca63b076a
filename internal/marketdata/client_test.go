package marketdata

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"brokerage/internal/config"
	"brokerage/pkg/utils"
)

// fakeFeedServer принимает WebSocket соединения, копит subscribe-сообщения
// и умеет слать тики подключенному клиенту
type fakeFeedServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	subscribes []subscribeMessage
	conn       *websocket.Conn
}

func newFakeFeedServer(t *testing.T) *fakeFeedServer {
	f := &fakeFeedServer{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}

		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		for {
			var msg subscribeMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.mu.Lock()
			f.subscribes = append(f.subscribes, msg)
			f.mu.Unlock()
		}
	}))
	return f
}

func (f *fakeFeedServer) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeFeedServer) sendTick(t *testing.T, payload string) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		t.Fatal("нет подключенного клиента")
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("не удалось отправить тик: %v", err)
	}
}

func (f *fakeFeedServer) subscribeMessages() []subscribeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]subscribeMessage, len(f.subscribes))
	copy(result, f.subscribes)
	return result
}

func (f *fakeFeedServer) close() {
	f.server.Close()
}

func testFeedConfig(url string, batchSize int) config.MarketDataConfig {
	return config.MarketDataConfig{
		URL:                   url,
		SubscribeBatchSize:    batchSize,
		ReconnectInitialDelay: 50 * time.Millisecond,
		ReconnectMaxDelay:     200 * time.Millisecond,
		ReconnectMaxRetries:   3,
		ConnectTimeout:        2 * time.Second,
		PingInterval:          time.Minute,
		PongTimeout:           2 * time.Second,
	}
}

// waitFor опрашивает условие до таймаута
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestFeedClient_ConnectAndTicks(t *testing.T) {
	feed := newFakeFeedServer(t)
	defer feed.close()

	cache := NewQuoteCache()
	client := NewFeedClient(testFeedConfig(feed.url(), 400), cache, utils.NopLogger())
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("не удалось подключиться: %v", err)
	}
	if !client.IsConnected() {
		t.Fatal("клиент должен быть в состоянии connected")
	}

	client.EnsureSubscribed([]int64{101})
	waitFor(t, 2*time.Second, func() bool {
		return len(feed.subscribeMessages()) == 1
	}, "subscribe-сообщение не дошло до сервера")

	// Одиночный тик
	feed.sendTick(t, `{"instrument_token":101,"last_price":50.5}`)
	waitFor(t, 2*time.Second, func() bool {
		return client.GetQuote(101, time.Minute) != nil
	}, "тик не попал в кэш")

	quote := client.GetQuote(101, time.Minute)
	if quote.LastTradePrice != 50.5 {
		t.Errorf("неверная цена: %v", quote.LastTradePrice)
	}

	// Массив тиков с альтернативным именем поля цены
	feed.sendTick(t, `[{"token":202,"ltp":75.0,"prev_close":70.0}]`)
	waitFor(t, 2*time.Second, func() bool {
		return client.GetQuote(202, time.Minute) != nil
	}, "тик из массива не попал в кэш")

	quote = client.GetQuote(202, time.Minute)
	if quote.LastTradePrice != 75.0 || quote.PrevClosePrice != 70.0 {
		t.Errorf("неверная нормализация тика: %+v", quote)
	}

	health := client.GetHealth()
	if !health.IsConnected || health.Subscriptions != 1 || health.CachedQuotes != 2 {
		t.Errorf("неверный health: %+v", health)
	}
}

func TestFeedClient_SubscribeChunking(t *testing.T) {
	feed := newFakeFeedServer(t)
	defer feed.close()

	client := NewFeedClient(testFeedConfig(feed.url(), 2), NewQuoteCache(), utils.NopLogger())
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("не удалось подключиться: %v", err)
	}

	client.EnsureSubscribed([]int64{1, 2, 3, 4, 5})
	waitFor(t, 2*time.Second, func() bool {
		return len(feed.subscribeMessages()) == 3
	}, "ожидалось 3 пачки подписки")

	msgs := feed.subscribeMessages()
	sizes := []int{len(msgs[0].Tokens), len(msgs[1].Tokens), len(msgs[2].Tokens)}
	if sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Errorf("неверные размеры пачек: %v", sizes)
	}
	for _, msg := range msgs {
		if msg.Action != "subscribe" {
			t.Errorf("неверный action: %q", msg.Action)
		}
	}
}

func TestFeedClient_EnsureSubscribedIdempotent(t *testing.T) {
	feed := newFakeFeedServer(t)
	defer feed.close()

	client := NewFeedClient(testFeedConfig(feed.url(), 400), NewQuoteCache(), utils.NopLogger())
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("не удалось подключиться: %v", err)
	}

	client.EnsureSubscribed([]int64{101, 102})
	waitFor(t, 2*time.Second, func() bool {
		return len(feed.subscribeMessages()) == 1
	}, "первая подписка не дошла")

	// Повтор тех же токенов не шлет новое сообщение
	client.EnsureSubscribed([]int64{101, 102})
	time.Sleep(100 * time.Millisecond)
	if len(feed.subscribeMessages()) != 1 {
		t.Errorf("повторная подписка не должна слать сообщений, получено %d", len(feed.subscribeMessages()))
	}

	// Невалидные токены игнорируются
	client.EnsureSubscribed([]int64{0, -5})
	if client.GetHealth().Subscriptions != 2 {
		t.Errorf("невалидные токены не должны попадать в wanted: %d", client.GetHealth().Subscriptions)
	}
}

func TestFeedClient_SubscribeBeforeConnect(t *testing.T) {
	feed := newFakeFeedServer(t)
	defer feed.close()

	client := NewFeedClient(testFeedConfig(feed.url(), 400), NewQuoteCache(), utils.NopLogger())
	defer client.Close()

	// Подписка до подключения откладывается
	client.EnsureSubscribed([]int64{101, 102, 103})
	if client.GetHealth().Subscriptions != 3 {
		t.Fatalf("wanted должен пополниться до подключения: %d", client.GetHealth().Subscriptions)
	}

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("не удалось подключиться: %v", err)
	}

	// Отложенные подписки отправлены при подключении
	waitFor(t, 2*time.Second, func() bool {
		msgs := feed.subscribeMessages()
		return len(msgs) == 1 && len(msgs[0].Tokens) == 3
	}, "отложенная подписка не отправлена на подключении")
}

func TestNormalizeTick(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name          string
		tick          tickPayload
		expectedOk    bool
		expectedToken int64
		expectedPrice float64
	}{
		{
			name:          "instrument_token + last_price",
			tick:          tickPayload{InstrumentToken: 101, LastPrice: 50.0},
			expectedOk:    true,
			expectedToken: 101,
			expectedPrice: 50.0,
		},
		{
			name:          "token + ltp",
			tick:          tickPayload{Token: 202, LTP: 75.5},
			expectedOk:    true,
			expectedToken: 202,
			expectedPrice: 75.5,
		},
		{
			name:          "price как запасное поле",
			tick:          tickPayload{Token: 303, Price: 12.25},
			expectedOk:    true,
			expectedToken: 303,
			expectedPrice: 12.25,
		},
		{
			name:          "instrument_token приоритетнее token",
			tick:          tickPayload{InstrumentToken: 101, Token: 999, LastPrice: 50.0},
			expectedOk:    true,
			expectedToken: 101,
			expectedPrice: 50.0,
		},
		{
			name:       "тик без токена отбрасывается",
			tick:       tickPayload{LastPrice: 50.0},
			expectedOk: false,
		},
		{
			name:       "тик без цены отбрасывается",
			tick:       tickPayload{Token: 101},
			expectedOk: false,
		},
		{
			name:       "отрицательная цена отбрасывается",
			tick:       tickPayload{Token: 101, LastPrice: -1},
			expectedOk: false,
		},
		{
			name:       "NaN отбрасывается",
			tick:       tickPayload{Token: 101, LastPrice: math.NaN()},
			expectedOk: false,
		},
		{
			name:       "Inf отбрасывается",
			tick:       tickPayload{Token: 101, LastPrice: math.Inf(1)},
			expectedOk: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote, ok := normalizeTick(tt.tick, now)
			if ok != tt.expectedOk {
				t.Fatalf("ожидалось ok=%v, получено %v", tt.expectedOk, ok)
			}
			if !ok {
				return
			}
			if quote.InstrumentToken != tt.expectedToken {
				t.Errorf("неверный токен: %d", quote.InstrumentToken)
			}
			if quote.LastTradePrice != tt.expectedPrice {
				t.Errorf("неверная цена: %v", quote.LastTradePrice)
			}
		})
	}
}
