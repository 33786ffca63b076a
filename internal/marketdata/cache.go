package marketdata

import (
	"sync"
	"time"

	"brokerage/internal/models"
	"brokerage/pkg/utils"
)

// QuoteCache хранит последнюю котировку по каждому инструменту
//
// Чисто in-memory, без персистентности. Входящий тик безусловно
// перезаписывает запись своего токена (last-write-wins). Чтение никогда
// не ходит в сеть: устаревшая или отсутствующая котировка возвращается
// как nil, и вызывающий обязан трактовать это как нормальное
// восстановимое состояние, а не ошибку.
type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[int64]models.Quote
}

// NewQuoteCache создает пустой кэш котировок
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{
		quotes: make(map[int64]models.Quote),
	}
}

// Put записывает котировку в кэш.
//
// Нулевая или нефинитная цена невалидна: такой тик отбрасывается,
// прежняя запись (если была) остается.
func (c *QuoteCache) Put(quote models.Quote) bool {
	if !utils.IsValidPrice(quote.LastTradePrice) {
		return false
	}

	c.mu.Lock()
	c.quotes[quote.InstrumentToken] = quote
	c.mu.Unlock()
	return true
}

// Get возвращает котировку токена не старше maxAge, иначе nil.
//
// maxAge <= 0 отключает проверку свежести (вернуть что есть).
func (c *QuoteCache) Get(token int64, maxAge time.Duration) *models.Quote {
	c.mu.RLock()
	quote, exists := c.quotes[token]
	c.mu.RUnlock()

	if !exists {
		return nil
	}
	if maxAge > 0 && quote.Age(time.Now()) > maxAge {
		return nil
	}

	return &quote
}

// Size возвращает количество закэшированных котировок
func (c *QuoteCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
