package worker

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"brokerage/internal/models"
	"brokerage/internal/repository"
)

// ============ Mock OrderRepository ============

type MockOrderRepository struct {
	mu        sync.Mutex
	orders    map[int64]*models.Order
	orderIDs  []int64
	nextID    int64
	createErr error
	getErr    error
}

func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders: make(map[int64]*models.Order),
		nextID: 1,
	}
}

func (m *MockOrderRepository) AddPending(order *models.Order) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	order.ID = m.nextID
	m.nextID++
	order.Status = models.OrderStatusPending
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().Add(-time.Minute)
	}
	m.orders[order.ID] = order
	m.orderIDs = append(m.orderIDs, order.ID)
	return order
}

func (m *MockOrderRepository) Create(order *models.Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order.ID = m.nextID
	m.nextID++
	order.CreatedAt = time.Now()
	m.orders[order.ID] = order
	m.orderIDs = append(m.orderIDs, order.ID)
	return nil
}

func (m *MockOrderRepository) GetByID(id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, exists := m.orders[id]
	if !exists {
		return nil, repository.ErrOrderNotFound
	}
	return order, nil
}

func (m *MockOrderRepository) GetPending(limit int, createdBefore time.Time) ([]*models.Order, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Order
	for _, id := range m.orderIDs {
		order := m.orders[id]
		if order.Status != models.OrderStatusPending {
			continue
		}
		if order.CreatedAt.After(createdBefore) {
			continue
		}
		result = append(result, order)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MockOrderRepository) HasPendingClose(positionID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.Status == models.OrderStatusPending &&
			order.ClosesPositionID != nil && *order.ClosesPositionID == positionID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockOrderRepository) transition(id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, exists := m.orders[id]
	if !exists {
		return repository.ErrOrderNotFound
	}
	if order.Status != models.OrderStatusPending {
		return repository.ErrOrderAlreadyProcessed
	}
	order.Status = status
	return nil
}

func (m *MockOrderRepository) MarkRejected(id int64) error {
	return m.transition(id, models.OrderStatusRejected)
}

func (m *MockOrderRepository) MarkCancelled(id int64) error {
	return m.transition(id, models.OrderStatusCancelled)
}

func (m *MockOrderRepository) CountByStatus(status string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, order := range m.orders {
		if order.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *MockOrderRepository) GetRecentByAccount(accountID int64, limit int) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Order
	for i := len(m.orderIDs) - 1; i >= 0 && len(result) < limit; i-- {
		if m.orders[m.orderIDs[i]].AccountID == accountID {
			result = append(result, m.orders[m.orderIDs[i]])
		}
	}
	return result, nil
}

// ============ Mock PositionRepository ============

// MockPositionRepository воспроизводит транзакционную семантику ApplyFill:
// переход ордера и слияние позиции в одном шаге с guard по статусу
type MockPositionRepository struct {
	mu        sync.Mutex
	positions map[int64]*models.Position
	posIDs    []int64
	nextID    int64
	orders    *MockOrderRepository

	// applyErr возвращается из ApplyFill; applyErrOrderID != 0
	// сужает сбой до одного ордера
	applyErr        error
	applyErrOrderID int64
}

func NewMockPositionRepository(orders *MockOrderRepository) *MockPositionRepository {
	return &MockPositionRepository{
		positions: make(map[int64]*models.Position),
		nextID:    1,
		orders:    orders,
	}
}

func (m *MockPositionRepository) AddPosition(pos *models.Position) *models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos.ID = m.nextID
	m.nextID++
	m.positions[pos.ID] = pos
	m.posIDs = append(m.posIDs, pos.ID)
	return pos
}

func (m *MockPositionRepository) ApplyFill(p repository.FillParams) (*repository.FillResult, error) {
	if m.applyErr != nil && (m.applyErrOrderID == 0 || m.applyErrOrderID == p.OrderID) {
		return nil, m.applyErr
	}

	// Guard по статусу ордера
	if err := m.orders.transition(p.OrderID, models.OrderStatusExecuted); err != nil {
		return nil, err
	}
	m.orders.mu.Lock()
	order := m.orders.orders[p.OrderID]
	order.FilledQuantity = absMock(p.QuantityDelta)
	price := p.Price
	order.AveragePrice = &price
	order.ExecutedAt = &p.FilledAt
	m.orders.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	var current *models.Position
	for _, id := range m.posIDs {
		pos := m.positions[id]
		if pos.AccountID == p.AccountID && pos.InstrumentToken == p.InstrumentToken {
			current = pos
			break
		}
	}

	if current == nil {
		pos := &models.Position{
			ID:              m.nextID,
			AccountID:       p.AccountID,
			Symbol:          p.Symbol,
			InstrumentToken: p.InstrumentToken,
			Quantity:        p.QuantityDelta,
			AveragePrice:    p.Price,
		}
		m.nextID++
		m.positions[pos.ID] = pos
		m.posIDs = append(m.posIDs, pos.ID)
		return &repository.FillResult{Position: pos}, nil
	}

	newQty := current.Quantity + p.QuantityDelta
	switch {
	case newQty == 0:
		delete(m.positions, current.ID)
		for i, id := range m.posIDs {
			if id == current.ID {
				m.posIDs = append(m.posIDs[:i], m.posIDs[i+1:]...)
				break
			}
		}
		return &repository.FillResult{Flattened: true}, nil
	case sameSign(current.Quantity, p.QuantityDelta):
		total := float64(absMock(current.Quantity))*current.AveragePrice + float64(absMock(p.QuantityDelta))*p.Price
		current.AveragePrice = total / float64(absMock(newQty))
		current.Quantity = newQty
	case !sameSign(current.Quantity, newQty):
		// Флип через ноль: средняя = цена исполнения
		current.Quantity = newQty
		current.AveragePrice = p.Price
	default:
		current.Quantity = newQty
	}
	return &repository.FillResult{Position: current}, nil
}

func (m *MockPositionRepository) GetByID(id int64) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, exists := m.positions[id]
	if !exists {
		return nil, repository.ErrPositionNotFound
	}
	return pos, nil
}

func (m *MockPositionRepository) GetOpenByAccount(accountID int64) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Position
	for _, id := range m.posIDs {
		if m.positions[id].AccountID == accountID {
			result = append(result, m.positions[id])
		}
	}
	return result, nil
}

func (m *MockPositionRepository) GetAccountsWithOpenPositions() ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]bool)
	var result []int64
	for _, id := range m.posIDs {
		accountID := m.positions[id].AccountID
		if !seen[accountID] {
			seen[accountID] = true
			result = append(result, accountID)
		}
	}
	return result, nil
}

func (m *MockPositionRepository) UpdateStopLossTarget(id int64, stopLoss, target *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, exists := m.positions[id]
	if !exists {
		return repository.ErrPositionNotFound
	}
	pos.StopLoss = stopLoss
	pos.Target = target
	return nil
}

// ============ Mock FundsService ============

type MockFundsService struct {
	mu          sync.Mutex
	accounts    map[int64]*models.TradingAccount
	appliedKeys map[string]bool
	txCount     map[string]int
}

func NewMockFundsService() *MockFundsService {
	return &MockFundsService{
		accounts:    make(map[int64]*models.TradingAccount),
		appliedKeys: make(map[string]bool),
		txCount:     make(map[string]int),
	}
}

func (m *MockFundsService) AddAccount(account *models.TradingAccount) {
	m.accounts[account.ID] = account
}

func (m *MockFundsService) GetAccount(accountID int64) (*models.TradingAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, exists := m.accounts[accountID]
	if !exists {
		return nil, repository.ErrAccountNotFound
	}
	return account, nil
}

func (m *MockFundsService) apply(accountID int64, opType string, idempotencyKey *string, mutate func(*models.TradingAccount) error) (*repository.LedgerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, exists := m.accounts[accountID]
	if !exists {
		return nil, repository.ErrAccountNotFound
	}
	if idempotencyKey != nil && m.appliedKeys[*idempotencyKey] {
		return &repository.LedgerResult{Account: account, AlreadyApplied: true}, nil
	}
	if err := mutate(account); err != nil {
		return nil, err
	}
	if idempotencyKey != nil {
		m.appliedKeys[*idempotencyKey] = true
	}
	m.txCount[opType]++
	return &repository.LedgerResult{Account: account}, nil
}

func (m *MockFundsService) BlockMargin(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error) {
	return m.apply(accountID, models.TransactionTypeBlockMargin, idempotencyKey, func(a *models.TradingAccount) error {
		if amount.GreaterThan(a.AvailableMargin) {
			return repository.ErrInsufficientMargin
		}
		a.AvailableMargin = a.AvailableMargin.Sub(amount)
		a.UsedMargin = a.UsedMargin.Add(amount)
		return nil
	})
}

func (m *MockFundsService) ReleaseMargin(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error) {
	return m.apply(accountID, models.TransactionTypeReleaseMargin, idempotencyKey, func(a *models.TradingAccount) error {
		released := amount
		if released.GreaterThan(a.UsedMargin) {
			released = a.UsedMargin
		}
		a.UsedMargin = a.UsedMargin.Sub(released)
		a.AvailableMargin = a.AvailableMargin.Add(released)
		return nil
	})
}

func (m *MockFundsService) Credit(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error) {
	return m.apply(accountID, models.TransactionTypeCredit, idempotencyKey, func(a *models.TradingAccount) error {
		a.Balance = a.Balance.Add(amount)
		a.AvailableMargin = a.AvailableMargin.Add(amount)
		return nil
	})
}

func (m *MockFundsService) Debit(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error) {
	return m.apply(accountID, models.TransactionTypeDebit, idempotencyKey, func(a *models.TradingAccount) error {
		if amount.GreaterThan(a.AvailableMargin) {
			return repository.ErrInsufficientMargin
		}
		a.Balance = a.Balance.Sub(amount)
		a.AvailableMargin = a.AvailableMargin.Sub(amount)
		return nil
	})
}

func (m *MockFundsService) GetTransactions(accountID int64, limit int) ([]*models.Transaction, error) {
	return nil, nil
}

// ============ Mock ThresholdsService ============

type MockThresholdsService struct {
	thresholds models.RiskThresholds
}

func NewMockThresholdsService(warning, autoClose float64) *MockThresholdsService {
	return &MockThresholdsService{
		thresholds: models.RiskThresholds{
			WarningThreshold:   warning,
			AutoCloseThreshold: autoClose,
			Source:             models.ThresholdSourceDefault,
		},
	}
}

func (m *MockThresholdsService) Resolve() (models.RiskThresholds, error) {
	return m.thresholds, nil
}

// ============ Mock HeartbeatRepository ============

type MockHeartbeatRepository struct {
	mu         sync.Mutex
	heartbeats []*models.WorkerHeartbeat
}

func NewMockHeartbeatRepository() *MockHeartbeatRepository {
	return &MockHeartbeatRepository{}
}

func (m *MockHeartbeatRepository) Save(hb *models.WorkerHeartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hb.ID = int64(len(m.heartbeats) + 1)
	m.heartbeats = append(m.heartbeats, hb)
	return nil
}

func (m *MockHeartbeatRepository) GetLatest() (*models.WorkerHeartbeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.heartbeats) == 0 {
		return nil, repository.ErrHeartbeatNotFound
	}
	return m.heartbeats[len(m.heartbeats)-1], nil
}

func (m *MockHeartbeatRepository) DeleteOlderThan(keepCount int) (int64, error) {
	return 0, nil
}

func (m *MockHeartbeatRepository) Latest() *models.WorkerHeartbeat {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.heartbeats) == 0 {
		return nil
	}
	return m.heartbeats[len(m.heartbeats)-1]
}

// ============ Mock QuoteSource ============

type MockQuoteSource struct {
	mu        sync.Mutex
	prices    map[int64]float64
	connected bool
}

func NewMockQuoteSource() *MockQuoteSource {
	return &MockQuoteSource{
		prices:    make(map[int64]float64),
		connected: true,
	}
}

func (m *MockQuoteSource) SetPrice(token int64, price float64) {
	m.mu.Lock()
	m.prices[token] = price
	m.mu.Unlock()
}

func (m *MockQuoteSource) GetQuote(token int64, maxAge time.Duration) *models.Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, exists := m.prices[token]
	if !exists {
		return nil
	}
	return &models.Quote{
		InstrumentToken: token,
		LastTradePrice:  price,
		ReceivedAt:      time.Now(),
	}
}

func (m *MockQuoteSource) EnsureSubscribed(tokens []int64) {}

func (m *MockQuoteSource) IsConnected() bool {
	return m.connected
}

// ============ Mock Notifier ============

type MockNotifier struct {
	mu            sync.Mutex
	notifications []models.Notification
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Notify(n models.Notification) {
	m.mu.Lock()
	m.notifications = append(m.notifications, n)
	m.mu.Unlock()
}

func (m *MockNotifier) ByType(notifType string) []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []models.Notification
	for _, n := range m.notifications {
		if n.Type == notifType {
			result = append(result, n)
		}
	}
	return result
}

func absMock(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
