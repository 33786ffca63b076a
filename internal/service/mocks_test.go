package service

import (
	"time"

	"github.com/shopspring/decimal"

	"brokerage/internal/models"
	"brokerage/internal/repository"
)

// ============ Mock AccountRepository ============

type MockAccountRepository struct {
	accounts     map[int64]*models.TradingAccount
	transactions []*models.Transaction
	appliedKeys  map[string]bool
	getErr       error
	opErr        error
	nextTxID     int64
}

func NewMockAccountRepository() *MockAccountRepository {
	return &MockAccountRepository{
		accounts:    make(map[int64]*models.TradingAccount),
		appliedKeys: make(map[string]bool),
		nextTxID:    1,
	}
}

func (m *MockAccountRepository) AddAccount(account *models.TradingAccount) {
	m.accounts[account.ID] = account
}

func (m *MockAccountRepository) GetByID(id int64) (*models.TradingAccount, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	account, exists := m.accounts[id]
	if !exists {
		return nil, repository.ErrAccountNotFound
	}
	return account, nil
}

func (m *MockAccountRepository) apply(accountID int64, opType string, amount decimal.Decimal, description string, idempotencyKey *string, mutate func(*models.TradingAccount) (decimal.Decimal, error)) (*repository.LedgerResult, error) {
	if m.opErr != nil {
		return nil, m.opErr
	}

	account, exists := m.accounts[accountID]
	if !exists {
		return nil, repository.ErrAccountNotFound
	}

	if idempotencyKey != nil && m.appliedKeys[*idempotencyKey] {
		return &repository.LedgerResult{Account: account, AlreadyApplied: true}, nil
	}

	auditAmount, err := mutate(account)
	if err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		ID:             m.nextTxID,
		AccountID:      accountID,
		Amount:         auditAmount,
		Type:           opType,
		Description:    description,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now(),
	}
	m.nextTxID++
	m.transactions = append(m.transactions, tx)

	if idempotencyKey != nil {
		m.appliedKeys[*idempotencyKey] = true
	}

	return &repository.LedgerResult{Account: account}, nil
}

func (m *MockAccountRepository) BlockMargin(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error) {
	return m.apply(accountID, models.TransactionTypeBlockMargin, amount, description, idempotencyKey, func(a *models.TradingAccount) (decimal.Decimal, error) {
		if amount.GreaterThan(a.AvailableMargin) {
			return decimal.Zero, repository.ErrInsufficientMargin
		}
		a.AvailableMargin = a.AvailableMargin.Sub(amount)
		a.UsedMargin = a.UsedMargin.Add(amount)
		return amount.Neg(), nil
	})
}

func (m *MockAccountRepository) ReleaseMargin(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error) {
	return m.apply(accountID, models.TransactionTypeReleaseMargin, amount, description, idempotencyKey, func(a *models.TradingAccount) (decimal.Decimal, error) {
		released := amount
		if released.GreaterThan(a.UsedMargin) {
			released = a.UsedMargin
		}
		a.UsedMargin = a.UsedMargin.Sub(released)
		a.AvailableMargin = a.AvailableMargin.Add(released)
		return released, nil
	})
}

func (m *MockAccountRepository) Credit(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error) {
	return m.apply(accountID, models.TransactionTypeCredit, amount, description, idempotencyKey, func(a *models.TradingAccount) (decimal.Decimal, error) {
		a.Balance = a.Balance.Add(amount)
		a.AvailableMargin = a.AvailableMargin.Add(amount)
		return amount, nil
	})
}

func (m *MockAccountRepository) Debit(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error) {
	return m.apply(accountID, models.TransactionTypeDebit, amount, description, idempotencyKey, func(a *models.TradingAccount) (decimal.Decimal, error) {
		if amount.GreaterThan(a.AvailableMargin) {
			return decimal.Zero, repository.ErrInsufficientMargin
		}
		a.Balance = a.Balance.Sub(amount)
		a.AvailableMargin = a.AvailableMargin.Sub(amount)
		return amount.Neg(), nil
	})
}

func (m *MockAccountRepository) GetTransactions(accountID int64, limit int) ([]*models.Transaction, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.Transaction
	for i := len(m.transactions) - 1; i >= 0 && len(result) < limit; i-- {
		if m.transactions[i].AccountID == accountID {
			result = append(result, m.transactions[i])
		}
	}
	return result, nil
}

func (m *MockAccountRepository) CountTransactionsByKey(idempotencyKey string) (int, error) {
	count := 0
	for _, tx := range m.transactions {
		if tx.IdempotencyKey != nil && *tx.IdempotencyKey == idempotencyKey {
			count++
		}
	}
	return count, nil
}

// ============ Mock SettingsRepository ============

type MockSettingsRepository struct {
	settings  map[string]string
	getErr    error
	upsertErr error
	// Счетчик чтений для проверок TTL-кэша
	getCalls int
}

func NewMockSettingsRepository() *MockSettingsRepository {
	return &MockSettingsRepository{
		settings: make(map[string]string),
	}
}

func (m *MockSettingsRepository) Get(key string) (*models.Setting, error) {
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	value, exists := m.settings[key]
	if !exists {
		return nil, repository.ErrSettingNotFound
	}
	return &models.Setting{Key: key, Value: value, UpdatedAt: time.Now()}, nil
}

func (m *MockSettingsRepository) Upsert(key, value string) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.settings[key] = value
	return nil
}

func (m *MockSettingsRepository) Delete(key string) error {
	if _, exists := m.settings[key]; !exists {
		return repository.ErrSettingNotFound
	}
	delete(m.settings, key)
	return nil
}
