package service

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"brokerage/internal/models"
	"brokerage/internal/repository"
)

// Ошибки сервиса средств
var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrEmptyIdempotencyKey = errors.New("idempotency key must not be blank")
)

// FundsService предоставляет бизнес-логику операций с денежными средствами.
//
// Отвечает за:
// - Валидацию сумм и ключей идемпотентности до обращения к ledger
// - Блокировку и освобождение маржи под ордера
// - Пополнение и списание средств счета
//
// Все денежные мутации проксируются в AccountRepository, который выполняет
// их атомарно с записью в журнал транзакций.
type FundsService struct {
	accountRepo AccountRepositoryInterface
}

// NewFundsService создает новый экземпляр FundsService.
func NewFundsService(accountRepo AccountRepositoryInterface) *FundsService {
	return &FundsService{
		accountRepo: accountRepo,
	}
}

// GetAccount возвращает торговый счет по ID.
func (s *FundsService) GetAccount(accountID int64) (*models.TradingAccount, error) {
	return s.accountRepo.GetByID(accountID)
}

// BlockMargin блокирует маржу под ордер.
//
// Сумма должна быть строго положительной. При недостатке свободной маржи
// возвращает repository.ErrInsufficientMargin без изменения счета.
func (s *FundsService) BlockMargin(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error) {
	if err := validateLedgerInput(amount, idempotencyKey); err != nil {
		return nil, err
	}
	return s.accountRepo.BlockMargin(accountID, amount, description, idempotencyKey)
}

// ReleaseMargin освобождает ранее заблокированную маржу.
//
// Сумма, превышающая used_margin счета, урезается до used_margin:
// счет не может уйти в отрицательную заблокированную маржу.
func (s *FundsService) ReleaseMargin(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error) {
	if err := validateLedgerInput(amount, idempotencyKey); err != nil {
		return nil, err
	}
	return s.accountRepo.ReleaseMargin(accountID, amount, description, idempotencyKey)
}

// Credit зачисляет средства на счет.
func (s *FundsService) Credit(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error) {
	if err := validateLedgerInput(amount, idempotencyKey); err != nil {
		return nil, err
	}
	return s.accountRepo.Credit(accountID, amount, description, idempotencyKey)
}

// Debit списывает средства со счета.
//
// При недостатке баланса возвращает repository.ErrInsufficientMargin.
func (s *FundsService) Debit(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error) {
	if err := validateLedgerInput(amount, idempotencyKey); err != nil {
		return nil, err
	}
	return s.accountRepo.Debit(accountID, amount, description, idempotencyKey)
}

// GetTransactions возвращает последние транзакции счета.
func (s *FundsService) GetTransactions(accountID int64, limit int) ([]*models.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.accountRepo.GetTransactions(accountID, limit)
}

// validateLedgerInput проверяет общие предусловия денежной операции.
//
// Ключ идемпотентности опционален (nil), но если передан - не может
// быть пустой строкой: пустой ключ сломал бы дедупликацию повторов.
func validateLedgerInput(amount decimal.Decimal, idempotencyKey *string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	if idempotencyKey != nil && strings.TrimSpace(*idempotencyKey) == "" {
		return ErrEmptyIdempotencyKey
	}
	return nil
}
