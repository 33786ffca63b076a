package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradingAccount представляет маржинальный счет клиента
//
// Инвариант: balance меняется только через CREDIT/DEBIT, пара
// available_margin/used_margin - только через четыре операции ledger
// (block, release, credit, debit). Прямой мутации этих полей в коде нет -
// все изменения идут через атомарные read-modify-write транзакции
// в repository.AccountRepository.
type TradingAccount struct {
	ID              int64           `json:"id" db:"id"`
	Balance         decimal.Decimal `json:"balance" db:"balance"`
	AvailableMargin decimal.Decimal `json:"available_margin" db:"available_margin"`
	UsedMargin      decimal.Decimal `json:"used_margin" db:"used_margin"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// TotalFunds возвращает общие средства счета (balance + used margin
// в базовом определении совпадает с balance, знаменатель утилизации риска)
func (a *TradingAccount) TotalFunds() decimal.Decimal {
	return a.Balance
}

// Transaction представляет неизменяемую аудит-запись операции ledger
//
// Ровно одна запись на каждую успешную операцию, в той же транзакции БД,
// что и изменение баланса. IdempotencyKey уникален (partial unique index),
// повторная операция с тем же ключом - no-op success.
type Transaction struct {
	ID             int64           `json:"id" db:"id"`
	AccountID      int64           `json:"account_id" db:"account_id"`
	Amount         decimal.Decimal `json:"amount" db:"amount"` // со знаком
	Type           string          `json:"type" db:"type"`
	Description    string          `json:"description" db:"description"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Типы транзакций ledger
const (
	TransactionTypeBlockMargin   = "BLOCK_MARGIN"
	TransactionTypeReleaseMargin = "RELEASE_MARGIN"
	TransactionTypeCredit        = "CREDIT"
	TransactionTypeDebit         = "DEBIT"
)
