package service

import (
	"time"

	"github.com/shopspring/decimal"

	"brokerage/internal/models"
	"brokerage/internal/repository"
)

// AccountRepositoryInterface определяет интерфейс репозитория счетов (ledger)
type AccountRepositoryInterface interface {
	GetByID(id int64) (*models.TradingAccount, error)
	BlockMargin(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error)
	ReleaseMargin(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error)
	Credit(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error)
	Debit(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error)
	GetTransactions(accountID int64, limit int) ([]*models.Transaction, error)
	CountTransactionsByKey(idempotencyKey string) (int, error)
}

// OrderRepositoryInterface определяет интерфейс репозитория ордеров
type OrderRepositoryInterface interface {
	Create(order *models.Order) error
	GetByID(id int64) (*models.Order, error)
	GetPending(limit int, createdBefore time.Time) ([]*models.Order, error)
	HasPendingClose(positionID int64) (bool, error)
	MarkRejected(id int64) error
	MarkCancelled(id int64) error
	CountByStatus(status string) (int, error)
	GetRecentByAccount(accountID int64, limit int) ([]*models.Order, error)
}

// PositionRepositoryInterface определяет интерфейс репозитория позиций
type PositionRepositoryInterface interface {
	ApplyFill(p repository.FillParams) (*repository.FillResult, error)
	GetByID(id int64) (*models.Position, error)
	GetOpenByAccount(accountID int64) ([]*models.Position, error)
	GetAccountsWithOpenPositions() ([]int64, error)
	UpdateStopLossTarget(id int64, stopLoss, target *float64) error
}

// SettingsRepositoryInterface определяет интерфейс репозитория настроек
type SettingsRepositoryInterface interface {
	Get(key string) (*models.Setting, error)
	Upsert(key, value string) error
	Delete(key string) error
}

// HeartbeatRepositoryInterface определяет интерфейс репозитория heartbeat воркера
type HeartbeatRepositoryInterface interface {
	Save(hb *models.WorkerHeartbeat) error
	GetLatest() (*models.WorkerHeartbeat, error)
	DeleteOlderThan(keepCount int) (int64, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ AccountRepositoryInterface = (*repository.AccountRepository)(nil)
var _ OrderRepositoryInterface = (*repository.OrderRepository)(nil)
var _ PositionRepositoryInterface = (*repository.PositionRepository)(nil)
var _ SettingsRepositoryInterface = (*repository.SettingsRepository)(nil)
var _ HeartbeatRepositoryInterface = (*repository.HeartbeatRepository)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// FundsServiceInterface определяет интерфейс сервиса средств
type FundsServiceInterface interface {
	GetAccount(accountID int64) (*models.TradingAccount, error)
	BlockMargin(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error)
	ReleaseMargin(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error)
	Credit(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error)
	Debit(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*repository.LedgerResult, error)
	GetTransactions(accountID int64, limit int) ([]*models.Transaction, error)
}

// ThresholdsServiceInterface определяет интерфейс резолвера риск-порогов
type ThresholdsServiceInterface interface {
	Resolve() (models.RiskThresholds, error)
	ResolveWithMaxAge(maxAge time.Duration) (models.RiskThresholds, error)
	UpdateThresholds(req *UpdateThresholdsRequest) (models.RiskThresholds, error)
	ResetThresholds() error
	Invalidate()
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ FundsServiceInterface = (*FundsService)(nil)
var _ ThresholdsServiceInterface = (*ThresholdsService)(nil)
