package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"brokerage/internal/models"
)

// Ошибки репозитория счетов
var (
	ErrAccountNotFound    = errors.New("trading account not found")
	ErrInsufficientMargin = errors.New("insufficient available margin")
)

// AccountRepository - единственный легальный путь мутации ledger-полей счета
//
// Каждая из четырех операций (BlockMargin, ReleaseMargin, Credit, Debit)
// выполняется в одной транзакции БД: SELECT ... FOR UPDATE по строке счета,
// UPDATE полей и INSERT ровно одной аудит-записи в transactions. Изменения
// баланса без аудит-записи (и наоборот) невозможны.
//
// Взаимное исключение между конкурентными воркерами обеспечивает
// транзакционная блокировка строки, а не внутрипроцессные локи.
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository создает новый экземпляр репозитория
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// LedgerResult - результат операции ledger
type LedgerResult struct {
	Account *models.TradingAccount
	// AlreadyApplied = true, если операция с таким ключом идемпотентности
	// уже была применена ранее (no-op success)
	AlreadyApplied bool
}

// GetByID возвращает счет без блокировки (для чтения)
func (r *AccountRepository) GetByID(id int64) (*models.TradingAccount, error) {
	query := `
		SELECT id, balance, available_margin, used_margin, updated_at, created_at
		FROM trading_accounts
		WHERE id = $1`

	acct := &models.TradingAccount{}
	err := r.db.QueryRow(query, id).Scan(
		&acct.ID,
		&acct.Balance,
		&acct.AvailableMargin,
		&acct.UsedMargin,
		&acct.UpdatedAt,
		&acct.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return acct, nil
}

// BlockMargin блокирует маржу под новую экспозицию
//
// available_margin -= amount; used_margin += amount.
// Возвращает ErrInsufficientMargin, если amount > available_margin.
func (r *AccountRepository) BlockMargin(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*LedgerResult, error) {
	return r.apply(accountID, models.TransactionTypeBlockMargin, amount, description, idempotencyKey,
		func(acct *models.TradingAccount) (decimal.Decimal, error) {
			if amount.GreaterThan(acct.AvailableMargin) {
				return decimal.Zero, ErrInsufficientMargin
			}
			acct.AvailableMargin = acct.AvailableMargin.Sub(amount)
			acct.UsedMargin = acct.UsedMargin.Add(amount)
			// Знак аудит-записи - относительно available_margin
			return amount.Neg(), nil
		})
}

// ReleaseMargin возвращает заблокированную маржу в доступную
//
// Сумма сверх used_margin обрезается до used_margin (clamp): отклонение
// заклинило бы повторы частичных исполнений. В аудит-записи фиксируется
// фактически возвращенная сумма.
func (r *AccountRepository) ReleaseMargin(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*LedgerResult, error) {
	return r.apply(accountID, models.TransactionTypeReleaseMargin, amount, description, idempotencyKey,
		func(acct *models.TradingAccount) (decimal.Decimal, error) {
			released := amount
			if released.GreaterThan(acct.UsedMargin) {
				released = acct.UsedMargin
			}
			acct.AvailableMargin = acct.AvailableMargin.Add(released)
			acct.UsedMargin = acct.UsedMargin.Sub(released)
			return released, nil
		})
}

// Credit безусловно увеличивает balance и available_margin
// (депозиты, зачисление прибыли)
func (r *AccountRepository) Credit(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*LedgerResult, error) {
	return r.apply(accountID, models.TransactionTypeCredit, amount, description, idempotencyKey,
		func(acct *models.TradingAccount) (decimal.Decimal, error) {
			acct.Balance = acct.Balance.Add(amount)
			acct.AvailableMargin = acct.AvailableMargin.Add(amount)
			return amount, nil
		})
}

// Debit уменьшает balance и available_margin
//
// Возвращает ErrInsufficientMargin, если amount > available_margin.
func (r *AccountRepository) Debit(accountID int64, amount decimal.Decimal, description string, idempotencyKey *string) (*LedgerResult, error) {
	return r.apply(accountID, models.TransactionTypeDebit, amount, description, idempotencyKey,
		func(acct *models.TradingAccount) (decimal.Decimal, error) {
			if amount.GreaterThan(acct.AvailableMargin) {
				return decimal.Zero, ErrInsufficientMargin
			}
			acct.Balance = acct.Balance.Sub(amount)
			acct.AvailableMargin = acct.AvailableMargin.Sub(amount)
			return amount.Neg(), nil
		})
}

// apply выполняет одну операцию ledger атомарно
//
// mutate применяет бизнес-правило к снимку счета и возвращает подписанную
// сумму для аудит-записи. При наличии idempotency key и существующей
// записи с этим ключом операция не применяется повторно.
func (r *AccountRepository) apply(
	accountID int64,
	opType string,
	amount decimal.Decimal,
	description string,
	idempotencyKey *string,
	mutate func(*models.TradingAccount) (decimal.Decimal, error),
) (*LedgerResult, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Проверка ключа идемпотентности до захвата блокировки строки
	if idempotencyKey != nil {
		var existingID int64
		err := tx.QueryRow(
			`SELECT id FROM transactions WHERE idempotency_key = $1`,
			*idempotencyKey,
		).Scan(&existingID)

		if err == nil {
			// Операция уже применена - возвращаем текущее состояние счета
			acct, err := r.lockAccount(tx, accountID)
			if err != nil {
				return nil, err
			}
			if err := tx.Commit(); err != nil {
				return nil, err
			}
			return &LedgerResult{Account: acct, AlreadyApplied: true}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	acct, err := r.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}

	signedAmount, err := mutate(acct)
	if err != nil {
		return nil, err
	}

	acct.UpdatedAt = time.Now()

	_, err = tx.Exec(
		`UPDATE trading_accounts
		 SET balance = $1, available_margin = $2, used_margin = $3, updated_at = $4
		 WHERE id = $5`,
		acct.Balance,
		acct.AvailableMargin,
		acct.UsedMargin,
		acct.UpdatedAt,
		accountID,
	)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(
		`INSERT INTO transactions (account_id, amount, type, description, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		accountID,
		signedAmount,
		opType,
		description,
		idempotencyKey,
		time.Now(),
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &LedgerResult{Account: acct}, nil
}

// lockAccount читает строку счета с блокировкой FOR UPDATE
func (r *AccountRepository) lockAccount(tx *sql.Tx, accountID int64) (*models.TradingAccount, error) {
	acct := &models.TradingAccount{}
	err := tx.QueryRow(
		`SELECT id, balance, available_margin, used_margin, updated_at, created_at
		 FROM trading_accounts
		 WHERE id = $1
		 FOR UPDATE`,
		accountID,
	).Scan(
		&acct.ID,
		&acct.Balance,
		&acct.AvailableMargin,
		&acct.UsedMargin,
		&acct.UpdatedAt,
		&acct.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return acct, nil
}

// GetTransactions возвращает последние аудит-записи счета
func (r *AccountRepository) GetTransactions(accountID int64, limit int) ([]*models.Transaction, error) {
	query := `
		SELECT id, account_id, amount, type, description, idempotency_key, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		txn := &models.Transaction{}
		err := rows.Scan(
			&txn.ID,
			&txn.AccountID,
			&txn.Amount,
			&txn.Type,
			&txn.Description,
			&txn.IdempotencyKey,
			&txn.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return txns, nil
}

// CountTransactionsByKey возвращает количество записей с данным ключом
// (используется тестами идемпотентности)
func (r *AccountRepository) CountTransactionsByKey(idempotencyKey string) (int, error) {
	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM transactions WHERE idempotency_key = $1`,
		idempotencyKey,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
