package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"brokerage/internal/models"
	"brokerage/pkg/utils"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionRepository - работа с таблицей positions
//
// ApplyFill объединяет переход статуса ордера и слияние позиции в одну
// транзакцию БД: исполнение либо видно целиком, либо не видно вовсе.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

const positionColumns = `id, account_id, symbol, instrument_token, quantity, average_price,
		stop_loss, target, created_at, updated_at`

// FillParams - параметры атомарного применения исполнения
type FillParams struct {
	OrderID         int64
	AccountID       int64
	Symbol          string
	InstrumentToken int64
	// Дельта количества со знаком направления (+BUY / -SELL)
	QuantityDelta int64
	Price         float64
	FilledAt      time.Time
}

// FillResult - результат применения исполнения
type FillResult struct {
	// Позиция после слияния; nil, если позиция выровнена в ноль и удалена
	Position *models.Position
	// Flattened = true, если исполнение закрыло позицию полностью
	Flattened bool
}

// ApplyFill атомарно переводит ордер в EXECUTED и сливает позицию
//
// Порядок внутри транзакции:
//  1. UPDATE orders ... WHERE status = 'PENDING' - оптимистичный guard;
//     0 строк означает, что конкурентный проход уже исполнил ордер,
//     транзакция откатывается без побочных эффектов (ErrOrderAlreadyProcessed).
//  2. SELECT позиции FOR UPDATE и слияние:
//     - добавление в ту же сторону: количество суммируется, средняя цена
//       пересчитывается средневзвешенно;
//     - встречное исполнение: количество уменьшается, средняя не меняется;
//     - разворот через ноль: средняя цена = цена исполнения;
//     - итоговый ноль: строка удаляется (позиция закрыта).
func (r *PositionRepository) ApplyFill(p FillParams) (*FillResult, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE orders
		 SET status = $1, filled_quantity = $2, average_price = $3, executed_at = $4
		 WHERE id = $5 AND status = $6`,
		models.OrderStatusExecuted,
		absInt64(p.QuantityDelta),
		p.Price,
		p.FilledAt,
		p.OrderID,
		models.OrderStatusPending,
	)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, ErrOrderAlreadyProcessed
	}

	pos := &models.Position{}
	err = tx.QueryRow(
		`SELECT `+positionColumns+`
		 FROM positions
		 WHERE account_id = $1 AND instrument_token = $2
		 FOR UPDATE`,
		p.AccountID, p.InstrumentToken,
	).Scan(
		&pos.ID,
		&pos.AccountID,
		&pos.Symbol,
		&pos.InstrumentToken,
		&pos.Quantity,
		&pos.AveragePrice,
		&pos.StopLoss,
		&pos.Target,
		&pos.CreatedAt,
		&pos.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		// Новая позиция
		pos = &models.Position{
			AccountID:       p.AccountID,
			Symbol:          p.Symbol,
			InstrumentToken: p.InstrumentToken,
			Quantity:        p.QuantityDelta,
			AveragePrice:    p.Price,
			CreatedAt:       p.FilledAt,
			UpdatedAt:       p.FilledAt,
		}
		err = tx.QueryRow(
			`INSERT INTO positions (account_id, symbol, instrument_token, quantity, average_price, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			pos.AccountID, pos.Symbol, pos.InstrumentToken, pos.Quantity, pos.AveragePrice,
			pos.CreatedAt, pos.UpdatedAt,
		).Scan(&pos.ID)
		if err != nil {
			return nil, err
		}

		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &FillResult{Position: pos}, nil
	}
	if err != nil {
		return nil, err
	}

	newQuantity := pos.Quantity + p.QuantityDelta

	switch {
	case newQuantity == 0:
		// Позиция выровнена - строка удаляется, история остается
		// в orders и transactions
		if _, err := tx.Exec(`DELETE FROM positions WHERE id = $1`, pos.ID); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &FillResult{Flattened: true}, nil

	case sameSign(pos.Quantity, p.QuantityDelta):
		// Наращивание в ту же сторону - средневзвешенная цена
		pos.AveragePrice = utils.WeightedAverage(
			pos.AveragePrice, float64(absInt64(pos.Quantity)),
			p.Price, float64(absInt64(p.QuantityDelta)),
		)
		pos.Quantity = newQuantity

	case sameSign(newQuantity, p.QuantityDelta):
		// Разворот через ноль - остаток открыт по цене исполнения
		pos.Quantity = newQuantity
		pos.AveragePrice = p.Price

	default:
		// Частичное встречное закрытие - средняя цена не меняется
		pos.Quantity = newQuantity
	}

	pos.UpdatedAt = p.FilledAt

	_, err = tx.Exec(
		`UPDATE positions SET quantity = $1, average_price = $2, updated_at = $3 WHERE id = $4`,
		pos.Quantity, pos.AveragePrice, pos.UpdatedAt, pos.ID,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &FillResult{Position: pos}, nil
}

// GetByID возвращает позицию по ID
func (r *PositionRepository) GetByID(id int64) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	pos := &models.Position{}
	err := r.db.QueryRow(query, id).Scan(
		&pos.ID,
		&pos.AccountID,
		&pos.Symbol,
		&pos.InstrumentToken,
		&pos.Quantity,
		&pos.AveragePrice,
		&pos.StopLoss,
		&pos.Target,
		&pos.CreatedAt,
		&pos.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}

	return pos, nil
}

// GetOpenByAccount возвращает открытые позиции счета, стабильно по id
//
// Порядок важен: tie-break отбора auto-close при равном PNL - порядок входа.
func (r *PositionRepository) GetOpenByAccount(accountID int64) ([]*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE account_id = $1 AND quantity != 0
		ORDER BY id ASC`

	rows, err := r.db.Query(query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetAccountsWithOpenPositions возвращает ID счетов с открытыми позициями
// (вход риск-прохода воркера)
func (r *PositionRepository) GetAccountsWithOpenPositions() ([]int64, error) {
	rows, err := r.db.Query(
		`SELECT DISTINCT account_id FROM positions WHERE quantity != 0 ORDER BY account_id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

// UpdateStopLossTarget обновляет уровни SL/Target позиции
func (r *PositionRepository) UpdateStopLossTarget(id int64, stopLoss, target *float64) error {
	result, err := r.db.Exec(
		`UPDATE positions SET stop_loss = $1, target = $2, updated_at = $3 WHERE id = $4`,
		stopLoss, target, time.Now(), id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPositionNotFound
	}

	return nil
}

// scanPositions собирает позиции из rows
func scanPositions(rows *sql.Rows) ([]*models.Position, error) {
	var positions []*models.Position
	for rows.Next() {
		pos := &models.Position{}
		err := rows.Scan(
			&pos.ID,
			&pos.AccountID,
			&pos.Symbol,
			&pos.InstrumentToken,
			&pos.Quantity,
			&pos.AveragePrice,
			&pos.StopLoss,
			&pos.Target,
			&pos.CreatedAt,
			&pos.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
