package repository

import (
	"database/sql"
	"errors"
	"time"

	"brokerage/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyProcessed - оптимистичный guard не прошел:
	// ордер уже переведен в терминальный статус конкурентным проходом
	ErrOrderAlreadyProcessed = errors.New("order already processed")
)

// OrderRepository - работа с таблицей orders
//
// Все переходы статуса используют условие WHERE status = 'PENDING':
// повторный забор того же ордера вторым конкурентным проходом воркера
// становится no-op, а не двойным исполнением.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, account_id, symbol, instrument_token, side, order_type, quantity,
		limit_price, status, filled_quantity, average_price, created_at, executed_at,
		closes_position_id`

// Create создает ордер (используется синтезом закрывающих ордеров риск-прохода)
func (r *OrderRepository) Create(order *models.Order) error {
	query := `
		INSERT INTO orders (account_id, symbol, instrument_token, side, order_type, quantity,
			limit_price, status, filled_quantity, created_at, closes_position_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	order.CreatedAt = time.Now()

	return r.db.QueryRow(
		query,
		order.AccountID,
		order.Symbol,
		order.InstrumentToken,
		order.Side,
		order.OrderType,
		order.Quantity,
		order.LimitPrice,
		order.Status,
		order.FilledQuantity,
		order.CreatedAt,
		order.ClosesPositionID,
	).Scan(&order.ID)
}

// GetByID возвращает ордер по ID
func (r *OrderRepository) GetByID(id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order := &models.Order{}
	err := r.db.QueryRow(query, id).Scan(
		&order.ID,
		&order.AccountID,
		&order.Symbol,
		&order.InstrumentToken,
		&order.Side,
		&order.OrderType,
		&order.Quantity,
		&order.LimitPrice,
		&order.Status,
		&order.FilledQuantity,
		&order.AveragePrice,
		&order.CreatedAt,
		&order.ExecutedAt,
		&order.ClosesPositionID,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	return order, nil
}

// GetPending возвращает до limit PENDING ордеров старше createdBefore,
// старые первыми (FIFO по времени создания)
//
// createdBefore реализует грейс-окно: ордера моложе окна оставляются
// синхронному пути размещения и забираются следующим проходом.
func (r *OrderRepository) GetPending(limit int, createdBefore time.Time) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1 AND created_at <= $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := r.db.Query(query, models.OrderStatusPending, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order := &models.Order{}
		err := rows.Scan(
			&order.ID,
			&order.AccountID,
			&order.Symbol,
			&order.InstrumentToken,
			&order.Side,
			&order.OrderType,
			&order.Quantity,
			&order.LimitPrice,
			&order.Status,
			&order.FilledQuantity,
			&order.AveragePrice,
			&order.CreatedAt,
			&order.ExecutedAt,
			&order.ClosesPositionID,
		)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// HasPendingClose возвращает true, если для позиции уже существует
// PENDING закрывающий ордер риск-прохода.
//
// Guard против повторного синтеза: незавершенный закрывающий ордер
// прошлого прохода не должен дублироваться следующим.
func (r *OrderRepository) HasPendingClose(positionID int64) (bool, error) {
	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM orders WHERE closes_position_id = $1 AND status = $2`,
		positionID, models.OrderStatusPending,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkRejected переводит PENDING ордер в REJECTED
func (r *OrderRepository) MarkRejected(id int64) error {
	return r.transition(id, models.OrderStatusRejected)
}

// MarkCancelled переводит PENDING ордер в CANCELLED
func (r *OrderRepository) MarkCancelled(id int64) error {
	return r.transition(id, models.OrderStatusCancelled)
}

// transition выполняет односторонний переход PENDING -> терминальный статус
func (r *OrderRepository) transition(id int64, status string) error {
	result, err := r.db.Exec(
		`UPDATE orders SET status = $1 WHERE id = $2 AND status = $3`,
		status, id, models.OrderStatusPending,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrOrderAlreadyProcessed
	}

	return nil
}

// CountByStatus возвращает количество ордеров с определенным статусом
func (r *OrderRepository) CountByStatus(status string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM orders WHERE status = $1`, status).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetRecentByAccount возвращает последние ордера счета
func (r *OrderRepository) GetRecentByAccount(accountID int64, limit int) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order := &models.Order{}
		err := rows.Scan(
			&order.ID,
			&order.AccountID,
			&order.Symbol,
			&order.InstrumentToken,
			&order.Side,
			&order.OrderType,
			&order.Quantity,
			&order.LimitPrice,
			&order.Status,
			&order.FilledQuantity,
			&order.AveragePrice,
			&order.CreatedAt,
			&order.ExecutedAt,
			&order.ClosesPositionID,
		)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}
