package repository

import (
	"database/sql"
	"errors"

	"brokerage/internal/models"
)

// Ошибки репозитория heartbeat
var (
	ErrHeartbeatNotFound = errors.New("worker heartbeat not found")
)

// HeartbeatRepository - работа с таблицей worker_heartbeats
//
// Одна запись на проход воркера; внешний мониторинг читает последнюю,
// чтобы судить о свежести server-side режима риска.
type HeartbeatRepository struct {
	db *sql.DB
}

// NewHeartbeatRepository создает новый экземпляр репозитория
func NewHeartbeatRepository(db *sql.DB) *HeartbeatRepository {
	return &HeartbeatRepository{db: db}
}

// Save сохраняет сводку прохода
func (r *HeartbeatRepository) Save(hb *models.WorkerHeartbeat) error {
	query := `
		INSERT INTO worker_heartbeats (last_run_at, scanned, updated, skipped, errors, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return r.db.QueryRow(
		query,
		hb.LastRunAt,
		hb.Scanned,
		hb.Updated,
		hb.Skipped,
		hb.Errors,
		hb.ElapsedMs,
	).Scan(&hb.ID)
}

// GetLatest возвращает последнюю сводку
func (r *HeartbeatRepository) GetLatest() (*models.WorkerHeartbeat, error) {
	query := `
		SELECT id, last_run_at, scanned, updated, skipped, errors, elapsed_ms
		FROM worker_heartbeats
		ORDER BY last_run_at DESC
		LIMIT 1`

	hb := &models.WorkerHeartbeat{}
	err := r.db.QueryRow(query).Scan(
		&hb.ID,
		&hb.LastRunAt,
		&hb.Scanned,
		&hb.Updated,
		&hb.Skipped,
		&hb.Errors,
		&hb.ElapsedMs,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrHeartbeatNotFound
		}
		return nil, err
	}

	return hb, nil
}

// DeleteOlderThan удаляет старые сводки (обслуживание таблицы)
func (r *HeartbeatRepository) DeleteOlderThan(keepCount int) (int64, error) {
	query := `
		DELETE FROM worker_heartbeats
		WHERE id NOT IN (
			SELECT id FROM worker_heartbeats ORDER BY last_run_at DESC LIMIT $1
		)`

	result, err := r.db.Exec(query, keepCount)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
