package repository

import (
	"database/sql"
	"errors"
	"time"

	"brokerage/internal/models"
)

// Ошибки репозитория настроек
var (
	ErrSettingNotFound = errors.New("setting not found")
)

// SettingsRepository - работа с таблицей system_settings (key/value)
//
// Операторское хранилище настроек: резолвер риск-порогов читает отсюда
// первый слой конфигурации, админский surface пишет через Upsert.
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository создает новый экземпляр репозитория
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get возвращает значение по ключу
func (r *SettingsRepository) Get(key string) (*models.Setting, error) {
	query := `SELECT key, value, updated_at FROM system_settings WHERE key = $1`

	setting := &models.Setting{}
	err := r.db.QueryRow(query, key).Scan(
		&setting.Key,
		&setting.Value,
		&setting.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettingNotFound
		}
		return nil, err
	}

	return setting, nil
}

// Upsert создает или обновляет значение по ключу
func (r *SettingsRepository) Upsert(key, value string) error {
	query := `
		INSERT INTO system_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(query, key, value, time.Now())
	return err
}

// Delete удаляет значение по ключу
func (r *SettingsRepository) Delete(key string) error {
	result, err := r.db.Exec(`DELETE FROM system_settings WHERE key = $1`, key)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrSettingNotFound
	}

	return nil
}
