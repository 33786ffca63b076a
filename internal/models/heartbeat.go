package models

import "time"

// WorkerHeartbeat представляет сводку одного прохода воркера исполнения
//
// Записывается один раз за проход независимо от ошибок. Читается внешним
// мониторингом для решения, можно ли доверять server-side режиму риска.
// Для корректности самого движка не используется.
type WorkerHeartbeat struct {
	ID        int64     `json:"id" db:"id"`
	LastRunAt time.Time `json:"last_run_at" db:"last_run_at"`
	Scanned   int       `json:"scanned" db:"scanned"`
	Updated   int       `json:"updated" db:"updated"`
	Skipped   int       `json:"skipped" db:"skipped"`
	Errors    int       `json:"errors" db:"errors"`
	ElapsedMs int64     `json:"elapsed_ms" db:"elapsed_ms"`
}
