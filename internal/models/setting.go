package models

import "time"

// Setting представляет одну запись операторского key/value хранилища
//
// Редактируется через админский management surface, читается резолвером
// риск-порогов (read-through с коротким TTL-кэшем).
type Setting struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
