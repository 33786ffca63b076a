package models

// RiskThresholds представляет пару операторских риск-порогов
//
// Значения - доли в (0, 1]. Инвариант: AutoCloseThreshold >= WarningThreshold,
// приводится при резолвинге (clamp), в нарушенном виде никогда не отдается
// наружу. Source сообщает слой конфигурации, из которого взяты значения.
type RiskThresholds struct {
	WarningThreshold   float64 `json:"warning_threshold"`
	AutoCloseThreshold float64 `json:"auto_close_threshold"`
	Source             string  `json:"source"`
}

// Источники риск-порогов (в порядке приоритета)
const (
	ThresholdSourceSettings = "system_settings"
	ThresholdSourceEnv      = "env"
	ThresholdSourceDefault  = "default"
)

// Дефолтные риск-пороги
const (
	DefaultWarningThreshold   = 0.80
	DefaultAutoCloseThreshold = 0.90
)

// Ключи порогов в хранилище system_settings
const (
	SettingKeyRiskWarningThreshold   = "risk_warning_threshold"
	SettingKeyRiskAutoCloseThreshold = "risk_auto_close_threshold"
)
