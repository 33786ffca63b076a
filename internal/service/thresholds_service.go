package service

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"brokerage/internal/models"
	"brokerage/internal/repository"
)

// Ошибки резолвера риск-порогов
var (
	ErrInvalidThreshold = errors.New("threshold must be in (0, 1] or (1, 100]")
)

// ThresholdsService резолвит пару риск-порогов (warning, auto-close)
// из слоеной конфигурации.
//
// Порядок разрешения (по ключу, независимо):
// 1. Глобальное хранилище настроек (risk_warning_threshold / risk_auto_close_threshold)
// 2. Переменные окружения (значения из config, 0 = не задано)
// 3. Захардкоженные дефолты (0.80 / 0.90)
//
// Source отражает самый приоритетный слой, давший хотя бы одно значение.
//
// Нормализация: значение > 1 трактуется как процент и делится на 100.
// После нормализации autoClose < warning поднимается до warning - авто-закрытие
// никогда не срабатывает раньше предупреждения.
//
// Результат кэшируется на короткий TTL; запись порогов инвалидирует кэш.
type ThresholdsService struct {
	settingsRepo SettingsRepositoryInterface

	// Fallback-слой из переменных окружения; 0 означает "не задано"
	envWarning   float64
	envAutoClose float64

	ttl time.Duration

	mu         sync.Mutex
	cached     models.RiskThresholds
	cachedAt   time.Time
	cacheValid bool
}

// NewThresholdsService создает новый экземпляр ThresholdsService.
//
// envWarning / envAutoClose - значения из окружения (0 = слой пропускается),
// ttl - время жизни кэша разрешенных порогов.
func NewThresholdsService(settingsRepo SettingsRepositoryInterface, envWarning, envAutoClose float64, ttl time.Duration) *ThresholdsService {
	return &ThresholdsService{
		settingsRepo: settingsRepo,
		envWarning:   envWarning,
		envAutoClose: envAutoClose,
		ttl:          ttl,
	}
}

// Resolve возвращает текущие риск-пороги, используя TTL-кэш.
func (s *ThresholdsService) Resolve() (models.RiskThresholds, error) {
	return s.ResolveWithMaxAge(s.ttl)
}

// ResolveWithMaxAge возвращает риск-пороги, допуская кэш не старше maxAge.
//
// maxAge = 0 принудительно читает хранилище настроек (используется тестами
// и админским чтением после записи).
func (s *ThresholdsService) ResolveWithMaxAge(maxAge time.Duration) (models.RiskThresholds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cacheValid && maxAge > 0 && time.Since(s.cachedAt) <= maxAge {
		return s.cached, nil
	}

	resolved := s.resolveUncached()

	s.cached = resolved
	s.cachedAt = time.Now()
	s.cacheValid = true

	return resolved, nil
}

// Invalidate сбрасывает кэш; следующий Resolve прочитает хранилище заново.
func (s *ThresholdsService) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheValid = false
}

// resolveUncached выполняет слоеное разрешение без кэша.
//
// Ошибки чтения хранилища настроек не пробрасываются наверх: слой просто
// считается пустым, и разрешение падает на следующий слой. Вызывающий
// всегда получает валидную пару порогов.
func (s *ThresholdsService) resolveUncached() models.RiskThresholds {
	warning, warningFromSettings := s.settingValue(models.SettingKeyRiskWarningThreshold)
	autoClose, autoCloseFromSettings := s.settingValue(models.SettingKeyRiskAutoCloseThreshold)

	source := models.ThresholdSourceSettings
	if !warningFromSettings && !autoCloseFromSettings {
		source = models.ThresholdSourceEnv
		if s.envWarning <= 0 && s.envAutoClose <= 0 {
			source = models.ThresholdSourceDefault
		}
	}

	if !warningFromSettings {
		warning = s.envWarning
	}
	if !autoCloseFromSettings {
		autoClose = s.envAutoClose
	}

	warning = normalizeThreshold(warning, models.DefaultWarningThreshold)
	autoClose = normalizeThreshold(autoClose, models.DefaultAutoCloseThreshold)

	// Авто-закрытие не может срабатывать раньше предупреждения
	if autoClose < warning {
		autoClose = warning
	}

	return models.RiskThresholds{
		WarningThreshold:   warning,
		AutoCloseThreshold: autoClose,
		Source:             source,
	}
}

// settingValue читает пороговое значение из хранилища настроек.
// Возвращает (0, false), если ключ отсутствует или значение невалидно.
func (s *ThresholdsService) settingValue(key string) (float64, bool) {
	setting, err := s.settingsRepo.Get(key)
	if err != nil {
		return 0, false
	}

	value, err := strconv.ParseFloat(setting.Value, 64)
	if err != nil || value <= 0 || value > 100 {
		return 0, false
	}

	return value, true
}

// normalizeThreshold приводит значение к доле (0, 1].
//
// Значение > 1 трактуется как процент. Невалидное значение (<= 0 или > 100
// после интерпретации) заменяется дефолтом.
func normalizeThreshold(value, fallback float64) float64 {
	if value > 1 && value <= 100 {
		value = value / 100
	}
	if value <= 0 || value > 1 {
		return fallback
	}
	return value
}

// UpdateThresholdsRequest представляет запрос на обновление риск-порогов.
// Все поля опциональны - обновляются только переданные.
type UpdateThresholdsRequest struct {
	WarningThreshold   *float64 `json:"warning_threshold,omitempty"`
	AutoCloseThreshold *float64 `json:"auto_close_threshold,omitempty"`
}

// UpdateThresholds записывает пороги в хранилище настроек и инвалидирует кэш.
//
// Принимает долю (0, 1] или процент (1, 100]. Невалидное значение отклоняется
// с ErrInvalidThreshold; прежняя конфигурация остается в силе.
// Возвращает свежеразрешенную пару (с учетом clamp-правила).
func (s *ThresholdsService) UpdateThresholds(req *UpdateThresholdsRequest) (models.RiskThresholds, error) {
	if req.WarningThreshold != nil {
		if err := validateThreshold(*req.WarningThreshold); err != nil {
			return models.RiskThresholds{}, err
		}
	}
	if req.AutoCloseThreshold != nil {
		if err := validateThreshold(*req.AutoCloseThreshold); err != nil {
			return models.RiskThresholds{}, err
		}
	}

	if req.WarningThreshold != nil {
		if err := s.settingsRepo.Upsert(models.SettingKeyRiskWarningThreshold, formatThreshold(*req.WarningThreshold)); err != nil {
			return models.RiskThresholds{}, err
		}
	}
	if req.AutoCloseThreshold != nil {
		if err := s.settingsRepo.Upsert(models.SettingKeyRiskAutoCloseThreshold, formatThreshold(*req.AutoCloseThreshold)); err != nil {
			return models.RiskThresholds{}, err
		}
	}

	s.Invalidate()

	return s.ResolveWithMaxAge(0)
}

func validateThreshold(value float64) error {
	if value <= 0 || value > 100 {
		return ErrInvalidThreshold
	}
	return nil
}

func formatThreshold(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// ResetThresholds удаляет операторские пороги из хранилища настроек;
// разрешение падает на env/default слои.
func (s *ThresholdsService) ResetThresholds() error {
	for _, key := range []string{models.SettingKeyRiskWarningThreshold, models.SettingKeyRiskAutoCloseThreshold} {
		if err := s.settingsRepo.Delete(key); err != nil && !errors.Is(err, repository.ErrSettingNotFound) {
			return err
		}
	}
	s.Invalidate()
	return nil
}
