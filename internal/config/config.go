package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Security   SecurityConfig
	Worker     WorkerConfig
	MarketData MarketDataConfig
	Risk       RiskConfig
	Logging    LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// bcrypt-хеш bearer-токена планировщика воркера.
	// Сам токен нигде не хранится.
	WorkerTokenHash string
}

// WorkerConfig - настройки воркера исполнения ордеров
type WorkerConfig struct {
	// Самопланирование: если Interval > 0, воркер запускается тикером,
	// иначе только по внешнему триггеру (POST /api/v1/worker/run)
	Interval time.Duration

	// Максимум PENDING ордеров за один проход
	BatchLimit int

	// Минимальный возраст ордера перед забором воркером
	// (грейс-окно для синхронного пути размещения)
	MinOrderAge time.Duration

	// Максимальный допустимый возраст котировки при исполнении
	QuoteMaxAge time.Duration

	// Лимит позиций, закрываемых за один риск-проход (0 = без лимита)
	MaxAutoClose int
}

// MarketDataConfig - настройки подключения к фиду котировок
type MarketDataConfig struct {
	URL string

	// Размер пачки токенов в одном subscribe-сообщении
	SubscribeBatchSize int

	// Переподключение с exponential backoff
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMaxRetries   int
	ConnectTimeout        time.Duration
	PingInterval          time.Duration
	PongTimeout           time.Duration
}

// RiskConfig - env-слой риск-порогов (fallback между system_settings и дефолтами)
//
// Значение 0 означает "не задано в окружении" - резолвер проваливается
// на следующий слой.
type RiskConfig struct {
	WarningThreshold   float64
	AutoCloseThreshold float64
	ThresholdsCacheTTL time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "brokerage"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			WorkerTokenHash: getEnv("WORKER_TOKEN_HASH", ""),
		},
		Worker: WorkerConfig{
			Interval:     getEnvAsDuration("WORKER_INTERVAL", 0),
			BatchLimit:   getEnvAsInt("WORKER_BATCH_LIMIT", 100),
			MinOrderAge:  getEnvAsDuration("WORKER_MIN_ORDER_AGE", 2*time.Second),
			QuoteMaxAge:  getEnvAsDuration("WORKER_QUOTE_MAX_AGE", 10*time.Second),
			MaxAutoClose: getEnvAsInt("WORKER_MAX_AUTO_CLOSE", 0),
		},
		MarketData: MarketDataConfig{
			URL:                   getEnv("MARKET_DATA_URL", "wss://feed.example.com/quotes"),
			SubscribeBatchSize:    getEnvAsInt("MARKET_DATA_SUBSCRIBE_BATCH", 400),
			ReconnectInitialDelay: getEnvAsDuration("MARKET_DATA_RECONNECT_DELAY", 2*time.Second),
			ReconnectMaxDelay:     getEnvAsDuration("MARKET_DATA_RECONNECT_MAX_DELAY", 16*time.Second),
			ReconnectMaxRetries:   getEnvAsInt("MARKET_DATA_RECONNECT_MAX_RETRIES", 10),
			ConnectTimeout:        getEnvAsDuration("MARKET_DATA_CONNECT_TIMEOUT", 10*time.Second),
			PingInterval:          getEnvAsDuration("MARKET_DATA_PING_INTERVAL", 30*time.Second),
			PongTimeout:           getEnvAsDuration("MARKET_DATA_PONG_TIMEOUT", 10*time.Second),
		},
		Risk: RiskConfig{
			WarningThreshold:   getEnvAsFloat("RISK_WARNING_THRESHOLD", 0),
			AutoCloseThreshold: getEnvAsFloat("RISK_AUTO_CLOSE_THRESHOLD", 0),
			ThresholdsCacheTTL: getEnvAsDuration("RISK_THRESHOLDS_CACHE_TTL", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Worker.BatchLimit < 1 {
		return fmt.Errorf("WORKER_BATCH_LIMIT must be at least 1, got %d", c.Worker.BatchLimit)
	}

	if c.Worker.QuoteMaxAge <= 0 {
		return fmt.Errorf("WORKER_QUOTE_MAX_AGE must be positive, got %v", c.Worker.QuoteMaxAge)
	}

	if c.Worker.MinOrderAge < 0 {
		return fmt.Errorf("WORKER_MIN_ORDER_AGE cannot be negative, got %v", c.Worker.MinOrderAge)
	}

	if c.Worker.MaxAutoClose < 0 {
		return fmt.Errorf("WORKER_MAX_AUTO_CLOSE cannot be negative, got %d", c.Worker.MaxAutoClose)
	}

	if c.MarketData.SubscribeBatchSize < 1 {
		return fmt.Errorf("MARKET_DATA_SUBSCRIBE_BATCH must be at least 1, got %d", c.MarketData.SubscribeBatchSize)
	}

	if c.MarketData.ReconnectMaxRetries < 0 {
		return fmt.Errorf("MARKET_DATA_RECONNECT_MAX_RETRIES cannot be negative, got %d", c.MarketData.ReconnectMaxRetries)
	}

	// Env-слой порогов: допускаем и доли (0,1], и проценты (1,100];
	// нормализация происходит в резолвере
	if c.Risk.WarningThreshold < 0 || c.Risk.WarningThreshold > 100 {
		return fmt.Errorf("RISK_WARNING_THRESHOLD must be in (0,100], got %v", c.Risk.WarningThreshold)
	}

	if c.Risk.AutoCloseThreshold < 0 || c.Risk.AutoCloseThreshold > 100 {
		return fmt.Errorf("RISK_AUTO_CLOSE_THRESHOLD must be in (0,100], got %v", c.Risk.AutoCloseThreshold)
	}

	if c.Risk.ThresholdsCacheTTL < 0 {
		return fmt.Errorf("RISK_THRESHOLDS_CACHE_TTL cannot be negative, got %v", c.Risk.ThresholdsCacheTTL)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
