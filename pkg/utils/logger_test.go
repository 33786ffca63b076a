package utils

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestInitLogger_Levels(t *testing.T) {
	tests := []struct {
		level    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"unknown", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := InitLogger(tt.level, "json", "")
			if logger == nil {
				t.Fatal("InitLogger вернул nil")
			}
			defer logger.Sync()

			if tt.expected != zapcore.DebugLevel && logger.Core().Enabled(zapcore.DebugLevel) {
				t.Errorf("уровень %s не должен пропускать debug", tt.level)
			}
			if !logger.Core().Enabled(tt.expected) {
				t.Errorf("уровень %s должен пропускать %v", tt.level, tt.expected)
			}
		})
	}
}

func TestInitLogger_ConsoleFormat(t *testing.T) {
	logger := InitLogger("info", "console", "")
	if logger == nil {
		t.Fatal("InitLogger вернул nil")
	}
	logger.Sync()
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	if logger == nil {
		t.Fatal("NopLogger вернул nil")
	}
	// Не должен паниковать
	logger.Info("test")
}
