package utils

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logger.go - настройка структурированного логирования (zap)
//
// Уровни: debug, info, warn, error. Формат: json или console.
// При заданном файле лог пишется одновременно в stdout и в файл
// с ротацией (lumberjack).

// InitLogger создает и настраивает zap.Logger
//
// Параметры:
//   - level: debug | info | warn | error (иначе info)
//   - format: json | console
//   - file: путь к лог-файлу; пустая строка = только stdout
func InitLogger(level, format, file string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if format == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if file != "" {
		// Ротация лог-файлов: 10MB, 3 бэкапа, 28 дней
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.NewMultiWriteSyncer(sinks...),
		zapLevel,
	)

	return zap.New(core, zap.AddCaller())
}

// NopLogger возвращает logger, который ничего не пишет (для тестов)
func NopLogger() *zap.Logger {
	return zap.NewNop()
}
