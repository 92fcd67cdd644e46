package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// buildZapLogger returns a json logger for log collectors or a colored
// console logger for terminals.
func buildZapLogger(encoding string, level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}

	var config zap.Config

	switch encoding {
	case "json":
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.MessageKey = "message"
		encoderConfig.LevelKey = "severity"
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.NameKey = "logger"
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder

		config = zap.NewProductionConfig()
		config.EncoderConfig = encoderConfig
	default:
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

		config = zap.NewDevelopmentConfig()
		config.EncoderConfig = encoderConfig
	}

	config.Level = atomicLevel

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger.Named("notifier"), nil
}
