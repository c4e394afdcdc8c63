// Package logging builds the zap logger shared by the service components.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns the service logger and a cleanup func that flushes buffered
// entries. Debug switches to the development encoder.
func New(debug bool) (*zap.SugaredLogger, func()) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewExample()
	}
	logger = logger.Named("bloodlink-push")

	return logger.Sugar(), func() {
		_ = logger.Sync()
	}
}
