package core

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger from cfg. The json format uses zap's
// production encoder; console uses the development encoder.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, NewMemoryError("NewLogger", fmt.Errorf("%w: log level %q", ErrInvalidConfig, cfg.Level))
		}
	}

	var zcfg zap.Config
	switch cfg.Format {
	case "", "json":
		zcfg = zap.NewProductionConfig()
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, NewMemoryError("NewLogger", fmt.Errorf("%w: log format %q", ErrInvalidConfig, cfg.Format))
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, NewMemoryError("NewLogger", err)
	}
	return logger.Named("recallmem"), nil
}
