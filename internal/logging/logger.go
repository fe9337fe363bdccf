package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the service logger. Level accepts the usual zap names
// ("debug", "info", ...); unknown values fall back to info. The dev
// environment gets the human-readable console encoder.
func New(service, env, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl := new(zapcore.Level)
	if err := lvl.Set(level); err != nil {
		*lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(*lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build(zap.Fields(
		zap.String("service", service),
		zap.String("env", env),
	))
}
