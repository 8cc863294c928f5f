// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production. Every
// entry carries the process role ("serve", "worker", "watch") when set.
func New(development bool, role string) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if role != "" {
		logger = logger.With(zap.String("role", role))
	}
	return logger, nil
}

// ProjectFields returns the standard fields attached to per-project log lines.
func ProjectFields(projectID int64, jobID string) []zap.Field {
	fields := []zap.Field{zap.Int64("project_id", projectID)}
	if jobID != "" {
		fields = append(fields, zap.String("job_id", jobID))
	}
	return fields
}
