package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/edvin/dbaas/internal/config"
)

// NewLogger creates the process logger. The service field is added when
// SERVICE_NAME is set.
func NewLogger(cfg *config.Config) zerolog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	ctx := zerolog.New(w).With().Timestamp()

	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	if cfg.TrackingMode != "" {
		ctx = ctx.Str("tracking_mode", cfg.TrackingMode)
	}

	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
