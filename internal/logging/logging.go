// Package logging builds the zap logger shared by the service binaries.
package logging

import (
	"strings"

	"go.uber.org/zap"
)

// New returns a production JSON logger for "prod"/"production" and a
// development console logger otherwise.
func New(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// ExitStatus logs err at error level and returns the process status for it.
// The caller syncs the logger and passes the status to os.Exit.
func ExitStatus(logger *zap.Logger, msg string, err error) int {
	if err == nil {
		return 0
	}
	OrNop(logger).Error(msg, zap.Error(err))
	return 1
}
