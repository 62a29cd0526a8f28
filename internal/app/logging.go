package app

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// NewLogger настраивает logrus по FARMOMS_LOG_LEVEL и FARMOMS_LOG_FORMAT.
// Неизвестный уровень заменяется на info.
func NewLogger(level, format string) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stdout)

	switch format {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}
