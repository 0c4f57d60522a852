package log

import (
	"os"

	"go.uber.org/zap"
)

type Logger struct {
	*zap.SugaredLogger
}

// NewLogger builds the pipeline logger. LOG_MODE=development switches to
// zap's console encoder for local runs; production JSON otherwise.
func NewLogger() *Logger {
	var logger *zap.Logger
	var err error
	if os.Getenv("LOG_MODE") == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return &Logger{logger.Named("labelq").Sugar()}
}
