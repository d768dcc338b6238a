package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dmitrijs2005/getkey/internal/logging"
)

// loggerAdapter routes watermill's internal logs through logging.Logger.
type loggerAdapter struct {
	logger logging.Logger
}

// NewLoggerAdapter wraps l for use by watermill publishers.
func NewLoggerAdapter(l logging.Logger) watermill.LoggerAdapter {
	return &loggerAdapter{logger: l}
}

func fieldArgs(fields watermill.LogFields) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func (a *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(context.Background(), msg, append(fieldArgs(fields), "error", err)...)
}

func (a *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(context.Background(), msg, fieldArgs(fields)...)
}

func (a *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(context.Background(), msg, fieldArgs(fields)...)
}

func (a *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(context.Background(), msg, fieldArgs(fields)...)
}

func (a *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{logger: a.logger.With(fieldArgs(fields)...)}
}
