package tunnel

import (
	"context"

	ngroklog "golang.ngrok.com/ngrok/log"

	"github.com/ajitpratap0/mcp-widget-server/pkg/logging"
)

// LogBridge routes the ngrok agent's logs into a structured logger
type LogBridge struct {
	logger logging.Logger
}

var _ ngroklog.Logger = (*LogBridge)(nil)

// NewLogBridge creates a bridge writing to logger
func NewLogBridge(logger logging.Logger) *LogBridge {
	return &LogBridge{logger: logger.WithFields(logging.String("provider", Provider))}
}

// Log implements the ngrok logger
func (b *LogBridge) Log(ctx context.Context, level ngroklog.LogLevel, msg string, data map[string]interface{}) {
	fields := make([]logging.Field, 0, len(data))
	for k, v := range data {
		fields = append(fields, logging.Any(k, v))
	}

	switch {
	case level >= ngroklog.LogLevelDebug:
		b.logger.Debug(msg, fields...)
	case level == ngroklog.LogLevelInfo:
		b.logger.Info(msg, fields...)
	case level == ngroklog.LogLevelWarn:
		b.logger.Warn(msg, fields...)
	case level == ngroklog.LogLevelError:
		b.logger.Error(msg, fields...)
	}
}
