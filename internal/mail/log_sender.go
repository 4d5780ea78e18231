package mail

import (
	"context"

	"go.uber.org/zap"
)

// LogSender logs outgoing mail metadata instead of sending it. Used in development when no
// mail API is configured. The body is never logged.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender returns a LogSender writing to logger (nil uses a no-op logger).
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.Info("mail suppressed", zap.String("to", to), zap.String("subject", subject), zap.Int("body_len", len(body)))
	return nil
}
