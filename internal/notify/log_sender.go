package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes notifications to the log. It stands in for a real channel in development.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("notification",
		zap.String("kind", string(msg.Kind)),
		zap.String("channel", string(msg.Channel)),
		zap.String("recipient", msg.RecipientUserID),
		zap.String("booking_id", msg.Payload.BookingID),
		zap.String("title", msg.Title),
	)
	return nil
}
