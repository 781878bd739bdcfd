package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hackgods/slot-reminder-engine/internal/reminder"
)

var ErrNoChannel = errors.New("no sender configured for channel")

// Message is one notification on one channel.
type Message struct {
	Kind            Kind             `json:"kind"`
	Channel         Channel          `json:"channel"`
	RecipientUserID string           `json:"recipient_user_id"`
	Title           string           `json:"title"`
	Body            string           `json:"body"`
	Payload         reminder.Payload `json:"payload"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Router turns a reminder into one message per enabled channel. It succeeds when at least one
// channel accepted the message.
type Router struct {
	kinds   map[Kind]KindConfig
	senders map[Channel]Sender
	logger  *zap.Logger
}

func NewRouter(kinds map[Kind]KindConfig, senders map[Channel]Sender, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		kinds:   kinds,
		senders: senders,
		logger:  logger.Named("notify"),
	}
}

func (r *Router) Dispatch(ctx context.Context, recipientUserID string, leadMinutes int, payload reminder.Payload) error {
	kind := KindForLead(leadMinutes)
	cfg, ok := r.kinds[kind]
	if !ok {
		cfg = KindConfig{InApp: true, Title: fmt.Sprintf("Your session starts in %d minutes", leadMinutes)}
	}

	channels := cfg.Channels()
	if len(channels) == 0 {
		r.logger.Debug("notification kind disabled", zap.String("kind", string(kind)))
		return nil
	}

	msg := Message{
		Kind:            kind,
		RecipientUserID: recipientUserID,
		Title:           cfg.Title,
		Body:            fmt.Sprintf("Booking %s on %s at %s.", payload.BookingID, payload.Date, payload.StartTime),
		Payload:         payload,
	}

	var errs []error
	delivered := 0
	for _, ch := range channels {
		sender, ok := r.senders[ch]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNoChannel, ch))
			continue
		}
		msg.Channel = ch
		if err := sender.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("send %s: %w", ch, err))
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return errors.Join(errs...)
	}
	if len(errs) > 0 {
		r.logger.Warn("notification partially delivered",
			zap.String("kind", string(kind)),
			zap.String("recipient", recipientUserID),
			zap.Error(errors.Join(errs...)),
		)
	}
	return nil
}
