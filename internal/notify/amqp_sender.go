package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// amqpLink is one open connection + channel. closed fires when the broker drops either.
type amqpLink struct {
	pub    publisher
	closed <-chan *amqp.Error
	close  func() error
}

// AMQPSender publishes notifications as JSON to a topic exchange. Delivery to the user is the
// job of whatever consumes notification.<channel>.<kind>.
//
// A dropped connection is re-dialled on the next Send.
type AMQPSender struct {
	exchange string
	dial     func() (*amqpLink, error)

	mu   sync.Mutex
	link *amqpLink
}

func NewAMQPSender(url, exchange string) (*AMQPSender, error) {
	s := &AMQPSender{
		exchange: exchange,
		dial:     func() (*amqpLink, error) { return dialAMQP(url, exchange) },
	}
	link, err := s.dial()
	if err != nil {
		return nil, err
	}
	s.link = link
	return s, nil
}

func dialAMQP(url, exchange string) (*amqpLink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &amqpLink{
		pub:    ch,
		closed: ch.NotifyClose(make(chan *amqp.Error, 1)),
		close: func() error {
			_ = ch.Close()
			return conn.Close()
		},
	}, nil
}

func RoutingKey(ch Channel, kind Kind) string {
	return fmt.Sprintf("notification.%s.%s", ch, kind)
}

func (s *AMQPSender) Send(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.Payload.BookingID + ":" + string(msg.Payload.RecipientRole) + ":" + string(msg.Kind) + ":" + string(msg.Channel),
		Timestamp:    time.Now(),
		Body:         b,
	}
	key := RoutingKey(msg.Channel, msg.Kind)

	link, err := s.current()
	if err != nil {
		return err
	}
	err = link.pub.PublishWithContext(ctx, s.exchange, key, false, false, pub)
	if !errors.Is(err, amqp.ErrClosed) {
		return err
	}

	// the drop was only noticed now: reconnect once and retry
	s.drop(link)
	if link, err = s.current(); err != nil {
		return err
	}
	return link.pub.PublishWithContext(ctx, s.exchange, key, false, false, pub)
}

// current returns an open link, dialling a new one when the last was closed by the broker.
func (s *AMQPSender) current() (*amqpLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.link != nil {
		select {
		case <-s.link.closed:
			_ = s.link.close()
			s.link = nil
		default:
		}
	}
	if s.link == nil {
		link, err := s.dial()
		if err != nil {
			return nil, fmt.Errorf("reconnect rabbitmq: %w", err)
		}
		s.link = link
	}
	return s.link, nil
}

func (s *AMQPSender) drop(link *amqpLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == link {
		_ = link.close()
		s.link = nil
	}
}

func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return nil
	}
	err := s.link.close()
	s.link = nil
	return err
}
