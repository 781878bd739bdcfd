package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/slot-reminder-engine/internal/reminder"
)

type captureSender struct {
	msgs []Message
	err  error
}

func (s *captureSender) Send(_ context.Context, msg Message) error {
	s.msgs = append(s.msgs, msg)
	return s.err
}

type fakePublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
	sent     int
	err      error
}

func (p *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if p.err != nil {
		return p.err
	}
	p.exchange, p.key, p.msg = exchange, key, msg
	p.sent++
	return nil
}

func fakeLink(pub *fakePublisher) (*amqpLink, chan *amqp.Error) {
	closed := make(chan *amqp.Error, 1)
	return &amqpLink{pub: pub, closed: closed, close: func() error { return nil }}, closed
}

func samplePayload() reminder.Payload {
	return reminder.Payload{
		BookingID:     "b-1",
		ProviderID:    "provider-1",
		ClientID:      "client-1",
		RecipientRole: reminder.RoleClient,
		Date:          "2026-03-02",
		StartTime:     "10:00",
		LeadMinutes:   60,
	}
}

func TestKindForLead(t *testing.T) {
	cases := map[int]Kind{
		60: KindReminder1h,
		10: KindReminder10min,
		30: Kind("reminder_30min"),
	}
	for lead, want := range cases {
		if got := KindForLead(lead); got != want {
			t.Fatalf("KindForLead(%d) = %s, want %s", lead, got, want)
		}
	}
}

func TestRouterSendsToEveryEnabledChannel(t *testing.T) {
	inApp, email := &captureSender{}, &captureSender{}
	r := NewRouter(DefaultKinds(true, true), map[Channel]Sender{
		ChannelInApp: inApp,
		ChannelEmail: email,
	}, zaptest.NewLogger(t))

	if err := r.Dispatch(context.Background(), "client-1", 60, samplePayload()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(inApp.msgs) != 1 || len(email.msgs) != 1 {
		t.Fatalf("in_app=%d email=%d", len(inApp.msgs), len(email.msgs))
	}
	got := email.msgs[0]
	if got.Kind != KindReminder1h || got.Channel != ChannelEmail || got.RecipientUserID != "client-1" {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestRouterRespectsKindConfig(t *testing.T) {
	inApp, email := &captureSender{}, &captureSender{}
	kinds := map[Kind]KindConfig{
		KindReminder10min: {InApp: true, Email: false, Title: "soon"},
	}
	r := NewRouter(kinds, map[Channel]Sender{ChannelInApp: inApp, ChannelEmail: email}, zaptest.NewLogger(t))

	if err := r.Dispatch(context.Background(), "provider-1", 10, samplePayload()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(inApp.msgs) != 1 || len(email.msgs) != 0 {
		t.Fatalf("in_app=%d email=%d", len(inApp.msgs), len(email.msgs))
	}
	if inApp.msgs[0].Title != "soon" {
		t.Fatalf("title %q", inApp.msgs[0].Title)
	}
}

func TestRouterPartialFailureStillSucceeds(t *testing.T) {
	inApp := &captureSender{}
	email := &captureSender{err: errors.New("smtp down")}
	r := NewRouter(DefaultKinds(true, true), map[Channel]Sender{ChannelInApp: inApp, ChannelEmail: email}, zaptest.NewLogger(t))

	if err := r.Dispatch(context.Background(), "client-1", 60, samplePayload()); err != nil {
		t.Fatalf("expected success when one channel delivered, got %v", err)
	}
}

func TestRouterFailsWhenNoChannelDelivers(t *testing.T) {
	email := &captureSender{err: errors.New("smtp down")}
	r := NewRouter(DefaultKinds(true, true), map[Channel]Sender{ChannelEmail: email}, zaptest.NewLogger(t))

	err := r.Dispatch(context.Background(), "client-1", 60, samplePayload())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, ErrNoChannel) {
		t.Fatalf("expected missing in_app sender to be reported, got %v", err)
	}
}

func TestAMQPSenderPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	link, _ := fakeLink(pub)
	s := &AMQPSender{link: link, exchange: "notifications"}

	msg := Message{
		Kind:            KindReminder10min,
		Channel:         ChannelInApp,
		RecipientUserID: "client-1",
		Title:           "soon",
		Payload:         samplePayload(),
	}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	if pub.exchange != "notifications" {
		t.Fatalf("exchange %q", pub.exchange)
	}
	if pub.key != "notification.in_app.reminder_10min" {
		t.Fatalf("routing key %q", pub.key)
	}
	if pub.msg.ContentType != "application/json" {
		t.Fatalf("content type %q", pub.msg.ContentType)
	}

	var decoded Message
	if err := json.Unmarshal(pub.msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.RecipientUserID != "client-1" || decoded.Payload.BookingID != "b-1" {
		t.Fatalf("unexpected body %+v", decoded)
	}
}

func TestAMQPSenderRedialsAfterClosedChannel(t *testing.T) {
	stale := &fakePublisher{err: amqp.ErrClosed}
	fresh := &fakePublisher{}
	staleLink, _ := fakeLink(stale)
	freshLink, _ := fakeLink(fresh)

	dials := 0
	s := &AMQPSender{
		exchange: "notifications",
		link:     staleLink,
		dial: func() (*amqpLink, error) {
			dials++
			return freshLink, nil
		},
	}

	msg := Message{Kind: KindReminder1h, Channel: ChannelEmail, Payload: samplePayload()}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("send after drop: %v", err)
	}
	if dials != 1 || fresh.sent != 1 {
		t.Fatalf("expected one redial and one publish, got dials=%d sent=%d", dials, fresh.sent)
	}

	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if dials != 1 || fresh.sent != 2 {
		t.Fatalf("healthy link must be reused, got dials=%d sent=%d", dials, fresh.sent)
	}
}

func TestAMQPSenderRedialsAfterCloseNotification(t *testing.T) {
	first := &fakePublisher{}
	second := &fakePublisher{}
	firstLink, closed := fakeLink(first)
	secondLink, _ := fakeLink(second)

	s := &AMQPSender{
		exchange: "notifications",
		link:     firstLink,
		dial:     func() (*amqpLink, error) { return secondLink, nil },
	}
	closed <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker restart"}

	if err := s.Send(context.Background(), Message{Kind: KindReminder1h, Channel: ChannelInApp, Payload: samplePayload()}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if first.sent != 0 || second.sent != 1 {
		t.Fatalf("expected publish on the new link, got first=%d second=%d", first.sent, second.sent)
	}
}

func TestAMQPSenderReportsFailedRedial(t *testing.T) {
	staleLink, _ := fakeLink(&fakePublisher{err: amqp.ErrClosed})
	s := &AMQPSender{
		exchange: "notifications",
		link:     staleLink,
		dial:     func() (*amqpLink, error) { return nil, errors.New("connection refused") },
	}

	if err := s.Send(context.Background(), Message{Kind: KindReminder1h, Channel: ChannelInApp, Payload: samplePayload()}); err == nil {
		t.Fatal("expected an error when the broker stays down")
	}

	// a later send tries again instead of staying stuck on the dead link
	s.dial = func() (*amqpLink, error) {
		link, _ := fakeLink(&fakePublisher{})
		return link, nil
	}
	if err := s.Send(context.Background(), Message{Kind: KindReminder1h, Channel: ChannelInApp, Payload: samplePayload()}); err != nil {
		t.Fatalf("send after broker recovery: %v", err)
	}
}
