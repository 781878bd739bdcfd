package notify

import "fmt"

// Kind identifies a notification template. Reminders resolve their kind from the lead time.
type Kind string

const (
	KindReminder1h    Kind = "reminder_1h"
	KindReminder10min Kind = "reminder_10min"
)

func KindForLead(leadMinutes int) Kind {
	switch leadMinutes {
	case 60:
		return KindReminder1h
	case 10:
		return KindReminder10min
	}
	return Kind(fmt.Sprintf("reminder_%dmin", leadMinutes))
}

type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
)

// KindConfig says where one kind of notification goes.
type KindConfig struct {
	InApp bool
	Email bool
	Title string
}

func (c KindConfig) Channels() []Channel {
	var out []Channel
	if c.InApp {
		out = append(out, ChannelInApp)
	}
	if c.Email {
		out = append(out, ChannelEmail)
	}
	return out
}

// DefaultKinds is the reminder configuration with the given channel switches applied to every kind.
func DefaultKinds(inApp, email bool) map[Kind]KindConfig {
	return map[Kind]KindConfig{
		KindReminder1h:    {InApp: inApp, Email: email, Title: "Your session starts in 1 hour"},
		KindReminder10min: {InApp: inApp, Email: email, Title: "Your session starts in 10 minutes"},
	}
}
