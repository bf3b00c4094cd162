package core

import "time"

// ClockLayout is the short timestamp shown in front of every chat line.
const ClockLayout = "15:04:05"

// Message is the domain model for a chat message. Sender is empty for system messages.
type Message struct {
	Sender string
	Text   string
	Clock  string
	At     time.Time
}

// NewMessage stamps a message with the given time.
func NewMessage(sender, text string, at time.Time) Message {
	return Message{
		Sender: sender,
		Text:   text,
		Clock:  at.Format(ClockLayout),
		At:     at,
	}
}

// IsSystem reports whether the message has no human sender.
func (m Message) IsSystem() bool {
	return m.Sender == ""
}

// Format renders the message as a protocol line.
func (m Message) Format() string {
	if m.IsSystem() {
		return "[" + m.Clock + "] " + m.Text
	}
	return "[" + m.Clock + "] " + m.Sender + ": " + m.Text
}
