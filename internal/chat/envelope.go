package chat

import (
	"encoding/json"
	"time"
)

// Event names on the wire.
const (
	EventNewUser          = "new user"
	EventSystemMessage    = "system message"
	EventUserConnected    = "user connected"
	EventUserDisconnected = "user disconnected"
	EventOnlineUsers      = "online users"
	EventPublicMessage    = "public message"
	EventPrivateMessage   = "private message"

	// EventChatMessage is the legacy name for EventPublicMessage, accepted inbound only.
	EventChatMessage = "chat message"
)

// SystemSender is the reserved sender of operator and error notices. No
// session may claim it.
const SystemSender = "system"

// TimestampLayout renders envelope timestamps as ISO-8601 UTC with millisecond
// precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Kind tells public and private envelopes apart.
type Kind string

const (
	KindPublic  Kind = "public"
	KindPrivate Kind = "private"
)

// Frame is one outbound wire message.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Envelope is an immutable outbound message. Build one with NewPublicEnvelope,
// NewPrivateEnvelope or NewNotice.
type Envelope struct {
	sender    string
	text      string
	recipient string
	timestamp time.Time
	kind      Kind
}

// NewPublicEnvelope builds an envelope for every connected session.
func NewPublicEnvelope(sender, text string, at time.Time) Envelope {
	return Envelope{sender: sender, text: text, timestamp: at, kind: KindPublic}
}

// NewPrivateEnvelope builds an envelope for sender and recipient only.
func NewPrivateEnvelope(sender, recipient, text string, at time.Time) Envelope {
	return Envelope{sender: sender, text: text, recipient: recipient, timestamp: at, kind: KindPrivate}
}

// NewNotice builds a system notice. It has the public shape with SystemSender
// as the sender.
func NewNotice(text string, at time.Time) Envelope {
	return NewPublicEnvelope(SystemSender, text, at)
}

// Sender returns the identity the message is from, or SystemSender.
func (e Envelope) Sender() string { return e.sender }

// Text returns the message body as sent.
func (e Envelope) Text() string { return e.text }

// Recipient returns the addressee of a private message, empty otherwise.
func (e Envelope) Recipient() string { return e.recipient }

// Timestamp returns when the message was routed.
func (e Envelope) Timestamp() time.Time { return e.timestamp }

// Kind returns KindPublic or KindPrivate.
func (e Envelope) Kind() Kind { return e.kind }

// IsPrivate reports whether the message went to a single recipient.
func (e Envelope) IsPrivate() bool { return e.kind == KindPrivate }

type envelopeWire struct {
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	IsPrivate bool   `json:"isPrivate"`
	Recipient string `json:"recipient,omitempty"`
}

// MarshalJSON renders {user, text, timestamp, isPrivate, recipient?}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeWire{
		User:      e.sender,
		Text:      e.text,
		Timestamp: e.timestamp.UTC().Format(TimestampLayout),
		IsPrivate: e.IsPrivate(),
		Recipient: e.recipient,
	})
}
