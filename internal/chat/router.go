package chat

import (
	"fmt"
	"time"
)

// Delivery is the router's verdict for one inbound message: what to send and
// to whom. Broadcast means every connected session; otherwise To lists the
// recipients.
type Delivery struct {
	Event     string
	Data      any
	Broadcast bool
	To        []*Session
}

// Empty reports whether the delivery reaches nobody.
func (d Delivery) Empty() bool {
	return !d.Broadcast && len(d.To) == 0
}

// Router validates senders, resolves recipients through the Registry and
// stamps envelopes with server time. It is not safe for concurrent use; the
// Gateway calls it from its loop only.
type Router struct {
	registry *Registry
	now      func() time.Time
	last     time.Time
}

// NewRouter creates a Router. A nil clock means time.Now.
func NewRouter(registry *Registry, clock func() time.Time) *Router {
	if clock == nil {
		clock = time.Now
	}
	return &Router{registry: registry, now: clock}
}

// stamp returns the dispatch time, never earlier than the previous one.
func (r *Router) stamp() time.Time {
	t := r.now()
	if t.Before(r.last) {
		t = r.last
	}
	r.last = t
	return t
}

// Public routes text from the sender to every connected session, the sender
// included.
func (r *Router) Public(from *Session, text string) (Delivery, error) {
	if from.State() != StateIdentified {
		return Delivery{}, ErrUnauthenticated
	}

	envelope := NewPublicEnvelope(from.Identity(), text, r.stamp())
	return Delivery{Event: EventPublicMessage, Data: envelope, Broadcast: true}, nil
}

// Private routes text to recipient and echoes it back to the sender. When
// the recipient is the sender or is offline, the delivery is a single notice
// to the sender and the error says why.
func (r *Router) Private(from *Session, text, recipient string) (Delivery, error) {
	if from.State() != StateIdentified {
		return Delivery{}, ErrUnauthenticated
	}

	sender := from.Identity()
	if recipient == sender {
		return r.notice(from, "You cannot send a private message to yourself."), ErrSelfMessage
	}

	target, err := r.registry.Resolve(recipient)
	if err != nil {
		notice := fmt.Sprintf("User %q is not online.", recipient)
		return r.notice(from, notice), fmt.Errorf("%w: %s", ErrRecipientNotFound, recipient)
	}

	envelope := NewPrivateEnvelope(sender, recipient, text, r.stamp())
	return Delivery{Event: EventPrivateMessage, Data: envelope, To: []*Session{target, from}}, nil
}

// notice builds a system notice addressed to a single session.
func (r *Router) notice(to *Session, text string) Delivery {
	return Delivery{Event: EventSystemMessage, Data: NewNotice(text, r.stamp()), To: []*Session{to}}
}
