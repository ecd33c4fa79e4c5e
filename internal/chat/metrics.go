package chat

import "errors"

// Metrics receives counters from the Gateway. Implementations must be safe for
// concurrent use.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	Online(n int)
	ClaimAccepted()
	ClaimRejected(reason string)
	MessageRouted(kind Kind)
	MessageRejected(reason string)
	DeliveryDropped()
}

type noopMetrics struct{}

func (noopMetrics) SessionOpened()         {}
func (noopMetrics) SessionClosed()         {}
func (noopMetrics) Online(int)             {}
func (noopMetrics) ClaimAccepted()         {}
func (noopMetrics) ClaimRejected(string)   {}
func (noopMetrics) MessageRouted(Kind)     {}
func (noopMetrics) MessageRejected(string) {}
func (noopMetrics) DeliveryDropped()       {}

// reason maps a core error onto a short metric label.
func reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrEmptyIdentity):
		return "empty"
	case errors.Is(err, ErrIdentityTaken):
		return "taken"
	case errors.Is(err, ErrReservedIdentity):
		return "reserved"
	case errors.Is(err, ErrIdentityTooLong):
		return "too_long"
	case errors.Is(err, ErrAlreadyIdentified):
		return "already_identified"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrSelfMessage):
		return "self_message"
	case errors.Is(err, ErrRecipientNotFound):
		return "recipient_not_found"
	default:
		return "other"
	}
}
