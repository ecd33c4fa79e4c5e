package chat

import "errors"

var (
	ErrEmptyIdentity     = errors.New("identity is empty")
	ErrIdentityTaken     = errors.New("identity already taken")
	ErrReservedIdentity  = errors.New("identity is reserved")
	ErrIdentityTooLong   = errors.New("identity is too long")
	ErrAlreadyIdentified = errors.New("session already has an identity")
	ErrNotFound          = errors.New("identity not found")

	ErrUnauthenticated   = errors.New("session has not claimed an identity")
	ErrSelfMessage       = errors.New("private message addressed to sender")
	ErrRecipientNotFound = errors.New("recipient is not online")
)
