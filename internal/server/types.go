package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/presencechat/internal/chat"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
)

// inboundFrame is one client-to-server message: {"event": ..., "data": ...}.
type inboundFrame struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data"`
}

// PublicMessage is the payload of a "public message" frame.
type PublicMessage struct {
	Text string `json:"text"`
}

// PrivateMessage is the payload of a "private message" frame. A missing
// recipient decodes as "" and is answered like any offline recipient.
type PrivateMessage struct {
	Text      string `json:"text"`
	Recipient string `json:"recipient"`
}

// command is a decoded inbound frame ready to hand to the gateway.
type command struct {
	event     string
	identity  string
	text      string
	recipient string
}

var frameValidator = validator.New()

// decodeFrame parses raw into a command. The legacy "chat message" event is
// folded into "public message" and may carry either {text} or a bare string.
func decodeFrame(raw []byte) (command, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return command{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := frameValidator.Struct(frame); err != nil {
		return command{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch frame.Event {
	case chat.EventNewUser:
		var identity string
		if err := json.Unmarshal(frame.Data, &identity); err != nil {
			return command{}, fmt.Errorf("%w: %s data must be a string", ErrMalformedFrame, frame.Event)
		}
		return command{event: chat.EventNewUser, identity: identity}, nil

	case chat.EventPublicMessage, chat.EventChatMessage:
		var msg PublicMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			if err := json.Unmarshal(frame.Data, &msg.Text); err != nil {
				return command{}, fmt.Errorf("%w: %s data must be {text}", ErrMalformedFrame, frame.Event)
			}
		}
		return command{event: chat.EventPublicMessage, text: msg.Text}, nil

	case chat.EventPrivateMessage:
		var msg PrivateMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			return command{}, fmt.Errorf("%w: %s data must be {text, recipient}", ErrMalformedFrame, frame.Event)
		}
		return command{event: chat.EventPrivateMessage, text: msg.Text, recipient: msg.Recipient}, nil

	default:
		return command{}, fmt.Errorf("%w: %q", ErrUnknownEvent, frame.Event)
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
