package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/presencechat/internal/chat"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want command
	}{
		{
			name: "claim",
			raw:  `{"event":"new user","data":"alice"}`,
			want: command{event: chat.EventNewUser, identity: "alice"},
		},
		{
			name: "claim keeps whitespace for the gateway",
			raw:  `{"event":"new user","data":"  alice "}`,
			want: command{event: chat.EventNewUser, identity: "  alice "},
		},
		{
			name: "public",
			raw:  `{"event":"public message","data":{"text":"hi"}}`,
			want: command{event: chat.EventPublicMessage, text: "hi"},
		},
		{
			name: "public with empty text",
			raw:  `{"event":"public message","data":{"text":""}}`,
			want: command{event: chat.EventPublicMessage},
		},
		{
			name: "legacy object",
			raw:  `{"event":"chat message","data":{"text":"hi"}}`,
			want: command{event: chat.EventPublicMessage, text: "hi"},
		},
		{
			name: "legacy string",
			raw:  `{"event":"chat message","data":"hi"}`,
			want: command{event: chat.EventPublicMessage, text: "hi"},
		},
		{
			name: "private",
			raw:  `{"event":"private message","data":{"text":"psst","recipient":"bob"}}`,
			want: command{event: chat.EventPrivateMessage, text: "psst", recipient: "bob"},
		},
		{
			name: "private without recipient",
			raw:  `{"event":"private message","data":{"text":"psst"}}`,
			want: command{event: chat.EventPrivateMessage, text: "psst"},
		},
		{
			name: "private with empty recipient",
			raw:  `{"event":"private message","data":{"text":"psst","recipient":""}}`,
			want: command{event: chat.EventPrivateMessage, text: "psst"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeFrame([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "not json", raw: `hello`, wantErr: ErrMalformedFrame},
		{name: "missing event", raw: `{"data":"alice"}`, wantErr: ErrMalformedFrame},
		{name: "claim not a string", raw: `{"event":"new user","data":{"name":"alice"}}`, wantErr: ErrMalformedFrame},
		{name: "public not an object", raw: `{"event":"public message","data":42}`, wantErr: ErrMalformedFrame},
		{name: "private as string", raw: `{"event":"private message","data":"hi"}`, wantErr: ErrMalformedFrame},
		{name: "server event", raw: `{"event":"online users","data":[]}`, wantErr: ErrUnknownEvent},
		{name: "unknown event", raw: `{"event":"dance","data":{}}`, wantErr: ErrUnknownEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeFrame([]byte(tt.raw))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	assert.True(t, isExpectedCloseError(nil))
	assert.True(t, isExpectedCloseError(errString("write tcp: use of closed network connection")))
	assert.True(t, isExpectedCloseError(errString("websocket: close sent")))
	assert.True(t, isExpectedCloseError(errString("write: broken pipe")))
	assert.False(t, isExpectedCloseError(errString("unexpected EOF")))
}

type errString string

func (e errString) Error() string { return string(e) }
