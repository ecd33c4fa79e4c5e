package chat

import (
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// State is the lifecycle position of a Session.
type State int32

const (
	// StateConnected is the initial state: the transport is up but no identity is bound.
	StateConnected State = iota
	// StateIdentified means a claim succeeded and the session owns its identity.
	StateIdentified
	// StateDisconnected is terminal. Any further activity is ignored.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Sink is the outbound half of a transport connection.
//
// Send must not block: it either queues the payload and returns true, or
// refuses it and returns false. Close asks the transport to tear the
// connection down; the transport reports the teardown back through
// Gateway.Disconnect.
type Sink interface {
	Send(payload []byte) bool
	Close()
}

// Session is one connected client and its optional identity binding.
//
// Only the Gateway loop mutates a Session. Identity and State can be read from
// any goroutine.
type Session struct {
	id       uuid.UUID
	sink     Sink
	remote   string
	identity *atomic.String
	state    *atomic.Int32
	logger   *zap.Logger
}

func newSession(sink Sink, remote string, logger *zap.Logger) *Session {
	id := uuid.New()
	return &Session{
		id:       id,
		sink:     sink,
		remote:   remote,
		identity: atomic.NewString(""),
		state:    atomic.NewInt32(int32(StateConnected)),
		logger:   logger.With(zap.String("session_id", id.String()), zap.String("remote", remote)),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Remote returns the transport address the session connected from.
func (s *Session) Remote() string { return s.remote }

// Identity returns the bound identity, or "" while unidentified.
func (s *Session) Identity() string { return s.identity.Load() }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// bind is called by the Registry while it holds its lock.
func (s *Session) bind(identity string) {
	s.identity.Store(identity)
	s.state.Store(int32(StateIdentified))
	s.logger = s.logger.With(zap.String("identity", identity))
}

// terminate moves the session to StateDisconnected and returns the identity it
// held, which the caller must release from the Registry.
func (s *Session) terminate() string {
	s.state.Store(int32(StateDisconnected))
	return s.identity.Swap("")
}

func (s *Session) send(payload []byte) bool {
	if s.sink == nil {
		return false
	}
	return s.sink.Send(payload)
}

func (s *Session) close() {
	if s.sink != nil {
		s.sink.Close()
	}
}
