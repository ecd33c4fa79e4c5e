package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ClaimRejection selects how a failed identity claim is reported.
type ClaimRejection string

const (
	// RejectNotify sends a system message to the claimant.
	RejectNotify ClaimRejection = "notify"
	// RejectSilent ignores the claim without feedback.
	RejectSilent ClaimRejection = "silent"
)

const (
	defaultMaxIdentityLength = 32
	defaultEventQueueSize    = 1024
)

type eventKind int

const (
	eventConnect eventKind = iota
	eventClaim
	eventPublic
	eventPrivate
	eventDisconnect
)

func (k eventKind) String() string {
	switch k {
	case eventConnect:
		return "connect"
	case eventClaim:
		return "claim"
	case eventPublic:
		return "public"
	case eventPrivate:
		return "private"
	case eventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

type event struct {
	kind    eventKind
	session *Session
	text    string
	target  string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the clock used to stamp envelopes.
func WithClock(clock func() time.Time) Option {
	return func(g *Gateway) { g.clock = clock }
}

// WithMetrics installs a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithClaimRejection sets the claim rejection policy.
func WithClaimRejection(policy ClaimRejection) Option {
	return func(g *Gateway) {
		if policy == RejectSilent || policy == RejectNotify {
			g.rejection = policy
		}
	}
}

// WithMaxIdentityLength caps identities, counted in runes.
func WithMaxIdentityLength(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxIdentityLength = n
		}
	}
}

// WithEventQueueSize sets the inbound event buffer.
func WithEventQueueSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.queueSize = n
		}
	}
}

// Gateway owns every connected session and serializes their events.
//
// Transports call Connect, Claim, PublicMessage, PrivateMessage and Disconnect
// from any goroutine. Those calls only enqueue; Run applies them one at a time,
// so each event's registry change and broadcasts complete before the next
// event is looked at. Events from one session are applied in the order the
// transport submitted them.
type Gateway struct {
	logger            *zap.Logger
	registry          *Registry
	router            *Router
	metrics           Metrics
	clock             func() time.Time
	rejection         ClaimRejection
	maxIdentityLength int
	queueSize         int

	sessions  map[uuid.UUID]*Session
	connected *atomic.Int64

	// stopMu guards stopped. Submitters hold it shared while enqueuing so
	// that once Run has set stopped nothing new lands in events.
	stopMu  sync.RWMutex
	stopped bool

	events chan event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGateway creates a Gateway with an empty Registry. Call Run to start it.
func NewGateway(logger *zap.Logger, opts ...Option) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		logger:            logger,
		registry:          NewRegistry(),
		metrics:           noopMetrics{},
		clock:             time.Now,
		rejection:         RejectNotify,
		maxIdentityLength: defaultMaxIdentityLength,
		queueSize:         defaultEventQueueSize,
		sessions:          make(map[uuid.UUID]*Session),
		connected:         atomic.NewInt64(0),
		ctx:               ctx,
		cancel:            cancel,
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.router = NewRouter(g.registry, g.clock)
	g.events = make(chan event, g.queueSize)
	return g
}

// Connect creates a session for a new transport connection.
func (g *Gateway) Connect(sink Sink, remote string) *Session {
	s := newSession(sink, remote, g.logger)
	g.submit(event{kind: eventConnect, session: s})
	return s
}

// Claim asks to bind candidate to s.
func (g *Gateway) Claim(s *Session, candidate string) {
	g.submit(event{kind: eventClaim, session: s, text: candidate})
}

// PublicMessage sends text from s to everyone.
func (g *Gateway) PublicMessage(s *Session, text string) {
	g.submit(event{kind: eventPublic, session: s, text: text})
}

// PrivateMessage sends text from s to recipient.
func (g *Gateway) PrivateMessage(s *Session, text, recipient string) {
	g.submit(event{kind: eventPrivate, session: s, text: text, target: recipient})
}

// Disconnect reports that the transport behind s is gone.
func (g *Gateway) Disconnect(s *Session) {
	g.submit(event{kind: eventDisconnect, session: s})
}

// Online returns the online identities in join order.
func (g *Gateway) Online() []string {
	return g.registry.Snapshot()
}

// Connected returns the number of connected sessions, identified or not.
func (g *Gateway) Connected() int {
	return int(g.connected.Load())
}

func (g *Gateway) submit(ev event) {
	if ev.session == nil {
		return
	}

	g.stopMu.RLock()
	defer g.stopMu.RUnlock()
	if !g.stopped {
		select {
		case g.events <- ev:
			return
		case <-g.ctx.Done():
		}
	}
	if ev.kind == eventConnect {
		ev.session.close()
	}
}

// Run processes events until Shutdown is called.
func (g *Gateway) Run() {
	defer close(g.done)

	g.logger.Info("Gateway started")
	for {
		select {
		case <-g.ctx.Done():
			g.stop()
			return
		case ev := <-g.events:
			g.handle(ev)
		}
	}
}

func (g *Gateway) handle(ev event) {
	s := ev.session
	if s.State() == StateDisconnected {
		s.logger.Debug("Ignoring event for disconnected session", zap.Stringer("event", ev.kind))
		return
	}

	switch ev.kind {
	case eventConnect:
		g.connect(s)
	case eventClaim:
		g.claim(s, ev.text)
	case eventPublic:
		d, err := g.router.Public(s, ev.text)
		g.route(s, KindPublic, d, err)
	case eventPrivate:
		d, err := g.router.Private(s, ev.text, ev.target)
		g.route(s, KindPrivate, d, err)
	case eventDisconnect:
		g.disconnect(s)
	}
}

func (g *Gateway) connect(s *Session) {
	g.sessions[s.id] = s
	g.connected.Store(int64(len(g.sessions)))
	g.metrics.SessionOpened()
	s.logger.Debug("Session connected", zap.Int("connected", len(g.sessions)))
}

func (g *Gateway) claim(s *Session, candidate string) {
	identity := strings.TrimSpace(candidate)

	err := g.validateClaim(s, identity)
	if err == nil {
		err = g.registry.Register(identity, s)
	}
	if err != nil {
		g.rejectClaim(s, identity, err)
		return
	}

	g.metrics.ClaimAccepted()
	g.metrics.Online(g.registry.Len())
	s.logger.Info("User connected")

	g.broadcast(EventUserConnected, identity)
	g.broadcast(EventOnlineUsers, g.registry.Snapshot())
}

func (g *Gateway) validateClaim(s *Session, identity string) error {
	switch {
	case s.State() == StateIdentified:
		return ErrAlreadyIdentified
	case identity == "":
		return ErrEmptyIdentity
	case utf8.RuneCountInString(identity) > g.maxIdentityLength:
		return ErrIdentityTooLong
	case strings.EqualFold(identity, SystemSender):
		return ErrReservedIdentity
	}
	return nil
}

func (g *Gateway) rejectClaim(s *Session, identity string, err error) {
	g.metrics.ClaimRejected(reason(err))
	s.logger.Info("Identity claim rejected", zap.String("candidate", identity), zap.Error(err))

	if g.rejection == RejectSilent {
		return
	}

	var text string
	switch {
	case errors.Is(err, ErrEmptyIdentity):
		text = "Username cannot be empty."
	case errors.Is(err, ErrIdentityTaken):
		text = fmt.Sprintf("Username %q is already taken.", identity)
	case errors.Is(err, ErrReservedIdentity):
		text = fmt.Sprintf("Username %q is reserved.", identity)
	case errors.Is(err, ErrIdentityTooLong):
		text = fmt.Sprintf("Username cannot be longer than %d characters.", g.maxIdentityLength)
	case errors.Is(err, ErrAlreadyIdentified):
		text = fmt.Sprintf("You are already signed in as %q.", s.Identity())
	default:
		text = "Username rejected."
	}
	g.deliver(Delivery{
		Event: EventSystemMessage,
		Data:  NewNotice(text, g.router.stamp()),
		To:    []*Session{s},
	})
}

func (g *Gateway) route(s *Session, kind Kind, d Delivery, err error) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		g.metrics.MessageRejected(reason(err))
		s.logger.Debug("Dropping message from unidentified session", zap.String("kind", string(kind)))
		return
	case err != nil:
		g.metrics.MessageRejected(reason(err))
		s.logger.Info("Message rejected", zap.String("kind", string(kind)), zap.Error(err))
	default:
		g.metrics.MessageRouted(kind)
		if ce := s.logger.Check(zap.DebugLevel, "Routing message"); ce != nil {
			ce.Write(zap.String("kind", string(kind)), zap.Any("envelope", d.Data))
		}
	}
	g.deliver(d)
}

func (g *Gateway) disconnect(s *Session) {
	if _, ok := g.sessions[s.id]; !ok {
		return
	}
	delete(g.sessions, s.id)
	g.connected.Store(int64(len(g.sessions)))
	g.metrics.SessionClosed()

	identity := s.Identity()
	removed := identity != "" && g.registry.Unregister(identity)
	s.terminate()

	if !removed {
		s.logger.Debug("Unidentified session disconnected")
		return
	}

	g.metrics.Online(g.registry.Len())
	s.logger.Info("User disconnected", zap.Int("connected", len(g.sessions)))

	g.broadcast(EventUserDisconnected, identity)
	g.broadcast(EventOnlineUsers, g.registry.Snapshot())
}

func (g *Gateway) broadcast(name string, data any) {
	g.deliver(Delivery{Event: name, Data: data, Broadcast: true})
}

// deliver encodes the frame once and hands it to every target without
// blocking. Targets that refuse it are closed.
func (g *Gateway) deliver(d Delivery) {
	if d.Empty() {
		return
	}

	payload, err := json.Marshal(Frame{Event: d.Event, Data: d.Data})
	if err != nil {
		g.logger.Error("Could not encode frame", zap.String("event", d.Event), zap.Error(err))
		return
	}

	targets := d.To
	if d.Broadcast {
		targets = lo.Values(g.sessions)
	}

	for _, t := range targets {
		if t.State() == StateDisconnected {
			continue
		}
		if !t.send(payload) {
			g.metrics.DeliveryDropped()
			t.logger.Warn("Could not deliver frame, closing session", zap.String("event", d.Event))
			t.close()
		}
	}
}

// stop refuses further events, closes the sinks of connects still queued and
// then closes every known session.
func (g *Gateway) stop() {
	g.stopMu.Lock()
	g.stopped = true
	g.stopMu.Unlock()

	pending := 0
	for {
		select {
		case ev := <-g.events:
			if ev.kind == eventConnect {
				ev.session.close()
				pending++
			}
		default:
			if pending > 0 {
				g.logger.Info("Closed queued connections", zap.Int("count", pending))
			}
			g.closeSessions()
			return
		}
	}
}

func (g *Gateway) closeSessions() {
	for _, s := range g.sessions {
		s.close()
	}
	g.logger.Info("Closed all sessions", zap.Int("count", len(g.sessions)))
}

// Shutdown stops Run, closes every session sink and waits for the loop to
// exit or for timeout to pass.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	g.logger.Info("Initiating gateway shutdown")
	g.cancel()

	select {
	case <-g.done:
		g.logger.Info("Gateway shutdown completed")
		return nil
	case <-time.After(timeout):
		g.logger.Warn("Gateway shutdown timeout reached")
		return context.DeadlineExceeded
	}
}
