package chat

import (
	"encoding/json"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"
)

const (
	frameTimeout = time.Second
	quietPeriod  = 100 * time.Millisecond
)

type fakeSink struct {
	frames chan []byte
	refuse *atomic.Bool
	closed *atomic.Bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		frames: make(chan []byte, 256),
		refuse: atomic.NewBool(false),
		closed: atomic.NewBool(false),
	}
}

func (f *fakeSink) Send(payload []byte) bool {
	if f.refuse.Load() || f.closed.Load() {
		return false
	}
	select {
	case f.frames <- payload:
		return true
	default:
		return false
	}
}

func (f *fakeSink) Close() { f.closed.Store(true) }

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (f *fakeSink) next(t *testing.T) wireFrame {
	t.Helper()
	select {
	case payload := <-f.frames:
		var frame wireFrame
		require.NoError(t, json.Unmarshal(payload, &frame))
		return frame
	case <-time.After(frameTimeout):
		t.Fatal("timed out waiting for frame")
		return wireFrame{}
	}
}

func (f *fakeSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case payload := <-f.frames:
		t.Fatalf("unexpected frame: %s", payload)
	case <-time.After(quietPeriod):
	}
}

func (f *fakeSink) expectString(t *testing.T, event, want string) {
	t.Helper()
	frame := f.next(t)
	require.Equal(t, event, frame.Event)
	var got string
	require.NoError(t, json.Unmarshal(frame.Data, &got))
	require.Equal(t, want, got)
}

func (f *fakeSink) expectOnline(t *testing.T, want ...string) {
	t.Helper()
	frame := f.next(t)
	require.Equal(t, EventOnlineUsers, frame.Event)
	var got []string
	require.NoError(t, json.Unmarshal(frame.Data, &got))
	if len(want) == 0 {
		require.Empty(t, got)
		return
	}
	require.Equal(t, want, got)
}

func (f *fakeSink) expectEnvelope(t *testing.T, event string) envelopeWire {
	t.Helper()
	frame := f.next(t)
	require.Equal(t, event, frame.Event)
	var got envelopeWire
	require.NoError(t, json.Unmarshal(frame.Data, &got))
	return got
}

func (f *fakeSink) expectNotice(t *testing.T) envelopeWire {
	t.Helper()
	notice := f.expectEnvelope(t, EventSystemMessage)
	require.Equal(t, SystemSender, notice.User)
	require.False(t, notice.IsPrivate)
	require.NotEmpty(t, notice.Text)
	return notice
}

func startGateway(t *testing.T, opts ...Option) *Gateway {
	t.Helper()
	g := NewGateway(zaptest.NewLogger(t), opts...)
	go g.Run()
	t.Cleanup(func() {
		require.NoError(t, g.Shutdown(time.Second))
	})
	return g
}

// join connects a session, claims name and drains the claim broadcasts from
// every sink in watchers as well as its own.
func join(t *testing.T, g *Gateway, name string, watchers ...*fakeSink) (*Session, *fakeSink) {
	t.Helper()
	sink := newFakeSink()
	s := g.Connect(sink, name+"-addr")
	g.Claim(s, name)
	for _, w := range append(watchers, sink) {
		w.expectString(t, EventUserConnected, name)
		w.next(t)
	}
	return s, sink
}

func testSession(t *testing.T) *Session {
	return newSession(newFakeSink(), "test", zaptest.NewLogger(t))
}

type metricCounts struct {
	opened   int
	closed   int
	online   int
	accepted int
	dropped  int
	rejected map[string]int
	routed   map[Kind]int
	refused  map[string]int
}

type recordingMetrics struct {
	mu     sync.Mutex
	counts metricCounts
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: metricCounts{
		rejected: make(map[string]int),
		routed:   make(map[Kind]int),
		refused:  make(map[string]int),
	}}
}

func (m *recordingMetrics) update(fn func(c *metricCounts)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.counts)
}

func (m *recordingMetrics) SessionOpened()   { m.update(func(c *metricCounts) { c.opened++ }) }
func (m *recordingMetrics) SessionClosed()   { m.update(func(c *metricCounts) { c.closed++ }) }
func (m *recordingMetrics) Online(n int)     { m.update(func(c *metricCounts) { c.online = n }) }
func (m *recordingMetrics) ClaimAccepted()   { m.update(func(c *metricCounts) { c.accepted++ }) }
func (m *recordingMetrics) DeliveryDropped() { m.update(func(c *metricCounts) { c.dropped++ }) }
func (m *recordingMetrics) ClaimRejected(reason string) {
	m.update(func(c *metricCounts) { c.rejected[reason]++ })
}
func (m *recordingMetrics) MessageRouted(kind Kind) {
	m.update(func(c *metricCounts) { c.routed[kind]++ })
}
func (m *recordingMetrics) MessageRejected(reason string) {
	m.update(func(c *metricCounts) { c.refused[reason]++ })
}

func (m *recordingMetrics) snapshot() metricCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counts
	c.rejected = maps.Clone(m.counts.rejected)
	c.routed = maps.Clone(m.counts.routed)
	c.refused = maps.Clone(m.counts.refused)
	return c
}
