package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airmesh/airmesh-go/pkg/model"
	"github.com/airmesh/airmesh-go/pkg/registry"
	"github.com/airmesh/airmesh-go/pkg/wire"
)

// fakeTransport is an in-memory Transport. Sent messages are observable
// on Sent; Receive blocks until the test closes the transport or injects
// an inbound message.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	closed  bool

	inbound  chan []byte
	shutdown chan struct{}

	closeCount int
	sentCh     chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:  make(chan []byte),
		shutdown: make(chan struct{}),
		sentCh:   make(chan []byte, 64),
	}
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errors.New("transport closed")
	}
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	cp := append([]byte(nil), data...)
	f.sent = append(f.sent, cp)
	f.mu.Unlock()

	// Block once the test stops draining sentCh, like a stalled peer.
	select {
	case f.sentCh <- cp:
		return nil
	case <-f.shutdown:
		return errors.New("transport closed")
	}
}

func (f *fakeTransport) Receive() ([]byte, error) {
	select {
	case data := <-f.inbound:
		return data, nil
	case <-f.shutdown:
		return nil, errors.New("connection closed")
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	if !f.closed {
		f.closed = true
		close(f.shutdown)
	}
	return nil
}

func (f *fakeTransport) failSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeTransport) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

// nextMessage waits for the next sent message and decodes it.
func (f *fakeTransport) nextMessage(t *testing.T) wire.Message {
	t.Helper()
	select {
	case data := <-f.sentCh:
		msg, err := wire.DecodeMessage(data)
		require.NoError(t, err)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return wire.Message{}
	}
}

// fakeHistory is a canned HistorySource.
type fakeHistory struct {
	mu       sync.Mutex
	readings map[string][]model.Reading // newest-first, as the store returns
	err      error
	failures int // fail this many calls before succeeding
	calls    int
}

func (h *fakeHistory) Recent(ctx context.Context, deviceID string, limit int) ([]model.Reading, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.failures > 0 {
		h.failures--
		return nil, errors.New("store unavailable")
	}
	if h.err != nil {
		return nil, h.err
	}
	rs := h.readings[deviceID]
	if len(rs) > limit {
		rs = rs[:limit]
	}
	return append([]model.Reading(nil), rs...), nil
}

func reading(device string, ts time.Time) model.Reading {
	return model.Reading{DeviceID: device, RecordedAt: ts, TemperatureCelsius: 20}
}

func testManager(history *fakeHistory) (*Manager, *registry.Registry) {
	reg := registry.New(nil)
	mgr := NewManager(reg, history, Config{QueueSize: 4})
	return mgr, reg
}

func TestAttachSendsSnapshotFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	history := &fakeHistory{readings: map[string][]model.Reading{
		"sensor-1": {reading("sensor-1", base.Add(time.Minute)), reading("sensor-1", base)}, // newest-first
	}}
	mgr, reg := testManager(history)
	transport := newFakeTransport()

	sess, err := mgr.Attach(context.Background(), "sensor-1", transport)
	require.NoError(t, err)
	defer sess.Close()

	require.Equal(t, 1, reg.Count("sensor-1"))

	msg := transport.nextMessage(t)
	require.Equal(t, wire.TypeSnapshot, msg.Type)
	require.Len(t, msg.Readings, 2)
	// Observer receives the window oldest-first.
	assert.True(t, msg.Readings[0].RecordedAt.Before(msg.Readings[1].RecordedAt),
		"snapshot must be oldest-first")

	// A live update after the snapshot.
	require.NoError(t, sess.Deliver(reading("sensor-1", base.Add(2*time.Minute))))
	msg = transport.nextMessage(t)
	assert.Equal(t, wire.TypeUpdate, msg.Type)
	require.NotNil(t, msg.Reading)
	assert.False(t, msg.Reading.RecordedAt.Before(base.Add(time.Minute)),
		"live update timestamp must be >= snapshot timestamps")
}

func TestAttachEmptyHistoryYieldsEmptySnapshot(t *testing.T) {
	history := &fakeHistory{readings: map[string][]model.Reading{}}
	mgr, _ := testManager(history)
	transport := newFakeTransport()

	sess, err := mgr.Attach(context.Background(), "never-seen-device", transport)
	require.NoError(t, err)
	defer sess.Close()

	msg := transport.nextMessage(t)
	assert.Equal(t, wire.TypeSnapshot, msg.Type)
	assert.Empty(t, msg.Readings)
}

func TestAttachRetriesSnapshotFetch(t *testing.T) {
	restore := timeAfter
	timeAfter = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	defer func() { timeAfter = restore }()

	history := &fakeHistory{failures: 2, readings: map[string][]model.Reading{}}
	mgr, _ := testManager(history)
	transport := newFakeTransport()

	sess, err := mgr.Attach(context.Background(), "sensor-1", transport)
	require.NoError(t, err, "two transient failures are within the retry budget")
	defer sess.Close()
	assert.Equal(t, 3, history.calls)
}

func TestAttachFailsAfterRetryBudget(t *testing.T) {
	restore := timeAfter
	timeAfter = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	defer func() { timeAfter = restore }()

	history := &fakeHistory{err: errors.New("store down")}
	mgr, reg := testManager(history)
	transport := newFakeTransport()

	_, err := mgr.Attach(context.Background(), "sensor-1", transport)
	require.Error(t, err)

	// Failure must leave nothing behind: no registration, transport closed.
	assert.Equal(t, 0, reg.Count("sensor-1"))
	assert.Equal(t, 1, transport.closes())
}

func TestStaleUpdatesAreCollapsed(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	history := &fakeHistory{readings: map[string][]model.Reading{
		"sensor-1": {reading("sensor-1", base.Add(time.Hour))},
	}}
	mgr, _ := testManager(history)
	transport := newFakeTransport()

	sess, err := mgr.Attach(context.Background(), "sensor-1", transport)
	require.NoError(t, err)
	defer sess.Close()
	_ = transport.nextMessage(t) // snapshot

	// A stale reading (older than the snapshot) from a reordered change
	// event is accepted but never hits the wire.
	require.NoError(t, sess.Deliver(reading("sensor-1", base)))
	// A fresh one follows.
	require.NoError(t, sess.Deliver(reading("sensor-1", base.Add(2*time.Hour))))

	msg := transport.nextMessage(t)
	require.Equal(t, wire.TypeUpdate, msg.Type)
	assert.Equal(t, base.Add(2*time.Hour), msg.Reading.RecordedAt.UTC(),
		"stale update should be collapsed, fresh one delivered")
}

func TestSendFailureTriggersSingleCleanup(t *testing.T) {
	history := &fakeHistory{readings: map[string][]model.Reading{}}
	mgr, reg := testManager(history)
	transport := newFakeTransport()

	sess, err := mgr.Attach(context.Background(), "sensor-1", transport)
	require.NoError(t, err)
	_ = transport.nextMessage(t) // snapshot

	transport.failSends(errors.New("broken pipe"))
	_ = sess.Deliver(reading("sensor-1", time.Now()))

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after send failure")
	}
	sess.wait()

	assert.Equal(t, 0, reg.Count("sensor-1"), "failed session must be unregistered")

	// Extra Close calls are safe and do not re-run cleanup.
	closesAfter := transport.closes()
	sess.Close()
	sess.Close()
	assert.Equal(t, closesAfter, transport.closes(), "cleanup must be single-fire")
}

func TestTransportCloseRunsCleanupOnce(t *testing.T) {
	history := &fakeHistory{readings: map[string][]model.Reading{}}
	mgr, reg := testManager(history)
	transport := newFakeTransport()

	sess, err := mgr.Attach(context.Background(), "sensor-1", transport)
	require.NoError(t, err)
	_ = transport.nextMessage(t)

	// Observer goes away: the read pump sees the error and cleans up.
	require.NoError(t, transport.Close())

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after transport closure")
	}
	sess.wait()
	assert.Equal(t, 0, reg.Count("sensor-1"))
}

func TestBackpressureDropsObserver(t *testing.T) {
	history := &fakeHistory{readings: map[string][]model.Reading{}}
	reg := registry.New(nil)
	mgr := NewManager(reg, history, Config{QueueSize: 2})
	transport := newFakeTransport()

	sess, err := mgr.Attach(context.Background(), "sensor-1", transport)
	require.NoError(t, err)
	_ = transport.nextMessage(t) // snapshot

	// Stop draining the transport so the write pump stalls in Send; the
	// session queue then fills and a later Deliver must drop the
	// observer instead of blocking.
	base := time.Now()
	var dropErr error
	for i := 0; i < 256; i++ {
		if err := sess.Deliver(reading("sensor-1", base.Add(time.Duration(i)*time.Second))); err != nil {
			dropErr = err
			break
		}
	}

	require.ErrorIs(t, dropErr, ErrSlowObserver)
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow observer was not dropped")
	}
	assert.Equal(t, 0, reg.Count("sensor-1"))
}

func TestDeliverAfterCloseReturnsError(t *testing.T) {
	history := &fakeHistory{readings: map[string][]model.Reading{}}
	mgr, _ := testManager(history)
	transport := newFakeTransport()

	sess, err := mgr.Attach(context.Background(), "sensor-1", transport)
	require.NoError(t, err)
	sess.Close()
	sess.wait()

	assert.ErrorIs(t, sess.Deliver(reading("sensor-1", time.Now())), ErrSessionClosed)
}

func TestCloseAll(t *testing.T) {
	history := &fakeHistory{readings: map[string][]model.Reading{}}
	mgr, reg := testManager(history)

	var sessions []*Session
	for _, dev := range []string{"a", "a", "b"} {
		tr := newFakeTransport()
		sess, err := mgr.Attach(context.Background(), dev, tr)
		require.NoError(t, err)
		sessions = append(sessions, sess)
	}

	mgr.CloseAll()

	for _, sess := range sessions {
		select {
		case <-sess.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("CloseAll left a session running")
		}
	}
	assert.Empty(t, reg.Devices())
}
