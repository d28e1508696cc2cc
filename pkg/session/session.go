package session

import (
	"errors"
	"sync"
	"time"

	"github.com/airmesh/airmesh-go/pkg/log"
	"github.com/airmesh/airmesh-go/pkg/model"
	"github.com/airmesh/airmesh-go/pkg/registry"
	"github.com/airmesh/airmesh-go/pkg/wire"
)

// Delivery errors.
var (
	// ErrSessionClosed is returned by Deliver once the session has been
	// torn down.
	ErrSessionClosed = errors.New("session closed")

	// ErrSlowObserver is returned by Deliver when the send queue is
	// full. The session drops the connection rather than let one slow
	// observer stall fan-out to the others.
	ErrSlowObserver = errors.New("observer send queue full")
)

// Session is one observer connection subscribed to one device stream.
// The device is fixed at connect time and never changes.
type Session struct {
	id        string
	deviceID  string
	transport Transport

	sendq chan model.Reading
	done  chan struct{}

	closeOnce sync.Once
	onClose   func(*Session)

	wg     sync.WaitGroup
	logger log.Logger
}

func newSession(id, deviceID string, t Transport, queueSize int, onClose func(*Session), logger log.Logger) *Session {
	return &Session{
		id:        id,
		deviceID:  deviceID,
		transport: t,
		sendq:     make(chan model.Reading, queueSize),
		done:      make(chan struct{}),
		onClose:   onClose,
		logger:    log.OrNoop(logger),
	}
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// DeviceID returns the device stream this session observes.
func (s *Session) DeviceID() string { return s.deviceID }

// Done is closed when the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Deliver enqueues a live reading for the observer without blocking.
// Stale readings are accepted here and collapsed by the write pump.
func (s *Session) Deliver(r model.Reading) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.sendq <- r:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		s.logger.Log(log.NewEvent(log.SubsystemSession, log.CategoryError, "send queue full, dropping observer").
			WithConn(s.id).WithDevice(s.deviceID))
		s.Close()
		return ErrSlowObserver
	}
}

// Close tears the session down: it stops both pumps, closes the
// transport, and unregisters the session. The work runs exactly once no
// matter how many paths reach it.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.transport.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
		s.logger.Log(log.NewEvent(log.SubsystemSession, log.CategoryState, "session closed").
			WithConn(s.id).WithDevice(s.deviceID))
	})
}

// start sends the snapshot and launches the pumps. snapshot must be
// ordered oldest-first.
func (s *Session) start(snapshot []model.Reading) {
	s.wg.Add(2)
	go s.writePump(snapshot)
	go s.readPump()
}

// wait blocks until both pumps have exited. Used by tests and shutdown.
func (s *Session) wait() {
	s.wg.Wait()
}

// writePump is the session's sole writer. It sends the snapshot first,
// then live updates in non-decreasing recorded-timestamp order. Readings
// older than the last value on the wire are dropped: they can only come
// from duplicated or reordered change events, and the observer already
// has a newer state.
func (s *Session) writePump(snapshot []model.Reading) {
	defer s.wg.Done()

	data, err := wire.EncodeSnapshot(s.deviceID, snapshot)
	if err != nil {
		s.logger.Log(log.NewEvent(log.SubsystemSession, log.CategoryError, "snapshot encode failed").
			WithConn(s.id).WithDevice(s.deviceID).WithError(err))
		s.Close()
		return
	}
	if err := s.transport.Send(data); err != nil {
		s.Close()
		return
	}

	var lastSent time.Time
	if n := len(snapshot); n > 0 {
		lastSent = snapshot[n-1].RecordedAt
	}

	for {
		select {
		case <-s.done:
			return
		case r := <-s.sendq:
			if r.RecordedAt.Before(lastSent) {
				continue
			}
			data, err := wire.EncodeUpdate(r)
			if err != nil {
				s.logger.Log(log.NewEvent(log.SubsystemSession, log.CategoryError, "update encode failed").
					WithConn(s.id).WithDevice(s.deviceID).WithError(err))
				s.Close()
				return
			}
			if err := s.transport.Send(data); err != nil {
				s.Close()
				return
			}
			lastSent = r.RecordedAt
		}
	}
}

// readPump waits for the transport to close. Observers send no
// application data; whatever arrives is discarded. The first receive
// error, whatever its cause, funnels into the single cleanup path.
func (s *Session) readPump() {
	defer s.wg.Done()

	for {
		if _, err := s.transport.Receive(); err != nil {
			s.Close()
			return
		}
	}
}

// Compile-time check: sessions are registry observers.
var _ registry.Observer = (*Session)(nil)
