package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/airmesh/airmesh-go/pkg/connection"
	"github.com/airmesh/airmesh-go/pkg/log"
	"github.com/airmesh/airmesh-go/pkg/model"
	"github.com/airmesh/airmesh-go/pkg/registry"
)

// Defaults for manager configuration.
const (
	// DefaultSnapshotLimit is the maximum number of historical readings
	// sent as the initial snapshot.
	DefaultSnapshotLimit = 100

	// DefaultQueueSize is the per-session live update buffer. A full
	// buffer means the observer is not draining and gets dropped.
	DefaultQueueSize = 16

	// DefaultSnapshotAttempts bounds connect-time snapshot fetches.
	// Transient store failures are retried with backoff; after the last
	// attempt the observer is disconnected and expected to reconnect.
	DefaultSnapshotAttempts = 3
)

// HistorySource provides the bounded historical window for snapshots.
// Readings are returned newest-first.
type HistorySource interface {
	Recent(ctx context.Context, deviceID string, limit int) ([]model.Reading, error)
}

// Config holds manager configuration. Zero fields use the defaults.
type Config struct {
	SnapshotLimit    int
	QueueSize        int
	SnapshotAttempts int
	SnapshotBackoff  connection.BackoffConfig
	Logger           log.Logger
}

// Manager attaches observer connections to device streams and owns every
// session from accept to teardown.
type Manager struct {
	registry *registry.Registry
	history  HistorySource

	snapshotLimit    int
	queueSize        int
	snapshotAttempts int
	backoffCfg       connection.BackoffConfig
	logger           log.Logger
}

// NewManager creates a lifecycle manager over the given registry and
// history source.
func NewManager(reg *registry.Registry, history HistorySource, cfg Config) *Manager {
	if cfg.SnapshotLimit <= 0 {
		cfg.SnapshotLimit = DefaultSnapshotLimit
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SnapshotAttempts <= 0 {
		cfg.SnapshotAttempts = DefaultSnapshotAttempts
	}

	return &Manager{
		registry:         reg,
		history:          history,
		snapshotLimit:    cfg.SnapshotLimit,
		queueSize:        cfg.QueueSize,
		snapshotAttempts: cfg.SnapshotAttempts,
		backoffCfg:       cfg.SnapshotBackoff,
		logger:           log.OrNoop(cfg.Logger),
	}
}

// Attach accepts a new observer connection for deviceID. It registers the
// session, fetches the historical snapshot, and starts delivery. Any
// device identifier is accepted; one with no data yields an empty
// snapshot.
//
// Registration happens before the snapshot query, so a reading committed
// during the fetch is covered either by the snapshot or by the change
// event that follows it; the observer never sees a gap.
func (m *Manager) Attach(ctx context.Context, deviceID string, t Transport) (*Session, error) {
	s := newSession(uuid.NewString(), deviceID, t, m.queueSize, func(sess *Session) {
		m.registry.Unregister(deviceID, sess)
	}, m.logger)

	m.registry.Register(deviceID, s)

	history, err := m.fetchSnapshot(ctx, deviceID)
	if err != nil {
		m.registry.Unregister(deviceID, s)
		_ = t.Close()
		return nil, fmt.Errorf("snapshot for %q: %w", deviceID, err)
	}

	// The store returns newest-first; observers read oldest-first.
	snapshot := make([]model.Reading, len(history))
	for i, r := range history {
		snapshot[len(history)-1-i] = r
	}

	m.logger.Log(log.NewEvent(log.SubsystemSession, log.CategoryState, "observer attached").
		WithConn(s.ID()).WithDevice(deviceID))

	s.start(snapshot)
	return s, nil
}

// timeAfter is time.After behind a variable so tests can compress the
// retry delays.
var timeAfter = time.After

// fetchSnapshot queries the historical window, retrying transient store
// failures with backoff.
func (m *Manager) fetchSnapshot(ctx context.Context, deviceID string) ([]model.Reading, error) {
	backoff := connection.NewBackoffWithConfig(m.backoffCfg)

	var lastErr error
	for attempt := 0; attempt < m.snapshotAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timeAfter(backoff.Next()):
			}
		}

		readings, err := m.history.Recent(ctx, deviceID, m.snapshotLimit)
		if err == nil {
			return readings, nil
		}
		lastErr = err
		m.logger.Log(log.NewEvent(log.SubsystemSession, log.CategoryError, "snapshot fetch failed").
			WithDevice(deviceID).WithError(err))
	}
	return nil, lastErr
}

// CloseAll tears down every active session. Used on service shutdown.
func (m *Manager) CloseAll() {
	for _, deviceID := range m.registry.Devices() {
		for _, obs := range m.registry.Subscribers(deviceID) {
			obs.Close()
		}
	}
}
