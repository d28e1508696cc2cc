package notifier

import (
	"context"
	"time"

	"github.com/airmesh/airmesh-go/pkg/connection"
	"github.com/airmesh/airmesh-go/pkg/log"
)

// Event signals that a new reading for a device has just committed. It
// deliberately carries nothing but the identifier: consumers re-fetch
// the committed state instead of trusting event payloads.
type Event struct {
	DeviceID string
}

// Listener is one established subscription to the change stream.
type Listener interface {
	// Wait blocks until the next notification arrives and returns the
	// affected device identifier. A non-nil error means the stream is
	// broken and the listener must be discarded.
	Wait(ctx context.Context) (string, error)

	// Close releases the subscription.
	Close(ctx context.Context) error
}

// Connector establishes a Listener. It is called on start and again
// after every stream failure.
type Connector interface {
	Connect(ctx context.Context) (Listener, error)
}

// DefaultEventBuffer is the capacity of the adapter's event channel.
const DefaultEventBuffer = 64

// Config holds adapter configuration. Zero fields use the defaults.
type Config struct {
	EventBuffer int
	Backoff     connection.BackoffConfig
	Logger      log.Logger
}

// Adapter supervises the change stream subscription and republishes
// notifications as Events.
type Adapter struct {
	connector Connector
	backoff   *connection.Backoff
	events    chan Event
	logger    log.Logger
}

// New creates an adapter over the given connector.
func New(connector Connector, cfg Config) *Adapter {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	return &Adapter{
		connector: connector,
		backoff:   connection.NewBackoffWithConfig(cfg.Backoff),
		events:    make(chan Event, cfg.EventBuffer),
		logger:    log.OrNoop(cfg.Logger),
	}
}

// Events returns the channel of change events. It is closed when Run
// returns.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Run establishes the subscription and pumps notifications until ctx is
// cancelled. Any stream failure is followed by a reconnect with backoff;
// Run only returns on cancellation.
func (a *Adapter) Run(ctx context.Context) {
	defer close(a.events)

	for {
		listener, err := a.connector.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Log(log.NewEvent(log.SubsystemNotifier, log.CategoryError, "change stream connect failed").
				WithError(err))
			if !a.sleep(ctx, a.backoff.Next()) {
				return
			}
			continue
		}

		a.logger.Log(log.NewEvent(log.SubsystemNotifier, log.CategoryState, "change stream established"))
		a.backoff.Reset()

		if !a.pump(ctx, listener) {
			return
		}
		// Stream broke; loop around and reconnect.
		if !a.sleep(ctx, a.backoff.Next()) {
			return
		}
	}
}

// pump forwards notifications from one listener until it fails or ctx is
// cancelled. Returns false when Run should exit.
func (a *Adapter) pump(ctx context.Context, listener Listener) bool {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = listener.Close(closeCtx)
	}()

	for {
		deviceID, err := listener.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			a.logger.Log(log.NewEvent(log.SubsystemNotifier, log.CategoryError, "change stream broken, reconnecting").
				WithError(err))
			return true
		}
		if deviceID == "" {
			// A notification without a payload cannot be routed.
			continue
		}

		select {
		case a.events <- Event{DeviceID: deviceID}:
		case <-ctx.Done():
			return false
		}
	}
}

// sleep waits for d or cancellation. Returns false on cancellation.
func (a *Adapter) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
