package dispatch

import (
	"context"

	"github.com/airmesh/airmesh-go/pkg/log"
	"github.com/airmesh/airmesh-go/pkg/model"
	"github.com/airmesh/airmesh-go/pkg/notifier"
	"github.com/airmesh/airmesh-go/pkg/registry"
)

// LatestSource returns the most recent committed reading for a device,
// or nil when the device has none.
type LatestSource interface {
	Latest(ctx context.Context, deviceID string) (*model.Reading, error)
}

// Dispatcher routes change events to the observers registered for the
// affected device.
type Dispatcher struct {
	store    LatestSource
	registry *registry.Registry
	logger   log.Logger
}

// New creates a dispatcher. logger may be nil.
func New(store LatestSource, reg *registry.Registry, logger log.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		registry: reg,
		logger:   log.OrNoop(logger),
	}
}

// Run consumes change events until ctx is cancelled or events is closed.
func (d *Dispatcher) Run(ctx context.Context, events <-chan notifier.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.OnChange(ctx, ev.DeviceID)
		}
	}
}

// OnChange handles one change event for deviceID. A device with no
// stored readings or no subscribers is a no-op; a store failure is
// logged and the event dropped, since the next event re-fetches the same
// state anyway.
func (d *Dispatcher) OnChange(ctx context.Context, deviceID string) {
	latest, err := d.store.Latest(ctx, deviceID)
	if err != nil {
		d.logger.Log(log.NewEvent(log.SubsystemDispatch, log.CategoryError, "latest fetch failed").
			WithDevice(deviceID).WithError(err))
		return
	}
	if latest == nil {
		return
	}

	for _, obs := range d.registry.Subscribers(deviceID) {
		if err := obs.Deliver(*latest); err != nil {
			// One failing observer never blocks the rest. Treat the
			// failure as an implicit disconnect.
			d.registry.Unregister(deviceID, obs)
			obs.Close()
			d.logger.Log(log.NewEvent(log.SubsystemDispatch, log.CategoryError, "delivery failed, observer dropped").
				WithConn(obs.ID()).WithDevice(deviceID).WithError(err))
			continue
		}
		d.logger.Log(log.NewEvent(log.SubsystemDispatch, log.CategoryDelivery, "update delivered").
			WithConn(obs.ID()).WithDevice(deviceID))
	}
}
