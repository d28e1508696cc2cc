package registry

import (
	"sync"

	"github.com/airmesh/airmesh-go/pkg/log"
	"github.com/airmesh/airmesh-go/pkg/model"
)

// Observer is one live connection interested in a single device stream.
// Implementations are pointers; identity is reference equality, so two
// observers are the same subscriber only if they are the same value.
type Observer interface {
	// ID returns a stable identifier for log correlation.
	ID() string

	// Deliver hands the observer a live reading. It must not block:
	// implementations enqueue into a bounded buffer and return an error
	// once the connection can no longer accept data.
	Deliver(reading model.Reading) error

	// Close tears the connection down. Safe to call more than once.
	Close()
}

// Registry maps device identifiers to the set of observers currently
// subscribed to them. The zero value is not usable; call New.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]map[Observer]struct{}
	logger log.Logger
}

// New creates an empty registry. logger may be nil.
func New(logger log.Logger) *Registry {
	return &Registry{
		subs:   make(map[string]map[Observer]struct{}),
		logger: log.OrNoop(logger),
	}
}

// Register adds obs to the subscriber set for deviceID, creating the set
// if absent. Registering the same observer twice is idempotent.
func (r *Registry) Register(deviceID string, obs Observer) {
	r.mu.Lock()
	set, ok := r.subs[deviceID]
	if !ok {
		set = make(map[Observer]struct{})
		r.subs[deviceID] = set
	}
	set[obs] = struct{}{}
	r.mu.Unlock()

	r.logger.Log(log.NewEvent(log.SubsystemRegistry, log.CategoryState, "observer registered").
		WithConn(obs.ID()).WithDevice(deviceID))
}

// Unregister removes obs from the subscriber set for deviceID. The entry
// is removed entirely once its set is empty. Unregistering an observer or
// device that is already gone is a no-op.
func (r *Registry) Unregister(deviceID string, obs Observer) {
	r.mu.Lock()
	set, ok := r.subs[deviceID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, present := set[obs]; !present {
		r.mu.Unlock()
		return
	}
	delete(set, obs)
	if len(set) == 0 {
		delete(r.subs, deviceID)
	}
	r.mu.Unlock()

	r.logger.Log(log.NewEvent(log.SubsystemRegistry, log.CategoryState, "observer unregistered").
		WithConn(obs.ID()).WithDevice(deviceID))
}

// Subscribers returns a snapshot of the observers currently registered
// for deviceID. The returned slice is owned by the caller; concurrent
// register/unregister calls never disturb iteration over it.
func (r *Registry) Subscribers(deviceID string) []Observer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.subs[deviceID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Observer, 0, len(set))
	for obs := range set {
		out = append(out, obs)
	}
	return out
}

// Count returns the number of observers registered for deviceID.
func (r *Registry) Count(deviceID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[deviceID])
}

// Devices returns the device identifiers that currently have at least one
// subscriber.
func (r *Registry) Devices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.subs))
	for id := range r.subs {
		out = append(out, id)
	}
	return out
}
