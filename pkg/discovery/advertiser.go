package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

const (
	// ServiceType identifies the service on the local network.
	ServiceType = "_airmesh._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// defaultTTL is the DNS record TTL.
	defaultTTL = 120 * time.Second
)

// ErrAlreadyAdvertising is returned when Start is called twice.
var ErrAlreadyAdvertising = errors.New("already advertising")

// Config configures the advertiser.
type Config struct {
	// Instance is the advertised service instance name.
	Instance string

	// HTTPAddr is the listen address the service binds; its port is
	// advertised. A missing or zero port falls back to 80.
	HTTPAddr string

	// Interface restricts advertising to one network interface.
	// Empty means all interfaces.
	Interface string

	// TTL is the DNS record TTL. Zero means defaultTTL.
	TTL time.Duration
}

// Advertiser announces the HTTP endpoint via zeroconf.
type Advertiser struct {
	config Config

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates a stopped advertiser.
func NewAdvertiser(config Config) *Advertiser {
	if config.TTL == 0 {
		config.TTL = defaultTTL
	}
	return &Advertiser{config: config}
}

// Start registers the mDNS service. TXT records name the ingest,
// history and live paths so a browser does not need them hardcoded.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return ErrAlreadyAdvertising
	}

	port, err := portFromAddr(a.config.HTTPAddr)
	if err != nil {
		return err
	}

	txt := []string{
		"data=/data",
		"live=/live",
		"health=/health",
	}

	opts := []zeroconf.ServerOption{
		zeroconf.TTL(uint32(a.config.TTL.Seconds())),
	}

	server, err := zeroconf.Register(
		a.config.Instance,
		ServiceType,
		Domain,
		port,
		txt,
		a.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}

	a.server = server
	return nil
}

// Stop withdraws the advertisement. Safe to call when not advertising.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// interfaces returns the interfaces to advertise on, nil meaning all.
func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// portFromAddr extracts the port from a listen address like ":8080" or
// "0.0.0.0:8080". Named and ephemeral ports are rejected: advertising
// requires knowing the concrete port up front.
func portFromAddr(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("listen address %q has no advertisable port", addr)
	}
	return port, nil
}
