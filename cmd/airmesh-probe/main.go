// Command airmesh-probe simulates an air-quality sensor. It publishes
// CBOR-encoded readings to the MQTT broker the server ingests from,
// which makes it useful for exercising the live update path without
// hardware.
//
// Usage:
//
//	airmesh-probe [flags]
//
// Flags:
//
//	-broker string      MQTT broker URL (default "tcp://localhost:1883")
//	-device string      Device identifier (default "probe-1")
//	-topic string       Topic prefix; the device id is appended (default "airmesh/readings")
//	-interval duration  Publish interval in timer mode (default 5s)
//	-interactive        Run an interactive console instead of the timer
//
// Examples:
//
//	# Publish a synthetic reading every two seconds
//	airmesh-probe -device kitchen -interval 2s
//
//	# Drive readings by hand
//	airmesh-probe -device kitchen -interactive
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/airmesh/airmesh-go/pkg/wire"
)

func main() {
	var (
		broker      string
		deviceID    string
		topicPrefix string
		interval    time.Duration
		interactive bool
	)
	flag.StringVar(&broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&deviceID, "device", "probe-1", "Device identifier")
	flag.StringVar(&topicPrefix, "topic", "airmesh/readings", "Topic prefix; the device id is appended")
	flag.DurationVar(&interval, "interval", 5*time.Second, "Publish interval in timer mode")
	flag.BoolVar(&interactive, "interactive", false, "Run an interactive console instead of the timer")
	flag.Parse()

	probe, err := newProbe(broker, deviceID, topicPrefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer probe.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if interactive {
		if err := runConsole(ctx, probe); err != nil {
			fmt.Fprintf(os.Stderr, "console: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("publishing as %s every %s (Ctrl-C to stop)\n", deviceID, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := probe.publish(probe.synthetic()); err != nil {
				fmt.Fprintf(os.Stderr, "publish: %v\n", err)
			}
		}
	}
}

// probe holds the broker connection and the simulated sensor state.
type probe struct {
	client   mqtt.Client
	deviceID string
	topic    string

	// Baseline values the synthetic readings drift around.
	co   float64
	temp float64
	pm25 float64
}

func newProbe(broker, deviceID, topicPrefix string) (*probe, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("airmesh-probe-" + deviceID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", broker, err)
	}

	return &probe{
		client:   client,
		deviceID: deviceID,
		topic:    topicPrefix + "/" + deviceID,
		co:       0.5,
		temp:     21.0,
		pm25:     6.0,
	}, nil
}

func (p *probe) close() {
	p.client.Disconnect(250)
}

// synthetic produces a plausible reading that drifts around the
// baseline.
func (p *probe) synthetic() wire.ReadingPayload {
	p.co = drift(p.co, 0.05, 0, 5)
	p.temp = drift(p.temp, 0.2, 10, 35)
	p.pm25 = drift(p.pm25, 0.5, 0, 150)

	return wire.ReadingPayload{
		RecordedAt:         time.Now().UTC(),
		CarbonMonoxidePPM:  p.co,
		TemperatureCelsius: p.temp,
		PM1:                p.pm25 * 0.6,
		PM25:               p.pm25,
		PM4:                p.pm25 * 1.3,
		PM10:               p.pm25 * 1.8,
	}
}

func (p *probe) publish(payload wire.ReadingPayload) error {
	data, err := wire.EncodePayloadCBOR(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	token := p.client.Publish(p.topic, 1, false, data)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publish to %s: timeout", p.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

func drift(v, step, min, max float64) float64 {
	v += (rand.Float64()*2 - 1) * step
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
