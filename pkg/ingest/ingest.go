package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/airmesh/airmesh-go/pkg/config"
	"github.com/airmesh/airmesh-go/pkg/log"
	"github.com/airmesh/airmesh-go/pkg/model"
	"github.com/airmesh/airmesh-go/pkg/wire"
)

// ErrMissingDeviceTopic is returned when a message topic has no device
// identifier in its last level.
var ErrMissingDeviceTopic = errors.New("topic carries no device identifier")

// connectTimeout bounds the initial broker handshake.
const connectTimeout = 10 * time.Second

// Sink receives validated readings. *store.Store satisfies this.
type Sink interface {
	Insert(ctx context.Context, r model.Reading) error
}

// Bridge subscribes to a measurement topic and writes each decoded
// payload to the sink. Message handling is synchronous per message;
// the broker client parallelizes across messages.
type Bridge struct {
	sink   Sink
	logger log.Logger

	client mqtt.Client
	topic  string
}

// New creates an unconnected bridge.
func New(sink Sink, logger log.Logger) *Bridge {
	return &Bridge{
		sink:   sink,
		logger: log.OrNoop(logger),
	}
}

// HandleMessage decodes one published payload and stores it. The device
// identifier comes from the last topic level, never from the payload.
func (b *Bridge) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	deviceID := deviceFromTopic(topic)
	if deviceID == "" {
		return fmt.Errorf("%w: %q", ErrMissingDeviceTopic, topic)
	}

	p, err := wire.DecodePayload(payload)
	if err != nil {
		return fmt.Errorf("device %s: %w", deviceID, err)
	}

	reading := p.Reading(deviceID)
	if err := reading.Validate(); err != nil {
		return fmt.Errorf("device %s: %w", deviceID, err)
	}

	if err := b.sink.Insert(ctx, reading); err != nil {
		return fmt.Errorf("store reading from %s: %w", deviceID, err)
	}

	b.logger.Log(log.NewEvent(log.SubsystemIngest, log.CategoryState, "reading ingested").
		WithDevice(deviceID))
	return nil
}

// Start connects to the broker and subscribes. The subscription is
// re-established on every reconnect.
func (b *Bridge) Start(cfg config.MQTT) error {
	b.topic = cfg.Topic

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Log(log.NewEvent(log.SubsystemIngest, log.CategoryError, "broker connection lost").
			WithError(err))
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		b.logger.Log(log.NewEvent(log.SubsystemIngest, log.CategoryState, "connected to broker"))
		token := client.Subscribe(b.topic, 1, b.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			b.logger.Log(log.NewEvent(log.SubsystemIngest, log.CategoryError, "subscribe failed").
				WithError(err))
		}
	})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connect to broker %s: timeout", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker %s: %w", cfg.BrokerURL, err)
	}
	return nil
}

// Stop disconnects from the broker.
func (b *Bridge) Stop() {
	if b.client == nil {
		return
	}
	b.client.Disconnect(250)
	b.client = nil
}

func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := b.HandleMessage(context.Background(), msg.Topic(), msg.Payload()); err != nil {
		b.logger.Log(log.NewEvent(log.SubsystemIngest, log.CategoryError, "message rejected").
			WithError(err))
	}
}

// deviceFromTopic extracts the device identifier from the last topic
// level. Wildcards and empty levels yield "".
func deviceFromTopic(topic string) string {
	idx := strings.LastIndexByte(topic, '/')
	id := topic[idx+1:]
	if id == "+" || id == "#" {
		return ""
	}
	return id
}
