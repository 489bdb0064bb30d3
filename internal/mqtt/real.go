package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	// outboxCapacity holds a little over a day of 5-minute telemetry.
	outboxCapacity = 300

	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second
)

var errPublishTimeout = errors.New("publish timeout")

// client is the subset of paho.Client the publisher uses.
type client interface {
	IsConnected() bool
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down wait in an outbox and are replayed, oldest first,
// when it comes back.
type RealPublisher struct {
	client client
	device string
	log    zerolog.Logger

	mu     sync.Mutex
	outbox *outbox
}

// NewRealPublisher creates a publisher for device on broker. A broker that is
// unreachable at startup is not an error: paho keeps retrying and messages
// are buffered until it connects.
func NewRealPublisher(broker, device string, log zerolog.Logger) (*RealPublisher, error) {
	p := &RealPublisher{
		device: device,
		log:    log.With().Str("component", "mqtt").Logger(),
		outbox: newOutbox(outboxCapacity),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("bioreactor-"+device).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(SystemTopic(device), string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn().Err(err).Msg("broker connection lost, buffering")
		})

	c := paho.NewClient(opts)
	p.client = c

	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		p.log.Warn().Str("broker", broker).Msg("broker not reachable yet, will keep retrying")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func newPublisherWithClient(c client, device string, log zerolog.Logger) *RealPublisher {
	return &RealPublisher{
		client: c,
		device: device,
		log:    log,
		outbox: newOutbox(outboxCapacity),
	}
}

// PublishTelemetry sends one telemetry sample at QoS 0.
func (p *RealPublisher) PublishTelemetry(t Telemetry) error {
	payload, err := FormatTelemetryPayload(t)
	if err != nil {
		return fmt.Errorf("format telemetry: %w", err)
	}
	return p.publish(outMsg{topic: TelemetryTopic(p.device), payload: payload})
}

// PublishSystem sends a system lifecycle event at QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(outMsg{
		topic:    SystemTopic(p.device),
		payload:  payload,
		qos:      1,
		retained: event.Retained,
	})
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbox.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) publish(msg outMsg) error {
	if !p.client.IsConnectionOpen() {
		p.enqueue(msg)
		return nil
	}
	if err := p.send(msg); err != nil {
		p.enqueue(msg)
		return err
	}
	return nil
}

func (p *RealPublisher) send(msg outMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return errPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) enqueue(msg outMsg) {
	p.mu.Lock()
	firstDrop := p.outbox.push(msg)
	p.mu.Unlock()
	if firstDrop {
		p.log.Warn().Int("capacity", outboxCapacity).Msg("outbox full, dropping oldest telemetry")
	}
}

// onConnect replays the outbox. Messages that fail again go back into the
// outbox for the next connection.
func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	pending, dropped := p.outbox.drain()
	p.mu.Unlock()

	if len(pending) > 0 || dropped > 0 {
		p.log.Info().Int("messages", len(pending)).Int("dropped", dropped).Msg("broker connected, replaying outbox")
	}
	for i, msg := range pending {
		if err := p.send(msg); err != nil {
			p.log.Warn().Err(err).Msg("replay failed, re-buffering")
			for _, rest := range pending[i:] {
				p.enqueue(rest)
			}
			return
		}
	}
}
