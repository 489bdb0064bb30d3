package mqtt

import (
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type sent struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	open         bool
	publishErr   error
	sent         []sent
	disconnected bool
}

func (c *fakeClient) IsConnected() bool      { return c.open }
func (c *fakeClient) IsConnectionOpen() bool { return c.open }
func (c *fakeClient) Disconnect(uint)        { c.disconnected = true }
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	if c.publishErr != nil {
		return &fakeToken{err: c.publishErr}
	}
	c.sent = append(c.sent, sent{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return &fakeToken{}
}

func TestRealPublisherSendsWhenConnected(t *testing.T) {
	c := &fakeClient{open: true}
	p := newPublisherWithClient(c, "r1", zerolog.Nop())

	if err := p.PublishTelemetry(sampleTelemetry()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(c.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(c.sent))
	}
	if c.sent[0].topic != "bioreactor/r1/telemetry" || c.sent[0].qos != 0 || c.sent[0].retained {
		t.Errorf("unexpected telemetry message: %+v", c.sent[0])
	}
	if c.sent[1].topic != "bioreactor/r1/system" || c.sent[1].qos != 1 || !c.sent[1].retained {
		t.Errorf("unexpected system message: %+v", c.sent[1])
	}
	if p.Buffered() != 0 {
		t.Errorf("expected empty buffer, got %d", p.Buffered())
	}
}

func TestRealPublisherBuffersWhileOffline(t *testing.T) {
	c := &fakeClient{open: false}
	p := newPublisherWithClient(c, "r1", zerolog.Nop())

	for i := 0; i < 3; i++ {
		tel := sampleTelemetry()
		tel.Tick = uint32(i)
		if err := p.PublishTelemetry(tel); err != nil {
			t.Fatalf("offline publish should not fail: %v", err)
		}
	}
	if len(c.sent) != 0 {
		t.Fatalf("expected nothing sent while offline, got %d", len(c.sent))
	}
	if p.Buffered() != 3 {
		t.Fatalf("expected 3 buffered, got %d", p.Buffered())
	}

	c.open = true
	p.onConnect()

	if len(c.sent) != 3 {
		t.Fatalf("expected 3 replayed, got %d", len(c.sent))
	}
	if p.Buffered() != 0 {
		t.Errorf("expected buffer drained, got %d", p.Buffered())
	}
}

func TestRealPublisherRebuffersOnFailure(t *testing.T) {
	c := &fakeClient{open: true, publishErr: errors.New("broken pipe")}
	p := newPublisherWithClient(c, "r1", zerolog.Nop())

	if err := p.PublishTelemetry(sampleTelemetry()); err == nil {
		t.Fatal("expected publish error")
	}
	if p.Buffered() != 1 {
		t.Fatalf("failed message should be buffered, got %d", p.Buffered())
	}

	p.onConnect()
	if p.Buffered() != 1 {
		t.Errorf("failed replay should keep the message, got %d", p.Buffered())
	}

	c.publishErr = nil
	p.onConnect()
	if p.Buffered() != 0 || len(c.sent) != 1 {
		t.Errorf("expected replay to succeed, buffered=%d sent=%d", p.Buffered(), len(c.sent))
	}
}

func TestRealPublisherClose(t *testing.T) {
	c := &fakeClient{open: true}
	p := newPublisherWithClient(c, "r1", zerolog.Nop())
	p.Close()
	if !c.disconnected {
		t.Error("expected disconnect")
	}
}
