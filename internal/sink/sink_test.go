package sink

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func TestKafkaMirror_PublishesTrimmedLines(t *testing.T) {
	cfg := NewKafkaConfig()
	mp := mocks.NewAsyncProducer(t, cfg)
	noNewline := func(val []byte) error {
		if bytes.HasSuffix(val, []byte("\n")) {
			return fmt.Errorf("value %q keeps line terminator", val)
		}
		return nil
	}
	mp.ExpectInputWithCheckerFunctionAndSucceed(noNewline)
	mp.ExpectInputWithCheckerFunctionAndSucceed(noNewline)
	mp.ExpectInputAndFail(errors.New("leader not available"))

	m := newKafkaMirror(mp, "gnss")
	for i := 0; i < 3; i++ {
		if err := m.Publish([]byte(`{"lat":1}` + "\n")); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if m.Failed() != 1 {
		t.Fatalf("failed=%d want 1", m.Failed())
	}
	if m.Dropped() != 0 {
		t.Fatalf("dropped=%d want 0", m.Dropped())
	}
}

// stuckProducer never consumes its input, like a producer whose broker is
// unreachable and whose buffer has filled up.
type stuckProducer struct {
	sarama.AsyncProducer
	in   chan *sarama.ProducerMessage
	errs chan *sarama.ProducerError
}

func (p *stuckProducer) Input() chan<- *sarama.ProducerMessage { return p.in }
func (p *stuckProducer) Errors() <-chan *sarama.ProducerError  { return p.errs }
func (p *stuckProducer) Close() error                           { close(p.errs); return nil }

func TestKafkaMirror_FullBufferDropsWithoutBlocking(t *testing.T) {
	p := &stuckProducer{in: make(chan *sarama.ProducerMessage, 1), errs: make(chan *sarama.ProducerError)}
	m := newKafkaMirror(p, "gnss")
	defer m.Close()

	if err := m.Publish([]byte("a\n")); err != nil {
		t.Fatalf("first Publish() error: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- m.Publish([]byte("b\n")) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrMirrorFull) {
			t.Fatalf("err=%v want ErrMirrorFull", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Publish() blocked on a full buffer")
	}
	if m.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", m.Dropped())
	}
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTT struct {
	topic    string
	payloads []string
	token    *fakeToken
}

func (c *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topic = topic
	c.payloads = append(c.payloads, string(payload.([]byte)))
	return c.token
}

func TestMQTTMirror_Publish(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	c := &fakeMQTT{token: pending}
	m := newMQTTMirror(c, "gnss/fix")

	if err := m.Publish([]byte(`{"lat":1}` + "\n")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if c.topic != "gnss/fix" || len(c.payloads) != 1 || c.payloads[0] != `{"lat":1}` {
		t.Fatalf("topic=%q payloads=%q", c.topic, c.payloads)
	}

	failed := &fakeToken{done: make(chan struct{}), err: errors.New("not connected")}
	close(failed.done)
	c.token = failed
	if err := m.Publish([]byte("x\n")); err == nil {
		t.Fatalf("immediate client error not reported")
	}
}

type fakePort struct {
	bytes.Buffer
	closed bool
	err    error
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	return p.Buffer.Write(b)
}
func (p *fakePort) Close() error { p.closed = true; return nil }

func TestSerialCorrectionSink(t *testing.T) {
	port := &fakePort{}
	s := NewSerialCorrectionSink(port)
	frame := []byte{0xD3, 0x00, 0x01, 0x42, 0x01, 0x02, 0x03}
	if err := s.Send(frame); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !bytes.Equal(port.Bytes(), frame) || s.BytesWritten() != int64(len(frame)) {
		t.Fatalf("port=%x written=%d", port.Bytes(), s.BytesWritten())
	}

	port.err = errors.New("device gone")
	if err := s.Send(frame); err == nil {
		t.Fatalf("write error not reported")
	}
	if err := s.Close(); err != nil || !port.closed {
		t.Fatalf("Close() err=%v closed=%v", err, port.closed)
	}
}
