package sink

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/relabs-tech/gnss_streamer/internal/gps"
)

// SerialCorrectionSink writes RTCM frames to a dedicated serial port, for
// receivers that take corrections on a second UART.
type SerialCorrectionSink struct {
	mu      sync.Mutex
	port    io.WriteCloser
	written atomic.Int64
}

// OpenSerialCorrectionSink opens the port with the same settings as the
// receiver port.
func OpenSerialCorrectionSink(cfg gps.SerialConfig) (*SerialCorrectionSink, error) {
	port, err := gps.OpenSerial(cfg)
	if err != nil {
		return nil, err
	}
	return NewSerialCorrectionSink(port), nil
}

func NewSerialCorrectionSink(port io.WriteCloser) *SerialCorrectionSink {
	return &SerialCorrectionSink{port: port}
}

// Send writes one correction frame.
func (s *SerialCorrectionSink) Send(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.port.Write(p)
	s.written.Add(int64(n))
	if err != nil {
		return fmt.Errorf("correction port write: %w", err)
	}
	return nil
}

// BytesWritten is the total number of correction bytes sent.
func (s *SerialCorrectionSink) BytesWritten() int64 { return s.written.Load() }

func (s *SerialCorrectionSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}
