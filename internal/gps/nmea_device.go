// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"sync"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
)

const knotsToMS = 0.514444

// maxLineLen bounds a buffered partial line; NMEA sentences are < 83 chars.
const maxLineLen = 4096

// SerialConfig selects the receiver's serial port.
type SerialConfig struct {
	PortName string
	BaudRate int
}

// OpenSerial opens a serial port with a 100ms read timeout so reads never
// block past one poll interval.
func OpenSerial(cfg SerialConfig) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              cfg.PortName,
		BaudRate:              uint(cfg.BaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 100,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.PortName, err)
	}
	return port, nil
}

// NMEADevice reads NMEA 0183 sentences from a receiver and decodes GGA and
// RMC into records. Corrections written with Send go to the same port.
type NMEADevice struct {
	port io.ReadWriteCloser

	wmu sync.Mutex // serialises Send

	buf     []byte
	scratch []byte

	lastRMC *nmea.RMC
}

// OpenNMEADevice opens the serial port described by cfg.
func OpenNMEADevice(cfg SerialConfig) (*NMEADevice, error) {
	port, err := OpenSerial(cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("gps: serial port opened on %s at %d baud", cfg.PortName, cfg.BaudRate)
	return NewNMEADevice(port), nil
}

// NewNMEADevice wraps an already open port.
func NewNMEADevice(port io.ReadWriteCloser) *NMEADevice {
	return &NMEADevice{
		port:    port,
		scratch: make([]byte, 512),
	}
}

// Poll returns at most one decoded sentence. Poll is not safe for
// concurrent use; Send is.
func (d *NMEADevice) Poll(ctx context.Context) ([]byte, Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	line, ok := d.nextLine()
	if !ok {
		n, err := d.port.Read(d.scratch)
		if n > 0 {
			d.buf = append(d.buf, d.scratch[:n]...)
			if len(d.buf) > maxLineLen {
				// runaway garbage without newlines
				d.buf = d.buf[:0]
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("gps read: %w", err)
		}
		// io.EOF is how the port reports an expired read timeout.
		if line, ok = d.nextLine(); !ok {
			return nil, nil, nil
		}
	}

	text := strings.TrimSpace(string(line))
	if !strings.HasPrefix(text, "$") {
		return line, nil, nil
	}

	sentence, err := nmea.Parse(text)
	if err != nil {
		return line, nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return line, d.decode(sentence), nil
}

func (d *NMEADevice) nextLine() ([]byte, bool) {
	i := bytes.IndexByte(d.buf, '\n')
	if i < 0 {
		return nil, false
	}
	line := append([]byte(nil), d.buf[:i+1]...)
	d.buf = append(d.buf[:0], d.buf[i+1:]...)
	return line, true
}

func (d *NMEADevice) decode(sentence nmea.Sentence) Record {
	switch sentence.DataType() {
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		msl := m.Altitude
		fix := Fix{
			GNSSTime:      m.Time.String(),
			Latitude:      m.Latitude,
			Longitude:     m.Longitude,
			Height:        m.Altitude + m.Separation,
			HeightMSL:     &msl,
			Quality:       QualityFromGGA(m.FixQuality),
			NumSatellites: int(m.NumSatellites),
			HDOP:          m.HDOP,
			Source:        SourceMeasured,
		}
		// RMC for the same epoch supplies horizontal velocity.
		if r := d.lastRMC; r != nil && r.Time == m.Time && r.Validity == nmea.ValidRMC {
			v := velocityFromCourse(r.Speed*knotsToMS, r.Course)
			fix.Velocity = &v
		}
		return PositionFix{Fix: fix, FixOK: m.FixQuality != nmea.Invalid}

	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		d.lastRMC = &m
		return CourseReport{
			SpeedMS:  m.Speed * knotsToMS,
			TrackDeg: m.Course,
			Valid:    m.Validity == nmea.ValidRMC,
		}

	default:
		return Sentence{Type: sentence.DataType()}
	}
}

func velocityFromCourse(speed, trackDeg float64) ENU {
	rad := trackDeg * math.Pi / 180
	return ENU{E: speed * math.Sin(rad), N: speed * math.Cos(rad)}
}

// Send writes p to the receiver.
func (d *NMEADevice) Send(p []byte) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	if _, err := d.port.Write(p); err != nil {
		return fmt.Errorf("gps write: %w", err)
	}
	return nil
}

func (d *NMEADevice) Close() error {
	return d.port.Close()
}
