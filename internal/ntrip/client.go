// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ntrip is a minimal NTRIP v1/v2 client: it opens a mountpoint on a
// caster, uploads GGA positions, and cuts the returned RTCM3 stream into
// frames.
package ntrip

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotConnected = errors.New("ntrip: not connected")
	ErrRejected     = errors.New("ntrip: caster rejected request")
	ErrStale        = errors.New("ntrip: no corrections received")
)

type Config struct {
	Host       string
	Port       int
	Mountpoint string
	Version    int // 1 or 2
	Username   string
	Password   string

	// ConnectTimeout bounds dial plus handshake.
	ConnectTimeout time.Duration
	// StaleTimeout is how long the stream may stay silent before
	// ReceiveCorrections reports ErrStale. Zero disables the check.
	StaleTimeout time.Duration
	// WriteTimeout bounds SendPosition.
	WriteTimeout time.Duration
}

// Client is one caster session. ReceiveCorrections never blocks: a reader
// goroutine owned by the session fills an internal buffer which each call
// drains.
type Client struct {
	cfg Config

	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	conn net.Conn

	mu       sync.Mutex
	pending  []byte
	readErr  error
	lastData time.Time
	done     chan struct{}

	frames framer
}

func NewClient(cfg Config) *Client {
	if cfg.Version == 0 {
		cfg.Version = 2
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = time.Second
	}
	var d net.Dialer
	return &Client{cfg: cfg, dial: d.DialContext}
}

// Addr returns host:port of the caster.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// Connect opens the mountpoint. Any previous session is closed first.
func (c *Client) Connect(ctx context.Context) error {
	_ = c.Close()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.dial(ctx, "tcp", c.Addr())
	if err != nil {
		return fmt.Errorf("ntrip dial %s: %w", c.Addr(), err)
	}
	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	if _, err := io.WriteString(conn, c.request()); err != nil {
		conn.Close()
		return fmt.Errorf("ntrip request: %w", err)
	}

	br := bufio.NewReader(conn)
	body, err := c.readResponse(br)
	if err != nil {
		conn.Close()
		return err
	}
	_ = conn.SetDeadline(time.Time{})

	c.conn = conn
	c.frames = framer{}
	done := make(chan struct{})
	c.mu.Lock()
	c.pending = nil
	c.readErr = nil
	c.lastData = time.Now()
	c.done = done
	c.mu.Unlock()

	go c.readLoop(body, done)
	return nil
}

func (c *Client) request() string {
	var b strings.Builder
	proto := "HTTP/1.0"
	if c.cfg.Version >= 2 {
		proto = "HTTP/1.1"
	}
	fmt.Fprintf(&b, "GET /%s %s\r\n", strings.TrimPrefix(c.cfg.Mountpoint, "/"), proto)
	fmt.Fprintf(&b, "Host: %s\r\n", c.Addr())
	if c.cfg.Version >= 2 {
		b.WriteString("Ntrip-Version: Ntrip/2.0\r\n")
	}
	b.WriteString("User-Agent: NTRIP gnss_streamer/1.0\r\n")
	if c.cfg.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
		fmt.Fprintf(&b, "Authorization: Basic %s\r\n", cred)
	}
	b.WriteString("Connection: close\r\n\r\n")
	return b.String()
}

// readResponse consumes the status line and headers and returns the reader
// positioned at the start of the correction stream.
func (c *Client) readResponse(br *bufio.Reader) (io.Reader, error) {
	tp := textproto.NewReader(br)
	status, err := tp.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("ntrip response: %w", err)
	}

	switch {
	case strings.HasPrefix(status, "ICY 200"):
		// v1: stream follows immediately
		return br, nil
	case strings.HasPrefix(status, "HTTP/1.") && strings.Contains(status, " 200"):
		hdr, err := tp.ReadMIMEHeader()
		if err != nil {
			return nil, fmt.Errorf("ntrip headers: %w", err)
		}
		if strings.EqualFold(hdr.Get("Transfer-Encoding"), "chunked") {
			return httputil.NewChunkedReader(br), nil
		}
		return br, nil
	case strings.HasPrefix(status, "SOURCETABLE"):
		return nil, fmt.Errorf("%w: mountpoint %q not found", ErrRejected, c.cfg.Mountpoint)
	default:
		return nil, fmt.Errorf("%w: %s", ErrRejected, status)
	}
}

func (c *Client) readLoop(r io.Reader, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		c.mu.Lock()
		if n > 0 {
			c.pending = append(c.pending, buf[:n]...)
			c.lastData = time.Now()
		}
		if err != nil {
			c.readErr = err
		}
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// SendPosition uploads one NMEA GGA sentence.
func (c *Client) SendPosition(gga string) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if !strings.HasSuffix(gga, "\r\n") {
		gga += "\r\n"
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if _, err := io.WriteString(c.conn, gga); err != nil {
		return fmt.Errorf("ntrip send position: %w", err)
	}
	return nil
}

// ReceiveCorrections returns every complete frame received since the last
// call; the result may be empty. A stream error is reported once the
// frames that arrived before it have been returned.
func (c *Client) ReceiveCorrections() ([]Block, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	c.mu.Lock()
	data := c.pending
	c.pending = nil
	readErr := c.readErr
	last := c.lastData
	c.mu.Unlock()

	now := time.Now()
	blocks := c.frames.feed(data, now)
	if len(blocks) > 0 {
		return blocks, nil
	}
	if readErr != nil {
		return nil, fmt.Errorf("ntrip stream: %w", readErr)
	}
	if c.cfg.StaleTimeout > 0 && now.Sub(last) > c.cfg.StaleTimeout {
		return nil, fmt.Errorf("%w for %s", ErrStale, now.Sub(last).Round(time.Millisecond))
	}
	return nil, nil
}

// Close ends the session and waits for the reader goroutine.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	return err
}
