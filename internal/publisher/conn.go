package publisher

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var errPeerGone = errors.New("peer gone")

// Conn is one downstream subscriber.
type Conn interface {
	// Send writes one encoded record, giving up after timeout.
	Send(line []byte, timeout time.Duration) error
	// Alive reports whether the peer still appears connected.
	Alive() bool
	Close() error
	String() string
}

// tcpConn is a plain TCP subscriber. Subscribers never send, so a
// background reader only waits for EOF and marks the conn dead.
type tcpConn struct {
	nc        net.Conn
	dead      atomic.Bool
	closeOnce sync.Once
}

// NewTCPConn wraps an accepted connection and starts its reader.
func NewTCPConn(nc net.Conn) Conn {
	c := &tcpConn{nc: nc}
	go c.readLoop()
	return c
}

func (c *tcpConn) readLoop() {
	buf := make([]byte, 512)
	for {
		if _, err := c.nc.Read(buf); err != nil {
			c.dead.Store(true)
			return
		}
	}
}

func (c *tcpConn) Send(line []byte, timeout time.Duration) error {
	if c.dead.Load() {
		return fmt.Errorf("send to %s: %w", c, errPeerGone)
	}
	if err := c.nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if _, err := c.nc.Write(line); err != nil {
		return fmt.Errorf("send to %s: %w", c, err)
	}
	return nil
}

func (c *tcpConn) Alive() bool { return !c.dead.Load() }

func (c *tcpConn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.nc.Close() })
	return err
}

func (c *tcpConn) String() string {
	return "tcp " + c.nc.RemoteAddr().String()
}

// ConnSet owns the subscriber list. All membership changes go through it.
type ConnSet struct {
	mu    sync.Mutex
	conns []Conn
}

func NewConnSet() *ConnSet {
	return &ConnSet{}
}

func (s *ConnSet) Add(c Conn) {
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
}

// Remove drops c from the set and closes it. It reports whether c was a
// member.
func (s *ConnSet) Remove(c Conn) bool {
	s.mu.Lock()
	found := false
	for i, x := range s.conns {
		if x == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		_ = c.Close()
	}
	return found
}

// Snapshot returns a copy of the current members in join order.
func (s *ConnSet) Snapshot() []Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Conn(nil), s.conns...)
}

// Prune removes every member that no longer reports Alive.
func (s *ConnSet) Prune() int {
	var dead []Conn
	for _, c := range s.Snapshot() {
		if !c.Alive() {
			dead = append(dead, c)
		}
	}
	n := 0
	for _, c := range dead {
		if s.Remove(c) {
			n++
		}
	}
	return n
}

func (s *ConnSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// CloseAll closes and forgets every member.
func (s *ConnSet) CloseAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
