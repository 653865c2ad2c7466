// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package publisher fans the fix stream out to TCP and websocket
// subscribers as JSON lines.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/gnss_streamer/internal/gps"
	"github.com/relabs-tech/gnss_streamer/internal/queue"
)

// Mirror receives a copy of every published line. Implementations must not
// block; errors are logged and otherwise ignored.
type Mirror interface {
	Publish(line []byte) error
	Name() string
}

type Options struct {
	Addr              string
	AcceptTimeout     time.Duration // listener deadline between ctx checks
	BroadcastInterval time.Duration
	WriteTimeout      time.Duration // per subscriber, per record
	Mirrors           []Mirror
}

func (o *Options) setDefaults() {
	if o.AcceptTimeout <= 0 {
		o.AcceptTimeout = time.Second
	}
	if o.BroadcastInterval <= 0 {
		o.BroadcastInterval = 10 * time.Millisecond
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 100 * time.Millisecond
	}
}

// Publisher owns the listener and the subscriber set. RunAccept and
// RunBroadcast are meant to run in their own goroutines.
type Publisher struct {
	opts  Options
	in    *queue.Bounded[gps.Fix]
	conns *ConnSet

	mu sync.Mutex
	ln net.Listener

	last    atomic.Pointer[Record]
	records atomic.Uint64
}

func New(opts Options, in *queue.Bounded[gps.Fix]) *Publisher {
	opts.setDefaults()
	return &Publisher{opts: opts, in: in, conns: NewConnSet()}
}

// Listen binds the TCP listener. RunAccept calls it when needed.
func (p *Publisher) Listen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", p.opts.Addr)
	if err != nil {
		return fmt.Errorf("publisher listen %s: %w", p.opts.Addr, err)
	}
	p.ln = ln
	log.Printf("publisher: listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (p *Publisher) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return nil
	}
	return p.ln.Addr()
}

func (p *Publisher) Conns() *ConnSet { return p.conns }

// Records is the number of records broadcast so far.
func (p *Publisher) Records() uint64 { return p.records.Load() }

// Last returns the most recently broadcast record.
func (p *Publisher) Last() (Record, bool) {
	r := p.last.Load()
	if r == nil {
		return Record{}, false
	}
	return *r, true
}

// RunAccept accepts subscribers until ctx is cancelled, then closes the
// listener and every subscriber.
func (p *Publisher) RunAccept(ctx context.Context) error {
	if err := p.Listen(); err != nil {
		return err
	}
	p.mu.Lock()
	ln := p.ln.(*net.TCPListener)
	p.mu.Unlock()

	defer func() {
		ln.Close()
		p.conns.CloseAll()
		log.Println("publisher: accept loop stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = ln.SetDeadline(time.Now().Add(p.opts.AcceptTimeout))
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("publisher: accept error: %v", err)
			continue
		}
		p.conns.Add(NewTCPConn(nc))
		pruned := p.conns.Prune()
		log.Printf("publisher: client %s connected (%d clients, %d pruned)", nc.RemoteAddr(), p.conns.Len(), pruned)
	}
}

// RunBroadcast drains the publish queue on every tick and writes each
// record to every subscriber.
func (p *Publisher) RunBroadcast(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("publisher: broadcast loop stopped")
			return nil
		case <-ticker.C:
			for _, fix := range p.in.Drain() {
				p.broadcast(fix)
			}
		}
	}
}

func (p *Publisher) broadcast(fix gps.Fix) {
	rec := NewRecord(fix)
	line, err := Encode(fix)
	if err != nil {
		log.Printf("publisher: %v", err)
		return
	}
	p.last.Store(&rec)
	p.records.Add(1)

	for _, c := range p.conns.Snapshot() {
		if !c.Alive() {
			p.conns.Remove(c)
			log.Printf("publisher: dropped %s: %v", c, errPeerGone)
			continue
		}
		if err := c.Send(line, p.opts.WriteTimeout); err != nil {
			p.conns.Remove(c)
			log.Printf("publisher: dropped %s: %v", c, err)
		}
	}
	for _, m := range p.opts.Mirrors {
		if err := m.Publish(line); err != nil {
			log.Printf("publisher: %s mirror: %v", m.Name(), err)
		}
	}
}
