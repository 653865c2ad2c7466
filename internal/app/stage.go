// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// State is the lifecycle position of a Stage.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "invalid"
	}
}

var ErrStageStarted = errors.New("stage already started")

// Stage is one independently paced loop of the pipeline.
type Stage struct {
	name string
	run  func(ctx context.Context) error
	// critical stages take the whole pipeline down when they fail
	critical bool

	state atomic.Int32

	mu  sync.Mutex
	err error
}

func NewStage(name string, critical bool, run func(ctx context.Context) error) *Stage {
	return &Stage{name: name, run: run, critical: critical}
}

func (s *Stage) Name() string { return s.name }

func (s *Stage) State() State { return State(s.state.Load()) }

// Err returns the error the loop stopped with, if any.
func (s *Stage) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Run executes the loop once. The stage moves to Stopping as soon as ctx is
// cancelled and to Stopped when the loop has returned.
func (s *Stage) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrStageStarted
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		case <-done:
		}
	}()

	err := s.run(ctx)
	close(done)

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.state.Store(int32(StateStopped))
	return err
}
