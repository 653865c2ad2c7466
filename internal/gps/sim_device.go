// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"context"
	"math"
	"sync/atomic"
	"time"
)

const earthRadiusM = 6371000.0

// SimConfig describes a receiver driving a constant-speed circle.
type SimConfig struct {
	CenterLat float64
	CenterLon float64
	Height    float64
	RadiusM   float64
	Period    time.Duration // one lap
	Rate      time.Duration // fix interval, e.g. 1s
}

// SimDevice generates smooth fixes without hardware. Correction data sent
// to it is counted and discarded.
type SimDevice struct {
	cfg   SimConfig
	start time.Time
	next  time.Time

	sent atomic.Int64
}

// NewSimDevice creates a simulated receiver starting now.
func NewSimDevice(cfg SimConfig) *SimDevice {
	if cfg.Rate <= 0 {
		cfg.Rate = time.Second
	}
	if cfg.Period <= 0 {
		cfg.Period = 2 * time.Minute
	}
	now := time.Now()
	return &SimDevice{cfg: cfg, start: now, next: now}
}

// Poll waits until the next fix is due, at most 100ms.
func (s *SimDevice) Poll(ctx context.Context) ([]byte, Record, error) {
	wait := time.Until(s.next)
	if wait > 100*time.Millisecond {
		wait = 100 * time.Millisecond
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
	}
	now := time.Now()
	if now.Before(s.next) {
		return nil, nil, nil
	}
	s.next = s.next.Add(s.cfg.Rate)
	if s.next.Before(now) {
		s.next = now.Add(s.cfg.Rate)
	}

	fix := s.at(now)
	return []byte(FormatGGA(fix) + "\r\n"), PositionFix{Fix: fix, FixOK: true}, nil
}

func (s *SimDevice) at(now time.Time) Fix {
	elapsed := now.Sub(s.start).Seconds()
	omega := 2 * math.Pi / s.cfg.Period.Seconds()
	theta := omega * elapsed
	r := s.cfg.RadiusM

	east := r * math.Sin(theta)
	north := r * math.Cos(theta)
	latRad := s.cfg.CenterLat * math.Pi / 180

	lat := s.cfg.CenterLat + north/earthRadiusM*180/math.Pi
	lon := s.cfg.CenterLon + east/(earthRadiusM*math.Cos(latRad))*180/math.Pi

	msl := s.cfg.Height
	utc := now.UTC()
	return Fix{
		GNSSTime:      utc.Format("15:04:05.0000"),
		Latitude:      lat,
		Longitude:     lon,
		Height:        s.cfg.Height,
		HeightMSL:     &msl,
		Velocity:      &ENU{E: r * omega * math.Cos(theta), N: -r * omega * math.Sin(theta)},
		Quality:       QualityFixedRTK,
		NumSatellites: 18,
		HDOP:          0.6,
		Source:        SourceMeasured,
	}
}

func (s *SimDevice) Send(p []byte) error {
	s.sent.Add(int64(len(p)))
	return nil
}

// BytesSent returns the total correction bytes received so far.
func (s *SimDevice) BytesSent() int64 {
	return s.sent.Load()
}

func (s *SimDevice) Close() error { return nil }
