// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package extrapolator projects the latest GNSS fixes forward in time
// (dead reckoning) in a local East-North-Up frame.
//
// The frame is anchored at a reference point taken from the first fix ever
// added. Positions are converted to ENU through WGS84 ECEF, moved by
// velocity·dt, and converted back.
package extrapolator

import (
	"sync"
	"time"

	"github.com/relabs-tech/gnss_streamer/internal/gps"
)

const DefaultBufferDepth = 2

// ReferencePoint anchors the ENU frame. It never changes once set.
type ReferencePoint struct {
	Latitude  float64
	Longitude float64
	Height    float64
	ECEF      Vec3
}

// Geoid returns the geoid undulation (ellipsoid minus MSL) at a location.
type Geoid interface {
	Undulation(lat, lon float64) (float64, bool)
}

// ConstantGeoid reports the same undulation everywhere. It is adequate for
// the few-kilometre areas a single receiver covers.
type ConstantGeoid float64

func (g ConstantGeoid) Undulation(lat, lon float64) (float64, bool) {
	return float64(g), true
}

type Options struct {
	// BufferDepth is the number of fixes retained; values below 2 use 2.
	BufferDepth int
	// Geoid is preferred for MSL height; nil falls back to the offset
	// observed on fixes carrying both heights.
	Geoid Geoid
}

// Extrapolator is safe for concurrent use.
type Extrapolator struct {
	mu sync.Mutex

	depth int
	buf   []gps.Fix // oldest first

	ref *ReferencePoint
	rot rotation

	geoid     Geoid
	mslOffset *float64 // ellipsoidal minus MSL from the latest fix carrying both
}

func New(opts Options) *Extrapolator {
	depth := opts.BufferDepth
	if depth < 2 {
		depth = DefaultBufferDepth
	}
	return &Extrapolator{
		depth: depth,
		buf:   make([]gps.Fix, 0, depth),
		geoid: opts.Geoid,
	}
}

// AddFix buffers f, evicting the oldest fix once the buffer is full. The
// first fix ever added becomes the reference point.
func (e *Extrapolator) AddFix(f gps.Fix) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ref == nil {
		e.ref = &ReferencePoint{
			Latitude:  f.Latitude,
			Longitude: f.Longitude,
			Height:    f.Height,
			ECEF:      GeodeticToECEF(f.Latitude, f.Longitude, f.Height),
		}
		e.rot = newRotation(f.Latitude, f.Longitude)
	}
	if f.HeightMSL != nil {
		off := f.Height - *f.HeightMSL
		e.mslOffset = &off
	}

	if len(e.buf) == e.depth {
		copy(e.buf, e.buf[1:])
		e.buf = e.buf[:e.depth-1]
	}
	e.buf = append(e.buf, f)
}

// Extrapolate projects the newest fix to t. It returns false until a
// reference point exists and at least two fixes are buffered. When t is
// before the newest fix, that fix is returned unchanged.
func (e *Extrapolator) Extrapolate(t time.Time) (gps.Fix, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ref == nil || len(e.buf) < 2 {
		return gps.Fix{}, false
	}
	last := e.buf[len(e.buf)-1]
	prev := e.buf[len(e.buf)-2]

	dt := t.Sub(last.Time).Seconds()
	if dt < 0 {
		return last, true
	}

	pLast := e.toENULocked(last.Latitude, last.Longitude, last.Height)

	var vel gps.ENU
	if last.Velocity != nil {
		vel = *last.Velocity
	} else if span := last.Time.Sub(prev.Time).Seconds(); span != 0 {
		pPrev := e.toENULocked(prev.Latitude, prev.Longitude, prev.Height)
		vel = gps.ENU{
			E: (pLast.E - pPrev.E) / span,
			N: (pLast.N - pPrev.N) / span,
			U: (pLast.U - pPrev.U) / span,
		}
	}

	ecef := e.ref.ECEF.Add(e.rot.fromENU(
		pLast.E+vel.E*dt,
		pLast.N+vel.N*dt,
		pLast.U+vel.U*dt,
	))
	lat, lon, h := ECEFToGeodetic(ecef)

	return gps.Fix{
		Time:      t,
		Latitude:  lat,
		Longitude: lon,
		Height:    h,
		HeightMSL: e.mslLocked(lat, lon, h),
		Velocity:  &vel,
		Quality:   last.Quality,
		Source:    gps.SourceExtrapolated,
	}, true
}

func (e *Extrapolator) mslLocked(lat, lon, h float64) *float64 {
	if e.geoid != nil {
		if und, ok := e.geoid.Undulation(lat, lon); ok {
			msl := h - und
			return &msl
		}
	}
	if e.mslOffset != nil {
		msl := h - *e.mslOffset
		return &msl
	}
	return nil
}

// Reference returns the reference point, if one has been set.
func (e *Extrapolator) Reference() (ReferencePoint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ref == nil {
		return ReferencePoint{}, false
	}
	return *e.ref, true
}

// ToENU expresses a geodetic position in the reference frame.
func (e *Extrapolator) ToENU(lat, lon, h float64) (gps.ENU, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ref == nil {
		return gps.ENU{}, false
	}
	return e.toENULocked(lat, lon, h), true
}

func (e *Extrapolator) toENULocked(lat, lon, h float64) gps.ENU {
	d := GeodeticToECEF(lat, lon, h).Sub(e.ref.ECEF)
	east, north, up := e.rot.toENU(d)
	return gps.ENU{E: east, N: north, U: up}
}

// Len returns the number of buffered fixes.
func (e *Extrapolator) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf)
}
