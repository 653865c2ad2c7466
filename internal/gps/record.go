// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Record is a decoded message from the receiver. Consumers switch on the
// concrete type; the set of variants is closed to this package.
type Record interface {
	Identity() string
	isRecord()
}

// PositionFix carries a position solution.
type PositionFix struct {
	Fix   Fix
	FixOK bool // receiver flagged the solution as usable
}

// CourseReport carries ground speed and track without a position solution
// of its own.
type CourseReport struct {
	SpeedMS  float64
	TrackDeg float64
	Valid    bool
}

// Sentence is any other message the device emitted.
type Sentence struct {
	Type string
}

func (PositionFix) Identity() string  { return "position-fix" }
func (CourseReport) Identity() string { return "course" }
func (s Sentence) Identity() string   { return s.Type }

func (PositionFix) isRecord()  {}
func (CourseReport) isRecord() {}
func (Sentence) isRecord()     {}

// Device is a GNSS receiver.
type Device interface {
	// Poll returns the next message. A nil Record with a nil error means
	// nothing arrived within the device's read timeout.
	Poll(ctx context.Context) (raw []byte, rec Record, err error)
	// Send writes correction data toward the receiver.
	Send(p []byte) error
	Close() error
}

// ErrDecode wraps messages that arrived but could not be decoded.
var ErrDecode = errors.New("gps: decode failed")

// ValidationError describes a fix rejected before entering the pipeline.
type ValidationError struct {
	Field string
	Value float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Value)
}

// Validate checks coordinate bounds and numeric well-formedness.
func Validate(f Fix) error {
	if !finite(f.Latitude) || f.Latitude < -90 || f.Latitude > 90 {
		return &ValidationError{Field: "latitude", Value: f.Latitude}
	}
	if !finite(f.Longitude) || f.Longitude < -180 || f.Longitude > 180 {
		return &ValidationError{Field: "longitude", Value: f.Longitude}
	}
	if !finite(f.Height) {
		return &ValidationError{Field: "height", Value: f.Height}
	}
	if f.HeightMSL != nil && !finite(*f.HeightMSL) {
		return &ValidationError{Field: "height_msl", Value: *f.HeightMSL}
	}
	if v := f.Velocity; v != nil {
		for _, c := range []struct {
			name string
			val  float64
		}{{"velocity_e", v.E}, {"velocity_n", v.N}, {"velocity_u", v.U}} {
			if !finite(c.val) {
				return &ValidationError{Field: c.name, Value: c.val}
			}
		}
	}
	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
