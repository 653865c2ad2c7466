package gps

import (
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// Source tells whether a fix was measured by the receiver or projected.
type Source string

const (
	SourceMeasured     Source = "measured"
	SourceExtrapolated Source = "extrapolated"
)

// Quality is the solution type reported by the receiver.
type Quality string

const (
	QualityNoFix         Quality = "no-fix"
	QualitySPS           Quality = "sps"
	QualityDGPS          Quality = "dgps"
	QualityPPS           Quality = "pps"
	QualityFixedRTK      Quality = "fixed-rtk"
	QualityFloatRTK      Quality = "float-rtk"
	QualityDeadReckoning Quality = "dead-reckoning"
	QualityUnknown       Quality = "unknown"
)

// QualityFromGGA maps the GGA fix-quality digit to a Quality.
func QualityFromGGA(q string) Quality {
	switch q {
	case nmea.Invalid:
		return QualityNoFix
	case nmea.GPS:
		return QualitySPS
	case nmea.DGPS:
		return QualityDGPS
	case nmea.PPS:
		return QualityPPS
	case nmea.RTK:
		return QualityFixedRTK
	case nmea.FRTK:
		return QualityFloatRTK
	case nmea.EST:
		return QualityDeadReckoning
	default:
		return QualityUnknown
	}
}

// ggaDigit is the inverse of QualityFromGGA.
func (q Quality) ggaDigit() string {
	switch q {
	case QualityNoFix:
		return nmea.Invalid
	case QualityDGPS:
		return nmea.DGPS
	case QualityPPS:
		return nmea.PPS
	case QualityFixedRTK:
		return nmea.RTK
	case QualityFloatRTK:
		return nmea.FRTK
	case QualityDeadReckoning:
		return nmea.EST
	default:
		return nmea.GPS
	}
}

// ENU is a local East-North-Up vector in metres (or m/s for velocities).
type ENU struct {
	E, N, U float64
}

// Fix is a single position solution. Fixes are passed by value and never
// modified after construction.
type Fix struct {
	Time     time.Time // arrival time (measured) or target time (extrapolated)
	GNSSTime string    // receiver UTC time of day, e.g. "12:34:56.2000"; empty when extrapolated

	Latitude  float64  // decimal degrees
	Longitude float64  // decimal degrees
	Height    float64  // ellipsoidal height, metres
	HeightMSL *float64 // height above mean sea level; nil when unknown

	Velocity *ENU // nil when the receiver did not report one

	Quality       Quality
	NumSatellites int
	HDOP          float64
	Source        Source
}

// HasVelocity reports whether the fix carries a receiver velocity.
func (f Fix) HasVelocity() bool {
	return f.Velocity != nil
}
