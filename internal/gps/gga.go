package gps

import (
	"fmt"
	"math"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// FormatGGA renders f as a $GPGGA sentence, as NTRIP casters expect for
// nearest-base selection. The result has no trailing CRLF.
func FormatGGA(f Fix) string {
	t := f.Time.UTC()
	if f.Time.IsZero() {
		t = time.Now().UTC()
	}
	hhmmss := fmt.Sprintf("%02d%02d%02d.%02d", t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1e7)

	latDeg, latMin := degMin(f.Latitude)
	ns := "N"
	if f.Latitude < 0 {
		ns = "S"
	}
	lonDeg, lonMin := degMin(f.Longitude)
	ew := "E"
	if f.Longitude < 0 {
		ew = "W"
	}

	alt := f.Height
	sep := 0.0
	if f.HeightMSL != nil {
		alt = *f.HeightMSL
		sep = f.Height - *f.HeightMSL
	}
	hdop := f.HDOP
	if hdop <= 0 {
		hdop = 1.0
	}

	body := fmt.Sprintf("GPGGA,%s,%02d%08.5f,%s,%03d%08.5f,%s,%s,%02d,%.1f,%.3f,M,%.3f,M,,",
		hhmmss,
		latDeg, latMin, ns,
		lonDeg, lonMin, ew,
		f.Quality.ggaDigit(),
		f.NumSatellites,
		hdop,
		alt, sep,
	)
	return "$" + body + "*" + nmea.Checksum(body)
}

// degMin splits |v| into whole degrees and minutes rounded to 1e-5.
func degMin(v float64) (int, float64) {
	v = math.Abs(v)
	deg := math.Floor(v)
	mins := math.Round((v-deg)*60*1e5) / 1e5
	if mins >= 60 {
		deg++
		mins -= 60
	}
	return int(deg), mins
}
