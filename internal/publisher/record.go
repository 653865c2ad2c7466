package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/relabs-tech/gnss_streamer/internal/gps"
)

// TimestampLayout is RFC3339 with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// TypeExtrapolated is the record type of projected fixes; measured fixes
// carry their Quality instead.
const TypeExtrapolated = "extrapolated"

// Record is one line of the publish stream.
type Record struct {
	Timestamp string  `json:"timestamp"`
	GNSSTime  string  `json:"gnss_time"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Type      string  `json:"type"`
}

// NewRecord builds the wire record for a fix, stamped in the local zone.
func NewRecord(f gps.Fix) Record {
	r := Record{
		Timestamp: f.Time.In(time.Local).Format(TimestampLayout),
		GNSSTime:  f.GNSSTime,
		Lat:       f.Latitude,
		Lon:       f.Longitude,
		Type:      string(f.Quality),
	}
	if f.Source == gps.SourceExtrapolated {
		r.Type = TypeExtrapolated
		r.GNSSTime = ""
	}
	if r.Type == "" {
		r.Type = string(gps.QualityUnknown)
	}
	return r
}

// Encode returns the record as a single newline-terminated JSON line.
func Encode(f gps.Fix) ([]byte, error) {
	b, err := json.Marshal(NewRecord(f))
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return append(b, '\n'), nil
}
