package app

import (
	"bytes"
	"context"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/gnss_streamer/internal/gps"
	"github.com/relabs-tech/gnss_streamer/internal/publisher"
)

func line(t *testing.T, f gps.Fix) []byte {
	t.Helper()
	b, err := publisher.Encode(f)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	return b
}

func TestConsoleStats_RateAndError(t *testing.T) {
	refLat, refLon := 37.5, 127.0
	s := newConsoleStats(&refLat, &refLon)

	// 0.0001 deg of latitude is about 11.09 m north
	for i := 0; i < 9; i++ {
		s.feed(line(t, gps.Fix{Time: time.Now(), Latitude: 37.5, Longitude: 127, Source: gps.SourceExtrapolated}))
	}
	s.feed(line(t, gps.Fix{Time: time.Now(), Latitude: 37.5001, Longitude: 127, Quality: gps.QualityFixedRTK, Source: gps.SourceMeasured}))
	s.feed([]byte("not json"))

	r := s.report(2 * time.Second)
	if r.Rate != 5 {
		t.Fatalf("rate=%v want 5", r.Rate)
	}
	if r.Counts["extrapolated"] != 9 || r.Counts["fixed-rtk"] != 1 {
		t.Fatalf("counts=%v", r.Counts)
	}
	if !r.HasError || math.Abs(r.ErrN-11.09) > 0.05 || math.Abs(r.ErrE) > 1e-3 || math.Abs(r.HPE-r.ErrN) > 1e-9 {
		t.Fatalf("error e=%v n=%v hpe=%v", r.ErrE, r.ErrN, r.HPE)
	}
	if !strings.Contains(r.String(), "hpe=") {
		t.Fatalf("report %q lacks error", r)
	}

	next := s.report(time.Second)
	if next.Rate != 0 || len(next.Counts) != 0 {
		t.Fatalf("interval not reset: %+v", next)
	}
}

func TestRunConsole_ReportsUntilServerCloses(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 20; i++ {
			conn.Write(line(t, gps.Fix{Time: time.Now(), Latitude: 37.5, Longitude: 127, Quality: gps.QualitySPS, Source: gps.SourceMeasured}))
			time.Sleep(10 * time.Millisecond)
		}
	}()

	var out, csvOut bytes.Buffer
	err = RunConsole(context.Background(), ConsoleOptions{
		Addr:       ln.Addr().String(),
		ReportRate: 50 * time.Millisecond,
		CSV:        &csvOut,
		Out:        &out,
	})
	if err != nil {
		t.Fatalf("RunConsole() error: %v", err)
	}
	if !strings.Contains(out.String(), "type=sps") {
		t.Fatalf("output %q has no report", out.String())
	}
	rows := strings.Split(strings.TrimSpace(csvOut.String()), "\n")
	if len(rows) < 2 || !strings.HasPrefix(rows[0], "timestamp,lat,lon,type") {
		t.Fatalf("csv=%q", csvOut.String())
	}
}
