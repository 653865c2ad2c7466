package app

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/relabs-tech/gnss_streamer/internal/extrapolator"
	"github.com/relabs-tech/gnss_streamer/internal/publisher"
)

// ConsoleOptions configures the stream console.
type ConsoleOptions struct {
	Addr       string
	ReportRate time.Duration
	// RefLat/RefLon is the ground truth; errors are reported when set.
	RefLat, RefLon *float64
	// CSV receives one row per report when non-nil.
	CSV io.Writer
	Out io.Writer
}

// ConsoleReport summarises one reporting interval.
type ConsoleReport struct {
	Rate   float64 // records per second
	Counts map[string]int
	Last   *publisher.Record

	HasError        bool
	HPE, ErrE, ErrN float64 // metres
}

// consoleStats accumulates records between reports.
type consoleStats struct {
	mu     sync.Mutex
	refLat *float64
	refLon *float64
	count  int
	counts map[string]int
	last   *publisher.Record
	bad    int
}

func newConsoleStats(refLat, refLon *float64) *consoleStats {
	return &consoleStats{refLat: refLat, refLon: refLon, counts: map[string]int{}}
}

func (s *consoleStats) feed(line []byte) {
	var rec publisher.Record
	if err := json.Unmarshal(line, &rec); err != nil {
		s.mu.Lock()
		s.bad++
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	s.count++
	s.counts[rec.Type]++
	s.last = &rec
	s.mu.Unlock()
}

// report closes the interval that lasted elapsed.
func (s *consoleStats) report(elapsed time.Duration) ConsoleReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := ConsoleReport{Counts: s.counts, Last: s.last}
	if elapsed > 0 {
		r.Rate = float64(s.count) / elapsed.Seconds()
	}
	if s.last != nil && s.refLat != nil && s.refLon != nil {
		e, n, _ := extrapolator.LocalOffset(*s.refLat, *s.refLon, 0, s.last.Lat, s.last.Lon, 0)
		r.HasError = true
		r.ErrE, r.ErrN = e, n
		r.HPE = math.Hypot(e, n)
	}
	s.count = 0
	s.counts = map[string]int{}
	return r
}

func (r ConsoleReport) String() string {
	if r.Last == nil {
		return fmt.Sprintf("[RATE] %6.2f msg/s (no position yet)", r.Rate)
	}
	s := fmt.Sprintf("[GNSS] %s lat=%.8f lon=%.8f type=%-12s rate=%6.2f msg/s",
		r.Last.Timestamp, r.Last.Lat, r.Last.Lon, r.Last.Type, r.Rate)
	if r.HasError {
		s += fmt.Sprintf(" hpe=%.3fm e=%.3fm n=%.3fm", r.HPE, r.ErrE, r.ErrN)
	}
	return s
}

var consoleCSVHeader = []string{"timestamp", "lat", "lon", "type", "hpe_m", "north_err_m", "east_err_m", "rate_msg_s"}

func (r ConsoleReport) csvRow() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
	row := []string{"", "", "", "", "", "", "", strconv.FormatFloat(r.Rate, 'f', 2, 64)}
	if r.Last != nil {
		row[0] = r.Last.Timestamp
		row[1] = strconv.FormatFloat(r.Last.Lat, 'f', 8, 64)
		row[2] = strconv.FormatFloat(r.Last.Lon, 'f', 8, 64)
		row[3] = r.Last.Type
	}
	if r.HasError {
		row[4], row[5], row[6] = f(r.HPE), f(r.ErrN), f(r.ErrE)
	}
	return row
}

// RunConsole subscribes to a streamer and prints a report every
// ReportRate until ctx is cancelled or the stream ends.
func RunConsole(ctx context.Context, opts ConsoleOptions) error {
	if opts.ReportRate <= 0 {
		opts.ReportRate = time.Second
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		return fmt.Errorf("console: connect %s: %w", opts.Addr, err)
	}
	defer conn.Close()
	log.Printf("console: connected to %s", opts.Addr)

	var w *csv.Writer
	if opts.CSV != nil {
		w = csv.NewWriter(opts.CSV)
		if err := w.Write(consoleCSVHeader); err != nil {
			return fmt.Errorf("console: csv: %w", err)
		}
		w.Flush()
	}

	stats := newConsoleStats(opts.RefLat, opts.RefLon)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			stats.feed(sc.Bytes())
		}
		readErr <- sc.Err()
	}()

	ticker := time.NewTicker(opts.ReportRate)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			log.Println("console: shutting down")
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("console: read: %w", err)
			}
			log.Println("console: server closed connection")
			return nil
		case now := <-ticker.C:
			r := stats.report(now.Sub(last))
			last = now
			fmt.Fprintln(opts.Out, r)
			if w != nil {
				_ = w.Write(r.csvRow())
				w.Flush()
			}
		}
	}
}
