package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/relabs-tech/gnss_streamer/internal/gps"
)

// runIngest polls the device and hands every valid fix to the raw queue and
// the latest-position slot.
func (p *Pipeline) runIngest(ctx context.Context) error {
	defer log.Println("ingest: stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		raw, rec, err := p.device.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, gps.ErrDecode) {
				if p.debug {
					log.Printf("ingest: %v (line: %q)", err, raw)
				}
				continue
			}
			log.Printf("ingest: device error: %v", err)
			if !sleepCtx(ctx, p.pollInterval) {
				return nil
			}
			continue
		}

		switch r := rec.(type) {
		case nil:
		case gps.PositionFix:
			p.ingestFix(r)
		default:
			if p.debug {
				log.Printf("ingest: ignoring %s", r.Identity())
			}
		}
	}
}

// ingestFix validates and stamps one fix. It reports whether the fix was
// accepted.
func (p *Pipeline) ingestFix(r gps.PositionFix) bool {
	fix := r.Fix
	if err := gps.Validate(fix); err != nil {
		p.rejected.Add(1)
		log.Printf("ingest: dropping fix: %v", err)
		return false
	}

	fix.Time = p.now()
	fix.Source = gps.SourceMeasured
	if !r.FixOK {
		fix.Quality = gps.QualityNoFix
	}

	if p.raw.Push(fix) && p.debug {
		log.Printf("ingest: raw queue full, oldest fix dropped")
	}
	// only usable positions go to the caster
	if r.FixOK {
		p.latest.Store(fix)
	}
	if p.debug {
		log.Printf("ingest: fix %.8f,%.8f %s sats=%d", fix.Latitude, fix.Longitude, fix.Quality, fix.NumSatellites)
	}
	return true
}

// sleepCtx waits for d or until ctx is done. It reports false if ctx ended
// first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
