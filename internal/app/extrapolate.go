package app

import (
	"context"
	"log"
	"time"

	"github.com/relabs-tech/gnss_streamer/internal/gps"
)

// runExtrapolate emits one record per tick: the next measured fix when one
// is waiting, otherwise a projection of the latest fixes to now.
func (p *Pipeline) runExtrapolate(ctx context.Context) error {
	defer log.Println("extrapolate: stopped")

	ticker := time.NewTicker(p.cfg.ExtrapolateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.extrapolateTick()
		}
	}
}

func (p *Pipeline) extrapolateTick() {
	if fix, ok := p.raw.TryPop(); ok {
		// a no-fix report is published but never becomes a reference
		if fix.Quality != gps.QualityNoFix {
			p.extrap.AddFix(fix)
		}
		p.emit(fix)
		return
	}

	fix, ok := p.extrap.Extrapolate(p.now())
	if !ok {
		return
	}
	fix.Source = gps.SourceExtrapolated
	fix.GNSSTime = ""
	p.emit(fix)
}

func (p *Pipeline) emit(fix gps.Fix) {
	if p.out.Push(fix) && p.debug {
		log.Printf("extrapolate: publish queue full, oldest record dropped")
	}
}
