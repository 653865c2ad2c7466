package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/gnss_streamer/internal/config"
	"github.com/relabs-tech/gnss_streamer/internal/gps"
	"github.com/relabs-tech/gnss_streamer/internal/ntrip"
	"github.com/relabs-tech/gnss_streamer/internal/retry"
)

// ErrConnectionExhausted is returned by the relay once reconnecting to the
// correction service has failed MaxAttempts times in a row.
var ErrConnectionExhausted = errors.New("correction service connection exhausted")

// CorrectionService is a network source of correction data.
type CorrectionService interface {
	Connect(ctx context.Context) error
	SendPosition(gga string) error
	ReceiveCorrections() ([]ntrip.Block, error)
	Close() error
}

// CorrectionSink takes correction frames toward the receiver.
type CorrectionSink interface {
	Send(p []byte) error
}

// correctionPoll is how often the relay drains received corrections. It is
// independent of the position upload rate.
const correctionPoll = 100 * time.Millisecond

// runRelay uploads the latest position at the configured rate and forwards
// correction frames to the sink. Stream failures trigger a reconnect under
// the retry policy.
func (p *Pipeline) runRelay(ctx context.Context) error {
	defer log.Println("relay: stopped")

	policy := retry.Policy{
		MaxAttempts: p.cfg.NTRIPReconnectMax,
		Delay:       p.cfg.NTRIPReconnectWait,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			log.Printf("relay: connect attempt %d failed: %v (retrying in %s)", attempt, err, wait)
		},
	}
	connect := func() error {
		if err := retry.Do(ctx, policy, p.corrections.Connect); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrConnectionExhausted, err)
		}
		log.Println("relay: connected to correction service")
		return nil
	}

	if err := connect(); err != nil {
		return p.relayFailed(err)
	}
	defer p.corrections.Close()

	upload := time.NewTicker(hzToInterval(p.cfg.NTRIPHz))
	defer upload.Stop()
	drain := time.NewTicker(correctionPoll)
	defer drain.Stop()

	reconnect := func(cause error) error {
		log.Printf("relay: %v; reconnecting", cause)
		_ = p.corrections.Close()
		return connect()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-upload.C:
			fix, ok := p.latest.Take()
			if !ok {
				continue
			}
			if err := p.corrections.SendPosition(gps.FormatGGA(fix)); err != nil {
				if err := reconnect(err); err != nil {
					return p.relayFailed(err)
				}
			}

		case <-drain.C:
			blocks, err := p.corrections.ReceiveCorrections()
			for _, b := range blocks {
				if err := p.correctionSink.Send(b.Data); err != nil {
					log.Printf("relay: forward correction: %v", err)
					continue
				}
				p.correctionBytes.Add(int64(len(b.Data)))
			}
			if err != nil {
				if err := reconnect(err); err != nil {
					return p.relayFailed(err)
				}
			}
		}
	}
}

func (p *Pipeline) relayFailed(err error) error {
	if err == nil {
		return nil
	}
	if p.cfg.RelayFailurePolicy == config.RelayCascade {
		log.Printf("relay: %v; stopping pipeline", err)
	} else {
		log.Printf("relay: %v; continuing without corrections", err)
	}
	return err
}

func hzToInterval(hz float64) time.Duration {
	if hz <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / hz)
}
