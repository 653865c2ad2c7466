// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/gnss_streamer/internal/config"
	"github.com/relabs-tech/gnss_streamer/internal/extrapolator"
	"github.com/relabs-tech/gnss_streamer/internal/gps"
	"github.com/relabs-tech/gnss_streamer/internal/ntrip"
	"github.com/relabs-tech/gnss_streamer/internal/publisher"
	"github.com/relabs-tech/gnss_streamer/internal/queue"
	"github.com/relabs-tech/gnss_streamer/internal/sink"
)

// Components are the outside collaborators of a pipeline.
type Components struct {
	Device gps.Device
	// Corrections is nil when no correction service is configured.
	Corrections CorrectionService
	// CorrectionSink defaults to Device.
	CorrectionSink CorrectionSink
	Mirrors        []publisher.Mirror
}

// Pipeline wires ingest, relay, extrapolation and publishing together.
type Pipeline struct {
	cfg   *config.Config
	debug bool

	device         gps.Device
	corrections    CorrectionService
	correctionSink CorrectionSink

	raw    *queue.Bounded[gps.Fix]
	out    *queue.Bounded[gps.Fix]
	latest *queue.Slot[gps.Fix]
	extrap *extrapolator.Extrapolator
	pub    *publisher.Publisher

	stages []*Stage

	now          func() time.Time
	pollInterval time.Duration

	rejected        atomic.Uint64
	correctionBytes atomic.Int64
}

func NewPipeline(cfg *config.Config, c Components) *Pipeline {
	p := &Pipeline{
		cfg:            cfg,
		debug:          cfg.Debug,
		device:         c.Device,
		corrections:    c.Corrections,
		correctionSink: c.CorrectionSink,
		raw:            queue.NewBounded[gps.Fix](cfg.RawQueueSize),
		out:            queue.NewBounded[gps.Fix](cfg.PublishQueueSize),
		latest:         &queue.Slot[gps.Fix]{},
		now:            time.Now,
		pollInterval:   100 * time.Millisecond,
	}
	if p.correctionSink == nil {
		p.correctionSink = c.Device
	}

	opts := extrapolator.Options{BufferDepth: cfg.ExtrapolateBuffer}
	if cfg.GeoidUndulation != nil {
		opts.Geoid = extrapolator.ConstantGeoid(*cfg.GeoidUndulation)
	}
	p.extrap = extrapolator.New(opts)

	p.pub = publisher.New(publisher.Options{
		Addr:              cfg.PublishAddr,
		BroadcastInterval: cfg.PublishInterval,
		Mirrors:           c.Mirrors,
	}, p.out)

	p.stages = append(p.stages,
		NewStage("ingest", true, p.runIngest),
		NewStage("extrapolate", true, p.runExtrapolate),
		NewStage("accept", true, p.pub.RunAccept),
		NewStage("broadcast", true, p.pub.RunBroadcast),
	)
	if p.corrections != nil {
		p.stages = append(p.stages, NewStage("relay", cfg.RelayFailurePolicy == config.RelayCascade, p.runRelay))
	}
	if cfg.WebAddr != "" {
		p.stages = append(p.stages, NewStage("web", false, func(ctx context.Context) error {
			return p.pub.RunWeb(ctx, cfg.WebAddr)
		}))
	}
	return p
}

func (p *Pipeline) Stages() []*Stage { return p.stages }

// Stage returns the named stage, or nil.
func (p *Pipeline) Stage(name string) *Stage {
	for _, s := range p.stages {
		if s.name == name {
			return s
		}
	}
	return nil
}

func (p *Pipeline) Publisher() *publisher.Publisher { return p.pub }

// Rejected is the number of fixes dropped by validation.
func (p *Pipeline) Rejected() uint64 { return p.rejected.Load() }

// CorrectionBytes is the number of correction bytes forwarded to the sink.
func (p *Pipeline) CorrectionBytes() int64 { return p.correctionBytes.Load() }

// Run starts every stage and blocks until all of them have returned. A
// failing critical stage cancels the others; other failures only stop
// their own stage.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.pub.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, st := range p.stages {
		st := st
		g.Go(func() error {
			err := st.Run(gctx)
			if err == nil {
				return nil
			}
			if !st.critical {
				log.Printf("%s: stage stopped: %v", st.name, err)
				return nil
			}
			return fmt.Errorf("%s: %w", st.name, err)
		})
	}
	return g.Wait()
}

// RunStreamer builds the pipeline described by cfg and runs it until ctx is
// cancelled.
func RunStreamer(ctx context.Context, cfg *config.Config) error {
	var c Components

	switch cfg.Device {
	case config.DeviceSim:
		sim := gps.SimConfig{CenterLat: 37.5665, CenterLon: 126.9780, Height: 38, RadiusM: 20}
		if cfg.RefLat != nil {
			sim.CenterLat, sim.CenterLon = *cfg.RefLat, *cfg.RefLon
		}
		c.Device = gps.NewSimDevice(sim)
		log.Printf("streamer: simulated receiver around %.6f,%.6f", sim.CenterLat, sim.CenterLon)
	default:
		dev, err := gps.OpenNMEADevice(gps.SerialConfig{PortName: cfg.GPSSerialPort, BaudRate: cfg.GPSBaudRate})
		if err != nil {
			return err
		}
		c.Device = dev
		log.Printf("streamer: receiver on %s at %d baud", cfg.GPSSerialPort, cfg.GPSBaudRate)
	}
	defer c.Device.Close()

	if cfg.NTRIPEnable {
		c.Corrections = ntrip.NewClient(ntrip.Config{
			Host:           cfg.NTRIPHost,
			Port:           cfg.NTRIPPort,
			Mountpoint:     cfg.NTRIPMountpoint,
			Version:        cfg.NTRIPVersion,
			Username:       cfg.NTRIPUsername,
			Password:       cfg.NTRIPPassword,
			ConnectTimeout: cfg.NTRIPConnectTimeout,
			StaleTimeout:   10 * time.Second,
		})
		log.Printf("streamer: corrections from %s:%d/%s", cfg.NTRIPHost, cfg.NTRIPPort, cfg.NTRIPMountpoint)
	}

	if cfg.CorrectionSerialPort != "" {
		s, err := sink.OpenSerialCorrectionSink(gps.SerialConfig{PortName: cfg.CorrectionSerialPort, BaudRate: cfg.CorrectionBaudRate})
		if err != nil {
			return err
		}
		defer s.Close()
		c.CorrectionSink = s
	}

	if cfg.MQTTBroker != "" {
		m, err := sink.NewMQTTMirror(cfg.MQTTBroker, cfg.MQTTClientID, cfg.TopicGNSS)
		if err != nil {
			return err
		}
		defer m.Close()
		c.Mirrors = append(c.Mirrors, m)
	}
	if len(cfg.KafkaBrokers) > 0 {
		m, err := sink.NewKafkaMirror(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer m.Close()
		c.Mirrors = append(c.Mirrors, m)
		log.Printf("streamer: mirroring to kafka topic %s", cfg.KafkaTopic)
	}

	p := NewPipeline(cfg, c)
	err := p.Run(ctx)
	log.Printf("streamer: stopped (%d records published, %d fixes rejected, %d correction bytes)",
		p.pub.Records(), p.Rejected(), p.CorrectionBytes())
	return err
}
