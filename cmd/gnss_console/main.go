// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/gnss_streamer/internal/app"
	"github.com/relabs-tech/gnss_streamer/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		stop()
		log.Fatalf("fatal: %v", err)
	}
}

// run owns every resource it opens, so they are released before main exits.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gnss_console", flag.ContinueOnError)
	addr := fs.String("addr", "localhost:9000", "streamer TCP address")
	hz := fs.Float64("hz", 1, "report rate in Hz")
	configPath := fs.String("config", "", "optional config file providing REF_LAT/REF_LON")
	refLat := fs.Float64("ref-lat", math.NaN(), "ground truth latitude")
	refLon := fs.Float64("ref-lon", math.NaN(), "ground truth longitude")
	csvPath := fs.String("csv", "", "write reports to this CSV file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log.Println("starting gnss-console (TCP subscriber)")

	opts := app.ConsoleOptions{Addr: *addr}
	if *hz > 0 {
		opts.ReportRate = time.Duration(float64(time.Second) / *hz)
	}

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		opts.RefLat, opts.RefLon = cfg.RefLat, cfg.RefLon
	}
	if !math.IsNaN(*refLat) && !math.IsNaN(*refLon) {
		opts.RefLat, opts.RefLon = refLat, refLon
	}

	if *csvPath != "" {
		f, err := os.Create(*csvPath)
		if err != nil {
			return err
		}
		defer f.Close()
		opts.CSV = f
	}

	return app.RunConsole(ctx, opts)
}
