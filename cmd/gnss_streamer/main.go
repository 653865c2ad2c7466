// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/gnss_streamer/internal/app"
	"github.com/relabs-tech/gnss_streamer/internal/config"
)

func main() {
	configPath := flag.String("config", "gnss_config.txt", "path to config file (KEY=VALUE or .yaml)")
	flag.Parse()

	log.Println("starting gnss-streamer (receiver → NTRIP relay → extrapolator → TCP)")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunStreamer(ctx, cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
