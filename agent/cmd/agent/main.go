package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/queuelab/queuelab/agent/internal/compute"
	"github.com/queuelab/queuelab/agent/internal/config"
	"github.com/queuelab/queuelab/agent/internal/shipper"
	"github.com/queuelab/queuelab/pkg/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queuelab-agent: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stdout, cfg.Agent.Log.Format, cfg.Agent.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queuelab-agent: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	slog.Info("queuelab-agent starting",
		"config", *configPath,
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"sources", len(cfg.Agent.Sources),
		"scrape_interval", cfg.Agent.ScrapeInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sources := newSourceSet(compute.NewEngine())
	sources.apply(ctx, cfg.Agent.Sources)
	if len(cfg.Agent.Sources) == 0 {
		slog.Warn("no sources configured, agent will idle until the config changes")
	}

	// Sources are reloaded live; other settings need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, cfg, func(srcs []config.Source) {
			sources.apply(ctx, srcs)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	ship, err := shipper.New(cfg.Agent)
	if err != nil {
		slog.Error("failed to build shipper", "err", err)
		os.Exit(1)
	}
	go ship.Run(ctx)

	scrape := func(now time.Time) {
		for _, obs := range sources.scrapeAll(ctx, now) {
			ship.Ship(obs)
			slog.Debug("observation queued",
				"source", obs.SourceID,
				"state", obs.State,
				"rho", obs.Rho,
				"pending", ship.Pending(),
			)
		}
	}

	// Scrape loop: a baseline scrape now, then one evaluation per interval.
	go func() {
		scrape(time.Now())

		ticker := time.NewTicker(cfg.Agent.ScrapeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				scrape(t)
			}
		}
	}()

	<-ctx.Done()
	slog.Info("queuelab-agent shutting down")
}
