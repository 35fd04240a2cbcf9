package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"latency-probe/internal/config"
	"latency-probe/internal/probe"
	"latency-probe/internal/stats"
)

const hostPrompt = "Please type the ip where you want to send: "

func main() {
	cfg, err := config.LoadProbe()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	var host string
	if cfg.Prompt {
		host, err = probe.ReadHost(os.Stdin, os.Stdout, hostPrompt)
		if err != nil {
			log.Fatalf("Failed to read destination: %v", err)
		}
	}

	proberConfig, err := cfg.ProberConfig(host)
	if err != nil {
		log.Fatalf("Invalid probe configuration: %v", err)
	}

	prober, err := probe.New(proberConfig, probe.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create prober: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	statsCtx, stopStats := context.WithCancel(gctx)
	defer stopStats()

	if cfg.StatsAddr != "" {
		hub := stats.NewHub(prober.Metrics(), cfg.MetricsInterval, stats.WithLogger(logger))
		g.Go(func() error {
			return hub.ListenAndServe(statsCtx, cfg.StatsAddr)
		})
	}

	samples := make(chan probe.Sample, 64)
	g.Go(func() error {
		for sample := range samples {
			printSample(sample)
		}
		return nil
	})

	var report *probe.Report
	g.Go(func() error {
		defer stopStats()
		defer close(samples)

		fmt.Printf("Probing %s over %s: %d %s probes\n",
			proberConfig.Target, proberConfig.Network, cfg.Count, cfg.Mode)

		var err error
		report, err = prober.Run(gctx, cfg.Mode, cfg.Count, cfg.Messages(), samples)
		return err
	})

	err = g.Wait()
	if report != nil {
		printSummary(report, prober.Metrics().GetGlobalStats())

		if cfg.ReportFile != "" {
			if err := saveReport(cfg.ReportFile, report); err != nil {
				log.Fatalf("Failed to save report: %v", err)
			}
			fmt.Printf("\nResults saved to: %s\n", cfg.ReportFile)
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Probe failed: %v", err)
	}
}
