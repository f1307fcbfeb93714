// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command orchestratord runs the scan orchestrator: the durable queue
// service backed by Postgres, the weighted-fair dispatcher worker pool, and
// the lease housekeeper, until SIGINT/SIGTERM. Grounded on the teacher's
// cmd/daemon/main.go: flag parsing, a pre-loaded logger reconfigured once the
// real config is in hand, signal.NotifyContext for graceful shutdown, and a
// fatal-on-startup-error / log-and-exit style rather than panics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ferrex-media/scanorchestrator/internal/actor"
	"github.com/ferrex-media/scanorchestrator/internal/budget"
	"github.com/ferrex-media/scanorchestrator/internal/bus"
	"github.com/ferrex-media/scanorchestrator/internal/config"
	"github.com/ferrex-media/scanorchestrator/internal/dispatcher"
	"github.com/ferrex-media/scanorchestrator/internal/lease"
	"github.com/ferrex-media/scanorchestrator/internal/library"
	"github.com/ferrex-media/scanorchestrator/internal/log"
	"github.com/ferrex-media/scanorchestrator/internal/model"
	"github.com/ferrex-media/scanorchestrator/internal/queue"
	"github.com/ferrex-media/scanorchestrator/internal/retry"
	"github.com/ferrex-media/scanorchestrator/internal/storepg"
)

var (
	version = "v0.1.0"
	commit  = "none"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	metricsAddr := flag.String("metrics-addr", ":9090", "listen address for the Prometheus /metrics endpoint")
	flag.Parse()

	if *showVersion {
		fmt.Printf("orchestratord %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	log.Configure(log.Config{Level: "info", Service: "orchestratord", Version: version})
	logger := log.WithComponent("orchestratord")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		logger.Fatal().Err(err).Str("event", "config.load_failed").Msg("failed to load configuration")
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "orchestratord", Version: version})
	logger = log.WithComponent("orchestratord")
	logger.Info().Str("event", "startup").Str("version", version).Str("worker_id", cfg.WorkerID).Msg("starting orchestratord")

	st, err := storepg.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "store.open_failed").Msg("failed to open postgres store")
	}
	defer st.Close()

	eventBus := bus.NewMemoryBus()
	budgetMgr := budget.NewManager(cfg.Budget, cfg.Queue.MaxParallelScansPerDevice)
	retryPolicy := retry.NewPolicy(cfg.Retry)
	queueSvc := queue.New(st, eventBus, budgetMgr, *cfg)

	registry := actor.NewRegistry()
	registry.Register(model.KindFolderScan, library.FolderScanActor{Budget: budgetMgr})
	registry.Register(model.KindMediaAnalyze, library.MediaAnalyzeActor{})
	registry.Register(model.KindMetadataEnrich, library.MetadataEnrichActor{})
	registry.Register(model.KindIndexUpsert, library.IndexUpsertActor{})
	registry.Register(model.KindImageFetch, library.ImageFetchActor{})

	pool := &dispatcher.WorkerPool{
		Queue:       queueSvc,
		Budget:      budgetMgr,
		Bus:         eventBus,
		Actors:      registry,
		RetryPolicy: retryPolicy,
		WorkerID:    cfg.WorkerID,
		LeaseTTL:    time.Duration(cfg.Lease.LeaseTTLSecs) * time.Second,
		MetadataLimiter: rate.NewLimiter(rate.Limit(cfg.Budget.MetadataMaxQPS), 1),
		Concurrency: map[model.Kind]int{
			model.KindFolderScan:     cfg.Queue.MaxParallelScans,
			model.KindMediaAnalyze:   cfg.Queue.MaxParallelAnalyses,
			model.KindMetadataEnrich: cfg.Queue.MaxParallelMetadata,
			model.KindIndexUpsert:    cfg.Queue.MaxParallelIndex,
			model.KindImageFetch:     cfg.Queue.MaxParallelImageFetch,
		},
	}

	housekeeper := lease.New(st, eventBus, retryPolicy, cfg.Lease, cfg.Retry)

	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return housekeeper.Run(gctx) })
	g.Go(func() error {
		logger.Info().Str("addr", *metricsAddr).Msg("metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		// ctx (the signal context) is still live, so this error did not
		// originate from a requested shutdown: treat it as fatal.
		logger.Fatal().Err(err).Str("event", "run_failed").Msg("orchestratord exited with error")
	}

	logger.Info().Msg("orchestratord exiting")
}
