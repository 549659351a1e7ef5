// Command flowengine runs the order-flow signal detection pipeline end
// to end: ingest the raw trade/depth stream, maintain the book,
// enrich trades into per-zone context, run every pattern detector,
// coordinate candidates into confirmed signals, and serve both an
// operational HTTP API and a webhook alert fan-out for the result.
// Grounded on the teacher's own main.go: construct every component up
// front, fail fast on configuration errors, then run everything under
// a shared context and wait group with signal-driven shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/orderflowlabs/flowengine/internal/alerting"
	"github.com/orderflowlabs/flowengine/internal/api"
	"github.com/orderflowlabs/flowengine/internal/book"
	"github.com/orderflowlabs/flowengine/internal/config"
	"github.com/orderflowlabs/flowengine/internal/coordinate"
	"github.com/orderflowlabs/flowengine/internal/detect"
	"github.com/orderflowlabs/flowengine/internal/ingestion"
	"github.com/orderflowlabs/flowengine/internal/preprocess"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "config.toml", "path to the engine's TOML configuration file")
	flag.Parse()

	log.Println("starting order-flow signal engine")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.Println("configuration loaded")

	orderBook := book.New(cfg.IngestionHealthTimeout(), func(reason book.RecoveryReason, detail string) {
		log.Printf("book: recovery requested: %s (%s) — will re-seed on next reconnect", reason, detail)
	})

	preprocessor := preprocess.New(cfg.BuildPreprocess(), orderBook)
	log.Println("preprocessor initialized")

	absorption := detect.NewAbsorptionDetector("absorption", cfg.BuildAbsorption())
	exhaustion := detect.NewExhaustionDetector("exhaustion", cfg.BuildExhaustion())
	accumulation := detect.NewZoneDetector("accumulation", detect.Accumulation, cfg.BuildAccumulation())
	distribution := detect.NewZoneDetector("distribution", detect.Distribution, cfg.BuildDistribution())
	cvd := detect.NewDeltaCVDDetector("cvd_confirmation", cfg.BuildCVD())

	detectors := []detect.Detector{absorption, exhaustion, accumulation, distribution, cvd}
	for _, d := range detectors {
		preprocessor.Subscribe(d.OnEnrichedTrade)
	}
	log.Printf("%d detectors registered", len(detectors))

	manager := coordinate.NewDefaultManager(cfg.BuildManager())
	coordinator := coordinate.New(manager, cfg.BuildCoordinator())

	coordinator.RegisterDetector(absorption, []detect.SignalType{detect.SignalAbsorption}, 1, true)
	coordinator.RegisterDetector(exhaustion, []detect.SignalType{detect.SignalExhaustion}, 1, true)
	coordinator.RegisterDetector(accumulation, []detect.SignalType{detect.SignalAccumulation}, 2, true)
	coordinator.RegisterDetector(distribution, []detect.SignalType{detect.SignalDistribution}, 2, true)
	coordinator.RegisterDetector(cvd, []detect.SignalType{detect.SignalCVDConfirm}, 3, true)

	apiServer := api.NewServer(cfg.BuildAPI(), orderBook)
	for _, d := range detectors {
		apiServer.RegisterDetector(d.ID(), d)
	}
	apiServer.WatchQueueDepth(coordinator.QueueDepth)
	log.Println("api server initialized")

	alertManager := alerting.NewManager(cfg.BuildAlerting())

	coordinator.OnEvent(func(e coordinate.Event) {
		switch e.Type {
		case coordinate.EventSignalProcessed:
			if e.Confirmed != nil {
				apiServer.OnConfirmedSignal(*e.Confirmed)
				alertManager.Notify(*e.Confirmed)
			}
		case coordinate.EventSignalFailed, coordinate.EventDetectorError:
			log.Printf("coordinate: %s detector=%s err=%v", e.Type, e.DetectorID, e.Err)
		}
	})

	ingestionClient := ingestion.New(cfg.BuildIngestion(), orderBook, ingestion.Handlers{
		OnTrade: func(trade preprocess.AggTrade) {
			preprocessor.OnAggTrade(trade)
			coordinator.Poll(trade.Timestamp)
		},
		OnDepthDiff: preprocessor.OnDepthDiff,
	})
	log.Println("ingestion client initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup

	coordinator.Start(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ingestionClient.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("ingestion: stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Run(ctx); err != nil {
			log.Printf("api: stopped: %v", err)
		}
	}()

	log.Println("all components started, engine running")

	<-sigCh
	log.Println("shutdown signal received")

	cancel()
	coordinator.Stop()
	wg.Wait()

	log.Println("shutdown complete")
}
