package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"optionflow/config"
	"optionflow/heatmap"
	"optionflow/internal/metrics"
	"optionflow/logger"
	"optionflow/processor"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	asset := flag.String("asset", "", "Asset to chart (BTC or ETH), overrides config")
	lookback := flag.Int("lookback", 0, "Lookback window in hours, overrides config")
	output := flag.String("output", "", "Output PNG path, overrides the configured output dir")

	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	if *asset != "" {
		cfg.Heatmap.Asset = *asset
	}
	if *lookback > 0 {
		cfg.Heatmap.LookbackHours = *lookback
	}

	runID := uuid.New().String()
	runLog := log.WithFields(logger.Fields{"run_id": runID})

	runLog.WithFields(logger.Fields{
		"service":        cfg.Optionflow.Name,
		"version":        cfg.Optionflow.Version,
		"asset":          cfg.Heatmap.Asset,
		"lookback_hours": cfg.Heatmap.LookbackHours,
	}).Info("starting optionflow")

	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Heatmap.Asset)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		runLog.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	hm, err := heatmap.New(cfg, cfg.Heatmap.Asset, cfg.Heatmap.LookbackHours)
	if err != nil {
		runLog.WithError(err).Error("Invalid heatmap parameters")
		os.Exit(1)
	}

	result, err := hm.Run(ctx, *output)
	if err != nil {
		if errors.Is(err, processor.ErrEmptyDataset) {
			fmt.Fprintf(os.Stderr, "no %s option block trades found in the last %dh window\n",
				hm.Asset(), cfg.Heatmap.LookbackHours)
			runLog.WithError(err).Error("nothing to chart")
			os.Exit(1)
		}
		runLog.WithError(err).Error("heatmap run failed")
		os.Exit(1)
	}

	metrics.PublishSummary(context.Background())
	logger.LogRunSummary(log, logger.Fields{
		"run_id":  runID,
		"image":   result.ImagePath,
		"fetched": result.Fetched,
		"dropped": result.Dropped,
		"rows":    result.Rows,
	})

	fmt.Println(result.ImagePath)
	log.Info("optionflow finished")
}
