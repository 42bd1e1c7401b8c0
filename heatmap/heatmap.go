// Package heatmap wires the full pipeline for one invocation: fetch the
// trade window, clean and pivot it, render the grid, write the artifacts.
// Everything runs sequentially on the caller's goroutine.
package heatmap

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	appconfig "optionflow/config"
	"optionflow/internal/metrics"
	"optionflow/logger"
	"optionflow/processor"
	deribit "optionflow/reader/deribit"
	"optionflow/renderer"
	"optionflow/writer"
)

// HeatMap produces one maturity-by-strike block flow heatmap per Run call.
type HeatMap struct {
	config        *appconfig.Config
	asset         string
	lookbackHours int
	reader        *deribit.TradesReader
	log           *logger.Log
	now           func() time.Time
}

// Result summarizes a completed run.
type Result struct {
	ImagePath   string
	ParquetPath string
	Fetched     int
	Dropped     int
	Rows        int
	Maturities  int
	Strikes     int
}

// New validates the two invocation parameters and builds the pipeline.
// Validation failures are configuration errors and happen before any
// network call.
func New(cfg *appconfig.Config, asset string, lookbackHours int) (*HeatMap, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if !appconfig.SupportedAsset(asset) {
		return nil, fmt.Errorf("unsupported asset '%s' (expected BTC or ETH)", asset)
	}
	if lookbackHours <= 0 {
		return nil, fmt.Errorf("lookback_hours must be greater than 0, got %d", lookbackHours)
	}

	return &HeatMap{
		config:        cfg,
		asset:         asset,
		lookbackHours: lookbackHours,
		reader:        deribit.NewTradesReader(cfg),
		log:           logger.GetLogger(),
		now:           time.Now,
	}, nil
}

// Run executes fetch -> clean -> pivot -> render -> write. When outputPath
// is empty a timestamped filename under the configured output dir is used.
// A fetch failure or an empty dataset aborts the run before anything is
// written; per-record problems are dropped and counted, never fatal.
func (h *HeatMap) Run(ctx context.Context, outputPath string) (*Result, error) {
	log := h.log.WithComponent("heatmap").WithFields(logger.Fields{
		"asset":          h.asset,
		"lookback_hours": h.lookbackHours,
	})

	end := h.now().UTC()
	start := end.Add(-time.Duration(h.lookbackHours) * time.Hour)

	records, err := h.reader.Fetch(ctx, h.asset, start, end)
	if err != nil {
		return nil, err
	}

	cleaned := processor.Clean(records, h.asset, h.config.Heatmap.Mode)
	grid, err := processor.Pivot(cleaned.Records)
	if err != nil {
		return nil, err
	}

	var indexPrice float64
	if h.config.Heatmap.MarkIndexPrice {
		indexPrice, err = h.reader.IndexPrice(ctx, h.asset)
		if err != nil {
			// The marker is decoration; the grid is still worth rendering.
			log.WithError(err).Warn("failed to fetch index price, skipping spot marker")
			indexPrice = 0
		}
	}

	img, err := renderer.Render(grid, renderer.Options{
		Asset:      h.asset,
		Mode:       h.config.Heatmap.Mode,
		WidthPx:    h.config.Heatmap.WidthPx,
		HeightPx:   h.config.Heatmap.HeightPx,
		Annotate:   h.config.Heatmap.Annotate,
		IndexPrice: indexPrice,
	})
	if err != nil {
		return nil, err
	}

	if outputPath == "" {
		outputPath = filepath.Join(h.config.Heatmap.OutputDir, h.artifactName(start, end, "png"))
	}
	if err := renderer.WritePNG(img, outputPath); err != nil {
		return nil, err
	}
	metrics.IncrementHeatmapsRendered()

	result := &Result{
		ImagePath:  outputPath,
		Fetched:    len(records),
		Dropped:    cleaned.Dropped,
		Rows:       len(cleaned.Records),
		Maturities: len(grid.Maturities),
		Strikes:    len(grid.Strikes),
	}

	if h.config.Export.Parquet.Enabled {
		parquetPath := filepath.Join(h.config.Export.Parquet.Dir, h.artifactName(start, end, "parquet"))
		if err := writer.NewExporter(h.config).ExportParquet(cleaned.Records, parquetPath); err != nil {
			log.WithError(err).Warn("parquet export failed")
		} else {
			result.ParquetPath = parquetPath
		}
	}

	if h.config.Storage.S3.Enabled {
		if err := h.upload(ctx, result, end); err != nil {
			log.WithError(err).Warn("artifact upload failed")
		}
	}

	log.WithFields(logger.Fields{
		"image":      result.ImagePath,
		"fetched":    result.Fetched,
		"dropped":    result.Dropped,
		"rows":       result.Rows,
		"maturities": result.Maturities,
		"strikes":    result.Strikes,
	}).Info("heatmap rendered")

	return result, nil
}

func (h *HeatMap) upload(ctx context.Context, result *Result, end time.Time) error {
	uploader, err := writer.NewUploader(h.config)
	if err != nil {
		return err
	}
	key := uploader.Key(h.asset, end, filepath.Base(result.ImagePath))
	if err := uploader.UploadFile(ctx, result.ImagePath, key, "image/png"); err != nil {
		return err
	}
	if result.ParquetPath != "" {
		key := uploader.Key(h.asset, end, filepath.Base(result.ParquetPath))
		if err := uploader.UploadFile(ctx, result.ParquetPath, key, "application/octet-stream"); err != nil {
			return err
		}
	}
	return nil
}

func (h *HeatMap) artifactName(start, end time.Time, ext string) string {
	const stamp = "20060102-1504"
	return fmt.Sprintf("%s_deribit_block_flows_%s_%s.%s",
		h.asset, start.Format(stamp), end.Format(stamp), ext)
}

// Asset returns the validated asset symbol.
func (h *HeatMap) Asset() string { return h.asset }

// Window returns the lookback the next Run call will cover.
func (h *HeatMap) Window() time.Duration {
	return time.Duration(h.lookbackHours) * time.Hour
}
