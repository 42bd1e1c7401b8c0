package heatmap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	appconfig "optionflow/config"
	"optionflow/processor"
)

func pipelineConfig(serverURL, outputDir string) *appconfig.Config {
	return &appconfig.Config{
		Heatmap: appconfig.HeatmapConfig{
			Asset:          "BTC",
			LookbackHours:  24,
			Mode:           appconfig.ModeNotional,
			Annotate:       true,
			MarkIndexPrice: true,
			OutputDir:      outputDir,
			WidthPx:        640,
			HeightPx:       480,
		},
		Source: appconfig.SourceConfig{
			Deribit: appconfig.DeribitSourceConfig{
				HistoryURL: serverURL + "/api/v2/public/get_last_trades_by_currency",
				IndexURL:   serverURL + "/api/v2/public/get_index_price",
				PageSize:   100,
				IncludeOld: true,
				UserAgent:  "optionflow-test",
			},
		},
		Reader: appconfig.ReaderConfig{
			TimeoutMs: 2000,
			RateLimit: appconfig.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 10},
			Retry:     appconfig.RetryConfig{MaxAttempts: 2, BaseDelayMs: 1, MaxDelayMs: 5, BackoffMultiplier: 2},
		},
	}
}

// deribitStub serves one page of block trades and a fixed index price.
func deribitStub(t *testing.T, trades string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "get_last_trades_by_currency"):
			fmt.Fprintf(w, `{"result":{"trades":[%s],"has_more":false}}`, trades)
		case strings.HasSuffix(r.URL.Path, "get_index_price"):
			fmt.Fprint(w, `{"result":{"index_price":60000}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestRunWritesHeatmap(t *testing.T) {
	end := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := end.Add(-time.Hour).UnixMilli()
	trades := strings.Join([]string{
		fmt.Sprintf(`{"trade_id":"t1","instrument_name":"BTC-30JUN24-50000-C","direction":"buy","amount":1,"price":0.05,"block_trade_id":"blk","timestamp":%d}`, ts),
		fmt.Sprintf(`{"trade_id":"t2","instrument_name":"BTC-30JUN24-60000-P","direction":"sell","amount":2,"price":0.01,"block_trade_id":"blk","timestamp":%d}`, ts),
		fmt.Sprintf(`{"trade_id":"t3","instrument_name":"BTC-30JUN24-50000-C","direction":"buy","amount":1,"price":0.05,"timestamp":%d}`, ts),
	}, ",")
	srv := deribitStub(t, trades)
	defer srv.Close()

	outputDir := t.TempDir()
	hm, err := New(pipelineConfig(srv.URL, outputDir), "btc", 24)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	hm.now = func() time.Time { return end }

	result, err := hm.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Fetched != 3 {
		t.Errorf("fetched = %d, want 3", result.Fetched)
	}
	if result.Dropped != 1 {
		t.Errorf("dropped = %d, want 1 (non-block trade)", result.Dropped)
	}
	if result.Rows != 2 {
		t.Errorf("rows = %d, want 2", result.Rows)
	}
	if result.Maturities != 1 || result.Strikes != 2 {
		t.Errorf("grid = %dx%d, want 1x2", result.Maturities, result.Strikes)
	}

	info, err := os.Stat(result.ImagePath)
	if err != nil {
		t.Fatalf("stat image: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("empty image file")
	}
	if filepath.Dir(result.ImagePath) != outputDir {
		t.Errorf("image written to %s, want %s", filepath.Dir(result.ImagePath), outputDir)
	}
	if !strings.HasPrefix(filepath.Base(result.ImagePath), "BTC_deribit_block_flows_") {
		t.Errorf("unexpected image name %s", filepath.Base(result.ImagePath))
	}
}

func TestRunHonorsExplicitOutputPath(t *testing.T) {
	ts := time.Now().Add(-time.Hour).UnixMilli()
	trade := fmt.Sprintf(`{"trade_id":"t1","instrument_name":"ETH-27SEP24-3000-C","direction":"buy","amount":5,"price":0.02,"block_trade_id":"blk","timestamp":%d}`, ts)
	srv := deribitStub(t, trade)
	defer srv.Close()

	cfg := pipelineConfig(srv.URL, t.TempDir())
	hm, err := New(cfg, "ETH", 24)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	out := filepath.Join(t.TempDir(), "custom", "flows.png")
	result, err := hm.Run(context.Background(), out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ImagePath != out {
		t.Errorf("image path = %s, want %s", result.ImagePath, out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("stat image: %v", err)
	}
}

func TestRunEmptyWindowReturnsEmptyDataset(t *testing.T) {
	srv := deribitStub(t, "")
	defer srv.Close()

	outputDir := t.TempDir()
	hm, err := New(pipelineConfig(srv.URL, outputDir), "BTC", 24)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = hm.Run(context.Background(), "")
	if !errors.Is(err, processor.ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("no artifact should be written for an empty dataset, found %d", len(entries))
	}
}

func TestRunExportsParquet(t *testing.T) {
	ts := time.Now().Add(-time.Hour).UnixMilli()
	trade := fmt.Sprintf(`{"trade_id":"t1","instrument_name":"BTC-30JUN24-50000-C","direction":"buy","amount":1,"price":0.05,"block_trade_id":"blk","timestamp":%d}`, ts)
	srv := deribitStub(t, trade)
	defer srv.Close()

	cfg := pipelineConfig(srv.URL, t.TempDir())
	cfg.Export.Parquet = appconfig.ParquetExportConfig{Enabled: true, Dir: t.TempDir(), Compression: "snappy"}

	hm, err := New(cfg, "BTC", 24)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	result, err := hm.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.ParquetPath == "" {
		t.Fatal("expected a parquet artifact")
	}
	info, err := os.Stat(result.ParquetPath)
	if err != nil {
		t.Fatalf("stat parquet: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("empty parquet file")
	}
}

func TestNewRejectsBadArguments(t *testing.T) {
	cfg := pipelineConfig("http://localhost", t.TempDir())
	if _, err := New(cfg, "DOGE", 24); err == nil {
		t.Error("expected error for unsupported asset")
	}
	if _, err := New(cfg, "BTC", 0); err == nil {
		t.Error("expected error for zero lookback")
	}
	if _, err := New(cfg, "BTC", -5); err == nil {
		t.Error("expected error for negative lookback")
	}
}

func TestRunSurfacesFetchFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	hm, err := New(pipelineConfig(srv.URL, t.TempDir()), "BTC", 24)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := hm.Run(context.Background(), ""); err == nil {
		t.Fatal("expected fetch failure to abort the run")
	}
}
