package deribit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	appconfig "optionflow/config"
)

// minimalConfig returns a minimal configuration pointing the reader at the
// test server.
func minimalConfig(serverURL string) *appconfig.Config {
	return &appconfig.Config{
		Source: appconfig.SourceConfig{
			Deribit: appconfig.DeribitSourceConfig{
				HistoryURL: serverURL + "/api/v2/public/get_last_trades_by_currency",
				IndexURL:   serverURL + "/api/v2/public/get_index_price",
				PageSize:   2,
				IncludeOld: true,
				UserAgent:  "optionflow-test",
			},
		},
		Reader: appconfig.ReaderConfig{
			TimeoutMs: 2000,
			RateLimit: appconfig.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 10},
			Retry:     appconfig.RetryConfig{MaxAttempts: 3, BaseDelayMs: 1, MaxDelayMs: 5, BackoffMultiplier: 2},
		},
	}
}

func tradeJSON(id string, ts int64) string {
	return fmt.Sprintf(`{"trade_id":%q,"instrument_name":"BTC-30JUN24-50000-C","direction":"buy","amount":1,"price":0.05,"index_price":60000,"block_trade_id":"blk","timestamp":%d}`, id, ts)
}

func TestFetchPaginatesAndDedupes(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		cursor, err := strconv.ParseInt(r.URL.Query().Get("end_timestamp"), 10, 64)
		if err != nil {
			t.Errorf("bad end_timestamp: %v", err)
		}
		if got := r.URL.Query().Get("currency"); got != "BTC" {
			t.Errorf("currency = %q", got)
		}
		if got := r.URL.Query().Get("kind"); got != "option" {
			t.Errorf("kind = %q", got)
		}
		var page string
		switch {
		case cursor >= 4000:
			// Newest page; last trade timestamp becomes the next cursor.
			page = tradeJSON("t3", 3000) + "," + tradeJSON("t2", 2000)
		default:
			// Overlaps the previous page on t2 and reaches below the window.
			page = tradeJSON("t2", 2000) + "," + tradeJSON("t1", 1000) + "," + tradeJSON("t0", 500)
		}
		fmt.Fprintf(w, `{"result":{"trades":[%s],"has_more":true}}`, page)
	}))
	defer srv.Close()

	r := NewTradesReader(minimalConfig(srv.URL))
	records, err := r.Fetch(context.Background(), "BTC", time.UnixMilli(1000), time.UnixMilli(4000))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 pages, got %d", calls)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	ids := map[string]bool{}
	for _, rec := range records {
		if ids[rec.TradeID] {
			t.Errorf("duplicate trade %s", rec.TradeID)
		}
		ids[rec.TradeID] = true
	}
	if ids["t0"] {
		t.Error("trade before window start must be excluded")
	}
}

func TestFetchEmptyWindowIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":{"trades":[],"has_more":false}}`)
	}))
	defer srv.Close()

	r := NewTradesReader(minimalConfig(srv.URL))
	records, err := r.Fetch(context.Background(), "BTC", time.UnixMilli(0), time.UnixMilli(1000))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestFetchStopsWhenHasMoreFalse(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprintf(w, `{"result":{"trades":[%s],"has_more":false}}`, tradeJSON("t1", 3000))
	}))
	defer srv.Close()

	r := NewTradesReader(minimalConfig(srv.URL))
	records, err := r.Fetch(context.Background(), "BTC", time.UnixMilli(1000), time.UnixMilli(4000))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single page, got %d", calls)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"result":{"trades":[],"has_more":false}}`)
	}))
	defer srv.Close()

	r := NewTradesReader(minimalConfig(srv.URL))
	if _, err := r.Fetch(context.Background(), "BTC", time.UnixMilli(0), time.UnixMilli(1000)); err != nil {
		t.Fatalf("fetch should recover after retries: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestFetchFailsAfterRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewTradesReader(minimalConfig(srv.URL))
	_, err := r.Fetch(context.Background(), "BTC", time.UnixMilli(0), time.UnixMilli(1000))
	if err == nil {
		t.Fatal("expected fetch failure")
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %T: %v", err, err)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewTradesReader(minimalConfig(srv.URL))
	if _, err := r.Fetch(context.Background(), "BTC", time.UnixMilli(0), time.UnixMilli(1000)); err == nil {
		t.Fatal("expected fetch failure")
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestIndexPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("index_name"); got != "btc_usd" {
			t.Errorf("index_name = %q", got)
		}
		fmt.Fprint(w, `{"result":{"index_price":61234.5}}`)
	}))
	defer srv.Close()

	r := NewTradesReader(minimalConfig(srv.URL))
	price, err := r.IndexPrice(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("index price: %v", err)
	}
	if price != 61234.5 {
		t.Errorf("price = %v", price)
	}
}
