package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"optionflow/config"
	"optionflow/internal/metrics"
	"optionflow/logger"
	"optionflow/models"
)

// FetchError is returned when the history endpoint cannot be read after the
// configured retry budget. It aborts the invocation; no image is produced.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("deribit fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TradesReader pulls historical option trades from the Deribit public
// history API, one page at a time.
type TradesReader struct {
	config  *config.Config
	client  *http.Client
	log     *logger.Log
	limiter *rate.Limiter
}

// NewTradesReader creates a reader using the configured connection pool,
// timeout and client-side rate limit.
func NewTradesReader(cfg *config.Config) *TradesReader {
	log := logger.GetLogger()

	pool := cfg.Source.Deribit.ConnectionPool
	transport := &http.Transport{
		MaxIdleConns:       pool.MaxIdleConns,
		MaxConnsPerHost:    pool.MaxConnsPerHost,
		IdleConnTimeout:    time.Duration(pool.IdleConnTimeoutMs) * time.Millisecond,
		DisableCompression: false,
	}

	var rt http.RoundTripper = transport
	if cfg.Source.Deribit.UserAgent != "" {
		rt = userAgentTransport{agent: cfg.Source.Deribit.UserAgent, base: transport}
	}

	httpClient := &http.Client{
		Transport: rt,
		Timeout:   time.Duration(cfg.Reader.TimeoutMs) * time.Millisecond,
	}

	rl := cfg.Reader.RateLimit
	rps := rl.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := rl.BurstSize
	if burst <= 0 {
		burst = 1
	}

	reader := &TradesReader{
		config:  cfg,
		client:  httpClient,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}

	log.WithComponent("deribit_reader").WithFields(logger.Fields{
		"max_idle_conns":     pool.MaxIdleConns,
		"max_conns_per_host": pool.MaxConnsPerHost,
		"timeout_ms":         cfg.Reader.TimeoutMs,
	}).Info("deribit reader initialized")

	return reader
}

// Fetch returns all option trades for the asset executed inside
// [start, end], deduplicated by trade ID, in arrival order. Pagination
// walks end_timestamp back to the oldest trade of the previous page and
// stops at the window start, an empty page, or has_more=false. An empty
// window is not an error.
func (r *TradesReader) Fetch(ctx context.Context, asset string, start, end time.Time) ([]models.TradeRecord, error) {
	log := r.log.WithComponent("deribit_reader").WithFields(logger.Fields{
		"asset":     asset,
		"start":     start.UTC().Format(time.RFC3339),
		"end":       end.UTC().Format(time.RFC3339),
		"operation": "fetch_trades",
	})
	log.Info("fetching option trades")

	var records []models.TradeRecord
	seen := make(map[string]struct{})
	cursor := end.UnixMilli()
	startMs := start.UnixMilli()

	for {
		pageURL := r.tradesURL(asset, cursor)
		body, err := r.doRequest(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		var resp models.DeribitTradesResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &FetchError{URL: pageURL, Err: fmt.Errorf("decode trades page: %w", err)}
		}

		trades := resp.Result.Trades
		metrics.IncrementPagesFetched()
		if len(trades) == 0 {
			log.Debug("no more trades to fetch")
			break
		}

		oldest := cursor
		added := 0
		for _, wire := range trades {
			rec := wire.Record()
			if wire.Timestamp < oldest {
				oldest = wire.Timestamp
			}
			if rec.TradeID == "" {
				continue
			}
			if _, dup := seen[rec.TradeID]; dup {
				continue
			}
			seen[rec.TradeID] = struct{}{}
			if wire.Timestamp < startMs || wire.Timestamp > end.UnixMilli() {
				continue
			}
			records = append(records, rec)
			added++
		}

		logger.LogDataFlowEntry(log, "deribit_api", "working_set", added, "option_trades")

		if !resp.Result.HasMore {
			break
		}
		if oldest <= startMs {
			break
		}
		if oldest >= cursor {
			// Cursor stalled; every remaining trade shares one timestamp.
			break
		}
		cursor = oldest
	}

	metrics.AddTradesFetched(len(records))
	log.WithFields(logger.Fields{"trades": len(records)}).Info("fetch completed")
	return records, nil
}

// IndexPrice returns the current index price for the asset. Used only to
// mark the spot strike on the rendered grid; failures are the caller's to
// soften.
func (r *TradesReader) IndexPrice(ctx context.Context, asset string) (float64, error) {
	indexURL := fmt.Sprintf("%s?index_name=%s_usd", r.config.Source.Deribit.IndexURL, strings.ToLower(asset))
	body, err := r.doRequest(ctx, indexURL)
	if err != nil {
		return 0, err
	}
	var resp models.DeribitIndexPriceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, &FetchError{URL: indexURL, Err: fmt.Errorf("decode index price: %w", err)}
	}
	if resp.Result.IndexPrice <= 0 {
		return 0, &FetchError{URL: indexURL, Err: fmt.Errorf("non-positive index price %v", resp.Result.IndexPrice)}
	}
	return resp.Result.IndexPrice, nil
}

func (r *TradesReader) tradesURL(asset string, endTimestamp int64) string {
	src := r.config.Source.Deribit
	params := url.Values{}
	params.Set("currency", strings.ToUpper(asset))
	params.Set("kind", "option")
	params.Set("count", strconv.Itoa(src.PageSize))
	params.Set("include_old", strconv.FormatBool(src.IncludeOld))
	params.Set("end_timestamp", strconv.FormatInt(endTimestamp, 10))
	return src.HistoryURL + "?" + params.Encode()
}

// doRequest issues one GET with the retry policy from the reader config.
// Server-side errors and rate limits are retried with exponential backoff;
// other client errors fail immediately.
func (r *TradesReader) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	retry := r.config.Reader.Retry
	log := r.log.WithComponent("deribit_reader").WithFields(logger.Fields{"url": reqURL})

	delay := time.Duration(retry.BaseDelayMs) * time.Millisecond
	maxDelay := time.Duration(retry.MaxDelayMs) * time.Millisecond
	multiplier := retry.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 2
	}

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, &FetchError{URL: reqURL, Err: err}
			}
		}

		body, retryable, err := r.attempt(ctx, reqURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, &FetchError{URL: reqURL, Err: err}
		}

		log.WithError(err).WithFields(logger.Fields{"attempt": attempt}).Warn("request failed")

		if attempt == retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, &FetchError{URL: reqURL, Err: ctx.Err()}
		case <-time.After(delay):
		}
		delay *= time.Duration(multiplier)
		if maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
		}
	}

	return nil, &FetchError{URL: reqURL, Err: fmt.Errorf("exhausted %d attempts: %w", retry.MaxAttempts, lastErr)}
}

func (r *TradesReader) attempt(ctx context.Context, reqURL string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, err
	}

	res, err := r.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		io.Copy(io.Discard, res.Body)
		return nil, true, fmt.Errorf("unexpected status %d", res.StatusCode)
	default:
		io.Copy(io.Discard, res.Body)
		return nil, false, fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	body, err = io.ReadAll(res.Body)
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}
