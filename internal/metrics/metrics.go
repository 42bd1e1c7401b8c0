package metrics

import "sync/atomic"

// Pipeline counters for one process. They feed the run summary log line
// and, when enabled, CloudWatch publication.
var (
	pagesFetched     int64
	tradesFetched    int64
	recordsDropped   int64
	recordsCleaned   int64
	heatmapsRendered int64
)

func IncrementPagesFetched() {
	atomic.AddInt64(&pagesFetched, 1)
}

func AddTradesFetched(n int) {
	atomic.AddInt64(&tradesFetched, int64(n))
}

func AddRecordsDropped(n int) {
	atomic.AddInt64(&recordsDropped, int64(n))
}

func AddRecordsCleaned(n int) {
	atomic.AddInt64(&recordsCleaned, int64(n))
}

func IncrementHeatmapsRendered() {
	atomic.AddInt64(&heatmapsRendered, 1)
}

// Snapshot returns the current counter values keyed by metric name.
func Snapshot() map[string]int64 {
	return map[string]int64{
		"PagesFetched":     atomic.LoadInt64(&pagesFetched),
		"TradesFetched":    atomic.LoadInt64(&tradesFetched),
		"RecordsDropped":   atomic.LoadInt64(&recordsDropped),
		"RecordsCleaned":   atomic.LoadInt64(&recordsCleaned),
		"HeatmapsRendered": atomic.LoadInt64(&heatmapsRendered),
	}
}

// Reset zeroes all counters. Intended for tests.
func Reset() {
	atomic.StoreInt64(&pagesFetched, 0)
	atomic.StoreInt64(&tradesFetched, 0)
	atomic.StoreInt64(&recordsDropped, 0)
	atomic.StoreInt64(&recordsCleaned, 0)
	atomic.StoreInt64(&heatmapsRendered, 0)
}
