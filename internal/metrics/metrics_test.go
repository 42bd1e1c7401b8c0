package metrics

import "testing"

func TestCounters(t *testing.T) {
	Reset()
	IncrementPagesFetched()
	AddTradesFetched(10)
	AddRecordsDropped(2)
	AddRecordsCleaned(8)
	IncrementHeatmapsRendered()

	snap := Snapshot()
	want := map[string]int64{
		"PagesFetched":     1,
		"TradesFetched":    10,
		"RecordsDropped":   2,
		"RecordsCleaned":   8,
		"HeatmapsRendered": 1,
	}
	for name, val := range want {
		if snap[name] != val {
			t.Errorf("%s = %d, want %d", name, snap[name], val)
		}
	}

	Reset()
	for name, val := range Snapshot() {
		if val != 0 {
			t.Errorf("%s not reset: %d", name, val)
		}
	}
}
