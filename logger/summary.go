package logger

import (
	"sync"
	"sync/atomic"
)

var (
	warnCounts  sync.Map // map[string]*int64
	errorCounts sync.Map // map[string]*int64
)

func recordWarn(component string) {
	bump(&warnCounts, component)
}

func recordError(component string) {
	bump(&errorCounts, component)
}

func bump(m *sync.Map, component string) {
	v, _ := m.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// Counts returns per-component warn and error totals accumulated since
// process start. Used for the end-of-run summary.
func Counts() (warns, errors map[string]int64) {
	warns = make(map[string]int64)
	errors = make(map[string]int64)
	warnCounts.Range(func(k, v interface{}) bool {
		warns[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	errorCounts.Range(func(k, v interface{}) bool {
		errors[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return warns, errors
}

// LogRunSummary emits one summary line for a completed invocation.
func LogRunSummary(log *Log, fields Fields) {
	warns, errs := Counts()
	var totalWarns, totalErrors int64
	for _, n := range warns {
		totalWarns += n
	}
	for _, n := range errs {
		totalErrors += n
	}
	if fields == nil {
		fields = make(Fields)
	}
	fields["warnings"] = totalWarns
	fields["errors"] = totalErrors
	log.WithComponent("summary").WithFields(fields).Info("run summary")
}
