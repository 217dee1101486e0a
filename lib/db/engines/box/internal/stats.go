package internal

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/keybox/lib/db"
	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// --------------------------------------------------------------------------
// Operation Types (label values for the operation counters)
// --------------------------------------------------------------------------

type OpType int

const (
	OpTAdd OpType = iota
	OpTGet
	OpTUpdate
	OpTDelete
	OpTGetAll
	OpTBegin
	OpTCommit
	OpTRollback
)

func (o OpType) String() string {
	switch o {
	case OpTAdd:
		return "add"
	case OpTGet:
		return "get"
	case OpTUpdate:
		return "update"
	case OpTDelete:
		return "delete"
	case OpTGetAll:
		return "get_all"
	case OpTBegin:
		return "begin"
	case OpTCommit:
		return "commit"
	case OpTRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Stats Type (per-engine metrics)
// --------------------------------------------------------------------------

// Stats holds the metrics of one engine instance.
// Counters and gauges live in a private VictoriaMetrics set so that several engines
// in one process do not share counters. The persist latency is tracked with a
// go-metrics timer because GetInfo reports its percentiles.
//
// Thread-safety: All methods are thread-safe.
type Stats struct {
	set *vm.Set

	LazyEvictions   *vm.Counter
	ReaperEvictions *vm.Counter
	ReaperPasses    *vm.Counter
	PersistFailures *vm.Counter

	persistTimer gometrics.Timer
}

// PersistStats is a point-in-time view of the persist timer
type PersistStats struct {
	Count    int64   `json:"count"`
	Failures uint64  `json:"failures"`
	MeanMs   float64 `json:"mean_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P99Ms    float64 `json:"p99_ms"`
	MaxMs    float64 `json:"max_ms"`
}

// NewStats creates the metrics of an engine. keys is polled for the key count gauge
// and must be safe for concurrent use.
func NewStats(keys func() float64) *Stats {
	set := vm.NewSet()
	s := &Stats{
		set:             set,
		LazyEvictions:   set.NewCounter(`keybox_evictions_total{source="read"}`),
		ReaperEvictions: set.NewCounter(`keybox_evictions_total{source="reaper"}`),
		ReaperPasses:    set.NewCounter(`keybox_reaper_passes_total`),
		PersistFailures: set.NewCounter(`keybox_persist_failures_total`),
		persistTimer:    gometrics.NewTimer(),
	}
	set.NewGauge(`keybox_keys`, keys)

	// pre-create the operation counters so they are exported with a zero value
	for op := OpTAdd; op <= OpTRollback; op++ {
		s.Op(op)
	}

	return s
}

// Op increments the counter of the given operation
func (s *Stats) Op(op OpType) {
	s.set.GetOrCreateCounter(fmt.Sprintf(`keybox_operations_total{op=%q}`, op.String())).Inc()
}

// Err increments the error counter if err is a *db.Error
func (s *Stats) Err(err error) {
	if e, ok := err.(*db.Error); ok {
		s.set.GetOrCreateCounter(fmt.Sprintf(`keybox_errors_total{code=%q}`, e.Code.String())).Inc()
	}
}

// TimePersist records the duration of one snapshot write started at start
func (s *Stats) TimePersist(start time.Time) {
	s.persistTimer.UpdateSince(start)
}

// Persist returns a snapshot of the persist timer
func (s *Stats) Persist() PersistStats {
	snap := s.persistTimer.Snapshot()
	toMs := func(ns float64) float64 { return ns / float64(time.Millisecond) }
	return PersistStats{
		Count:    snap.Count(),
		Failures: s.PersistFailures.Get(),
		MeanMs:   toMs(snap.Mean()),
		P50Ms:    toMs(snap.Percentile(0.5)),
		P99Ms:    toMs(snap.Percentile(0.99)),
		MaxMs:    toMs(float64(snap.Max())),
	}
}

// WritePrometheus writes all counters and gauges in Prometheus text format
func (s *Stats) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}

// Close stops the persist timer
func (s *Stats) Close() {
	s.persistTimer.Stop()
}
