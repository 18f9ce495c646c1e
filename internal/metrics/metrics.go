// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	eventsWrittenCounter     *prometheus.CounterVec
	appendErrorsCounter      *prometheus.CounterVec
	rotationsCounter         *prometheus.CounterVec
	rotationFailuresCounter  *prometheus.CounterVec
	replicationPagesCounter  *prometheus.CounterVec
	replicationErrorsCounter *prometheus.CounterVec
	replicationCursorGauge   prometheus.Gauge
	sendsCounter             *prometheus.CounterVec
	archivesPrunedCounter    prometheus.Counter
)

// Shard labels.
const (
	ShardGlobal = "global"
	ShardPeer   = "peer"
)

// Replication phase labels.
const (
	PhaseCatchUp = "catchup"
	PhaseLive    = "live"
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		eventsWrittenCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wahub_events_written_total",
				Help: "Total number of event records appended by shard and kind.",
			},
			[]string{"shard", "kind"},
		)

		appendErrorsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wahub_append_errors_total",
				Help: "Total number of dropped appends by shard.",
			},
			[]string{"shard"},
		)

		rotationsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wahub_rotations_total",
				Help: "Total number of completed log rotations by shard.",
			},
			[]string{"shard"},
		)

		rotationFailuresCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wahub_rotation_failures_total",
				Help: "Total number of rotations that failed to rename the live file.",
			},
			[]string{"shard"},
		)

		replicationPagesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wahub_replication_pages_total",
				Help: "Total number of upstream pages replayed by phase.",
			},
			[]string{"phase"},
		)

		replicationErrorsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wahub_replication_errors_total",
				Help: "Total number of transient upstream failures by phase.",
			},
			[]string{"phase"},
		)

		replicationCursorGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wahub_replication_cursor",
				Help: "Current replication cursor (since).",
			},
		)

		sendsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wahub_sends_total",
				Help: "Total number of outbound send attempts by result.",
			},
			[]string{"result"},
		)

		archivesPrunedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wahub_archives_pruned_total",
				Help: "Total number of archive files removed by retention.",
			},
		)

		prometheus.MustRegister(
			eventsWrittenCounter,
			appendErrorsCounter,
			rotationsCounter,
			rotationFailuresCounter,
			replicationPagesCounter,
			replicationErrorsCounter,
			replicationCursorGauge,
			sendsCounter,
			archivesPrunedCounter,
		)

		// Ensure vectors are visible at /metrics before first increment.
		for _, shard := range []string{ShardGlobal, ShardPeer} {
			appendErrorsCounter.WithLabelValues(shard)
			rotationsCounter.WithLabelValues(shard)
			rotationFailuresCounter.WithLabelValues(shard)
		}
		for _, phase := range []string{PhaseCatchUp, PhaseLive} {
			replicationPagesCounter.WithLabelValues(phase)
			replicationErrorsCounter.WithLabelValues(phase)
		}
		for _, result := range []string{"ok", "failed", "error"} {
			sendsCounter.WithLabelValues(result)
		}
	})
}

func EventWritten(shard, kind string) {
	Init()
	eventsWrittenCounter.WithLabelValues(shard, kind).Inc()
}

func AppendFailed(shard string) {
	Init()
	appendErrorsCounter.WithLabelValues(shard).Inc()
}

func Rotated(shard string) {
	Init()
	rotationsCounter.WithLabelValues(shard).Inc()
}

func RotationFailed(shard string) {
	Init()
	rotationFailuresCounter.WithLabelValues(shard).Inc()
}

func PageReplayed(phase string) {
	Init()
	replicationPagesCounter.WithLabelValues(phase).Inc()
}

func ReplicationFailed(phase string) {
	Init()
	replicationErrorsCounter.WithLabelValues(phase).Inc()
}

func SetCursor(since int64) {
	Init()
	replicationCursorGauge.Set(float64(since))
}

// SendAttempted records an outbound send. result is "ok", "failed"
// (non-2xx) or "error" (transport).
func SendAttempted(result string) {
	Init()
	sendsCounter.WithLabelValues(result).Inc()
}

func ArchivesPruned(n int) {
	Init()
	archivesPrunedCounter.Add(float64(n))
}
