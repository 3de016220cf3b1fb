package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "groundcontrol_"

	resultSuccess = "success"
	resultError   = "error"

	commandResultAcked     = "acked"
	commandResultTimeout   = "timeout"
	commandResultCancelled = "cancelled"

	pollResultDelivered = "delivered"
	pollResultEmpty     = "empty"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestRecords  prometheus.Counter
	ingestLatency  *prometheus.HistogramVec

	commandRequests  prometheus.Counter
	commandResults   *prometheus.CounterVec
	commandRoundtrip prometheus.Histogram
	commandsPruned   prometheus.Counter

	pollResults *prometheus.CounterVec

	liveViewers    prometheus.Gauge
	liveBroadcasts prometheus.Counter
	liveDropped    prometheus.Counter
)

// Init registers metrics once. A nil db skips DB pool gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total telemetry ingest requests by result",
			},
			[]string{"result"},
		)
		ingestRecords = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_records_total",
				Help: "Total telemetry records persisted",
			},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		commandRequests = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_requests_total",
				Help: "Total issued commands",
			},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total command results by status",
			},
			[]string{"status"},
		)
		commandRoundtrip = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "command_roundtrip_seconds",
				Help:    "Time from issue to device acknowledgment",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 4, 5},
			},
		)
		commandsPruned = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_pruned_total",
				Help: "Delivered commands dropped without acknowledgment",
			},
		)

		pollResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_polls_total",
				Help: "Device long-polls by result",
			},
			[]string{"result"},
		)

		liveViewers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "live_viewers",
				Help: "Currently connected live viewers",
			},
		)
		liveBroadcasts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "live_broadcasts_total",
				Help: "Telemetry batches broadcast to live viewers",
			},
		)
		liveDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "live_dropped_total",
				Help: "Broadcasts skipped for slow or closed viewers",
			},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestRecords,
			ingestLatency,
			commandRequests,
			commandResults,
			commandRoundtrip,
			commandsPruned,
			pollResults,
			liveViewers,
			liveBroadcasts,
			liveDropped,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, records int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if result == resultSuccess && ingestRecords != nil && records > 0 {
		ingestRecords.Add(float64(records))
	}
}

// IncCommandIssued increments issued command counter.
func IncCommandIssued() {
	if commandRequests != nil {
		commandRequests.Inc()
	}
}

// IncCommandResult increments command result counter.
func IncCommandResult(status string) {
	if status == "" {
		status = "unknown"
	}
	if commandResults != nil {
		commandResults.WithLabelValues(status).Inc()
	}
}

// ObserveCommandRoundtrip records the issue-to-ack duration.
func ObserveCommandRoundtrip(duration time.Duration) {
	if commandRoundtrip != nil {
		commandRoundtrip.Observe(duration.Seconds())
	}
}

// AddCommandsPruned increments the pruned counter by count.
func AddCommandsPruned(count int) {
	if count <= 0 {
		return
	}
	if commandsPruned != nil {
		commandsPruned.Add(float64(count))
	}
}

// IncPoll increments device poll counter.
func IncPoll(result string) {
	if pollResults != nil {
		pollResults.WithLabelValues(result).Inc()
	}
}

// SetLiveViewers sets the connected viewer gauge.
func SetLiveViewers(count int) {
	if liveViewers != nil {
		liveViewers.Set(float64(count))
	}
}

// IncLiveBroadcast increments the broadcast counter.
func IncLiveBroadcast() {
	if liveBroadcasts != nil {
		liveBroadcasts.Inc()
	}
}

// IncLiveDropped increments the dropped delivery counter.
func IncLiveDropped() {
	if liveDropped != nil {
		liveDropped.Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	CommandResultAcked     = commandResultAcked
	CommandResultTimeout   = commandResultTimeout
	CommandResultCancelled = commandResultCancelled

	PollResultDelivered = pollResultDelivered
	PollResultEmpty     = pollResultEmpty
)
