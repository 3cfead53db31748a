package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "designctl"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	engineRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Engine requests by command key and outcome.",
		},
		[]string{"key", "outcome"},
	)
	engineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "request_duration_seconds",
			Help:      "Engine send+receive latency in seconds.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"key", "outcome"},
	)
	framesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trajectory",
			Name:      "frames_published_total",
			Help:      "Frames pushed to the sink by publish mode.",
		},
		[]string{"mode"},
	)
	parseFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trajectory",
			Name:      "parse_failures_total",
			Help:      "Snapshots skipped because they could not be parsed.",
		},
	)
	historySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trajectory",
			Name:      "history_snapshots",
			Help:      "Snapshots currently held in trajectory history.",
		},
	)
	scriptRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "script",
			Name:      "runs_total",
			Help:      "Script runs by result.",
		},
		[]string{"result"},
	)
	scriptPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "script",
			Name:      "polls_total",
			Help:      "Streaming polls by outcome.",
		},
		[]string{"outcome"},
	)
	viewers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "viewers",
			Help:      "Connected websocket viewers.",
		},
	)
	viewerDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "dropped_total",
			Help:      "Frames replaced before a slow viewer could take them.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			engineRequests, engineDuration,
			framesPublished, parseFailures, historySize,
			scriptRuns, scriptPolls,
			viewers, viewerDrops,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordEngineRequest(key, outcome string, duration time.Duration) {
	RegisterMetrics()
	engineRequests.WithLabelValues(key, outcome).Inc()
	engineDuration.WithLabelValues(key, outcome).Observe(duration.Seconds())
}

func RecordFramePublished(mode string) {
	RegisterMetrics()
	framesPublished.WithLabelValues(mode).Inc()
}

func RecordParseFailure() {
	RegisterMetrics()
	parseFailures.Inc()
}

func SetHistorySize(n int) {
	RegisterMetrics()
	historySize.Set(float64(n))
}

func RecordScriptRun(result string) {
	RegisterMetrics()
	scriptRuns.WithLabelValues(result).Inc()
}

func RecordScriptPoll(outcome string) {
	RegisterMetrics()
	scriptPolls.WithLabelValues(outcome).Inc()
}

func AddViewers(delta int) {
	RegisterMetrics()
	viewers.Add(float64(delta))
}

func RecordViewerDrop() {
	RegisterMetrics()
	viewerDrops.Inc()
}
