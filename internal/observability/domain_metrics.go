package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sourceLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_source_loads_total",
			Help: "Total number of data source loads by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_questions_total",
			Help: "Total number of submitted questions by route and result kind.",
		},
		[]string{"route", "result"},
	)
	engineAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablechat_engine_attempts_total",
			Help: "Total number of NL engine attempts by outcome.",
		},
		[]string{"outcome"},
	)
	engineLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablechat_engine_latency_ms",
			Help:    "NL engine execution latency in milliseconds, retries included.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
	)
	liveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablechat_live_sessions",
			Help: "Current number of open chat sessions.",
		},
	)
	liveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablechat_live_connections",
			Help: "Current number of open remote database connections.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		sourceLoadsTotal,
		questionsTotal,
		engineAttemptsTotal,
		engineLatencyMs,
		liveSessions,
		liveConnections,
	)
}

func ObserveSourceLoad(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sourceLoadsTotal.WithLabelValues(kind, outcome).Inc()
}

func ObserveQuestion(route, result string) {
	questionsTotal.WithLabelValues(route, result).Inc()
}

func ObserveEngineAttempt(outcome string) {
	engineAttemptsTotal.WithLabelValues(outcome).Inc()
}

func ObserveEngineLatency(elapsed time.Duration) {
	engineLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func AddLiveSessions(delta int) {
	liveSessions.Add(float64(delta))
}

func AddLiveConnections(delta int) {
	liveConnections.Add(float64(delta))
}
