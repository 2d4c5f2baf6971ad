package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Manager struct {
	// counters
	CounterOutcomes         *prometheus.CounterVec
	CounterShots            *prometheus.CounterVec
	CounterImageUnavailable prometheus.Counter
	CounterStorageFailures  prometheus.Counter
	CounterWSMessages       *prometheus.CounterVec

	// gauges
	GaugeActiveSessions prometheus.Gauge

	// histograms
	HistAnalysisDuration *prometheus.HistogramVec
}

func NewTestManager() *Manager {
	return NewManager("pockettrainer", "test_server", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("pockettrainer", "test_server", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterOutcomes := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "analysis_outcomes",
		Help:      "The total number of analysis outcomes by kind",
	}, []string{"kind"})
	counterShots := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "shots",
		Help:      "The total number of captured shots by angle",
	}, []string{"angle"})
	counterImageUnavailable := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "image_unavailable",
		Help:      "The total number of shots replaced by the placeholder image",
	})
	counterStorageFailures := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "storage_failures",
		Help:      "The total number of failed record writes",
	})
	counterWSMessages := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "ws_messages",
		Help:      "The total number of websocket messages received by type",
	}, []string{"type"})

	gaugeActiveSessions := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "active_sessions",
		Help:      "Current number of signed-in capture sessions",
	})

	histAnalysisDuration := factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			Name:      "analysis_duration_seconds",
			Help:      "Duration of the analysis pipeline in seconds",
		},
		[]string{"kind"},
	)

	return &Manager{
		CounterOutcomes:         counterOutcomes,
		CounterShots:            counterShots,
		CounterImageUnavailable: counterImageUnavailable,
		CounterStorageFailures:  counterStorageFailures,
		CounterWSMessages:       counterWSMessages,
		GaugeActiveSessions:     gaugeActiveSessions,
		HistAnalysisDuration:    histAnalysisDuration,
	}
}
