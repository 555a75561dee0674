package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesPresented = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_display_frames_presented_total",
			Help: "Total de frames apresentados na saída",
		},
		[]string{"video_device"},
	)

	BuffersRequeued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_display_buffers_requeued_total",
			Help: "Total de buffers devolvidos ao produtor após serem superados",
		},
		[]string{"video_device"},
	)

	HandoffLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edge_display_handoff_latency_seconds",
			Help:    "Latência de um passo completo de handoff (collect + present + requeue)",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{"video_device"},
	)

	DisplayEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_display_consumer_events_total",
			Help: "Total de eventos drenados do subsistema de apresentação",
		},
		[]string{"video_device"},
	)

	StreamFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_display_stream_faults_total",
			Help: "Total de falhas fatais de stream por operação",
		},
		[]string{"video_device", "operation"},
	)

	PoolBuffers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edge_display_pool_buffers",
			Help: "Número de buffers do pool por estado",
		},
		[]string{"state"},
	)

	SessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edge_display_session_active",
			Help: "Sessão de streaming ativa (0=parada, 1=ativa)",
		},
	)

	StatsPublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edge_display_stats_publish_latency_seconds",
			Help:    "Latência de publicação de eventos de sessão",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"publisher_type"},
	)
)
