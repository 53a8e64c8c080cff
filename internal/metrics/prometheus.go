package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ErrorsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errorpulse_errors_ingested_total",
			Help: "Total error events ingested",
		},
		[]string{"source", "severity"},
	)

	IngestBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "errorpulse_ingest_batch_size",
			Help:    "Number of events per ingest request",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	AIAnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "errorpulse_ai_analysis_duration_seconds",
			Help:    "AI enrichment duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	AIAnalysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errorpulse_ai_analysis_total",
			Help: "Total AI enrichment tasks by outcome",
		},
		[]string{"status"},
	)

	SpikesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errorpulse_spikes_detected_total",
			Help: "Total spike alerts raised",
		},
		[]string{"source"},
	)

	PatternsTracked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "errorpulse_patterns_tracked_total",
			Help: "Total pattern upserts performed",
		},
	)

	WebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "errorpulse_websocket_clients",
			Help: "Currently connected dashboard clients",
		},
	)

	BroadcastFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errorpulse_broadcast_frames_total",
			Help: "Frames delivered to client send queues",
		},
		[]string{"event"},
	)

	BroadcastDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errorpulse_broadcast_dropped_total",
			Help: "Frames dropped because a client queue was full",
		},
		[]string{"event"},
	)

	StatsCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "errorpulse_stats_cache_hits_total",
			Help: "Stats snapshot cache hits",
		},
	)

	StatsCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "errorpulse_stats_cache_misses_total",
			Help: "Stats snapshot cache misses",
		},
	)
)

func Init() {
	prometheus.MustRegister(ErrorsIngested)
	prometheus.MustRegister(IngestBatchSize)
	prometheus.MustRegister(AIAnalysisDuration)
	prometheus.MustRegister(AIAnalysisTotal)
	prometheus.MustRegister(SpikesDetected)
	prometheus.MustRegister(PatternsTracked)
	prometheus.MustRegister(WebSocketClients)
	prometheus.MustRegister(BroadcastFrames)
	prometheus.MustRegister(BroadcastDropped)
	prometheus.MustRegister(StatsCacheHits)
	prometheus.MustRegister(StatsCacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
