package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/errorpulse/backend/internal/ai"
	"github.com/errorpulse/backend/internal/broadcast"
	"github.com/errorpulse/backend/internal/metrics"
	"github.com/errorpulse/backend/internal/pattern"
	"github.com/errorpulse/backend/internal/spike"
	"github.com/errorpulse/backend/internal/stats"
	"github.com/errorpulse/backend/internal/storage/models"
	"github.com/errorpulse/backend/pkg/logger"
)

// Store is the persistence surface the pipeline drives.
type Store interface {
	InsertError(e *models.ErrorEvent) (int64, error)
	UpdateErrorAI(errorID int64, category, severity, hypothesis string) error
	MarkErrorAIFailed(errorID int64) error
	ClearAll() error
}

// Broadcaster fans events out to connected dashboard clients.
type Broadcaster interface {
	Broadcast(event string, data interface{})
}

// StatsCache is the optional snapshot cache flushed on bulk clear.
type StatsCache interface {
	Invalidate(ctx context.Context) error
}

// ValidationError describes a rejected ingest payload. It is reported
// synchronously; nothing is persisted for the offending request.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event %d: %s %s", e.Index, e.Field, e.Reason)
}

// MaxBatchSize caps a single ingest call.
const MaxBatchSize = 100

// StreamPayload is one AI chunk broadcast during enrichment.
type StreamPayload struct {
	ErrorID  int64  `json:"errorId"`
	Chunk    string `json:"chunk"`
	FullText string `json:"fullText"`
}

// CompletePayload closes out one error's enrichment.
type CompletePayload struct {
	ErrorID     int64        `json:"errorId"`
	Analysis    *ai.Analysis `json:"analysis"`
	PatternHash string       `json:"patternHash"`
	Spike       *spike.Alert `json:"spike"`
}

// FailedPayload reports an enrichment failure.
type FailedPayload struct {
	ErrorID int64  `json:"errorId"`
	Error   string `json:"error"`
}

// Pipeline orchestrates ingest → broadcast → async AI enrichment → pattern
// tracking → spike check → completion broadcast.
type Pipeline struct {
	store       Store
	matcher     *pattern.Matcher
	detector    *spike.Detector
	aggregator  *stats.Aggregator
	analyzer    ai.Analyzer
	broadcaster Broadcaster
	cache       StatsCache
	maxBatch    int

	wg sync.WaitGroup
}

func New(store Store, matcher *pattern.Matcher, detector *spike.Detector,
	aggregator *stats.Aggregator, analyzer ai.Analyzer, broadcaster Broadcaster,
	cache StatsCache) *Pipeline {
	return &Pipeline{
		store:       store,
		matcher:     matcher,
		detector:    detector,
		aggregator:  aggregator,
		analyzer:    analyzer,
		broadcaster: broadcaster,
		cache:       cache,
		maxBatch:    MaxBatchSize,
	}
}

// Ingest validates and persists a batch, broadcasting error:new for each
// event and spawning a detached enrichment task per event. It returns as
// soon as persistence and the initial broadcasts are done; AI latency never
// delays the caller. Enrichment failures surface as broadcasts, not as
// ingest errors.
func (p *Pipeline) Ingest(ctx context.Context, events []models.ErrorEvent) ([]int64, error) {
	if len(events) == 0 {
		return nil, &ValidationError{Field: "errors", Reason: "batch is empty"}
	}
	if len(events) > p.maxBatch {
		return nil, &ValidationError{Field: "errors",
			Reason: fmt.Sprintf("batch exceeds maximum of %d", p.maxBatch)}
	}

	for i := range events {
		if err := normalize(&events[i], i); err != nil {
			return nil, err
		}
	}

	metrics.IngestBatchSize.Observe(float64(len(events)))

	ids := make([]int64, 0, len(events))
	for i := range events {
		e := events[i]

		id, err := p.store.InsertError(&e)
		if err != nil {
			return nil, fmt.Errorf("failed to persist error: %w", err)
		}
		e.ID = id
		e.AIStatus = models.AIStatusProcessing
		ids = append(ids, id)

		metrics.ErrorsIngested.WithLabelValues(e.Source, e.Severity).Inc()
		p.broadcaster.Broadcast(broadcast.EventErrorNew, e)

		p.wg.Add(1)
		go p.enrich(e)
	}

	logger.Info("Errors ingested", zap.Int("count", len(ids)))

	return ids, nil
}

func normalize(e *models.ErrorEvent, index int) error {
	if strings.TrimSpace(e.Message) == "" {
		return &ValidationError{Index: index, Field: "message", Reason: "is required"}
	}
	if strings.TrimSpace(e.Source) == "" {
		return &ValidationError{Index: index, Field: "source", Reason: "is required"}
	}
	if e.Severity == "" {
		e.Severity = models.SeverityUnknown
	} else if !models.ValidSeverity(e.Severity) {
		return &ValidationError{Index: index, Field: "severity",
			Reason: "must be one of critical, high, medium, low, unknown"}
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	return nil
}

// enrich runs the detached per-error AI task. Errors here never propagate
// to the ingest caller; each failure path ends in a broadcast.
func (p *Pipeline) enrich(e models.ErrorEvent) {
	defer p.wg.Done()

	start := time.Now()

	var streamed strings.Builder
	analysis, err := p.analyzer.StreamAnalyze(context.Background(), &e, func(chunk string) {
		streamed.WriteString(chunk)
		p.broadcaster.Broadcast(broadcast.EventErrorAIStream, StreamPayload{
			ErrorID:  e.ID,
			Chunk:    chunk,
			FullText: streamed.String(),
		})
	})
	if err != nil {
		p.failEnrichment(e.ID, err)
		return
	}

	if err := p.store.UpdateErrorAI(e.ID, analysis.Category, analysis.Severity, analysis.Hypothesis); err != nil {
		p.failEnrichment(e.ID, err)
		return
	}

	patternHash, err := p.matcher.Track(&e, analysis.Category)
	if err != nil {
		// Analysis is already persisted; losing one pattern increment is
		// preferable to reporting the whole enrichment as failed.
		logger.Warn("Failed to track error pattern", zap.Int64("error_id", e.ID), zap.Error(err))
	} else {
		metrics.PatternsTracked.Inc()
	}

	var alert *spike.Alert
	detection, err := p.detector.Detect(e.Source, analysis.Category, spike.DefaultMultiplier)
	if err != nil {
		logger.Warn("Spike check failed", zap.Int64("error_id", e.ID), zap.Error(err))
	} else if detection.Spike {
		alert = detection
	}

	metrics.AIAnalysisDuration.Observe(time.Since(start).Seconds())
	metrics.AIAnalysisTotal.WithLabelValues("complete").Inc()

	p.broadcaster.Broadcast(broadcast.EventErrorAIComplete, CompletePayload{
		ErrorID:     e.ID,
		Analysis:    analysis,
		PatternHash: patternHash,
		Spike:       alert,
	})

	if alert != nil {
		metrics.SpikesDetected.WithLabelValues(e.Source).Inc()
		p.broadcaster.Broadcast(broadcast.EventAlertSpike, alert)
	}
}

func (p *Pipeline) failEnrichment(errorID int64, cause error) {
	logger.Error("Error enrichment failed", zap.Int64("error_id", errorID), zap.Error(cause))
	metrics.AIAnalysisTotal.WithLabelValues("failed").Inc()

	if err := p.store.MarkErrorAIFailed(errorID); err != nil {
		logger.Error("Failed to mark error as failed", zap.Int64("error_id", errorID), zap.Error(err))
	}

	p.broadcaster.Broadcast(broadcast.EventErrorAIFailed, FailedPayload{
		ErrorID: errorID,
		Error:   cause.Error(),
	})
}

// Clear wipes all errors and derived state, flushes the stats cache, and
// tells every subscriber to drop local caches.
func (p *Pipeline) Clear(ctx context.Context) error {
	if err := p.store.ClearAll(); err != nil {
		return err
	}

	if p.cache != nil {
		if err := p.cache.Invalidate(ctx); err != nil {
			logger.Warn("Failed to invalidate stats cache", zap.Error(err))
		}
	}

	p.broadcaster.Broadcast(broadcast.EventErrorsCleared, nil)
	return nil
}

// Wait blocks until every in-flight enrichment task finishes. Used by
// graceful shutdown and by tests that need deterministic completion.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// RunStatsLoop broadcasts a stats snapshot at the given interval until ctx
// is cancelled.
func (p *Pipeline) RunStatsLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := p.aggregator.Compute(stats.DefaultWindowMs)
			if err != nil {
				logger.Error("Failed to compute stats broadcast", zap.Error(err))
				continue
			}
			p.broadcaster.Broadcast(broadcast.EventDataStatsUpdate, map[string]interface{}{
				"stats":     snapshot,
				"timestamp": time.Now().UnixMilli(),
			})
		}
	}
}
