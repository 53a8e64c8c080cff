package stats

import (
	"fmt"
	"math"
	"time"

	"github.com/errorpulse/backend/internal/storage/models"
)

// DefaultWindowMs is one hour, the dashboard's default view.
const DefaultWindowMs = 3600000

// StatsStore supplies the two query shapes the aggregator needs: bucketed
// per-source rows and raw per-category counts.
type StatsStore interface {
	GetStatsInRange(startBucket, endBucket int64) ([]models.StatsRow, error)
	GetCategoryCounts(sinceMs int64) ([]models.CategoryStat, error)
}

// TimeSeriesPoint is one (bucket, source, category) sample with the bucket
// start reconstructed as epoch milliseconds.
type TimeSeriesPoint struct {
	Timestamp int64  `json:"timestamp"`
	Count     int64  `json:"count"`
	Source    string `json:"source"`
	Category  string `json:"category"`
}

// Statistics is the aggregator output consumed by dashboard clients.
type Statistics struct {
	TotalErrors int64                 `json:"totalErrors"`
	ErrorRate   float64               `json:"errorRate"`
	Categories  []models.CategoryStat `json:"categories"`
	TimeSeries  []TimeSeriesPoint     `json:"timeSeries"`
}

// Aggregator computes windowed dashboard statistics. Reads run concurrently
// with ingest writes and may observe buckets mid-increment; that staleness
// is acceptable for display.
type Aggregator struct {
	store StatsStore

	// Now is overridable for tests.
	Now func() int64
}

func NewAggregator(store StatsStore) *Aggregator {
	return &Aggregator{
		store: store,
		Now:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Compute aggregates the trailing windowMs of data. The time series comes
// from bucket rows; the category breakdown comes from raw event timestamps,
// so the two can disagree slightly at window edges.
func (a *Aggregator) Compute(windowMs int64) (*Statistics, error) {
	if windowMs <= 0 {
		windowMs = DefaultWindowMs
	}

	now := a.Now()
	startTime := now - windowMs
	currentBucket := models.BucketFor(now)
	startBucket := models.BucketFor(startTime)

	rows, err := a.store.GetStatsInRange(startBucket, currentBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to query time series: %w", err)
	}

	categories, err := a.store.GetCategoryCounts(startTime)
	if err != nil {
		return nil, fmt.Errorf("failed to query category counts: %w", err)
	}

	var totalErrors int64
	timeSeries := make([]TimeSeriesPoint, 0, len(rows))
	for _, row := range rows {
		totalErrors += row.TotalErrors
		timeSeries = append(timeSeries, TimeSeriesPoint{
			Timestamp: row.TimeBucket * models.BucketSeconds * 1000,
			Count:     row.TotalErrors,
			Source:    row.Source,
			Category:  row.Category,
		})
	}

	if categories == nil {
		categories = []models.CategoryStat{}
	}

	errorRate := float64(totalErrors) / (float64(windowMs) / 60000.0)

	return &Statistics{
		TotalErrors: totalErrors,
		ErrorRate:   math.Round(errorRate*10) / 10,
		Categories:  categories,
		TimeSeries:  timeSeries,
	}, nil
}
