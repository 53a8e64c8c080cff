package spike

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/errorpulse/backend/internal/storage/models"
	"github.com/errorpulse/backend/pkg/logger"
)

// DefaultMultiplier is how many times the baseline the current bucket must
// exceed before an alert fires.
const DefaultMultiplier = 2.0

// historyBuckets is one hour of 5-minute buckets.
const historyBuckets = 12

// BucketStore supplies aggregated rate-bucket rows.
type BucketStore interface {
	GetStatsInRange(startBucket, endBucket int64) ([]models.StatsRow, error)
}

// Alert is a point-in-time spike judgment. It is computed on demand and
// never persisted.
type Alert struct {
	Spike       bool    `json:"spike"`
	CurrentRate int64   `json:"currentRate"`
	AverageRate float64 `json:"averageRate"`
	Threshold   float64 `json:"threshold"`
	Multiplier  string  `json:"multiplier"`
	Source      string  `json:"source"`
	Category    string  `json:"category,omitempty"`
	Message     string  `json:"message"`
}

// Detector compares the current bucket's error count against the trailing
// hour's average. A naive baseline comparison, not a statistical test; good
// enough to flag order-of-magnitude bursts.
type Detector struct {
	store BucketStore

	// Now is overridable for tests.
	Now func() int64
}

func NewDetector(store BucketStore) *Detector {
	return &Detector{
		store: store,
		Now:   func() int64 { return time.Now().UnixMilli() },
	}
}

// Detect evaluates the rate for source against its hourly baseline. Rows are
// matched by source; category is carried through for reporting only, since
// bucket rows are keyed by the category known at insert time, not the AI
// category assigned later.
func (d *Detector) Detect(source, category string, thresholdMultiplier float64) (*Alert, error) {
	if thresholdMultiplier <= 0 {
		thresholdMultiplier = DefaultMultiplier
	}

	currentBucket := models.BucketFor(d.Now())
	hourAgo := currentBucket - historyBuckets

	rows, err := d.store.GetStatsInRange(hourAgo, currentBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to query bucket history: %w", err)
	}

	var matched []models.StatsRow
	for _, row := range rows {
		if row.Source == source {
			matched = append(matched, row)
		}
	}

	if len(matched) == 0 {
		return &Alert{
			Spike:      false,
			Multiplier: "0",
			Source:     source,
			Category:   category,
			Message:    "Insufficient data",
		}, nil
	}

	var historicalSum, historicalRows int64
	var currentRate int64
	for _, row := range matched {
		if row.TimeBucket < currentBucket {
			historicalSum += row.TotalErrors
			historicalRows++
		} else if row.TimeBucket == currentBucket {
			currentRate += row.TotalErrors
		}
	}

	average := 0.0
	if historicalRows > 0 {
		average = float64(historicalSum) / float64(historicalRows)
	}

	spiking := float64(currentRate) > average*thresholdMultiplier

	ratio := 0.0
	multiplier := "0"
	if average > 0 {
		ratio = float64(currentRate) / average
		multiplier = fmt.Sprintf("%.2f", ratio)
	}

	message := "Normal error rate"
	if spiking {
		message = fmt.Sprintf("Spike detected! Current rate (%d) is %.1fx the baseline (%.1f)",
			currentRate, ratio, average)
		logger.Warn("Error rate spike detected",
			zap.String("source", source),
			zap.String("category", category),
			zap.Int64("current_rate", currentRate),
			zap.Float64("average_rate", average),
		)
	}

	return &Alert{
		Spike:       spiking,
		CurrentRate: currentRate,
		AverageRate: round1(average),
		Threshold:   round1(average * thresholdMultiplier),
		Multiplier:  multiplier,
		Source:      source,
		Category:    category,
		Message:     message,
	}, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
