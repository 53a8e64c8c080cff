package spike

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/errorpulse/backend/internal/storage/models"
)

type fakeBucketStore struct {
	rows []models.StatsRow
	err  error

	gotStart int64
	gotEnd   int64
}

func (s *fakeBucketStore) GetStatsInRange(startBucket, endBucket int64) ([]models.StatsRow, error) {
	s.gotStart = startBucket
	s.gotEnd = endBucket
	return s.rows, s.err
}

const testBucket int64 = 5_000_000

func newTestDetector(store *fakeBucketStore) *Detector {
	d := NewDetector(store)
	d.Now = func() int64 { return testBucket * models.BucketSeconds * 1000 }
	return d
}

func historyRows(source string, perBucket int64) []models.StatsRow {
	rows := make([]models.StatsRow, 0, historyBuckets)
	for i := int64(1); i <= historyBuckets; i++ {
		rows = append(rows, models.StatsRow{
			TimeBucket:  testBucket - i,
			Source:      source,
			Category:    "uncategorized",
			TotalErrors: perBucket,
		})
	}
	return rows
}

func TestDetectInsufficientData(t *testing.T) {
	store := &fakeBucketStore{}
	d := newTestDetector(store)

	alert, err := d.Detect("api", "Database", DefaultMultiplier)
	require.NoError(t, err)

	assert.False(t, alert.Spike)
	assert.Equal(t, "Insufficient data", alert.Message)
	assert.Equal(t, "0", alert.Multiplier)
	assert.Equal(t, "api", alert.Source)
}

func TestDetectQueriesTrailingHour(t *testing.T) {
	store := &fakeBucketStore{}
	d := newTestDetector(store)

	_, err := d.Detect("api", "", DefaultMultiplier)
	require.NoError(t, err)

	assert.Equal(t, testBucket-historyBuckets, store.gotStart)
	assert.Equal(t, testBucket, store.gotEnd)
}

func TestDetectAtExactThresholdIsNotSpike(t *testing.T) {
	rows := append(historyRows("api", 10), models.StatsRow{
		TimeBucket: testBucket, Source: "api", Category: "uncategorized", TotalErrors: 20,
	})
	d := newTestDetector(&fakeBucketStore{rows: rows})

	alert, err := d.Detect("api", "", DefaultMultiplier)
	require.NoError(t, err)

	assert.False(t, alert.Spike, "current must strictly exceed average*multiplier")
	assert.Equal(t, "Normal error rate", alert.Message)
	assert.Equal(t, int64(20), alert.CurrentRate)
	assert.Equal(t, 10.0, alert.AverageRate)
	assert.Equal(t, 20.0, alert.Threshold)
}

func TestDetectAboveThresholdIsSpike(t *testing.T) {
	rows := append(historyRows("api", 10), models.StatsRow{
		TimeBucket: testBucket, Source: "api", Category: "uncategorized", TotalErrors: 21,
	})
	d := newTestDetector(&fakeBucketStore{rows: rows})

	alert, err := d.Detect("api", "Database", DefaultMultiplier)
	require.NoError(t, err)

	assert.True(t, alert.Spike)
	assert.Equal(t, int64(21), alert.CurrentRate)
	assert.Equal(t, "2.10", alert.Multiplier)
	assert.Contains(t, alert.Message, "Spike detected!")
	assert.Equal(t, "Database", alert.Category)
}

func TestDetectIgnoresOtherSources(t *testing.T) {
	rows := append(historyRows("worker", 100), models.StatsRow{
		TimeBucket: testBucket, Source: "worker", Category: "uncategorized", TotalErrors: 500,
	})
	d := newTestDetector(&fakeBucketStore{rows: rows})

	alert, err := d.Detect("api", "", DefaultMultiplier)
	require.NoError(t, err)

	assert.False(t, alert.Spike)
	assert.Equal(t, "Insufficient data", alert.Message)
}

func TestDetectZeroBaselineWithCurrentTraffic(t *testing.T) {
	rows := []models.StatsRow{
		{TimeBucket: testBucket, Source: "api", Category: "uncategorized", TotalErrors: 5},
	}
	d := newTestDetector(&fakeBucketStore{rows: rows})

	alert, err := d.Detect("api", "", DefaultMultiplier)
	require.NoError(t, err)

	// No history rows means a zero average, and 5 > 0 fires.
	assert.True(t, alert.Spike)
	assert.Equal(t, "0", alert.Multiplier)
	assert.Equal(t, 0.0, alert.AverageRate)
}

func TestDetectDefaultsNonPositiveMultiplier(t *testing.T) {
	rows := append(historyRows("api", 10), models.StatsRow{
		TimeBucket: testBucket, Source: "api", Category: "uncategorized", TotalErrors: 21,
	})
	d := newTestDetector(&fakeBucketStore{rows: rows})

	alert, err := d.Detect("api", "", 0)
	require.NoError(t, err)

	assert.True(t, alert.Spike)
	assert.Equal(t, 20.0, alert.Threshold)
}

func TestDetectStoreError(t *testing.T) {
	d := newTestDetector(&fakeBucketStore{err: assert.AnError})

	alert, err := d.Detect("api", "", DefaultMultiplier)
	assert.Error(t, err)
	assert.Nil(t, alert)
}
