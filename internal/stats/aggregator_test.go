package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/errorpulse/backend/internal/storage/models"
)

type fakeStatsStore struct {
	rows       []models.StatsRow
	categories []models.CategoryStat
	rowsErr    error
	catsErr    error

	gotStartBucket int64
	gotEndBucket   int64
	gotSinceMs     int64
}

func (s *fakeStatsStore) GetStatsInRange(startBucket, endBucket int64) ([]models.StatsRow, error) {
	s.gotStartBucket = startBucket
	s.gotEndBucket = endBucket
	return s.rows, s.rowsErr
}

func (s *fakeStatsStore) GetCategoryCounts(sinceMs int64) ([]models.CategoryStat, error) {
	s.gotSinceMs = sinceMs
	return s.categories, s.catsErr
}

const testNowMs int64 = 1_700_000_100_000

func newTestAggregator(store *fakeStatsStore) *Aggregator {
	a := NewAggregator(store)
	a.Now = func() int64 { return testNowMs }
	return a
}

func TestComputeErrorRatePerMinute(t *testing.T) {
	store := &fakeStatsStore{
		rows: []models.StatsRow{
			{TimeBucket: models.BucketFor(testNowMs), Source: "api", Category: "uncategorized", TotalErrors: 70},
			{TimeBucket: models.BucketFor(testNowMs) - 1, Source: "api", Category: "uncategorized", TotalErrors: 50},
		},
	}
	a := newTestAggregator(store)

	result, err := a.Compute(DefaultWindowMs)
	require.NoError(t, err)

	// 120 errors over a 60-minute window.
	assert.Equal(t, int64(120), result.TotalErrors)
	assert.Equal(t, 2.0, result.ErrorRate)
}

func TestComputeRoundsRateToOneDecimal(t *testing.T) {
	store := &fakeStatsStore{
		rows: []models.StatsRow{
			{TimeBucket: models.BucketFor(testNowMs), Source: "api", Category: "uncategorized", TotalErrors: 100},
		},
	}
	a := newTestAggregator(store)

	result, err := a.Compute(DefaultWindowMs)
	require.NoError(t, err)

	// 100/60 = 1.666... rounds to 1.7.
	assert.Equal(t, 1.7, result.ErrorRate)
}

func TestComputeReconstructsBucketTimestamps(t *testing.T) {
	bucket := models.BucketFor(testNowMs)
	store := &fakeStatsStore{
		rows: []models.StatsRow{
			{TimeBucket: bucket, Source: "api", Category: "uncategorized", TotalErrors: 3},
		},
	}
	a := newTestAggregator(store)

	result, err := a.Compute(DefaultWindowMs)
	require.NoError(t, err)

	require.Len(t, result.TimeSeries, 1)
	assert.Equal(t, bucket*models.BucketSeconds*1000, result.TimeSeries[0].Timestamp)
	assert.Equal(t, "api", result.TimeSeries[0].Source)
	assert.Equal(t, int64(3), result.TimeSeries[0].Count)
}

func TestComputeQueriesWindowBounds(t *testing.T) {
	store := &fakeStatsStore{}
	a := newTestAggregator(store)

	_, err := a.Compute(DefaultWindowMs)
	require.NoError(t, err)

	assert.Equal(t, models.BucketFor(testNowMs-DefaultWindowMs), store.gotStartBucket)
	assert.Equal(t, models.BucketFor(testNowMs), store.gotEndBucket)
	assert.Equal(t, testNowMs-DefaultWindowMs, store.gotSinceMs)
}

func TestComputeEmptyWindow(t *testing.T) {
	a := newTestAggregator(&fakeStatsStore{})

	result, err := a.Compute(DefaultWindowMs)
	require.NoError(t, err)

	assert.Zero(t, result.TotalErrors)
	assert.Zero(t, result.ErrorRate)
	assert.NotNil(t, result.Categories)
	assert.Empty(t, result.Categories)
	assert.NotNil(t, result.TimeSeries)
	assert.Empty(t, result.TimeSeries)
}

func TestComputeDefaultsNonPositiveWindow(t *testing.T) {
	store := &fakeStatsStore{}
	a := newTestAggregator(store)

	_, err := a.Compute(0)
	require.NoError(t, err)

	assert.Equal(t, testNowMs-int64(DefaultWindowMs), store.gotSinceMs)
}

func TestComputePropagatesStoreErrors(t *testing.T) {
	a := newTestAggregator(&fakeStatsStore{rowsErr: assert.AnError})

	_, err := a.Compute(DefaultWindowMs)
	assert.Error(t, err)
}
