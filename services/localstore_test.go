package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"global_scheduler/models"
)

func newTestCache(t *testing.T) *RecommendationCache {
	t.Helper()
	cache, err := NewRecommendationCache(filepath.Join(t.TempDir(), "recs.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func testRecs(tradeDate time.Time) []models.Recommendation {
	return []models.Recommendation{
		{
			Region: "KR", Symbol: "005930", Name: "Samsung Electronics",
			Score: decimal.NewFromFloat(0.91), Price: decimal.NewFromInt(71000),
			TargetGain: decimal.NewFromFloat(0.05), Reason: "momentum",
			TradeDate: tradeDate,
		},
		{
			Region: "KR", Symbol: "000660", Name: "SK hynix",
			Score: decimal.NewFromFloat(0.87), Price: decimal.NewFromInt(189000),
			TargetGain: decimal.NewFromFloat(0.04), TradeDate: tradeDate,
		},
	}
}

func TestCacheSaveAndLoad(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	tradeDate := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, cache.Save(ctx, "KR", testRecs(tradeDate)))

	recs, err := cache.LoadLatest(ctx, "KR")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// Sorted by score descending.
	assert.Equal(t, "005930", recs[0].Symbol)
	assert.True(t, recs[0].Score.Equal(decimal.NewFromFloat(0.91)))
	assert.True(t, recs[0].Price.Equal(decimal.NewFromInt(71000)))
	assert.Equal(t, tradeDate, recs[0].TradeDate)
}

func TestCacheSaveReplacesSameDay(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	tradeDate := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, cache.Save(ctx, "KR", testRecs(tradeDate)))
	require.NoError(t, cache.Save(ctx, "KR", testRecs(tradeDate)[:1]))

	recs, err := cache.LoadLatest(ctx, "KR")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestCacheLoadLatestPicksNewestDay(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	older := time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cache.Save(ctx, "KR", testRecs(older)))
	require.NoError(t, cache.Save(ctx, "KR", testRecs(newer)[:1]))

	recs, err := cache.LoadLatest(ctx, "KR")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, newer, recs[0].TradeDate)
}

func TestCacheRegionsAreIsolated(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	tradeDate := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, cache.Save(ctx, "KR", testRecs(tradeDate)))

	recs, err := cache.LoadLatest(ctx, "US")
	require.NoError(t, err)
	assert.Empty(t, recs)
}
