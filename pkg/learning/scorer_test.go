package learning

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaselineExcludesScoredVideo(t *testing.T) {
	b := NewBaselineCalculator(DefaultPolicy())
	history := []Video{
		{ID: "a", Views: 1000, Likes: 50, Comments: 10},
		{ID: "b", Views: 3000, Likes: 90, Comments: 30},
		{ID: "scored", Views: 1_000_000, Likes: 1, Comments: 1},
	}

	base, err := b.Compute("c1", "scored", history)
	require.NoError(t, err)
	assert.Equal(t, "c1", base.ChannelID)
	assert.Equal(t, 2, base.SampleSize)
	assert.False(t, base.Fallback)
	assert.InDelta(t, 2000, base.AvgViews, 1e-9)
	assert.InDelta(t, (0.05+0.03)/2, base.AvgLikeRate, 1e-9)
	assert.InDelta(t, (0.01+0.01)/2, base.AvgCommentRate, 1e-9)
}

func TestBaselineFallbacks(t *testing.T) {
	b := NewBaselineCalculator(DefaultPolicy())

	_, err := b.Compute("c1", "x", nil)
	assert.ErrorIs(t, err, ErrNoChannelHistory)

	_, err = b.Compute("c1", "x", []Video{{ID: "x", Views: 10}})
	assert.ErrorIs(t, err, ErrNoChannelHistory)

	base, err := b.Compute("c1", "x", []Video{{ID: "a", Views: 10}})
	require.NoError(t, err)
	assert.True(t, base.Fallback)
	assert.Equal(t, 1000.0, base.AvgViews)
	assert.Equal(t, 0.04, base.AvgLikeRate)
	assert.Equal(t, 0.005, base.AvgCommentRate)
}

func TestScoreExampleThree(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	base := ChannelBaseline{AvgViews: 10000, AvgLikeRate: 0.05, AvgCommentRate: 0.01}

	sc, err := s.Score(Video{ID: "v", Views: 20000, Likes: 1200, Comments: 150}, base)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, sc.ViewRatio, 1e-9)
	assert.InDelta(t, 0.06, sc.LikeRate, 1e-9)
	assert.InDelta(t, 0.0075, sc.CommentRate, 1e-9)
	assert.InDelta(t, 0.975, sc.EngagementMultiplier, 1e-9)
	assert.InDelta(t, 1.95, sc.Performance, 1e-9)
	assert.Equal(t, TierHigh, sc.Tier)
}

func TestScoreZeroBaselines(t *testing.T) {
	s := NewScorer(DefaultPolicy())

	sc, err := s.Score(Video{Views: 0, Likes: 0, Comments: 0}, ChannelBaseline{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, sc.ViewRatio)
	assert.Equal(t, 1.0, sc.EngagementMultiplier)
	assert.Equal(t, TierMedium, sc.Tier)
	assert.False(t, math.IsNaN(sc.Performance))
}

func TestScoreRejectsNegativeMetrics(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	_, err := s.Score(Video{ID: "v", Views: -1}, ChannelBaseline{AvgViews: 10})
	assert.ErrorIs(t, err, ErrInvalidMetrics)
}

func TestEngagementClamp(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	base := ChannelBaseline{AvgLikeRate: 0.01, AvgCommentRate: 0.01}

	assert.Equal(t, 1.5, s.Engagement(0.5, 0.5, base))
	assert.Equal(t, 0.7, s.Engagement(0, 0, base))
	assert.Equal(t, 1.0, s.Engagement(math.NaN(), math.NaN(), base))
}

func TestTierCutoffs(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	assert.Equal(t, TierHigh, s.Tier(1.2))
	assert.Equal(t, TierMedium, s.Tier(1.19))
	assert.Equal(t, TierMedium, s.Tier(0.81))
	assert.Equal(t, TierLow, s.Tier(0.8))

	custom := DefaultPolicy()
	custom.HighTier, custom.LowTier = 2, 0.5
	s = NewScorer(custom)
	assert.Equal(t, TierMedium, s.Tier(1.5))
}
