package learning

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidMetrics means a video carries negative counters.
var ErrInvalidMetrics = errors.New("invalid video metrics")

// Score is the outcome of evaluating one video against its baseline.
type Score struct {
	ViewRatio            float64 `json:"view_ratio"`
	LikeRate             float64 `json:"like_rate"`
	CommentRate          float64 `json:"comment_rate"`
	EngagementMultiplier float64 `json:"engagement_multiplier"`
	Performance          float64 `json:"performance_score"`
	Tier                 Tier    `json:"performance_tier"`
}

// Scorer converts raw metrics plus a baseline into a performance score.
type Scorer struct {
	highTier float64
	lowTier  float64
	engMin   float64
	engMax   float64
}

// NewScorer creates a scorer with the policy's tier cutoffs and clamp bounds.
func NewScorer(p Policy) *Scorer {
	p = p.withDefaults()
	return &Scorer{
		highTier: p.HighTier,
		lowTier:  p.LowTier,
		engMin:   p.EngagementMin,
		engMax:   p.EngagementMax,
	}
}

// Score evaluates v against base.
func (s *Scorer) Score(v Video, base ChannelBaseline) (Score, error) {
	if v.Views < 0 || v.Likes < 0 || v.Comments < 0 {
		return Score{}, fmt.Errorf("score video %s: %w", v.ID, ErrInvalidMetrics)
	}

	viewRatio := 1.0
	if base.AvgViews > 0 {
		viewRatio = float64(v.Views) / base.AvgViews
	}

	denom := float64(max(v.Views, 1))
	likeRate := float64(v.Likes) / denom
	commentRate := float64(v.Comments) / denom

	mult := s.Engagement(likeRate, commentRate, base)
	perf := viewRatio * mult

	return Score{
		ViewRatio:            viewRatio,
		LikeRate:             likeRate,
		CommentRate:          commentRate,
		EngagementMultiplier: mult,
		Performance:          perf,
		Tier:                 s.Tier(perf),
	}, nil
}

// Engagement averages the like and comment rates relative to the baseline and
// clamps the result to the configured bounds.
func (s *Scorer) Engagement(likeRate, commentRate float64, base ChannelBaseline) float64 {
	avg := (rateTerm(likeRate, base.AvgLikeRate) + rateTerm(commentRate, base.AvgCommentRate)) / 2
	return clamp(avg, s.engMin, s.engMax)
}

// Tier buckets a performance score.
func (s *Scorer) Tier(perf float64) Tier {
	switch {
	case perf >= s.highTier:
		return TierHigh
	case perf <= s.lowTier:
		return TierLow
	default:
		return TierMedium
	}
}

func rateTerm(rate, baseRate float64) float64 {
	if baseRate == 0 {
		return 1
	}
	t := rate / baseRate
	if math.IsNaN(t) {
		return 1
	}
	return t
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return clamp(1, lo, hi)
	}
	return math.Max(lo, math.Min(hi, x))
}
