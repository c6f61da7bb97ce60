package learning

import (
	"errors"
	"fmt"
)

// ErrNoChannelHistory means a channel has no other videos to baseline against.
var ErrNoChannelHistory = errors.New("no channel history")

// BaselineCalculator derives a channel's expected performance.
type BaselineCalculator struct {
	minHistory int
	defaults   ChannelBaseline
}

// NewBaselineCalculator creates a calculator using the policy's fallbacks.
func NewBaselineCalculator(p Policy) *BaselineCalculator {
	p = p.withDefaults()
	return &BaselineCalculator{
		minHistory: p.MinHistory,
		defaults: ChannelBaseline{
			AvgViews:       p.DefaultAvgViews,
			AvgLikeRate:    p.DefaultLikeRate,
			AvgCommentRate: p.DefaultCommentRate,
		},
	}
}

// Compute returns the baseline of channelID over history, ignoring the video
// identified by excludeVideoID. Histories shorter than the policy minimum
// yield the configured defaults; an empty history is ErrNoChannelHistory.
func (b *BaselineCalculator) Compute(channelID, excludeVideoID string, history []Video) (ChannelBaseline, error) {
	var views, likeRate, commentRate float64
	n, rated := 0, 0
	for _, v := range history {
		if v.ID == excludeVideoID {
			continue
		}
		if v.Views < 0 || v.Likes < 0 || v.Comments < 0 {
			continue
		}
		n++
		views += float64(v.Views)
		if v.Views > 0 {
			rated++
			likeRate += float64(v.Likes) / float64(v.Views)
			commentRate += float64(v.Comments) / float64(v.Views)
		}
	}

	if n == 0 {
		return ChannelBaseline{}, fmt.Errorf("baseline %s: %w", channelID, ErrNoChannelHistory)
	}
	if n < b.minHistory {
		out := b.defaults
		out.ChannelID = channelID
		out.SampleSize = n
		out.Fallback = true
		return out, nil
	}

	out := ChannelBaseline{
		ChannelID:  channelID,
		AvgViews:   views / float64(n),
		SampleSize: n,
	}
	if rated > 0 {
		out.AvgLikeRate = likeRate / float64(rated)
		out.AvgCommentRate = commentRate / float64(rated)
	}
	return out, nil
}
