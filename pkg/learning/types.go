package learning

import (
	"context"
	"time"
)

// Appeal is the agent's estimate of how well a suggestion will do.
type Appeal string

const (
	AppealHigh   Appeal = "high"
	AppealMedium Appeal = "medium"
	AppealLow    Appeal = "low"
)

// Tier buckets a performance score relative to the channel baseline.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Suggestion is a video topic proposed by the agent.
type Suggestion struct {
	ID                string    `json:"id"`
	BatchID           string    `json:"batch_id"`
	Topic             string    `json:"topic"`
	Rationale         string    `json:"rationale"`
	Keywords          []string  `json:"keywords"`
	ReferenceChannels []string  `json:"reference_channels"`
	OriginChannel     string    `json:"origin_channel,omitempty"`
	EstimatedAppeal   Appeal    `json:"estimated_appeal,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	Matched           bool      `json:"matched"`
}

// Video is a metrics snapshot of a published video.
type Video struct {
	ID           string    `json:"id"`
	ChannelID    string    `json:"channel_id"`
	ChannelTitle string    `json:"channel_title,omitempty"`
	Title        string    `json:"title"`
	PublishedAt  time.Time `json:"published_at"`
	Views        int64     `json:"views"`
	Likes        int64     `json:"likes"`
	Comments     int64     `json:"comments"`
	Captions     string    `json:"captions,omitempty"`
	CollectedAt  time.Time `json:"collected_at"`
}

// ChannelBaseline is the expected performance envelope of a channel.
type ChannelBaseline struct {
	ChannelID      string  `json:"channel_id"`
	AvgViews       float64 `json:"avg_views"`
	AvgLikeRate    float64 `json:"avg_like_rate"`
	AvgCommentRate float64 `json:"avg_comment_rate"`
	SampleSize     int     `json:"sample_size"`
	Fallback       bool    `json:"fallback"`
}

// Match pairs a suggestion with the video that realized it.
// ChannelID, VideoTitle, Keywords, Views, Comments and AvgViews are evidence copied at
// match time so insight generation needs nothing but the match set.
type Match struct {
	ID               string    `json:"id"`
	SuggestionID     string    `json:"suggestion_id"`
	VideoID          string    `json:"video_id"`
	ChannelID        string    `json:"channel_id"`
	VideoTitle       string    `json:"video_title"`
	Keywords         []string  `json:"keywords"`
	SimilarityScore  float64   `json:"similarity_score"`
	Views            int64     `json:"views"`
	Comments         int64     `json:"comments"`
	AvgViews         float64   `json:"avg_views"`
	PerformanceScore float64   `json:"performance_score"`
	PerformanceTier  Tier      `json:"performance_tier"`
	CreatedAt        time.Time `json:"created_at"`
}

// Insight is a durable rule synthesized from scored matches.
type Insight struct {
	ID                 string    `json:"id"`
	Pattern            string    `json:"pattern"`
	Text               string    `json:"insight_text"`
	SupportingMatchIDs []string  `json:"supporting_match_ids"`
	CreatedAt          time.Time `json:"created_at"`
}

// CycleCommit is everything a learning cycle writes, applied atomically.
type CycleCommit struct {
	Matches  []Match
	Insights []Insight
}

// Repository is the persistence the learning cycle reads from and commits to.
type Repository interface {
	LoadUnmatchedSuggestions(ctx context.Context) ([]Suggestion, error)
	LoadVideosSince(ctx context.Context, since time.Time) ([]Video, error)
	LoadChannelHistory(ctx context.Context, channelID, excludeVideoID string) ([]Video, error)
	LoadAllMatches(ctx context.Context) ([]Match, error)
	LoadExistingInsights(ctx context.Context) ([]Insight, error)
	CommitCycle(ctx context.Context, c CycleCommit) error
}

// MemoryLog receives one line per new insight.
type MemoryLog interface {
	AppendInsightText(ctx context.Context, text string) error
}

// InsightPublisher is notified of new insights after they are committed.
type InsightPublisher interface {
	PublishInsights(ctx context.Context, insights []Insight) error
}

// Locker provides exclusion across processes sharing one store.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
