package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/tubeloop/pkg/learning"
)

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertVideos(ctx, []learning.Video{
		{ID: "v1", ChannelID: "c1", Title: "Old one", PublishedAt: base.Add(-48 * time.Hour), Views: 100},
		{ID: "v2", ChannelID: "c1", Title: "Old two", PublishedAt: base.Add(-24 * time.Hour), Views: 200},
		{ID: "v3", ChannelID: "c1", ChannelTitle: "Chan One", Title: "Budget travel", PublishedAt: base.Add(24 * time.Hour), Views: 300, Likes: 10, Comments: 2},
		{ID: "v4", ChannelID: "c2", Title: "Other", PublishedAt: base.Add(48 * time.Hour), Views: 400},
	}))
	n, err := s.SaveSuggestions(ctx, []learning.Suggestion{
		{ID: "s1", BatchID: "b1", Topic: "Budget travel", Keywords: []string{"budget", "travel"}, ReferenceChannels: []string{"c1"}, CreatedAt: base},
		{ID: "s2", BatchID: "b1", Topic: "Luxury travel", CreatedAt: base.Add(time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestSuggestionsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	n, err := s.SaveSuggestions(ctx, []learning.Suggestion{{ID: "s1", Topic: "dup", CreatedAt: base}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := s.LoadUnmatchedSuggestions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, "Budget travel", got[0].Topic)
	assert.Equal(t, []string{"budget", "travel"}, got[0].Keywords)
	assert.Equal(t, []string{"c1"}, got[0].ReferenceChannels)
	assert.Equal(t, learning.AppealMedium, got[0].EstimatedAppeal)
	assert.True(t, base.Equal(got[0].CreatedAt))
}

func TestVideoQueries(t *testing.T) {
	s := newTestStore(t, WithHistoryLimit(1))
	seed(t, s)
	ctx := context.Background()

	since, err := s.LoadVideosSince(ctx, base)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "v3", since[0].ID)
	assert.Equal(t, "Chan One", since[0].ChannelTitle)
	assert.Equal(t, int64(10), since[0].Likes)

	hist, err := s.LoadChannelHistory(ctx, "c1", "v3")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "v2", hist[0].ID)

	listed, err := s.ListVideos(ctx, VideoListOpts{ChannelID: "c2"})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	// upsert refreshes metrics, keeps channel title when the update has none
	require.NoError(t, s.UpsertVideos(ctx, []learning.Video{
		{ID: "v3", ChannelID: "c1", Title: "Budget travel", PublishedAt: base.Add(24 * time.Hour), Views: 999},
	}))
	listed, err = s.ListVideos(ctx, VideoListOpts{ChannelID: "c1", Since: base})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, int64(999), listed[0].Views)
	assert.Equal(t, "Chan One", listed[0].ChannelTitle)
}

func TestCommitCycle(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	m := learning.Match{
		ID: "m1", SuggestionID: "s1", VideoID: "v3", ChannelID: "c1", VideoTitle: "Budget travel",
		Keywords: []string{"budget", "travel"}, SimilarityScore: 1, Views: 300, Comments: 2, AvgViews: 150,
		PerformanceScore: 2, PerformanceTier: learning.TierHigh, CreatedAt: base.Add(48 * time.Hour),
	}
	ins := learning.Insight{
		ID: "i1", Pattern: "token:budget:multi", Text: "budget works",
		SupportingMatchIDs: []string{"m1"}, CreatedAt: base.Add(48 * time.Hour),
	}
	require.NoError(t, s.CommitCycle(ctx, learning.CycleCommit{Matches: []learning.Match{m}, Insights: []learning.Insight{ins}}))

	unmatched, err := s.LoadUnmatchedSuggestions(ctx)
	require.NoError(t, err)
	require.Len(t, unmatched, 1)
	assert.Equal(t, "s2", unmatched[0].ID)

	matches, err := s.LoadAllMatches(ctx)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, learning.TierHigh, matches[0].PerformanceTier)
	assert.Equal(t, []string{"budget", "travel"}, matches[0].Keywords)
	assert.Equal(t, int64(2), matches[0].Comments)

	insights, err := s.LoadExistingInsights(ctx)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, []string{"m1"}, insights[0].SupportingMatchIDs)

	listed, err := s.ListSuggestions(ctx, SuggestionListOpts{UnmatchedOnly: true})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestCommitCycleRollsBackOnConflict(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)
	ctx := context.Background()

	first := learning.Match{ID: "m1", SuggestionID: "s1", VideoID: "v3", ChannelID: "c1", PerformanceTier: learning.TierHigh, CreatedAt: base}
	require.NoError(t, s.CommitCycle(ctx, learning.CycleCommit{Matches: []learning.Match{first}}))

	// s2 is fine but v3 is already matched, so the whole commit must fail
	err := s.CommitCycle(ctx, learning.CycleCommit{
		Matches: []learning.Match{
			{ID: "m2", SuggestionID: "s2", VideoID: "v3", ChannelID: "c1", PerformanceTier: learning.TierLow, CreatedAt: base},
		},
		Insights: []learning.Insight{{ID: "i1", Pattern: "p", Text: "t", CreatedAt: base}},
	})
	require.Error(t, err)

	unmatched, err := s.LoadUnmatchedSuggestions(ctx)
	require.NoError(t, err)
	require.Len(t, unmatched, 1)
	assert.Equal(t, "s2", unmatched[0].ID)

	insights, err := s.LoadExistingInsights(ctx)
	require.NoError(t, err)
	assert.Empty(t, insights)
}
