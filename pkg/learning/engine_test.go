package learning

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory Repository.
type memRepo struct {
	mu          sync.Mutex
	suggestions []Suggestion
	videos      []Video
	matches     []Match
	insights    []Insight

	loads     atomic.Int32
	gate      chan struct{}
	started   chan struct{}
	videosErr error
	commitErr error
}

func (r *memRepo) LoadUnmatchedSuggestions(ctx context.Context) ([]Suggestion, error) {
	if r.loads.Add(1) == 1 && r.started != nil {
		close(r.started)
	}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Suggestion
	for _, s := range r.suggestions {
		if !s.Matched {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) LoadVideosSince(_ context.Context, since time.Time) ([]Video, error) {
	if r.videosErr != nil {
		return nil, r.videosErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Video
	for _, v := range r.videos {
		if v.PublishedAt.After(since) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *memRepo) LoadChannelHistory(_ context.Context, channelID, excludeVideoID string) ([]Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Video
	for _, v := range r.videos {
		if v.ChannelID == channelID && v.ID != excludeVideoID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *memRepo) LoadAllMatches(context.Context) ([]Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Match(nil), r.matches...), nil
}

func (r *memRepo) LoadExistingInsights(context.Context) ([]Insight, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Insight(nil), r.insights...), nil
}

func (r *memRepo) CommitCycle(_ context.Context, c CycleCommit) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range c.Matches {
		for i := range r.suggestions {
			if r.suggestions[i].ID == m.SuggestionID {
				r.suggestions[i].Matched = true
			}
		}
	}
	r.matches = append(r.matches, c.Matches...)
	r.insights = append(r.insights, c.Insights...)
	return nil
}

// seededRepo holds two channels with history, two strong and two weak
// realized suggestions.
func seededRepo() *memRepo {
	hist := func(id, ch string, ago time.Duration) Video {
		return Video{ID: id, ChannelID: ch, Title: "history " + id, PublishedAt: t0.Add(-ago), Views: 1000, Likes: 40, Comments: 5}
	}
	fresh := func(id, ch, title string, views, likes, comments int64) Video {
		return Video{ID: id, ChannelID: ch, Title: title, PublishedAt: t0.Add(time.Hour), Views: views, Likes: likes, Comments: comments}
	}
	return &memRepo{
		suggestions: []Suggestion{
			sugg("s1", "Budget travel Japan", "c1"),
			sugg("s2", "Budget camping tips", "c2"),
			sugg("s3", "Luxury hotel review", "c1"),
			sugg("s4", "Luxury cruise review", "c2"),
		},
		videos: []Video{
			hist("h1", "c1", 72*time.Hour), hist("h2", "c1", 48*time.Hour),
			hist("h3", "c2", 72*time.Hour), hist("h4", "c2", 48*time.Hour),
			fresh("v1", "c1", "Budget Travel Japan", 3000, 120, 15),
			fresh("v2", "c2", "Budget Camping Tips", 3000, 120, 15),
			fresh("v3", "c1", "Luxury Hotel Review", 300, 12, 1),
			fresh("v4", "c2", "Luxury Cruise Review", 300, 12, 1),
		},
	}
}

type memoryStub struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (m *memoryStub) AppendInsightText(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.lines = append(m.lines, text)
	return nil
}

type publisherStub struct{ got []Insight }

func (p *publisherStub) PublishInsights(_ context.Context, insights []Insight) error {
	p.got = append(p.got, insights...)
	return errors.New("webhook down")
}

func TestRunCycle(t *testing.T) {
	repo := seededRepo()
	mem := &memoryStub{}
	pub := &publisherStub{}
	e := NewEngine(repo, Options{Memory: mem, Publisher: pub})

	sum, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, sum.VideosAnalyzed)
	assert.Equal(t, 4, sum.MatchesCreated)
	assert.Equal(t, 3, sum.InsightsGenerated)
	assert.Empty(t, sum.Skipped)

	tiers := map[string]Tier{}
	for _, m := range repo.matches {
		tiers[m.VideoID] = m.PerformanceTier
		assert.NotEmpty(t, m.ID)
		assert.NotEmpty(t, m.Keywords)
	}
	assert.Equal(t, map[string]Tier{"v1": TierHigh, "v2": TierHigh, "v3": TierLow, "v4": TierLow}, tiers)

	assert.Equal(t, []string{"token:budget:multi", "token:luxury:low", "token:review:low"}, patterns(repo.insights))
	assert.Len(t, mem.lines, 3)
	// a failing publisher is not fatal
	assert.Len(t, pub.got, 3)

	st := e.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Empty(t, st.LastError)
	assert.Same(t, sum, st.Last)
}

func TestRunIsIdempotent(t *testing.T) {
	repo := seededRepo()
	e := NewEngine(repo, Options{})

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.MatchesCreated)
	assert.Equal(t, 0, sum.InsightsGenerated)
	assert.Len(t, repo.matches, 4)
	assert.Len(t, repo.insights, 3)

	seenS, seenV := map[string]bool{}, map[string]bool{}
	for _, m := range repo.matches {
		assert.False(t, seenS[m.SuggestionID], "suggestion matched twice")
		assert.False(t, seenV[m.VideoID], "video matched twice")
		seenS[m.SuggestionID], seenV[m.VideoID] = true, true
	}
}

func TestRunSkipsPairsWithoutHistory(t *testing.T) {
	repo := &memRepo{
		suggestions: []Suggestion{sugg("s1", "Budget travel Japan", "lonely")},
		videos:      []Video{vid("v1", "lonely", "Budget travel Japan", time.Hour)},
	}
	e := NewEngine(repo, Options{})

	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.MatchesCreated)
	require.Len(t, sum.Skipped, 1)
	assert.Equal(t, "v1", sum.Skipped[0].VideoID)

	unmatched, _ := repo.LoadUnmatchedSuggestions(context.Background())
	assert.Len(t, unmatched, 1)
}

func TestRunFailureCommitsNothing(t *testing.T) {
	repo := seededRepo()
	repo.commitErr = errors.New("disk full")
	mem := &memoryStub{}
	e := NewEngine(repo, Options{Memory: mem})

	_, err := e.Run(context.Background())
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "commit", ce.Stage)
	assert.Contains(t, err.Error(), "disk full")

	assert.Empty(t, repo.matches)
	assert.Empty(t, repo.insights)
	assert.Empty(t, mem.lines)

	st := e.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.Contains(t, st.LastError, "disk full")
}

func TestRunLoadFailure(t *testing.T) {
	repo := seededRepo()
	repo.videosErr = errors.New("locked")
	e := NewEngine(repo, Options{})

	_, err := e.Run(context.Background())
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "load videos", ce.Stage)
}

func TestRunMemoryFailureIsNotFatal(t *testing.T) {
	repo := seededRepo()
	e := NewEngine(repo, Options{Memory: &memoryStub{err: errors.New("read-only fs")}})

	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.InsightsGenerated)
	assert.Len(t, repo.insights, 3)
}

func TestConcurrentRunsCoalesce(t *testing.T) {
	repo := seededRepo()
	repo.gate = make(chan struct{})
	repo.started = make(chan struct{})
	e := NewEngine(repo, Options{})

	var wg sync.WaitGroup
	results := make([]*Summary, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = e.Run(context.Background())
	}()
	<-repo.started
	assert.Equal(t, StateRunning, e.Status().State)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = e.Run(context.Background())
	}()
	// let the second caller join the in-flight cycle
	time.Sleep(20 * time.Millisecond)
	close(repo.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Same(t, results[0], results[1])
	assert.Equal(t, int32(1), repo.loads.Load())
	assert.Len(t, repo.matches, 4)
}

func TestRejectWhenBusy(t *testing.T) {
	repo := seededRepo()
	repo.gate = make(chan struct{})
	repo.started = make(chan struct{})
	e := NewEngine(repo, Options{RejectWhenBusy: true})

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background())
		done <- err
	}()
	<-repo.started

	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, ErrCycleRunning)

	close(repo.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateCompleted, e.Status().State)
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string) (func(), error) {
	return nil, ErrCycleRunning
}

func TestLockHeldElsewhere(t *testing.T) {
	repo := seededRepo()
	e := NewEngine(repo, Options{Locker: heldLocker{}})

	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, ErrCycleRunning)
	assert.Equal(t, StateIdle, e.Status().State)
	assert.Equal(t, int32(0), repo.loads.Load())
}

func TestListNewestFirst(t *testing.T) {
	repo := &memRepo{
		matches: []Match{
			{ID: "a", CreatedAt: t0},
			{ID: "b", CreatedAt: t0.Add(time.Hour)},
		},
		insights: []Insight{
			{ID: "i1", Text: "older", CreatedAt: t0},
			{ID: "i2", Text: "newer", CreatedAt: t0.Add(time.Hour)},
		},
	}
	e := NewEngine(repo, Options{})

	ms, err := e.ListMatches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", ms[0].ID)

	ins, err := e.ListInsights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "i2", ins[0].ID)

	text, err := e.PromptContext(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, text, "newer")
	assert.NotContains(t, text, "older")
}

func TestSummaryCarriesSortedSupport(t *testing.T) {
	repo := seededRepo()
	e := NewEngine(repo, Options{})
	sum, err := e.Run(context.Background())
	require.NoError(t, err)
	for _, ins := range sum.Insights {
		assert.True(t, sort.StringsAreSorted(ins.SupportingMatchIDs))
		assert.Len(t, ins.SupportingMatchIDs, 2)
	}
}

func TestRerunAfterCappedCycleIsIdempotent(t *testing.T) {
	topic := "alpine bakery canyon dolphin emerald falcon glacier harbor island jungle"
	hist := func(id, ch string) Video {
		return Video{ID: id, ChannelID: ch, Title: "history " + id, PublishedAt: t0.Add(-48 * time.Hour), Views: 1000, Likes: 40, Comments: 5}
	}
	fresh := func(id, ch string) Video {
		v := vid(id, ch, topic, time.Hour)
		v.Views, v.Likes, v.Comments = 3000, 120, 15
		return v
	}
	repo := &memRepo{
		suggestions: []Suggestion{sugg("s1", topic, "c1"), sugg("s2", topic, "c2")},
		videos: []Video{
			hist("h1", "c1"), hist("h2", "c1"), hist("h3", "c2"), hist("h4", "c2"),
			fresh("v1", "c1"), fresh("v2", "c2"),
		},
	}
	e := NewEngine(repo, Options{})

	first, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.MatchesCreated)
	assert.Equal(t, DefaultPolicy().MaxPerCycle, first.InsightsGenerated)

	second, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.MatchesCreated)
	assert.Equal(t, 0, second.InsightsGenerated)
	assert.Len(t, repo.insights, DefaultPolicy().MaxPerCycle)
}

func TestWaitingCallerSurvivesLeaderCancel(t *testing.T) {
	repo := seededRepo()
	repo.gate = make(chan struct{})
	repo.started = make(chan struct{})
	e := NewEngine(repo, Options{})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := e.Run(leaderCtx)
		leaderErr <- err
	}()
	<-repo.started

	type result struct {
		sum *Summary
		err error
	}
	follower := make(chan result, 1)
	go func() {
		sum, err := e.Run(context.Background())
		follower <- result{sum, err}
	}()
	// let the follower join the in-flight cycle
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(repo.gate)
	res := <-follower
	require.NoError(t, res.err)
	assert.Equal(t, 4, res.sum.MatchesCreated)
	assert.Equal(t, StateCompleted, e.Status().State)
	assert.Equal(t, int32(1), repo.loads.Load())
}
