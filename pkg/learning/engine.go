package learning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/elonfeng/tubeloop/internal/logger"
)

// CycleKey names the learning cycle for locking purposes.
const CycleKey = "learning-cycle"

// ErrCycleRunning is returned when a cycle is already in flight and the
// engine is configured to reject rather than wait.
var ErrCycleRunning = errors.New("learning cycle already running")

// State is the lifecycle state of the engine's most recent cycle.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// CycleError is a cycle-level failure. Nothing was committed.
type CycleError struct {
	Stage string
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("learning cycle failed (%s): %v", e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

// PairError records a suggestion/video pair that was skipped.
type PairError struct {
	SuggestionID string `json:"suggestion_id"`
	VideoID      string `json:"video_id"`
	Reason       string `json:"reason"`
}

// Summary describes one completed cycle.
type Summary struct {
	VideosAnalyzed    int         `json:"videos_analyzed"`
	InsightsGenerated int         `json:"insights_generated"`
	MatchesCreated    int         `json:"matches_created"`
	Skipped           []PairError `json:"skipped,omitempty"`
	Insights          []Insight   `json:"insights,omitempty"`
	StartedAt         time.Time   `json:"started_at"`
	FinishedAt        time.Time   `json:"finished_at"`
}

// Status is a snapshot of the engine state.
type Status struct {
	State     State     `json:"state"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Last      *Summary  `json:"last_summary,omitempty"`
}

// Options configures an Engine. Memory, Publisher and Locker are optional.
type Options struct {
	Policy         Policy
	Workers        int
	RejectWhenBusy bool
	Memory         MemoryLog
	Publisher      InsightPublisher
	Locker         Locker
	Logger         *logger.Logger
}

// Engine runs learning cycles against a Repository.
type Engine struct {
	repo      Repository
	matcher   *Matcher
	baseline  *BaselineCalculator
	scorer    *Scorer
	generator *InsightGenerator

	workers    int
	rejectBusy bool
	memory     MemoryLog
	publisher  InsightPublisher
	locker     Locker
	log        *logger.Logger

	flight singleflight.Group

	mu      sync.Mutex
	state   State
	last    *Summary
	lastErr error
	lastRun time.Time

	now   func() time.Time
	newID func() string
}

// NewEngine creates a learning engine.
func NewEngine(repo Repository, opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		repo:       repo,
		matcher:    NewMatcher(opts.Policy, workers),
		baseline:   NewBaselineCalculator(opts.Policy),
		scorer:     NewScorer(opts.Policy),
		generator:  NewInsightGenerator(opts.Policy),
		workers:    workers,
		rejectBusy: opts.RejectWhenBusy,
		memory:     opts.Memory,
		publisher:  opts.Publisher,
		locker:     opts.Locker,
		log:        logger.OrNop(opts.Logger).With("component", "learning"),
		state:      StateIdle,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// Run executes one learning cycle. Concurrent callers either share the
// in-flight cycle's result or receive ErrCycleRunning, depending on options.
// A shared cycle is detached from the caller that started it; cancelling ctx
// only stops this caller's wait.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	if e.rejectBusy {
		if !e.begin() {
			return nil, ErrCycleRunning
		}
		return e.cycle(ctx)
	}

	shared := context.WithoutCancel(ctx)
	ch := e.flight.DoChan(CycleKey, func() (any, error) {
		if !e.begin() {
			return nil, ErrCycleRunning
		}
		return e.cycle(shared)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Summary), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status reports the engine's state and last outcome.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{State: e.state, LastRunAt: e.lastRun, Last: e.last}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

// ListInsights returns all insights, newest first.
func (e *Engine) ListInsights(ctx context.Context) ([]Insight, error) {
	insights, err := e.repo.LoadExistingInsights(ctx)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	sort.SliceStable(insights, func(i, j int) bool {
		return insights[i].CreatedAt.After(insights[j].CreatedAt)
	})
	return insights, nil
}

// ListMatches returns all matches, newest first.
func (e *Engine) ListMatches(ctx context.Context) ([]Match, error) {
	matches, err := e.repo.LoadAllMatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return matches, nil
}

// PromptContext renders the newest insights for the suggestion prompt.
func (e *Engine) PromptContext(ctx context.Context, limit int) (string, error) {
	insights, err := e.ListInsights(ctx)
	if err != nil {
		return "", err
	}
	return PromptContext(insights, limit), nil
}

func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning {
		return false
	}
	e.state = StateRunning
	return true
}

func (e *Engine) finish(s *Summary, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	// Another process holds the cycle; this one never started.
	if errors.Is(err, ErrCycleRunning) {
		e.state = StateIdle
		return
	}
	e.lastRun = e.now()
	e.lastErr = err
	if err != nil {
		e.state = StateFailed
		return
	}
	e.state = StateCompleted
	e.last = s
}

func (e *Engine) cycle(ctx context.Context) (s *Summary, err error) {
	defer func() { e.finish(s, err) }()

	if e.locker != nil {
		release, lerr := e.locker.Acquire(ctx, CycleKey)
		if lerr != nil {
			if errors.Is(lerr, ErrCycleRunning) {
				return nil, lerr
			}
			return nil, &CycleError{Stage: "lock", Err: lerr}
		}
		defer release()
	}

	return e.execute(ctx)
}

func (e *Engine) execute(ctx context.Context) (*Summary, error) {
	summary := &Summary{StartedAt: e.now()}
	e.log.Info("learning cycle start")

	suggestions, err := e.repo.LoadUnmatchedSuggestions(ctx)
	if err != nil {
		return nil, e.fail("load suggestions", err)
	}

	var videos []Video
	if since, ok := earliest(suggestions); ok {
		videos, err = e.repo.LoadVideosSince(ctx, since)
		if err != nil {
			return nil, e.fail("load videos", err)
		}
	}
	summary.VideosAnalyzed = len(videos)

	existing, err := e.repo.LoadAllMatches(ctx)
	if err != nil {
		return nil, e.fail("load matches", err)
	}
	known, err := e.repo.LoadExistingInsights(ctx)
	if err != nil {
		return nil, e.fail("load insights", err)
	}

	pairs, err := e.matcher.Match(ctx, suggestions, videos, existing)
	if err != nil {
		return nil, e.fail("match", err)
	}

	matches, skipped, err := e.scorePairs(ctx, pairs)
	if err != nil {
		return nil, e.fail("score", err)
	}
	summary.Skipped = skipped

	all := make([]Match, 0, len(existing)+len(matches))
	all = append(all, existing...)
	all = append(all, matches...)
	insights := e.generator.Generate(all, known)

	if len(matches) > 0 || len(insights) > 0 {
		if err := e.repo.CommitCycle(ctx, CycleCommit{Matches: matches, Insights: insights}); err != nil {
			return nil, e.fail("commit", err)
		}
	}

	e.forward(ctx, insights)

	summary.MatchesCreated = len(matches)
	summary.InsightsGenerated = len(insights)
	summary.Insights = insights
	summary.FinishedAt = e.now()

	e.log.Info("learning cycle done",
		"videos_analyzed", summary.VideosAnalyzed,
		"matches_created", summary.MatchesCreated,
		"insights_generated", summary.InsightsGenerated,
		"skipped", len(skipped),
	)
	return summary, nil
}

// scorePairs baselines and scores every pair in parallel. Store errors abort;
// data problems skip the pair.
func (e *Engine) scorePairs(ctx context.Context, pairs []Pair) ([]Match, []PairError, error) {
	results := make([]*Match, len(pairs))
	skips := make([]*PairError, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range pairs {
		p := pairs[i]
		g.Go(func() error {
			history, err := e.repo.LoadChannelHistory(gctx, p.Video.ChannelID, p.Video.ID)
			if err != nil {
				return fmt.Errorf("load channel history %s: %w", p.Video.ChannelID, err)
			}
			m, err := e.scorePair(p, history)
			if err != nil {
				skips[i] = &PairError{SuggestionID: p.Suggestion.ID, VideoID: p.Video.ID, Reason: err.Error()}
				e.log.Warn("pair skipped",
					"suggestion_id", p.Suggestion.ID, "video_id", p.Video.ID, "error", err)
				return nil
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var matches []Match
	var skipped []PairError
	for i := range pairs {
		if results[i] != nil {
			matches = append(matches, *results[i])
		}
		if skips[i] != nil {
			skipped = append(skipped, *skips[i])
		}
	}
	return matches, skipped, nil
}

func (e *Engine) scorePair(p Pair, history []Video) (*Match, error) {
	base, err := e.baseline.Compute(p.Video.ChannelID, p.Video.ID, history)
	if err != nil {
		return nil, err
	}
	sc, err := e.scorer.Score(p.Video, base)
	if err != nil {
		return nil, err
	}
	keywords := p.Suggestion.Keywords
	if len(keywords) == 0 {
		keywords = Keywords(p.Suggestion.Topic + " " + p.Suggestion.Rationale)
	}
	return &Match{
		ID:               e.newID(),
		SuggestionID:     p.Suggestion.ID,
		VideoID:          p.Video.ID,
		ChannelID:        p.Video.ChannelID,
		VideoTitle:       p.Video.Title,
		Keywords:         keywords,
		SimilarityScore:  p.Similarity,
		Views:            p.Video.Views,
		Comments:         p.Video.Comments,
		AvgViews:         base.AvgViews,
		PerformanceScore: sc.Performance,
		PerformanceTier:  sc.Tier,
		CreatedAt:        e.now(),
	}, nil
}

// forward hands committed insights to the memory log and publisher. Failures
// here are degraded mode, never fatal.
func (e *Engine) forward(ctx context.Context, insights []Insight) {
	if len(insights) == 0 {
		return
	}
	if e.memory != nil {
		for _, ins := range insights {
			if err := e.memory.AppendInsightText(ctx, ins.Text); err != nil {
				e.log.Warn("memory log append failed", "insight_id", ins.ID, "error", err)
			}
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishInsights(ctx, insights); err != nil {
			e.log.Warn("insight notification failed", "count", len(insights), "error", err)
		}
	}
}

func (e *Engine) fail(stage string, err error) error {
	e.log.Error("learning cycle failed", "stage", stage, "error", err)
	return &CycleError{Stage: stage, Err: err}
}

func earliest(suggestions []Suggestion) (time.Time, bool) {
	var first time.Time
	for _, s := range suggestions {
		if first.IsZero() || s.CreatedAt.Before(first) {
			first = s.CreatedAt
		}
	}
	return first, !first.IsZero()
}
