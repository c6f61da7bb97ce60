package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/elonfeng/tubeloop/internal/logger"
	"github.com/elonfeng/tubeloop/pkg/learning"
	"github.com/elonfeng/tubeloop/pkg/source"
)

// Learner runs one learning cycle.
type Learner interface {
	Run(ctx context.Context) (*learning.Summary, error)
}

// Scheduler runs periodic video collection and learning cycles.
type Scheduler struct {
	sink       source.Sink
	collectors []source.Collector
	learner    Learner
	collectInt time.Duration
	learnInt   time.Duration
	log        *logger.Logger
}

// New creates a new scheduler.
func New(
	sink source.Sink,
	collectors []source.Collector,
	learner Learner,
	collectInt, learnInt time.Duration,
	log *logger.Logger,
) *Scheduler {
	if collectInt == 0 {
		collectInt = 30 * time.Minute
	}
	if learnInt == 0 {
		learnInt = time.Hour
	}
	return &Scheduler{
		sink:       sink,
		collectors: collectors,
		learner:    learner,
		collectInt: collectInt,
		learnInt:   learnInt,
		log:        logger.OrNop(log).With("component", "scheduler"),
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	collectTicker := time.NewTicker(s.collectInt)
	learnTicker := time.NewTicker(s.learnInt)
	defer collectTicker.Stop()
	defer learnTicker.Stop()

	// Run immediately on start.
	s.collect(ctx)
	s.learn(ctx)

	s.log.Info("scheduler running", "collect_every", s.collectInt.String(), "learn_every", s.learnInt.String())

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-collectTicker.C:
			s.collect(ctx)
		case <-learnTicker.C:
			s.learn(ctx)
		}
	}
}

func (s *Scheduler) collect(ctx context.Context) {
	if len(s.collectors) == 0 {
		return
	}
	res := source.CollectAll(ctx, s.collectors, s.sink)
	for _, e := range res.Errors {
		s.log.Warn("collector failed", "error", e)
	}
	s.log.Info("collection done", "videos", res.Total())
}

func (s *Scheduler) learn(ctx context.Context) {
	sum, err := s.learner.Run(ctx)
	switch {
	case errors.Is(err, learning.ErrCycleRunning):
		s.log.Info("learning cycle skipped, another is running")
	case err != nil:
		s.log.Error("learning cycle failed", "error", err)
	default:
		s.log.Info("learning cycle done",
			"matches", sum.MatchesCreated,
			"insights", sum.InsightsGenerated,
			"videos", sum.VideosAnalyzed)
	}
}
