package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/elonfeng/tubeloop/pkg/learning"
)

// Kind identifies which collector a video snapshot came from.
type Kind string

const (
	KindYouTube Kind = "youtube"
	KindFeed    Kind = "feed"
)

// Collector is the interface every video collector must implement.
type Collector interface {
	Name() Kind
	Collect(ctx context.Context) ([]learning.Video, error)
}

// AllKinds returns all known collector kinds.
func AllKinds() []Kind {
	return []Kind{KindYouTube, KindFeed}
}

// channelIDs trims and drops empty entries.
func channelIDs(in []string) []string {
	var out []string
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Sink receives collected videos.
type Sink interface {
	UpsertVideos(ctx context.Context, videos []learning.Video) error
}

// Result reports one collection pass.
type Result struct {
	Collected map[Kind]int `json:"collected"`
	Errors    []string     `json:"errors,omitempty"`
}

// Total returns the number of videos stored across collectors.
func (r Result) Total() int {
	n := 0
	for _, c := range r.Collected {
		n += c
	}
	return n
}

// CollectAll runs every collector and stores what it returns. A failing
// collector is reported and skipped.
func CollectAll(ctx context.Context, collectors []Collector, sink Sink) Result {
	res := Result{Collected: make(map[Kind]int)}
	for _, c := range collectors {
		videos, err := c.Collect(ctx)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", c.Name(), err))
			continue
		}
		if err := sink.UpsertVideos(ctx, videos); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s store: %v", c.Name(), err))
			continue
		}
		res.Collected[c.Name()] += len(videos)
	}
	return res
}
