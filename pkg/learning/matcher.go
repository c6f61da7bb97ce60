package learning

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Pair is a confirmed suggestion/video pairing awaiting a score.
type Pair struct {
	Suggestion Suggestion
	Video      Video
	Similarity float64
}

// Matcher pairs suggestions with the videos that were published after them.
type Matcher struct {
	threshold float64
	boost     float64
	workers   int
}

// NewMatcher creates a matcher using the policy's threshold and boost.
func NewMatcher(p Policy, workers int) *Matcher {
	p = p.withDefaults()
	if workers <= 0 {
		workers = 4
	}
	return &Matcher{threshold: p.MatchThreshold, boost: p.SubstringBoost, workers: workers}
}

type preparedText struct {
	tokens     TokenSet
	normalized string
}

func prepare(text string) preparedText {
	return preparedText{tokens: Tokenize(text), normalized: Normalize(text)}
}

// Similarity scores a topic against a title in [0, 1]. It is symmetric.
func (m *Matcher) Similarity(topic, title string) float64 {
	return m.similarity(prepare(topic), prepare(title))
}

func (m *Matcher) similarity(a, b preparedText) float64 {
	sim := Jaccard(a.tokens, b.tokens)
	if containsPhrase(b.normalized, a.normalized) || containsPhrase(a.normalized, b.normalized) {
		if sim < m.boost {
			sim = m.boost
		}
	}
	return sim
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
func containsPhrase(text, phrase string) bool {
	if text == "" || phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

// Match returns new 1:1 pairs above the threshold. Suggestions and videos that
// already appear in existing are never paired again.
func (m *Matcher) Match(ctx context.Context, suggestions []Suggestion, videos []Video, existing []Match) ([]Pair, error) {
	usedSugg := make(map[string]bool, len(existing))
	usedVideo := make(map[string]bool, len(existing))
	for _, em := range existing {
		usedSugg[em.SuggestionID] = true
		usedVideo[em.VideoID] = true
	}

	titles := make([]preparedText, len(videos))
	for i, v := range videos {
		titles[i] = prepare(v.Title)
	}

	perSugg := make([][]Pair, len(suggestions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i := range suggestions {
		s := suggestions[i]
		if usedSugg[s.ID] || s.Matched {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			topic := prepare(s.Topic)
			channels := channelRefs(s)
			var found []Pair
			for j, v := range videos {
				if usedVideo[v.ID] || !v.PublishedAt.After(s.CreatedAt) {
					continue
				}
				if !channels.contains(v) {
					continue
				}
				sim := m.similarity(topic, titles[j])
				if sim < m.threshold {
					continue
				}
				found = append(found, Pair{Suggestion: s, Video: v, Similarity: sim})
			}
			perSugg[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var candidates []Pair
	for _, ps := range perSugg {
		candidates = append(candidates, ps...)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Suggestion.ID != b.Suggestion.ID {
			return a.Suggestion.ID < b.Suggestion.ID
		}
		return a.Video.ID < b.Video.ID
	})

	var pairs []Pair
	for _, c := range candidates {
		if usedSugg[c.Suggestion.ID] || usedVideo[c.Video.ID] {
			continue
		}
		usedSugg[c.Suggestion.ID] = true
		usedVideo[c.Video.ID] = true
		pairs = append(pairs, c)
	}
	return pairs, nil
}

type channelSet map[string]struct{}

func channelKey(ref string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ref), "@"))
}

// channelRefs collects the reference channels and origin channel of s.
func channelRefs(s Suggestion) channelSet {
	set := make(channelSet, len(s.ReferenceChannels)+1)
	for _, ref := range append([]string{s.OriginChannel}, s.ReferenceChannels...) {
		if k := channelKey(ref); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// contains accepts either the channel id or the channel title of v.
func (c channelSet) contains(v Video) bool {
	if _, ok := c[channelKey(v.ChannelID)]; ok && v.ChannelID != "" {
		return true
	}
	if v.ChannelTitle == "" {
		return false
	}
	_, ok := c[channelKey(v.ChannelTitle)]
	return ok
}
