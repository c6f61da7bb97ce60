package learning

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// framings are title styles whose performance is tracked alongside keywords.
var framings = []struct {
	name string
	re   *regexp.Regexp
}{
	{"curiosity hook", regexp.MustCompile(`(?i)^(why|how|what if|the truth about|the problem with|the real reason)`)},
	{"superlative", regexp.MustCompile(`(?i)\b(most|best|worst|biggest|smallest|fastest|deadliest|greatest)\b`)},
	{"listicle", regexp.MustCompile(`^\d+\s`)},
	{"versus", regexp.MustCompile(`(?i)\bvs\.?(\s|$)|\bversus\b`)},
	{"negative hook", regexp.MustCompile(`(?i)\b(mistakes?|wrong|fail|never|dont|stop|worst|dead|killed|dangerous|problem)\b`)},
	{"mystery", regexp.MustCompile(`(?i)\b(mystery|secret|hidden|unknown|unexplained|impossible)\b`)},
	{"personal story", regexp.MustCompile(`(?i)^i\s|\bi (built|made|tried|tested|spent|bought)\b`)},
	{"challenge", regexp.MustCompile(`(?i)\b(challenge|experiment|test|tried|attempt)\b`)},
	{"emotional", regexp.MustCompile(`(?i)\b(shocking|incredible|insane|amazing|beautiful|terrifying)\b`)},
	{"educational", regexp.MustCompile(`(?i)\b(explained|explanation|guide|tutorial|introduction|intro)\b`)},
}

// DetectFramings returns the framing styles a title uses.
func DetectFramings(title string) []string {
	var out []string
	for _, f := range framings {
		if f.re.MatchString(title) {
			out = append(out, f.name)
		}
	}
	return out
}

type signalKind int

// Declaration order is render priority.
const (
	signalMultiChannel signalKind = iota
	signalFramingHigh
	signalSingleChannel
	signalFramingEngaged
	signalTokenGap
	signalTokenLow
	signalFramingLow
)

type signal struct {
	kind    signalKind
	subject string
	channel string
	margin  float64
	support []string
}

func (s signal) pattern() string {
	switch s.kind {
	case signalMultiChannel:
		return "token:" + s.subject + ":multi"
	case signalSingleChannel:
		return "token:" + s.subject + ":channel:" + s.channel
	case signalTokenLow:
		return "token:" + s.subject + ":low"
	case signalTokenGap:
		return "token:" + s.subject + ":gap"
	case signalFramingHigh:
		return "framing:" + strings.ReplaceAll(s.subject, " ", "_") + ":high"
	case signalFramingEngaged:
		return "framing:" + strings.ReplaceAll(s.subject, " ", "_") + ":discussion"
	default:
		return "framing:" + strings.ReplaceAll(s.subject, " ", "_") + ":low"
	}
}

func (s signal) text() string {
	switch s.kind {
	case signalMultiChannel:
		return fmt.Sprintf("Topics referencing '%s' outperform their channel baselines across multiple channels; prefer this framing.", s.subject)
	case signalSingleChannel:
		return fmt.Sprintf("Topics referencing '%s' outperform the baseline of channel %s; prefer this framing for that channel.", s.subject, s.channel)
	case signalTokenLow:
		return fmt.Sprintf("Topics referencing '%s' underperform their channel baselines; avoid or reframe this angle.", s.subject)
	case signalTokenGap:
		return fmt.Sprintf("Topics referencing '%s' are rarely covered but performed well when they were; this may be a content gap worth pursuing.", s.subject)
	case signalFramingHigh:
		return fmt.Sprintf("Titles using the %s framing outperform their channel baselines; prefer this style.", s.subject)
	case signalFramingEngaged:
		return fmt.Sprintf("Titles using the %s framing draw high comment engagement; this style sparks discussion.", s.subject)
	default:
		return fmt.Sprintf("Titles using the %s framing underperform their channel baselines; avoid or reframe this style.", s.subject)
	}
}

// InsightGenerator turns scored matches into textual rules.
type InsightGenerator struct {
	minSupport  int
	margin      float64
	maxPerCycle int
	minChannels int
	framings    bool

	engagement  bool
	engagedRate float64
	gaps        bool
	gapMin      int
	gapMax      int

	now   func() time.Time
	newID func() string
}

// NewInsightGenerator creates a generator using the policy's thresholds.
func NewInsightGenerator(p Policy) *InsightGenerator {
	framingsOn, engagementOn, gapsOn := p.EnableFramings, p.EnableEngagement, p.EnableContentGaps
	p = p.withDefaults()
	return &InsightGenerator{
		minSupport:  p.MinSupport,
		margin:      p.Margin,
		maxPerCycle: p.MaxPerCycle,
		minChannels: p.MinChannels,
		framings:    framingsOn,
		engagement:  engagementOn,
		engagedRate: p.EngagedCommentRate,
		gaps:        gapsOn,
		gapMin:      p.GapMinMatches,
		gapMax:      p.GapMaxMentions,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// tally counts, per feature, the matches of one tier that carry it.
type tally struct {
	total    int
	support  map[string][]string
	channels map[string]map[string]struct{}
}

func newTally() *tally {
	return &tally{
		support:  make(map[string][]string),
		channels: make(map[string]map[string]struct{}),
	}
}

func (t *tally) add(feature, matchID, channelID string) {
	t.support[feature] = append(t.support[feature], matchID)
	chs, ok := t.channels[feature]
	if !ok {
		chs = make(map[string]struct{})
		t.channels[feature] = chs
	}
	chs[channelID] = struct{}{}
}

func (t *tally) freq(feature string) float64 {
	if t.total == 0 {
		return 0
	}
	return float64(len(t.support[feature])) / float64(t.total)
}

// Generate returns the insights implied by matches that are not already
// present in existing. The top signals of the match set are chosen before
// existing insights are removed, so an unchanged match set yields nothing
// new. The output is a deterministic function of its inputs apart from ids
// and timestamps.
func (g *InsightGenerator) Generate(matches []Match, existing []Insight) []Insight {
	highTok, lowTok := newTally(), newTally()
	highFrame, lowFrame := newTally(), newTally()
	engaged := newTally()
	mentions := make(map[string]int)

	sorted := make([]Match, len(matches))
	copy(sorted, matches)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, m := range sorted {
		tokens := matchTokens(m)
		for _, tok := range tokens {
			mentions[tok]++
		}
		if g.engagement && m.Views > 0 && float64(m.Comments)/float64(m.Views) > g.engagedRate {
			engaged.total++
			for _, f := range DetectFramings(m.VideoTitle) {
				engaged.add(f, m.ID, m.ChannelID)
			}
		}

		var tokT, frameT *tally
		switch m.PerformanceTier {
		case TierHigh:
			tokT, frameT = highTok, highFrame
		case TierLow:
			tokT, frameT = lowTok, lowFrame
		default:
			continue
		}
		tokT.total++
		frameT.total++
		for _, tok := range tokens {
			tokT.add(tok, m.ID, m.ChannelID)
		}
		if g.framings {
			for _, f := range DetectFramings(m.VideoTitle) {
				frameT.add(f, m.ID, m.ChannelID)
			}
		}
	}

	var signals []signal
	high := g.tokenSignals(highTok, lowTok)
	signals = append(signals, high...)
	signals = append(signals, g.lowSignals(lowTok, highTok, signalTokenLow)...)
	if g.framings {
		signals = append(signals, g.framingSignals(highFrame, lowFrame)...)
		signals = append(signals, g.lowSignals(lowFrame, highFrame, signalFramingLow)...)
	}
	if g.engagement {
		signals = append(signals, g.engagedSignals(engaged)...)
	}
	if g.gaps && len(sorted) >= g.gapMin {
		signals = append(signals, g.gapSignals(highTok, mentions, high)...)
	}

	sort.Slice(signals, func(i, j int) bool {
		a, b := signals[i], signals[j]
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		if a.margin != b.margin {
			return a.margin > b.margin
		}
		return a.pattern() < b.pattern()
	})

	seenText := make(map[string]bool, len(existing))
	seenPattern := make(map[string]bool, len(existing))
	multi := make(map[string]bool)
	for _, s := range signals {
		if s.kind == signalMultiChannel {
			multi[s.subject] = true
		}
	}
	for _, ins := range existing {
		seenText[Normalize(ins.Text)] = true
		if ins.Pattern != "" {
			seenPattern[ins.Pattern] = true
			if tok, ok := multiToken(ins.Pattern); ok {
				multi[tok] = true
			}
		}
	}

	var top []signal
	for _, s := range signals {
		if len(top) >= g.maxPerCycle {
			break
		}
		if s.kind == signalSingleChannel && multi[s.subject] {
			continue
		}
		top = append(top, s)
	}

	var out []Insight
	for _, s := range top {
		pattern, text := s.pattern(), s.text()
		norm := Normalize(text)
		if seenPattern[pattern] || seenText[norm] {
			continue
		}
		seenPattern[pattern] = true
		seenText[norm] = true
		support := append([]string(nil), s.support...)
		sort.Strings(support)
		out = append(out, Insight{
			ID:                 g.newID(),
			Pattern:            pattern,
			Text:               text,
			SupportingMatchIDs: support,
			CreatedAt:          g.now(),
		})
	}
	return out
}

func (g *InsightGenerator) tokenSignals(high, low *tally) []signal {
	var out []signal
	for tok, ids := range high.support {
		if len(ids) < g.minSupport {
			continue
		}
		diff := high.freq(tok) - low.freq(tok)
		if diff < g.margin {
			continue
		}
		chs := sortedKeys(high.channels[tok])
		if len(chs) >= g.minChannels {
			out = append(out, signal{kind: signalMultiChannel, subject: tok, margin: diff, support: ids})
			continue
		}
		out = append(out, signal{kind: signalSingleChannel, subject: tok, channel: chs[0], margin: diff, support: ids})
	}
	return out
}

func (g *InsightGenerator) framingSignals(high, low *tally) []signal {
	var out []signal
	for name, ids := range high.support {
		if len(ids) < g.minSupport {
			continue
		}
		if diff := high.freq(name) - low.freq(name); diff >= g.margin {
			out = append(out, signal{kind: signalFramingHigh, subject: name, margin: diff, support: ids})
		}
	}
	return out
}

func (g *InsightGenerator) lowSignals(low, high *tally, kind signalKind) []signal {
	var out []signal
	for feature, ids := range low.support {
		if len(ids) < g.minSupport {
			continue
		}
		if diff := low.freq(feature) - high.freq(feature); diff >= g.margin {
			out = append(out, signal{kind: kind, subject: feature, margin: diff, support: ids})
		}
	}
	return out
}

// engagedSignals reports framings shared by matches with a high comment rate.
func (g *InsightGenerator) engagedSignals(engaged *tally) []signal {
	var out []signal
	for name, ids := range engaged.support {
		if len(ids) < g.minSupport {
			continue
		}
		out = append(out, signal{kind: signalFramingEngaged, subject: name, margin: engaged.freq(name), support: ids})
	}
	return out
}

// gapSignals reports top-tier tokens that are rare across the whole match set
// and carry no stronger token signal.
func (g *InsightGenerator) gapSignals(high *tally, mentions map[string]int, covered []signal) []signal {
	skip := make(map[string]bool, len(covered))
	for _, s := range covered {
		skip[s.subject] = true
	}
	var out []signal
	for tok, ids := range high.support {
		if skip[tok] || mentions[tok] > g.gapMax {
			continue
		}
		out = append(out, signal{kind: signalTokenGap, subject: tok, margin: high.freq(tok), support: ids})
	}
	return out
}

// matchTokens returns the sorted non-numeric tokens of a match's title and keywords.
func matchTokens(m Match) []string {
	all := Tokenize(m.VideoTitle).Union(Tokenize(strings.Join(m.Keywords, " "))).Sorted()
	out := all[:0]
	for _, tok := range all {
		if !isNumeric(tok) {
			out = append(out, tok)
		}
	}
	return out
}

func multiToken(pattern string) (string, bool) {
	rest, ok := strings.CutPrefix(pattern, "token:")
	if !ok {
		return "", false
	}
	return strings.CutSuffix(rest, ":multi")
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
