package learning

// Policy holds the tunable constants of the learning loop. None of these
// values are derived; they are operator policy.
type Policy struct {
	MatchThreshold float64
	SubstringBoost float64

	MinHistory         int
	DefaultAvgViews    float64
	DefaultLikeRate    float64
	DefaultCommentRate float64

	HighTier      float64
	LowTier       float64
	EngagementMin float64
	EngagementMax float64

	MinSupport     int
	Margin         float64
	MaxPerCycle    int
	MinChannels    int
	EnableFramings bool

	EnableEngagement   bool
	EngagedCommentRate float64

	EnableContentGaps bool
	GapMinMatches     int
	GapMaxMentions    int
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MatchThreshold:     0.28,
		SubstringBoost:     0.6,
		MinHistory:         2,
		DefaultAvgViews:    1000,
		DefaultLikeRate:    0.04,
		DefaultCommentRate: 0.005,
		HighTier:           1.2,
		LowTier:            0.8,
		EngagementMin:      0.7,
		EngagementMax:      1.5,
		MinSupport:         2,
		Margin:             0.25,
		MaxPerCycle:        8,
		MinChannels:        2,
		EnableFramings:     true,
		EnableEngagement:   true,
		EngagedCommentRate: 0.005,
		EnableContentGaps:  true,
		GapMinMatches:      10,
		GapMaxMentions:     2,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MatchThreshold <= 0 {
		p.MatchThreshold = d.MatchThreshold
	}
	if p.SubstringBoost <= 0 {
		p.SubstringBoost = d.SubstringBoost
	}
	if p.MinHistory <= 0 {
		p.MinHistory = d.MinHistory
	}
	if p.DefaultAvgViews <= 0 {
		p.DefaultAvgViews = d.DefaultAvgViews
	}
	if p.DefaultLikeRate <= 0 {
		p.DefaultLikeRate = d.DefaultLikeRate
	}
	if p.DefaultCommentRate <= 0 {
		p.DefaultCommentRate = d.DefaultCommentRate
	}
	if p.HighTier <= 0 {
		p.HighTier = d.HighTier
	}
	if p.LowTier <= 0 {
		p.LowTier = d.LowTier
	}
	if p.EngagementMin <= 0 {
		p.EngagementMin = d.EngagementMin
	}
	if p.EngagementMax <= 0 {
		p.EngagementMax = d.EngagementMax
	}
	if p.MinSupport <= 0 {
		p.MinSupport = d.MinSupport
	}
	if p.Margin <= 0 {
		p.Margin = d.Margin
	}
	if p.MaxPerCycle <= 0 {
		p.MaxPerCycle = d.MaxPerCycle
	}
	if p.MinChannels <= 0 {
		p.MinChannels = d.MinChannels
	}
	if p.EngagedCommentRate <= 0 {
		p.EngagedCommentRate = d.EngagedCommentRate
	}
	if p.GapMinMatches <= 0 {
		p.GapMinMatches = d.GapMinMatches
	}
	if p.GapMaxMentions <= 0 {
		p.GapMaxMentions = d.GapMaxMentions
	}
	return p
}
