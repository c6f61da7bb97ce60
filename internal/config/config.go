package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elonfeng/tubeloop/pkg/learning"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Learning LearningConfig `yaml:"learning"`
	Lock     LockConfig     `yaml:"lock"`
	Memory   MemoryConfig   `yaml:"memory"`
	Sources  SourcesConfig  `yaml:"sources"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path         string `yaml:"path"`
	HistoryLimit int    `yaml:"history_limit"`
}

// ScheduleConfig configures collection and learning intervals.
type ScheduleConfig struct {
	CollectInterval string `yaml:"collect_interval"`
	LearnInterval   string `yaml:"learn_interval"`
}

// ParseCollectInterval returns the collect interval as time.Duration.
func (s ScheduleConfig) ParseCollectInterval() time.Duration {
	d, err := time.ParseDuration(s.CollectInterval)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// ParseLearnInterval returns the learning interval as time.Duration.
func (s ScheduleConfig) ParseLearnInterval() time.Duration {
	d, err := time.ParseDuration(s.LearnInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// LearningConfig configures matching, scoring and insight generation.
type LearningConfig struct {
	MatchThreshold     float64 `yaml:"match_threshold"`
	SubstringBoost     float64 `yaml:"substring_boost"`
	MinHistory         int     `yaml:"min_history"`
	DefaultAvgViews    float64 `yaml:"default_avg_views"`
	DefaultLikeRate    float64 `yaml:"default_like_rate"`
	DefaultCommentRate float64 `yaml:"default_comment_rate"`
	HighTier           float64 `yaml:"high_tier"`
	LowTier            float64 `yaml:"low_tier"`
	EngagementMin      float64 `yaml:"engagement_min"`
	EngagementMax      float64 `yaml:"engagement_max"`
	MinSupport         int     `yaml:"min_support"`
	Margin             float64 `yaml:"margin"`
	MaxPerCycle        int     `yaml:"max_per_cycle"`
	MinChannels        int     `yaml:"min_channels"`
	Framings           bool    `yaml:"framings"`
	Engagement         bool    `yaml:"engagement"`
	EngagedCommentRate float64 `yaml:"engaged_comment_rate"`
	ContentGaps        bool    `yaml:"content_gaps"`
	GapMinMatches      int     `yaml:"gap_min_matches"`
	GapMaxMentions     int     `yaml:"gap_max_mentions"`
	Workers            int     `yaml:"workers"`
	OnBusy             string  `yaml:"on_busy"` // "wait" or "reject"
}

// RejectWhenBusy reports whether a run during an in-flight cycle should fail.
func (l LearningConfig) RejectWhenBusy() bool {
	return l.OnBusy == "reject"
}

// Policy converts the section into learning thresholds.
func (l LearningConfig) Policy() learning.Policy {
	return learning.Policy{
		MatchThreshold:     l.MatchThreshold,
		SubstringBoost:     l.SubstringBoost,
		MinHistory:         l.MinHistory,
		DefaultAvgViews:    l.DefaultAvgViews,
		DefaultLikeRate:    l.DefaultLikeRate,
		DefaultCommentRate: l.DefaultCommentRate,
		HighTier:           l.HighTier,
		LowTier:            l.LowTier,
		EngagementMin:      l.EngagementMin,
		EngagementMax:      l.EngagementMax,
		MinSupport:         l.MinSupport,
		Margin:             l.Margin,
		MaxPerCycle:        l.MaxPerCycle,
		MinChannels:        l.MinChannels,
		EnableFramings:     l.Framings,
		EnableEngagement:   l.Engagement,
		EngagedCommentRate: l.EngagedCommentRate,
		EnableContentGaps:  l.ContentGaps,
		GapMinMatches:      l.GapMinMatches,
		GapMaxMentions:     l.GapMaxMentions,
	}
}

// LockConfig configures cross-process cycle exclusion. Empty RedisURL keeps
// the lock in-process.
type LockConfig struct {
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
	TTL       string `yaml:"ttl"`
}

// ParseTTL returns the lock lease as time.Duration.
func (l LockConfig) ParseTTL() time.Duration {
	d, err := time.ParseDuration(l.TTL)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// MemoryConfig configures the agent memory log.
type MemoryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	MaxLines int    `yaml:"max_lines"`
}

// SourcesConfig holds configuration for video collectors.
type SourcesConfig struct {
	YouTube YouTubeConfig `yaml:"youtube"`
	Feeds   FeedsConfig   `yaml:"feeds"`
}

// YouTubeConfig for the YouTube Data API collector.
type YouTubeConfig struct {
	Enabled    bool     `yaml:"enabled"`
	APIKey     string   `yaml:"api_key"`
	Channels   []string `yaml:"channels"`
	MaxResults int      `yaml:"max_results"`
}

// FeedsConfig for the keyless channel feed collector.
type FeedsConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Channels []string `yaml:"channels"`
}

// AlertsConfig configures insight notification destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int `yaml:"port"`
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

// LogConfig configures logging.
type LogConfig struct {
	Mode string `yaml:"mode"` // "dev" or "prod"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	p := learning.DefaultPolicy()
	return &Config{
		Database: DatabaseConfig{Path: "./tubeloop.db", HistoryLimit: 10},
		Schedule: ScheduleConfig{
			CollectInterval: "30m",
			LearnInterval:   "1h",
		},
		Learning: LearningConfig{
			MatchThreshold:     p.MatchThreshold,
			SubstringBoost:     p.SubstringBoost,
			MinHistory:         p.MinHistory,
			DefaultAvgViews:    p.DefaultAvgViews,
			DefaultLikeRate:    p.DefaultLikeRate,
			DefaultCommentRate: p.DefaultCommentRate,
			HighTier:           p.HighTier,
			LowTier:            p.LowTier,
			EngagementMin:      p.EngagementMin,
			EngagementMax:      p.EngagementMax,
			MinSupport:         p.MinSupport,
			Margin:             p.Margin,
			MaxPerCycle:        p.MaxPerCycle,
			MinChannels:        p.MinChannels,
			Framings:           p.EnableFramings,
			Engagement:         p.EnableEngagement,
			EngagedCommentRate: p.EngagedCommentRate,
			ContentGaps:        p.EnableContentGaps,
			GapMinMatches:      p.GapMinMatches,
			GapMaxMentions:     p.GapMaxMentions,
			Workers:            4,
			OnBusy:             "wait",
		},
		Lock: LockConfig{
			KeyPrefix: "tubeloop:lock:",
			TTL:       "10m",
		},
		Memory: MemoryConfig{
			Enabled:  true,
			Path:     "./memory/memory.txt",
			MaxLines: 20,
		},
		Sources: SourcesConfig{
			YouTube: YouTubeConfig{MaxResults: 25},
			Feeds:   FeedsConfig{Enabled: true},
		},
		Server: ServerConfig{Port: 8080, RateLimitPerMin: 30},
		Log:    LogConfig{Mode: "prod"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Learning.OnBusy {
	case "", "wait", "reject":
	default:
		return fmt.Errorf("learning.on_busy must be wait or reject, got %q", c.Learning.OnBusy)
	}
	if c.Learning.LowTier > 0 && c.Learning.HighTier > 0 && c.Learning.LowTier >= c.Learning.HighTier {
		return fmt.Errorf("learning.low_tier (%v) must be below high_tier (%v)", c.Learning.LowTier, c.Learning.HighTier)
	}
	if c.Learning.EngagementMin > 0 && c.Learning.EngagementMax > 0 && c.Learning.EngagementMin > c.Learning.EngagementMax {
		return fmt.Errorf("learning.engagement_min (%v) exceeds engagement_max (%v)", c.Learning.EngagementMin, c.Learning.EngagementMax)
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TUBELOOP_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.Sources.YouTube.APIKey = v
		cfg.Sources.YouTube.Enabled = true
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Lock.RedisURL = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("TUBELOOP_MEMORY_PATH"); v != "" {
		cfg.Memory.Path = v
	}
	if v := os.Getenv("TUBELOOP_LOG_MODE"); v != "" {
		cfg.Log.Mode = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}
