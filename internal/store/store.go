package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/tubeloop/pkg/learning"
)

// VideoListOpts controls video listing.
type VideoListOpts struct {
	ChannelID string
	Since     time.Time
	Limit     int
}

// SuggestionListOpts controls suggestion listing.
type SuggestionListOpts struct {
	BatchID       string
	UnmatchedOnly bool
	Limit         int
}

// Store is the persistence interface.
type Store interface {
	learning.Repository

	UpsertVideos(ctx context.Context, videos []learning.Video) error
	ListVideos(ctx context.Context, opts VideoListOpts) ([]learning.Video, error)

	SaveSuggestions(ctx context.Context, suggestions []learning.Suggestion) (int, error)
	ListSuggestions(ctx context.Context, opts SuggestionListOpts) ([]learning.Suggestion, error)

	Close() error
}

// Option tunes a SQLiteStore.
type Option func(*SQLiteStore)

// WithHistoryLimit caps how many recent videos feed a channel baseline.
func WithHistoryLimit(n int) Option {
	return func(s *SQLiteStore) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db           *sqlx.DB
	historyLimit int
}

// New opens a SQLite database and runs migrations.
func New(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteStore{db: db, historyLimit: 10}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type videoRow struct {
	ID           string    `db:"id"`
	ChannelID    string    `db:"channel_id"`
	ChannelTitle string    `db:"channel_title"`
	Title        string    `db:"title"`
	PublishedAt  time.Time `db:"published_at"`
	Views        int64     `db:"views"`
	Likes        int64     `db:"likes"`
	Comments     int64     `db:"comments"`
	Captions     string    `db:"captions"`
	CollectedAt  time.Time `db:"collected_at"`
}

func (r videoRow) video() learning.Video {
	return learning.Video{
		ID:           r.ID,
		ChannelID:    r.ChannelID,
		ChannelTitle: r.ChannelTitle,
		Title:        r.Title,
		PublishedAt:  r.PublishedAt.UTC(),
		Views:        r.Views,
		Likes:        r.Likes,
		Comments:     r.Comments,
		Captions:     r.Captions,
		CollectedAt:  r.CollectedAt.UTC(),
	}
}

type suggestionRow struct {
	ID                string    `db:"id"`
	BatchID           string    `db:"batch_id"`
	Topic             string    `db:"topic"`
	Rationale         string    `db:"rationale"`
	KeywordsJSON      string    `db:"keywords"`
	ReferenceChannels string    `db:"reference_channels"`
	OriginChannel     string    `db:"origin_channel"`
	EstimatedAppeal   string    `db:"estimated_appeal"`
	CreatedAt         time.Time `db:"created_at"`
	Matched           bool      `db:"matched"`
}

func (r suggestionRow) suggestion() learning.Suggestion {
	s := learning.Suggestion{
		ID:              r.ID,
		BatchID:         r.BatchID,
		Topic:           r.Topic,
		Rationale:       r.Rationale,
		OriginChannel:   r.OriginChannel,
		EstimatedAppeal: learning.Appeal(r.EstimatedAppeal),
		CreatedAt:       r.CreatedAt.UTC(),
		Matched:         r.Matched,
	}
	json.Unmarshal([]byte(r.KeywordsJSON), &s.Keywords)
	json.Unmarshal([]byte(r.ReferenceChannels), &s.ReferenceChannels)
	return s
}

type matchRow struct {
	ID               string    `db:"id"`
	SuggestionID     string    `db:"suggestion_id"`
	VideoID          string    `db:"video_id"`
	ChannelID        string    `db:"channel_id"`
	VideoTitle       string    `db:"video_title"`
	KeywordsJSON     string    `db:"keywords"`
	SimilarityScore  float64   `db:"similarity_score"`
	Views            int64     `db:"views"`
	Comments         int64     `db:"comments"`
	AvgViews         float64   `db:"avg_views"`
	PerformanceScore float64   `db:"performance_score"`
	PerformanceTier  string    `db:"performance_tier"`
	CreatedAt        time.Time `db:"created_at"`
}

func (r matchRow) match() learning.Match {
	m := learning.Match{
		ID:               r.ID,
		SuggestionID:     r.SuggestionID,
		VideoID:          r.VideoID,
		ChannelID:        r.ChannelID,
		VideoTitle:       r.VideoTitle,
		SimilarityScore:  r.SimilarityScore,
		Views:            r.Views,
		Comments:         r.Comments,
		AvgViews:         r.AvgViews,
		PerformanceScore: r.PerformanceScore,
		PerformanceTier:  learning.Tier(r.PerformanceTier),
		CreatedAt:        r.CreatedAt.UTC(),
	}
	json.Unmarshal([]byte(r.KeywordsJSON), &m.Keywords)
	return m
}

type insightRow struct {
	ID         string    `db:"id"`
	Pattern    string    `db:"pattern"`
	Text       string    `db:"insight_text"`
	SupportIDs string    `db:"supporting_match_ids"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r insightRow) insight() learning.Insight {
	ins := learning.Insight{
		ID:        r.ID,
		Pattern:   r.Pattern,
		Text:      r.Text,
		CreatedAt: r.CreatedAt.UTC(),
	}
	json.Unmarshal([]byte(r.SupportIDs), &ins.SupportingMatchIDs)
	return ins
}

func (s *SQLiteStore) UpsertVideos(ctx context.Context, videos []learning.Video) error {
	for _, v := range videos {
		collected := v.CollectedAt
		if collected.IsZero() {
			collected = time.Now()
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO videos (id, channel_id, channel_title, title, published_at, views, likes, comments, captions, collected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				channel_title = CASE WHEN excluded.channel_title != '' THEN excluded.channel_title ELSE videos.channel_title END,
				title = excluded.title,
				views = excluded.views,
				likes = excluded.likes,
				comments = excluded.comments,
				captions = CASE WHEN excluded.captions != '' THEN excluded.captions ELSE videos.captions END,
				collected_at = excluded.collected_at
		`, v.ID, v.ChannelID, v.ChannelTitle, v.Title, v.PublishedAt.UTC(),
			v.Views, v.Likes, v.Comments, v.Captions, collected.UTC())
		if err != nil {
			return fmt.Errorf("upsert video %s: %w", v.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListVideos(ctx context.Context, opts VideoListOpts) ([]learning.Video, error) {
	query := "SELECT * FROM videos WHERE 1=1"
	var args []any

	if opts.ChannelID != "" {
		query += " AND channel_id = ?"
		args = append(args, opts.ChannelID)
	}
	if !opts.Since.IsZero() {
		query += " AND published_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	query += " ORDER BY published_at DESC, id"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	return s.selectVideos(ctx, "list videos", query, args...)
}

func (s *SQLiteStore) selectVideos(ctx context.Context, op, query string, args ...any) ([]learning.Video, error) {
	var rows []videoRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]learning.Video, len(rows))
	for i, r := range rows {
		out[i] = r.video()
	}
	return out, nil
}

// SaveSuggestions inserts suggestions, ignoring ids already stored, and
// returns how many were new.
func (s *SQLiteStore) SaveSuggestions(ctx context.Context, suggestions []learning.Suggestion) (int, error) {
	saved := 0
	for _, sg := range suggestions {
		keywordsJSON, _ := json.Marshal(nonNil(sg.Keywords))
		refsJSON, _ := json.Marshal(nonNil(sg.ReferenceChannels))
		appeal := sg.EstimatedAppeal
		if appeal == "" {
			appeal = learning.AppealMedium
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO suggestions (id, batch_id, topic, rationale, keywords, reference_channels, origin_channel, estimated_appeal, created_at, matched)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
			ON CONFLICT(id) DO NOTHING
		`, sg.ID, sg.BatchID, sg.Topic, sg.Rationale, string(keywordsJSON), string(refsJSON),
			sg.OriginChannel, string(appeal), sg.CreatedAt.UTC())
		if err != nil {
			return saved, fmt.Errorf("save suggestion %s: %w", sg.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			saved++
		}
	}
	return saved, nil
}

func (s *SQLiteStore) ListSuggestions(ctx context.Context, opts SuggestionListOpts) ([]learning.Suggestion, error) {
	query := "SELECT * FROM suggestions WHERE 1=1"
	var args []any

	if opts.BatchID != "" {
		query += " AND batch_id = ?"
		args = append(args, opts.BatchID)
	}
	if opts.UnmatchedOnly {
		query += " AND matched = 0"
	}

	query += " ORDER BY created_at DESC, id"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	return s.selectSuggestions(ctx, "list suggestions", query, args...)
}

func (s *SQLiteStore) selectSuggestions(ctx context.Context, op, query string, args ...any) ([]learning.Suggestion, error) {
	var rows []suggestionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]learning.Suggestion, len(rows))
	for i, r := range rows {
		out[i] = r.suggestion()
	}
	return out, nil
}

func (s *SQLiteStore) LoadUnmatchedSuggestions(ctx context.Context) ([]learning.Suggestion, error) {
	return s.selectSuggestions(ctx, "load unmatched suggestions",
		"SELECT * FROM suggestions WHERE matched = 0 ORDER BY created_at, id")
}

func (s *SQLiteStore) LoadVideosSince(ctx context.Context, since time.Time) ([]learning.Video, error) {
	return s.selectVideos(ctx, "load videos since",
		"SELECT * FROM videos WHERE published_at > ? ORDER BY published_at, id", since.UTC())
}

func (s *SQLiteStore) LoadChannelHistory(ctx context.Context, channelID, excludeVideoID string) ([]learning.Video, error) {
	return s.selectVideos(ctx, "load channel history",
		"SELECT * FROM videos WHERE channel_id = ? AND id != ? ORDER BY published_at DESC, id LIMIT ?",
		channelID, excludeVideoID, s.historyLimit)
}

func (s *SQLiteStore) LoadAllMatches(ctx context.Context) ([]learning.Match, error) {
	var rows []matchRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM matches ORDER BY created_at, id"); err != nil {
		return nil, fmt.Errorf("load matches: %w", err)
	}
	out := make([]learning.Match, len(rows))
	for i, r := range rows {
		out[i] = r.match()
	}
	return out, nil
}

func (s *SQLiteStore) LoadExistingInsights(ctx context.Context) ([]learning.Insight, error) {
	var rows []insightRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM insights ORDER BY created_at, id"); err != nil {
		return nil, fmt.Errorf("load insights: %w", err)
	}
	out := make([]learning.Insight, len(rows))
	for i, r := range rows {
		out[i] = r.insight()
	}
	return out, nil
}

// CommitCycle writes a cycle's matches, flips the matched flag of their
// suggestions and appends its insights in a single transaction.
func (s *SQLiteStore) CommitCycle(ctx context.Context, c learning.CycleCommit) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	for _, m := range c.Matches {
		keywordsJSON, _ := json.Marshal(nonNil(m.Keywords))
		_, err := tx.ExecContext(ctx, `
			INSERT INTO matches (id, suggestion_id, video_id, channel_id, video_title, keywords,
				similarity_score, views, comments, avg_views, performance_score, performance_tier, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.SuggestionID, m.VideoID, m.ChannelID, m.VideoTitle, string(keywordsJSON),
			m.SimilarityScore, m.Views, m.Comments, m.AvgViews, m.PerformanceScore, string(m.PerformanceTier), m.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert match %s: %w", m.ID, err)
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE suggestions SET matched = 1 WHERE id = ? AND matched = 0", m.SuggestionID)
		if err != nil {
			return fmt.Errorf("mark suggestion %s matched: %w", m.SuggestionID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("mark suggestion %s matched: write conflict", m.SuggestionID)
		}
	}

	for _, ins := range c.Insights {
		supportJSON, _ := json.Marshal(nonNil(ins.SupportingMatchIDs))
		_, err := tx.ExecContext(ctx, `
			INSERT INTO insights (id, pattern, insight_text, supporting_match_ids, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, ins.ID, ins.Pattern, ins.Text, string(supportJSON), ins.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert insight %s: %w", ins.Pattern, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cycle: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
