package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/tubeloop/internal/store"
	"github.com/elonfeng/tubeloop/pkg/learning"
	"github.com/elonfeng/tubeloop/pkg/memory"
)

func newTestServer(t *testing.T, perMin int) (*Server, *store.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mem, err := memory.NewFileLog(filepath.Join(dir, "memory.txt"), 5)
	require.NoError(t, err)

	eng := learning.NewEngine(st, learning.Options{Memory: mem})
	return New(st, eng, Options{RateLimitPerMin: perMin, Memory: mem}), st
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, 100)
	rec := do(t, s.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestImportSuggestionsIsIdempotent(t *testing.T) {
	s, _ := newTestServer(t, 100)
	h := s.Handler()
	strategy := map[string]any{
		"batch_id":       "b1",
		"origin_channel": "UCbudget",
		"next_video_suggestions": []map[string]any{
			{"topic": "Budget travel tips for Japan", "why": "cheap trips trend", "reference_channels": []string{"UCbudget"}, "estimated_appeal": "high"},
			{"topic": "  "},
		},
	}

	rec := do(t, h, http.MethodPost, "/api/v1/suggestions", strategy)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["received"])
	assert.Equal(t, float64(1), body["imported"])

	rec = do(t, h, http.MethodPost, "/api/v1/suggestions", strategy)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["imported"])

	rec = do(t, h, http.MethodGet, "/api/v1/suggestions?batch_id=b1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])
}

func TestIngestVideosValidates(t *testing.T) {
	s, _ := newTestServer(t, 100)
	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/videos", []map[string]any{
		{"id": "v1", "channel_id": "c", "title": "t", "published_at": time.Now().UTC(), "views": -1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, "/api/v1/videos", []map[string]any{{"id": "v1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLearningRunEndToEnd(t *testing.T) {
	s, _ := newTestServer(t, 100)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/suggestions", map[string]any{
		"batch_id": "b1",
		"next_video_suggestions": []map[string]any{
			{"topic": "Budget travel tips for Japan", "reference_channels": []string{"@UCbudget"}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	now := time.Now().UTC()
	rec = do(t, h, http.MethodPost, "/api/v1/videos", []learning.Video{
		{ID: "old1", ChannelID: "UCbudget", Title: "Packing list", PublishedAt: now.Add(-72 * time.Hour), Views: 1000, Likes: 40, Comments: 5},
		{ID: "old2", ChannelID: "UCbudget", Title: "Hostel review", PublishedAt: now.Add(-48 * time.Hour), Views: 1000, Likes: 40, Comments: 5},
		{ID: "new1", ChannelID: "UCbudget", Title: "Budget Travel Tips for Japan 2026", PublishedAt: now.Add(time.Hour), Views: 2000, Likes: 80, Comments: 10},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/learning/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sum := decode(t, rec)
	assert.Equal(t, float64(1), sum["matches_created"])

	rec = do(t, h, http.MethodGet, "/api/v1/learning/matches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, float64(1), body["count"])
	m := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "new1", m["video_id"])
	assert.Equal(t, "high", m["performance_tier"])

	// a second run on unchanged data creates nothing
	rec = do(t, h, http.MethodPost, "/api/v1/learning/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["matches_created"])

	rec = do(t, h, http.MethodGet, "/api/v1/learning/status", nil)
	assert.Equal(t, "completed", decode(t, rec)["state"])

	rec = do(t, h, http.MethodGet, "/api/v1/learning/context", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "context")
}

func TestMemoryRoutes(t *testing.T) {
	s, _ := newTestServer(t, 100)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/memory", map[string]any{
		"channel_ref": "@budget", "findings": []string{"short titles win"}, "action": "test numbers",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, decode(t, rec)["line"], "| @budget | Findings: short titles win | Next: test numbers")

	rec = do(t, h, http.MethodGet, "/api/v1/memory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = do(t, h, http.MethodPost, "/api/v1/memory/reset", map[string]any{"confirm": false})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/memory/reset", map[string]any{"confirm": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/memory", nil)
	assert.Equal(t, float64(0), decode(t, rec)["count"])
}

func TestPostRoutesAreRateLimited(t *testing.T) {
	s, _ := newTestServer(t, 1)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/collect", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/collect", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// reads are not limited
	rec = do(t, h, http.MethodGet, "/api/v1/learning/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPLimiterDropsIdleClients(t *testing.T) {
	l := newIPLimiter(1)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))
	assert.Len(t, l.visitors, 2)

	now = now.Add(limiterIdle)
	assert.True(t, l.allow("10.0.0.3"))
	assert.Len(t, l.visitors, 1)

	// a returning client starts with a full bucket
	assert.True(t, l.allow("10.0.0.1"))
	assert.Len(t, l.visitors, 2)
}
