package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/elonfeng/tubeloop/internal/logger"
	"github.com/elonfeng/tubeloop/internal/store"
	"github.com/elonfeng/tubeloop/pkg/learning"
	"github.com/elonfeng/tubeloop/pkg/memory"
	"github.com/elonfeng/tubeloop/pkg/source"
)

// Options configures optional server collaborators.
type Options struct {
	Port            int
	RateLimitPerMin int
	Collectors      []source.Collector
	Memory          *memory.FileLog
	Logger          *logger.Logger
}

// Server provides the HTTP API.
type Server struct {
	store      store.Store
	engine     *learning.Engine
	collectors []source.Collector
	memory     *memory.FileLog
	port       int
	limiter    *ipLimiter
	log        *logger.Logger
	now        func() time.Time
}

// New creates a new HTTP server.
func New(s store.Store, engine *learning.Engine, opts Options) *Server {
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	perMin := opts.RateLimitPerMin
	if perMin <= 0 {
		perMin = 30
	}
	return &Server{
		store:      s,
		engine:     engine,
		collectors: opts.Collectors,
		memory:     opts.Memory,
		port:       port,
		limiter:    newIPLimiter(perMin),
		log:        logger.OrNop(opts.Logger).With("component", "http"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/learning/status", s.handleStatus)
		r.Get("/learning/insights", s.handleInsights)
		r.Get("/learning/matches", s.handleMatches)
		r.Get("/learning/context", s.handleContext)
		r.Get("/suggestions", s.handleListSuggestions)
		r.Get("/videos", s.handleListVideos)
		r.Get("/memory", s.handleReadMemory)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/learning/run", s.handleRun)
			r.Post("/suggestions", s.handleImportSuggestions)
			r.Post("/videos", s.handleIngestVideos)
			r.Post("/collect", s.handleCollect)
			r.Post("/memory", s.handleAppendMemory)
			r.Post("/memory/reset", s.handleResetMemory)
		})
	})
	return r
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	sum, err := s.engine.Run(r.Context())
	if errors.Is(err, learning.ErrCycleRunning) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := s.engine.ListInsights(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	insights = head(insights, queryLimit(r, 50))
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  insights,
		"count": len(insights),
	})
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := s.engine.ListMatches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	matches = head(matches, queryLimit(r, 100))
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  matches,
		"count": len(matches),
	})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	text, err := s.engine.PromptContext(r.Context(), queryLimit(r, 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"context": text})
}

func (s *Server) handleImportSuggestions(w http.ResponseWriter, r *http.Request) {
	var st learning.Strategy
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode strategy: %w", err))
		return
	}

	suggestions := learning.SuggestionsFromStrategy(st, s.now())
	if len(suggestions) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no suggestions with a topic"))
		return
	}

	saved, err := s.store.SaveSuggestions(r.Context(), suggestions)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	ids := make([]string, len(suggestions))
	for i, sg := range suggestions {
		ids[i] = sg.ID
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"received": len(suggestions),
		"imported": saved,
		"ids":      ids,
	})
}

func (s *Server) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	opts := store.SuggestionListOpts{
		BatchID:       r.URL.Query().Get("batch_id"),
		UnmatchedOnly: r.URL.Query().Get("unmatched") == "true",
		Limit:         queryLimit(r, 100),
	}
	suggestions, err := s.store.ListSuggestions(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  suggestions,
		"count": len(suggestions),
	})
}

func (s *Server) handleIngestVideos(w http.ResponseWriter, r *http.Request) {
	var videos []learning.Video
	if err := json.NewDecoder(r.Body).Decode(&videos); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode videos: %w", err))
		return
	}
	for i := range videos {
		if err := validateVideo(videos[i]); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("video %d: %w", i, err))
			return
		}
		if videos[i].CollectedAt.IsZero() {
			videos[i].CollectedAt = s.now()
		}
	}

	if err := s.store.UpsertVideos(r.Context(), videos); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"stored": len(videos)})
}

func validateVideo(v learning.Video) error {
	switch {
	case v.ID == "":
		return errors.New("id is required")
	case v.ChannelID == "":
		return errors.New("channel_id is required")
	case v.PublishedAt.IsZero():
		return errors.New("published_at is required")
	case v.Views < 0 || v.Likes < 0 || v.Comments < 0:
		return learning.ErrInvalidMetrics
	}
	return nil
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	opts := store.VideoListOpts{
		ChannelID: r.URL.Query().Get("channel_id"),
		Limit:     queryLimit(r, 100),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			opts.Since = t
		}
	}

	videos, err := s.store.ListVideos(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  videos,
		"count": len(videos),
	})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	res := source.CollectAll(r.Context(), s.collectors, s.store)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReadMemory(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusNotFound, errors.New("memory log disabled"))
		return
	}
	lines, err := s.memory.Recent()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":  s.memory.Path(),
		"lines": lines,
		"count": len(lines),
	})
}

type memoryEntry struct {
	ChannelRef string   `json:"channel_ref"`
	Findings   []string `json:"findings"`
	Action     string   `json:"action"`
}

func (s *Server) handleAppendMemory(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusNotFound, errors.New("memory log disabled"))
		return
	}
	var e memoryEntry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode memory entry: %w", err))
		return
	}
	if e.ChannelRef == "" {
		writeError(w, http.StatusBadRequest, errors.New("channel_ref is required"))
		return
	}
	line, err := s.memory.AppendEntry(e.ChannelRef, e.Findings, e.Action)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"line": line})
}

func (s *Server) handleResetMemory(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusNotFound, errors.New("memory log disabled"))
		return
	}
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode reset request: %w", err))
		return
	}
	if err := s.memory.Reset(req.Confirm); err != nil {
		if errors.Is(err, memory.ErrConfirmRequired) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limiterIdle is how long a client bucket survives without requests. A bucket
// refills completely within a minute, so dropping it later loses no state.
const limiterIdle = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter keeps one token bucket per client address and drops idle ones.
type ipLimiter struct {
	mu        sync.Mutex
	perMin    int
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

func newIPLimiter(perMin int) *ipLimiter {
	return &ipLimiter{perMin: perMin, visitors: make(map[string]*visitor), now: time.Now}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= limiterIdle {
		for addr, v := range l.visitors {
			if now.Sub(v.lastSeen) >= limiterIdle {
				delete(l.visitors, addr)
			}
		}
		l.lastSweep = now
	}
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func head[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
