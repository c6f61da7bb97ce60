package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elonfeng/tubeloop/internal/config"
	"github.com/elonfeng/tubeloop/internal/lock"
	"github.com/elonfeng/tubeloop/internal/logger"
	"github.com/elonfeng/tubeloop/internal/scheduler"
	"github.com/elonfeng/tubeloop/internal/store"
	"github.com/elonfeng/tubeloop/pkg/alert"
	"github.com/elonfeng/tubeloop/pkg/learning"
	"github.com/elonfeng/tubeloop/pkg/memory"
	"github.com/elonfeng/tubeloop/pkg/server"
	"github.com/elonfeng/tubeloop/pkg/source"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// app holds everything a command needs. close releases it.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	db     *store.SQLiteStore
	mem    *memory.FileLog
	engine *learning.Engine
	redis  *redis.Client
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := store.New(cfg.Database.Path, store.WithHistoryLimit(cfg.Database.HistoryLimit))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: db}

	if cfg.Memory.Enabled {
		a.mem, err = memory.NewFileLog(cfg.Memory.Path, cfg.Memory.MaxLines)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open memory log: %w", err)
		}
	}

	var locker learning.Locker = lock.NewLocal()
	if cfg.Lock.RedisURL != "" {
		a.redis, err = lock.Connect(cfg.Lock.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		locker = lock.NewRedis(a.redis, cfg.Lock.KeyPrefix, cfg.Lock.ParseTTL())
	}

	opts := learning.Options{
		Policy:         cfg.Learning.Policy(),
		Workers:        cfg.Learning.Workers,
		RejectWhenBusy: cfg.Learning.RejectWhenBusy(),
		Locker:         locker,
		Logger:         log,
	}
	if a.mem != nil {
		opts.Memory = a.mem
	}
	if mgr := buildAlertManager(cfg); mgr.HasNotifiers() {
		opts.Publisher = mgr
	}
	a.engine = learning.NewEngine(db, opts)

	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.db.Close()
	a.log.Sync()
}

func buildCollectors(cfg *config.Config, log *logger.Logger) []source.Collector {
	var collectors []source.Collector

	if cfg.Sources.YouTube.Enabled {
		collectors = append(collectors, source.NewYouTube(
			cfg.Sources.YouTube.APIKey,
			cfg.Sources.YouTube.Channels,
			cfg.Sources.YouTube.MaxResults,
			log,
		))
	}
	if cfg.Sources.Feeds.Enabled && len(cfg.Sources.Feeds.Channels) > 0 {
		collectors = append(collectors, source.NewFeed(cfg.Sources.Feeds.Channels, log))
	}

	return collectors
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runLearn(ctx context.Context, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	sum, err := a.engine.Run(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(sum)
	}

	fmt.Printf("videos analyzed:    %d\n", sum.VideosAnalyzed)
	fmt.Printf("matches created:    %d\n", sum.MatchesCreated)
	fmt.Printf("insights generated: %d\n", sum.InsightsGenerated)
	if len(sum.Skipped) > 0 {
		fmt.Printf("pairs skipped:      %d\n", len(sum.Skipped))
	}
	for _, ins := range sum.Insights {
		fmt.Printf("  - %s\n", ins.Text)
	}
	return nil
}

func runInsights(ctx context.Context, jsonOutput bool, limit int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	insights, err := a.engine.ListInsights(ctx)
	if err != nil {
		return err
	}
	if limit > 0 && len(insights) > limit {
		insights = insights[:limit]
	}

	if jsonOutput {
		return printJSON(insights)
	}

	if len(insights) == 0 {
		fmt.Println("no insights yet (import suggestions, collect videos, then run: tubeloop learn)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tSUPPORT\tINSIGHT")
	for _, ins := range insights {
		fmt.Fprintf(w, "%s\t%d\t%s\n",
			ins.CreatedAt.Format(time.RFC3339), len(ins.SupportingMatchIDs), ins.Text)
	}
	return w.Flush()
}

func runMatches(ctx context.Context, jsonOutput bool, limit int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	matches, err := a.engine.ListMatches(ctx)
	if err != nil {
		return err
	}
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	if jsonOutput {
		return printJSON(matches)
	}

	if len(matches) == 0 {
		fmt.Println("no matches yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tPERF\tSIM\tCHANNEL\tVIDEO")
	for _, m := range matches {
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%s\t%s\n",
			m.PerformanceTier, m.PerformanceScore, m.SimilarityScore, m.ChannelID, m.VideoTitle)
	}
	return w.Flush()
}

func runContext(ctx context.Context, limit int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	text, err := a.engine.PromptContext(ctx, limit)
	if err != nil {
		return err
	}
	if text != "" {
		fmt.Println(text)
	}
	return nil
}

func runCollect(ctx context.Context, only []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	all := buildCollectors(a.cfg, a.log)

	collectors := all
	if len(only) > 0 {
		known := make(map[string]bool)
		for _, k := range source.AllKinds() {
			known[string(k)] = true
		}
		wanted := make(map[string]bool)
		for _, s := range only {
			name := strings.ToLower(strings.TrimSpace(s))
			if !known[name] {
				return fmt.Errorf("unknown source %q", s)
			}
			wanted[name] = true
		}
		collectors = nil
		for _, c := range all {
			if wanted[string(c.Name())] {
				collectors = append(collectors, c)
			}
		}
	}
	if len(collectors) == 0 {
		return errors.New("no collectors enabled (configure sources.youtube or sources.feeds)")
	}

	res := source.CollectAll(ctx, collectors, a.db)
	for _, e := range res.Errors {
		fmt.Fprintf(os.Stderr, "  error: %s\n", e)
	}
	for kind, n := range res.Collected {
		fmt.Fprintf(os.Stderr, "  %s: %d videos\n", kind, n)
	}
	fmt.Fprintf(os.Stderr, "\ntotal: %d videos from %d collectors\n", res.Total(), len(collectors))
	return nil
}

func runImport(ctx context.Context, path, batchID string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read strategy %s: %w", path, err)
	}
	var st learning.Strategy
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse strategy %s: %w", path, err)
	}
	if batchID != "" {
		st.BatchID = batchID
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	suggestions := learning.SuggestionsFromStrategy(st, time.Now())
	if len(suggestions) == 0 {
		return fmt.Errorf("no suggestions with a topic in %s", path)
	}

	saved, err := a.db.SaveSuggestions(ctx, suggestions)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d of %d suggestions (batch %q)\n", saved, len(suggestions), st.BatchID)
	return nil
}

func openMemory() (*memory.FileLog, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return memory.NewFileLog(cfg.Memory.Path, cfg.Memory.MaxLines)
}

func runMemoryShow() error {
	mem, err := openMemory()
	if err != nil {
		return err
	}
	lines, err := mem.Recent()
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		fmt.Printf("memory log %s is empty\n", mem.Path())
		return nil
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}

func runMemoryAppend(ref string, findings []string, action string) error {
	mem, err := openMemory()
	if err != nil {
		return err
	}
	line, err := mem.AppendEntry(ref, findings, action)
	if err != nil {
		return err
	}
	fmt.Println(line)
	return nil
}

func runMemoryReset(confirm bool) error {
	mem, err := openMemory()
	if err != nil {
		return err
	}
	if err := mem.Reset(confirm); err != nil {
		if errors.Is(err, memory.ErrConfirmRequired) {
			return fmt.Errorf("%w: pass --confirm", err)
		}
		return err
	}
	fmt.Printf("memory log %s reset\n", mem.Path())
	return nil
}

func newServer(a *app, port int) *server.Server {
	if port == 0 {
		port = a.cfg.Server.Port
	}
	return server.New(a.db, a.engine, server.Options{
		Port:            port,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
		Collectors:      buildCollectors(a.cfg, a.log),
		Memory:          a.mem,
		Logger:          a.log,
	})
}

func runServe(port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return newServer(a, port).ListenAndServe(ctx)
}

func runDaemon(port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(a.db, buildCollectors(a.cfg, a.log), a.engine,
		a.cfg.Schedule.ParseCollectInterval(),
		a.cfg.Schedule.ParseLearnInterval(),
		a.log,
	)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("scheduler stopped", "error", err)
		}
	}()

	err = newServer(a, port).ListenAndServe(ctx)
	a.log.Info("shutting down")
	return err
}
