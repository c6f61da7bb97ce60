package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/elonfeng/tubeloop/internal/logger"
	"github.com/elonfeng/tubeloop/pkg/learning"
)

const channelFeedURL = "https://www.youtube.com/feeds/videos.xml"

// Feed collects recent uploads from public YouTube channel Atom feeds. It
// needs no API key. Views and likes come from the media:community block;
// comment counts are not published there and stay zero.
type Feed struct {
	client   *http.Client
	parser   *gofeed.Parser
	baseURL  string
	channels []string
	log      *logger.Logger
	now      func() time.Time
}

// NewFeed creates a new channel feed collector.
func NewFeed(channels []string, log *logger.Logger) *Feed {
	return &Feed{
		client:   &http.Client{Timeout: 30 * time.Second},
		parser:   gofeed.NewParser(),
		baseURL:  channelFeedURL,
		channels: channelIDs(channels),
		log:      logger.OrNop(log),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (f *Feed) Name() Kind { return KindFeed }

func (f *Feed) Collect(ctx context.Context) ([]learning.Video, error) {
	var all []learning.Video
	var failed int
	for _, ch := range f.channels {
		videos, err := f.collectChannel(ctx, ch)
		if err != nil {
			f.log.Warn("channel feed failed", "channel", ch, "error", err)
			failed++
			continue
		}
		all = append(all, videos...)
	}
	if failed > 0 && failed == len(f.channels) {
		return nil, errors.New("feed: every channel feed failed")
	}
	return all, nil
}

func (f *Feed) collectChannel(ctx context.Context, channelID string) ([]learning.Video, error) {
	reqURL := f.baseURL + "?" + url.Values{"channel_id": {channelID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request %s: %w", channelID, err)
	}
	req.Header.Set("User-Agent", "tubeloop/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", channelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s status %d", channelID, resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", channelID, err)
	}

	collected := f.now()
	var videos []learning.Video
	for _, entry := range parsed.Items {
		id := extValue(entry, "yt", "videoId")
		if id == "" {
			continue
		}

		published := collected
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		} else if entry.UpdatedParsed != nil {
			published = entry.UpdatedParsed.UTC()
		}

		ch := extValue(entry, "yt", "channelId")
		if ch == "" {
			ch = channelID
		}

		title := parsed.Title
		if entry.Author != nil && entry.Author.Name != "" {
			title = entry.Author.Name
		}

		views, likes := communityStats(entry)
		videos = append(videos, learning.Video{
			ID:           id,
			ChannelID:    ch,
			ChannelTitle: title,
			Title:        entry.Title,
			PublishedAt:  published,
			Views:        views,
			Likes:        likes,
			CollectedAt:  collected,
		})
	}
	return videos, nil
}

func extValue(entry *gofeed.Item, ns, name string) string {
	if vals := entry.Extensions[ns][name]; len(vals) > 0 {
		return vals[0].Value
	}
	return ""
}

// communityStats reads media:group/media:community/{statistics@views, starRating@count}.
func communityStats(entry *gofeed.Item) (views, likes int64) {
	groups := entry.Extensions["media"]["group"]
	if len(groups) == 0 {
		return 0, 0
	}
	community := groups[0].Children["community"]
	if len(community) == 0 {
		return 0, 0
	}
	if stats := community[0].Children["statistics"]; len(stats) > 0 {
		views, _ = strconv.ParseInt(stats[0].Attrs["views"], 10, 64)
	}
	if rating := community[0].Children["starRating"]; len(rating) > 0 {
		likes, _ = strconv.ParseInt(rating[0].Attrs["count"], 10, 64)
	}
	return views, likes
}
