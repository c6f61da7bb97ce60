package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/tubeloop/internal/logger"
	"github.com/elonfeng/tubeloop/pkg/learning"
)

const youtubeAPI = "https://www.googleapis.com/youtube/v3"

// YouTube collects recent uploads and their statistics from the YouTube
// Data API for a fixed set of channels.
type YouTube struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	channels   []string
	maxResults int
	log        *logger.Logger
	now        func() time.Time
}

// NewYouTube creates a new YouTube collector.
func NewYouTube(apiKey string, channels []string, maxResults int, log *logger.Logger) *YouTube {
	if maxResults <= 0 || maxResults > 50 {
		maxResults = 25
	}
	return &YouTube{
		client:     &http.Client{Timeout: 30 * time.Second},
		baseURL:    youtubeAPI,
		apiKey:     apiKey,
		channels:   channelIDs(channels),
		maxResults: maxResults,
		log:        logger.OrNop(log),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (y *YouTube) Name() Kind { return KindYouTube }

func (y *YouTube) Collect(ctx context.Context) ([]learning.Video, error) {
	if y.apiKey == "" {
		return nil, errors.New("youtube: API key required (set YOUTUBE_API_KEY)")
	}

	var ids []string
	for _, ch := range y.channels {
		found, err := y.search(ctx, ch)
		if err != nil {
			y.log.Warn("youtube channel search failed", "channel", ch, "error", err)
			continue
		}
		ids = append(ids, found...)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return y.videos(ctx, ids)
}

// search returns the newest video ids uploaded by a channel.
func (y *YouTube) search(ctx context.Context, channelID string) ([]string, error) {
	params := url.Values{}
	params.Set("part", "id")
	params.Set("channelId", channelID)
	params.Set("type", "video")
	params.Set("order", "date")
	params.Set("maxResults", strconv.Itoa(y.maxResults))
	params.Set("key", y.apiKey)

	var result ytSearchResult
	if err := y.get(ctx, "/search", params, &result); err != nil {
		return nil, fmt.Errorf("search channel %s: %w", channelID, err)
	}

	var ids []string
	for _, item := range result.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	return ids, nil
}

// videos fetches snippet and statistics for ids in batches of 50.
func (y *YouTube) videos(ctx context.Context, ids []string) ([]learning.Video, error) {
	collected := y.now()
	var out []learning.Video
	for start := 0; start < len(ids); start += 50 {
		end := min(start+50, len(ids))

		params := url.Values{}
		params.Set("part", "snippet,statistics")
		params.Set("id", strings.Join(ids[start:end], ","))
		params.Set("key", y.apiKey)

		var result ytVideoResult
		if err := y.get(ctx, "/videos", params, &result); err != nil {
			return out, fmt.Errorf("fetch video statistics: %w", err)
		}

		for _, v := range result.Items {
			out = append(out, learning.Video{
				ID:           v.ID,
				ChannelID:    v.Snippet.ChannelID,
				ChannelTitle: v.Snippet.ChannelTitle,
				Title:        v.Snippet.Title,
				PublishedAt:  v.Snippet.PublishedAt.UTC(),
				Views:        v.Statistics.ViewCount,
				Likes:        v.Statistics.LikeCount,
				Comments:     v.Statistics.CommentCount,
				CollectedAt:  collected,
			})
		}
	}
	return out, nil
}

func (y *YouTube) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create youtube request: %w", err)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch youtube %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("youtube %s status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode youtube %s: %w", path, err)
	}
	return nil
}

type ytSearchResult struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type ytSnippet struct {
	Title        string    `json:"title"`
	ChannelTitle string    `json:"channelTitle"`
	ChannelID    string    `json:"channelId"`
	PublishedAt  time.Time `json:"publishedAt"`
}

type ytVideoResult struct {
	Items []struct {
		ID         string    `json:"id"`
		Snippet    ytSnippet `json:"snippet"`
		Statistics struct {
			ViewCount    int64 `json:"viewCount,string"`
			LikeCount    int64 `json:"likeCount,string"`
			CommentCount int64 `json:"commentCount,string"`
		} `json:"statistics"`
	} `json:"items"`
}
