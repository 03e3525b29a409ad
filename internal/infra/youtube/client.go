// Package youtube resolves tracks to playable videos through the YouTube Data API.
package youtube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/19stream/internal/domain/track"
)

// musicCategoryID is the YouTube video category for music.
const musicCategoryID = "10"

var (
	// ErrNoAPIKey is returned when the client is used without an API key.
	ErrNoAPIKey = errors.New("youtube API key is not configured")
)

// Config represents YouTube client configuration.
type Config struct {
	APIKey     string
	SearchURL  string
	MaxResults int
	CacheTTL   time.Duration
	RateLimit  float64 // Requests per second
}

type cacheEntry struct {
	video    *track.VideoRef // nil caches a miss
	cachedAt time.Time
}

// Client searches for videos and caches results per query.
type Client struct {
	apiKey     string
	searchURL  string
	videosURL  string
	maxResults int
	cacheTTL   time.Duration
	limiter    *rate.Limiter
	http       *http.Client

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   struct {
				Default struct {
					URL string `json:"url"`
				} `json:"default"`
				Medium struct {
					URL string `json:"url"`
				} `json:"medium"`
				High struct {
					URL string `json:"url"`
				} `json:"high"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

type videosResponse struct {
	Items []struct {
		ID             string `json:"id"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// New creates a new YouTube client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = "https://www.googleapis.com/youtube/v3/search"
	}
	if cfg.MaxResults <= 0 || cfg.MaxResults > 50 {
		cfg.MaxResults = 10
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}

	return &Client{
		apiKey:     cfg.APIKey,
		searchURL:  cfg.SearchURL,
		videosURL:  videosURLFor(cfg.SearchURL),
		maxResults: cfg.MaxResults,
		cacheTTL:   cfg.CacheTTL,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		http:       &http.Client{Timeout: 10 * time.Second},
		cache:      make(map[string]cacheEntry),
	}, nil
}

// SearchVideo returns the first music video matching query, or nil when there is none.
func (c *Client) SearchVideo(ctx context.Context, query string) (*track.VideoRef, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is required")
	}

	key := strings.ToLower(query)
	if video, ok := c.cached(key); ok {
		zlog.Debug().Msgf("youtube: cache hit: query=%q", query)
		return video, nil
	}

	video, err := c.search(ctx, query)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{video: video, cachedAt: time.Now()}
	c.mu.Unlock()

	return video, nil
}

func (c *Client) cached(key string) (*track.VideoRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if c.cacheTTL > 0 && time.Since(entry.cachedAt) >= c.cacheTTL {
		return nil, false
	}
	return entry.video, true
}

func (c *Client) search(ctx context.Context, query string) (*track.VideoRef, error) {
	val := url.Values{}
	val.Set("part", "snippet")
	val.Set("type", "video")
	val.Set("videoCategoryId", musicCategoryID)
	val.Set("maxResults", strconv.Itoa(c.maxResults))
	val.Set("q", query)
	val.Set("key", c.apiKey)

	var body searchResponse
	if err := c.get(ctx, c.searchURL+"?"+val.Encode(), &body); err != nil {
		return nil, errors.Wrap(err, "failed to search videos")
	}

	for _, it := range body.Items {
		if it.ID.VideoID == "" {
			continue
		}

		thumbs := it.Snippet.Thumbnails
		thumb := thumbs.High.URL
		if thumb == "" {
			thumb = thumbs.Medium.URL
		}
		if thumb == "" {
			thumb = thumbs.Default.URL
		}

		video := &track.VideoRef{
			ID:           it.ID.VideoID,
			Title:        it.Snippet.Title,
			ChannelTitle: it.Snippet.ChannelTitle,
			ThumbnailURL: thumb,
		}

		// Duration is informational; a failure keeps the hit
		if d, err := c.fetchDuration(ctx, video.ID); err != nil {
			zlog.Warn().Msgf("youtube: failed to fetch duration: video=%s error=%v", video.ID, err)
		} else {
			video.Duration = d
		}
		return video, nil
	}

	return nil, nil
}

func (c *Client) fetchDuration(ctx context.Context, id string) (time.Duration, error) {
	val := url.Values{}
	val.Set("part", "contentDetails")
	val.Set("id", id)
	val.Set("key", c.apiKey)

	var body videosResponse
	if err := c.get(ctx, c.videosURL+"?"+val.Encode(), &body); err != nil {
		return 0, err
	}
	for _, item := range body.Items {
		if item.ID == id {
			return parseISO8601Duration(item.ContentDetails.Duration), nil
		}
	}
	return 0, nil
}

// get waits for the rate limiter, then performs a GET and decodes JSON into out.
func (c *Client) get(ctx context.Context, reqURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("youtube status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}

// videosURLFor derives the videos endpoint from the search endpoint.
func videosURLFor(searchURL string) string {
	if base, ok := strings.CutSuffix(searchURL, "/search"); ok {
		return base + "/videos"
	}
	return "https://www.googleapis.com/youtube/v3/videos"
}

var isoDuration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// parseISO8601Duration parses PT#H#M#S durations. Day components are not supported.
func parseISO8601Duration(duration string) time.Duration {
	matches := isoDuration.FindStringSubmatch(duration)
	if matches == nil {
		return 0
	}

	var total time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, unit := range units {
		if matches[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(matches[i+1])
		if err != nil {
			return 0
		}
		total += time.Duration(n) * unit
	}
	return total
}
