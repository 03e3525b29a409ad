// Package spotify provides a catalog client for the Spotify API.
package spotify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/osa030/19stream/internal/domain/playlist"
	"github.com/osa030/19stream/internal/domain/track"
)

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
}

// New creates a new Spotify client authenticated with the client credentials flow.
// The catalog endpoints used here need no user authorization.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}

	// Token source refreshes automatically
	httpClient := creds.Client(ctx)
	return newClient(spotify.New(httpClient), cfg.Market), nil
}

func newClient(sc *spotify.Client, market string) *Client {
	if market == "" {
		market = "JP"
	}
	return &Client{
		client:     sc,
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*track.Track, error) {
	// Extract track ID from URL/URI if necessary
	id := extractTrackID(trackID)
	if id == "" {
		return nil, errors.New("track ID is required")
	}

	var result *spotify.FullTrack
	err := c.retry(func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}

	return c.convertTrack(result), nil
}

// Search searches for tracks on Spotify.
func (c *Client) Search(ctx context.Context, query string, searchType string, limit int) ([]track.Track, error) {
	if query == "" {
		return nil, errors.New("search query is required")
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	var result *spotify.SearchResult
	err := c.retry(func() error {
		// Only track results are converted; other types fall back to track search
		st := spotify.SearchType(spotify.SearchTypeTrack)
		if searchType != "" && searchType != "track" {
			zlog.Debug().Msgf("spotify: unsupported search type, using track: type=%s", searchType)
		}

		r, err := c.client.Search(ctx, query, st, spotify.Limit(limit), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to search")
	}
	if result.Tracks == nil {
		return []track.Track{}, nil
	}

	// Convert search results to tracks
	tracks := make([]track.Track, 0, len(result.Tracks.Tracks))
	for _, t := range result.Tracks.Tracks {
		tracks = append(tracks, *c.convertTrack(&t))
	}

	return tracks, nil
}

// ArtistTopTracks retrieves the top tracks of an artist in the configured market.
func (c *Client) ArtistTopTracks(ctx context.Context, artistID string) ([]track.Track, error) {
	if artistID == "" {
		return nil, errors.New("artist ID is required")
	}

	var result []spotify.FullTrack
	err := c.retry(func() error {
		r, err := c.client.GetArtistsTopTracks(ctx, spotify.ID(artistID), c.market)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get artist top tracks")
	}

	tracks := make([]track.Track, 0, len(result))
	for i := range result {
		tracks = append(tracks, *c.convertTrack(&result[i]))
	}
	return tracks, nil
}

// Recommendations retrieves tracks recommended from the given seed tracks.
// Spotify accepts at most five seeds.
func (c *Client) Recommendations(ctx context.Context, seedTrackIDs []string, limit int) ([]track.Track, error) {
	if len(seedTrackIDs) == 0 {
		return nil, errors.New("at least one seed track is required")
	}
	if len(seedTrackIDs) > 5 {
		seedTrackIDs = seedTrackIDs[:5]
	}
	if limit <= 0 {
		limit = 20
	}

	seeds := spotify.Seeds{Tracks: make([]spotify.ID, len(seedTrackIDs))}
	for i, id := range seedTrackIDs {
		seeds.Tracks[i] = spotify.ID(extractTrackID(id))
	}

	var result *spotify.Recommendations
	err := c.retry(func() error {
		r, err := c.client.GetRecommendations(ctx, seeds, nil,
			spotify.Limit(limit),
			spotify.Market(c.market),
		)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get recommendations")
	}

	tracks := make([]track.Track, 0, len(result.Tracks))
	for i := range result.Tracks {
		tracks = append(tracks, c.convertSimpleTrack(&result.Tracks[i], nil))
	}
	return tracks, nil
}

// NewReleases retrieves the newest albums and returns the first track of each.
// Albums whose track listing cannot be fetched are skipped.
func (c *Client) NewReleases(ctx context.Context, limit int) ([]track.Track, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	var page *spotify.SimpleAlbumPage
	err := c.retry(func() error {
		p, err := c.client.NewReleases(ctx, spotify.Country(c.market), spotify.Limit(limit))
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get new releases")
	}

	tracks := make([]track.Track, 0, len(page.Albums))
	for i := range page.Albums {
		album := &page.Albums[i]

		var first *spotify.SimpleTrackPage
		err := c.retry(func() error {
			p, err := c.client.GetAlbumTracks(ctx, album.ID, spotify.Limit(1), spotify.Market(c.market))
			if err != nil {
				return err
			}
			first = p
			return nil
		})
		if err != nil {
			zlog.Warn().Msgf("spotify: failed to get first track of new release: album=%s error=%v", album.ID, err)
			continue
		}
		if len(first.Tracks) == 0 {
			continue
		}
		tracks = append(tracks, c.convertSimpleTrack(&first.Tracks[0], album))
	}

	return tracks, nil
}

// AlbumTracks retrieves an album with all of its tracks.
func (c *Client) AlbumTracks(ctx context.Context, albumID string) (*playlist.Playlist, error) {
	id := extractAlbumID(albumID)
	if id == "" {
		return nil, errors.New("invalid album ID")
	}

	var album *spotify.FullAlbum
	err := c.retry(func() error {
		a, err := c.client.GetAlbum(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		album = a
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get album")
	}

	result := &playlist.Playlist{
		ID:     string(album.ID),
		Kind:   playlist.KindAlbum,
		Name:   album.Name,
		URL:    fmt.Sprintf("https://open.spotify.com/album/%s", album.ID),
		Tracks: make([]track.Track, 0, len(album.Tracks.Tracks)),
	}

	offset := 0
	limit := 50
	page := &album.Tracks
	for {
		for i := range page.Tracks {
			result.Tracks = append(result.Tracks, c.convertSimpleTrack(&page.Tracks[i], &album.SimpleAlbum))
		}
		offset += len(page.Tracks)
		if len(page.Tracks) == 0 || offset >= int(album.Tracks.Total) {
			break
		}

		var next *spotify.SimpleTrackPage
		err := c.retry(func() error {
			p, err := c.client.GetAlbumTracks(ctx, album.ID,
				spotify.Limit(limit),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			next = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get album tracks")
		}
		page = next
	}

	return result, nil
}

// PlaylistTracks retrieves a playlist with all of its tracks.
func (c *Client) PlaylistTracks(ctx context.Context, playlistURL string) (*playlist.Playlist, error) {
	playlistID := extractPlaylistID(playlistURL)
	if playlistID == "" {
		return nil, errors.New("invalid playlist URL")
	}

	var info *spotify.FullPlaylist
	err := c.retry(func() error {
		p, err := c.client.GetPlaylist(ctx, spotify.ID(playlistID), spotify.Market(c.market))
		if err != nil {
			return err
		}
		info = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "playlist does not exist or is not accessible")
	}

	result := &playlist.Playlist{
		ID:   playlistID,
		Kind: playlist.KindPlaylist,
		Name: info.Name,
		URL:  c.GetPlaylistURL(playlistID),
	}

	offset := 0
	limit := 100

	for {
		var page *spotify.PlaylistItemPage
		err := c.retry(func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
				spotify.Limit(limit),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			// Only process tracks (exclude episodes)
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				result.Tracks = append(result.Tracks, *c.convertTrack(item.Track.Track))
			}
		}

		if len(page.Items) < limit {
			break
		}
		offset += limit
	}

	return result, nil
}

// GetPlaylistURL returns the Spotify URL for a playlist.
func (c *Client) GetPlaylistURL(playlistID string) string {
	return fmt.Sprintf("https://open.spotify.com/playlist/%s", playlistID)
}

// convertTrack converts a Spotify FullTrack to domain Track.
func (c *Client) convertTrack(t *spotify.FullTrack) *track.Track {
	converted := c.convertSimpleTrack(&t.SimpleTrack, &t.Album)
	converted.Popularity = int(t.Popularity)

	// Relinked tracks report playability for the requested market
	if t.IsPlayable != nil {
		converted.IsPlayable = t.IsPlayable
	}
	return &converted
}

// convertSimpleTrack converts a Spotify SimpleTrack to domain Track.
// album may be nil when the response carries no album object.
func (c *Client) convertSimpleTrack(t *spotify.SimpleTrack, album *spotify.SimpleAlbum) track.Track {
	artists := make([]string, len(t.Artists))
	artistIDs := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
		artistIDs[i] = string(a.ID)
	}

	markets := make([]string, len(t.AvailableMarkets))
	copy(markets, t.AvailableMarkets)

	converted := track.Track{
		ID:        string(t.ID),
		Name:      t.Name,
		Artists:   artists,
		ArtistIDs: artistIDs,
		Duration:  time.Duration(t.Duration) * time.Millisecond,
		URL:       c.GetTrackURL(string(t.ID)),
		Explicit:  t.Explicit,
		Markets:   markets,
	}

	if album != nil {
		converted.Album = album.Name
		converted.AlbumID = string(album.ID)
		if len(album.Images) > 0 {
			converted.AlbumArtURL = album.Images[0].URL
		}
	}
	return converted
}

// GetTrackURL returns the Spotify URL for a track.
func (c *Client) GetTrackURL(trackID string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", trackID)
}

// retry retries an operation with exponential backoff.
func (c *Client) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractID extracts a catalog ID of the given kind from a Spotify URL or URI.
func extractID(input, kind string) string {
	input = strings.TrimSpace(input)
	// Handle Spotify URI format: spotify:<kind>:ID
	if prefix := "spotify:" + kind + ":"; strings.HasPrefix(input, prefix) {
		return strings.TrimPrefix(input, prefix)
	}

	// Handle URL format: https://open.spotify.com/<kind>/ID or https://open.spotify.com/intl-XX/<kind>/ID
	sep := "/" + kind + "/"
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, sep) {
		parts := strings.Split(input, sep)
		if len(parts) >= 2 {
			// Remove query parameters and trailing slashes
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	// Assume it's already an ID
	return input
}

// extractPlaylistID extracts the playlist ID from a Spotify playlist URL or URI.
func extractPlaylistID(input string) string {
	return extractID(input, "playlist")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	return extractID(input, "track")
}

// extractAlbumID extracts the album ID from a Spotify album URL or URI.
func extractAlbumID(input string) string {
	return extractID(input, "album")
}
