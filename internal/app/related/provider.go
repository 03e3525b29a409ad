// Package related builds the related-track lookahead used for continuous playback.
package related

import (
	"context"

	"github.com/osa030/19stream/internal/domain/track"
	"github.com/osa030/19stream/internal/infra/lastfm"
)

// Provider is the interface for related-track providers.
// Different implementations find candidates through various strategies
// (e.g., artist top tracks, recommendations, Last.fm similarity).
type Provider interface {
	// GetCandidates retrieves candidates related to seed.
	// count: the number of candidates wanted
	// exclude: track IDs that must not be returned (the seed and earlier results)
	GetCandidates(ctx context.Context, seed track.Track, count int, exclude map[string]bool) ([]track.Track, error)

	// Name returns the provider type (used in config).
	Name() string
}

// Catalog defines the catalog operations needed by related providers.
type Catalog interface {
	ArtistTopTracks(ctx context.Context, artistID string) ([]track.Track, error)
	Recommendations(ctx context.Context, seedTrackIDs []string, limit int) ([]track.Track, error)
	NewReleases(ctx context.Context, limit int) ([]track.Track, error)
	Search(ctx context.Context, query string, searchType string, limit int) ([]track.Track, error)
}

// LastFmClient defines the Last.fm operations used by the similarity provider.
type LastFmClient interface {
	GetSimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.SimilarTrack, error)
	GetChartTopTracks(ctx context.Context, limit int) ([]lastfm.TopTrack, error)
}

// excludeFrom drops tracks in exclude and duplicates within tracks.
func excludeFrom(tracks []track.Track, exclude map[string]bool, limit int) []track.Track {
	seen := make(map[string]bool, len(tracks))
	out := make([]track.Track, 0, len(tracks))
	for _, t := range tracks {
		if t.ID == "" || exclude[t.ID] || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
