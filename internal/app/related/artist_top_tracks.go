package related

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/19stream/internal/domain/track"
)

// ErrNoSeedArtist is returned when the seed track has no artist ID.
var ErrNoSeedArtist = errors.New("seed track has no artist")

// ArtistTopTracksProvider suggests the top tracks of the seed's primary artist.
type ArtistTopTracksProvider struct {
	catalog Catalog
}

// NewArtistTopTracksProvider creates a new ArtistTopTracksProvider.
func NewArtistTopTracksProvider(catalog Catalog) (*ArtistTopTracksProvider, error) {
	if catalog == nil {
		return nil, errors.New("catalog client is required")
	}
	return &ArtistTopTracksProvider{catalog: catalog}, nil
}

// GetCandidates returns the artist's top tracks without the seed.
func (p *ArtistTopTracksProvider) GetCandidates(ctx context.Context, seed track.Track, count int, exclude map[string]bool) ([]track.Track, error) {
	artistID := seed.PrimaryArtistID()
	if artistID == "" {
		return nil, ErrNoSeedArtist
	}

	tracks, err := p.catalog.ArtistTopTracks(ctx, artistID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get artist top tracks")
	}
	return excludeFrom(tracks, exclude, count), nil
}

// Name returns the provider name.
func (p *ArtistTopTracksProvider) Name() string {
	return "artist_top_tracks"
}
