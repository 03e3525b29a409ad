package related

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/osa030/19stream/internal/domain/track"
)

// Refresher computes the related lookahead for a track.
// When the provider chain fails entirely it falls back to cached new releases.
type Refresher struct {
	chain            *ProviderChain
	catalog          Catalog
	fallbackMax      int
	newReleaseAlbums int
	newReleaseTTL    time.Duration
	now              func() time.Time

	mu         sync.Mutex
	releases   []track.Track
	releasesAt time.Time
	loaded     bool
}

// RefresherConfig holds the fallback settings of a Refresher.
type RefresherConfig struct {
	FallbackMax      int
	NewReleaseAlbums int
	NewReleaseTTL    time.Duration // Zero never expires
}

// NewRefresher creates a new Refresher.
func NewRefresher(chain *ProviderChain, catalog Catalog, cfg RefresherConfig) *Refresher {
	return &Refresher{
		chain:            chain,
		catalog:          catalog,
		fallbackMax:      cfg.FallbackMax,
		newReleaseAlbums: cfg.NewReleaseAlbums,
		newReleaseTTL:    cfg.NewReleaseTTL,
		now:              time.Now,
	}
}

// Refresh returns the new lookahead for seed. current is the lookahead being replaced;
// fallback results skip its entries. An error means no lookahead could be computed
// and the caller should keep what it has.
func (r *Refresher) Refresh(ctx context.Context, seed track.Track, current []track.Track) ([]track.Track, error) {
	if seed.ID == "" {
		return nil, errors.New("seed track has no ID")
	}

	tracks, err := r.chain.GetCandidates(ctx, seed)
	if err == nil {
		return tracks, nil
	}
	if !errors.Is(err, ErrAllProvidersFailed) {
		return nil, err
	}

	zlog.Warn().Msgf("related: all providers failed, using new releases: seed=%s", seed.ID)

	releases, err := r.NewReleases(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "new release fallback")
	}

	present := lo.SliceToMap(current, func(t track.Track) (string, bool) { return t.ID, true })
	present[seed.ID] = true

	fallback := lo.Filter(releases, func(t track.Track, _ int) bool {
		return !present[t.ID]
	})
	if len(fallback) > r.fallbackMax {
		fallback = fallback[:r.fallbackMax]
	}
	return fallback, nil
}

// NewReleases returns the cached new releases, fetching them when missing or expired.
// A failed refetch keeps serving the stale cache.
func (r *Refresher) NewReleases(ctx context.Context) ([]track.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded && (r.newReleaseTTL <= 0 || r.now().Sub(r.releasesAt) < r.newReleaseTTL) {
		return r.releases, nil
	}

	releases, err := r.catalog.NewReleases(ctx, r.newReleaseAlbums)
	if err != nil {
		if r.loaded {
			zlog.Warn().Msgf("related: failed to refresh new releases, serving stale cache: error=%v", err)
			return r.releases, nil
		}
		return nil, errors.Wrap(err, "failed to load new releases")
	}

	r.releases = releases
	r.releasesAt = r.now()
	r.loaded = true
	zlog.Debug().Msgf("related: cached new releases: count=%d", len(releases))
	return r.releases, nil
}
