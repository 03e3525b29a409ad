package related

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19stream/internal/app/filter"
	"github.com/osa030/19stream/internal/infra/config"
)

// defaultProviders mirrors the classic lookahead: artist top tracks, then recommendations.
var defaultProviders = []config.ProviderConfig{
	{Type: "artist_top_tracks"},
	{Type: "recommendations"},
}

// NewProviderChainFromConfig creates a provider chain from configuration.
func NewProviderChainFromConfig(cfg *config.Config, catalog Catalog, filters *filter.Chain) (*ProviderChain, error) {
	pcfgs := cfg.Related.Providers
	if len(pcfgs) == 0 {
		pcfgs = defaultProviders
	}

	providers := make([]Provider, 0, len(pcfgs))

	for i, pcfg := range pcfgs {
		var provider Provider
		var err error
		zlog.Debug().Msgf("creating related provider: index=%d type=%s", i+1, pcfg.Type)
		switch pcfg.Type {
		case "artist_top_tracks":
			provider, err = NewArtistTopTracksProvider(catalog)

		case "recommendations":
			provider, err = NewRecommendationsProvider(catalog, pcfg.Settings)

		case "lastfm_similar":
			provider, err = NewLastFmSimilarProvider(catalog, pcfg.Settings)

		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}

		providers = append(providers, provider)
		zlog.Info().Msgf("registered related provider: index=%d type=%s", i+1, pcfg.Type)
	}

	return NewProviderChain(providers, filters, cfg.Related.MinResults, cfg.Related.MaxResults), nil
}

// NewRefresherFromConfig creates the candidate filters, the provider chain and the refresher.
func NewRefresherFromConfig(cfg *config.Config, catalog Catalog) (*Refresher, error) {
	filters, err := filter.NewChainFromConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create candidate filters")
	}

	chain, err := NewProviderChainFromConfig(cfg, catalog, filters)
	if err != nil {
		return nil, err
	}

	return NewRefresher(chain, catalog, RefresherConfig{
		FallbackMax:      cfg.Related.FallbackMax,
		NewReleaseAlbums: cfg.Related.NewReleaseAlbums,
		NewReleaseTTL:    cfg.Related.NewReleaseTTL(),
	}), nil
}
