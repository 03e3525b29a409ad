package related

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19stream/internal/domain/track"
	"github.com/osa030/19stream/internal/infra/lastfm"
)

// LastFmSimilarProviderConfig represents settings of the Last.fm similarity provider.
type LastFmSimilarProviderConfig struct {
	APIKey      string  `yaml:"api_key" mapstructure:"api_key" validate:"required"`
	Limit       int     `yaml:"limit" mapstructure:"limit" default:"20" validate:"gte=1,lte=100"`
	MinMatch    float64 `yaml:"min_match" mapstructure:"min_match" validate:"gte=0,lte=1"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency" default:"4" validate:"gte=1,lte=16"`
}

// LastFmSimilarProvider suggests Last.fm similar tracks resolved through catalog search.
// Seeds without an artist fall back to the global chart.
type LastFmSimilarProvider struct {
	lastfm  LastFmClient
	catalog Catalog
	config  *LastFmSimilarProviderConfig

	// Cache for catalog search results
	searchCache map[string]*track.Track
	cacheMutex  sync.RWMutex
}

// NewLastFmSimilarProvider creates a new LastFmSimilarProvider.
func NewLastFmSimilarProvider(catalog Catalog, settings map[string]any) (*LastFmSimilarProvider, error) {
	config, err := parseLastFmSettings(settings)
	if err != nil {
		return nil, err
	}

	lastfmClient, err := lastfm.New(lastfm.Config{APIKey: config.APIKey})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create last.fm client")
	}

	return newLastFmSimilarProvider(catalog, lastfmClient, config)
}

func newLastFmSimilarProvider(catalog Catalog, client LastFmClient, config *LastFmSimilarProviderConfig) (*LastFmSimilarProvider, error) {
	if catalog == nil {
		return nil, errors.New("catalog client is required")
	}
	return &LastFmSimilarProvider{
		lastfm:      client,
		catalog:     catalog,
		config:      config,
		searchCache: make(map[string]*track.Track),
	}, nil
}

func parseLastFmSettings(settings map[string]any) (*LastFmSimilarProviderConfig, error) {
	if len(settings) == 0 {
		return nil, errors.New("settings are required")
	}

	var config LastFmSimilarProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &config, nil
}

// GetCandidates retrieves tracks similar to the seed.
func (p *LastFmSimilarProvider) GetCandidates(ctx context.Context, seed track.Track, count int, exclude map[string]bool) ([]track.Track, error) {
	if count <= 0 {
		return []track.Track{}, nil
	}

	var pairs []nameArtist
	if artist := seed.PrimaryArtist(); artist != "" && seed.Name != "" {
		similar, err := p.lastfm.GetSimilarTracks(ctx, seed.Name, artist, p.config.Limit)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get similar tracks")
		}
		for _, s := range similar {
			if s.Match < p.config.MinMatch {
				continue
			}
			pairs = append(pairs, nameArtist{name: s.Name, artist: s.Artist})
		}
	} else {
		// No artist to anchor on, use global charts
		chart, err := p.lastfm.GetChartTopTracks(ctx, p.config.Limit)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get chart top tracks")
		}
		for _, c := range chart {
			pairs = append(pairs, nameArtist{name: c.Name, artist: c.Artist})
		}
	}

	resolved := p.resolveAll(ctx, pairs)
	return excludeFrom(resolved, exclude, count), nil
}

// Name returns the provider name.
func (p *LastFmSimilarProvider) Name() string {
	return "lastfm_similar"
}

type nameArtist struct {
	name   string
	artist string
}

// resolveAll resolves pairs to catalog tracks with bounded parallelism, keeping order.
func (p *LastFmSimilarProvider) resolveAll(ctx context.Context, pairs []nameArtist) []track.Track {
	results := make([]*track.Track, len(pairs))
	sem := make(chan struct{}, p.config.Concurrency)
	var wg sync.WaitGroup

	for i, pair := range pairs {
		wg.Add(1)
		go func(i int, pair nameArtist) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			results[i] = p.searchOnCatalog(ctx, pair.name, pair.artist)
		}(i, pair)
	}
	wg.Wait()

	tracks := make([]track.Track, 0, len(results))
	for _, t := range results {
		if t != nil {
			tracks = append(tracks, *t)
		}
	}
	return tracks
}

// searchOnCatalog searches for a track in the catalog with caching.
func (p *LastFmSimilarProvider) searchOnCatalog(ctx context.Context, trackName, artistName string) *track.Track {
	key := strings.ToLower(fmt.Sprintf("%s:%s", trackName, artistName))

	// Check cache
	p.cacheMutex.RLock()
	if cached, ok := p.searchCache[key]; ok {
		p.cacheMutex.RUnlock()
		return cached
	}
	p.cacheMutex.RUnlock()

	query := fmt.Sprintf("track:%s artist:%s", trackName, artistName)
	results, err := p.catalog.Search(ctx, query, "track", 1)

	var found *track.Track
	if err != nil {
		zlog.Debug().Msgf("related: catalog search failed: query=%q error=%v", query, err)
		// Transient failures are not cached
		if ctx.Err() != nil {
			return nil
		}
	} else if len(results) > 0 {
		found = &results[0]
	}

	// Cache misses too, to avoid repeated failed searches
	p.cacheMutex.Lock()
	p.searchCache[key] = found
	p.cacheMutex.Unlock()

	return found
}
