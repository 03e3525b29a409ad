package related

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/19stream/internal/domain/track"
)

// RecommendationsProviderConfig represents settings of the recommendations provider.
type RecommendationsProviderConfig struct {
	Limit int `yaml:"limit" mapstructure:"limit" default:"20" validate:"gte=1,lte=100"`
}

// RecommendationsProvider suggests catalog recommendations seeded by the track.
type RecommendationsProvider struct {
	catalog Catalog
	config  *RecommendationsProviderConfig
}

// NewRecommendationsProvider creates a new RecommendationsProvider.
func NewRecommendationsProvider(catalog Catalog, settings map[string]any) (*RecommendationsProvider, error) {
	if catalog == nil {
		return nil, errors.New("catalog client is required")
	}

	var config RecommendationsProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &RecommendationsProvider{catalog: catalog, config: &config}, nil
}

// GetCandidates returns recommendations for the seed track.
func (p *RecommendationsProvider) GetCandidates(ctx context.Context, seed track.Track, count int, exclude map[string]bool) ([]track.Track, error) {
	if seed.ID == "" {
		return nil, errors.New("seed track has no ID")
	}

	tracks, err := p.catalog.Recommendations(ctx, []string{seed.ID}, p.config.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get recommendations")
	}
	return excludeFrom(tracks, exclude, count), nil
}

// Name returns the provider name.
func (p *RecommendationsProvider) Name() string {
	return "recommendations"
}
