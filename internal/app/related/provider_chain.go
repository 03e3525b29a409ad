package related

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19stream/internal/app/filter"
	"github.com/osa030/19stream/internal/domain/track"
)

// ErrAllProvidersFailed is returned when every provider in the chain errored.
var ErrAllProvidersFailed = errors.New("all related providers failed")

// ProviderChain tries providers in order until enough candidates are found.
type ProviderChain struct {
	providers  []Provider
	filters    *filter.Chain
	minResults int
	maxResults int
}

// NewProviderChain creates a new provider chain.
// Later providers are consulted only while fewer than minResults candidates are found.
func NewProviderChain(providers []Provider, filters *filter.Chain, minResults, maxResults int) *ProviderChain {
	if filters == nil {
		filters = filter.NewChain()
	}
	return &ProviderChain{
		providers:  providers,
		filters:    filters,
		minResults: minResults,
		maxResults: maxResults,
	}
}

// GetCandidates collects filtered, deduplicated candidates for seed, never including seed itself.
// A provider that errors is skipped; ErrAllProvidersFailed is returned only when none succeeded.
func (c *ProviderChain) GetCandidates(ctx context.Context, seed track.Track) ([]track.Track, error) {
	excludeIDs := map[string]bool{seed.ID: true}
	all := make([]track.Track, 0, c.maxResults)
	failures := 0

	for i, p := range c.providers {
		zlog.Debug().Msgf("related: trying provider: index=%d total=%d provider_type=%s seed=%s",
			i+1, len(c.providers), p.Name(), seed.ID)

		candidates, err := p.GetCandidates(ctx, seed, c.maxResults, excludeIDs)
		if err != nil {
			failures++
			zlog.Warn().Msgf("related: provider failed, trying next: provider=%s error=%v", p.Name(), err)
			continue
		}

		accepted := c.filters.Apply(ctx, candidates, filter.Reference{Seed: seed, Existing: all})
		for _, t := range accepted {
			if len(all) >= c.maxResults {
				break
			}
			all = append(all, t)
			// Update exclude set to avoid duplicates from next provider
			excludeIDs[t.ID] = true
		}

		zlog.Debug().Msgf("related: provider returned candidates: provider=%s count=%d accepted=%d total_so_far=%d",
			p.Name(), len(candidates), len(accepted), len(all))

		if len(all) >= c.minResults {
			break
		}
	}

	if failures == len(c.providers) {
		return nil, ErrAllProvidersFailed
	}

	return all, nil
}

// Providers returns the providers in order.
func (c *ProviderChain) Providers() []Provider {
	return c.providers
}
