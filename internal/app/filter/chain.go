package filter

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19stream/internal/domain/track"
	"github.com/osa030/19stream/internal/infra/config"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// NewChainFromConfig builds the chain from the enabled filters in cfg.
// The market filter uses the catalog market and the duplicate filter is
// always on.
func NewChainFromConfig(cfg *config.Config) (*Chain, error) {
	c := NewChain()
	c.Add(NewDuplicateTrackFilter())

	if cfg.IsFilterEnabled("market_filter") {
		c.Add(NewMarketFilter(cfg.Spotify.Market))
	}

	names := make([]string, 0, len(cfg.Filters))
	for name := range cfg.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !cfg.IsFilterEnabled(name) {
			continue
		}
		factory, ok := registry[name]
		if !ok {
			// Filters built with dependencies are added above
			continue
		}
		f := factory()
		if err := f.ValidateConfig(cfg.FilterSettings(name)); err != nil {
			return nil, errors.Wrapf(err, "filter %s", name)
		}
		c.Add(f)
	}

	for _, f := range c.filters {
		zlog.Info().Msgf("registered candidate filter: name=%s", f.Name())
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the candidate.
func (c *Chain) Execute(ctx context.Context, candidate track.Track, ref Reference) Result {
	for _, f := range c.filters {
		result := f.Check(ctx, candidate, ref)
		if !result.Accepted {
			return result
		}
	}
	return Accept()
}

// Apply keeps the candidates every filter accepts, in order. Accepted
// candidates join the reference so later duplicates are rejected too.
func (c *Chain) Apply(ctx context.Context, candidates []track.Track, ref Reference) []track.Track {
	existing := append([]track.Track(nil), ref.Existing...)
	out := make([]track.Track, 0, len(candidates))

	for _, t := range candidates {
		result := c.Execute(ctx, t, Reference{Seed: ref.Seed, Existing: existing})
		if !result.Accepted {
			zlog.Debug().Msgf("filter: candidate rejected: track=%s code=%s", t.ID, result.Code)
			continue
		}
		out = append(out, t)
		existing = append(existing, t)
	}
	return out
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
