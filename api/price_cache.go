package api

import (
	"context"
	"strings"

	"github.com/degenduel/duel-settlement/entities"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

type PriceSource interface {
	GetPrices(ctx context.Context, feedIDs []string) []entities.PriceQuote
}

// PriceCache serves the latest snapshot per feed set until its TTL runs out.
type PriceCache struct {
	source PriceSource
	cache  *ttlcache.Cache[string, []entities.PriceQuote]
	group  singleflight.Group
}

func NewPriceCache(source PriceSource, cache *ttlcache.Cache[string, []entities.PriceQuote]) *PriceCache {
	return &PriceCache{
		source: source,
		cache:  cache,
	}
}

// GetPrices serves a cached snapshot or fetches one. Concurrent misses on the same feed set
// share one fetch; other feed sets are not held up by it.
func (p *PriceCache) GetPrices(ctx context.Context, feedIDs []string) []entities.PriceQuote {
	key := strings.Join(feedIDs, ",")
	if item := p.cache.Get(key); item != nil {
		return item.Value()
	}

	v, _, _ := p.group.Do(key, func() (any, error) {
		if item := p.cache.Get(key); item != nil {
			return item.Value(), nil
		}
		quotes := p.source.GetPrices(ctx, feedIDs)
		if len(quotes) > 0 {
			p.cache.Set(key, quotes, ttlcache.DefaultTTL)
		}
		return quotes, nil
	})
	return v.([]entities.PriceQuote)
}

// Store caches a snapshot produced elsewhere, for example by the price stream.
func (p *PriceCache) Store(feedIDs []string, quotes []entities.PriceQuote) {
	if len(quotes) == 0 {
		return
	}
	p.cache.Set(strings.Join(feedIDs, ","), quotes, ttlcache.DefaultTTL)
}
