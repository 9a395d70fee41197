package services

import (
	"fmt"
	"log"
	"time"

	"metals_scanner/models"

	"github.com/shopspring/decimal"
)

// PricingAPIName is the ledger key for the spot price API.
const PricingAPIName = "metals-api"

// PriceCache decides whether a stored quote is fresh enough to serve or an
// upstream fetch is warranted, gated by the quota ledger and driven by the
// market clock's regime. It does no background refresh; staleness is bounded
// only by caller cadence and the TTL table.
type PriceCache struct {
	store PriceStore
	quota *QuotaLedger
	clock *MarketClock
	ttl   map[Regime]time.Duration
	now   func() time.Time
}

// CachedPrice is a stored quote plus its age, for reporting.
type CachedPrice struct {
	MetalType  string          `json:"metal_type"`
	PricePerOz decimal.Decimal `json:"price_per_oz"`
	FetchedAt  time.Time       `json:"fetched_at"`
	AgeMinutes int             `json:"age_minutes"`
	Stale      bool            `json:"stale"`
}

// NewPriceCache builds a cache with the given regime TTL table (minutes).
func NewPriceCache(store PriceStore, quota *QuotaLedger, clock *MarketClock, ttlMinutes map[Regime]int) *PriceCache {
	ttl := make(map[Regime]time.Duration, len(ttlMinutes))
	for regime, minutes := range ttlMinutes {
		ttl[regime] = time.Duration(minutes) * time.Minute
	}
	return &PriceCache{
		store: store,
		quota: quota,
		clock: clock,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// TTL returns the cache duration for a regime.
func (c *PriceCache) TTL(regime Regime) time.Duration {
	return c.ttl[regime]
}

// GetOrFetch returns the stored quote for a metal while it is younger than
// the current regime's TTL, and otherwise fetches a fresh one through the
// quota ledger. Quota exhaustion and upstream failure both degrade to the
// most recent stored quote regardless of staleness; with nothing stored the
// call fails with ErrNoPriceAvailable. fetch is invoked at most once.
func (c *PriceCache) GetOrFetch(metalType string, fetch func() (decimal.Decimal, error)) (*models.SpotPrice, error) {
	cached, err := c.store.LatestSpotPrice(metalType)
	if err != nil {
		return nil, err
	}

	now := c.now()
	if cached != nil {
		age := now.Sub(cached.FetchedAt)
		if age < c.ttl[c.clock.Regime(now)] {
			log.Printf("Using cached %s price (age: %dmin)", metalType, int(age.Minutes()))
			return cached, nil
		}
	}

	if err := c.quota.CheckAndIncrement(PricingAPIName); err != nil {
		if !IsQuotaExceeded(err) {
			return nil, err
		}
		return c.fallback(metalType, cached, err)
	}

	price, err := fetch()
	if err != nil {
		return c.fallback(metalType, cached, err)
	}

	fresh := &models.SpotPrice{
		MetalType:  metalType,
		PricePerOz: price,
		FetchedAt:  c.now(),
	}
	if err := c.store.InsertSpotPrice(fresh); err != nil {
		return nil, err
	}
	log.Printf("Stored %s price: $%s/oz", metalType, price.StringFixed(2))
	PublishEvent(EventPriceUpdated, map[string]interface{}{
		"metal_type":   metalType,
		"price_per_oz": price,
		"fetched_at":   fresh.FetchedAt,
	})
	return fresh, nil
}

// fallback serves the stale quote when a fresh fetch is impossible.
func (c *PriceCache) fallback(metalType string, cached *models.SpotPrice, cause error) (*models.SpotPrice, error) {
	if cached == nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrNoPriceAvailable, metalType, cause)
	}
	age := c.now().Sub(cached.FetchedAt)
	log.Printf("Falling back to stale %s quote (age: %dmin): %v", metalType, int(age.Minutes()), cause)
	return cached, nil
}

// CachedPrices returns the current stored quote per metal with age; it never
// makes upstream calls. Metals without any stored quote are omitted.
func (c *PriceCache) CachedPrices(metals []string) ([]CachedPrice, error) {
	now := c.now()
	regime := c.clock.Regime(now)

	prices := make([]CachedPrice, 0, len(metals))
	for _, metal := range metals {
		quote, err := c.store.LatestSpotPrice(metal)
		if err != nil {
			return nil, err
		}
		if quote == nil {
			continue
		}
		age := now.Sub(quote.FetchedAt)
		prices = append(prices, CachedPrice{
			MetalType:  quote.MetalType,
			PricePerOz: quote.PricePerOz,
			FetchedAt:  quote.FetchedAt,
			AgeMinutes: int(age.Minutes()),
			Stale:      age >= c.ttl[regime],
		})
	}
	return prices, nil
}
