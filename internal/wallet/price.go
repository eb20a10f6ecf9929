// ABOUTME: Bitcoin spot price feed backed by a CoinGecko-compatible simple price API
// ABOUTME: Caches each currency briefly and collapses concurrent lookups into one request

package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultPriceURL is CoinGecko's public simple price endpoint.
const DefaultPriceURL = "https://api.coingecko.com/api/v3/simple/price"

// DefaultPriceTTL is how long a fetched price is served from cache.
const DefaultPriceTTL = time.Minute

type cachedPrice struct {
	value     float64
	fetchedAt time.Time
}

// PriceFeed looks up the BTC price in a fiat currency.
type PriceFeed struct {
	url    string
	ttl    time.Duration
	client *http.Client
	now    func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cachedPrice
}

// NewPriceFeed creates a feed for the simple price API at endpoint. An empty
// endpoint uses DefaultPriceURL.
func NewPriceFeed(endpoint string, ttl time.Duration) *PriceFeed {
	if endpoint == "" {
		endpoint = DefaultPriceURL
	}
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	return &PriceFeed{
		url:    endpoint,
		ttl:    ttl,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
		cache:  make(map[string]cachedPrice),
	}
}

// CurrentPrice returns the price of one BTC in currency. Unknown currencies
// return ErrNotFound.
func (f *PriceFeed) CurrentPrice(ctx context.Context, currency string) (float64, error) {
	currency = strings.ToLower(currency)

	f.mu.Lock()
	c, ok := f.cache[currency]
	f.mu.Unlock()
	if ok && f.now().Sub(c.fetchedAt) < f.ttl {
		return c.value, nil
	}

	v, err, _ := f.group.Do(currency, func() (any, error) {
		price, err := f.fetch(ctx, currency)
		if err != nil {
			return 0.0, err
		}
		f.mu.Lock()
		f.cache[currency] = cachedPrice{value: price, fetchedAt: f.now()}
		f.mu.Unlock()
		return price, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (f *PriceFeed) fetch(ctx context.Context, currency string) (float64, error) {
	q := url.Values{"ids": {"bitcoin"}, "vs_currencies": {currency}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url+"?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("creating price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: price feed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, handleErrorResponse(resp)
	}

	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decoding price: %w", err)
	}
	price, ok := body["bitcoin"][currency]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%w: no BTC price in %s", ErrNotFound, strings.ToUpper(currency))
	}
	return price, nil
}
