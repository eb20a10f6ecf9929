// ABOUTME: Tests for the BTC price feed against an httptest price API
// ABOUTME: Covers parsing, caching, expiry and unknown currencies

package wallet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeed(t *testing.T, status int, body string) (*PriceFeed, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewPriceFeed(srv.URL, time.Minute), &calls
}

func TestPriceFeed_CurrentPrice(t *testing.T) {
	feed, calls := newTestFeed(t, http.StatusOK, `{"bitcoin":{"kes":8500000.5}}`)

	price, err := feed.CurrentPrice(context.Background(), "KES")
	require.NoError(t, err)
	assert.Equal(t, 8500000.5, price)

	_, err = feed.CurrentPrice(context.Background(), "kes")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second lookup should hit the cache")
}

func TestPriceFeed_CacheExpires(t *testing.T) {
	feed, calls := newTestFeed(t, http.StatusOK, `{"bitcoin":{"kes":1}}`)
	now := time.Unix(1_700_000_000, 0)
	feed.now = func() time.Time { return now }

	_, err := feed.CurrentPrice(context.Background(), "KES")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = feed.CurrentPrice(context.Background(), "KES")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPriceFeed_UnknownCurrency(t *testing.T) {
	feed, _ := newTestFeed(t, http.StatusOK, `{"bitcoin":{}}`)
	_, err := feed.CurrentPrice(context.Background(), "XYZ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPriceFeed_ServerError(t *testing.T) {
	feed, _ := newTestFeed(t, http.StatusTooManyRequests, `{"error":"rate limited"}`)
	_, err := feed.CurrentPrice(context.Background(), "KES")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
}
