package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
)

// RateFetcher converts fiat amounts to sats using exchange spot prices.
// Prices from multiple exchanges are averaged; a single exchange being down
// is tolerated, all of them being down is an error.
type RateFetcher struct {
	client *http.Client
	cache  *gocache.Cache
}

var bitfinexPairs = map[string]string{"USD": "btcusd", "EUR": "btceur"}

// NewRateFetcher creates a fetcher caching rates for ttl.
func NewRateFetcher(ttl time.Duration) *RateFetcher {
	return &RateFetcher{
		client: &http.Client{Timeout: 5 * time.Second},
		cache:  gocache.New(ttl, 2*ttl),
	}
}

// BTCPrice returns the cached average BTC price in the given currency.
func (f *RateFetcher) BTCPrice(ctx context.Context, currency string) (float64, error) {
	currency = strings.ToUpper(currency)
	if cached, found := f.cache.Get(currency); found {
		return cached.(float64), nil
	}

	var sum float64
	var responses int
	for name, fetch := range map[string]func(context.Context, string) (float64, error){
		"coinbase": f.coinbasePrice,
		"bitfinex": f.bitfinexPrice,
	} {
		price, err := fetch(ctx, currency)
		if err != nil {
			slog.Warn("exchange price fetch failed", "exchange", name, "currency", currency, "error", err)
			continue
		}
		sum += price
		responses++
	}
	if responses == 0 {
		return 0, errors.New("no exchange returned a price")
	}

	avg := sum / float64(responses)
	f.cache.SetDefault(currency, avg)
	return avg, nil
}

// FiatToMsat converts a fiat amount to millisatoshis at the current rate.
func (f *RateFetcher) FiatToMsat(ctx context.Context, amount float64, currency string) (int64, error) {
	price, err := f.BTCPrice(ctx, currency)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("non-positive BTC price %f for %s", price, currency)
	}
	btc := amount / price
	return int64(btc * 1e11), nil
}

func (f *RateFetcher) fetchJSON(ctx context.Context, url, path string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return 0, err
	}
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return 0, fmt.Errorf("missing %s in response from %s", path, url)
	}
	return result.Float(), nil
}

func (f *RateFetcher) coinbasePrice(ctx context.Context, currency string) (float64, error) {
	url := fmt.Sprintf("https://api.coinbase.com/v2/prices/spot?currency=%s", currency)
	return f.fetchJSON(ctx, url, "data.amount")
}

func (f *RateFetcher) bitfinexPrice(ctx context.Context, currency string) (float64, error) {
	pair, ok := bitfinexPairs[currency]
	if !ok {
		return 0, fmt.Errorf("no bitfinex pair for %s", currency)
	}
	url := fmt.Sprintf("https://api.bitfinex.com/v1/pubticker/%s", pair)
	return f.fetchJSON(ctx, url, "last_price")
}
