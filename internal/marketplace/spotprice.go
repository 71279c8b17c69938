package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const coinbaseSpotURL = "https://api.coinbase.com/v2/prices/ETH-USD/spot"

// SpotPriceClient fetches the ETH/USD spot price from Coinbase, cached
// briefly so a burst of sales doesn't hammer the endpoint.
type SpotPriceClient struct {
	http *http.Client
	url  string

	mu        sync.Mutex
	cached    decimal.Decimal
	fetchedAt time.Time
	ttl       time.Duration
}

func NewSpotPrice(timeout time.Duration) *SpotPriceClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SpotPriceClient{
		http: &http.Client{Timeout: timeout},
		url:  coinbaseSpotURL,
		ttl:  2 * time.Minute,
	}
}

func (c *SpotPriceClient) ETHUSD(ctx context.Context) (decimal.Decimal, error) {
	c.mu.Lock()
	if !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.ttl {
		v := c.cached
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("coinbase: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			Amount string `json:"amount"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("coinbase: decode: %w", err)
	}
	price, err := decimal.NewFromString(body.Data.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("coinbase: bad amount %q: %w", body.Data.Amount, err)
	}

	c.mu.Lock()
	c.cached = price
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return price, nil
}
