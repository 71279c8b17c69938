package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	logx "nftwatch/pkg/logx"
)

const defaultOpenSeaBaseURL = "https://api.opensea.io/api/v2"

type OpenSeaConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// OpenSeaClient fetches sale events from the OpenSea v2 events endpoint.
// Sales only: mints and burns stay on the primary source.
type OpenSeaClient struct {
	cfg   OpenSeaConfig
	http  *http.Client
	log   logx.Logger
	price *SpotPriceClient
}

func NewOpenSea(cfg OpenSeaConfig, price *SpotPriceClient, log logx.Logger) (*OpenSeaClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("opensea api key is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenSeaBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &OpenSeaClient{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		log:   log,
		price: price,
	}, nil
}

func (c *OpenSeaClient) Name() string { return "opensea" }

type osEventsResponse struct {
	AssetEvents []osEvent `json:"asset_events"`
}

type osEvent struct {
	EventType      string `json:"event_type"`
	EventTimestamp int64  `json:"event_timestamp"` // unix seconds
	Transaction    string `json:"transaction"`
	Seller         string `json:"seller"`
	Buyer          string `json:"buyer"`
	NFT            *struct {
		Identifier      string `json:"identifier"`
		Name            string `json:"name"`
		ImageURL        string `json:"image_url"`
		DisplayImageURL string `json:"display_image_url"`
	} `json:"nft"`
	Payment *struct {
		Quantity string `json:"quantity"` // wei, as string
		Decimals int32  `json:"decimals"`
		Symbol   string `json:"symbol"`
	} `json:"payment"`
}

// FetchSales returns normalized sale activity for one collection slug,
// newest-first.
func (c *OpenSeaClient) FetchSales(ctx context.Context, slug string, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 50
	}

	u := fmt.Sprintf("%s/events/collection/%s?limit=%s&event_type=sale",
		c.cfg.BaseURL, slug, strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("opensea: unexpected status %d", resp.StatusCode)
	}

	var body osEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("opensea: decode: %w", err)
	}

	out := make([]Activity, 0, len(body.AssetEvents))
	for _, evt := range body.AssetEvents {
		a, ok := c.normalize(ctx, evt)
		if !ok {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *OpenSeaClient) normalize(ctx context.Context, evt osEvent) (Activity, bool) {
	if evt.NFT == nil {
		return Activity{}, false
	}

	a := Activity{
		Kind:      KindTrade,
		TokenID:   evt.NFT.Identifier,
		TxHash:    evt.Transaction,
		From:      normAddr(evt.Seller),
		To:        normAddr(evt.Buyer),
		Time:      time.Unix(evt.EventTimestamp, 0).UTC(),
		TokenName: evt.NFT.Name,
		ImageURL:  evt.NFT.ImageURL,
		Source:    "opensea",
	}
	if a.ImageURL == "" {
		a.ImageURL = evt.NFT.DisplayImageURL
	}

	if p := evt.Payment; p != nil && p.Quantity != "" && p.Quantity != "0" {
		// Quantity is in base units; shift by the payment token's decimals.
		if q, err := decimal.NewFromString(p.Quantity); err == nil {
			a.PriceNative = q.Shift(-p.Decimals)
			a.Currency = p.Symbol
		}

		// USD estimate via spot price, ETH/WETH only.
		sym := strings.ToUpper(p.Symbol)
		if c.price != nil && a.PriceNative.IsPositive() && (sym == "ETH" || sym == "WETH") {
			if spot, err := c.price.ETHUSD(ctx); err == nil && spot.IsPositive() {
				a.PriceUSD = a.PriceNative.Mul(spot)
			}
		}
	}
	return a, true
}
