package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	logx "nftwatch/pkg/logx"
)

const defaultMagicEdenBaseURL = "https://api-mainnet.magiceden.dev/v4/activity/nft"

type MagicEdenConfig struct {
	BaseURL string
	Timeout time.Duration
}

// MagicEdenClient fetches TRADE/MINT/BURN activity from the Magic Eden v4
// activity endpoint. No authentication is required.
type MagicEdenClient struct {
	cfg  MagicEdenConfig
	http *http.Client
	log  logx.Logger
}

func NewMagicEden(cfg MagicEdenConfig, log logx.Logger) *MagicEdenClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultMagicEdenBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &MagicEdenClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

func (c *MagicEdenClient) Name() string { return "magiceden" }

// Wire shapes for the v4 activity response. Only the fields we consume.
type meActivityResponse struct {
	Activities []meActivity `json:"activities"`
}

type meActivity struct {
	ActivityType string `json:"activityType"`
	FromAddress  string `json:"fromAddress"`
	ToAddress    string `json:"toAddress"`
	Timestamp    string `json:"timestamp"` // ISO 8601
	Asset        struct {
		TokenID string `json:"tokenId"`
		Name    string `json:"name"`
		MediaV2 struct {
			Main struct {
				URI string `json:"uri"`
			} `json:"main"`
		} `json:"mediaV2"`
	} `json:"asset"`
	TransactionInfo struct {
		TransactionID string `json:"transactionId"`
	} `json:"transactionInfo"`
	UnitPrice struct {
		Amount struct {
			Native json.Number `json:"native"`
			Fiat   struct {
				USD json.Number `json:"usd"`
			} `json:"fiat"`
		} `json:"amount"`
		Currency struct {
			Symbol string `json:"symbol"`
		} `json:"currency"`
	} `json:"unitPrice"`
}

// Fetch returns normalized activity for one collection, newest-first, as
// the endpoint orders it. Records older than since are the caller's problem;
// the API filter is approximate and inclusive.
func (c *MagicEdenClient) Fetch(ctx context.Context, collectionID, chain string, since time.Time, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 50
	}

	q := url.Values{}
	q.Set("chain", chain)
	q.Add("activityTypes[]", "TRADE")
	q.Add("activityTypes[]", "MINT")
	q.Add("activityTypes[]", "BURN")
	q.Set("collectionId", collectionID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sortBy", "timestamp")
	q.Set("sortDir", "desc")

	u := c.cfg.BaseURL + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "*/*")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("magiceden: unexpected status %d", resp.StatusCode)
	}

	var body meActivityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("magiceden: decode: %w", err)
	}

	out := make([]Activity, 0, len(body.Activities))
	for _, act := range body.Activities {
		a, ok := c.normalize(act)
		if !ok {
			continue
		}
		out = append(out, a)
	}
	c.log.Debug("activity fetched",
		logx.String("collection", collectionID),
		logx.Int("count", len(out)),
		logx.Duration("took", time.Since(start)))
	return out, nil
}

func (c *MagicEdenClient) normalize(act meActivity) (Activity, bool) {
	var kind Kind
	switch act.ActivityType {
	case "TRADE":
		kind = KindTrade
	case "MINT":
		kind = KindMint
	case "BURN":
		kind = KindBurn
	case "TRANSFER":
		kind = KindTransfer
	default:
		return Activity{}, false
	}

	ts, err := time.Parse(time.RFC3339, act.Timestamp)
	if err != nil {
		return Activity{}, false
	}

	a := Activity{
		Kind:      kind,
		TokenID:   act.Asset.TokenID,
		TxHash:    act.TransactionInfo.TransactionID,
		From:      normAddr(act.FromAddress),
		To:        normAddr(act.ToAddress),
		Time:      ts,
		TokenName: act.Asset.Name,
		ImageURL:  act.Asset.MediaV2.Main.URI,
		Currency:  act.UnitPrice.Currency.Symbol,
		Source:    "magiceden",
	}
	if v := act.UnitPrice.Amount.Native.String(); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			a.PriceNative = d
		}
	}
	if v := act.UnitPrice.Amount.Fiat.USD.String(); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			a.PriceUSD = d
		}
	}
	return a, true
}
