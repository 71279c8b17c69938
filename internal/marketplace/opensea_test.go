package marketplace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "nftwatch/pkg/logx"
)

const osSampleBody = `{
  "asset_events": [
    {
      "event_type": "sale",
      "event_timestamp": 1755693000,
      "transaction": "0xabc123",
      "seller": "0xDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD",
      "buyer": "0xEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEEE",
      "nft": {
        "identifier": "42",
        "name": "Tester #42",
        "image_url": "",
        "display_image_url": "https://img.example/42.png"
      },
      "payment": {
        "quantity": "1500000000000000000",
        "decimals": 18,
        "symbol": "WETH"
      }
    },
    {
      "event_type": "sale",
      "event_timestamp": 1755692000,
      "transaction": "0xdef456",
      "seller": "0x1111",
      "buyer": "0x2222",
      "nft": null
    }
  ]
}`

func newSpotPriceTest(t *testing.T, body string) (*SpotPriceClient, *int) {
	t.Helper()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	sp := NewSpotPrice(time.Second)
	sp.url = srv.URL
	return sp, &hits
}

func TestOpenSeaFetchSales(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		w.Write([]byte(osSampleBody))
	}))
	defer srv.Close()

	sp, _ := newSpotPriceTest(t, `{"data": {"amount": "2800.00"}}`)
	c, err := NewOpenSea(OpenSeaConfig{APIKey: "sekret", BaseURL: srv.URL}, sp, logx.Nop())
	if err != nil {
		t.Fatalf("NewOpenSea: %v", err)
	}

	acts, err := c.FetchSales(context.Background(), "testers", 10)
	if err != nil {
		t.Fatalf("FetchSales: %v", err)
	}

	if gotPath != "/events/collection/testers" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "sekret" {
		t.Errorf("x-api-key = %q", gotKey)
	}

	// Events without an nft object are dropped.
	if len(acts) != 1 {
		t.Fatalf("activities = %d, want 1", len(acts))
	}

	a := acts[0]
	if a.Kind != KindTrade {
		t.Errorf("kind = %q, want trade", a.Kind)
	}
	if a.EventID() != "42-0xabc123" {
		t.Errorf("event id = %q", a.EventID())
	}
	if a.From != "0xdddddddddddddddddddddddddddddddddddddddd" {
		t.Errorf("seller not lower-cased: %q", a.From)
	}
	if want := time.Unix(1755693000, 0).UTC(); !a.Time.Equal(want) {
		t.Errorf("time = %v, want %v", a.Time, want)
	}
	if a.ImageURL != "https://img.example/42.png" {
		t.Errorf("image fallback = %q", a.ImageURL)
	}
	if a.PriceNative.String() != "1.5" {
		t.Errorf("price native = %s", a.PriceNative)
	}
	if a.Currency != "WETH" {
		t.Errorf("currency = %q", a.Currency)
	}
	if a.PriceUSD.String() != "4200" {
		t.Errorf("price usd = %s", a.PriceUSD)
	}
	if a.Source != "opensea" {
		t.Errorf("source = %q", a.Source)
	}
}

func TestOpenSeaNoPayment(t *testing.T) {
	body := `{"asset_events": [{
		"event_type": "sale",
		"event_timestamp": 1755693000,
		"transaction": "0xabc",
		"nft": {"identifier": "1", "name": "Tester #1"}
	}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c, err := NewOpenSea(OpenSeaConfig{APIKey: "k", BaseURL: srv.URL}, nil, logx.Nop())
	if err != nil {
		t.Fatalf("NewOpenSea: %v", err)
	}
	acts, err := c.FetchSales(context.Background(), "testers", 10)
	if err != nil {
		t.Fatalf("FetchSales: %v", err)
	}
	if len(acts) != 1 {
		t.Fatalf("activities = %d, want 1", len(acts))
	}
	if !acts[0].PriceNative.IsZero() || !acts[0].PriceUSD.IsZero() {
		t.Errorf("expected zero prices, got %s / %s", acts[0].PriceNative, acts[0].PriceUSD)
	}
}

func TestOpenSeaRequiresAPIKey(t *testing.T) {
	if _, err := NewOpenSea(OpenSeaConfig{APIKey: "  "}, nil, logx.Nop()); err == nil {
		t.Fatal("expected error for blank api key")
	}
}

func TestSpotPriceCaches(t *testing.T) {
	sp, hits := newSpotPriceTest(t, `{"data": {"amount": "2800.00"}}`)

	for i := 0; i < 3; i++ {
		price, err := sp.ETHUSD(context.Background())
		if err != nil {
			t.Fatalf("ETHUSD: %v", err)
		}
		if price.String() != "2800" {
			t.Errorf("price = %s", price)
		}
	}
	if *hits != 1 {
		t.Errorf("upstream hits = %d, want 1", *hits)
	}
}

func TestSpotPriceBadAmount(t *testing.T) {
	sp, _ := newSpotPriceTest(t, `{"data": {"amount": "not-a-number"}}`)
	if _, err := sp.ETHUSD(context.Background()); err == nil {
		t.Fatal("expected error for bad amount")
	}
}
