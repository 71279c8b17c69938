// Package render builds the Telegram HTML messages for accepted events and
// routes them to the right chat per category.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nftwatch/internal/config"
	"nftwatch/internal/ens"
	"nftwatch/internal/marketplace"
	logx "nftwatch/pkg/logx"
)

const ipfsGateway = "https://ipfs.io/ipfs/"

type Renderer struct {
	ens    *ens.Resolver
	client *http.Client
	log    logx.Logger
	rand   func() float64
}

func New(resolver *ens.Resolver, log logx.Logger) *Renderer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Renderer{
		ens:    resolver,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
		rand:   rand.Float64,
	}
}

// Sale renders a sale notification. Works for both feed shapes since the
// activity is already normalized.
func (r *Renderer) Sale(ctx context.Context, coll *config.Collection, act marketplace.Activity) string {
	name := act.TokenName
	if unknownName(name) {
		name = "Token #" + act.TokenID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s has been sold!!!</b>\n\n", html.EscapeString(name))
	fmt.Fprintf(&b, "Price: %s\n", formatPrice(act))
	fmt.Fprintf(&b, "Seller: %s\n", html.EscapeString(r.display(ctx, act.From)))
	fmt.Fprintf(&b, "Buyer: %s\n", html.EscapeString(r.display(ctx, act.To)))
	b.WriteString(txLink(coll, act.TxHash))
	appendImage(&b, RewriteIPFS(act.ImageURL))
	return b.String()
}

// Mint renders a mint notification. A missing token name falls back to
// "<collection> #<id>"; a missing image falls back to the collection's
// metadata base URI.
func (r *Renderer) Mint(ctx context.Context, coll *config.Collection, act marketplace.Activity) string {
	name := act.TokenName
	if unknownName(name) {
		collName := coll.Name
		if collName == "" {
			collName = "Unknown Collection"
		}
		name = fmt.Sprintf("%s #%s", collName, act.TokenID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s just minted!</b>\n\n", html.EscapeString(name))
	fmt.Fprintf(&b, "Owner: %s\n", html.EscapeString(r.display(ctx, act.To)))
	b.WriteString(txLink(coll, act.TxHash))
	appendImage(&b, r.imageFor(ctx, coll, act))
	return b.String()
}

// Burn renders a burn notification with a weighted draw over the
// collection's configured messages.
func (r *Renderer) Burn(ctx context.Context, coll *config.Collection, act marketplace.Activity) string {
	name := act.TokenName
	if unknownName(name) {
		name = "Token #" + act.TokenID
	}
	title := WeightedBurnMessage(coll.BurnMessages, name, r.rand())

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n\n", html.EscapeString(title))
	fmt.Fprintf(&b, "Previous Owner: %s\n", html.EscapeString(r.display(ctx, act.From)))
	b.WriteString(txLink(coll, act.TxHash))
	appendImage(&b, r.imageFor(ctx, coll, act))
	return b.String()
}

func (r *Renderer) display(ctx context.Context, address string) string {
	if address == "" {
		return "Unknown"
	}
	if r.ens == nil {
		return ens.Shorten(address)
	}
	return r.ens.Display(ctx, address)
}

// imageFor prefers the feed's own image and falls back to the collection's
// token metadata endpoint.
func (r *Renderer) imageFor(ctx context.Context, coll *config.Collection, act marketplace.Activity) string {
	if act.ImageURL != "" {
		return RewriteIPFS(act.ImageURL)
	}
	return r.fetchTokenImage(ctx, coll, act.TokenID)
}

func (r *Renderer) fetchTokenImage(ctx context.Context, coll *config.Collection, tokenID string) string {
	base := strings.TrimRight(strings.TrimSpace(coll.JSONBaseURI), "/")
	if base == "" || tokenID == "" {
		return ""
	}
	url := base + "/" + tokenID

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Debug("token metadata fetch failed", logx.String("url", url), logx.Err(err))
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ""
	}
	var meta struct {
		Image string `json:"image"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return ""
	}
	return RewriteIPFS(meta.Image)
}

// WeightedBurnMessage draws one message from a cumulative-weight walk over
// msgs, with the final entry as fallback when weights don't sum to 1.
// "{tokenName}" is substituted with tokenName. An empty msgs list uses a
// stock message. rnd must be in [0, 1).
func WeightedBurnMessage(msgs []config.BurnMessage, tokenName string, rnd float64) string {
	if len(msgs) == 0 {
		msgs = []config.BurnMessage{{Weight: 1.0, Message: "{tokenName} has been burned!"}}
	}
	cumulative := 0.0
	for _, m := range msgs {
		cumulative += m.Weight
		if rnd < cumulative {
			return strings.ReplaceAll(m.Message, "{tokenName}", tokenName)
		}
	}
	return strings.ReplaceAll(msgs[len(msgs)-1].Message, "{tokenName}", tokenName)
}

// RewriteIPFS turns ipfs:// URIs into a public gateway URL and passes
// everything else through.
func RewriteIPFS(url string) string {
	if rest, ok := strings.CutPrefix(url, "ipfs://"); ok {
		return ipfsGateway + rest
	}
	return url
}

func unknownName(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "???", "unknown token":
		return true
	}
	return false
}

func formatPrice(act marketplace.Activity) string {
	currency := act.Currency
	if currency == "" {
		currency = "ETH"
	}
	s := fmt.Sprintf("%s %s", act.PriceNative.StringFixed(5), currency)
	if act.PriceUSD.GreaterThan(decimal.Zero) {
		s += fmt.Sprintf(" ($%s USD)", act.PriceUSD.StringFixed(2))
	}
	return s
}

func txLink(coll *config.Collection, txHash string) string {
	base := coll.TxLinkBase
	if base == "" {
		base = "https://abscan.org/tx/"
	}
	return fmt.Sprintf(`<a href="%s%s">View on Explorer</a>`, base, txHash)
}

func appendImage(b *strings.Builder, url string) {
	if url == "" {
		return
	}
	fmt.Fprintf(b, "\n<a href=\"%s\">&#8205;</a>", url)
}
