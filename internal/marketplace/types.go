// Package marketplace normalizes NFT marketplace activity feeds into one
// Activity shape, regardless of which vendor API produced them.
package marketplace

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindTrade    Kind = "trade"
	KindMint     Kind = "mint"
	KindBurn     Kind = "burn"
	KindTransfer Kind = "transfer"
)

// Activity is one normalized on-chain activity record.
//
// TokenID plus TxHash form the natural identity of the underlying event;
// EventID() is the stable key used for dedup across polling passes.
type Activity struct {
	Kind    Kind
	TokenID string
	TxHash  string
	From    string // lower-cased
	To      string // lower-cased
	Time    time.Time

	// Display payload, opaque to the reconciliation core.
	TokenName   string
	ImageURL    string
	PriceNative decimal.Decimal
	PriceUSD    decimal.Decimal
	Currency    string
	Source      string // "magiceden", "opensea"
}

// EventID returns the dedup identity "<tokenId>-<txHash>".
func (a Activity) EventID() string {
	return a.TokenID + "-" + a.TxHash
}

func normAddr(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
