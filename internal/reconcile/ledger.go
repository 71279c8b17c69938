package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"nftwatch/internal/storage"
	logx "nftwatch/pkg/logx"
)

// Category names one seen-id ledger per collection. It doubles as the file
// name component under the storage layer.
type Category string

const (
	CategorySale Category = "sale"
	CategoryMint Category = "mint"
	CategoryBurn Category = "burn"
)

// Ledger is the bounded set of event ids already handled for one
// collection+category. Insertion order is discovery order; on overflow the
// oldest id is evicted. Mutations are only valid from the owning
// reconciliation pass, so the ledger itself carries no lock.
//
// The LRU underneath is used insert-only: ids are added once and never
// touched again, which makes its eviction order plain FIFO and its Keys()
// snapshot oldest-first.
type Ledger struct {
	collection string
	category   Category
	set        *simplelru.LRU[string, struct{}]
	store      storage.Store
	log        logx.Logger
	dirty      bool
}

func NewLedger(store storage.Store, collection string, category Category, max int, log logx.Logger) (*Ledger, error) {
	if max <= 0 {
		return nil, fmt.Errorf("ledger %s/%s: max must be positive, got %d", collection, category, max)
	}
	set, err := simplelru.NewLRU[string, struct{}](max, nil)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{
		collection: collection,
		category:   category,
		set:        set,
		store:      store,
		log:        log,
	}, nil
}

// Load restores the persisted sequence. Ids failing the shape contract are
// dropped, and if any were dropped the cleaned sequence is persisted right
// away so the same corruption is not reprocessed on every start.
func (l *Ledger) Load(ctx context.Context) error {
	ids, err := l.store.LoadIDs(ctx, l.collection, string(l.category))
	if err != nil {
		return fmt.Errorf("load ledger %s/%s: %w", l.collection, l.category, err)
	}
	dropped := 0
	for _, id := range ids {
		if !ValidEventID(id) {
			dropped++
			l.log.Warn("dropping malformed ledger entry",
				logx.String("collection", l.collection),
				logx.String("category", string(l.category)),
				logx.String("id", id))
			continue
		}
		l.set.Add(id, struct{}{})
	}
	if dropped > 0 {
		return l.persist(ctx)
	}
	return nil
}

// Contains reports whether id was already recorded. It never changes
// eviction order.
func (l *Ledger) Contains(id string) bool {
	return l.set.Contains(id)
}

// Record appends id, evicting the oldest entry when full. Call at most once
// per id, after Contains returned false.
func (l *Ledger) Record(id string) {
	l.set.Add(id, struct{}{})
	l.dirty = true
}

// Flush persists the current sequence if anything was recorded since the
// last flush. Persistence is atomic at the storage layer.
func (l *Ledger) Flush(ctx context.Context) error {
	if !l.dirty {
		return nil
	}
	if err := l.persist(ctx); err != nil {
		return err
	}
	l.dirty = false
	return nil
}

func (l *Ledger) Len() int { return l.set.Len() }

// IDs returns the current sequence oldest-first.
func (l *Ledger) IDs() []string { return l.set.Keys() }

func (l *Ledger) persist(ctx context.Context) error {
	if err := l.store.SaveIDs(ctx, l.collection, string(l.category), l.set.Keys()); err != nil {
		return fmt.Errorf("persist ledger %s/%s: %w", l.collection, l.category, err)
	}
	return nil
}

// ValidEventID checks the "<tokenID>-<txHash>" shape: a non-empty numeric
// token id and a hex-prefixed transaction hash.
func ValidEventID(id string) bool {
	token, hash, ok := strings.Cut(id, "-")
	if !ok || token == "" {
		return false
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(hash) > 2 && strings.HasPrefix(hash, "0x")
}
