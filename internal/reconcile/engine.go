package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nftwatch/internal/config"
	"nftwatch/internal/eventbus"
	"nftwatch/internal/marketplace"
	"nftwatch/internal/metrics"
	"nftwatch/internal/storage"
	logx "nftwatch/pkg/logx"
)

// Source is a bound activity feed for one collection. Fetch returns records
// at or after since, newest first. Errors are absorbed by the pass as an
// empty batch.
type Source interface {
	Name() string
	Fetch(ctx context.Context, since time.Time) ([]marketplace.Activity, error)
}

// Notice is one accepted event handed to the sink.
type Notice struct {
	Collection *config.Collection
	Category   Category
	Activity   marketplace.Activity
}

// Sink delivers accepted events. Failures are logged by the caller and
// never roll back ledger state.
type Sink interface {
	Dispatch(ctx context.Context, n Notice) error
}

const (
	TopicPassCompleted   = "pass.completed"
	TopicPassFetchFailed = "pass.fetch_failed"
)

// PassReport is the bus payload for TopicPassCompleted.
type PassReport struct {
	Collection string
	Pass       string
	Accepted   int
	Took       time.Duration
}

type Options struct {
	Collection *config.Collection
	Store      storage.Store
	Sources    []Source
	Sink       Sink
	Bus        eventbus.Bus
	Log        logx.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Reconciler owns the full reconciliation state for one collection: the
// three seen-id ledgers, the token cooldown map, and one watermark per
// source. Nothing else mutates these; a pass takes the reconciler lock for
// its whole duration.
type Reconciler struct {
	coll    *config.Collection
	sources []Source
	sink    Sink
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	mu         sync.Mutex
	ledgers    map[Category]*Ledger
	cooldown   *Cooldown
	watermarks map[string]time.Time
}

func New(opts Options) (*Reconciler, error) {
	if opts.Collection == nil {
		return nil, errors.New("reconcile: collection is required")
	}
	if opts.Store == nil {
		return nil, errors.New("reconcile: store is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("reconcile: sink is required")
	}
	if len(opts.Sources) == 0 {
		return nil, errors.New("reconcile: at least one source is required")
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	coll := opts.Collection
	key := coll.Key()
	caps := map[Category]int{
		CategorySale: coll.MaxKnownSales,
		CategoryMint: coll.MaxKnownMints,
		CategoryBurn: coll.MaxKnownBurns,
	}
	ledgers := make(map[Category]*Ledger, len(caps))
	for cat, max := range caps {
		led, err := NewLedger(opts.Store, key, cat, max, log)
		if err != nil {
			return nil, err
		}
		ledgers[cat] = led
	}

	return &Reconciler{
		coll:       coll,
		sources:    opts.Sources,
		sink:       opts.Sink,
		bus:        opts.Bus,
		log:        log,
		now:        now,
		ledgers:    ledgers,
		cooldown:   NewCooldown(coll.CooldownWindow()),
		watermarks: make(map[string]time.Time, len(opts.Sources)),
	}, nil
}

// Warm loads the persisted ledgers and seeds every source watermark to now.
// Watermarks are memory only: after a restart history before this point is
// never backfilled. Call once before the first pass.
func (r *Reconciler) Warm(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, led := range r.ledgers {
		if err := led.Load(ctx); err != nil {
			return err
		}
	}
	start := r.now()
	for _, src := range r.sources {
		r.watermarks[src.Name()] = start
	}
	r.log.Info("ledgers warmed",
		logx.String("collection", r.coll.Name),
		logx.Int("sales", r.ledgers[CategorySale].Len()),
		logx.Int("mints", r.ledgers[CategoryMint].Len()),
		logx.Int("burns", r.ledgers[CategoryBurn].Len()))
	return nil
}

// Flush retries persistence for any ledger whose last in-pass flush failed.
// Intended for shutdown; a clean ledger is a no-op.
func (r *Reconciler) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for _, led := range r.ledgers {
		if err := led.Flush(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RunPass executes one reconciliation pass: fetch each source from its
// watermark, keep records at or after the watermark, process oldest first,
// flush each dirty ledger once, then dispatch accepted events in order.
//
// Watermarks advance to the pass start time even when a fetch failed.
// Events that occurred during an outage longer than one polling window are
// lost; retrying the window instead would re-fetch storms on every outage,
// so the gap is accepted.
func (r *Reconciler) RunPass(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.now()
	pass := uuid.NewString()[:8]
	log := r.log.With(
		logx.String("collection", r.coll.Name),
		logx.String("pass", pass))

	var accepted []Notice
	dirty := make(map[Category]bool, 3)

	for _, src := range r.sources {
		since := r.watermarks[src.Name()]
		acts, err := src.Fetch(ctx, since)
		if err != nil {
			metrics.FetchFailures.WithLabelValues(r.coll.Name, src.Name()).Inc()
			log.Warn("fetch failed, treating as empty batch",
				logx.String("source", src.Name()), logx.Err(err))
			r.publish(TopicPassFetchFailed, PassReport{Collection: r.coll.Name, Pass: pass})
			acts = nil
		}

		batch := acts[:0:0]
		for _, a := range acts {
			if a.Time.Before(since) {
				continue
			}
			batch = append(batch, a)
		}
		// Upstream order is newest first; process chronologically so the
		// first event on a token wins the cooldown window.
		for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
			batch[i], batch[j] = batch[j], batch[i]
		}

		for _, act := range batch {
			cat, ok := r.classify(act)
			if !ok {
				continue
			}
			n, ok := r.decide(cat, act, start, log)
			if !ok {
				continue
			}
			dirty[cat] = true
			accepted = append(accepted, n)
		}

		r.watermarks[src.Name()] = start
	}

	// One flush per touched ledger, before dispatch: a crash between commit
	// and delivery can only lose a notification, never duplicate one.
	for _, cat := range []Category{CategorySale, CategoryMint, CategoryBurn} {
		if !dirty[cat] {
			continue
		}
		if err := r.ledgers[cat].Flush(ctx); err != nil {
			log.Error("ledger flush failed", logx.String("category", string(cat)), logx.Err(err))
		}
	}

	for _, n := range accepted {
		if err := r.sink.Dispatch(ctx, n); err != nil {
			log.Warn("dispatch failed, event stays recorded",
				logx.String("category", string(n.Category)),
				logx.String("id", n.Activity.EventID()),
				logx.Err(err))
		}
	}

	metrics.Passes.WithLabelValues(r.coll.Name).Inc()
	took := r.now().Sub(start)
	r.publish(TopicPassCompleted, PassReport{
		Collection: r.coll.Name,
		Pass:       pass,
		Accepted:   len(accepted),
		Took:       took,
	})
	log.Debug("pass complete",
		logx.Int("accepted", len(accepted)),
		logx.Duration("took", took))
	return nil
}

// classify routes one record to its ledger category.
//
// Two structural exceptions: a trade whose origin is the zero address is a
// primary mint path, not a resale, and is not tracked as a sale; a transfer
// is tracked only when its destination is the burn address, in which case
// it counts as a burn.
func (r *Reconciler) classify(act marketplace.Activity) (Category, bool) {
	switch act.Kind {
	case marketplace.KindTrade:
		if strings.EqualFold(act.From, r.coll.ZeroAddress) {
			return "", false
		}
		return CategorySale, true
	case marketplace.KindMint:
		return CategoryMint, true
	case marketplace.KindBurn:
		return CategoryBurn, true
	case marketplace.KindTransfer:
		if strings.EqualFold(act.To, r.coll.BurnAddress) {
			return CategoryBurn, true
		}
		return "", false
	default:
		return "", false
	}
}

func (r *Reconciler) decide(cat Category, act marketplace.Activity, now time.Time, log logx.Logger) (Notice, bool) {
	id := act.EventID()

	// Cooldown applies to sales only and is checked before the ledger so a
	// suppressed repeat never consumes ledger capacity.
	if cat == CategorySale && r.cooldown.Active(act.TokenID, now) {
		metrics.CooldownSuppressed.WithLabelValues(r.coll.Name).Inc()
		log.Debug("token cooling down, skipping sale",
			logx.String("token", act.TokenID), logx.String("id", id))
		return Notice{}, false
	}

	led := r.ledgers[cat]
	if led.Contains(id) {
		metrics.EventsDeduped.WithLabelValues(r.coll.Name, string(cat)).Inc()
		return Notice{}, false
	}
	led.Record(id)
	if cat == CategorySale {
		r.cooldown.Mark(act.TokenID, now)
	}
	metrics.EventsAccepted.WithLabelValues(r.coll.Name, string(cat)).Inc()
	return Notice{Collection: r.coll, Category: cat, Activity: act}, true
}

func (r *Reconciler) publish(topic string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: topic, Data: data})
}
