package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nftwatch/internal/config"
	"nftwatch/internal/marketplace"
	logx "nftwatch/pkg/logx"
)

type fakeSource struct {
	name string
	mu   sync.Mutex
	next []marketplace.Activity
	err  error
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Fetch(_ context.Context, _ time.Time) ([]marketplace.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		err := s.err
		s.err = nil
		return nil, err
	}
	out := s.next
	s.next = nil
	return out, nil
}

func (s *fakeSource) serve(acts ...marketplace.Activity) {
	s.mu.Lock()
	s.next = acts
	s.mu.Unlock()
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type captureSink struct {
	mu      sync.Mutex
	notices []Notice
	err     error
}

func (s *captureSink) Dispatch(_ context.Context, n Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
	return s.err
}

func (s *captureSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.notices))
	for _, n := range s.notices {
		out = append(out, n.Activity.EventID())
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func testCollection() *config.Collection {
	c := &config.Collection{
		Name:            "Testers",
		ContractAddress: "0xCAFE",
		Cooldown:        "60m",
	}
	c.Normalize()
	return c
}

type fixture struct {
	rec   *Reconciler
	src   *fakeSource
	sink  *captureSink
	store *memStore
	clock *fakeClock
	base  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := time.Unix(1_700_000_000, 0)
	clock := &fakeClock{t: base}
	src := &fakeSource{name: "magiceden"}
	sink := &captureSink{}
	store := newMemStore()

	rec, err := New(Options{
		Collection: testCollection(),
		Store:      store,
		Sources:    []Source{src},
		Sink:       sink,
		Log:        logx.Nop(),
		Now:        clock.now,
	})
	require.NoError(t, err)
	require.NoError(t, rec.Warm(context.Background()))

	return &fixture{rec: rec, src: src, sink: sink, store: store, clock: clock, base: base}
}

func trade(token, tx string, at time.Time) marketplace.Activity {
	return marketplace.Activity{
		Kind:    marketplace.KindTrade,
		TokenID: token,
		TxHash:  tx,
		From:    "0x1111111111111111111111111111111111111111",
		To:      "0x2222222222222222222222222222222222222222",
		Time:    at,
	}
}

func TestPassAcceptsAndPersistsNewTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.set(f.base.Add(10 * time.Second))
	f.src.serve(trade("1", "0xaaa", f.base.Add(5*time.Second)))
	require.NoError(t, f.rec.RunPass(ctx))

	require.Equal(t, []string{"1-0xaaa"}, f.sink.ids())
	require.Equal(t, []string{"1-0xaaa"}, f.store.saved("0xcafe", "sale"))
}

func TestPassDedupsAcrossPasses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.set(f.base.Add(10 * time.Second))
	ev := trade("1", "0xaaa", f.base.Add(5*time.Second))
	f.src.serve(ev)
	require.NoError(t, f.rec.RunPass(ctx))

	// Same event reappears later, dated inside the new window so the time
	// filter does not reject it, and past the cooldown so only the ledger
	// can.
	f.clock.set(f.base.Add(2 * time.Hour))
	ev.Time = f.base.Add(2*time.Hour - time.Second)
	f.src.serve(ev)
	require.NoError(t, f.rec.RunPass(ctx))
	require.Equal(t, []string{"1-0xaaa"}, f.sink.ids())
}

func TestPassDedupsWithinOneBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.set(f.base.Add(10 * time.Second))
	ev := trade("7", "0xabc", f.base.Add(5*time.Second))
	f.src.serve(ev, ev)
	require.NoError(t, f.rec.RunPass(ctx))

	require.Equal(t, []string{"7-0xabc"}, f.sink.ids())
}

func TestPassCooldownSuppressesRepeatSales(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.set(f.base.Add(1 * time.Second))
	f.src.serve(trade("5", "0xaaa", f.base.Add(1*time.Second)))
	require.NoError(t, f.rec.RunPass(ctx))
	require.Equal(t, []string{"5-0xaaa"}, f.sink.ids())

	// A distinct sale of the same token 30 minutes in is suppressed.
	f.clock.set(f.base.Add(1800 * time.Second))
	f.src.serve(trade("5", "0xbbb", f.base.Add(1799*time.Second)))
	require.NoError(t, f.rec.RunPass(ctx))
	require.Equal(t, []string{"5-0xaaa"}, f.sink.ids())

	// Past the window it is eligible again.
	f.clock.set(f.base.Add(3700 * time.Second))
	f.src.serve(trade("5", "0xccc", f.base.Add(3699*time.Second)))
	require.NoError(t, f.rec.RunPass(ctx))
	require.Equal(t, []string{"5-0xaaa", "5-0xccc"}, f.sink.ids())
}

func TestPassCooldownSameBatchFirstWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.set(f.base.Add(10 * time.Second))
	// Newest first, as the upstream delivers. Chronologically 0xaaa is
	// first and must win the window.
	f.src.serve(
		trade("5", "0xbbb", f.base.Add(6*time.Second)),
		trade("5", "0xaaa", f.base.Add(3*time.Second)),
	)
	require.NoError(t, f.rec.RunPass(ctx))
	require.Equal(t, []string{"5-0xaaa"}, f.sink.ids())
}

func TestPassZeroAddressTradeNotASale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := trade("9", "0xaaa", f.base.Add(5*time.Second))
	ev.From = config.DefaultZeroAddress
	f.clock.set(f.base.Add(10 * time.Second))
	f.src.serve(ev)
	require.NoError(t, f.rec.RunPass(ctx))

	require.Empty(t, f.sink.ids())
	require.Empty(t, f.store.saved("0xcafe", "sale"))
}

func TestPassTransferToBurnAddressIsABurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := marketplace.Activity{
		Kind:    marketplace.KindTransfer,
		TokenID: "4",
		TxHash:  "0xdd",
		From:    "0x3333333333333333333333333333333333333333",
		To:      config.DefaultBurnAddress,
		Time:    f.base.Add(5 * time.Second),
	}
	f.clock.set(f.base.Add(10 * time.Second))
	f.src.serve(ev)
	require.NoError(t, f.rec.RunPass(ctx))

	require.Len(t, f.sink.notices, 1)
	require.Equal(t, CategoryBurn, f.sink.notices[0].Category)
	require.Equal(t, []string{"4-0xdd"}, f.store.saved("0xcafe", "burn"))
}

func TestPassOrdinaryTransferIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := marketplace.Activity{
		Kind:    marketplace.KindTransfer,
		TokenID: "4",
		TxHash:  "0xdd",
		From:    "0x3333333333333333333333333333333333333333",
		To:      "0x4444444444444444444444444444444444444444",
		Time:    f.base.Add(5 * time.Second),
	}
	f.clock.set(f.base.Add(10 * time.Second))
	f.src.serve(ev)
	require.NoError(t, f.rec.RunPass(ctx))

	require.Empty(t, f.sink.ids())
}

func TestPassFetchFailureStillAdvancesWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	failAt := f.base.Add(300 * time.Second)
	f.clock.set(failAt)
	f.src.fail(errors.New("upstream down"))
	require.NoError(t, f.rec.RunPass(ctx))
	require.Empty(t, f.sink.ids())

	// An event from the failed window is now below the watermark and is
	// filtered out even though it was never processed.
	f.clock.set(f.base.Add(600 * time.Second))
	f.src.serve(trade("1", "0xaaa", failAt.Add(-10*time.Second)))
	require.NoError(t, f.rec.RunPass(ctx))
	require.Empty(t, f.sink.ids())
}

func TestPassTimeFilterDropsRecordsBeforeWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.set(f.base.Add(10 * time.Second))
	f.src.serve(
		trade("2", "0xbb", f.base.Add(5*time.Second)),
		trade("1", "0xaa", f.base.Add(-5*time.Second)),
	)
	require.NoError(t, f.rec.RunPass(ctx))
	require.Equal(t, []string{"2-0xbb"}, f.sink.ids())
}

func TestPassFlushesOncePerDirtyCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.clock.set(f.base.Add(10 * time.Second))
	f.src.serve(
		trade("2", "0xbb", f.base.Add(6*time.Second)),
		trade("1", "0xaa", f.base.Add(3*time.Second)),
	)
	require.NoError(t, f.rec.RunPass(ctx))

	require.Equal(t, 1, f.store.saveCount("0xcafe", "sale"))
	require.Equal(t, 0, f.store.saveCount("0xcafe", "mint"))
	require.Equal(t, 0, f.store.saveCount("0xcafe", "burn"))
}

func TestPassDispatchFailureKeepsEventRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sink.err = errors.New("channel unavailable")

	f.clock.set(f.base.Add(10 * time.Second))
	f.src.serve(trade("1", "0xaaa", f.base.Add(5*time.Second)))
	require.NoError(t, f.rec.RunPass(ctx))

	// Recorded despite the failed delivery; a later pass will not retry.
	require.Equal(t, []string{"1-0xaaa"}, f.store.saved("0xcafe", "sale"))

	f.sink.err = nil
	f.clock.set(f.base.Add(2 * time.Hour))
	ev := trade("1", "0xaaa", f.base.Add(2*time.Hour-time.Second))
	f.src.serve(ev)
	require.NoError(t, f.rec.RunPass(ctx))
	require.Len(t, f.sink.notices, 1)
}

func TestWarmLoadsPersistedLedgers(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	clock := &fakeClock{t: base}
	src := &fakeSource{name: "magiceden"}
	sink := &captureSink{}
	store := newMemStore()
	store.data["0xcafe/sale"] = []string{"1-0xaaa"}

	rec, err := New(Options{
		Collection: testCollection(),
		Store:      store,
		Sources:    []Source{src},
		Sink:       sink,
		Log:        logx.Nop(),
		Now:        clock.now,
	})
	require.NoError(t, err)
	require.NoError(t, rec.Warm(context.Background()))

	clock.set(base.Add(10 * time.Second))
	src.serve(trade("1", "0xaaa", base.Add(5*time.Second)))
	require.NoError(t, rec.RunPass(context.Background()))
	require.Empty(t, sink.ids())
}
