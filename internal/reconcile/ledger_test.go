package reconcile

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	logx "nftwatch/pkg/logx"
)

// memStore is an in-memory storage.Store for tests. It counts SaveIDs
// calls per collection+category.
type memStore struct {
	mu    sync.Mutex
	data  map[string][]string
	saves map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		data:  make(map[string][]string),
		saves: make(map[string]int),
	}
}

func (m *memStore) key(collection, category string) string {
	return collection + "/" + category
}

func (m *memStore) LoadIDs(_ context.Context, collection, category string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.data[m.key(collection, category)]
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

func (m *memStore) SaveIDs(_ context.Context, collection, category string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(ids))
	copy(out, ids)
	m.data[m.key(collection, category)] = out
	m.saves[m.key(collection, category)]++
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) saved(collection, category string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[m.key(collection, category)]
}

func (m *memStore) saveCount(collection, category string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[m.key(collection, category)]
}

func TestLedgerFIFOEviction(t *testing.T) {
	st := newMemStore()
	led, err := NewLedger(st, "0xcafe", CategorySale, 2, logx.Nop())
	require.NoError(t, err)

	for _, id := range []string{"1-0xa", "2-0xb", "3-0xc"} {
		require.False(t, led.Contains(id))
		led.Record(id)
	}
	require.NoError(t, led.Flush(context.Background()))

	require.Equal(t, []string{"2-0xb", "3-0xc"}, st.saved("0xcafe", "sale"))
	require.False(t, led.Contains("1-0xa"))
	require.True(t, led.Contains("2-0xb"))
	require.True(t, led.Contains("3-0xc"))
}

func TestLedgerFlushOnlyWhenDirty(t *testing.T) {
	st := newMemStore()
	led, err := NewLedger(st, "0xcafe", CategoryMint, 10, logx.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, led.Flush(ctx))
	require.Equal(t, 0, st.saveCount("0xcafe", "mint"))

	led.Record("1-0xa")
	require.NoError(t, led.Flush(ctx))
	require.NoError(t, led.Flush(ctx))
	require.Equal(t, 1, st.saveCount("0xcafe", "mint"))
}

func TestLedgerLoadDropsMalformedAndRepersists(t *testing.T) {
	st := newMemStore()
	st.data["0xcafe/burn"] = []string{
		"1-0xa",
		"not-an-id",   // token not numeric
		"2",           // no hash part
		"3-deadbeef",  // hash not hex-prefixed
		"-0xb",        // empty token
		"4-0xb",
	}

	led, err := NewLedger(st, "0xcafe", CategoryBurn, 10, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, led.Load(context.Background()))

	require.Equal(t, []string{"1-0xa", "4-0xb"}, st.saved("0xcafe", "burn"))
	require.Equal(t, 1, st.saveCount("0xcafe", "burn"))
	require.True(t, led.Contains("1-0xa"))
	require.True(t, led.Contains("4-0xb"))
	require.False(t, led.Contains("not-an-id"))
}

func TestLedgerLoadCleanStateDoesNotRepersist(t *testing.T) {
	st := newMemStore()
	st.data["0xcafe/sale"] = []string{"1-0xa", "2-0xb"}

	led, err := NewLedger(st, "0xcafe", CategorySale, 10, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, led.Load(context.Background()))

	require.Equal(t, 0, st.saveCount("0xcafe", "sale"))
	require.Equal(t, 2, led.Len())
}

func TestLedgerRoundTrip(t *testing.T) {
	st := newMemStore()
	ctx := context.Background()

	led, err := NewLedger(st, "0xcafe", CategorySale, 10, logx.Nop())
	require.NoError(t, err)
	ids := []string{"1-0xa", "2-0xb", "3-0xc"}
	for _, id := range ids {
		led.Record(id)
	}
	require.NoError(t, led.Flush(ctx))

	reloaded, err := NewLedger(st, "0xcafe", CategorySale, 10, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, reloaded.Load(ctx))
	require.Equal(t, ids, reloaded.IDs())
}

func TestLedgerLoadOverCapacityKeepsNewest(t *testing.T) {
	st := newMemStore()
	st.data["0xcafe/sale"] = []string{"1-0xa", "2-0xb", "3-0xc", "4-0xd"}

	led, err := NewLedger(st, "0xcafe", CategorySale, 2, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, led.Load(context.Background()))

	require.Equal(t, []string{"3-0xc", "4-0xd"}, led.IDs())
}

func TestNewLedgerRejectsNonPositiveMax(t *testing.T) {
	_, err := NewLedger(newMemStore(), "0xcafe", CategorySale, 0, logx.Nop())
	require.Error(t, err)
}

func TestValidEventID(t *testing.T) {
	valid := []string{"1-0xa", "123456-0xdeadbeef", "0-0xff"}
	for _, id := range valid {
		require.True(t, ValidEventID(id), id)
	}
	invalid := []string{
		"",
		"1",
		"1-",
		"-0xa",
		"abc-0xa",
		"1-deadbeef",
		"1-0x",
		"1.5-0xa",
	}
	for _, id := range invalid {
		require.False(t, ValidEventID(id), id)
	}
}
