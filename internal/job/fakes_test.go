package job

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avco-ledger/internal/adapter"
	"github.com/avco-ledger/internal/classifier"
	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/storage/memory"
	"github.com/avco-ledger/internal/types"
)

const (
	testWallet = "0xwallet"
	testAsset  = "0xusd"
)

var genesis = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var errRPC = errors.New("rpc unavailable")

// fakeChain serves one network as adapter and both resolvers
type fakeChain struct {
	network types.Network
	batch   int

	mu      sync.Mutex
	height  uint64
	blocks  map[uint64][]string
	failAt  map[uint64]bool
	fetches []BlockRange
}

func newFakeChain(height uint64, batch int) *fakeChain {
	return &fakeChain{
		network: types.NetworkEthereum,
		batch:   batch,
		height:  height,
		blocks:  make(map[uint64][]string),
		failAt:  make(map[uint64]bool),
	}
}

func (c *fakeChain) addTx(block uint64, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[block] = append(c.blocks[block], id)
}

func (c *fakeChain) setHeight(h uint64) {
	c.mu.Lock()
	c.height = h
	c.mu.Unlock()
}

func (c *fakeChain) failBlock(block uint64, fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fail {
		c.failAt[block] = true
	} else {
		delete(c.failAt, block)
	}
}

func (c *fakeChain) Supports(n types.Network) bool { return n == c.network }
func (c *fakeChain) MaxBlockBatchSize() int        { return c.batch }

func (c *fakeChain) CurrentHeight(ctx context.Context, n types.Network) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, nil
}

func (c *fakeChain) BlockTimestamp(ctx context.Context, n types.Network, block uint64) (time.Time, error) {
	return genesis.Add(time.Duration(block) * 12 * time.Second), nil
}

func (c *fakeChain) FetchTransactions(ctx context.Context, wallet string, n types.Network, from, to uint64) ([]*models.RawTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for b := range c.failAt {
		if b >= from && b <= to {
			return nil, fmt.Errorf("blocks %d-%d: %w", from, to, errRPC)
		}
	}
	c.fetches = append(c.fetches, BlockRange{From: from, To: to})

	var out []*models.RawTransaction
	for b := from; b <= to; b++ {
		for _, id := range c.blocks[b] {
			out = append(out, &models.RawTransaction{
				TxID:                 id,
				Network:              n,
				Wallet:               wallet,
				BlockNumber:          b,
				ClassificationStatus: types.ClassificationPending,
				Payload:              []byte(`{}`),
				FetchedAt:            time.Now().UTC(),
			})
		}
	}
	return out, nil
}

func (c *fakeChain) fetchedRanges() []BlockRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]BlockRange(nil), c.fetches...)
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

func (c *fakeChain) resetFetches() {
	c.mu.Lock()
	c.fetches = nil
	c.mu.Unlock()
}

// stubClassifier emits one inbound leg of 10 test units per transaction and
// fails the ids in reject
type stubClassifier struct {
	mu     sync.Mutex
	reject map[string]bool
}

func (s *stubClassifier) setReject(id string, reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject == nil {
		s.reject = make(map[string]bool)
	}
	s.reject[id] = reject
}

func (s *stubClassifier) Supports(types.Network) bool { return true }

func (s *stubClassifier) Classify(ctx context.Context, raw *models.RawTransaction) ([]classifier.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject[raw.TxID] {
		return nil, fmt.Errorf("unrecognized transaction %s", raw.TxID)
	}
	return []classifier.RawEvent{{
		TxHash:        raw.TxID,
		EventType:     types.EventExternalInbound,
		Asset:         testAsset,
		Counterparty:  "0xsender",
		QuantityDelta: decimal.NewFromInt(10),
	}}, nil
}

type testStores struct {
	*storage.Stores
	raw      *memory.RawTransactionStore
	events   *memory.EventStore
	syncs    *memory.SyncStatusStore
	segments *memory.SegmentStore
}

func newTestStores() *testStores {
	ts := &testStores{
		raw:      memory.NewRawTransactionStore(),
		events:   memory.NewEventStore(),
		syncs:    memory.NewSyncStatusStore(),
		segments: memory.NewSegmentStore(),
	}
	ts.Stores = &storage.Stores{
		Raw:       ts.raw,
		Events:    ts.events,
		Positions: memory.NewPositionStore(),
		Overrides: memory.NewOverrideStore(),
		Syncs:     ts.syncs,
		Segments:  ts.segments,
	}
	return ts
}

func registryWith(impls ...interface{}) *adapter.Registry {
	r := adapter.NewRegistry()
	for _, impl := range impls {
		r.Register(impl)
	}
	return r
}
