package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(8, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	var mu sync.Mutex
	var got []string
	bus.Subscribe(KindRecalculateWalletRequested, func(ctx context.Context, s Signal) error {
		mu.Lock()
		got = append(got, s.(RecalculateWalletRequested).Wallet)
		mu.Unlock()
		return nil
	})
	bus.Subscribe(KindRecalculateWalletRequested, func(ctx context.Context, s Signal) error {
		return errors.New("handler errors are logged, not fatal")
	})

	require.NoError(t, bus.Publish(ctx, RecalculateWalletRequested{Wallet: "0xa"}))
	require.NoError(t, bus.Publish(ctx, RecalculateWalletRequested{Wallet: "0xb"}))
	require.NoError(t, bus.Publish(ctx, WalletAdded{Wallet: "0xc"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestBusCloseDrains(t *testing.T) {
	bus := NewBus(4, 1)

	var count int
	var mu sync.Mutex
	bus.Subscribe(KindWalletAdded, func(ctx context.Context, s Signal) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(ctx, WalletAdded{Wallet: "0xa"}))
	}
	bus.Close()
	assert.ErrorIs(t, bus.Publish(ctx, WalletAdded{Wallet: "0xa"}), ErrBusClosed)

	bus.Run(ctx)
	<-bus.Done()
	assert.Equal(t, 3, count)
}

func TestPublishRespectsContextWhenFull(t *testing.T) {
	bus := NewBus(1, 1)
	require.NoError(t, bus.Publish(context.Background(), WalletAdded{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Publish(ctx, WalletAdded{}), context.DeadlineExceeded)
}

type fakeTargets struct {
	mu          sync.Mutex
	enqueued    []string
	replayed    []string
	recomputed  []string
	swept       []string
	invalidated int
}

func (f *fakeTargets) Enqueue(ctx context.Context, wallet string, networks []types.Network) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range networks {
		f.enqueued = append(f.enqueued, wallet+"/"+string(n))
	}
	return nil
}

func (f *fakeTargets) Replay(ctx context.Context, wallet string, network types.Network, asset string) (*models.AssetPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replayed = append(f.replayed, wallet+"/"+string(network)+"/"+asset)
	return nil, nil
}

func (f *fakeTargets) RecalculateForWallet(ctx context.Context, wallet string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recomputed = append(f.recomputed, wallet)
	return 1, nil
}

func (f *fakeTargets) Run(ctx context.Context, wallet string, network types.Network) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swept = append(f.swept, wallet+"/"+string(network))
	return 0, nil
}

func (f *fakeTargets) Invalidate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	return nil
}

func TestRouterWiring(t *testing.T) {
	targets := &fakeTargets{}
	bus := NewBus(16, 1)
	NewRouter(targets, targets, targets, targets).Attach(bus)

	ctx := context.Background()
	signals := []Signal{
		WalletAdded{Wallet: "0xa", Networks: []types.Network{types.NetworkEthereum, types.NetworkBase}},
		OverrideSaved{EventID: "e1", Wallet: "0xa", Network: types.NetworkEthereum, Asset: "0xweth"},
		OverrideReverted{EventID: "e1", Wallet: "0xa", Network: types.NetworkEthereum, Asset: "0xweth"},
		RawFetchComplete{Wallet: "0xa", Network: types.NetworkBase, SyncID: "s1"},
		RecalculateWalletRequested{Wallet: "0xb"},
	}
	for _, s := range signals {
		require.NoError(t, bus.Publish(ctx, s))
	}
	bus.Close()
	bus.Run(ctx)

	assert.Equal(t, []string{"0xa/ethereum", "0xa/base"}, targets.enqueued)
	assert.Equal(t, []string{"0xa/ethereum/0xweth", "0xa/ethereum/0xweth"}, targets.replayed)
	assert.Equal(t, []string{"0xa/base"}, targets.swept)
	assert.Equal(t, []string{"0xb"}, targets.recomputed)
	assert.Equal(t, 3, targets.invalidated)
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	require.NoError(t, rec.Publish(context.Background(), WalletAdded{Wallet: "0xa"}))
	require.NoError(t, rec.Publish(context.Background(), RecalculateWalletRequested{Wallet: "0xa"}))

	assert.Len(t, rec.Signals(), 2)
	assert.Len(t, rec.OfKind(KindWalletAdded), 1)
	assert.Empty(t, rec.OfKind(KindOverrideSaved))
}
