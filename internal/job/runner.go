package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avco-ledger/internal/config"
	"github.com/avco-ledger/internal/events"
	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/metrics"
	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

// NetworkExecutor backfills one (wallet, network)
type NetworkExecutor interface {
	Execute(ctx context.Context, wallet string, network types.Network) error
}

// Capabilities reports whether a network can be backfilled at all
type Capabilities interface {
	Capable(network types.Network) bool
}

// Reclassifier is the cross-wallet pass run whenever the runner goes idle.
// It returns the wallets whose events changed.
type Reclassifier interface {
	Run(ctx context.Context) ([]string, error)
}

type workItem struct {
	wallet  string
	network types.Network
}

func (w workItem) key() string {
	return w.wallet + "|" + string(w.network)
}

// RunnerStats is a point-in-time view of the runner
type RunnerStats struct {
	Queued   int `json:"queued"`
	InFlight int `json:"inFlight"`
	Workers  int `json:"workers"`
}

// BackfillJobRunner drains a FIFO queue of (wallet, network) backfills with a
// fixed pool of workers. A pair is in flight from enqueue until its run ends
// and cannot be queued twice meanwhile.
type BackfillJobRunner struct {
	executor     NetworkExecutor
	capabilities Capabilities
	syncs        storage.SyncStatusStore
	reclassifier Reclassifier
	publisher    events.Publisher
	cfg          config.BackfillConfig
	now          func() time.Time

	mu       sync.Mutex
	queue    []workItem
	inFlight map[string]bool
	started  bool

	wake        chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup
	passRunning atomic.Bool
}

// NewBackfillJobRunner creates a runner. reclassifier and publisher may be nil.
func NewBackfillJobRunner(
	executor NetworkExecutor,
	capabilities Capabilities,
	syncs storage.SyncStatusStore,
	reclassifier Reclassifier,
	publisher events.Publisher,
	cfg config.BackfillConfig,
) *BackfillJobRunner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &BackfillJobRunner{
		executor:     executor,
		capabilities: capabilities,
		syncs:        syncs,
		reclassifier: reclassifier,
		publisher:    publisher,
		cfg:          cfg,
		now:          time.Now,
		inFlight:     make(map[string]bool),
		wake:         make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

// Enqueue schedules a backfill of wallet on each network. Pairs already in
// flight are skipped; networks nothing can fetch are marked COMPLETE at once.
func (r *BackfillJobRunner) Enqueue(ctx context.Context, wallet string, networks []types.Network) error {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	for _, n := range networks {
		if _, err := r.enqueueOne(ctx, wallet, n); err != nil {
			return err
		}
	}
	return nil
}

// enqueueOne returns true when the pair was queued
func (r *BackfillJobRunner) enqueueOne(ctx context.Context, wallet string, network types.Network) (bool, error) {
	item := workItem{wallet: wallet, network: network}
	log := logging.FromContext(ctx).WithFields(logging.Fields{"wallet": wallet, "network": string(network)})

	r.mu.Lock()
	if r.inFlight[item.key()] {
		r.mu.Unlock()
		log.Debug("backfill already in flight, skipping")
		return false, nil
	}
	capable := r.capabilities.Capable(network)
	if capable {
		r.inFlight[item.key()] = true
	}
	r.mu.Unlock()

	st, err := r.syncs.Get(ctx, wallet, network)
	if errors.Is(err, storage.ErrNotFound) {
		st = &models.SyncStatus{Wallet: wallet, Network: network}
	} else if err != nil {
		r.release(item)
		return false, fmt.Errorf("load sync status: %w", err)
	}

	if !capable {
		st.State = types.SyncComplete
		st.ProgressPct = completePct
		st.BannerMessage = nil
		if err := r.syncs.Save(ctx, st); err != nil {
			return false, fmt.Errorf("mark unsupported network complete: %w", err)
		}
		log.Info("no adapter for network, marked complete")
		return false, nil
	}

	if st.State == types.SyncAbandoned {
		st.RetryCount = 0
		st.NextRetryAfter = nil
	}
	st.State = types.SyncPending
	st.BannerMessage = nil
	if err := r.syncs.Save(ctx, st); err != nil {
		r.release(item)
		return false, fmt.Errorf("mark sync pending: %w", err)
	}
	metrics.SyncTransitions.WithLabelValues(string(network), string(st.State)).Inc()

	r.mu.Lock()
	r.queue = append(r.queue, item)
	depth := len(r.queue)
	r.mu.Unlock()
	metrics.QueueDepth.Set(float64(depth))
	metrics.InFlight.Set(float64(r.inFlightCount()))
	r.signal()

	log.Debug("backfill enqueued")
	return true, nil
}

func (r *BackfillJobRunner) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *BackfillJobRunner) pop() (workItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return workItem{}, false
	}
	item := r.queue[0]
	r.queue = r.queue[1:]
	metrics.QueueDepth.Set(float64(len(r.queue)))
	return item, true
}

func (r *BackfillJobRunner) release(item workItem) {
	r.mu.Lock()
	delete(r.inFlight, item.key())
	n := len(r.inFlight)
	r.mu.Unlock()
	metrics.InFlight.Set(float64(n))
}

func (r *BackfillJobRunner) inFlightCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inFlight)
}

// Stats returns queue and in-flight counts
func (r *BackfillJobRunner) Stats() RunnerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunnerStats{
		Queued:   len(r.queue),
		InFlight: len(r.inFlight),
		Workers:  r.cfg.Workers,
	}
}

// Start launches the workers and the retry and idle tickers
func (r *BackfillJobRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runner already started")
	}
	r.started = true
	r.mu.Unlock()

	log := logging.FromContext(ctx).WithField("component", "backfill-runner")
	ctx = logging.WithLogger(ctx, log)

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	r.wg.Add(1)
	go r.scheduler(ctx)

	log.Infof("backfill runner started with %d workers", r.cfg.Workers)
	return nil
}

// Stop signals the workers and waits for running backfills to return
func (r *BackfillJobRunner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
}

func (r *BackfillJobRunner) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	for {
		item, ok := r.pop()
		if !ok {
			select {
			case <-r.wake:
				continue
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
		// pass the wake on so idle workers pick up the rest of the queue
		if r.Stats().Queued > 0 {
			r.signal()
		}
		r.process(ctx, id, item)
	}
}

func (r *BackfillJobRunner) process(ctx context.Context, id int, item workItem) {
	log := logging.FromContext(ctx).WithFields(logging.Fields{
		"worker":  id,
		"wallet":  item.wallet,
		"network": string(item.network),
	})

	if err := r.executor.Execute(ctx, item.wallet, item.network); err != nil {
		log.WithError(err).Warn("backfill run failed")
	}
	r.release(item)

	if ctx.Err() == nil {
		r.maybeIdlePass(ctx)
	}
}

// Idle reports whether nothing is queued, nothing runs and no sync is
// PENDING or RUNNING
func (r *BackfillJobRunner) Idle(ctx context.Context) (bool, error) {
	if s := r.Stats(); s.Queued > 0 || s.InFlight > 0 {
		return false, nil
	}
	active, err := r.syncs.ListByStates(ctx, types.SyncPending, types.SyncRunning)
	if err != nil {
		return false, err
	}
	return len(active) == 0, nil
}

// maybeIdlePass runs the reclassification pass when the runner is idle.
// Only one pass runs at a time.
func (r *BackfillJobRunner) maybeIdlePass(ctx context.Context) {
	if r.reclassifier == nil {
		return
	}
	idle, err := r.Idle(ctx)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("idle check failed")
		return
	}
	if !idle || !r.passRunning.CompareAndSwap(false, true) {
		return
	}
	defer r.passRunning.Store(false)

	if _, err := r.RunIdlePass(ctx); err != nil {
		logging.FromContext(ctx).WithError(err).Error("reclassification pass failed")
	}
}

// RunIdlePass reclassifies internal transfers and requests a recompute of
// every affected wallet
func (r *BackfillJobRunner) RunIdlePass(ctx context.Context) ([]string, error) {
	wallets, err := r.reclassifier.Run(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range wallets {
		if r.publisher == nil {
			break
		}
		if err := r.publisher.Publish(ctx, events.RecalculateWalletRequested{Wallet: w}); err != nil {
			return wallets, fmt.Errorf("request recompute of %s: %w", w, err)
		}
	}
	if len(wallets) > 0 {
		logging.FromContext(ctx).WithField("wallets", len(wallets)).Info("internal transfers reclassified")
	}
	return wallets, nil
}

// RetrySchedulerTick abandons FAILED syncs that exhausted their retries and
// re-enqueues those whose backoff has elapsed. Returns the number re-enqueued.
func (r *BackfillJobRunner) RetrySchedulerTick(ctx context.Context, now time.Time) (int, error) {
	failed, err := r.syncs.ListByStates(ctx, types.SyncFailed)
	if err != nil {
		return 0, fmt.Errorf("list failed syncs: %w", err)
	}

	requeued := 0
	for _, st := range failed {
		if st.RetryCount >= r.cfg.MaxRetries {
			if err := r.abandon(ctx, st); err != nil {
				return requeued, err
			}
			continue
		}
		if st.NextRetryAfter != nil && now.Before(*st.NextRetryAfter) {
			continue
		}
		ok, err := r.enqueueOne(ctx, st.Wallet, st.Network)
		if err != nil {
			return requeued, err
		}
		if ok {
			requeued++
		}
	}
	return requeued, nil
}

func (r *BackfillJobRunner) abandon(ctx context.Context, st *models.SyncStatus) error {
	st.State = types.SyncAbandoned
	st.NextRetryAfter = nil
	msg := fmt.Sprintf("Sync of %s abandoned after %d failed attempts; re-run the backfill to try again", st.Network, st.RetryCount)
	st.BannerMessage = &msg
	if err := r.syncs.Save(ctx, st); err != nil {
		return fmt.Errorf("abandon sync: %w", err)
	}
	metrics.SyncTransitions.WithLabelValues(string(st.Network), string(types.SyncAbandoned)).Inc()
	logging.FromContext(ctx).WithFields(logging.Fields{
		"wallet":     st.Wallet,
		"network":    string(st.Network),
		"retryCount": st.RetryCount,
	}).Warn("sync abandoned")
	return nil
}

// ResumeOnStartup re-enqueues every PENDING, RUNNING or FAILED sync left by a
// previous process. FAILED syncs that exhausted their retries are abandoned.
func (r *BackfillJobRunner) ResumeOnStartup(ctx context.Context) (int, error) {
	syncs, err := r.syncs.ListByStates(ctx, types.SyncPending, types.SyncRunning, types.SyncFailed)
	if err != nil {
		return 0, fmt.Errorf("list unfinished syncs: %w", err)
	}

	resumed := 0
	for _, st := range syncs {
		if st.State == types.SyncFailed && st.RetryCount >= r.cfg.MaxRetries {
			if err := r.abandon(ctx, st); err != nil {
				return resumed, err
			}
			continue
		}
		ok, err := r.enqueueOne(ctx, st.Wallet, st.Network)
		if err != nil {
			return resumed, err
		}
		if ok {
			resumed++
		}
	}
	if resumed > 0 {
		logging.FromContext(ctx).Infof("resumed %d unfinished backfills", resumed)
	}
	return resumed, nil
}

func (r *BackfillJobRunner) scheduler(ctx context.Context) {
	defer r.wg.Done()

	retryEvery := r.cfg.RetryScanInterval
	if retryEvery <= 0 {
		retryEvery = time.Minute
	}
	idleEvery := r.cfg.IdlePassInterval
	if idleEvery <= 0 {
		idleEvery = 10 * time.Minute
	}
	retryTicker := time.NewTicker(retryEvery)
	defer retryTicker.Stop()
	idleTicker := time.NewTicker(idleEvery)
	defer idleTicker.Stop()

	log := logging.FromContext(ctx)
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-retryTicker.C:
			if n, err := r.RetrySchedulerTick(ctx, r.now()); err != nil {
				log.WithError(err).Error("retry scheduler tick failed")
			} else if n > 0 {
				log.Infof("re-enqueued %d failed backfills", n)
			}
		case <-idleTicker.C:
			r.maybeIdlePass(ctx)
		}
	}
}
