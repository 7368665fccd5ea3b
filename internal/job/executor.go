package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avco-ledger/internal/adapter"
	"github.com/avco-ledger/internal/classifier"
	"github.com/avco-ledger/internal/config"
	"github.com/avco-ledger/internal/estimator"
	"github.com/avco-ledger/internal/events"
	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/metrics"
	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/pricing"
	"github.com/avco-ledger/internal/retry"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

// Progress bands of the three phases, in percent
const (
	rawFetchDonePct = 50
	classifyDonePct = 95
	completePct     = 100
)

// maxRetryBackoff caps the delay before a failed sync is retried
const maxRetryBackoff = 24 * time.Hour

// DefaultBlockTime is used when a network has no configured average
const DefaultBlockTime = 12 * time.Second

// BackfillNetworkExecutor runs the backfill of one (wallet, network): range
// resolution, estimator calibration, raw fetch, classification and pricing.
type BackfillNetworkExecutor struct {
	registry   *adapter.Registry
	stores     *storage.Stores
	classifier classifier.Classifier
	prices     pricing.Resolver
	deferred   *pricing.DeferredPriceJob
	publisher  events.Publisher
	cfg        config.BackfillConfig
	blockTimes map[types.Network]time.Duration
	now        func() time.Time
}

// NewBackfillNetworkExecutor creates an executor. prices is the inline resolver
// used during classification; deferred resolves what it leaves pending.
func NewBackfillNetworkExecutor(
	registry *adapter.Registry,
	stores *storage.Stores,
	c classifier.Classifier,
	prices pricing.Resolver,
	deferred *pricing.DeferredPriceJob,
	publisher events.Publisher,
	cfg config.BackfillConfig,
	networks config.NetworksConfig,
) *BackfillNetworkExecutor {
	blockTimes := make(map[types.Network]time.Duration, len(networks.Networks))
	for name, nc := range networks.Networks {
		if n, ok := types.ParseNetwork(name); ok && nc.AvgBlockTime > 0 {
			blockTimes[n] = nc.AvgBlockTime
		}
	}
	return &BackfillNetworkExecutor{
		registry:   registry,
		stores:     stores,
		classifier: c,
		prices:     prices,
		deferred:   deferred,
		publisher:  publisher,
		cfg:        cfg,
		blockTimes: blockTimes,
		now:        time.Now,
	}
}

// BlockTime returns the average block time used for single-anchor calibration
func (e *BackfillNetworkExecutor) BlockTime(network types.Network) time.Duration {
	if d, ok := e.blockTimes[network]; ok {
		return d
	}
	return DefaultBlockTime
}

// Execute backfills (wallet, network). On failure the sync is marked FAILED
// with a retry schedule and segment progress is kept for resumption.
func (e *BackfillNetworkExecutor) Execute(ctx context.Context, wallet string, network types.Network) error {
	log := logging.FromContext(ctx).WithFields(logging.Fields{
		"wallet":  wallet,
		"network": string(network),
	})
	ctx = logging.WithLogger(ctx, log)

	st, err := e.stores.Syncs.Get(ctx, wallet, network)
	if errors.Is(err, storage.ErrNotFound) {
		st = &models.SyncStatus{Wallet: wallet, Network: network}
	} else if err != nil {
		return fmt.Errorf("load sync status: %w", err)
	}

	ad, okA := e.registry.AdapterFor(network)
	hr, okH := e.registry.HeightResolverFor(network)
	tr, okT := e.registry.TimestampResolverFor(network)
	if !okA || !okH || !okT {
		log.Info("network not supported, nothing to backfill")
		return e.complete(ctx, st, nil)
	}

	st.State = types.SyncRunning
	st.BannerMessage = nil
	if err := e.stores.Syncs.Save(ctx, st); err != nil {
		return fmt.Errorf("mark sync running: %w", err)
	}
	metrics.SyncTransitions.WithLabelValues(string(network), string(types.SyncRunning)).Inc()

	if err := e.run(ctx, st, ad, hr, tr); err != nil {
		if ctx.Err() != nil {
			// Shutdown: the sync stays RUNNING and resumes on the next start
			log.Warn("backfill interrupted")
			return err
		}
		e.fail(ctx, st, err)
		return err
	}
	return nil
}

func (e *BackfillNetworkExecutor) run(
	ctx context.Context,
	st *models.SyncStatus,
	ad adapter.NetworkAdapter,
	hr adapter.HeightResolver,
	tr adapter.TimestampResolver,
) error {
	log := logging.FromContext(ctx)

	rng, ok, err := e.resolveRange(ctx, st, hr)
	if err != nil {
		return err
	}
	if !ok {
		log.Info("already up to date")
		return e.complete(ctx, st, nil)
	}
	ctx = logging.WithLogger(ctx, log.WithFields(logging.Fields{"syncId": st.ID, "range": rng.String()}))

	if !st.HasPlannedRange() {
		st.PlannedFromBlock, st.PlannedToBlock = &rng.From, &rng.To
		if err := e.stores.Syncs.Save(ctx, st); err != nil {
			return fmt.Errorf("save planned range: %w", err)
		}
	}

	est, err := estimator.Calibrate(ctx, tr, st.Network, rng.From, rng.To, e.BlockTime(st.Network))
	if err != nil {
		return err
	}

	if !st.RawFetchComplete {
		proc := NewRawFetchSegmentProcessor(ad, e.stores.Raw, e.stores.Segments)
		if err := e.runPhase(ctx, st, rng, proc, 0, rawFetchDonePct); err != nil {
			return fmt.Errorf("raw fetch: %w", err)
		}
		st.RawFetchComplete = true
		st.ProgressPct = rawFetchDonePct
		if err := e.stores.Syncs.Save(ctx, st); err != nil {
			return fmt.Errorf("mark raw fetch complete: %w", err)
		}
		e.publish(ctx, events.RawFetchComplete{Wallet: st.Wallet, Network: st.Network, SyncID: st.ID})
	}

	if !st.ClassificationComplete {
		proc := NewClassificationSegmentProcessor(e.classifier, e.prices, e.stores, est)
		if err := e.runPhase(ctx, st, rng, proc, rawFetchDonePct, classifyDonePct); err != nil {
			return fmt.Errorf("classification: %w", err)
		}
		st.ClassificationComplete = true
		st.ProgressPct = classifyDonePct
		if err := e.stores.Syncs.Save(ctx, st); err != nil {
			return fmt.Errorf("mark classification complete: %w", err)
		}
	}

	if e.deferred != nil {
		if _, err := e.deferred.ResolvePending(ctx, st.Wallet, st.Network); err != nil {
			return fmt.Errorf("deferred pricing: %w", err)
		}
	}
	e.publish(ctx, events.RecalculateWalletRequested{Wallet: st.Wallet})

	return e.complete(ctx, st, &rng.To)
}

// resolveRange picks the block range of this run. A planned range left by an
// interrupted run is reused so existing segment rows line up.
func (e *BackfillNetworkExecutor) resolveRange(ctx context.Context, st *models.SyncStatus, hr adapter.HeightResolver) (BlockRange, bool, error) {
	if st.HasPlannedRange() {
		return BlockRange{From: *st.PlannedFromBlock, To: *st.PlannedToBlock}, true, nil
	}

	to, err := hr.CurrentHeight(ctx, st.Network)
	if err != nil {
		return BlockRange{}, false, fmt.Errorf("resolve chain height: %w", err)
	}

	var from uint64
	if window := e.cfg.WindowBlocks; window > 0 && to+1 > window {
		from = to - window + 1
	}
	if st.LastBlockSynced != nil && *st.LastBlockSynced >= from {
		if *st.LastBlockSynced >= to {
			return BlockRange{}, false, nil
		}
		from = *st.LastBlockSynced + 1
	}
	return BlockRange{From: from, To: to}, true, nil
}

func (e *BackfillNetworkExecutor) segmentCount(rng BlockRange) int {
	if e.cfg.ParallelSegments <= 1 || rng.Len() < e.cfg.ParallelThreshold {
		return 1
	}
	return e.cfg.ParallelSegments
}

// prepareSegments returns the segment rows for phase. Rows left by an earlier
// run of the same phase over the same partition are reused; anything else is
// replaced by fresh PENDING rows.
func (e *BackfillNetworkExecutor) prepareSegments(ctx context.Context, st *models.SyncStatus, rng BlockRange, phase types.BackfillPhase) ([]*models.BackfillSegment, error) {
	parts := PartitionRange(rng.From, rng.To, e.segmentCount(rng))

	existing, err := e.stores.Segments.ListBySync(ctx, st.ID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	if segmentsMatch(existing, parts, phase) {
		return existing, nil
	}

	if len(existing) > 0 {
		if err := e.stores.Segments.DeleteBySync(ctx, st.ID); err != nil {
			return nil, fmt.Errorf("reset segments: %w", err)
		}
	}
	segs := make([]*models.BackfillSegment, 0, len(parts))
	for i, p := range parts {
		seg := &models.BackfillSegment{
			SyncID:       st.ID,
			SegmentIndex: i,
			Phase:        phase,
			FromBlock:    p.From,
			ToBlock:      p.To,
			Status:       types.SegmentPending,
		}
		if err := e.stores.Segments.Save(ctx, seg); err != nil {
			return nil, fmt.Errorf("create segment %d: %w", i, err)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func segmentsMatch(existing []*models.BackfillSegment, parts []BlockRange, phase types.BackfillPhase) bool {
	if len(existing) != len(parts) {
		return false
	}
	for i, seg := range existing {
		if seg.Phase != phase || seg.FromBlock != parts[i].From || seg.ToBlock != parts[i].To {
			return false
		}
	}
	return true
}

// runPhase fans the phase out over its segments and joins them. The first
// failure cancels the remaining segments.
func (e *BackfillNetworkExecutor) runPhase(ctx context.Context, st *models.SyncStatus, rng BlockRange, proc SegmentProcessor, lowPct, highPct int) error {
	segs, err := e.prepareSegments(ctx, st, rng, proc.Phase())
	if err != nil {
		return err
	}

	tracker := newProgressTracker(ctx, e.stores.Syncs, st, segs, lowPct, highPct)

	g, gctx := errgroup.WithContext(ctx)
	for _, seg := range segs {
		if seg.Status == types.SegmentComplete {
			continue
		}
		g.Go(func() error {
			return proc.Process(gctx, st, seg, tracker.update)
		})
	}
	return g.Wait()
}

func (e *BackfillNetworkExecutor) complete(ctx context.Context, st *models.SyncStatus, lastBlock *uint64) error {
	st.State = types.SyncComplete
	st.ProgressPct = completePct
	if lastBlock != nil {
		last := *lastBlock
		st.LastBlockSynced = &last
	}
	st.RetryCount = 0
	st.NextRetryAfter = nil
	st.BannerMessage = nil
	st.ClearPlan()
	if err := e.stores.Syncs.Save(ctx, st); err != nil {
		return fmt.Errorf("mark sync complete: %w", err)
	}
	if st.ID != "" {
		if err := e.stores.Segments.DeleteBySync(ctx, st.ID); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("could not clear segments of completed sync")
		}
	}
	metrics.SyncTransitions.WithLabelValues(string(st.Network), string(types.SyncComplete)).Inc()
	logging.FromContext(ctx).Info("backfill complete")
	return nil
}

// fail marks the sync FAILED and schedules its retry at base x 2^(retryCount-1)
func (e *BackfillNetworkExecutor) fail(ctx context.Context, st *models.SyncStatus, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := logging.FromContext(ctx).WithError(cause)

	st.State = types.SyncFailed
	st.RetryCount++
	backoff := &retry.Policy{BaseDelay: e.cfg.RetryBaseDelay, MaxDelay: maxRetryBackoff}
	next := e.now().Add(backoff.RetryDelay(st.RetryCount - 1))
	st.NextRetryAfter = &next
	msg := fmt.Sprintf("Sync of %s failed (attempt %d): %v", st.Network, st.RetryCount, cause)
	st.BannerMessage = &msg

	if err := e.stores.Syncs.Save(ctx, st); err != nil {
		log.WithField("saveError", err.Error()).Error("could not persist sync failure")
	}
	metrics.SyncTransitions.WithLabelValues(string(st.Network), string(types.SyncFailed)).Inc()
	log.WithFields(logging.Fields{
		"retryCount":     st.RetryCount,
		"nextRetryAfter": next.Format(time.RFC3339),
	}).Error("backfill failed")
}

func (e *BackfillNetworkExecutor) publish(ctx context.Context, s events.Signal) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, s); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("signal", string(s.Kind())).Warn("could not publish signal")
	}
}

// progressTracker folds segment progress into the sync's percentage within
// [low, high], weighted by segment length
type progressTracker struct {
	ctx   context.Context
	syncs storage.SyncStatusStore
	st    *models.SyncStatus

	mu      sync.Mutex
	done    map[int]uint64
	total   uint64
	low     int
	high    int
	lastPct int
}

func newProgressTracker(ctx context.Context, syncs storage.SyncStatusStore, st *models.SyncStatus, segs []*models.BackfillSegment, low, high int) *progressTracker {
	t := &progressTracker{
		ctx:     ctx,
		syncs:   syncs,
		st:      st,
		done:    make(map[int]uint64, len(segs)),
		low:     low,
		high:    high,
		lastPct: st.ProgressPct,
	}
	for _, seg := range segs {
		t.total += seg.Blocks()
		t.done[seg.SegmentIndex] = blocksDone(seg)
	}
	return t
}

func blocksDone(seg *models.BackfillSegment) uint64 {
	if seg.Status == types.SegmentComplete {
		return seg.Blocks()
	}
	if seg.LastProcessedBlock == nil || *seg.LastProcessedBlock < seg.FromBlock {
		return 0
	}
	return *seg.LastProcessedBlock - seg.FromBlock + 1
}

func (t *progressTracker) update(seg *models.BackfillSegment) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done[seg.SegmentIndex] = blocksDone(seg)
	var done uint64
	for _, d := range t.done {
		done += d
	}
	pct := t.low
	if t.total > 0 {
		pct = t.low + int(done*uint64(t.high-t.low)/t.total)
	}
	if pct == t.lastPct {
		return
	}
	t.lastPct = pct
	t.st.ProgressPct = pct
	if err := t.syncs.Save(t.ctx, t.st); err != nil {
		logging.FromContext(t.ctx).WithError(err).Warn("could not persist sync progress")
	}
}
