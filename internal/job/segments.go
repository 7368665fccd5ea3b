package job

import (
	"context"
	"fmt"

	"github.com/avco-ledger/internal/adapter"
	"github.com/avco-ledger/internal/classifier"
	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/metrics"
	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/pricing"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

// ProgressFunc receives a segment after each persisted progress step
type ProgressFunc func(seg *models.BackfillSegment)

// SegmentProcessor runs one phase over one segment. Implementations persist
// segment progress so a failed run resumes after the last processed block.
type SegmentProcessor interface {
	Phase() types.BackfillPhase
	Process(ctx context.Context, sync *models.SyncStatus, seg *models.BackfillSegment, progress ProgressFunc) error
}

func segmentPct(seg *models.BackfillSegment) int {
	if seg.LastProcessedBlock == nil || *seg.LastProcessedBlock < seg.FromBlock {
		return 0
	}
	done := *seg.LastProcessedBlock - seg.FromBlock + 1
	return int(done * 100 / seg.Blocks())
}

func saveSegment(ctx context.Context, segments storage.SegmentStore, seg *models.BackfillSegment, status types.SegmentStatus) error {
	seg.Status = status
	if status == types.SegmentComplete {
		last := seg.ToBlock
		seg.LastProcessedBlock = &last
	}
	seg.ProgressPct = segmentPct(seg)
	if err := segments.Save(ctx, seg); err != nil {
		return fmt.Errorf("save segment %d: %w", seg.SegmentIndex, err)
	}
	return nil
}

// failSegment records the failure on the segment row and returns cause wrapped.
// The row is written even when ctx is already cancelled.
func failSegment(ctx context.Context, segments storage.SegmentStore, seg *models.BackfillSegment, cause error) error {
	seg.RetryCount++
	if err := saveSegment(context.WithoutCancel(ctx), segments, seg, types.SegmentFailed); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("could not persist segment failure")
	}
	metrics.SegmentsProcessed.WithLabelValues(string(seg.Phase), string(types.SegmentFailed)).Inc()
	return fmt.Errorf("segment %d (%d-%d): %w", seg.SegmentIndex, seg.FromBlock, seg.ToBlock, cause)
}

// RawFetchSegmentProcessor fetches a segment in adapter-sized batches and
// upserts every transaction into the raw store
type RawFetchSegmentProcessor struct {
	adapter  adapter.NetworkAdapter
	raw      storage.RawTransactionStore
	segments storage.SegmentStore
}

// NewRawFetchSegmentProcessor creates a raw fetch processor over ad
func NewRawFetchSegmentProcessor(ad adapter.NetworkAdapter, raw storage.RawTransactionStore, segments storage.SegmentStore) *RawFetchSegmentProcessor {
	return &RawFetchSegmentProcessor{adapter: ad, raw: raw, segments: segments}
}

func (p *RawFetchSegmentProcessor) Phase() types.BackfillPhase { return types.PhaseRawFetch }

// Process fetches [ResumeFrom, ToBlock] of seg
func (p *RawFetchSegmentProcessor) Process(ctx context.Context, sync *models.SyncStatus, seg *models.BackfillSegment, progress ProgressFunc) error {
	log := logging.FromContext(ctx).WithFields(logging.Fields{
		"segment": seg.SegmentIndex,
		"phase":   string(types.PhaseRawFetch),
	})

	if err := saveSegment(ctx, p.segments, seg, types.SegmentRunning); err != nil {
		return err
	}

	batch := uint64(p.adapter.MaxBlockBatchSize())
	if batch == 0 {
		batch = 1
	}

	fetched := 0
	for start := seg.ResumeFrom(); start <= seg.ToBlock; {
		if err := ctx.Err(); err != nil {
			return failSegment(ctx, p.segments, seg, err)
		}

		end := seg.ToBlock
		if seg.ToBlock-start >= batch {
			end = start + batch - 1
		}

		txs, err := p.adapter.FetchTransactions(ctx, sync.Wallet, sync.Network, start, end)
		if err != nil {
			return failSegment(ctx, p.segments, seg, fmt.Errorf("fetch blocks %d-%d: %w", start, end, err))
		}
		if len(txs) > 0 {
			if err := p.raw.UpsertBatch(ctx, txs); err != nil {
				return failSegment(ctx, p.segments, seg, fmt.Errorf("upsert raw transactions: %w", err))
			}
			metrics.RawTransactionsFetched.WithLabelValues(string(sync.Network)).Add(float64(len(txs)))
			fetched += len(txs)
		}

		last := end
		seg.LastProcessedBlock = &last
		if err := saveSegment(ctx, p.segments, seg, types.SegmentRunning); err != nil {
			return failSegment(ctx, p.segments, seg, err)
		}
		if progress != nil {
			progress(seg)
		}

		if end == seg.ToBlock {
			break
		}
		start = end + 1
	}

	if err := saveSegment(ctx, p.segments, seg, types.SegmentComplete); err != nil {
		return err
	}
	if progress != nil {
		progress(seg)
	}
	metrics.SegmentsProcessed.WithLabelValues(string(types.PhaseRawFetch), string(types.SegmentComplete)).Inc()
	log.WithField("transactions", fetched).Debug("raw fetch segment complete")
	return nil
}

// eventWriter classifies one persisted raw transaction into stored events
type eventWriter struct {
	classifier classifier.Classifier
	raw        storage.RawTransactionStore
	events     storage.EventStore
	prices     pricing.Resolver
}

func (w *eventWriter) classify(ctx context.Context, tx *models.RawTransaction) (legs []classifier.RawEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()
	return w.classifier.Classify(ctx, tx)
}

// write classifies, normalizes, prices and upserts tx. A classifier error is
// logged and the transaction marked FAILED; only store errors are returned.
func (w *eventWriter) write(ctx context.Context, tx *models.RawTransaction, ts classifier.Timestamper) (bool, error) {
	legs, err := w.classify(ctx, tx)
	if err != nil {
		logging.FromContext(ctx).WithFields(logging.Fields{
			"txId":  tx.TxID,
			"block": tx.BlockNumber,
		}).WithError(err).Warn("classification failed, skipping transaction")
		metrics.ClassificationFailures.WithLabelValues(string(tx.Network)).Inc()
		if serr := w.raw.SetClassificationStatus(ctx, tx, types.ClassificationFailed); serr != nil {
			return false, fmt.Errorf("mark %s failed: %w", tx.TxID, serr)
		}
		return false, nil
	}

	events := classifier.Normalize(tx, legs, ts)
	if _, err := pricing.PriceInline(ctx, w.prices, events); err != nil {
		return false, fmt.Errorf("inline pricing %s: %w", tx.TxID, err)
	}
	for _, ev := range events {
		if ev.PricePending && ev.Flag == nil {
			flag := types.FlagPriceUnresolved
			ev.Flag = &flag
		}
		if err := w.events.Upsert(ctx, ev); err != nil {
			return false, fmt.Errorf("upsert event %s: %w", tx.TxID, err)
		}
	}
	metrics.EventsWritten.WithLabelValues(string(tx.Network)).Add(float64(len(events)))

	if err := w.raw.SetClassificationStatus(ctx, tx, types.ClassificationComplete); err != nil {
		return false, fmt.Errorf("mark %s complete: %w", tx.TxID, err)
	}
	return true, nil
}

// ClassificationSegmentProcessor turns the persisted raw transactions of a
// segment into economic events. It makes no RPC calls.
type ClassificationSegmentProcessor struct {
	writer    *eventWriter
	segments  storage.SegmentStore
	estimator classifier.Timestamper
}

// NewClassificationSegmentProcessor creates a processor dating events with ts
func NewClassificationSegmentProcessor(
	c classifier.Classifier,
	prices pricing.Resolver,
	stores *storage.Stores,
	ts classifier.Timestamper,
) *ClassificationSegmentProcessor {
	return &ClassificationSegmentProcessor{
		writer: &eventWriter{
			classifier: c,
			raw:        stores.Raw,
			events:     stores.Events,
			prices:     prices,
		},
		segments:  stores.Segments,
		estimator: ts,
	}
}

func (p *ClassificationSegmentProcessor) Phase() types.BackfillPhase { return types.PhaseClassify }

// Process classifies every not yet COMPLETE raw transaction of seg, block by block
func (p *ClassificationSegmentProcessor) Process(ctx context.Context, sync *models.SyncStatus, seg *models.BackfillSegment, progress ProgressFunc) error {
	log := logging.FromContext(ctx).WithFields(logging.Fields{
		"segment": seg.SegmentIndex,
		"phase":   string(types.PhaseClassify),
	})

	if err := saveSegment(ctx, p.segments, seg, types.SegmentRunning); err != nil {
		return err
	}

	txs, err := p.writer.raw.ListByBlockRange(ctx, sync.Wallet, sync.Network, seg.ResumeFrom(), seg.ToBlock)
	if err != nil {
		return failSegment(ctx, p.segments, seg, fmt.Errorf("list raw transactions: %w", err))
	}

	classified, skipped := 0, 0
	for i, tx := range txs {
		if err := ctx.Err(); err != nil {
			return failSegment(ctx, p.segments, seg, err)
		}

		if tx.ClassificationStatus != types.ClassificationComplete {
			ok, err := p.writer.write(ctx, tx, p.estimator)
			if err != nil {
				return failSegment(ctx, p.segments, seg, err)
			}
			if ok {
				classified++
			} else {
				skipped++
			}
		}

		// progress only advances past fully handled blocks
		if i == len(txs)-1 || txs[i+1].BlockNumber != tx.BlockNumber {
			last := tx.BlockNumber
			seg.LastProcessedBlock = &last
			if err := saveSegment(ctx, p.segments, seg, types.SegmentRunning); err != nil {
				return failSegment(ctx, p.segments, seg, err)
			}
			if progress != nil {
				progress(seg)
			}
		}
	}

	if err := saveSegment(ctx, p.segments, seg, types.SegmentComplete); err != nil {
		return err
	}
	if progress != nil {
		progress(seg)
	}
	metrics.SegmentsProcessed.WithLabelValues(string(types.PhaseClassify), string(types.SegmentComplete)).Inc()
	log.WithFields(logging.Fields{
		"classified": classified,
		"failed":     skipped,
	}).Debug("classification segment complete")
	return nil
}
