package job

import (
	"context"
	"fmt"
	"time"

	"github.com/avco-ledger/internal/adapter"
	"github.com/avco-ledger/internal/classifier"
	"github.com/avco-ledger/internal/estimator"
	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/pricing"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

// ClassificationSweep re-runs classification over the raw transactions of a
// (wallet, network) that a previous pass marked FAILED. It is the standalone
// classifier pass woken by a raw fetch completing.
type ClassificationSweep struct {
	registry  *adapter.Registry
	writer    *eventWriter
	blockTime func(types.Network) time.Duration
}

// NewClassificationSweep creates a sweep calibrating its estimator through registry
func NewClassificationSweep(
	registry *adapter.Registry,
	c classifier.Classifier,
	prices pricing.Resolver,
	stores *storage.Stores,
	blockTime func(types.Network) time.Duration,
) *ClassificationSweep {
	return &ClassificationSweep{
		registry: registry,
		writer: &eventWriter{
			classifier: c,
			raw:        stores.Raw,
			events:     stores.Events,
			prices:     prices,
		},
		blockTime: blockTime,
	}
}

// Run reclassifies FAILED raw transactions and returns how many now succeed
func (s *ClassificationSweep) Run(ctx context.Context, wallet string, network types.Network) (int, error) {
	failed, err := s.writer.raw.ListByStatus(ctx, wallet, network, types.ClassificationFailed)
	if err != nil {
		return 0, fmt.Errorf("list failed raw transactions: %w", err)
	}
	if len(failed) == 0 {
		return 0, nil
	}

	tr, ok := s.registry.TimestampResolverFor(network)
	if !ok {
		return 0, fmt.Errorf("no timestamp resolver for %s", network)
	}

	from, to := failed[0].BlockNumber, failed[0].BlockNumber
	for _, tx := range failed[1:] {
		if tx.BlockNumber < from {
			from = tx.BlockNumber
		}
		if tx.BlockNumber > to {
			to = tx.BlockNumber
		}
	}
	est, err := estimator.Calibrate(ctx, tr, network, from, to, s.blockTime(network))
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, tx := range failed {
		ok, err := s.writer.write(ctx, tx, est)
		if err != nil {
			return recovered, err
		}
		if ok {
			recovered++
		}
	}

	logging.FromContext(ctx).WithFields(logging.Fields{
		"wallet":    wallet,
		"network":   string(network),
		"failed":    len(failed),
		"recovered": recovered,
	}).Info("classification sweep finished")
	return recovered, nil
}
