// Package classifier turns raw chain payloads into typed economic events.
package classifier

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

// ErrNoClassifier is returned when no registered classifier supports a network
var ErrNoClassifier = errors.New("no classifier for network")

// RawEvent is one classified leg of a transaction, before normalization
type RawEvent struct {
	TxHash        string
	LogIndex      int
	BlockNumber   uint64
	EventType     types.EventType
	Asset         string
	AssetSymbol   string
	Counterparty  string
	QuantityDelta decimal.Decimal
	GasCostUSD    decimal.Decimal
	GasInBasis    bool
	Flag          *types.FlagCode
	// PriceUSD is set when the classifier already knows the unit price
	PriceUSD    *decimal.Decimal
	PriceSource types.PriceSource
}

// Classifier recognizes the economic effects of one raw transaction
type Classifier interface {
	Supports(network types.Network) bool
	Classify(ctx context.Context, raw *models.RawTransaction) ([]RawEvent, error)
}

// Dispatcher routes each transaction to the first classifier supporting its network
type Dispatcher struct {
	classifiers []Classifier
}

// NewDispatcher creates a dispatcher over classifiers, in priority order
func NewDispatcher(classifiers ...Classifier) *Dispatcher {
	return &Dispatcher{classifiers: classifiers}
}

// Register appends c to the dispatch list
func (d *Dispatcher) Register(c Classifier) {
	d.classifiers = append(d.classifiers, c)
}

// Supports reports whether any classifier handles network
func (d *Dispatcher) Supports(network types.Network) bool {
	for _, c := range d.classifiers {
		if c.Supports(network) {
			return true
		}
	}
	return false
}

// Classify returns zero or more raw events for raw
func (d *Dispatcher) Classify(ctx context.Context, raw *models.RawTransaction) ([]RawEvent, error) {
	for _, c := range d.classifiers {
		if c.Supports(raw.Network) {
			return c.Classify(ctx, raw)
		}
	}
	return nil, ErrNoClassifier
}

// Timestamper maps a block number to its timestamp
type Timestamper interface {
	Estimate(block uint64) time.Time
}
