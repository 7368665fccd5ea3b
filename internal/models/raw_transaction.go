package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/avco-ledger/internal/types"
)

// RawTransaction is the chain-native payload of one transaction touching a wallet.
// Written by the raw fetch phase, read-only to classification except for its status.
type RawTransaction struct {
	TxID                 string                     `json:"txId" db:"tx_id"`
	Network              types.Network              `json:"network" db:"network"`
	Wallet               string                     `json:"wallet" db:"wallet"`
	BlockNumber          uint64                     `json:"blockNumber" db:"block_number"`
	ClassificationStatus types.ClassificationStatus `json:"classificationStatus" db:"classification_status"`
	Payload              []byte                     `json:"payload" db:"payload"`
	FetchedAt            time.Time                  `json:"fetchedAt" db:"fetched_at"`
}

// NaturalKey identifies the transaction across retried fetches.
// Chains without a stable id before classification fall back to the slot.
func (r *RawTransaction) NaturalKey() string {
	if r.TxID != "" {
		return fmt.Sprintf("%s|%s|%s", r.TxID, r.Network, r.Wallet)
	}
	return fmt.Sprintf("%s|%s|slot:%s", r.Network, r.Wallet, strconv.FormatUint(r.BlockNumber, 10))
}
