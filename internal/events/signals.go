// Package events carries the typed domain signals that wake pipeline stages.
package events

import (
	"github.com/avco-ledger/internal/types"
)

// Kind names a signal type
type Kind string

const (
	KindWalletAdded                Kind = "wallet_added"
	KindOverrideSaved              Kind = "override_saved"
	KindOverrideReverted           Kind = "override_reverted"
	KindRawFetchComplete           Kind = "raw_fetch_complete"
	KindRecalculateWalletRequested Kind = "recalculate_wallet_requested"
)

// Signal is one domain message on the bus
type Signal interface {
	Kind() Kind
}

// WalletAdded asks for a backfill of wallet on networks
type WalletAdded struct {
	Wallet   string
	Networks []types.Network
}

// OverrideSaved reports a new active cost basis override
type OverrideSaved struct {
	EventID string
	Wallet  string
	Network types.Network
	Asset   string
}

// OverrideReverted reports a deactivated override
type OverrideReverted struct {
	EventID string
	Wallet  string
	Network types.Network
	Asset   string
}

// RawFetchComplete reports that phase 1 of a sync persisted its range
type RawFetchComplete struct {
	Wallet  string
	Network types.Network
	SyncID  string
}

// RecalculateWalletRequested asks for a full AVCO replay of every asset of wallet
type RecalculateWalletRequested struct {
	Wallet string
}

func (WalletAdded) Kind() Kind                { return KindWalletAdded }
func (OverrideSaved) Kind() Kind              { return KindOverrideSaved }
func (OverrideReverted) Kind() Kind           { return KindOverrideReverted }
func (RawFetchComplete) Kind() Kind           { return KindRawFetchComplete }
func (RecalculateWalletRequested) Kind() Kind { return KindRecalculateWalletRequested }
