// Package types provides the enumerations shared by the ledger pipeline.
package types

import "strings"

// Network identifies a chain the ledger can backfill
type Network string

const (
	NetworkEthereum Network = "ethereum"
	NetworkPolygon  Network = "polygon"
	NetworkArbitrum Network = "arbitrum"
	NetworkOptimism Network = "optimism"
	NetworkBase     Network = "base"
	NetworkBNB      Network = "bnb"
	NetworkSolana   Network = "solana"
)

// ParseNetwork normalizes a user-supplied network name
func ParseNetwork(s string) (Network, bool) {
	n := Network(strings.ToLower(strings.TrimSpace(s)))
	switch n {
	case NetworkEthereum, NetworkPolygon, NetworkArbitrum, NetworkOptimism,
		NetworkBase, NetworkBNB, NetworkSolana:
		return n, true
	}
	return "", false
}

// IsEVM reports whether the network speaks the Ethereum JSON-RPC dialect
func (n Network) IsEVM() bool {
	return n != NetworkSolana && n != ""
}

// ClassificationStatus tracks a raw transaction through phase 2
type ClassificationStatus string

const (
	ClassificationPending  ClassificationStatus = "PENDING"
	ClassificationComplete ClassificationStatus = "COMPLETE"
	ClassificationFailed   ClassificationStatus = "FAILED"
)

// EventType is the closed set of economic effects a transaction can have on a wallet
type EventType string

const (
	EventBuy                EventType = "BUY"
	EventSell               EventType = "SELL"
	EventSwapBuy            EventType = "SWAP_BUY"
	EventSwapSell           EventType = "SWAP_SELL"
	EventExternalInbound    EventType = "EXTERNAL_INBOUND"
	EventExternalOutbound   EventType = "EXTERNAL_OUTBOUND"
	EventInternalTransfer   EventType = "INTERNAL_TRANSFER"
	EventStakeDeposit       EventType = "STAKE_DEPOSIT"
	EventStakeWithdrawal    EventType = "STAKE_WITHDRAWAL"
	EventStakingReward      EventType = "STAKING_REWARD"
	EventLPDeposit          EventType = "LP_DEPOSIT"
	EventLPWithdrawal       EventType = "LP_WITHDRAWAL"
	EventLendDeposit        EventType = "LEND_DEPOSIT"
	EventLendWithdrawal     EventType = "LEND_WITHDRAWAL"
	EventBorrow             EventType = "BORROW"
	EventRepay              EventType = "REPAY"
	EventAirdrop            EventType = "AIRDROP"
	EventManualCompensating EventType = "MANUAL_COMPENSATING"
)

var acquisitionTypes = map[EventType]bool{
	EventBuy:                true,
	EventSwapBuy:            true,
	EventExternalInbound:    true,
	EventInternalTransfer:   true,
	EventStakingReward:      true,
	EventAirdrop:            true,
	EventManualCompensating: true,
}

// IsAcquisition reports whether a positive delta of this type blends into AVCO.
// Returns of principal (stake/LP/lend withdrawals, borrows) only move quantity.
func (t EventType) IsAcquisition() bool {
	return acquisitionTypes[t]
}

// IsSell reports whether an outflow of this type realizes P&L
func (t EventType) IsSell() bool {
	return t == EventSell || t == EventSwapSell
}

// Valid reports whether t belongs to the closed enumeration
func (t EventType) Valid() bool {
	switch t {
	case EventBuy, EventSell, EventSwapBuy, EventSwapSell, EventExternalInbound,
		EventExternalOutbound, EventInternalTransfer, EventStakeDeposit,
		EventStakeWithdrawal, EventStakingReward, EventLPDeposit, EventLPWithdrawal,
		EventLendDeposit, EventLendWithdrawal, EventBorrow, EventRepay, EventAirdrop,
		EventManualCompensating:
		return true
	}
	return false
}

// PriceSource tags where an event's USD price came from
type PriceSource string

const (
	PriceSourceUnknown    PriceSource = "UNKNOWN"
	PriceSourceStablecoin PriceSource = "STABLECOIN"
	PriceSourceInlineSwap PriceSource = "INLINE_SWAP"
	PriceSourceHistorical PriceSource = "HISTORICAL"
	PriceSourceManual     PriceSource = "MANUAL"
)

// FlagCode marks an event that needs later resolution or review
type FlagCode string

const (
	FlagPriceUnresolved         FlagCode = "PRICE_UNRESOLVED"
	FlagClassificationAmbiguous FlagCode = "CLASSIFICATION_AMBIGUOUS"
)

// SyncState is the lifecycle of one (wallet, network) backfill
type SyncState string

const (
	SyncPending   SyncState = "PENDING"
	SyncRunning   SyncState = "RUNNING"
	SyncComplete  SyncState = "COMPLETE"
	SyncPartial   SyncState = "PARTIAL"
	SyncFailed    SyncState = "FAILED"
	SyncAbandoned SyncState = "ABANDONED"
)

// SegmentStatus is the lifecycle of one backfill segment within a phase
type SegmentStatus string

const (
	SegmentPending  SegmentStatus = "PENDING"
	SegmentRunning  SegmentStatus = "RUNNING"
	SegmentComplete SegmentStatus = "COMPLETE"
	SegmentFailed   SegmentStatus = "FAILED"
)

// BackfillPhase names the phase a segment row currently describes
type BackfillPhase string

const (
	PhaseRawFetch BackfillPhase = "RAW_FETCH"
	PhaseClassify BackfillPhase = "CLASSIFY"
)
