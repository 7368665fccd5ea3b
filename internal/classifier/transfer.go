package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

// TransferClassifier classifies EVM token transfer payloads by netting each
// asset's legs within a transaction. A transaction that sends one asset and
// receives another is a swap; otherwise inflows and outflows are external transfers.
type TransferClassifier struct {
	tokens *TokenRegistry
}

// NewTransferClassifier creates a classifier using tokens for decimals and symbols
func NewTransferClassifier(tokens *TokenRegistry) *TransferClassifier {
	if tokens == nil {
		tokens = NewTokenRegistry()
	}
	return &TransferClassifier{tokens: tokens}
}

// Supports reports whether network carries EVM payloads
func (c *TransferClassifier) Supports(network types.Network) bool {
	return network.IsEVM()
}

type assetNet struct {
	token        string
	net          *big.Int
	firstLog     int
	counterparty string
}

// Classify returns one event per asset whose net movement is non-zero
func (c *TransferClassifier) Classify(ctx context.Context, raw *models.RawTransaction) ([]RawEvent, error) {
	var payload models.EVMTransferPayload
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode payload %s: %w", raw.TxID, err)
	}

	wallet := strings.ToLower(raw.Wallet)
	nets := make(map[string]*assetNet)
	for _, tr := range payload.Transfers {
		value, ok := new(big.Int).SetString(tr.Value, 10)
		if !ok {
			return nil, fmt.Errorf("invalid transfer value %q in %s", tr.Value, raw.TxID)
		}

		from, to := strings.ToLower(tr.From), strings.ToLower(tr.To)
		var signed *big.Int
		var counterparty string
		switch {
		case from == wallet && to == wallet:
			continue
		case to == wallet:
			signed, counterparty = value, from
		case from == wallet:
			signed, counterparty = new(big.Int).Neg(value), to
		default:
			continue
		}

		n, ok := nets[tr.Token]
		if !ok {
			n = &assetNet{token: tr.Token, net: new(big.Int), firstLog: int(tr.LogIndex)}
			nets[tr.Token] = n
		}
		n.net.Add(n.net, signed)
		if int(tr.LogIndex) < n.firstLog {
			n.firstLog = int(tr.LogIndex)
		}
		n.counterparty = counterparty
	}

	var legs []*assetNet
	var inbound, outbound int
	for _, n := range nets {
		switch n.net.Sign() {
		case 1:
			inbound++
		case -1:
			outbound++
		default:
			continue
		}
		legs = append(legs, n)
	}
	sort.Slice(legs, func(i, j int) bool { return legs[i].firstLog < legs[j].firstLog })

	swap := inbound > 0 && outbound > 0
	var flag *types.FlagCode
	if swap && (inbound > 1 || outbound > 1) {
		ambiguous := types.FlagClassificationAmbiguous
		flag = &ambiguous
	}

	events := make([]RawEvent, 0, len(legs))
	for _, n := range legs {
		info := c.tokens.Lookup(raw.Network, n.token)
		ev := RawEvent{
			TxHash:        raw.TxID,
			LogIndex:      n.firstLog,
			BlockNumber:   raw.BlockNumber,
			Asset:         n.token,
			AssetSymbol:   info.Symbol,
			Counterparty:  n.counterparty,
			QuantityDelta: decimal.NewFromBigInt(n.net, -info.Decimals),
			PriceSource:   types.PriceSourceUnknown,
			Flag:          flag,
		}
		switch {
		case swap && n.net.Sign() > 0:
			ev.EventType = types.EventSwapBuy
		case swap:
			ev.EventType = types.EventSwapSell
		case n.net.Sign() > 0:
			ev.EventType = types.EventExternalInbound
		default:
			ev.EventType = types.EventExternalOutbound
		}
		events = append(events, ev)
	}
	return events, nil
}
