package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/metrics"
	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

// transferTopic is keccak256("Transfer(address,address,uint256)")
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// EthClient is the subset of ethclient.Client the adapter uses
type EthClient interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	Close()
}

// DialFunc opens a client for one endpoint
type DialFunc func(ctx context.Context, endpoint string) (EthClient, error)

// DialEthClient dials a go-ethereum JSON-RPC client
func DialEthClient(ctx context.Context, endpoint string) (EthClient, error) {
	return ethclient.DialContext(ctx, endpoint)
}

// EVMAdapter fetches ERC-20 Transfer activity for one EVM network.
// It serves as that network's NetworkAdapter, HeightResolver and TimestampResolver.
type EVMAdapter struct {
	network   types.Network
	caller    *RPCCaller
	batchSize int
	dial      DialFunc

	mu      sync.Mutex
	clients map[string]EthClient // lazily dialed per endpoint
}

// EVMAdapterConfig holds configuration for creating an EVM adapter
type EVMAdapterConfig struct {
	Network   types.Network
	Caller    *RPCCaller
	BatchSize int
	Dial      DialFunc // defaults to DialEthClient
}

// NewEVMAdapter creates an adapter for one EVM network
func NewEVMAdapter(cfg EVMAdapterConfig) (*EVMAdapter, error) {
	if !cfg.Network.IsEVM() {
		return nil, fmt.Errorf("network %q is not EVM", cfg.Network)
	}
	if cfg.Caller == nil {
		return nil, fmt.Errorf("rpc caller is required")
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 2000
	}
	dial := cfg.Dial
	if dial == nil {
		dial = DialEthClient
	}
	return &EVMAdapter{
		network:   cfg.Network,
		caller:    cfg.Caller,
		batchSize: batch,
		dial:      dial,
		clients:   make(map[string]EthClient),
	}, nil
}

// Supports reports whether this adapter serves network
func (a *EVMAdapter) Supports(network types.Network) bool {
	return network == a.network
}

// MaxBlockBatchSize returns the widest range requested in one eth_getLogs call
func (a *EVMAdapter) MaxBlockBatchSize() int {
	return a.batchSize
}

func (a *EVMAdapter) client(ctx context.Context, endpoint string) (EthClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.clients[endpoint]; ok {
		return c, nil
	}
	c, err := a.dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	a.clients[endpoint] = c
	return c, nil
}

// CurrentHeight returns the latest block number
func (a *EVMAdapter) CurrentHeight(ctx context.Context, network types.Network) (uint64, error) {
	var height uint64
	err := a.caller.Call(ctx, "eth_blockNumber", func(ctx context.Context, endpoint string) error {
		c, err := a.client(ctx, endpoint)
		if err != nil {
			return err
		}
		height, err = c.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("current height on %s: %w", network, err)
	}
	return height, nil
}

// BlockTimestamp returns the header timestamp of block
func (a *EVMAdapter) BlockTimestamp(ctx context.Context, network types.Network, block uint64) (time.Time, error) {
	var ts time.Time
	err := a.caller.Call(ctx, "eth_getBlockByNumber", func(ctx context.Context, endpoint string) error {
		c, err := a.client(ctx, endpoint)
		if err != nil {
			return err
		}
		header, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
		if err != nil {
			return err
		}
		ts = time.Unix(int64(header.Time), 0).UTC()
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp of block %d on %s: %w", block, network, err)
	}
	return ts, nil
}

// FetchTransactions returns one RawTransaction per transaction in which wallet
// sent or received an ERC-20 token within [fromBlock, toBlock].
func (a *EVMAdapter) FetchTransactions(ctx context.Context, wallet string, network types.Network, fromBlock, toBlock uint64) ([]*models.RawTransaction, error) {
	if !common.IsHexAddress(wallet) {
		return nil, fmt.Errorf("invalid EVM address %q", wallet)
	}
	if fromBlock > toBlock {
		return nil, nil
	}
	addr := common.HexToAddress(wallet)
	fetch := func(ctx context.Context, from, to uint64) ([]ethtypes.Log, error) {
		return a.fetchTransferLogs(ctx, addr, from, to)
	}
	onSplit := func(from, to uint64) {
		metrics.RangeBisections.WithLabelValues(string(a.network)).Inc()
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"network":   a.network,
			"fromBlock": from,
			"toBlock":   to,
		}).Debug("Range too wide, bisecting")
	}

	var logs []ethtypes.Log
	batch := uint64(a.batchSize)
	for start := fromBlock; start <= toBlock; start += batch {
		end := start + batch - 1
		if end > toBlock || end < start {
			end = toBlock
		}
		chunk, err := FetchWithBisection(ctx, start, end, fetch, onSplit)
		if err != nil {
			return nil, err
		}
		logs = append(logs, chunk...)
		if end == toBlock {
			break
		}
	}

	return a.groupByTransaction(wallet, logs)
}

// fetchTransferLogs issues two filtered queries, one per side of the transfer
func (a *EVMAdapter) fetchTransferLogs(ctx context.Context, wallet common.Address, from, to uint64) ([]ethtypes.Log, error) {
	walletTopic := common.BytesToHash(wallet.Bytes())
	queries := []ethereum.FilterQuery{
		{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Topics:    [][]common.Hash{{transferTopic}, {walletTopic}},
		},
		{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Topics:    [][]common.Hash{{transferTopic}, nil, {walletTopic}},
		},
	}

	var out []ethtypes.Log
	for _, q := range queries {
		query := q
		var logs []ethtypes.Log
		err := a.caller.Call(ctx, "eth_getLogs", func(ctx context.Context, endpoint string) error {
			c, err := a.client(ctx, endpoint)
			if err != nil {
				return err
			}
			logs, err = c.FilterLogs(ctx, query)
			return err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, logs...)
	}
	return out, nil
}

func (a *EVMAdapter) groupByTransaction(wallet string, logs []ethtypes.Log) ([]*models.RawTransaction, error) {
	byTx := make(map[common.Hash]*models.EVMTransferPayload)
	seen := make(map[string]bool)

	for _, l := range logs {
		// ERC-721 transfers index the token id as a fourth topic
		if len(l.Topics) != 3 || l.Topics[0] != transferTopic || l.Removed {
			continue
		}
		// a self-transfer matches both queries
		key := fmt.Sprintf("%s:%d", l.TxHash.Hex(), l.Index)
		if seen[key] {
			continue
		}
		seen[key] = true

		p, ok := byTx[l.TxHash]
		if !ok {
			p = &models.EVMTransferPayload{TxHash: strings.ToLower(l.TxHash.Hex()), BlockNumber: l.BlockNumber}
			byTx[l.TxHash] = p
		}
		p.Transfers = append(p.Transfers, models.EVMTransfer{
			Token:    strings.ToLower(l.Address.Hex()),
			From:     strings.ToLower(common.BytesToAddress(l.Topics[1].Bytes()).Hex()),
			To:       strings.ToLower(common.BytesToAddress(l.Topics[2].Bytes()).Hex()),
			Value:    new(big.Int).SetBytes(l.Data).String(),
			LogIndex: l.Index,
		})
	}

	now := time.Now().UTC()
	txs := make([]*models.RawTransaction, 0, len(byTx))
	for _, p := range byTx {
		sort.Slice(p.Transfers, func(i, j int) bool { return p.Transfers[i].LogIndex < p.Transfers[j].LogIndex })
		payload, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload for %s: %w", p.TxHash, err)
		}
		txs = append(txs, &models.RawTransaction{
			TxID:                 p.TxHash,
			Network:              a.network,
			Wallet:               strings.ToLower(wallet),
			BlockNumber:          p.BlockNumber,
			ClassificationStatus: types.ClassificationPending,
			Payload:              payload,
			FetchedAt:            now,
		})
	}
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].BlockNumber != txs[j].BlockNumber {
			return txs[i].BlockNumber < txs[j].BlockNumber
		}
		return txs[i].TxID < txs[j].TxID
	})
	return txs, nil
}

// Close closes every dialed client
func (a *EVMAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for ep, c := range a.clients {
		c.Close()
		delete(a.clients, ep)
	}
}
