package classifier

import (
	"strings"

	"github.com/avco-ledger/internal/types"
)

// DefaultDecimals is assumed for tokens missing from the registry
const DefaultDecimals int32 = 18

// TokenInfo describes one token contract
type TokenInfo struct {
	Symbol   string
	Decimals int32
}

// TokenRegistry resolves token metadata by (network, contract)
type TokenRegistry struct {
	tokens map[string]TokenInfo
}

// NewTokenRegistry creates a registry seeded with well-known tokens
func NewTokenRegistry() *TokenRegistry {
	r := &TokenRegistry{tokens: make(map[string]TokenInfo)}
	r.Add(types.NetworkEthereum, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", TokenInfo{Symbol: "USDC", Decimals: 6})
	r.Add(types.NetworkEthereum, "0xdac17f958d2ee523a2206206994597c13d831ec7", TokenInfo{Symbol: "USDT", Decimals: 6})
	r.Add(types.NetworkEthereum, "0x6b175474e89094c44da98b954eedeac495271d0f", TokenInfo{Symbol: "DAI", Decimals: 18})
	r.Add(types.NetworkEthereum, "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", TokenInfo{Symbol: "WETH", Decimals: 18})
	r.Add(types.NetworkEthereum, "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599", TokenInfo{Symbol: "WBTC", Decimals: 8})
	r.Add(types.NetworkPolygon, "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", TokenInfo{Symbol: "USDC", Decimals: 6})
	r.Add(types.NetworkArbitrum, "0xaf88d065e77c8cc2239327c5edb3a432268e5831", TokenInfo{Symbol: "USDC", Decimals: 6})
	r.Add(types.NetworkOptimism, "0x0b2c639c533813f4aa9d7837caf62653d097ff85", TokenInfo{Symbol: "USDC", Decimals: 6})
	r.Add(types.NetworkBase, "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", TokenInfo{Symbol: "USDC", Decimals: 6})
	r.Add(types.NetworkBNB, "0x55d398326f99059ff775485246999027b3197955", TokenInfo{Symbol: "USDT", Decimals: 18})
	return r
}

func tokenKey(network types.Network, contract string) string {
	return string(network) + ":" + strings.ToLower(contract)
}

// Add registers or replaces a token
func (r *TokenRegistry) Add(network types.Network, contract string, info TokenInfo) {
	r.tokens[tokenKey(network, contract)] = info
}

// Lookup returns the token's metadata, defaulting to 18 decimals and no symbol
func (r *TokenRegistry) Lookup(network types.Network, contract string) TokenInfo {
	if info, ok := r.tokens[tokenKey(network, contract)]; ok {
		return info
	}
	return TokenInfo{Decimals: DefaultDecimals}
}
