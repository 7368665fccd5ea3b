package types

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

var allNetworks = []Network{
	NetworkEthereum, NetworkPolygon, NetworkArbitrum, NetworkOptimism,
	NetworkBase, NetworkBNB, NetworkSolana,
}

func TestParseNetwork(t *testing.T) {
	tests := []struct {
		in   string
		want Network
		ok   bool
	}{
		{"ethereum", NetworkEthereum, true},
		{"  Polygon ", NetworkPolygon, true},
		{"BNB", NetworkBNB, true},
		{"solana", NetworkSolana, true},
		{"", "", false},
		{"bitcoin", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseNetwork(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNetworkIsEVM(t *testing.T) {
	assert.True(t, NetworkEthereum.IsEVM())
	assert.True(t, NetworkBase.IsEVM())
	assert.False(t, NetworkSolana.IsEVM())
	assert.False(t, Network("").IsEVM())
}

func TestEventTypeSemantics(t *testing.T) {
	assert.True(t, EventBuy.IsAcquisition())
	assert.True(t, EventAirdrop.IsAcquisition())
	assert.False(t, EventStakeWithdrawal.IsAcquisition())
	assert.False(t, EventBorrow.IsAcquisition())

	assert.True(t, EventSell.IsSell())
	assert.True(t, EventSwapSell.IsSell())
	assert.False(t, EventExternalOutbound.IsSell())

	assert.True(t, EventManualCompensating.Valid())
	assert.False(t, EventType("TRANSFER").Valid())
}

func TestAcquisitionTypesAreValid(t *testing.T) {
	for et := range acquisitionTypes {
		assert.True(t, et.Valid(), et)
		assert.False(t, et.IsSell(), et)
	}
}

// Property: parsing ignores case and surrounding whitespace
func TestParseNetworkNormalizes(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("case and padding do not change the result", prop.ForAll(
		func(idx int, upper bool, pad int) bool {
			name := string(allNetworks[idx])
			if upper {
				name = strings.ToUpper(name)
			}
			name = strings.Repeat(" ", pad) + name + strings.Repeat(" ", pad)
			got, ok := ParseNetwork(name)
			return ok && got == allNetworks[idx]
		},
		gen.IntRange(0, len(allNetworks)-1),
		gen.Bool(),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}
