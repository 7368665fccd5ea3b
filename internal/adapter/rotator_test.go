package adapter

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEndpointRotatorRequiresEndpoints(t *testing.T) {
	_, err := NewEndpointRotator(RotatorConfig{})
	assert.Error(t, err)
}

func TestNextEndpointRoundRobin(t *testing.T) {
	r, err := NewEndpointRotator(RotatorConfig{Endpoints: []string{"a", "b", "c"}})
	require.NoError(t, err)

	var got []string
	for i := 0; i < 7; i++ {
		got = append(got, r.NextEndpoint())
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a"}, got)
}

// Property: N consecutive calls return every endpoint exactly once, in order.
func TestNextEndpointRotationProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("each endpoint once per cycle, in order", prop.ForAll(
		func(n int, warmup int) bool {
			endpoints := make([]string, n)
			for i := range endpoints {
				endpoints[i] = fmt.Sprintf("https://rpc-%d.example", i)
			}
			r, err := NewEndpointRotator(RotatorConfig{Endpoints: endpoints})
			if err != nil {
				return false
			}
			for i := 0; i < warmup; i++ {
				r.NextEndpoint()
			}
			start := warmup % n
			for i := 0; i < n; i++ {
				if r.NextEndpoint() != endpoints[(start+i)%n] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 16),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

func TestNextEndpointConcurrentCallersShareCursor(t *testing.T) {
	endpoints := []string{"a", "b", "c", "d"}
	r, err := NewEndpointRotator(RotatorConfig{Endpoints: endpoints})
	require.NoError(t, err)

	var mu sync.Mutex
	counts := map[string]int{}
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ep := r.NextEndpoint()
				mu.Lock()
				counts[ep]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, ep := range endpoints {
		assert.Equal(t, 200, counts[ep], ep)
	}
}

func TestCooldownSkipsEndpoint(t *testing.T) {
	r, err := NewEndpointRotator(RotatorConfig{Endpoints: []string{"a", "b", "c"}, Cooldown: time.Minute})
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.MarkCooldown("b")
	assert.Equal(t, "a", r.NextEndpoint())
	assert.Equal(t, "c", r.NextEndpoint())
	assert.Equal(t, "a", r.NextEndpoint())

	status := r.Status()
	assert.True(t, status[1].InCooldown)
	assert.Equal(t, time.Minute, status[1].CooldownRemaining)

	now = now.Add(2 * time.Minute)
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		seen[r.NextEndpoint()] = true
	}
	assert.True(t, seen["b"], "endpoint returns after cooldown expires")
}

func TestAllEndpointsCoolingDownFallsBackToRoundRobin(t *testing.T) {
	r, err := NewEndpointRotator(RotatorConfig{Endpoints: []string{"a", "b"}})
	require.NoError(t, err)

	r.MarkCooldown("a")
	r.MarkCooldown("b")

	assert.Contains(t, []string{"a", "b"}, r.NextEndpoint())
}
