// Package job runs wallet backfills: a queue of (wallet, network) items drained
// by a worker pool, each executed as raw fetch, classification, then pricing.
package job

import "fmt"

// BlockRange is an inclusive block interval
type BlockRange struct {
	From uint64
	To   uint64
}

// Len returns the number of blocks in the range
func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

func (r BlockRange) String() string {
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// PartitionRange splits [from, to] into n contiguous, non-overlapping ranges
// that together cover it exactly. The last range absorbs the remainder and n
// is capped at the number of blocks. Returns nil when from > to.
func PartitionRange(from, to uint64, n int) []BlockRange {
	if from > to {
		return nil
	}
	if n < 1 {
		n = 1
	}
	total := to - from + 1
	if uint64(n) > total {
		n = int(total)
	}

	size := total / uint64(n)
	out := make([]BlockRange, 0, n)
	start := from
	for i := 0; i < n; i++ {
		end := start + size - 1
		if i == n-1 {
			end = to
		}
		out = append(out, BlockRange{From: start, To: end})
		start = end + 1
	}
	return out
}
