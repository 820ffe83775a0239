// Package meshrand centralizes the mesh formation core's two RNG needs:
// a cryptographically strong weighted draw for the emergency-disconnect
// victim selection (where predictability would let a peer game which
// link survives), and a cheap jitter source for decision-tick spacing
// (where all that matters is decorrelating symmetric nodes).
package meshrand

import (
	"crypto/rand"
	"math/big"
	mathrand "math/rand/v2"
	"time"
)

// WeightedChoice draws an index in [0, len(weights)) with probability
// proportional to each weight, using crypto/rand for a uniform draw over
// the cumulative distribution.
func WeightedChoice(weights []uint32) (int, error) {
	var total uint64
	for _, w := range weights {
		total += uint64(w)
	}
	if total == 0 {
		return -1, nil
	}

	draw, err := rand.Int(rand.Reader, big.NewInt(int64(total)))
	if err != nil {
		return -1, err
	}
	target := uint64(draw.Int64())

	var cumulative uint64
	for i, w := range weights {
		cumulative += uint64(w)
		if target < cumulative {
			return i, nil
		}
	}
	return len(weights) - 1, nil
}

// Bool draws true with probability p, for the single-inbound-slot
// variant's symmetric-teardown-avoidance coin flip. Jitter-quality RNG is
// sufficient here; nothing security-sensitive depends on this draw.
func Bool(p float64) bool {
	return mathrand.Float64() < p
}

// Jitter returns base plus a uniform random offset in [0, spread),
// used to keep the decision tick from self-synchronizing across nodes
// that booted at the same moment.
func Jitter(base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	return base + time.Duration(mathrand.Int64N(int64(spread)))
}
