package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
)

// thresholdCache caches each destination chain's on-chain quorum
// threshold for a short TTL: spec.md §4.8's "quorum arithmetic" requires
// the threshold be re-read from the destination bridge, never trusted as
// a locally configured constant, while still avoiding a round trip on
// every sweep tick.
type thresholdCache struct {
	mu   sync.Mutex
	a, b cachedValue
}

type cachedValue struct {
	value     int
	fetchedAt time.Time
	valid     bool
}

func (c *Coordinator) thresholdFor(ctx context.Context, destination types.ChainId) (int, error) {
	c.thresholds.mu.Lock()
	var cached *cachedValue
	switch destination {
	case types.ChainB:
		cached = &c.thresholds.b
	case types.ChainA:
		cached = &c.thresholds.a
	default:
		c.thresholds.mu.Unlock()
		return 0, fmt.Errorf("threshold: unknown destination chain %q", destination)
	}
	if cached.valid && time.Since(cached.fetchedAt) < c.bridgeCfg.ThresholdCacheTTL {
		value := cached.value
		c.thresholds.mu.Unlock()
		return value, nil
	}
	c.thresholds.mu.Unlock()

	var value int
	var err error
	switch destination {
	case types.ChainB:
		value, err = c.chainB.ValidatorThreshold(ctx)
	case types.ChainA:
		value, err = c.chainA.GetValidatorThreshold(ctx, c.chainABridge)
	}
	if err != nil {
		return 0, fmt.Errorf("fetch validator threshold for %s: %w", destination, err)
	}

	c.thresholds.mu.Lock()
	*cached = cachedValue{value: value, fetchedAt: time.Now(), valid: true}
	c.thresholds.mu.Unlock()

	return value, nil
}
