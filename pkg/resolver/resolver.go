// Package resolver maps a source-side token identifier to the destination
// chain's reference for it, per spec.md §4.5. It never signs or writes
// persistence — a pure lookup surface consumed by the Coordinator and the
// Relay Engine.
package resolver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/chaina"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/errkind"
	"github.com/ethereum/go-ethereum/common"
)

// AssetMapping is the destination-side reference resolved for one
// source-side token.
type AssetMapping struct {
	// TokenRefB is the 20-byte destination address, set when resolving
	// A→B.
	TokenRefB common.Address
	// AssetRefA is the destination asset id string, set when resolving
	// B→A.
	AssetRefA string
	Decimals  int
	Name      string
	Symbol    string
}

// Resolver is the interface the Coordinator and the Relay Engine depend on.
type Resolver interface {
	ResolveAToB(ctx context.Context, assetID string) (AssetMapping, error)
	ResolveBToA(ctx context.Context, tokenAddress common.Address) (AssetMapping, error)
}

type chainBReader interface {
	WavesToUnit0Token(ctx context.Context, assetID string) (common.Address, error)
}

type chainAReader interface {
	GetAddressData(ctx context.Context, address, keyPrefix string) ([]chaina.DataEntry, error)
}

// resolver is the default Resolver, backed by an in-process cache re-scanned
// on miss.
type resolver struct {
	chainB chainBReader
	chainA chainAReader

	chainABridgeAddress string

	mu        sync.Mutex
	bToACache map[common.Address]AssetMapping
}

func New(chainB chainBReader, chainA chainAReader, chainABridgeAddress string) Resolver {
	return &resolver{
		chainB:              chainB,
		chainA:              chainA,
		chainABridgeAddress: chainABridgeAddress,
		bToACache:           make(map[common.Address]AssetMapping),
	}
}

// ResolveAToB calls wavesToUnit0Token on the destination bridge; a zero
// address result means "not registered" (spec.md §4.5).
func (r *resolver) ResolveAToB(ctx context.Context, assetID string) (AssetMapping, error) {
	addr, err := r.chainB.WavesToUnit0Token(ctx, assetID)
	if err != nil {
		return AssetMapping{}, errkind.New(errkind.TransientNetwork, fmt.Errorf("wavesToUnit0Token(%s): %w", assetID, err))
	}
	if addr == (common.Address{}) {
		return AssetMapping{}, errkind.New(errkind.ResolverMiss, fmt.Errorf("no B-side mapping registered for asset %s", assetID))
	}
	return AssetMapping{TokenRefB: addr}, nil
}

// ResolveBToA scans the A-side bridge's token_map_* data-row namespace; row
// value shape is standardized on unit0_address|decimals|name|symbol per
// spec.md §9's resolution of the two contradictory shapes found upstream.
func (r *resolver) ResolveBToA(ctx context.Context, tokenAddress common.Address) (AssetMapping, error) {
	r.mu.Lock()
	if cached, ok := r.bToACache[tokenAddress]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	if err := r.rescan(ctx); err != nil {
		return AssetMapping{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.bToACache[tokenAddress]; ok {
		return cached, nil
	}
	return AssetMapping{}, errkind.New(errkind.ResolverMiss, fmt.Errorf("no A-side mapping registered for token %s", tokenAddress.Hex()))
}

func (r *resolver) rescan(ctx context.Context) error {
	entries, err := r.chainA.GetAddressData(ctx, r.chainABridgeAddress, "token_map_")
	if err != nil {
		return errkind.New(errkind.TransientNetwork, fmt.Errorf("scan token_map_* data rows: %w", err))
	}

	fresh := make(map[common.Address]AssetMapping, len(entries))
	for _, e := range entries {
		assetID := strings.TrimPrefix(e.Key, "token_map_")
		mapping, ok := parseTokenMapRow(assetID, e.Value)
		if !ok {
			continue
		}
		fresh[mapping.TokenRefB] = mapping
	}

	r.mu.Lock()
	for k, v := range fresh {
		r.bToACache[k] = v
	}
	r.mu.Unlock()
	return nil
}

// parseTokenMapRow parses "unit0_address|decimals|name|symbol". A
// malformed row is a resolver-miss, never a panic (spec.md §9 open
// question 2).
func parseTokenMapRow(assetID, value string) (AssetMapping, bool) {
	parts := strings.Split(value, "|")
	if len(parts) != 4 {
		return AssetMapping{}, false
	}
	if !common.IsHexAddress(parts[0]) {
		return AssetMapping{}, false
	}
	decimals, err := strconv.Atoi(parts[1])
	if err != nil {
		return AssetMapping{}, false
	}
	return AssetMapping{
		TokenRefB: common.HexToAddress(parts[0]),
		AssetRefA: assetID,
		Decimals:  decimals,
		Name:      parts[2],
		Symbol:    parts[3],
	}, true
}
