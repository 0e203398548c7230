package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/chaina"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/errkind"
	"github.com/ethereum/go-ethereum/common"
)

type fakeChainBReader struct {
	addr common.Address
	err  error
}

func (f *fakeChainBReader) WavesToUnit0Token(_ context.Context, _ string) (common.Address, error) {
	return f.addr, f.err
}

type fakeChainAReader struct {
	entries []chaina.DataEntry
	err     error
}

func (f *fakeChainAReader) GetAddressData(_ context.Context, _, _ string) ([]chaina.DataEntry, error) {
	return f.entries, f.err
}

func TestResolveAToB_ReturnsMapping(t *testing.T) {
	want := common.HexToAddress("0x1111111111111111111111111111111111111111")
	r := New(&fakeChainBReader{addr: want}, &fakeChainAReader{}, "bridge")

	got, err := r.ResolveAToB(context.Background(), "asset-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TokenRefB != want {
		t.Fatalf("expected %s, got %s", want.Hex(), got.TokenRefB.Hex())
	}
}

func TestResolveAToB_ZeroAddressIsResolverMiss(t *testing.T) {
	r := New(&fakeChainBReader{addr: common.Address{}}, &fakeChainAReader{}, "bridge")

	_, err := r.ResolveAToB(context.Background(), "asset-1")
	if kind, ok := errkind.KindOf(err); !ok || kind != errkind.ResolverMiss {
		t.Fatalf("expected ResolverMiss, got %v", err)
	}
}

func TestResolveAToB_RPCErrorIsTransientNetwork(t *testing.T) {
	r := New(&fakeChainBReader{err: errors.New("rpc down")}, &fakeChainAReader{}, "bridge")

	_, err := r.ResolveAToB(context.Background(), "asset-1")
	if kind, ok := errkind.KindOf(err); !ok || kind != errkind.TransientNetwork {
		t.Fatalf("expected TransientNetwork, got %v", err)
	}
}

func TestResolveBToA_ScansAndCaches(t *testing.T) {
	tokenAddr := "0x2222222222222222222222222222222222222222"
	chainA := &fakeChainAReader{entries: []chaina.DataEntry{
		{Key: "token_map_asset-2", Value: tokenAddr + "|18|Wrapped Foo|WFOO"},
	}}
	r := New(&fakeChainBReader{}, chainA, "bridge")

	got, err := r.ResolveBToA(context.Background(), common.HexToAddress(tokenAddr))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.AssetRefA != "asset-2" || got.Decimals != 18 || got.Symbol != "WFOO" {
		t.Fatalf("unexpected mapping: %+v", got)
	}

	// Second lookup must hit the cache, not rescan.
	chainA.entries = nil
	got2, err := r.ResolveBToA(context.Background(), common.HexToAddress(tokenAddr))
	if err != nil {
		t.Fatalf("unexpected error on cached lookup: %v", err)
	}
	if got2.AssetRefA != "asset-2" {
		t.Fatalf("expected cached mapping to survive, got %+v", got2)
	}
}

func TestResolveBToA_UnregisteredTokenIsResolverMiss(t *testing.T) {
	r := New(&fakeChainBReader{}, &fakeChainAReader{}, "bridge")

	_, err := r.ResolveBToA(context.Background(), common.HexToAddress("0x3333333333333333333333333333333333333333"))
	if kind, ok := errkind.KindOf(err); !ok || kind != errkind.ResolverMiss {
		t.Fatalf("expected ResolverMiss, got %v", err)
	}
}

func TestResolveBToA_MalformedRowIsSkippedNotFatal(t *testing.T) {
	tokenAddr := "0x4444444444444444444444444444444444444444"
	chainA := &fakeChainAReader{entries: []chaina.DataEntry{
		{Key: "token_map_asset-bad", Value: "not-enough-fields"},
		{Key: "token_map_asset-good", Value: tokenAddr + "|6|Bar|BAR"},
	}}
	r := New(&fakeChainBReader{}, chainA, "bridge")

	got, err := r.ResolveBToA(context.Background(), common.HexToAddress(tokenAddr))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Symbol != "BAR" {
		t.Fatalf("expected the well-formed row to resolve, got %+v", got)
	}
}
