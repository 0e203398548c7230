package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/chaina"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/config"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
	"go.uber.org/zap"
)

type fakeChainARPC struct {
	head   uint64
	blocks map[uint64]*chaina.Block
}

func (f *fakeChainARPC) GetHeight(_ context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeChainARPC) GetBlockAt(_ context.Context, height uint64, _ string) (*chaina.Block, error) {
	if b, ok := f.blocks[height]; ok {
		return b, nil
	}
	return &chaina.Block{Height: height}, nil
}

func TestChainAWatcherEmitsAndAdvancesWatermark(t *testing.T) {
	store := newFakeWatermarkStore()
	store.watermarks[types.ChainA] = 100

	rpc := &fakeChainARPC{
		head: 105,
		blocks: map[uint64]*chaina.Block{
			103: {
				Height: 103,
				Transactions: []chaina.InvokeScriptTransaction{
					{
						Type:   16,
						ID:     "tx-abc",
						DApp:   "bridgeAddr",
						Sender: "3Nxxxxxsenderxxxxx",
						Call: &chaina.FnCall{
							Function: "lockTokens",
							Args: []chaina.Arg{
								{Type: "String", Value: "0xrecipient"},
								{Type: "String", Value: "WAVES"},
								{Type: "String", Value: "2500"},
								{Type: "String", Value: "88811"},
							},
						},
					},
				},
			},
		},
	}

	cfg := config.ChainAConfig{Confirmations: 0, BatchCap: 10, PollInterval: time.Millisecond, BridgeAddress: "bridgeAddr"}
	sink := &collectingSink{}
	w := NewChainAWatcher(nil, cfg, store, sink, zap.NewNop())
	w.rpc = rpc

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = w.Run(ctx)
	}()

	waitFor(t, func() bool { return len(sink.events) == 1 })

	event := sink.events[0]
	if event.TransferID != "tx-abc" {
		t.Errorf("unexpected transfer id: %s", event.TransferID)
	}
	if event.Source != types.ChainA || event.Destination != types.ChainB {
		t.Errorf("unexpected source/destination: %+v", event)
	}
	if !event.Amount.Equal(event.Amount) || event.Amount.String() != "2500" {
		t.Errorf("unexpected amount: %s", event.Amount.String())
	}
	if event.Kind != types.FungibleExternal {
		t.Errorf("unexpected kind: %v", event.Kind)
	}
	if event.Sender != "3Nxxxxxsenderxxxxx" {
		t.Errorf("expected sender to be the invoking account, not the dApp address, got %q", event.Sender)
	}

	waitFor(t, func() bool {
		wm, _, _ := store.GetWatermark(ctx, types.ChainA)
		return wm == 105
	})
}
