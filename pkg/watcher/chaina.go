package watcher

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/chaina"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/config"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// chainARPC is the subset of chaina.Client the watcher depends on.
type chainARPC interface {
	GetHeight(ctx context.Context) (uint64, error)
	GetBlockAt(ctx context.Context, height uint64, bridgeAddress string) (*chaina.Block, error)
}

// ChainAWatcher polls chain A block-by-block for lockTokens/lockNFT
// invoke-script calls addressed to the bridge, per spec.md §4.3.
type ChainAWatcher struct {
	rpc           chainARPC
	cfg           config.ChainAConfig
	bridgeAddress string
	store         WatermarkStore
	sink          EventSink
	logger        *zap.Logger

	ready atomic.Bool
}

// Ready reports whether this watcher has completed its first poll cycle,
// feeding the status HTTP `/ready` route.
func (w *ChainAWatcher) Ready() bool { return w.ready.Load() }

func NewChainAWatcher(rpc *chaina.Client, cfg config.ChainAConfig, store WatermarkStore, sink EventSink, logger *zap.Logger) *ChainAWatcher {
	return &ChainAWatcher{
		rpc:           rpc,
		cfg:           cfg,
		bridgeAddress: cfg.BridgeAddress,
		store:         store,
		sink:          sink,
		logger:        logger.Named("watcher.chain_a"),
	}
}

func (w *ChainAWatcher) Run(ctx context.Context) error {
	head, err := w.rpc.GetHeight(ctx)
	if err != nil {
		return fmt.Errorf("chain A watcher startup: %w", err)
	}

	watermark, err := seedWatermark(ctx, w.store, types.ChainA, head, w.cfg.Confirmations, w.cfg.StartBlock)
	if err != nil {
		return fmt.Errorf("chain A watcher seed watermark: %w", err)
	}
	w.logger.Info("chain A watcher starting", zap.Uint64("watermark", watermark), zap.Uint64("head", head))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var head uint64
		if err := withRetry(ctx, w.logger, "get_height", func() error {
			var err error
			head, err = w.rpc.GetHeight(ctx)
			return err
		}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("get height exhausted retries", zap.Error(err))
			if err := sleep(ctx, w.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}

		if head < uint64(w.cfg.Confirmations) {
			if err := sleep(ctx, w.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}
		frontier := head - uint64(w.cfg.Confirmations)

		for watermark < frontier {
			batchEnd := minUint64(watermark+w.cfg.BatchCap, frontier)

			var events []types.TransferEvent
			if err := withRetry(ctx, w.logger, "query_blocks", func() error {
				var err error
				events, err = w.queryRange(ctx, watermark+1, batchEnd)
				return err
			}); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Error("query range exhausted retries, watermark unchanged",
					zap.Uint64("from", watermark+1), zap.Uint64("to", batchEnd), zap.Error(err))
				break
			}

			sinkFailed := false
			for _, e := range events {
				if err := w.sink.HandleEvent(ctx, e); err != nil {
					w.logger.Error("sink rejected event, watermark unchanged",
						zap.String("transfer_id", e.TransferID), zap.Error(err))
					sinkFailed = true
					break
				}
			}
			if sinkFailed {
				break
			}

			watermark = batchEnd
			if err := w.store.SetWatermark(ctx, types.ChainA, watermark); err != nil {
				return fmt.Errorf("persist chain A watermark: %w", err)
			}

			if err := sleep(ctx, interblockDelay); err != nil {
				return err
			}
		}

		w.ready.Store(true)

		if err := sleep(ctx, w.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// queryRange fetches blocks [from, to] inclusive one at a time, in order,
// so the emitted events are naturally in (block, index) order.
func (w *ChainAWatcher) queryRange(ctx context.Context, from, to uint64) ([]types.TransferEvent, error) {
	var events []types.TransferEvent
	for height := from; height <= to; height++ {
		block, err := w.rpc.GetBlockAt(ctx, height, w.bridgeAddress)
		if err != nil {
			return nil, fmt.Errorf("get block %d: %w", height, err)
		}
		for _, tx := range block.Transactions {
			event, ok := parseLockTransaction(tx, height)
			if !ok {
				continue
			}
			events = append(events, event)
		}
	}
	return events, nil
}

// parseLockTransaction converts one lockTokens/lockNFT invoke-script call
// into a TransferEvent. The transfer id is the transaction id itself
// (spec.md §4.3's other option — a transfer_*_id data row — is a
// contract-side audit convenience, not needed here since the transaction
// id already uniquely keys the event). Argument order is fixed by the
// bridge dApp's own ABI: recipient, asset id, amount, and — for lockNFT
// only — a token id as the fourth argument (1 when absent or unparsable);
// further arguments are ignored. When a payment is attached, its asset id
// becomes the event's Token in place of the asset-id argument.
func parseLockTransaction(tx chaina.InvokeScriptTransaction, height uint64) (types.TransferEvent, bool) {
	if tx.Call == nil || len(tx.Call.Args) < 3 {
		return types.TransferEvent{}, false
	}

	recipient, ok := argString(tx.Call.Args, 0)
	if !ok {
		return types.TransferEvent{}, false
	}
	assetID, ok := argString(tx.Call.Args, 1)
	if !ok {
		return types.TransferEvent{}, false
	}
	amountStr, ok := argString(tx.Call.Args, 2)
	if !ok {
		return types.TransferEvent{}, false
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return types.TransferEvent{}, false
	}

	kind := types.FungibleExternal
	tokenID := decimal.Zero
	if tx.Call.Function == "lockNFT" {
		kind = types.NonFungibleExternal
		tokenID = decimal.NewFromInt(1)
		if s, ok := argString(tx.Call.Args, 3); ok {
			if parsed, err := decimal.NewFromString(s); err == nil {
				tokenID = parsed
			}
		}
	}

	token := assetID
	if len(tx.Payment) > 0 {
		token = tx.Payment[0].AssetID
	}

	return types.TransferEvent{
		TransferID:  tx.ID,
		Source:      types.ChainA,
		Destination: types.ChainB,
		Token:       token,
		Amount:      amount,
		Sender:      tx.Sender,
		Recipient:   recipient,
		Kind:        kind,
		TokenID:     tokenID,
		SrcBlock:    height,
		SrcTx:       tx.ID,
		ObservedAt:  nowMillis(),
	}, true
}

func argString(args []chaina.Arg, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].Value.(string)
	return s, ok
}
