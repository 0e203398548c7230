package watcher

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/config"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/ethereum"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// chainBRPC is the subset of ethereum.Client the watcher depends on.
type chainBRPC interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	FilterTokensLocked(ctx context.Context, from, to uint64) ([]ethereum.LockEvent, error)
}

// ChainBWatcher polls chain B for TokensLocked logs past finality, per
// spec.md §4.4.
type ChainBWatcher struct {
	rpc    chainBRPC
	cfg    config.ChainBConfig
	store  WatermarkStore
	sink   EventSink
	logger *zap.Logger

	ready atomic.Bool
}

func NewChainBWatcher(rpc *ethereum.Client, cfg config.ChainBConfig, store WatermarkStore, sink EventSink, logger *zap.Logger) *ChainBWatcher {
	return &ChainBWatcher{rpc: rpc, cfg: cfg, store: store, sink: sink, logger: logger.Named("watcher.chain_b")}
}

// Ready reports whether this watcher has completed its first poll cycle,
// feeding the status HTTP `/ready` route.
func (w *ChainBWatcher) Ready() bool { return w.ready.Load() }

// Run blocks until ctx is cancelled, advancing the watermark and emitting
// events to the sink as they're observed.
func (w *ChainBWatcher) Run(ctx context.Context) error {
	head, err := w.rpc.GetLatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("chain B watcher startup: %w", err)
	}

	watermark, err := seedWatermark(ctx, w.store, types.ChainB, head, w.cfg.Confirmations, w.cfg.StartBlock)
	if err != nil {
		return fmt.Errorf("chain B watcher seed watermark: %w", err)
	}
	w.logger.Info("chain B watcher starting", zap.Uint64("watermark", watermark), zap.Uint64("head", head))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var head uint64
		if err := withRetry(ctx, w.logger, "get_latest_block_number", func() error {
			var err error
			head, err = w.rpc.GetLatestBlockNumber(ctx)
			return err
		}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("get latest block number exhausted retries", zap.Error(err))
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
			if err := withRetry(ctx, w.logger, "filter_tokens_locked", func() error {
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
			if err := w.store.SetWatermark(ctx, types.ChainB, watermark); err != nil {
				return fmt.Errorf("persist chain B watermark: %w", err)
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

// queryRange fetches the inclusive [from, to] log range and synthesizes a
// TransferEvent per log, mapping the on-chain tokenType enum directly onto
// TokenKind — chain B's TokensLocked.tokenType is the sole source of truth
// for kind on that side (spec.md §9 open question).
func (w *ChainBWatcher) queryRange(ctx context.Context, from, to uint64) ([]types.TransferEvent, error) {
	logs, err := w.rpc.FilterTokensLocked(ctx, from, to)
	if err != nil {
		return nil, err
	}

	events := make([]types.TransferEvent, 0, len(logs))
	for _, log := range logs {
		events = append(events, types.TransferEvent{
			TransferID:  fmt.Sprintf("0x%x", log.LockID),
			Source:      types.ChainB,
			Destination: types.ChainA,
			Token:       log.Token.Hex(),
			Amount:      decimal.NewFromBigInt(log.Amount, 0),
			Sender:      log.Sender.Hex(),
			Recipient:   log.WavesDestination,
			Kind:        types.TokenKind(log.TokenType),
			TokenID:     decimal.NewFromBigInt(log.TokenID, 0),
			SrcBlock:    log.BlockNumber,
			SrcTx:       log.TxHash.Hex(),
			ObservedAt:  nowMillis(),
		})
	}
	return events, nil
}
