// Package ethereum wraps the chain-B (EVM) RPC surface: the read/write
// bridge contract calls and the TokensLocked log range-query, used by both
// the Chain-B watcher and the Relay Engine.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/config"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/ethereum/contracts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Client is a thin, reusable wrapper over an ethclient connection and the
// bridge contract binding.
type Client struct {
	cfg        *config.ChainBConfig
	rpc        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	logger     *zap.Logger

	bridgeAddress common.Address
	bridge        *contracts.Bridge
}

// New dials cfg.RPCURL and binds the bridge contract at cfg.BridgeAddress.
// privateKeyHex is the node's own secp256k1 relay key, hex-encoded without
// a 0x prefix.
func New(cfg *config.ChainBConfig, privateKeyHex string, logger *zap.Logger) (*Client, error) {
	rpc, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain B rpc: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("load chain B relay key: %w", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	bridgeAddress := common.HexToAddress(cfg.BridgeAddress)
	bridge, err := contracts.NewBridge(bridgeAddress, rpc)
	if err != nil {
		return nil, fmt.Errorf("bind bridge contract: %w", err)
	}

	logger.Info("connected to chain B",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("bridge_address", bridgeAddress.Hex()),
		zap.String("relay_address", address.Hex()))

	return &Client{
		cfg:           cfg,
		rpc:           rpc,
		privateKey:    privateKey,
		address:       address,
		bridgeAddress: bridgeAddress,
		bridge:        bridge,
		logger:        logger,
	}, nil
}

func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

// Address is this node's own relay address on chain B — also its
// validator_id in the destination-chain address space when destination is B.
func (c *Client) Address() common.Address { return c.address }

func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	header, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("header by number: %w", err)
	}
	return header.Number.Uint64(), nil
}

// FilterTokensLocked range-queries [from, to] inclusive for bridge lock
// events, per spec.md §4.3's "events := query(watermark+1, batch_end)",
// decoding each log into a LockEvent in the order the node returned them.
func (c *Client) FilterTokensLocked(ctx context.Context, from, to uint64) ([]LockEvent, error) {
	end := to
	opts := &bind.FilterOpts{Start: from, End: &end, Context: ctx}
	it, err := c.bridge.FilterTokensLocked(opts)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var events []LockEvent
	for it.Next() {
		log := it.Event
		events = append(events, LockEvent{
			LockID:           log.LockId,
			Token:            log.Token,
			Amount:           log.Amount,
			Sender:           log.Sender,
			WavesDestination: log.WavesDestination,
			Nonce:            log.Nonce,
			TokenType:        log.TokenType,
			TokenID:          log.TokenId,
			BlockNumber:      log.Raw.BlockNumber,
			TxHash:           log.Raw.TxHash,
			LogIndex:         log.Raw.Index,
		})
	}
	return events, it.Error()
}

// WavesToUnit0Token is the A→B asset-mapping read call (resolver §4.5).
func (c *Client) WavesToUnit0Token(ctx context.Context, assetID string) (common.Address, error) {
	return c.bridge.WavesToUnit0Token(&bind.CallOpts{Context: ctx}, assetID)
}

// ProcessedTransfers checks the destination's replay-protection flag.
func (c *Client) ProcessedTransfers(ctx context.Context, transferID [32]byte) (bool, error) {
	return c.bridge.ProcessedTransfers(&bind.CallOpts{Context: ctx}, transferID)
}

func (c *Client) ValidatorThreshold(ctx context.Context) (int, error) {
	n, err := c.bridge.ValidatorThreshold(&bind.CallOpts{Context: ctx})
	if err != nil {
		return 0, fmt.Errorf("validator threshold: %w", err)
	}
	return int(n.Int64()), nil
}

func (c *Client) ActiveValidatorCount(ctx context.Context) (int, error) {
	n, err := c.bridge.ActiveValidatorCount(&bind.CallOpts{Context: ctx})
	if err != nil {
		return 0, fmt.Errorf("active validator count: %w", err)
	}
	return int(n.Int64()), nil
}

func (c *Client) IsValidator(ctx context.Context, addr common.Address) (bool, error) {
	return c.bridge.IsValidator(&bind.CallOpts{Context: ctx}, addr)
}

// GetTransactor builds a keyed transactor with a fresh pending nonce,
// mirroring the teacher's nonce/gas-headroom assembly.
func (c *Client) GetTransactor(ctx context.Context) (*bind.TransactOpts, error) {
	chainID := big.NewInt(c.cfg.ChainID)
	auth, err := bind.NewKeyedTransactorWithChainID(c.privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}

	nonce, err := c.rpc.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	auth.Nonce = big.NewInt(int64(nonce))

	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	// 20% headroom per spec.md §4.7.
	auth.GasPrice = new(big.Int).Div(new(big.Int).Mul(gasPrice, big.NewInt(120)), big.NewInt(100))

	return auth, nil
}

func (c *Client) ReleaseTokens(
	ctx context.Context,
	transferID [32]byte,
	token common.Address,
	amount *big.Int,
	recipient common.Address,
	kind uint8,
	tokenID *big.Int,
	signatures [][]byte,
) (*types.Transaction, error) {
	auth, err := c.GetTransactor(ctx)
	if err != nil {
		return nil, err
	}
	return c.bridge.ReleaseTokens(auth, transferID, token, amount, recipient, kind, tokenID, signatures)
}

func (c *Client) ReleaseNFT(
	ctx context.Context,
	transferID [32]byte,
	token common.Address,
	recipient common.Address,
	tokenID *big.Int,
	signatures [][]byte,
) (*types.Transaction, error) {
	auth, err := c.GetTransactor(ctx)
	if err != nil {
		return nil, err
	}
	return c.bridge.ReleaseNFT(auth, transferID, token, recipient, tokenID, signatures)
}

// WaitMined blocks until tx is included or ctx is cancelled.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, c.rpc, tx)
}
