// Package relay is the bridge validator's Relay Engine: once a
// TransferRecord has collected enough attestations, it builds and submits
// the destination-chain release transaction, tracking in-flight
// submissions so a transfer is never pushed twice at once (spec.md §4.7).
package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/chaina"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/config"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/errkind"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/ethereum"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/resolver"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/signing"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Outcome is the three-way result spec.md §4.7 requires the Coordinator
// to act on.
type Outcome int

const (
	// OutcomePending means a transient condition (in-flight already,
	// timeout, nonce collision, rate limit); the record stays in
	// Relaying for the next sweep to retry.
	OutcomePending Outcome = iota
	OutcomeCompleted
	OutcomeFailed
)

// Result carries what the Coordinator needs to advance a TransferRecord.
type Result struct {
	Outcome   Outcome
	TxID      string
	ErrorKind errkind.Kind
}

// chainBClient is the subset of *ethereum.Client the Relay Engine submits
// release transactions through.
type chainBClient interface {
	ProcessedTransfers(ctx context.Context, transferID [32]byte) (bool, error)
	ReleaseTokens(ctx context.Context, transferID [32]byte, token common.Address, amount *big.Int, recipient common.Address, kind uint8, tokenID *big.Int, signatures [][]byte) (*gethtypes.Transaction, error)
	ReleaseNFT(ctx context.Context, transferID [32]byte, token common.Address, recipient common.Address, tokenID *big.Int, signatures [][]byte) (*gethtypes.Transaction, error)
	WaitMined(ctx context.Context, tx *gethtypes.Transaction) (*gethtypes.Receipt, error)
}

// chainAClient is the subset of *chaina.Client the Relay Engine submits
// release invocations through.
type chainAClient interface {
	GetDataEntry(ctx context.Context, address, key string) (*chaina.DataEntry, bool, error)
	BroadcastInvokeScript(ctx context.Context, signedTxJSON []byte) (string, error)
	GetTransactionInfo(ctx context.Context, txID string) (*chaina.TransactionInfo, error)
}

// submissionSigner is the subset of *signing.Engine the Relay Engine uses
// to authorize its own chain-A submissions.
type submissionSigner interface {
	HasChainAKey() bool
	ChainAPublicKeyBase58() string
	SignSubmission(raw []byte) ([]byte, error)
}

// Engine is the default Relay Engine, backed by the real chain-B and
// chain-A clients.
type Engine struct {
	chainB    chainBClient
	chainA    chainAClient
	signing   submissionSigner
	resolver  resolver.Resolver
	bridgeCfg config.BridgeConfig
	chainACfg config.ChainAConfig
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(chainB *ethereum.Client, chainA *chaina.Client, signingEngine *signing.Engine, res resolver.Resolver, bridgeCfg config.BridgeConfig, chainACfg config.ChainAConfig, logger *zap.Logger) *Engine {
	return newEngine(chainB, chainA, signingEngine, res, bridgeCfg, chainACfg, logger)
}

func newEngine(chainB chainBClient, chainA chainAClient, signingEngine submissionSigner, res resolver.Resolver, bridgeCfg config.BridgeConfig, chainACfg config.ChainAConfig, logger *zap.Logger) *Engine {
	return &Engine{
		chainB:    chainB,
		chainA:    chainA,
		signing:   signingEngine,
		resolver:  res,
		bridgeCfg: bridgeCfg,
		chainACfg: chainACfg,
		logger:    logger.Named("relay"),
		inFlight:  make(map[string]struct{}),
	}
}

// Submit attempts to relay record to its destination chain. Called by the
// Coordinator's sweep once |attestations| >= threshold.
func (e *Engine) Submit(ctx context.Context, record types.TransferRecord) Result {
	transferID := record.Event.TransferID
	if !e.acquire(transferID) {
		return Result{Outcome: OutcomePending}
	}
	defer e.release(transferID)

	switch record.Event.Destination {
	case types.ChainB:
		return e.submitToB(ctx, record)
	case types.ChainA:
		return e.submitToA(ctx, record)
	default:
		return Result{Outcome: OutcomeFailed, ErrorKind: errkind.MalformedInbound}
	}
}

func (e *Engine) acquire(transferID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inFlight[transferID]; ok {
		return false
	}
	e.inFlight[transferID] = struct{}{}
	return true
}

func (e *Engine) release(transferID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, transferID)
}

func (e *Engine) submitToB(ctx context.Context, record types.TransferRecord) Result {
	event := record.Event
	transferID32, err := signing.TransferIDToBytes32(event)
	if err != nil {
		e.logger.Error("cannot derive chain B transfer id", zap.String("transfer_id", event.TransferID), zap.Error(err))
		return Result{Outcome: OutcomeFailed, ErrorKind: errkind.MalformedInbound}
	}

	processed, err := e.chainB.ProcessedTransfers(ctx, transferID32)
	if err != nil {
		return transientResult(err)
	}
	if processed {
		return Result{Outcome: OutcomeCompleted}
	}

	mapping, err := e.resolver.ResolveAToB(ctx, event.Token)
	if err != nil {
		return resolverResult(err)
	}

	amount, ok := new(big.Int).SetString(event.Amount.String(), 10)
	if !ok {
		return Result{Outcome: OutcomeFailed, ErrorKind: errkind.MalformedInbound}
	}
	tokenID, ok := new(big.Int).SetString(event.TokenID.String(), 10)
	if !ok {
		tokenID = big.NewInt(0)
	}
	recipient := common.HexToAddress(event.Recipient)

	signatures, err := sortedBSignatures(record.Attestations)
	if err != nil {
		return Result{Outcome: OutcomeFailed, ErrorKind: errkind.MalformedInbound}
	}

	var txID string
	if event.Kind.IsNonFungible() {
		ethTx, err := e.chainB.ReleaseNFT(ctx, transferID32, mapping.TokenRefB, recipient, tokenID, signatures)
		if err != nil {
			return classifySubmitError(err)
		}
		txID = ethTx.Hash().Hex()
		waitCtx, cancel := withTimeout(ctx, e.bridgeCfg.RelayTimeoutB)
		_, err = e.chainB.WaitMined(waitCtx, ethTx)
		cancel()
		if err != nil {
			return transientResult(err)
		}
	} else {
		ethTx, err := e.chainB.ReleaseTokens(ctx, transferID32, mapping.TokenRefB, amount, recipient, uint8(event.Kind), tokenID, signatures)
		if err != nil {
			return classifySubmitError(err)
		}
		txID = ethTx.Hash().Hex()
		waitCtx, cancel := withTimeout(ctx, e.bridgeCfg.RelayTimeoutB)
		_, err = e.chainB.WaitMined(waitCtx, ethTx)
		cancel()
		if err != nil {
			return transientResult(err)
		}
	}

	return Result{Outcome: OutcomeCompleted, TxID: txID}
}

func (e *Engine) submitToA(ctx context.Context, record types.TransferRecord) Result {
	event := record.Event

	_, found, err := e.chainA.GetDataEntry(ctx, e.chainACfg.BridgeAddress, "processed_"+event.TransferID)
	if err != nil {
		return transientResult(err)
	}
	if found {
		return Result{Outcome: OutcomeCompleted}
	}

	mapping, err := e.resolver.ResolveBToA(ctx, common.HexToAddress(event.Token))
	if err != nil {
		return resolverResult(err)
	}

	if !e.signing.HasChainAKey() {
		e.logger.Warn("destination A relay skipped: no chain A key configured", zap.String("transfer_id", event.TransferID))
		return Result{Outcome: OutcomeFailed, ErrorKind: errkind.ConfigInvalid}
	}

	signaturesB64, publicKeysB64, err := base64SignaturesAndKeys(record.Attestations)
	if err != nil {
		return Result{Outcome: OutcomeFailed, ErrorKind: errkind.MalformedInbound}
	}

	rawTx := chaina.BuildReleaseTokensInvoke(
		e.signing.ChainAPublicKeyBase58(),
		e.chainACfg.BridgeAddress,
		"releaseTokens",
		event.TransferID,
		event.Recipient,
		mapping.AssetRefA,
		event.Amount.String(),
		signaturesB64,
		publicKeysB64,
		500000, // fixed network fee per spec.md §4.7
		e.chainACfg.NetworkTag[0],
		time.Now().UnixMilli(),
	)

	proof, err := e.signing.SignSubmission(rawTx)
	if err != nil {
		return Result{Outcome: OutcomeFailed, ErrorKind: errkind.ConfigInvalid}
	}
	signedTx, err := chaina.AttachProof(rawTx, proof)
	if err != nil {
		return Result{Outcome: OutcomeFailed, ErrorKind: errkind.MalformedInbound}
	}

	txID, err := e.chainA.BroadcastInvokeScript(ctx, signedTx)
	if err != nil {
		if chaina.IsRateLimited(err) {
			return Result{Outcome: OutcomePending}
		}
		return classifySubmitError(err)
	}

	if !e.awaitConfirmation(ctx, txID) {
		return Result{Outcome: OutcomePending, TxID: txID}
	}
	return Result{Outcome: OutcomeCompleted, TxID: txID}
}

func (e *Engine) awaitConfirmation(ctx context.Context, txID string) bool {
	deadline := time.Now().Add(e.bridgeCfg.RelayTimeoutA)
	for time.Now().Before(deadline) {
		info, err := e.chainA.GetTransactionInfo(ctx, txID)
		if err == nil && info.Confirmed() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(2 * time.Second):
		}
	}
	return false
}

// sortedBSignatures dedupes attestations by validator id and sorts the
// resulting signatures by the 20-byte signer address ascending, per
// spec.md §4.7's strict-increasing-order on-chain check.
func sortedBSignatures(attestations []types.Attestation) ([][]byte, error) {
	seen := make(map[common.Address][]byte)
	for _, a := range attestations {
		addr := common.HexToAddress(a.ValidatorID)
		if _, ok := seen[addr]; ok {
			continue
		}
		if len(a.Signature) != 65 {
			return nil, errors.New("relay: chain B attestation signature must be 65 bytes")
		}
		seen[addr] = a.Signature
	}

	addrs := make([]common.Address, 0, len(seen))
	for addr := range seen {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return strings.ToLower(addrs[i].Hex()) < strings.ToLower(addrs[j].Hex())
	})

	signatures := make([][]byte, len(addrs))
	for i, addr := range addrs {
		signatures[i] = seen[addr]
	}
	return signatures, nil
}

// base64SignaturesAndKeys dedupes attestations by validator id and returns
// matched signature/public-key lists in a stable, arbitrary-but-consistent
// order: spec.md §4.7 requires equal counts and positional pairing for
// chain A, not a specific sort.
func base64SignaturesAndKeys(attestations []types.Attestation) ([]string, []string, error) {
	seen := make(map[string]struct{})
	var signatures, publicKeys []string
	for _, a := range attestations {
		if _, ok := seen[a.ValidatorID]; ok {
			continue
		}
		if len(a.PublicKey) == 0 {
			return nil, nil, fmt.Errorf("relay: chain A attestation from %s missing public key", a.ValidatorID)
		}
		seen[a.ValidatorID] = struct{}{}
		signatures = append(signatures, base64.StdEncoding.EncodeToString(a.Signature))
		publicKeys = append(publicKeys, base64.StdEncoding.EncodeToString(a.PublicKey))
	}
	return signatures, publicKeys, nil
}

func transientResult(err error) Result {
	return Result{Outcome: OutcomePending, ErrorKind: errkind.TransientNetwork}
}

// resolverResult classifies a resolver failure hit during re-resolution at
// relay time. A resolver miss is terminal (spec.md §7 scenario 3: the
// destination asset was never registered, so no retry will ever resolve
// it); anything else is a transient network failure worth retrying.
func resolverResult(err error) Result {
	kind, ok := errkind.KindOf(err)
	if !ok {
		return Result{Outcome: OutcomePending, ErrorKind: errkind.TransientNetwork}
	}
	if kind == errkind.ResolverMiss {
		return Result{Outcome: OutcomeFailed, ErrorKind: kind}
	}
	return Result{Outcome: OutcomePending, ErrorKind: kind}
}

// classifySubmitError distinguishes a transient submission failure
// (timeout, nonce collision, rate limit) from a terminal one (the
// destination verifier rejected the signature set outright).
func classifySubmitError(err error) Result {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "replacement transaction underpriced"):
		return Result{Outcome: OutcomePending, ErrorKind: errkind.TransientNetwork}
	case strings.Contains(msg, "revert"), strings.Contains(msg, "signature"):
		return Result{Outcome: OutcomeFailed, ErrorKind: errkind.SignatureRejected}
	default:
		return Result{Outcome: OutcomePending, ErrorKind: errkind.TransientNetwork}
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
