// Package signing is the bridge validator's Signing Engine: it holds this
// node's key material for both destination chains and produces or verifies
// attestations in each chain's byte-exact on-chain verifier format. It
// never touches persistence or the network, mirroring the teacher's
// CantonKeyPair sign/verify pair generalized to two distinct chains.
package signing

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/resolver"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

var oneDecimal = decimal.NewFromInt(1)

var (
	// ErrNoChainAKey is returned when a destination-A signature is
	// requested but no ed25519 seed was configured — per spec.md §6,
	// the node runs fine without it, with A-destination relay disabled.
	ErrNoChainAKey = errors.New("signing: no chain A (ed25519) key configured")

	ErrZeroAmount          = errors.New("signing: amount must be non-zero")
	ErrNonFungibleNotOne   = errors.New("signing: non-fungible transfer amount must be exactly 1")
)

// Engine holds the validator's own key material for both chains.
type Engine struct {
	chainBKey     *ecdsa.PrivateKey
	chainBAddress common.Address
	chainBChainID int64

	chainAKey    ed25519.PrivateKey // nil if not configured
	chainAPubKey ed25519.PublicKey
	chainAID     string // base58-encoded pubkey, this node's chain-A validator_id
}

// New builds a Signing Engine from hex-encoded secp256k1 key bytes and,
// optionally, a 32-byte ed25519 seed. An empty ed25519Seed disables the
// chain-A signing path cleanly, per spec.md §9's capability-set design.
// chainBChainID is chain B's numeric chain id, the "destination_chain_id"/
// "other_chain_numeric_id" both digest formats embed.
func New(secp256k1KeyHex string, ed25519Seed []byte, chainBChainID int64) (*Engine, error) {
	chainBKey, err := crypto.HexToECDSA(secp256k1KeyHex)
	if err != nil {
		return nil, fmt.Errorf("load secp256k1 key: %w", err)
	}

	e := &Engine{
		chainBKey:     chainBKey,
		chainBAddress: crypto.PubkeyToAddress(chainBKey.PublicKey),
		chainBChainID: chainBChainID,
	}

	if len(ed25519Seed) > 0 {
		if len(ed25519Seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(ed25519Seed))
		}
		priv := ed25519.NewKeyFromSeed(ed25519Seed)
		e.chainAKey = priv
		e.chainAPubKey = priv.Public().(ed25519.PublicKey)
		e.chainAID = EncodeBase58(e.chainAPubKey)
	}

	return e, nil
}

// ChainBValidatorID is this node's identity in chain B's address space.
func (e *Engine) ChainBValidatorID() string { return e.chainBAddress.Hex() }

// ChainAValidatorID is this node's identity in chain A's address space, or
// "" if no ed25519 key is configured.
func (e *Engine) ChainAValidatorID() string { return e.chainAID }

func (e *Engine) HasChainAKey() bool { return e.chainAKey != nil }

// ChainAPublicKeyBase58 is this node's chain-A public key in the encoding
// chain-A transactions embed for senderPublicKey.
func (e *Engine) ChainAPublicKeyBase58() string { return EncodeBase58(e.chainAPubKey) }

// SignSubmission signs raw bytes with this node's chain-A key for use as a
// transaction proof, distinct from the per-transfer attestation digest
// signForA produces. Used by the Relay Engine when it, not a peer
// validator, is the one submitting to chain A.
func (e *Engine) SignSubmission(raw []byte) ([]byte, error) {
	if e.chainAKey == nil {
		return nil, ErrNoChainAKey
	}
	return ed25519.Sign(e.chainAKey, raw), nil
}

// Sign produces an Attestation for event using the destination-appropriate
// scheme, given the resolved destination-side asset mapping.
func (e *Engine) Sign(event types.TransferEvent, mapping resolver.AssetMapping) (types.Attestation, error) {
	if err := validateEventForSigning(event); err != nil {
		return types.Attestation{}, err
	}

	switch event.Destination {
	case types.ChainB:
		return e.signForB(event, mapping)
	case types.ChainA:
		return e.signForA(event, mapping)
	default:
		return types.Attestation{}, fmt.Errorf("signing: unknown destination chain %q", event.Destination)
	}
}

func validateEventForSigning(event types.TransferEvent) error {
	if event.Source == event.Destination {
		return fmt.Errorf("signing: source and destination must differ")
	}
	if event.Amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if event.Kind.IsNonFungible() && !event.Amount.Equal(oneDecimal) {
		return ErrNonFungibleNotOne
	}
	return nil
}

// Verify checks that attestation was produced by expectedValidatorID under
// the scheme implied by attestation.Destination, re-deriving nothing but
// what's carried on the attestation itself (message_digest, signature,
// optional public key) — the audit trail spec.md §3 requires.
func (e *Engine) Verify(attestation types.Attestation, expectedValidatorID string) bool {
	switch attestation.Destination {
	case types.ChainB:
		return verifyB(attestation, expectedValidatorID)
	case types.ChainA:
		return verifyA(attestation, expectedValidatorID)
	default:
		return false
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
