package signing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/resolver"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
	"github.com/mr-tron/base58"
)

// signForA implements spec.md §4.2's chain-A attestation scheme: plain
// string concatenation (no separators), sha256 digest, deterministic
// ed25519 signature.
func (e *Engine) signForA(event types.TransferEvent, mapping resolver.AssetMapping) (types.Attestation, error) {
	if e.chainAKey == nil {
		return types.Attestation{}, ErrNoChainAKey
	}

	message := buildChainAMessage(event.TransferID, event.Recipient, mapping.AssetRefA, event.Amount.String(), e.chainBChainID)
	digest := sha256.Sum256(message)

	sig := ed25519.Sign(e.chainAKey, digest[:])

	return types.Attestation{
		TransferID:    event.TransferID,
		Source:        event.Source,
		Destination:   event.Destination,
		ValidatorID:   e.chainAID,
		Signature:     sig,
		PublicKey:     append([]byte(nil), e.chainAPubKey...),
		MessageDigest: digest[:],
		ProducedAt:    nowMillis(),
	}, nil
}

func verifyA(attestation types.Attestation, expectedValidatorID string) bool {
	if len(attestation.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	if EncodeBase58(attestation.PublicKey) != expectedValidatorID {
		return false
	}
	return ed25519.Verify(attestation.PublicKey, attestation.MessageDigest, attestation.Signature)
}

func buildChainAMessage(transferID, recipient, assetRef, amountDecimal string, otherChainNumericID int64) []byte {
	s := fmt.Sprintf("%s%s%s%s%d", transferID, recipient, assetRef, amountDecimal, otherChainNumericID)
	return []byte(s)
}

// EncodeBase58 is the transit encoding for chain-A signatures and public
// keys (spec.md §4.2); on-chain invocation instead uses Base64, handled at
// the Relay Engine boundary.
func EncodeBase58(b []byte) string {
	return base58.Encode(b)
}

func DecodeBase58(s string) ([]byte, error) {
	return base58.Decode(s)
}
