package signing

import (
	"fmt"
	"math/big"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/resolver"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const ethPersonalMessageBanner = "\x19Ethereum Signed Message:\n32"

// signForB implements spec.md §4.2's chain-B attestation scheme exactly:
// packed keccak256 digest, Ethereum personal-message banner, secp256k1
// signature as 65 bytes r‖s‖v.
func (e *Engine) signForB(event types.TransferEvent, mapping resolver.AssetMapping) (types.Attestation, error) {
	transferID32, err := transferIDTo32Bytes(event)
	if err != nil {
		return types.Attestation{}, err
	}

	recipient := common.HexToAddress(event.Recipient)
	amount, ok := new(big.Int).SetString(event.Amount.String(), 10)
	if !ok {
		return types.Attestation{}, fmt.Errorf("signing: amount %q is not an integer", event.Amount.String())
	}
	tokenID, ok := new(big.Int).SetString(event.TokenID.String(), 10)
	if !ok {
		tokenID = big.NewInt(0)
	}

	outer := packedKeccak256(
		transferID32[:],
		mapping.TokenRefB.Bytes(),
		uint256BE(amount),
		recipient.Bytes(),
		[]byte{byte(event.Kind)},
		uint256BE(tokenID),
		uint256BE(big.NewInt(e.chainBChainID)),
	)

	digest := crypto.Keccak256(append([]byte(ethPersonalMessageBanner), outer...))

	sig, err := crypto.Sign(digest, e.chainBKey)
	if err != nil {
		return types.Attestation{}, fmt.Errorf("sign chain B digest: %w", err)
	}
	// crypto.Sign's recovery id is 0/1; the Ethereum wire convention adds
	// 27 so downstream verifiers see a standard v.
	sig[64] += 27

	return types.Attestation{
		TransferID:    event.TransferID,
		Source:        event.Source,
		Destination:   event.Destination,
		ValidatorID:   e.ChainBValidatorID(),
		Signature:     sig,
		MessageDigest: digest,
		ProducedAt:    nowMillis(),
	}, nil
}

func verifyB(attestation types.Attestation, expectedValidatorID string) bool {
	if len(attestation.Signature) != 65 {
		return false
	}
	sig := make([]byte, 65)
	copy(sig, attestation.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(attestation.MessageDigest, sig)
	if err != nil {
		return false
	}
	recovered := crypto.PubkeyToAddress(*pub)
	return common.HexToAddress(expectedValidatorID) == recovered
}

// TransferIDToBytes32 exposes transferIDTo32Bytes for the Relay Engine,
// which needs the same 32-byte transfer id chain B's on-chain verifier
// and ProcessedTransfers replay guard key off.
func TransferIDToBytes32(event types.TransferEvent) ([32]byte, error) {
	return transferIDTo32Bytes(event)
}

// transferIDTo32Bytes handles spec.md §4.2 point 3: A-originated text
// transfer ids are hashed; B-originated ids are already a 32-byte lock id
// encoded as hex.
func transferIDTo32Bytes(event types.TransferEvent) ([32]byte, error) {
	var out [32]byte
	if event.Source == types.ChainA {
		copy(out[:], crypto.Keccak256([]byte(event.TransferID)))
		return out, nil
	}
	raw := event.TransferID
	if len(raw) >= 2 && raw[:2] == "0x" {
		raw = raw[2:]
	}
	decoded := common.Hex2Bytes(raw)
	if len(decoded) != 32 {
		return out, fmt.Errorf("signing: chain B transfer id %q is not 32 bytes", event.TransferID)
	}
	copy(out[:], decoded)
	return out, nil
}

// packedKeccak256 hashes the tight concatenation of its arguments — no
// length prefixes, no padding, exactly the "packed encoding" of spec.md's
// glossary.
func packedKeccak256(parts ...[]byte) []byte {
	var buf []byte
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return crypto.Keccak256(buf)
}

func uint256BE(v *big.Int) []byte {
	b := make([]byte, 32)
	v.FillBytes(b)
	return b
}
