// Package types holds the core domain model shared by every component of
// the bridge validator: chain identifiers, transfer events, attestations
// and the mutable transfer record that the Coordinator owns.
package types

import "github.com/shopspring/decimal"

// ChainId tags a side of the bridge. Chain A is the ed25519/Base58 L0
// network; chain B is the secp256k1/EVM L1 network.
type ChainId string

const (
	ChainA ChainId = "A"
	ChainB ChainId = "B"
)

func (c ChainId) Other() ChainId {
	if c == ChainA {
		return ChainB
	}
	return ChainA
}

func (c ChainId) Valid() bool {
	return c == ChainA || c == ChainB
}

// TokenKind mirrors the on-chain tokenType enum plus the native case used
// when an asset never leaves its home chain.
type TokenKind uint8

const (
	FungibleExternal TokenKind = iota
	FungibleWrapped
	NonFungibleExternal
	NonFungibleWrapped
	Native
)

func (k TokenKind) IsNonFungible() bool {
	return k == NonFungibleExternal || k == NonFungibleWrapped
}

// TransferEvent is immutable once observed: the fact that some source
// chain emitted a lock event for a bridge transfer.
type TransferEvent struct {
	TransferID string `json:"transfer_id"`
	Source     ChainId `json:"source"`
	Destination ChainId `json:"destination"`

	// Token's meaning depends on Source: an A-side asset id on A, a hex
	// address on B.
	Token string `json:"token"`

	// Amount is unsigned, in the source chain's smallest unit.
	Amount decimal.Decimal `json:"amount"`

	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`

	Kind    TokenKind        `json:"kind"`
	TokenID decimal.Decimal  `json:"token_id"`

	SrcBlock  uint64 `json:"src_block"`
	SrcTx     string `json:"src_tx"`
	ObservedAt int64 `json:"observed_at"`
}

// Key returns the (source, transfer_id) primary key spec.md §3 requires to
// be globally unique.
func (e TransferEvent) Key() (ChainId, string) {
	return e.Source, e.TransferID
}

// Attestation is one validator's signed statement that a TransferEvent
// occurred and should be released on Destination.
type Attestation struct {
	TransferID  string  `json:"transfer_id"`
	Source      ChainId `json:"source"`
	Destination ChainId `json:"destination"`

	ValidatorID string `json:"validator_id"`
	Signature   []byte `json:"signature"`

	// PublicKey is required for an A-destination attestation (ed25519
	// signatures don't recover a signer) and absent for B (secp256k1
	// recovery yields the identity).
	PublicKey []byte `json:"public_key,omitempty"`

	// MessageDigest is the exact bytes signed, kept for audit.
	MessageDigest []byte `json:"message_digest"`

	ProducedAt int64 `json:"produced_at"`
}

// Status is the monotonic lifecycle of a TransferRecord. It never rolls
// back; a Failed record only moves again if an operator resets it to
// Pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAttesting Status = "attesting"
	StatusRelaying  Status = "relaying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// CanAdvanceTo reports whether the monotonic status graph in spec.md §3
// permits a transition from s to next.
func (s Status) CanAdvanceTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusAttesting || next == StatusFailed
	case StatusAttesting:
		return next == StatusRelaying || next == StatusFailed
	case StatusRelaying:
		return next == StatusCompleted || next == StatusFailed || next == StatusRelaying
	case StatusCompleted, StatusFailed:
		return false
	}
	return false
}

// TransferRecord is the mutable aggregate the Coordinator owns.
type TransferRecord struct {
	Event        TransferEvent
	Attestations []Attestation
	Status       Status
	RelayTxID    string

	LastErrorKind string
	LastErrorAt   int64

	CreatedAt int64
	UpdatedAt int64
}

// AttestationCount returns the number of distinct validator ids attested,
// matching spec.md §8's "|attestations| equals the number of distinct
// validator_ids present" invariant.
func (r *TransferRecord) AttestationCount() int {
	seen := make(map[string]struct{}, len(r.Attestations))
	for _, a := range r.Attestations {
		seen[a.ValidatorID] = struct{}{}
	}
	return len(seen)
}

// HasAttestationFrom reports whether validatorID already attested.
func (r *TransferRecord) HasAttestationFrom(validatorID string) bool {
	for _, a := range r.Attestations {
		if a.ValidatorID == validatorID {
			return true
		}
	}
	return false
}

func (r *TransferRecord) IsOpen() bool {
	return r.Status == StatusPending || r.Status == StatusAttesting || r.Status == StatusRelaying
}

// Watermarks tracks the highest source-chain block whose events have been
// durably processed, per chain.
type Watermarks struct {
	LastFinalizedA uint64
	LastFinalizedB uint64
}

// Validator is one member of the destination chain's permissioned set.
type Validator struct {
	ID      string
	Address string
}

// ValidatorSet is the read-only quorum configuration fetched from the
// destination chain.
type ValidatorSet struct {
	Validators []Validator
	Threshold  int
}

func (v ValidatorSet) IsActive(id string) bool {
	for _, m := range v.Validators {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Stats aggregates per-status counts for the status HTTP surface.
type Stats struct {
	ByStatus map[Status]int64
}

// ValidatorCounters are the aggregate per-validator counters, persisted as
// one validator_stats row per validator.
type ValidatorCounters struct {
	ValidatorID         string
	AttestationsIssued  int64
	AttestationsRejected int64
	LastSeenAt          int64
}
