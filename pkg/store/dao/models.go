// Package dao holds the bun.BaseModel-tagged rows that mirror pkg/types
// one-to-one, per SPEC_FULL.md §3's persistence-level struct note.
// Grounded on the teacher's pkg/userstore/model.go DAO shape.
package dao

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// TransferDao is one row of the transfers table, keyed by (source,
// transfer_id) per spec.md §3's uniqueness invariant.
type TransferDao struct {
	bun.BaseModel `bun:"table:transfers,alias:t"`

	Source      string `bun:"source,pk,type:varchar(1)"`
	TransferID  string `bun:"transfer_id,pk,type:varchar(128)"`
	Destination string `bun:"destination,notnull,type:varchar(1)"`

	Token     string          `bun:"token,notnull,type:varchar(128)"`
	Amount    decimal.Decimal `bun:"amount,notnull,type:numeric(78,0)"`
	Sender    string          `bun:"sender,notnull,type:varchar(128)"`
	Recipient string          `bun:"recipient,notnull,type:varchar(128)"`

	Kind    uint8           `bun:"kind,notnull"`
	TokenID decimal.Decimal `bun:"token_id,notnull,type:numeric(78,0)"`

	SrcBlock   uint64 `bun:"src_block,notnull"`
	SrcTx      string `bun:"src_tx,notnull,type:varchar(128)"`
	ObservedAt int64  `bun:"observed_at,notnull"`

	Status    string `bun:"status,notnull,type:varchar(16)"`
	RelayTxID string `bun:"relay_tx_id,nullzero,type:varchar(128)"`

	LastErrorKind string `bun:"last_error_kind,nullzero,type:varchar(32)"`
	LastErrorAt   int64  `bun:"last_error_at,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// AttestationDao is one row of the attestations table, unique on
// (transfer_id, validator_id) per spec.md §3.
type AttestationDao struct {
	bun.BaseModel `bun:"table:attestations,alias:a"`

	ID int64 `bun:"id,pk,autoincrement"`

	TransferID  string `bun:"transfer_id,notnull,unique:uq_attestation_transfer_validator,type:varchar(128)"`
	Source      string `bun:"source,notnull,type:varchar(1)"`
	Destination string `bun:"destination,notnull,type:varchar(1)"`

	ValidatorID string `bun:"validator_id,notnull,unique:uq_attestation_transfer_validator,type:varchar(128)"`
	Signature   []byte `bun:"signature,notnull"`
	PublicKey   []byte `bun:"public_key"`
	MessageDigest []byte `bun:"message_digest,notnull"`

	ProducedAt int64 `bun:"produced_at,notnull"`
}

// WatermarkDao is one row per chain, holding the highest durably
// processed source block (spec.md §3's Watermarks).
type WatermarkDao struct {
	bun.BaseModel `bun:"table:watermarks,alias:w"`

	Chain  string `bun:"chain,pk,type:varchar(1)"`
	Height uint64 `bun:"height,notnull"`
}

// ValidatorCounterDao is one row per validator, the aggregate counters
// served by the status HTTP `/validators` route.
type ValidatorCounterDao struct {
	bun.BaseModel `bun:"table:validator_stats,alias:v"`

	ValidatorID          string `bun:"validator_id,pk,type:varchar(128)"`
	AttestationsIssued   int64  `bun:"attestations_issued,notnull,default:0"`
	AttestationsRejected int64  `bun:"attestations_rejected,notnull,default:0"`
	LastSeenAt           int64  `bun:"last_seen_at,notnull,default:0"`
}
