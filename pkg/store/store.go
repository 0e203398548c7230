// Package store is the bridge validator's Persistence component: every
// handler writes here before acknowledging externally, so a crash between
// writes always leaves the Coordinator able to re-derive pending work from
// the store alone (spec.md §4.1). Grounded on the teacher's
// pkg/userstore/pg.go bun-backed store shape.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/store/dao"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ErrTransferNotFound is returned when a transfer lookup finds no
// matching (source, transfer_id) row.
var ErrTransferNotFound = errors.New("store: transfer not found")

// Store is the full persistence surface the Coordinator, watchers, gossip
// overlay and relay engine depend on.
type Store interface {
	// PutTransferIfAbsent inserts event with an initial Pending status and
	// reports whether it was newly inserted (spec.md §4.1's
	// put_transfer_if_absent: "does not overwrite").
	PutTransferIfAbsent(ctx context.Context, event types.TransferEvent) (inserted bool, err error)

	// AppendAttestation is idempotent on (transfer_id, validator_id).
	AppendAttestation(ctx context.Context, attestation types.Attestation) error

	// GetTransfer fetches one record with its attestations.
	GetTransfer(ctx context.Context, source types.ChainId, transferID string) (*types.TransferRecord, error)

	// UpdateTransferStatus is the Coordinator's sole mutation of a
	// record's status (spec.md §3's monotonic status graph is enforced by
	// the caller, not here).
	UpdateTransferStatus(ctx context.Context, source types.ChainId, transferID string, status types.Status, relayTxID string, lastErrorKind string) error

	// ListOpenTransfers returns every record in Pending, Attesting or
	// Relaying status.
	ListOpenTransfers(ctx context.Context) ([]types.TransferRecord, error)

	// GetStats returns per-status counts for the status HTTP surface.
	GetStats(ctx context.Context) (types.Stats, error)

	// GetWatermark and SetWatermark satisfy watcher.WatermarkStore.
	GetWatermark(ctx context.Context, chain types.ChainId) (height uint64, found bool, err error)
	SetWatermark(ctx context.Context, chain types.ChainId, height uint64) error

	// RecordValidatorAttestation increments the per-validator counters
	// used by the status HTTP `/validators` route.
	RecordValidatorAttestation(ctx context.Context, validatorID string, accepted bool, seenAt int64) error
	ListValidatorCounters(ctx context.Context) ([]types.ValidatorCounters, error)
}

type pgStore struct {
	db     *bun.DB
	logger *zap.Logger
}

func New(db *bun.DB, logger *zap.Logger) Store {
	return &pgStore{db: db, logger: logger.Named("store")}
}

func (s *pgStore) PutTransferIfAbsent(ctx context.Context, event types.TransferEvent) (bool, error) {
	d := eventToDao(event, types.StatusPending)
	res, err := s.db.NewInsert().
		Model(d).
		On("CONFLICT (source, transfer_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("put transfer if absent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put transfer if absent: rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *pgStore) AppendAttestation(ctx context.Context, attestation types.Attestation) error {
	d := attestationToDao(attestation)
	_, err := s.db.NewInsert().
		Model(d).
		On("CONFLICT (transfer_id, validator_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("append attestation: %w", err)
	}
	return nil
}

func (s *pgStore) GetTransfer(ctx context.Context, source types.ChainId, transferID string) (*types.TransferRecord, error) {
	d := new(dao.TransferDao)
	err := s.db.NewSelect().
		Model(d).
		Where("source = ? AND transfer_id = ?", string(source), transferID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, fmt.Errorf("get transfer: %w", err)
	}

	attestations, err := s.attestationsFor(ctx, transferID)
	if err != nil {
		return nil, err
	}

	record := daoToRecord(d, attestations)
	return &record, nil
}

func (s *pgStore) attestationsFor(ctx context.Context, transferID string) ([]types.Attestation, error) {
	var rows []dao.AttestationDao
	err := s.db.NewSelect().
		Model(&rows).
		Where("transfer_id = ?", transferID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attestations for %s: %w", transferID, err)
	}
	out := make([]types.Attestation, len(rows))
	for i := range rows {
		out[i] = daoToAttestation(&rows[i])
	}
	return out, nil
}

func (s *pgStore) UpdateTransferStatus(ctx context.Context, source types.ChainId, transferID string, status types.Status, relayTxID string, lastErrorKind string) error {
	q := s.db.NewUpdate().
		Model((*dao.TransferDao)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = now()").
		Where("source = ? AND transfer_id = ?", string(source), transferID)

	if relayTxID != "" {
		q = q.Set("relay_tx_id = ?", relayTxID)
	}
	if lastErrorKind != "" {
		q = q.Set("last_error_kind = ?", lastErrorKind).Set("last_error_at = ?", nowMillis())
	}

	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("update transfer status: %w", err)
	}
	return nil
}

func (s *pgStore) ListOpenTransfers(ctx context.Context) ([]types.TransferRecord, error) {
	var rows []dao.TransferDao
	err := s.db.NewSelect().
		Model(&rows).
		Where("status IN (?)", bun.In([]string{
			string(types.StatusPending), string(types.StatusAttesting), string(types.StatusRelaying),
		})).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open transfers: %w", err)
	}

	records := make([]types.TransferRecord, 0, len(rows))
	for i := range rows {
		attestations, err := s.attestationsFor(ctx, rows[i].TransferID)
		if err != nil {
			return nil, err
		}
		records = append(records, daoToRecord(&rows[i], attestations))
	}
	return records, nil
}

func (s *pgStore) GetStats(ctx context.Context) (types.Stats, error) {
	var rows []struct {
		Status string `bun:"status"`
		Count  int64  `bun:"count"`
	}
	err := s.db.NewSelect().
		Model((*dao.TransferDao)(nil)).
		ColumnExpr("status").
		ColumnExpr("count(*) AS count").
		GroupExpr("status").
		Scan(ctx, &rows)
	if err != nil {
		return types.Stats{}, fmt.Errorf("get stats: %w", err)
	}

	stats := types.Stats{ByStatus: make(map[types.Status]int64, len(rows))}
	for _, r := range rows {
		stats.ByStatus[types.Status(r.Status)] = r.Count
	}
	return stats, nil
}

func (s *pgStore) GetWatermark(ctx context.Context, chain types.ChainId) (uint64, bool, error) {
	d := new(dao.WatermarkDao)
	err := s.db.NewSelect().
		Model(d).
		Where("chain = ?", string(chain)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get watermark: %w", err)
	}
	return d.Height, true, nil
}

// SetWatermark implements spec.md §4.1's advance_watermark: monotonic,
// rejects (silently no-ops on) a non-increasing height.
func (s *pgStore) SetWatermark(ctx context.Context, chain types.ChainId, height uint64) error {
	_, err := s.db.NewInsert().
		Model(&dao.WatermarkDao{Chain: string(chain), Height: height}).
		On("CONFLICT (chain) DO UPDATE").
		Set("height = EXCLUDED.height").
		Where("watermarks.height < EXCLUDED.height").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

func (s *pgStore) RecordValidatorAttestation(ctx context.Context, validatorID string, accepted bool, seenAt int64) error {
	issuedDelta, rejectedDelta := 0, 0
	if accepted {
		issuedDelta = 1
	} else {
		rejectedDelta = 1
	}

	_, err := s.db.NewInsert().
		Model(&dao.ValidatorCounterDao{
			ValidatorID:          validatorID,
			AttestationsIssued:   int64(issuedDelta),
			AttestationsRejected: int64(rejectedDelta),
			LastSeenAt:           seenAt,
		}).
		On("CONFLICT (validator_id) DO UPDATE").
		Set("attestations_issued = validator_stats.attestations_issued + EXCLUDED.attestations_issued").
		Set("attestations_rejected = validator_stats.attestations_rejected + EXCLUDED.attestations_rejected").
		Set("last_seen_at = EXCLUDED.last_seen_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record validator attestation: %w", err)
	}
	return nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func (s *pgStore) ListValidatorCounters(ctx context.Context) ([]types.ValidatorCounters, error) {
	var rows []dao.ValidatorCounterDao
	if err := s.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return nil, fmt.Errorf("list validator counters: %w", err)
	}
	out := make([]types.ValidatorCounters, len(rows))
	for i, r := range rows {
		out[i] = types.ValidatorCounters{
			ValidatorID:          r.ValidatorID,
			AttestationsIssued:   r.AttestationsIssued,
			AttestationsRejected: r.AttestationsRejected,
			LastSeenAt:           r.LastSeenAt,
		}
	}
	return out, nil
}
