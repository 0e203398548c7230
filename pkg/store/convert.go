package store

import (
	"github.com/chainsafe/l0l1-bridge-validator/pkg/store/dao"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
)

func eventToDao(e types.TransferEvent, status types.Status) *dao.TransferDao {
	return &dao.TransferDao{
		Source:      string(e.Source),
		TransferID:  e.TransferID,
		Destination: string(e.Destination),
		Token:       e.Token,
		Amount:      e.Amount,
		Sender:      e.Sender,
		Recipient:   e.Recipient,
		Kind:        uint8(e.Kind),
		TokenID:     e.TokenID,
		SrcBlock:    e.SrcBlock,
		SrcTx:       e.SrcTx,
		ObservedAt:  e.ObservedAt,
		Status:      string(status),
	}
}

func daoToRecord(d *dao.TransferDao, attestations []types.Attestation) types.TransferRecord {
	return types.TransferRecord{
		Event: types.TransferEvent{
			TransferID:  d.TransferID,
			Source:      types.ChainId(d.Source),
			Destination: types.ChainId(d.Destination),
			Token:       d.Token,
			Amount:      d.Amount,
			Sender:      d.Sender,
			Recipient:   d.Recipient,
			Kind:        types.TokenKind(d.Kind),
			TokenID:     d.TokenID,
			SrcBlock:    d.SrcBlock,
			SrcTx:       d.SrcTx,
			ObservedAt:  d.ObservedAt,
		},
		Attestations:  attestations,
		Status:        types.Status(d.Status),
		RelayTxID:     d.RelayTxID,
		LastErrorKind: d.LastErrorKind,
		LastErrorAt:   d.LastErrorAt,
		CreatedAt:     d.CreatedAt.UnixMilli(),
		UpdatedAt:     d.UpdatedAt.UnixMilli(),
	}
}

func attestationToDao(a types.Attestation) *dao.AttestationDao {
	return &dao.AttestationDao{
		TransferID:    a.TransferID,
		Source:        string(a.Source),
		Destination:   string(a.Destination),
		ValidatorID:   a.ValidatorID,
		Signature:     a.Signature,
		PublicKey:     a.PublicKey,
		MessageDigest: a.MessageDigest,
		ProducedAt:    a.ProducedAt,
	}
}

func daoToAttestation(d *dao.AttestationDao) types.Attestation {
	return types.Attestation{
		TransferID:    d.TransferID,
		Source:        types.ChainId(d.Source),
		Destination:   types.ChainId(d.Destination),
		ValidatorID:   d.ValidatorID,
		Signature:     d.Signature,
		PublicKey:     d.PublicKey,
		MessageDigest: d.MessageDigest,
		ProducedAt:    d.ProducedAt,
	}
}
