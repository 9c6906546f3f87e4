package storage

import (
	"fmt"

	"github.com/zkpool/zkpool/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// ComplianceRecord is the persisted form of a verified compliance proof
// submission. Only verified submissions are ever persisted.
type ComplianceRecord struct {
	RequestID     *types.BigInt `json:"requestId"`
	Commitment    *types.BigInt `json:"commitment"`
	NullifierHash *types.BigInt `json:"nullifierHash"`
	AmountHash    *types.BigInt `json:"amountHash"`
	Timestamp     int64         `json:"timestamp"`
	Verified      bool          `json:"verified"`
}

// SetComplianceRecord stores a compliance record and appends its request id
// to the commitment's history list. The caller guarantees the request id is
// fresh.
func SetComplianceRecord(wtx db.WriteTx, rec *ComplianceRecord) error {
	if err := setArtifact(wtx, compliancePrefix, rec.RequestID.Bytes(), rec); err != nil {
		return err
	}
	// read-modify-write of the per-commitment index, inside the same tx
	idxTx := prefixeddb.NewPrefixedWriteTx(wtx, complianceIndexPrefix)
	var ids []types.HexBytes
	data, err := idxTx.Get(rec.Commitment.Bytes())
	if err == nil {
		if err := decodeArtifact(data, &ids); err != nil {
			return fmt.Errorf("corrupt compliance index: %w", err)
		}
	} else if err != db.ErrKeyNotFound {
		return err
	}
	ids = append(ids, rec.RequestID.Bytes())
	encoded, err := encodeArtifact(ids)
	if err != nil {
		return err
	}
	return idxTx.Set(rec.Commitment.Bytes(), encoded)
}

// ComplianceRecords loads every persisted compliance record.
func (s *Storage) ComplianceRecords() ([]*ComplianceRecord, error) {
	var out []*ComplianceRecord
	var decErr error
	err := prefixeddb.NewPrefixedReader(s.db, compliancePrefix).Iterate(nil, func(_, value []byte) bool {
		rec := &ComplianceRecord{}
		if decErr = decodeArtifact(value, rec); decErr != nil {
			return false
		}
		out = append(out, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, fmt.Errorf("corrupt compliance record: %w", decErr)
	}
	return out, nil
}

// ComplianceRequestIDs returns the request ids submitted for a commitment.
func (s *Storage) ComplianceRequestIDs(commitment *types.BigInt) ([]types.HexBytes, error) {
	var ids []types.HexBytes
	data, err := prefixeddb.NewPrefixedReader(s.db, complianceIndexPrefix).Get(commitment.Bytes())
	if err == db.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := decodeArtifact(data, &ids); err != nil {
		return nil, fmt.Errorf("corrupt compliance index: %w", err)
	}
	return ids, nil
}
