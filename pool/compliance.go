package pool

import (
	"fmt"
	"math/big"
	"time"
)

// ErrDuplicateRequest is returned when a compliance request id already has a
// record. Request ids are write-once.
var ErrDuplicateRequest = fmt.Errorf("compliance request id already used")

// ComplianceRecord is a regulator-facing proof submission about a note,
// keyed by a caller-supplied request id.
type ComplianceRecord struct {
	RequestID     *big.Int
	Commitment    *big.Int
	NullifierHash *big.Int
	AmountHash    *big.Int
	Timestamp     time.Time
	Verified      bool
}

// ComplianceLedger is an append-only record of compliance proof
// submissions, indexed by request id and by commitment.
type ComplianceLedger struct {
	records      map[string]*ComplianceRecord
	byCommitment map[string][]*big.Int // commitment -> request ids, in order
}

// NewComplianceLedger creates an empty ledger.
func NewComplianceLedger() *ComplianceLedger {
	return &ComplianceLedger{
		records:      make(map[string]*ComplianceRecord),
		byCommitment: make(map[string][]*big.Int),
	}
}

func requestKey(id *big.Int) string {
	return string(id.Bytes())
}

// Submit records a compliance submission. A request id can only be written
// once, regardless of proof validity. When proofOk is false nothing is
// persisted and Submit returns false, so the caller may retry with a
// corrected request id.
func (l *ComplianceLedger) Submit(rec *ComplianceRecord, proofOk bool) (bool, error) {
	if _, ok := l.records[requestKey(rec.RequestID)]; ok {
		return false, ErrDuplicateRequest
	}
	if !proofOk {
		return false, nil
	}
	stored := *rec
	stored.Verified = true
	l.records[requestKey(rec.RequestID)] = &stored
	ck := commitmentKey(rec.Commitment)
	l.byCommitment[ck] = append(l.byCommitment[ck], new(big.Int).Set(rec.RequestID))
	return true, nil
}

// restore re-inserts a persisted record at load time, bypassing the proofOk
// gate (only verified records are ever persisted).
func (l *ComplianceLedger) restore(rec *ComplianceRecord) {
	l.records[requestKey(rec.RequestID)] = rec
	ck := commitmentKey(rec.Commitment)
	l.byCommitment[ck] = append(l.byCommitment[ck], rec.RequestID)
}

// Get returns the record for a request id, or nil if absent.
func (l *ComplianceLedger) Get(requestID *big.Int) *ComplianceRecord {
	return l.records[requestKey(requestID)]
}

// ListByCommitment returns the request ids submitted for a commitment, in
// submission order.
func (l *ComplianceLedger) ListByCommitment(commitment *big.Int) []*big.Int {
	ids := l.byCommitment[commitmentKey(commitment)]
	out := make([]*big.Int, len(ids))
	for i, id := range ids {
		out[i] = new(big.Int).Set(id)
	}
	return out
}
