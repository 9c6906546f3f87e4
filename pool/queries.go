package pool

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zkpool/zkpool/log"
	"github.com/zkpool/zkpool/storage"
	"github.com/zkpool/zkpool/types"
	"github.com/zkpool/zkpool/verifier"
)

// VerifyCompliance checks a compliance proof without persisting anything.
func (p *Pool) VerifyCompliance(proof []byte, in verifier.ComplianceInputs) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gate.CheckCompliance(proof, in, p.tree.IsKnownRoot)
}

// SubmitComplianceProof verifies a compliance proof and, when it verifies,
// persists the submission under its request id. The target commitment must
// already exist. A request id can only ever be written once; a failed proof
// is reported as stored == false so the caller may retry with a fresh
// request id.
func (p *Pool) SubmitComplianceProof(proof []byte, in verifier.ComplianceInputs) (stored bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.diverged {
		return false, ErrStateDiverged
	}
	if !p.registry.Exists(in.Commitment) {
		return false, ErrUnknownCommitment
	}
	if p.compliance.Get(in.RequestID) != nil {
		return false, ErrDuplicateRequest
	}
	proofOk := true
	if err := p.gate.CheckCompliance(proof, in, p.tree.IsKnownRoot); err != nil {
		switch {
		case errors.Is(err, verifier.ErrInvalidProof):
			proofOk = false
		default:
			return false, err
		}
	}
	rec := &ComplianceRecord{
		RequestID:     in.RequestID,
		Commitment:    in.Commitment,
		NullifierHash: in.NullifierHash,
		AmountHash:    in.AmountHash,
		Timestamp:     time.Now(),
	}
	stored, err = p.compliance.Submit(rec, proofOk)
	if err != nil || !stored {
		return stored, err
	}
	wtx := p.stg.WriteTx()
	defer wtx.Discard()
	if err := storage.SetComplianceRecord(wtx, &storage.ComplianceRecord{
		RequestID:     (*types.BigInt)(rec.RequestID),
		Commitment:    (*types.BigInt)(rec.Commitment),
		NullifierHash: (*types.BigInt)(rec.NullifierHash),
		AmountHash:    (*types.BigInt)(rec.AmountHash),
		Timestamp:     rec.Timestamp.Unix(),
		Verified:      true,
	}); err != nil {
		return false, err
	}
	if err := p.commit(wtx); err != nil {
		return false, err
	}
	log.Infow("compliance proof recorded", "requestId", rec.RequestID.String(),
		"commitment", rec.Commitment.String())
	return true, nil
}

// ComplianceRecordOf returns the record stored under a request id, or nil.
func (p *Pool) ComplianceRecordOf(requestID *big.Int) *ComplianceRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.compliance.Get(requestID)
}

// ComplianceHistoryOf returns the request ids submitted for a commitment.
func (p *Pool) ComplianceHistoryOf(commitment *big.Int) []*big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.compliance.ListByCommitment(commitment)
}

// Root returns the current merkle root.
func (p *Pool) Root() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.Root()
}

// KnownRoots returns the root history window, most recent first.
func (p *Pool) KnownRoots() []*big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.KnownRoots()
}

// IsKnownRoot reports whether the root is in the history window.
func (p *Pool) IsKnownRoot(root *big.Int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.IsKnownRoot(root)
}

// MerkleProof returns the sibling path of the leaf at index.
func (p *Pool) MerkleProof(index uint64) ([]*big.Int, []bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.MerkleProof(index)
}

// CommitmentOf returns the record of a registered commitment.
func (p *Pool) CommitmentOf(commitment *big.Int) (*CommitmentRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	amount, err := p.registry.AmountOf(commitment)
	if err != nil {
		return nil, err
	}
	owner, _ := p.registry.OwnerOf(commitment)
	index, _ := p.registry.IndexOf(commitment)
	return &CommitmentRecord{
		Commitment: new(big.Int).Set(commitment),
		Amount:     amount,
		Owner:      owner,
		LeafIndex:  index,
	}, nil
}

// CommitmentAt returns the commitment stored at a leaf index.
func (p *Pool) CommitmentAt(index uint64) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.ByIndex(index)
}

// IndexOf returns the leaf index of a commitment.
func (p *Pool) IndexOf(commitment *big.Int) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.IndexOf(commitment)
}

// IsSpent reports whether a nullifier has been spent.
func (p *Pool) IsSpent(nullifier *big.Int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nullifiers.IsSpent(nullifier)
}

// Stats is a point-in-time snapshot of the pool counters and flags.
type Stats struct {
	Leaves             uint64         `json:"leaves"`
	SpentNullifiers    int            `json:"spentNullifiers"`
	TotalDeposited     *types.BigInt  `json:"totalDeposited"`
	TotalWithdrawn     *types.BigInt  `json:"totalWithdrawn"`
	TotalFees          *types.BigInt  `json:"totalFees"`
	Balance            *types.BigInt  `json:"balance"`
	DepositsEnabled    bool           `json:"depositsEnabled"`
	WithdrawalsEnabled bool           `json:"withdrawalsEnabled"`
	EmergencyMode      bool           `json:"emergencyMode"`
	FeeRate            uint64         `json:"feeRate"`
	Governance         common.Address `json:"governance"`
}

// Stats returns a snapshot of the pool counters and flags.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Leaves:             p.tree.Size(),
		SpentNullifiers:    p.nullifiers.Len(),
		TotalDeposited:     (*types.BigInt)(new(big.Int).Set(p.totalDeposited)),
		TotalWithdrawn:     (*types.BigInt)(new(big.Int).Set(p.totalWithdrawn)),
		TotalFees:          (*types.BigInt)(new(big.Int).Set(p.totalFees)),
		Balance:            (*types.BigInt)(new(big.Int).Set(p.balance)),
		DepositsEnabled:    p.depositsEnabled,
		WithdrawalsEnabled: p.withdrawalsEnabled,
		EmergencyMode:      p.emergencyMode,
		FeeRate:            p.feeRate,
		Governance:         p.governance,
	}
}
