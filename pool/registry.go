package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zkpool/zkpool/crypto/hash/poseidon"
)

var (
	// ErrDuplicateCommitment is returned when registering a commitment that
	// is already known. Registration is write-once.
	ErrDuplicateCommitment = fmt.Errorf("commitment already registered")
	// ErrZeroCommitment is returned when registering the zero sentinel.
	ErrZeroCommitment = fmt.Errorf("zero commitment")
	// ErrUnknownCommitment is returned by lookups for commitments that were
	// never registered.
	ErrUnknownCommitment = fmt.Errorf("unknown commitment")
)

// CommitmentRecord associates a registered commitment with its deposited
// amount, owner and assigned leaf index. Change commitments carry a zero
// amount since their value is hidden inside the note.
type CommitmentRecord struct {
	Commitment *big.Int
	Amount     *big.Int
	Owner      common.Address
	LeafIndex  uint64
}

// CommitmentRegistry tracks every commitment ever inserted in the tree.
// Membership is monotonic: once a commitment exists it is never removed nor
// re-registered.
type CommitmentRegistry struct {
	records map[string]*CommitmentRecord
	byIndex map[uint64]*big.Int
}

// NewCommitmentRegistry creates an empty registry.
func NewCommitmentRegistry() *CommitmentRegistry {
	return &CommitmentRegistry{
		records: make(map[string]*CommitmentRecord),
		byIndex: make(map[uint64]*big.Int),
	}
}

func commitmentKey(c *big.Int) string {
	return string(c.Bytes())
}

// CheckNew validates that a commitment could be registered: non-zero, in
// field, and not already known. It performs no mutation, so the orchestrator
// can evaluate it as a pre-condition before touching the tree.
func (r *CommitmentRegistry) CheckNew(commitment *big.Int) error {
	if commitment == nil || commitment.Sign() == 0 {
		return ErrZeroCommitment
	}
	if !poseidon.InField(commitment) {
		return poseidon.ErrOutOfFieldRange
	}
	if _, ok := r.records[commitmentKey(commitment)]; ok {
		return ErrDuplicateCommitment
	}
	return nil
}

// Register stores the association for a commitment at the leaf index the
// tree assigned to it.
func (r *CommitmentRegistry) Register(commitment, amount *big.Int, owner common.Address, leafIndex uint64) error {
	if err := r.CheckNew(commitment); err != nil {
		return err
	}
	c := new(big.Int).Set(commitment)
	r.records[commitmentKey(c)] = &CommitmentRecord{
		Commitment: c,
		Amount:     new(big.Int).Set(amount),
		Owner:      owner,
		LeafIndex:  leafIndex,
	}
	r.byIndex[leafIndex] = c
	return nil
}

// Exists reports whether the commitment is known.
func (r *CommitmentRegistry) Exists(commitment *big.Int) bool {
	if commitment == nil {
		return false
	}
	_, ok := r.records[commitmentKey(commitment)]
	return ok
}

// AmountOf returns the deposited amount of a commitment.
func (r *CommitmentRegistry) AmountOf(commitment *big.Int) (*big.Int, error) {
	rec, ok := r.records[commitmentKey(commitment)]
	if !ok {
		return nil, ErrUnknownCommitment
	}
	return new(big.Int).Set(rec.Amount), nil
}

// OwnerOf returns the depositor address of a commitment.
func (r *CommitmentRegistry) OwnerOf(commitment *big.Int) (common.Address, error) {
	rec, ok := r.records[commitmentKey(commitment)]
	if !ok {
		return common.Address{}, ErrUnknownCommitment
	}
	return rec.Owner, nil
}

// IndexOf returns the tree leaf index of a commitment.
func (r *CommitmentRegistry) IndexOf(commitment *big.Int) (uint64, error) {
	rec, ok := r.records[commitmentKey(commitment)]
	if !ok {
		return 0, ErrUnknownCommitment
	}
	return rec.LeafIndex, nil
}

// ByIndex returns the commitment stored at a leaf index.
func (r *CommitmentRegistry) ByIndex(leafIndex uint64) (*big.Int, error) {
	c, ok := r.byIndex[leafIndex]
	if !ok {
		return nil, ErrUnknownCommitment
	}
	return new(big.Int).Set(c), nil
}

// Len returns the number of registered commitments.
func (r *CommitmentRegistry) Len() int {
	return len(r.records)
}
