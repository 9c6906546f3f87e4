package storage

import (
	"fmt"
	"sort"

	"github.com/zkpool/zkpool/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// Commitment is the persisted record of a registered commitment.
type Commitment struct {
	Commitment *types.BigInt  `json:"commitment"`
	Amount     *types.BigInt  `json:"amount"`
	Owner      types.HexBytes `json:"owner"`
	LeafIndex  uint64         `json:"leafIndex"`
}

// TreeState is the persisted snapshot of the incremental merkle tree: the
// filled-subtree cache, the root history ring and its cursor, and the next
// leaf index. Leaves themselves live under the leaf index prefix.
type TreeState struct {
	Depth          int             `json:"depth"`
	NextIndex      uint64          `json:"nextIndex"`
	RootCursor     int             `json:"rootCursor"`
	FilledSubtrees []*types.BigInt `json:"filledSubtrees"`
	Roots          []*types.BigInt `json:"roots"`
}

// PoolMeta groups the scalar counters, flags and access-control data of the
// pool.
type PoolMeta struct {
	DepositsEnabled    bool             `json:"depositsEnabled"`
	WithdrawalsEnabled bool             `json:"withdrawalsEnabled"`
	EmergencyMode      bool             `json:"emergencyMode"`
	FeeRate            uint64           `json:"feeRate"`
	RelayerFeeBps      uint64           `json:"relayerFeeBps"`
	Governance         types.HexBytes   `json:"governance"`
	FeeAddress         types.HexBytes   `json:"feeAddress"`
	Operators          []types.HexBytes `json:"operators"`
	TotalDeposited     *types.BigInt    `json:"totalDeposited"`
	TotalWithdrawn     *types.BigInt    `json:"totalWithdrawn"`
	TotalFees          *types.BigInt    `json:"totalFees"`
	Balance            *types.BigInt    `json:"balance"`
}

// SetCommitment stores a commitment record and its leaf index entry.
func SetCommitment(wtx db.WriteTx, c *Commitment) error {
	if err := setArtifact(wtx, commitmentPrefix, c.Commitment.Bytes(), c); err != nil {
		return err
	}
	return prefixeddb.NewPrefixedWriteTx(wtx, leafIndexPrefix).
		Set(leafIndexKey(c.LeafIndex), c.Commitment.Bytes())
}

// Commitments loads every persisted commitment record, ordered by leaf
// index.
func (s *Storage) Commitments() ([]*Commitment, error) {
	var out []*Commitment
	var decErr error
	err := prefixeddb.NewPrefixedReader(s.db, commitmentPrefix).Iterate(nil, func(_, value []byte) bool {
		c := &Commitment{}
		if decErr = decodeArtifact(value, c); decErr != nil {
			return false
		}
		out = append(out, c)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, fmt.Errorf("corrupt commitment record: %w", decErr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeafIndex < out[j].LeafIndex })
	return out, nil
}

// AddNullifier marks a nullifier as spent in the persisted set.
func AddNullifier(wtx db.WriteTx, nullifier *types.BigInt) error {
	return prefixeddb.NewPrefixedWriteTx(wtx, nullifierPrefix).Set(nullifier.Bytes(), []byte{1})
}

// Nullifiers loads the persisted spent nullifier set.
func (s *Storage) Nullifiers() ([]*types.BigInt, error) {
	var out []*types.BigInt
	err := prefixeddb.NewPrefixedReader(s.db, nullifierPrefix).Iterate(nil, func(key, _ []byte) bool {
		n := new(types.BigInt).SetBytes(key)
		out = append(out, n)
		return true
	})
	return out, err
}

// SetTreeState stores the merkle tree snapshot.
func SetTreeState(wtx db.WriteTx, ts *TreeState) error {
	return setArtifact(wtx, treePrefix, treeStateKey, ts)
}

// TreeState loads the merkle tree snapshot; it returns nil when the pool
// has never been initialized.
func (s *Storage) TreeState() (*TreeState, error) {
	ts := &TreeState{}
	found, err := s.getArtifact(treePrefix, treeStateKey, ts)
	if err != nil || !found {
		return nil, err
	}
	return ts, nil
}

// SetPoolMeta stores the pool counters and flags.
func SetPoolMeta(wtx db.WriteTx, meta *PoolMeta) error {
	return setArtifact(wtx, metaPrefix, poolMetaKey, meta)
}

// PoolMeta loads the pool counters and flags; it returns nil when the pool
// has never been initialized.
func (s *Storage) PoolMeta() (*PoolMeta, error) {
	meta := &PoolMeta{}
	found, err := s.getArtifact(metaPrefix, poolMetaKey, meta)
	if err != nil || !found {
		return nil, err
	}
	return meta, nil
}
