// Package tree implements the fixed-depth append-only incremental merkle
// tree that accumulates deposit commitments. Inserts are O(depth) thanks to
// a cache of the most recent complete subtree hash per level, and the last
// RootHistorySize roots are kept in a rolling window so that withdrawal
// proofs generated against a slightly stale tree remain valid.
package tree

import (
	"fmt"
	"math/big"

	"github.com/zkpool/zkpool/crypto/hash/poseidon"
	"github.com/zkpool/zkpool/types"
)

var (
	// ErrTreeFull is returned by Insert once 2^depth leaves are stored.
	// The tree is append-only; fullness is terminal.
	ErrTreeFull = fmt.Errorf("merkle tree is full")
	// ErrLeafNotFound is returned when a proof is requested for an index
	// that has not been assigned yet.
	ErrLeafNotFound = fmt.Errorf("leaf not found")
	// ErrInvalidDepth is returned by New for unusable tree depths.
	ErrInvalidDepth = fmt.Errorf("invalid tree depth")
)

// Tree is an incremental merkle tree of fixed depth. The zero value is not
// usable; create instances with New or Restore.
type Tree struct {
	depth          int
	zeros          []*big.Int // zeros[i] is the hash of an empty subtree of height i
	filledSubtrees []*big.Int
	leaves         []*big.Int
	nextIndex      uint64
	roots          []*big.Int // ring buffer of the last RootHistorySize roots
	currentRootIdx int
}

// New creates an empty tree of the given depth. The root of the empty tree
// is recorded as the first entry of the root history.
func New(depth int) (*Tree, error) {
	if depth < 1 || depth > 32 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}
	zeros := make([]*big.Int, depth+1)
	zeros[0] = big.NewInt(0)
	for i := 1; i <= depth; i++ {
		h, err := poseidon.Hash2(zeros[i-1], zeros[i-1])
		if err != nil {
			return nil, err
		}
		zeros[i] = h
	}
	filled := make([]*big.Int, depth)
	copy(filled, zeros[:depth])
	roots := make([]*big.Int, types.RootHistorySize)
	for i := range roots {
		roots[i] = big.NewInt(0)
	}
	roots[0] = zeros[depth]
	return &Tree{
		depth:          depth,
		zeros:          zeros,
		filledSubtrees: filled,
		roots:          roots,
	}, nil
}

// Restore rebuilds a tree from a persisted snapshot. The snapshot fields
// must come from the same depth and be mutually consistent; Restore only
// checks sizes.
func Restore(depth int, leaves, filledSubtrees, roots []*big.Int, currentRootIdx int, nextIndex uint64) (*Tree, error) {
	t, err := New(depth)
	if err != nil {
		return nil, err
	}
	if len(filledSubtrees) != depth {
		return nil, fmt.Errorf("snapshot has %d filled subtrees, want %d", len(filledSubtrees), depth)
	}
	if len(roots) != types.RootHistorySize {
		return nil, fmt.Errorf("snapshot has %d roots, want %d", len(roots), types.RootHistorySize)
	}
	if uint64(len(leaves)) != nextIndex {
		return nil, fmt.Errorf("snapshot has %d leaves, next index is %d", len(leaves), nextIndex)
	}
	if currentRootIdx < 0 || currentRootIdx >= types.RootHistorySize {
		return nil, fmt.Errorf("snapshot root cursor %d out of range", currentRootIdx)
	}
	t.leaves = leaves
	t.filledSubtrees = filledSubtrees
	t.roots = roots
	t.currentRootIdx = currentRootIdx
	t.nextIndex = nextIndex
	return t, nil
}

// Depth returns the fixed depth of the tree.
func (t *Tree) Depth() int { return t.depth }

// Size returns the number of inserted leaves.
func (t *Tree) Size() uint64 { return t.nextIndex }

// Root returns the most recent root.
func (t *Tree) Root() *big.Int {
	return new(big.Int).Set(t.roots[t.currentRootIdx])
}

// LeafAt returns the leaf stored at the given index.
func (t *Tree) LeafAt(index uint64) (*big.Int, error) {
	if index >= t.nextIndex {
		return nil, fmt.Errorf("%w: index %d (next index %d)", ErrLeafNotFound, index, t.nextIndex)
	}
	return new(big.Int).Set(t.leaves[index]), nil
}

// FilledSubtrees returns the per-level cache of the most recent complete
// subtree hashes, for persistence.
func (t *Tree) FilledSubtrees() []*big.Int {
	out := make([]*big.Int, t.depth)
	for i, f := range t.filledSubtrees {
		out[i] = new(big.Int).Set(f)
	}
	return out
}

// RootHistory returns the raw root ring buffer and its cursor, for
// persistence. Zero entries are uninitialized slots.
func (t *Tree) RootHistory() ([]*big.Int, int) {
	out := make([]*big.Int, len(t.roots))
	for i, r := range t.roots {
		out[i] = new(big.Int).Set(r)
	}
	return out, t.currentRootIdx
}

// Insert appends a leaf and returns its assigned index. The walk caches, at
// every level where the current node is a left child, the node hash in
// filledSubtrees so that the next right-side insertion can complete the pair
// without recomputation. The resulting root overwrites the oldest entry of
// the root history ring.
func (t *Tree) Insert(leaf *big.Int) (uint64, error) {
	if !poseidon.InField(leaf) {
		return 0, poseidon.ErrOutOfFieldRange
	}
	if t.nextIndex == uint64(1)<<t.depth {
		return 0, fmt.Errorf("%w: depth %d", ErrTreeFull, t.depth)
	}
	index := t.nextIndex
	pos := index
	current := new(big.Int).Set(leaf)
	for level := 0; level < t.depth; level++ {
		var err error
		if pos%2 == 0 {
			t.filledSubtrees[level] = current
			current, err = poseidon.Hash2(current, t.zeros[level])
		} else {
			current, err = poseidon.Hash2(t.filledSubtrees[level], current)
		}
		if err != nil {
			return 0, err
		}
		pos /= 2
	}
	t.currentRootIdx = (t.currentRootIdx + 1) % types.RootHistorySize
	t.roots[t.currentRootIdx] = current
	t.leaves = append(t.leaves, new(big.Int).Set(leaf))
	t.nextIndex++
	return index, nil
}

// IsKnownRoot reports whether root is the current root or any of the other
// entries of the history window. A zero root is never valid since it marks
// an uninitialized history slot.
func (t *Tree) IsKnownRoot(root *big.Int) bool {
	if root == nil || root.Sign() == 0 {
		return false
	}
	i := t.currentRootIdx
	for {
		if t.roots[i].Cmp(root) == 0 {
			return true
		}
		if i == 0 {
			i = types.RootHistorySize
		}
		i--
		if i == t.currentRootIdx {
			return false
		}
	}
}

// KnownRoots returns the non-zero roots of the history window, most recent
// first.
func (t *Tree) KnownRoots() []*big.Int {
	roots := make([]*big.Int, 0, types.RootHistorySize)
	i := t.currentRootIdx
	for {
		if t.roots[i].Sign() != 0 {
			roots = append(roots, new(big.Int).Set(t.roots[i]))
		}
		if i == 0 {
			i = types.RootHistorySize
		}
		i--
		if i == t.currentRootIdx {
			return roots
		}
	}
}

// MerkleProof reconstructs the sibling path of the leaf at the given index
// against the current tree contents. The walk is iterative, rebuilding each
// layer from the one below, so the resulting path pairs nodes exactly the
// way Insert does; provers compute their witness paths off this logic.
// directions[level] is true when the path node at that level is a right
// child (the sibling hashes on the left).
func (t *Tree) MerkleProof(index uint64) (siblings []*big.Int, directions []bool, err error) {
	if index >= t.nextIndex {
		return nil, nil, fmt.Errorf("%w: index %d (next index %d)", ErrLeafNotFound, index, t.nextIndex)
	}
	siblings = make([]*big.Int, t.depth)
	directions = make([]bool, t.depth)

	layer := make([]*big.Int, t.nextIndex)
	copy(layer, t.leaves)
	pos := index
	for level := 0; level < t.depth; level++ {
		if len(layer)%2 != 0 {
			layer = append(layer, t.zeros[level])
		}
		sib := pos ^ 1
		if sib < uint64(len(layer)) {
			siblings[level] = new(big.Int).Set(layer[sib])
		} else {
			siblings[level] = new(big.Int).Set(t.zeros[level])
		}
		directions[level] = pos%2 == 1

		next := make([]*big.Int, len(layer)/2)
		for i := 0; i < len(layer); i += 2 {
			h, err := poseidon.Hash2(layer[i], layer[i+1])
			if err != nil {
				return nil, nil, err
			}
			next[i/2] = h
		}
		layer = next
		pos /= 2
	}
	return siblings, directions, nil
}

// VerifyProof recomputes the root from a leaf and its sibling path. It is
// the host-side mirror of the in-circuit path check, used by tests and by
// provers validating freshly generated paths.
func VerifyProof(leaf *big.Int, siblings []*big.Int, directions []bool, root *big.Int) (bool, error) {
	if len(siblings) != len(directions) {
		return false, fmt.Errorf("got %d siblings and %d directions", len(siblings), len(directions))
	}
	current := new(big.Int).Set(leaf)
	for i, sib := range siblings {
		var err error
		if directions[i] {
			current, err = poseidon.Hash2(sib, current)
		} else {
			current, err = poseidon.Hash2(current, sib)
		}
		if err != nil {
			return false, err
		}
	}
	return current.Cmp(root) == 0, nil
}
