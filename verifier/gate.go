package verifier

import (
	"fmt"
	"math/big"

	"github.com/zkpool/zkpool/crypto/hash/poseidon"
)

// KnownRootFn reports whether a merkle root belongs to the root history
// window. Provided by the tree at call time.
type KnownRootFn func(root *big.Int) bool

// Gate assembles the ordered public-input vector a proof commits to and
// runs it through the verifier, after the cheap rejections: field range
// checks on every signal and root freshness. This mirrors the range checks
// the verifier itself performs, but before the expensive pairing check.
type Gate struct {
	withdraw   ProofVerifier
	compliance ProofVerifier
}

// NewGate creates a gate with a verifier per proof type.
func NewGate(withdraw, compliance ProofVerifier) *Gate {
	return &Gate{withdraw: withdraw, compliance: compliance}
}

// WithdrawInputs carries the caller-supplied values a withdrawal proof is
// checked against. OutCommit1 is deliberately absent: it is recomputed from
// the plaintext amount and blinding, never trusted as caller input, so a
// caller cannot present a commitment unconnected to the settled amount.
// OutCommit2 is taken verbatim; its shape is bound only by the circuit.
type WithdrawInputs struct {
	Root          *big.Int
	NullifierHash *big.Int
	Amount        *big.Int
	Blinding      *big.Int
	OutCommit2    *big.Int
}

// CheckWithdraw validates the public inputs of a withdrawal proof and
// verifies it. The assembled signal vector is
// [nullifierHash, outCommit1, outCommit2, merkleRoot].
func (g *Gate) CheckWithdraw(proof []byte, in WithdrawInputs, isKnownRoot KnownRootFn) error {
	for name, v := range map[string]*big.Int{
		"root":          in.Root,
		"nullifierHash": in.NullifierHash,
		"amount":        in.Amount,
		"blinding":      in.Blinding,
		"outCommit2":    in.OutCommit2,
	} {
		if !poseidon.InField(v) {
			return fmt.Errorf("%w: %s", poseidon.ErrOutOfFieldRange, name)
		}
	}
	if !isKnownRoot(in.Root) {
		return ErrStaleOrUnknownRoot
	}
	outCommit1, err := poseidon.Hash2(in.Amount, in.Blinding)
	if err != nil {
		return err
	}
	signals := []*big.Int{in.NullifierHash, outCommit1, in.OutCommit2, in.Root}
	return g.withdraw.Verify(proof, signals)
}

// ComplianceInputs carries the six circuit outputs of a compliance proof.
type ComplianceInputs struct {
	Root          *big.Int
	RequestID     *big.Int
	Commitment    *big.Int
	NullifierHash *big.Int
	AmountHash    *big.Int
	IsValid       *big.Int
}

// CheckCompliance validates and verifies a compliance proof. The assembled
// signal vector is [merkleRoot, requestId, commitment, nullifierHash,
// amountHash, isValid].
func (g *Gate) CheckCompliance(proof []byte, in ComplianceInputs, isKnownRoot KnownRootFn) error {
	for name, v := range map[string]*big.Int{
		"root":          in.Root,
		"requestId":     in.RequestID,
		"commitment":    in.Commitment,
		"nullifierHash": in.NullifierHash,
		"amountHash":    in.AmountHash,
		"isValid":       in.IsValid,
	} {
		if !poseidon.InField(v) {
			return fmt.Errorf("%w: %s", poseidon.ErrOutOfFieldRange, name)
		}
	}
	if !isKnownRoot(in.Root) {
		return ErrStaleOrUnknownRoot
	}
	signals := []*big.Int{in.Root, in.RequestID, in.Commitment, in.NullifierHash, in.AmountHash, in.IsValid}
	return g.compliance.Verify(proof, signals)
}
