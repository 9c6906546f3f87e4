// Package verifier checks the zero-knowledge proofs presented to the pool.
// It assembles the canonical public-input vectors in the exact order the
// circuits output them and delegates the pairing check to a Groth16
// verifier over BN254. The circuits and their proving toolchain are
// external; only their public interface is known here.
package verifier

import (
	"bytes"
	"fmt"
	"math/big"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
)

var (
	// ErrInvalidProof is returned when the pairing check fails.
	ErrInvalidProof = fmt.Errorf("invalid proof")
	// ErrStaleOrUnknownRoot is returned when the merkle root a proof was
	// generated against is not in the root history window.
	ErrStaleOrUnknownRoot = fmt.Errorf("stale or unknown merkle root")
	// ErrMalformedProof is returned when the proof bytes cannot be parsed.
	ErrMalformedProof = fmt.Errorf("malformed proof")
)

// Public signal counts per proof type. Signal order is part of the circuit
// contract and must never be permuted.
const (
	WithdrawNumSignals   = 4
	ComplianceNumSignals = 6
)

// ProofVerifier performs the actual cryptographic verification of a proof
// against an ordered public signal vector. It returns ErrInvalidProof when
// the proof does not verify.
type ProofVerifier interface {
	Verify(proof []byte, publicSignals []*big.Int) error
}

// withdrawAssignment mirrors the public inputs of the withdrawal circuit:
// [nullifierHash, outCommit1, outCommit2, merkleRoot]. Only the public
// witness shape is used here; the constraint system lives in the external
// circuit, so Define is never invoked.
type withdrawAssignment struct {
	NullifierHash frontend.Variable `gnark:",public"`
	OutCommit1    frontend.Variable `gnark:",public"`
	OutCommit2    frontend.Variable `gnark:",public"`
	MerkleRoot    frontend.Variable `gnark:",public"`
}

func (*withdrawAssignment) Define(frontend.API) error { return nil }

// complianceAssignment mirrors the public outputs of the compliance
// circuit: [merkleRoot, requestId, commitment, nullifierHash, amountHash,
// isValid].
type complianceAssignment struct {
	MerkleRoot    frontend.Variable `gnark:",public"`
	RequestID     frontend.Variable `gnark:",public"`
	Commitment    frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`
	AmountHash    frontend.Variable `gnark:",public"`
	IsValid       frontend.Variable `gnark:",public"`
}

func (*complianceAssignment) Define(frontend.API) error { return nil }

// Groth16Verifier verifies BN254 Groth16 proofs against a fixed verifying
// key.
type Groth16Verifier struct {
	vk groth16.VerifyingKey
}

// NewGroth16Verifier creates a verifier from a raw-encoded verifying key.
func NewGroth16Verifier(vkBytes []byte) (*Groth16Verifier, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return nil, fmt.Errorf("cannot read verifying key: %w", err)
	}
	return &Groth16Verifier{vk: vk}, nil
}

// LoadGroth16Verifier reads the verifying key from a file.
func LoadGroth16Verifier(path string) (*Groth16Verifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read verifying key file: %w", err)
	}
	return NewGroth16Verifier(data)
}

// Verify parses the proof and checks it against the public signals. The
// signal count selects the circuit schema.
func (v *Groth16Verifier) Verify(proofBytes []byte, publicSignals []*big.Int) error {
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	var assignment frontend.Circuit
	switch len(publicSignals) {
	case WithdrawNumSignals:
		assignment = &withdrawAssignment{
			NullifierHash: publicSignals[0],
			OutCommit1:    publicSignals[1],
			OutCommit2:    publicSignals[2],
			MerkleRoot:    publicSignals[3],
		}
	case ComplianceNumSignals:
		assignment = &complianceAssignment{
			MerkleRoot:    publicSignals[0],
			RequestID:     publicSignals[1],
			Commitment:    publicSignals[2],
			NullifierHash: publicSignals[3],
			AmountHash:    publicSignals[4],
			IsValid:       publicSignals[5],
		}
	default:
		return fmt.Errorf("unexpected public signal count %d", len(publicSignals))
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("cannot build public witness: %w", err)
	}
	if err := groth16.Verify(proof, v.vk, witness); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}

// StaticVerifier accepts or rejects every proof. Used by tests and by the
// gate's callers to exercise the bookkeeping paths without a trusted setup.
type StaticVerifier struct {
	Accept bool
	// Calls records the signal vectors received, for assertions on ordering.
	Calls [][]*big.Int
}

func (s *StaticVerifier) Verify(proof []byte, publicSignals []*big.Int) error {
	signals := make([]*big.Int, len(publicSignals))
	for i, sig := range publicSignals {
		signals[i] = new(big.Int).Set(sig)
	}
	s.Calls = append(s.Calls, signals)
	if !s.Accept {
		return ErrInvalidProof
	}
	return nil
}
