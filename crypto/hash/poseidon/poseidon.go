// Package poseidon wraps the iden3 Poseidon implementation as the field
// hasher used for commitments, nullifier hashes and merkle tree nodes. All
// inputs and outputs are elements of the BN254 scalar field.
package poseidon

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/constants"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

// ErrOutOfFieldRange is returned when a hash input is negative or not below
// the BN254 scalar field modulus.
var ErrOutOfFieldRange = fmt.Errorf("input out of field range")

// Q returns the BN254 scalar field modulus.
func Q() *big.Int {
	return new(big.Int).Set(constants.Q)
}

// InField reports whether x is a canonical field element, i.e. 0 <= x < Q.
func InField(x *big.Int) bool {
	return x != nil && x.Sign() >= 0 && x.Cmp(constants.Q) < 0
}

// Hash2 is the two-input Poseidon compression function. It is pure and
// deterministic; inputs outside the field fail with ErrOutOfFieldRange.
func Hash2(a, b *big.Int) (*big.Int, error) {
	if !InField(a) {
		return nil, fmt.Errorf("%w: left input", ErrOutOfFieldRange)
	}
	if !InField(b) {
		return nil, fmt.Errorf("%w: right input", ErrOutOfFieldRange)
	}
	return poseidon.Hash([]*big.Int{a, b})
}

// MultiPoseidon hashes an arbitrary number of inputs by chunking them in
// groups of 16, hashing each chunk and then hashing the chunk hashes.
func MultiPoseidon(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) > 256 {
		return nil, fmt.Errorf("too many inputs")
	} else if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs provided")
	}
	for _, input := range inputs {
		if !InField(input) {
			return nil, ErrOutOfFieldRange
		}
	}
	// calculate chunk hashes
	hashes := []*big.Int{}
	chunk := []*big.Int{}
	for _, input := range inputs {
		if len(chunk) == 16 {
			hash, err := poseidon.Hash(chunk)
			if err != nil {
				return nil, err
			}
			hashes = append(hashes, hash)
			chunk = []*big.Int{}
		}
		chunk = append(chunk, input)
	}
	// if the final chunk is not empty, hash it to get the last chunk hash
	if len(chunk) > 0 {
		hash, err := poseidon.Hash(chunk)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	// if there is only one chunk hash, return it
	if len(hashes) == 1 {
		return hashes[0], nil
	}
	// return the hash of all chunk hashes
	return poseidon.Hash(hashes)
}
