package types

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// BigInt is a big.Int wrapper which marshals JSON to a string representation
// of the big number. Note that a nil pointer value marshals as the empty
// string.
type BigInt big.Int

// SetBytes interprets buf as big-endian unsigned integer.
func (i *BigInt) SetBytes(buf []byte) *BigInt {
	return (*BigInt)(i.MathBigInt().SetBytes(buf))
}

// Bytes returns the big-endian encoding of i.
func (i *BigInt) Bytes() []byte {
	return i.MathBigInt().Bytes()
}

// String returns the decimal representation of i.
func (i *BigInt) String() string {
	return i.MathBigInt().String()
}

// MathBigInt converts b to a math/big *Int.
func (i *BigInt) MathBigInt() *big.Int {
	return (*big.Int)(i)
}

// Equal helps us with go-cmp.
func (i *BigInt) Equal(j *BigInt) bool {
	if i == nil || j == nil {
		return i == j
	}
	return i.MathBigInt().Cmp(j.MathBigInt()) == 0
}

func (i *BigInt) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte(`""`), nil
	}
	return []byte(`"` + i.String() + `"`), nil
}

func (i *BigInt) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid JSON string: %q", data)
	}
	return i.UnmarshalText(data[1 : len(data)-1])
}

// MarshalText returns the decimal string representation.
func (i *BigInt) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText parses a decimal string representation.
func (i *BigInt) UnmarshalText(data []byte) error {
	if _, ok := i.MathBigInt().SetString(string(data), 10); !ok {
		return fmt.Errorf("cannot parse big integer %q", data)
	}
	return nil
}

// MarshalCBOR encodes the number as its big-endian byte representation.
func (i *BigInt) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(i.Bytes())
}

// UnmarshalCBOR decodes a big-endian byte representation of the number.
func (i *BigInt) UnmarshalCBOR(data []byte) error {
	var buf []byte
	if err := cbor.Unmarshal(data, &buf); err != nil {
		return err
	}
	i.SetBytes(buf)
	return nil
}
