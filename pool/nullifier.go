package pool

import (
	"fmt"
	"math/big"
)

// ErrAlreadySpent is returned when marking a nullifier that is already in
// the ledger. Spends are permanent; this is what prevents double spending.
var ErrAlreadySpent = fmt.Errorf("nullifier already spent")

// NullifierLedger is the set of spent nullifiers. There is no removal
// operation.
type NullifierLedger struct {
	spent map[string]struct{}
}

// NewNullifierLedger creates an empty ledger.
func NewNullifierLedger() *NullifierLedger {
	return &NullifierLedger{spent: make(map[string]struct{})}
}

// IsSpent reports whether the nullifier has been marked spent. O(1).
func (l *NullifierLedger) IsSpent(nullifier *big.Int) bool {
	if nullifier == nil {
		return false
	}
	_, ok := l.spent[string(nullifier.Bytes())]
	return ok
}

// MarkSpent records the nullifier as spent.
func (l *NullifierLedger) MarkSpent(nullifier *big.Int) error {
	k := string(nullifier.Bytes())
	if _, ok := l.spent[k]; ok {
		return ErrAlreadySpent
	}
	l.spent[k] = struct{}{}
	return nil
}

// Len returns the number of spent nullifiers.
func (l *NullifierLedger) Len() int {
	return len(l.spent)
}
