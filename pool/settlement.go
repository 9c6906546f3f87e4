package pool

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrSettlementFailed is returned when a fund transfer leg cannot be
// completed. The whole operation carrying the settlement is unwound.
var ErrSettlementFailed = fmt.Errorf("settlement failed")

// SettlementLeg is a single fund transfer out of the pool.
type SettlementLeg struct {
	To     common.Address
	Amount *big.Int
}

// Settler is the injected settlement capability. The orchestrator calls it
// synchronously; Settle must apply all legs or none, and Credit must fully
// collect the deposited amount or fail. Implementations decide what money
// actually is (a token contract, a bank adapter, an in-memory ledger).
type Settler interface {
	// Credit collects a deposit from the depositor into the pool.
	Credit(from common.Address, amount *big.Int) error
	// Settle transfers the legs out of the pool, atomically.
	Settle(legs []SettlementLeg) error
}

// LedgerSettler is an in-memory monetary backend: a pool balance plus a
// balance per address. It keeps the orchestrator testable without a real
// transfer backend.
type LedgerSettler struct {
	mu       sync.Mutex
	pool     *big.Int
	balances map[common.Address]*big.Int
}

// NewLedgerSettler creates a settler with an empty pool.
func NewLedgerSettler() *LedgerSettler {
	return &LedgerSettler{
		pool:     big.NewInt(0),
		balances: make(map[common.Address]*big.Int),
	}
}

// Fund gives an address spendable balance. Test and bootstrap helper.
func (s *LedgerSettler) Fund(addr common.Address, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credit(addr, amount)
}

func (s *LedgerSettler) credit(addr common.Address, amount *big.Int) {
	b, ok := s.balances[addr]
	if !ok {
		b = big.NewInt(0)
		s.balances[addr] = b
	}
	b.Add(b, amount)
}

// Credit moves amount from the depositor's balance into the pool.
func (s *LedgerSettler) Credit(from common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[from]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("%w: depositor %s has insufficient funds", ErrSettlementFailed, from)
	}
	b.Sub(b, amount)
	s.pool.Add(s.pool, amount)
	return nil
}

// Settle pays every leg out of the pool balance, or none of them.
func (s *LedgerSettler) Settle(legs []SettlementLeg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := big.NewInt(0)
	for _, leg := range legs {
		if leg.Amount.Sign() < 0 {
			return fmt.Errorf("%w: negative leg amount", ErrSettlementFailed)
		}
		total.Add(total, leg.Amount)
	}
	if s.pool.Cmp(total) < 0 {
		return fmt.Errorf("%w: pool balance %s below settlement total %s",
			ErrSettlementFailed, s.pool, total)
	}
	s.pool.Sub(s.pool, total)
	for _, leg := range legs {
		s.credit(leg.To, leg.Amount)
	}
	return nil
}

// PoolBalance returns the funds currently held by the pool.
func (s *LedgerSettler) PoolBalance() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.pool)
}

// BalanceOf returns the spendable balance of an address.
func (s *LedgerSettler) BalanceOf(addr common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}
