package pool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/zkpool/zkpool/crypto/hash/poseidon"
	"github.com/zkpool/zkpool/storage"
	"github.com/zkpool/zkpool/tree"
	"github.com/zkpool/zkpool/types"
	"github.com/zkpool/zkpool/verifier"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"
)

var (
	testGovernance = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testFeeSink    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	testAlice      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	testBob        = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	testRelayer    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

type testPool struct {
	*Pool
	stg         *storage.Storage
	settler     *LedgerSettler
	withdrawV   *verifier.StaticVerifier
	complianceV *verifier.StaticVerifier
}

func newTestPool(t *testing.T, feeRate uint64) *testPool {
	tp := &testPool{
		settler:     NewLedgerSettler(),
		withdrawV:   &verifier.StaticVerifier{Accept: true},
		complianceV: &verifier.StaticVerifier{Accept: true},
		stg:         storage.New(metadb.NewTest(t)),
	}
	gate := verifier.NewGate(tp.withdrawV, tp.complianceV)
	p, err := Open(tp.stg, gate, tp.settler, Config{
		TreeDepth:  8,
		FeeRate:    feeRate,
		Governance: testGovernance,
		FeeAddress: testFeeSink,
	})
	qt.Assert(t, err, qt.IsNil)
	tp.Pool = p
	return tp
}

func TestDeposit(t *testing.T) {
	c := qt.New(t)
	tp := newTestPool(t, 0)
	tp.settler.Fund(testAlice, big.NewInt(1000))

	index, err := tp.Deposit(big.NewInt(101), big.NewInt(500), testAlice)
	c.Assert(err, qt.IsNil)
	c.Assert(index, qt.Equals, uint64(0))
	c.Assert(tp.settler.PoolBalance().Int64(), qt.Equals, int64(500))
	c.Assert(tp.settler.BalanceOf(testAlice).Int64(), qt.Equals, int64(500))

	rec, err := tp.CommitmentOf(big.NewInt(101))
	c.Assert(err, qt.IsNil)
	c.Assert(rec.Amount.Int64(), qt.Equals, int64(500))
	c.Assert(rec.Owner, qt.Equals, testAlice)
	c.Assert(rec.LeafIndex, qt.Equals, uint64(0))

	// duplicates never enter the tree, even from another depositor
	tp.settler.Fund(testBob, big.NewInt(100))
	_, err = tp.Deposit(big.NewInt(101), big.NewInt(100), testBob)
	c.Assert(err, qt.ErrorIs, ErrDuplicateCommitment)

	_, err = tp.Deposit(big.NewInt(0), big.NewInt(100), testBob)
	c.Assert(err, qt.ErrorIs, ErrZeroCommitment)
	_, err = tp.Deposit(poseidon.Q(), big.NewInt(100), testBob)
	c.Assert(err, qt.ErrorIs, poseidon.ErrOutOfFieldRange)
	_, err = tp.Deposit(big.NewInt(102), big.NewInt(0), testBob)
	c.Assert(err, qt.ErrorIs, ErrInvalidAmount)
	_, err = tp.Deposit(big.NewInt(102), nil, testBob)
	c.Assert(err, qt.ErrorIs, ErrInvalidAmount)

	// an unfunded depositor leaves no trace
	_, err = tp.Deposit(big.NewInt(103), big.NewInt(100), common.Address{})
	c.Assert(err, qt.ErrorIs, ErrSettlementFailed)
	stats := tp.Stats()
	c.Assert(stats.Leaves, qt.Equals, uint64(1))
	c.Assert(stats.TotalDeposited.MathBigInt().Int64(), qt.Equals, int64(500))
	c.Assert(stats.Balance.MathBigInt().Int64(), qt.Equals, int64(500))
}

func TestDepositTreeFull(t *testing.T) {
	c := qt.New(t)
	tp := newTestPool(t, 0)
	// depth 8 is too large to fill in a test; exercise the guard directly
	smallTree, err := tree.New(2)
	c.Assert(err, qt.IsNil)
	tp.tree = smallTree
	tp.settler.Fund(testAlice, big.NewInt(100))
	for i := int64(1); i <= 4; i++ {
		_, err := tp.Deposit(big.NewInt(i), big.NewInt(1), testAlice)
		c.Assert(err, qt.IsNil)
	}
	_, err = tp.Deposit(big.NewInt(5), big.NewInt(1), testAlice)
	c.Assert(err, qt.ErrorIs, tree.ErrTreeFull)
}

func TestWithdraw(t *testing.T) {
	c := qt.New(t)
	tp := newTestPool(t, 100) // 1% protocol fee
	tp.settler.Fund(testAlice, big.NewInt(1000))
	_, err := tp.Deposit(big.NewInt(101), big.NewInt(1000), testAlice)
	c.Assert(err, qt.IsNil)

	req := WithdrawRequest{
		Proof:         []byte("proof"),
		Root:          tp.Root(),
		NullifierHash: big.NewInt(555),
		Amount:        big.NewInt(1000),
		Blinding:      big.NewInt(777),
		Recipient:     testBob,
	}
	res, err := tp.Withdraw(req)
	c.Assert(err, qt.IsNil)
	c.Assert(res.ProtocolFee.Int64(), qt.Equals, int64(10))
	c.Assert(res.RelayFee.Int64(), qt.Equals, int64(0))
	c.Assert(res.ToRecipient.Int64(), qt.Equals, int64(990))
	c.Assert(res.ChangeIndex, qt.IsNil)
	c.Assert(tp.settler.BalanceOf(testBob).Int64(), qt.Equals, int64(990))
	c.Assert(tp.settler.BalanceOf(testFeeSink).Int64(), qt.Equals, int64(10))
	c.Assert(tp.settler.PoolBalance().Int64(), qt.Equals, int64(0))
	c.Assert(tp.IsSpent(big.NewInt(555)), qt.IsTrue)

	// a nullifier spends exactly once
	_, err = tp.Withdraw(req)
	c.Assert(err, qt.ErrorIs, ErrAlreadySpent)

	stats := tp.Stats()
	c.Assert(stats.TotalWithdrawn.MathBigInt().Int64(), qt.Equals, int64(1000))
	c.Assert(stats.TotalFees.MathBigInt().Int64(), qt.Equals, int64(10))
	c.Assert(stats.Balance.MathBigInt().Int64(), qt.Equals, int64(0))
}

func TestWithdrawRejections(t *testing.T) {
	c := qt.New(t)
	tp := newTestPool(t, 0)
	tp.settler.Fund(testAlice, big.NewInt(1000))
	_, err := tp.Deposit(big.NewInt(101), big.NewInt(1000), testAlice)
	c.Assert(err, qt.IsNil)

	valid := WithdrawRequest{
		Root:          tp.Root(),
		NullifierHash: big.NewInt(555),
		Amount:        big.NewInt(100),
		Blinding:      big.NewInt(777),
		Recipient:     testBob,
	}

	req := valid
	req.Root = big.NewInt(12345)
	_, err = tp.Withdraw(req)
	c.Assert(err, qt.ErrorIs, verifier.ErrStaleOrUnknownRoot)

	req = valid
	req.Amount = big.NewInt(0)
	_, err = tp.Withdraw(req)
	c.Assert(err, qt.ErrorIs, ErrInvalidAmount)

	req = valid
	req.Fee = big.NewInt(101) // above the amount
	_, err = tp.Withdraw(req)
	c.Assert(err, qt.ErrorIs, ErrFeeExceedsAmount)

	// a failed pairing check leaves the nullifier unspent
	tp.withdrawV.Accept = false
	_, err = tp.Withdraw(valid)
	c.Assert(err, qt.ErrorIs, verifier.ErrInvalidProof)
	c.Assert(tp.IsSpent(valid.NullifierHash), qt.IsFalse)

	tp.withdrawV.Accept = true
	_, err = tp.Withdraw(valid)
	c.Assert(err, qt.IsNil)
	c.Assert(tp.IsSpent(valid.NullifierHash), qt.IsTrue)
}

func TestWithdrawValueConservation(t *testing.T) {
	c := qt.New(t)
	tp := newTestPool(t, 250) // 2.5%
	tp.settler.Fund(testAlice, big.NewInt(10_000))
	_, err := tp.Deposit(big.NewInt(101), big.NewInt(10_000), testAlice)
	c.Assert(err, qt.IsNil)

	res, err := tp.Withdraw(WithdrawRequest{
		Root:          tp.Root(),
		NullifierHash: big.NewInt(1),
		Amount:        big.NewInt(3_333),
		Blinding:      big.NewInt(2),
		Recipient:     testBob,
		Relayer:       testRelayer,
		Fee:           big.NewInt(50),
	})
	c.Assert(err, qt.IsNil)
	// protocolFee truncates: 3333 * 250 / 10000 = 83
	c.Assert(res.ProtocolFee.Int64(), qt.Equals, int64(83))
	total := new(big.Int).Add(res.ToRecipient, res.ProtocolFee)
	total.Add(total, res.RelayFee)
	c.Assert(total.Int64(), qt.Equals, int64(3_333))
	c.Assert(tp.settler.BalanceOf(testRelayer).Int64(), qt.Equals, int64(50))
	c.Assert(tp.settler.BalanceOf(testBob).Int64(), qt.Equals, int64(3_200))
}

func TestWithdrawWithChange(t *testing.T) {
	c := qt.New(t)
	tp := newTestPool(t, 0)
	tp.settler.Fund(testAlice, big.NewInt(1000))
	_, err := tp.Deposit(big.NewInt(101), big.NewInt(1000), testAlice)
	c.Assert(err, qt.IsNil)

	res, err := tp.WithdrawWithChange(WithdrawRequest{
		Root:          tp.Root(),
		NullifierHash: big.NewInt(555),
		Amount:        big.NewInt(600),
		Blinding:      big.NewInt(777),
		OutCommit2:    big.NewInt(202),
		Recipient:     testBob,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(res.ChangeIndex, qt.IsNotNil)
	c.Assert(*res.ChangeIndex, qt.Equals, uint64(1))

	// the change note is a first-class leaf with a hidden amount
	leaf, err := tp.CommitmentAt(1)
	c.Assert(err, qt.IsNil)
	c.Assert(leaf.Int64(), qt.Equals, int64(202))
	rec, err := tp.CommitmentOf(big.NewInt(202))
	c.Assert(err, qt.IsNil)
	c.Assert(rec.Amount.Int64(), qt.Equals, int64(0))
	c.Assert(rec.Owner, qt.Equals, testBob)

	// a duplicate change commitment aborts before the nullifier is spent
	_, err = tp.WithdrawWithChange(WithdrawRequest{
		Root:          tp.Root(),
		NullifierHash: big.NewInt(556),
		Amount:        big.NewInt(100),
		Blinding:      big.NewInt(778),
		OutCommit2:    big.NewInt(202),
		Recipient:     testBob,
	})
	c.Assert(err, qt.ErrorIs, ErrDuplicateCommitment)
	c.Assert(tp.IsSpent(big.NewInt(556)), qt.IsFalse)

	// the zero sentinel means no change registration
	res, err = tp.WithdrawWithChange(WithdrawRequest{
		Root:          tp.Root(),
		NullifierHash: big.NewInt(557),
		Amount:        big.NewInt(100),
		Blinding:      big.NewInt(779),
		OutCommit2:    big.NewInt(0),
		Recipient:     testBob,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(res.ChangeIndex, qt.IsNil)
	c.Assert(tp.Stats().Leaves, qt.Equals, uint64(2))
}

func TestWithdrawSettlementFailureUnwinds(t *testing.T) {
	c := qt.New(t)
	tp := newTestPool(t, 0)
	tp.settler.Fund(testAlice, big.NewInt(500))
	_, err := tp.Deposit(big.NewInt(101), big.NewInt(500), testAlice)
	c.Assert(err, qt.IsNil)

	// the proof passes but the backend cannot cover the amount
	req := WithdrawRequest{
		Root:          tp.Root(),
		NullifierHash: big.NewInt(555),
		Amount:        big.NewInt(600),
		Blinding:      big.NewInt(777),
		Recipient:     testBob,
	}
	_, err = tp.Withdraw(req)
	c.Assert(err, qt.ErrorIs, ErrSettlementFailed)
	c.Assert(tp.IsSpent(big.NewInt(555)), qt.IsFalse)
	stats := tp.Stats()
	c.Assert(stats.TotalWithdrawn.MathBigInt().Int64(), qt.Equals, int64(0))
	c.Assert(stats.Balance.MathBigInt().Int64(), qt.Equals, int64(500))

	// the same nullifier is still spendable once settlement can complete
	req.Amount = big.NewInt(500)
	_, err = tp.Withdraw(req)
	c.Assert(err, qt.IsNil)
	c.Assert(tp.IsSpent(big.NewInt(555)), qt.IsTrue)
}

func TestRelayWithdraw(t *testing.T) {
	c := qt.New(t)
	tp := newTestPool(t, 0)
	tp.settler.Fund(testAlice, big.NewInt(10_000))
	_, err := tp.Deposit(big.NewInt(101), big.NewInt(10_000), testAlice)
	c.Assert(err, qt.IsNil)

	req := WithdrawRequest{
		Root:          tp.Root(),
		NullifierHash: big.NewInt(555),
		Amount:        big.NewInt(10_000),
		Blinding:      big.NewInt(777),
		Recipient:     testBob,
		Fee:           big.NewInt(100),
	}
	_, err = tp.RelayWithdraw(testRelayer, req)
	c.Assert(err, qt.ErrorIs, ErrUnauthorized)

	err = tp.UpdateOperator(testGovernance, testRelayer, true)
	c.Assert(err, qt.IsNil)

	// the relay fee cap is amount * relayerFeeBps / 10000
	capped := req
	capped.Fee = big.NewInt(501) // default cap is 5%
	_, err = tp.RelayWithdraw(testRelayer, capped)
	c.Assert(err, qt.ErrorIs, ErrFeeExceedsAmount)

	res, err := tp.RelayWithdraw(testRelayer, req)
	c.Assert(err, qt.IsNil)
	c.Assert(res.RelayFee.Int64(), qt.Equals, int64(100))
	c.Assert(tp.settler.BalanceOf(testRelayer).Int64(), qt.Equals, int64(100))
	c.Assert(tp.settler.BalanceOf(testBob).Int64(), qt.Equals, int64(9_900))
}

func TestGovernance(t *testing.T) {
	c := qt.New(t)
	tp := newTestPool(t, 0)
	tp.settler.Fund(testAlice, big.NewInt(1000))

	// every governed operation rejects non-governance callers
	c.Assert(tp.ToggleDeposits(testAlice, false), qt.ErrorIs, ErrUnauthorized)
	c.Assert(tp.ToggleWithdrawals(testAlice, false), qt.ErrorIs, ErrUnauthorized)
	c.Assert(tp.SetEmergencyMode(testAlice, true), qt.ErrorIs, ErrUnauthorized)
	c.Assert(tp.SetFeeRate(testAlice, 100), qt.ErrorIs, ErrUnauthorized)
	c.Assert(tp.SetFeeAddress(testAlice, testAlice), qt.ErrorIs, ErrUnauthorized)
	c.Assert(tp.UpdateOperator(testAlice, testAlice, true), qt.ErrorIs, ErrUnauthorized)
	c.Assert(tp.TransferGovernance(testAlice, testAlice), qt.ErrorIs, ErrUnauthorized)

	err := tp.ToggleDeposits(testGovernance, false)
	c.Assert(err, qt.IsNil)
	_, err = tp.Deposit(big.NewInt(101), big.NewInt(100), testAlice)
	c.Assert(err, qt.ErrorIs, ErrOperationDisabled)
	c.Assert(tp.ToggleDeposits(testGovernance, true), qt.IsNil)

	_, err = tp.Deposit(big.NewInt(101), big.NewInt(100), testAlice)
	c.Assert(err, qt.IsNil)

	// emergency mode overrides both flags
	c.Assert(tp.SetEmergencyMode(testGovernance, true), qt.IsNil)
	_, err = tp.Deposit(big.NewInt(102), big.NewInt(100), testAlice)
	c.Assert(err, qt.ErrorIs, ErrOperationDisabled)
	_, err = tp.Withdraw(WithdrawRequest{
		Root:          tp.Root(),
		NullifierHash: big.NewInt(555),
		Amount:        big.NewInt(100),
		Blinding:      big.NewInt(777),
		Recipient:     testBob,
	})
	c.Assert(err, qt.ErrorIs, ErrOperationDisabled)
	c.Assert(tp.SetEmergencyMode(testGovernance, false), qt.IsNil)

	c.Assert(tp.SetFeeRate(testGovernance, types.FeeBase+1), qt.IsNotNil)
	c.Assert(tp.SetFeeRate(testGovernance, 100), qt.IsNil)

	// governance hand-over is total
	c.Assert(tp.TransferGovernance(testGovernance, testBob), qt.IsNil)
	c.Assert(tp.ToggleDeposits(testGovernance, false), qt.ErrorIs, ErrUnauthorized)
	c.Assert(tp.ToggleDeposits(testBob, false), qt.IsNil)
}

func TestEmergencyWithdraw(t *testing.T) {
	c := qt.New(t)
	tp := newTestPool(t, 0)
	tp.settler.Fund(testAlice, big.NewInt(1000))
	_, err := tp.Deposit(big.NewInt(101), big.NewInt(1000), testAlice)
	c.Assert(err, qt.IsNil)

	_, err = tp.EmergencyWithdraw(testAlice)
	c.Assert(err, qt.ErrorIs, ErrUnauthorized)
	_, err = tp.EmergencyWithdraw(testGovernance)
	c.Assert(err, qt.ErrorIs, ErrNotInEmergency)

	c.Assert(tp.SetEmergencyMode(testGovernance, true), qt.IsNil)
	swept, err := tp.EmergencyWithdraw(testGovernance)
	c.Assert(err, qt.IsNil)
	c.Assert(swept.Int64(), qt.Equals, int64(1000))
	c.Assert(tp.settler.BalanceOf(testGovernance).Int64(), qt.Equals, int64(1000))
	c.Assert(tp.Stats().Balance.MathBigInt().Int64(), qt.Equals, int64(0))

	// a second sweep finds nothing
	swept, err = tp.EmergencyWithdraw(testGovernance)
	c.Assert(err, qt.IsNil)
	c.Assert(swept.Int64(), qt.Equals, int64(0))
}

func TestCompliance(t *testing.T) {
	c := qt.New(t)
	tp := newTestPool(t, 0)
	tp.settler.Fund(testAlice, big.NewInt(1000))
	_, err := tp.Deposit(big.NewInt(101), big.NewInt(1000), testAlice)
	c.Assert(err, qt.IsNil)

	in := verifier.ComplianceInputs{
		Root:          tp.Root(),
		RequestID:     big.NewInt(9001),
		Commitment:    big.NewInt(101),
		NullifierHash: big.NewInt(555),
		AmountHash:    big.NewInt(666),
		IsValid:       big.NewInt(1),
	}

	// the target commitment must exist
	unknown := in
	unknown.Commitment = big.NewInt(404)
	_, err = tp.SubmitComplianceProof(nil, unknown)
	c.Assert(err, qt.ErrorIs, ErrUnknownCommitment)

	stored, err := tp.SubmitComplianceProof([]byte("proof"), in)
	c.Assert(err, qt.IsNil)
	c.Assert(stored, qt.IsTrue)
	rec := tp.ComplianceRecordOf(big.NewInt(9001))
	c.Assert(rec, qt.IsNotNil)
	c.Assert(rec.Verified, qt.IsTrue)
	c.Assert(rec.Commitment.Int64(), qt.Equals, int64(101))

	// a request id is write-once
	_, err = tp.SubmitComplianceProof([]byte("proof"), in)
	c.Assert(err, qt.ErrorIs, ErrDuplicateRequest)

	// a failing proof is reported, not persisted
	tp.complianceV.Accept = false
	failed := in
	failed.RequestID = big.NewInt(9002)
	stored, err = tp.SubmitComplianceProof([]byte("proof"), failed)
	c.Assert(err, qt.IsNil)
	c.Assert(stored, qt.IsFalse)
	c.Assert(tp.ComplianceRecordOf(big.NewInt(9002)), qt.IsNil)
	tp.complianceV.Accept = true

	// the same request id remains usable after a failed attempt
	stored, err = tp.SubmitComplianceProof([]byte("proof"), failed)
	c.Assert(err, qt.IsNil)
	c.Assert(stored, qt.IsTrue)

	history := tp.ComplianceHistoryOf(big.NewInt(101))
	c.Assert(history, qt.HasLen, 2)

	// stale roots are an error, not a failed verification
	stale := in
	stale.RequestID = big.NewInt(9003)
	stale.Root = big.NewInt(424242)
	_, err = tp.SubmitComplianceProof(nil, stale)
	c.Assert(err, qt.ErrorIs, verifier.ErrStaleOrUnknownRoot)

	err = tp.VerifyCompliance([]byte("proof"), in)
	c.Assert(err, qt.IsNil)
}

func TestReload(t *testing.T) {
	c := qt.New(t)
	tp := newTestPool(t, 100)
	tp.settler.Fund(testAlice, big.NewInt(10_000))

	_, err := tp.Deposit(big.NewInt(101), big.NewInt(4_000), testAlice)
	c.Assert(err, qt.IsNil)
	_, err = tp.Deposit(big.NewInt(102), big.NewInt(6_000), testAlice)
	c.Assert(err, qt.IsNil)

	res, err := tp.WithdrawWithChange(WithdrawRequest{
		Root:          tp.Root(),
		NullifierHash: big.NewInt(555),
		Amount:        big.NewInt(4_000),
		Blinding:      big.NewInt(777),
		OutCommit2:    big.NewInt(303),
		Recipient:     testBob,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(*res.ChangeIndex, qt.Equals, uint64(2))

	stored, err := tp.SubmitComplianceProof([]byte("proof"), verifier.ComplianceInputs{
		Root:          tp.Root(),
		RequestID:     big.NewInt(9001),
		Commitment:    big.NewInt(102),
		NullifierHash: big.NewInt(556),
		AmountHash:    big.NewInt(666),
		IsValid:       big.NewInt(1),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(stored, qt.IsTrue)
	c.Assert(tp.UpdateOperator(testGovernance, testRelayer, true), qt.IsNil)
	c.Assert(tp.SetFeeRate(testGovernance, 200), qt.IsNil)

	before := tp.Stats()
	root := tp.Root()
	knownRoots := tp.KnownRoots()

	// reopen from the same storage with fresh in-memory components
	gate := verifier.NewGate(tp.withdrawV, tp.complianceV)
	reloaded, err := Open(tp.stg, gate, tp.settler, Config{})
	c.Assert(err, qt.IsNil)

	c.Assert(reloaded.Root().Cmp(root), qt.Equals, 0)
	c.Assert(reloaded.KnownRoots(), qt.HasLen, len(knownRoots))
	c.Assert(reloaded.IsSpent(big.NewInt(555)), qt.IsTrue)
	c.Assert(reloaded.IsSpent(big.NewInt(556)), qt.IsFalse)

	after := reloaded.Stats()
	c.Assert(after.Leaves, qt.Equals, before.Leaves)
	c.Assert(after.TotalDeposited.MathBigInt().Cmp(before.TotalDeposited.MathBigInt()), qt.Equals, 0)
	c.Assert(after.TotalWithdrawn.MathBigInt().Cmp(before.TotalWithdrawn.MathBigInt()), qt.Equals, 0)
	c.Assert(after.TotalFees.MathBigInt().Cmp(before.TotalFees.MathBigInt()), qt.Equals, 0)
	c.Assert(after.Balance.MathBigInt().Cmp(before.Balance.MathBigInt()), qt.Equals, 0)
	c.Assert(after.FeeRate, qt.Equals, uint64(200))
	c.Assert(after.Governance, qt.Equals, testGovernance)

	rec, err := reloaded.CommitmentOf(big.NewInt(303))
	c.Assert(err, qt.IsNil)
	c.Assert(rec.LeafIndex, qt.Equals, uint64(2))
	c.Assert(rec.Owner, qt.Equals, testBob)

	crec := reloaded.ComplianceRecordOf(big.NewInt(9001))
	c.Assert(crec, qt.IsNotNil)
	c.Assert(crec.Verified, qt.IsTrue)

	// the reloaded pool keeps operating where the old one stopped
	_, err = reloaded.RelayWithdraw(testRelayer, WithdrawRequest{
		Root:          reloaded.Root(),
		NullifierHash: big.NewInt(557),
		Amount:        big.NewInt(2_000),
		Blinding:      big.NewInt(778),
		Recipient:     testBob,
		Fee:           big.NewInt(10),
	})
	c.Assert(err, qt.IsNil)

	tp.settler.Fund(testBob, big.NewInt(100))
	index, err := reloaded.Deposit(big.NewInt(104), big.NewInt(100), testBob)
	c.Assert(err, qt.IsNil)
	c.Assert(index, qt.Equals, uint64(3))
}

// failingWriteTx delegates to a real transaction but refuses to commit.
type failingWriteTx struct {
	db.WriteTx
}

func (failingWriteTx) Commit() error { return errors.New("disk full") }

func TestCommitFailurePoisonsPool(t *testing.T) {
	c := qt.New(t)
	tp := newTestPool(t, 0)
	tp.settler.Fund(testAlice, big.NewInt(1000))
	_, err := tp.Deposit(big.NewInt(101), big.NewInt(500), testAlice)
	c.Assert(err, qt.IsNil)

	wtx := failingWriteTx{tp.stg.WriteTx()}
	defer wtx.Discard()
	err = tp.commit(wtx)
	c.Assert(err, qt.ErrorIs, ErrStateDiverged)

	// every write path refuses until the pool is reopened
	_, err = tp.Deposit(big.NewInt(102), big.NewInt(100), testAlice)
	c.Assert(err, qt.ErrorIs, ErrStateDiverged)
	_, err = tp.Withdraw(WithdrawRequest{})
	c.Assert(err, qt.ErrorIs, ErrStateDiverged)
	err = tp.ToggleDeposits(testGovernance, false)
	c.Assert(err, qt.ErrorIs, ErrStateDiverged)
	_, err = tp.SubmitComplianceProof([]byte("proof"), verifier.ComplianceInputs{})
	c.Assert(err, qt.ErrorIs, ErrStateDiverged)
	_, err = tp.EmergencyWithdraw(testGovernance)
	c.Assert(err, qt.ErrorIs, ErrStateDiverged)

	// reads keep answering from memory
	c.Assert(tp.Root(), qt.IsNotNil)

	// reopening restores the last persisted state and accepts writes again
	gate := verifier.NewGate(tp.withdrawV, tp.complianceV)
	reloaded, err := Open(tp.stg, gate, tp.settler, Config{})
	c.Assert(err, qt.IsNil)
	index, err := reloaded.Deposit(big.NewInt(102), big.NewInt(100), testAlice)
	c.Assert(err, qt.IsNil)
	c.Assert(index, qt.Equals, uint64(1))
}
