// Package pool implements the privacy pool's bookkeeping state machine: the
// commitment registry, the nullifier ledger, the compliance ledger and the
// orchestrator that composes them with the incremental merkle tree and the
// proof gate. All mutating operations are serialized behind a single lock
// and persisted atomically, so no caller can ever observe a partially
// applied operation.
package pool

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zkpool/zkpool/log"
	"github.com/zkpool/zkpool/storage"
	"github.com/zkpool/zkpool/tree"
	"github.com/zkpool/zkpool/types"
	"github.com/zkpool/zkpool/verifier"
	"go.vocdoni.io/dvote/db"
)

var (
	// ErrOperationDisabled is returned when deposits or withdrawals are
	// toggled off, or when the pool is in emergency mode.
	ErrOperationDisabled = fmt.Errorf("operation disabled")
	// ErrUnauthorized is returned when the caller lacks the governance or
	// operator role an operation requires.
	ErrUnauthorized = fmt.Errorf("unauthorized")
	// ErrFeeExceedsAmount is returned when the requested fee does not fit
	// in the withdrawn amount, or a relay fee exceeds its cap.
	ErrFeeExceedsAmount = fmt.Errorf("fee exceeds amount")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = fmt.Errorf("invalid amount")
	// ErrNotInEmergency is returned by EmergencyWithdraw outside emergency
	// mode.
	ErrNotInEmergency = fmt.Errorf("pool is not in emergency mode")
	// ErrStateDiverged is returned once a storage commit has failed, leaving
	// the in-memory state ahead of the persisted one. The pool refuses any
	// further write; reopening it restores the last persisted state.
	ErrStateDiverged = fmt.Errorf("in-memory state diverged from storage")
)

// Config carries the initialization parameters of a pool. They only apply
// the first time the pool is created; afterwards the persisted state wins.
type Config struct {
	TreeDepth     int
	FeeRate       uint64 // protocol fee numerator over types.FeeBase
	RelayerFeeBps uint64 // relay fee cap in basis points
	Governance    common.Address
	FeeAddress    common.Address
}

// Pool is the top-level state machine. It exclusively owns all
// sub-component state; nothing is shared outside an operation boundary.
type Pool struct {
	mu sync.Mutex

	stg        *storage.Storage
	tree       *tree.Tree
	registry   *CommitmentRegistry
	nullifiers *NullifierLedger
	compliance *ComplianceLedger
	gate       *verifier.Gate
	settler    Settler

	governance common.Address
	feeAddress common.Address
	operators  map[common.Address]bool

	depositsEnabled    bool
	withdrawalsEnabled bool
	emergencyMode      bool
	diverged           bool
	feeRate            uint64
	relayerFeeBps      uint64

	totalDeposited *big.Int
	totalWithdrawn *big.Int
	totalFees      *big.Int
	balance        *big.Int
}

// Open creates a pool or reloads a persisted one. The settler and the proof
// gate are injected capabilities; the pool never performs fund transfers or
// pairing checks itself.
func Open(stg *storage.Storage, gate *verifier.Gate, settler Settler, cfg Config) (*Pool, error) {
	if cfg.TreeDepth == 0 {
		cfg.TreeDepth = types.DefaultTreeDepth
	}
	if cfg.FeeRate > types.FeeBase {
		return nil, fmt.Errorf("fee rate %d above base %d", cfg.FeeRate, types.FeeBase)
	}
	p := &Pool{
		stg:        stg,
		gate:       gate,
		settler:    settler,
		registry:   NewCommitmentRegistry(),
		nullifiers: NewNullifierLedger(),
		compliance: NewComplianceLedger(),
		operators:  make(map[common.Address]bool),
	}
	meta, err := stg.PoolMeta()
	if err != nil {
		return nil, fmt.Errorf("cannot load pool meta: %w", err)
	}
	if meta == nil {
		if err := p.initialize(cfg); err != nil {
			return nil, err
		}
		log.Infow("initialized new pool", "treeDepth", cfg.TreeDepth,
			"feeRate", cfg.FeeRate, "governance", cfg.Governance.Hex())
		return p, nil
	}
	if err := p.load(meta); err != nil {
		return nil, err
	}
	log.Infow("reloaded pool state", "leaves", p.tree.Size(),
		"nullifiers", p.nullifiers.Len(), "balance", p.balance.String())
	return p, nil
}

// Close releases the underlying storage.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stg.Close()
}

func (p *Pool) initialize(cfg Config) error {
	t, err := tree.New(cfg.TreeDepth)
	if err != nil {
		return err
	}
	p.tree = t
	p.governance = cfg.Governance
	p.feeAddress = cfg.FeeAddress
	p.feeRate = cfg.FeeRate
	p.relayerFeeBps = cfg.RelayerFeeBps
	if p.relayerFeeBps == 0 {
		p.relayerFeeBps = types.MaxRelayerFeeBps
	}
	p.depositsEnabled = true
	p.withdrawalsEnabled = true
	p.totalDeposited = big.NewInt(0)
	p.totalWithdrawn = big.NewInt(0)
	p.totalFees = big.NewInt(0)
	p.balance = big.NewInt(0)

	wtx := p.stg.WriteTx()
	defer wtx.Discard()
	if err := p.persist(wtx); err != nil {
		return err
	}
	return wtx.Commit()
}

func (p *Pool) load(meta *storage.PoolMeta) error {
	p.governance = common.BytesToAddress(meta.Governance)
	p.feeAddress = common.BytesToAddress(meta.FeeAddress)
	for _, op := range meta.Operators {
		p.operators[common.BytesToAddress(op)] = true
	}
	p.depositsEnabled = meta.DepositsEnabled
	p.withdrawalsEnabled = meta.WithdrawalsEnabled
	p.emergencyMode = meta.EmergencyMode
	p.feeRate = meta.FeeRate
	p.relayerFeeBps = meta.RelayerFeeBps
	p.totalDeposited = meta.TotalDeposited.MathBigInt()
	p.totalWithdrawn = meta.TotalWithdrawn.MathBigInt()
	p.totalFees = meta.TotalFees.MathBigInt()
	p.balance = meta.Balance.MathBigInt()

	ts, err := p.stg.TreeState()
	if err != nil {
		return fmt.Errorf("cannot load tree state: %w", err)
	}
	if ts == nil {
		return fmt.Errorf("pool meta found but tree state missing")
	}
	commitments, err := p.stg.Commitments()
	if err != nil {
		return fmt.Errorf("cannot load commitments: %w", err)
	}
	leaves := make([]*big.Int, len(commitments))
	for i, c := range commitments {
		if c.LeafIndex != uint64(i) {
			return fmt.Errorf("leaf index gap at %d", i)
		}
		leaves[i] = c.Commitment.MathBigInt()
	}
	filled := make([]*big.Int, len(ts.FilledSubtrees))
	for i, f := range ts.FilledSubtrees {
		filled[i] = f.MathBigInt()
	}
	roots := make([]*big.Int, len(ts.Roots))
	for i, r := range ts.Roots {
		roots[i] = r.MathBigInt()
	}
	p.tree, err = tree.Restore(ts.Depth, leaves, filled, roots, ts.RootCursor, ts.NextIndex)
	if err != nil {
		return fmt.Errorf("cannot restore tree: %w", err)
	}
	for _, c := range commitments {
		if err := p.registry.Register(c.Commitment.MathBigInt(), c.Amount.MathBigInt(),
			common.BytesToAddress(c.Owner), c.LeafIndex); err != nil {
			return fmt.Errorf("cannot restore commitment: %w", err)
		}
	}
	nullifiers, err := p.stg.Nullifiers()
	if err != nil {
		return fmt.Errorf("cannot load nullifiers: %w", err)
	}
	for _, n := range nullifiers {
		if err := p.nullifiers.MarkSpent(n.MathBigInt()); err != nil {
			return fmt.Errorf("cannot restore nullifier: %w", err)
		}
	}
	records, err := p.stg.ComplianceRecords()
	if err != nil {
		return fmt.Errorf("cannot load compliance records: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })
	for _, rec := range records {
		p.compliance.restore(&ComplianceRecord{
			RequestID:     rec.RequestID.MathBigInt(),
			Commitment:    rec.Commitment.MathBigInt(),
			NullifierHash: rec.NullifierHash.MathBigInt(),
			AmountHash:    rec.AmountHash.MathBigInt(),
			Timestamp:     time.Unix(rec.Timestamp, 0),
			Verified:      rec.Verified,
		})
	}
	return nil
}

// persist writes the tree snapshot and the pool meta into the transaction.
// Commitments, nullifiers and compliance records are written by the
// operations that create them.
func (p *Pool) persist(wtx db.WriteTx) error {
	filled := make([]*types.BigInt, 0, p.tree.Depth())
	for _, f := range p.tree.FilledSubtrees() {
		filled = append(filled, (*types.BigInt)(f))
	}
	roots, cursor := p.tree.RootHistory()
	history := make([]*types.BigInt, len(roots))
	for i, r := range roots {
		history[i] = (*types.BigInt)(r)
	}
	if err := storage.SetTreeState(wtx, &storage.TreeState{
		Depth:          p.tree.Depth(),
		NextIndex:      p.tree.Size(),
		RootCursor:     cursor,
		FilledSubtrees: filled,
		Roots:          history,
	}); err != nil {
		return err
	}
	operators := make([]types.HexBytes, 0, len(p.operators))
	for op := range p.operators {
		operators = append(operators, op.Bytes())
	}
	sort.Slice(operators, func(i, j int) bool { return string(operators[i]) < string(operators[j]) })
	return storage.SetPoolMeta(wtx, &storage.PoolMeta{
		DepositsEnabled:    p.depositsEnabled,
		WithdrawalsEnabled: p.withdrawalsEnabled,
		EmergencyMode:      p.emergencyMode,
		FeeRate:            p.feeRate,
		RelayerFeeBps:      p.relayerFeeBps,
		Governance:         p.governance.Bytes(),
		FeeAddress:         p.feeAddress.Bytes(),
		Operators:          operators,
		TotalDeposited:     (*types.BigInt)(p.totalDeposited),
		TotalWithdrawn:     (*types.BigInt)(p.totalWithdrawn),
		TotalFees:          (*types.BigInt)(p.totalFees),
		Balance:            (*types.BigInt)(p.balance),
	})
}

// commit persists the current state and finalizes the transaction. Callers
// apply their in-memory mutations first, so a failure here leaves memory
// ahead of storage: the pool poisons itself and refuses any further write
// until it is reopened from the last persisted state.
func (p *Pool) commit(wtx db.WriteTx) error {
	if err := p.persist(wtx); err != nil {
		p.diverged = true
		return fmt.Errorf("%w: %v", ErrStateDiverged, err)
	}
	if err := wtx.Commit(); err != nil {
		p.diverged = true
		log.Errorw(err, "storage commit failed, pool writes disabled")
		return fmt.Errorf("%w: %v", ErrStateDiverged, err)
	}
	return nil
}

// Deposit registers a commitment, inserts it in the tree and collects the
// deposited amount. Returns the assigned leaf index.
func (p *Pool) Deposit(commitment, amount *big.Int, depositor common.Address) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.diverged {
		return 0, ErrStateDiverged
	}
	if !p.depositsEnabled || p.emergencyMode {
		return 0, fmt.Errorf("%w: deposits", ErrOperationDisabled)
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: deposit amount must be positive", ErrInvalidAmount)
	}
	if err := p.registry.CheckNew(commitment); err != nil {
		return 0, err
	}
	if p.tree.Size() == uint64(1)<<p.tree.Depth() {
		return 0, tree.ErrTreeFull
	}
	// collect the funds before mutating anything
	if err := p.settler.Credit(depositor, amount); err != nil {
		return 0, err
	}
	index, err := p.tree.Insert(commitment)
	if err != nil {
		return 0, err
	}
	if err := p.registry.Register(commitment, amount, depositor, index); err != nil {
		// unreachable: CheckNew passed under the same lock
		return 0, err
	}
	p.totalDeposited.Add(p.totalDeposited, amount)
	p.balance.Add(p.balance, amount)

	wtx := p.stg.WriteTx()
	defer wtx.Discard()
	if err := storage.SetCommitment(wtx, &storage.Commitment{
		Commitment: (*types.BigInt)(commitment),
		Amount:     (*types.BigInt)(amount),
		Owner:      depositor.Bytes(),
		LeafIndex:  index,
	}); err != nil {
		return 0, err
	}
	if err := p.commit(wtx); err != nil {
		return 0, err
	}
	log.Infow("deposit accepted", "leafIndex", index, "amount", amount.String(),
		"depositor", depositor.Hex(), "root", p.tree.Root().String())
	return index, nil
}

// WithdrawRequest carries everything a withdrawal operation needs. Fee is
// the relay fee paid to Relayer out of the withdrawn amount; zero for
// direct withdrawals.
type WithdrawRequest struct {
	Proof         []byte
	Root          *big.Int
	NullifierHash *big.Int
	Amount        *big.Int
	Blinding      *big.Int // blinding of the recomputed output commitment
	OutCommit2    *big.Int // change commitment, zero sentinel for none
	Recipient     common.Address
	Relayer       common.Address
	Fee           *big.Int
}

// WithdrawResult reports how a successful withdrawal settled.
type WithdrawResult struct {
	ProtocolFee *big.Int
	RelayFee    *big.Int
	ToRecipient *big.Int
	ChangeIndex *uint64 // leaf index of the change commitment, if registered
}

// Withdraw spends a note: it verifies the proof against the root history,
// marks the nullifier spent and settles the funds. Value conservation
// holds exactly: amount == protocolFee + relayFee + toRecipient.
func (p *Pool) Withdraw(req WithdrawRequest) (*WithdrawResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.withdraw(req, false)
}

// WithdrawWithChange is Withdraw plus the registration of a change
// commitment as a new leaf, unless OutCommit2 is the zero sentinel. The
// change insertion happens only after proof verification and nullifier
// marking succeed, and is guarded by the same duplicate check as deposits.
func (p *Pool) WithdrawWithChange(req WithdrawRequest) (*WithdrawResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.withdraw(req, true)
}

func (p *Pool) withdraw(req WithdrawRequest, withChange bool) (*WithdrawResult, error) {
	if p.diverged {
		return nil, ErrStateDiverged
	}
	if !p.withdrawalsEnabled || p.emergencyMode {
		return nil, fmt.Errorf("%w: withdrawals", ErrOperationDisabled)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidAmount)
	}
	fee := req.Fee
	if fee == nil {
		fee = big.NewInt(0)
	}
	if fee.Sign() < 0 || fee.Cmp(req.Amount) > 0 {
		return nil, ErrFeeExceedsAmount
	}
	if p.nullifiers.IsSpent(req.NullifierHash) {
		return nil, ErrAlreadySpent
	}
	registerChange := withChange && req.OutCommit2 != nil && req.OutCommit2.Sign() != 0
	if registerChange {
		// pre-condition: evaluated before any mutation so a duplicate
		// change commitment cannot leave a half-applied withdrawal
		if err := p.registry.CheckNew(req.OutCommit2); err != nil {
			return nil, err
		}
		if p.tree.Size() == uint64(1)<<p.tree.Depth() {
			return nil, tree.ErrTreeFull
		}
	}
	if err := p.gate.CheckWithdraw(req.Proof, verifier.WithdrawInputs{
		Root:          req.Root,
		NullifierHash: req.NullifierHash,
		Amount:        req.Amount,
		Blinding:      req.Blinding,
		OutCommit2:    zeroIfNil(req.OutCommit2),
	}, p.tree.IsKnownRoot); err != nil {
		return nil, err
	}
	// protocolFee = feeRate * amount / FeeBase, integer truncation
	protocolFee := new(big.Int).Mul(req.Amount, new(big.Int).SetUint64(p.feeRate))
	protocolFee.Div(protocolFee, big.NewInt(types.FeeBase))
	toRecipient := new(big.Int).Sub(req.Amount, protocolFee)
	toRecipient.Sub(toRecipient, fee)
	if toRecipient.Sign() < 0 {
		return nil, ErrFeeExceedsAmount
	}
	legs := []SettlementLeg{{To: req.Recipient, Amount: toRecipient}}
	if fee.Sign() > 0 {
		legs = append(legs, SettlementLeg{To: req.Relayer, Amount: fee})
	}
	if protocolFee.Sign() > 0 {
		legs = append(legs, SettlementLeg{To: p.feeAddress, Amount: protocolFee})
	}
	// settlement runs before any state mutation: if a leg cannot complete,
	// the nullifier must not remain marked spent
	if err := p.settler.Settle(legs); err != nil {
		return nil, err
	}
	if err := p.nullifiers.MarkSpent(req.NullifierHash); err != nil {
		return nil, err
	}
	p.totalWithdrawn.Add(p.totalWithdrawn, req.Amount)
	p.totalFees.Add(p.totalFees, protocolFee)
	p.balance.Sub(p.balance, req.Amount)

	wtx := p.stg.WriteTx()
	defer wtx.Discard()
	if err := storage.AddNullifier(wtx, (*types.BigInt)(req.NullifierHash)); err != nil {
		return nil, err
	}
	result := &WithdrawResult{
		ProtocolFee: protocolFee,
		RelayFee:    fee,
		ToRecipient: toRecipient,
	}
	if registerChange {
		index, err := p.tree.Insert(req.OutCommit2)
		if err != nil {
			return nil, err
		}
		// the change amount is hidden inside the note; the registry only
		// learns the leaf position and the recipient
		if err := p.registry.Register(req.OutCommit2, big.NewInt(0), req.Recipient, index); err != nil {
			return nil, err
		}
		if err := storage.SetCommitment(wtx, &storage.Commitment{
			Commitment: (*types.BigInt)(req.OutCommit2),
			Amount:     (*types.BigInt)(big.NewInt(0)),
			Owner:      req.Recipient.Bytes(),
			LeafIndex:  index,
		}); err != nil {
			return nil, err
		}
		result.ChangeIndex = &index
	}
	if err := p.commit(wtx); err != nil {
		return nil, err
	}
	log.Infow("withdrawal settled", "amount", req.Amount.String(),
		"protocolFee", protocolFee.String(), "relayFee", fee.String(),
		"recipient", req.Recipient.Hex(), "change", registerChange)
	return result, nil
}

// RelayWithdraw is a withdrawal submitted by an authorized operator on
// behalf of a user, charging a relay fee capped at
// amount*relayerFeeBps/10000. All of Withdraw's invariants apply.
func (p *Pool) RelayWithdraw(caller common.Address, req WithdrawRequest) (*WithdrawResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.operators[caller] {
		return nil, fmt.Errorf("%w: %s is not an operator", ErrUnauthorized, caller.Hex())
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidAmount)
	}
	maxFee := new(big.Int).Mul(req.Amount, new(big.Int).SetUint64(p.relayerFeeBps))
	maxFee.Div(maxFee, big.NewInt(types.FeeBase))
	if req.Fee != nil && req.Fee.Cmp(maxFee) > 0 {
		return nil, fmt.Errorf("%w: relay fee %s above cap %s", ErrFeeExceedsAmount, req.Fee, maxFee)
	}
	req.Relayer = caller
	return p.withdraw(req, req.OutCommit2 != nil && req.OutCommit2.Sign() != 0)
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
