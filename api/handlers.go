package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/zkpool/zkpool/crypto/hash/poseidon"
	"github.com/zkpool/zkpool/pool"
	"github.com/zkpool/zkpool/tree"
	"github.com/zkpool/zkpool/types"
	"github.com/zkpool/zkpool/verifier"
)

// apiError maps a pool error to the matching API error. Shape errors
// (out-of-range field elements, bad amounts, full tree) fall through to the
// handler-specific fallback, unknown errors to a generic 500.
func apiError(err error, fallback Error) Error {
	switch {
	case errors.Is(err, pool.ErrOperationDisabled):
		return ErrOperationDisabled
	case errors.Is(err, pool.ErrAlreadySpent):
		return ErrDoubleSpend
	case errors.Is(err, pool.ErrDuplicateCommitment):
		return ErrDuplicateCommitment
	case errors.Is(err, pool.ErrDuplicateRequest):
		return ErrDuplicateRequest
	case errors.Is(err, pool.ErrUnknownCommitment):
		return ErrCommitmentNotFound
	case errors.Is(err, pool.ErrUnauthorized):
		return ErrUnauthorizedCaller
	case errors.Is(err, pool.ErrSettlementFailed):
		return ErrSettlementRejected
	case errors.Is(err, verifier.ErrInvalidProof),
		errors.Is(err, verifier.ErrStaleOrUnknownRoot),
		errors.Is(err, verifier.ErrMalformedProof):
		return ErrProofRejected
	case errors.Is(err, poseidon.ErrOutOfFieldRange),
		errors.Is(err, pool.ErrZeroCommitment),
		errors.Is(err, pool.ErrInvalidAmount),
		errors.Is(err, pool.ErrFeeExceedsAmount),
		errors.Is(err, tree.ErrTreeFull):
		return fallback
	default:
		return ErrGenericInternalServerError
	}
}

// info returns the pool counters and flags.
func (a *API) info(w http.ResponseWriter, _ *http.Request) {
	httpWriteJSON(w, a.pool.Stats())
}

// newDeposit registers a deposit commitment and inserts it in the tree.
func (a *API) newDeposit(w http.ResponseWriter, r *http.Request) {
	req := &Deposit{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.Commitment == nil || req.Amount == nil {
		ErrMalformedBody.Withf("missing commitment or amount").Write(w)
		return
	}
	if !common.IsHexAddress(req.Depositor) {
		ErrMalformedBody.Withf("invalid depositor address").Write(w)
		return
	}
	leafIndex, err := a.pool.Deposit(
		req.Commitment.MathBigInt(),
		req.Amount.MathBigInt(),
		common.HexToAddress(req.Depositor))
	if err != nil {
		apiError(err, ErrInvalidDeposit).WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &DepositResponse{
		LeafIndex: leafIndex,
		Root:      (*types.BigInt)(a.pool.Root()),
	})
}

// newWithdrawal verifies a withdrawal proof and settles the funds. A
// non-zero outCommit2 registers the change commitment as a new leaf.
func (a *API) newWithdrawal(w http.ResponseWriter, r *http.Request) {
	req := &Withdrawal{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.Root == nil || req.NullifierHash == nil || req.Amount == nil || req.Blinding == nil {
		ErrMalformedBody.Withf("missing withdrawal public inputs").Write(w)
		return
	}
	if !common.IsHexAddress(req.Recipient) {
		ErrMalformedBody.Withf("invalid recipient address").Write(w)
		return
	}
	preq := pool.WithdrawRequest{
		Proof:         req.Proof,
		Root:          req.Root.MathBigInt(),
		NullifierHash: req.NullifierHash.MathBigInt(),
		Amount:        req.Amount.MathBigInt(),
		Blinding:      req.Blinding.MathBigInt(),
		Recipient:     common.HexToAddress(req.Recipient),
	}
	if req.OutCommit2 != nil {
		preq.OutCommit2 = req.OutCommit2.MathBigInt()
	}
	if req.Fee != nil {
		preq.Fee = req.Fee.MathBigInt()
	}
	withChange := preq.OutCommit2 != nil && preq.OutCommit2.Sign() != 0
	var res *pool.WithdrawResult
	var err error
	if req.Relayer != "" {
		if !common.IsHexAddress(req.Relayer) {
			ErrMalformedBody.Withf("invalid relayer address").Write(w)
			return
		}
		res, err = a.pool.RelayWithdraw(common.HexToAddress(req.Relayer), preq)
	} else if withChange {
		res, err = a.pool.WithdrawWithChange(preq)
	} else {
		res, err = a.pool.Withdraw(preq)
	}
	if err != nil {
		apiError(err, ErrInvalidWithdrawal).WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &WithdrawalResponse{
		ToRecipient: (*types.BigInt)(res.ToRecipient),
		ProtocolFee: (*types.BigInt)(res.ProtocolFee),
		RelayFee:    (*types.BigInt)(res.RelayFee),
		ChangeIndex: res.ChangeIndex,
	})
}

// roots returns the current root and the recent-root window.
func (a *API) roots(w http.ResponseWriter, _ *http.Request) {
	known := a.pool.KnownRoots()
	res := &Roots{
		Root:       (*types.BigInt)(a.pool.Root()),
		KnownRoots: make([]*types.BigInt, len(known)),
	}
	for i, root := range known {
		res.KnownRoots[i] = (*types.BigInt)(root)
	}
	httpWriteJSON(w, res)
}

// commitment returns the record of a registered commitment.
func (a *API) commitment(w http.ResponseWriter, r *http.Request) {
	c, ok := new(big.Int).SetString(chi.URLParam(r, CommitmentURLParam), 10)
	if !ok {
		ErrMalformedParam.Withf("commitment must be a decimal field element").Write(w)
		return
	}
	rec, err := a.pool.CommitmentOf(c)
	if err != nil {
		ErrCommitmentNotFound.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &Commitment{
		Commitment: (*types.BigInt)(rec.Commitment),
		Amount:     (*types.BigInt)(rec.Amount),
		Owner:      rec.Owner.Hex(),
		LeafIndex:  rec.LeafIndex,
	})
}

// merkleProof returns the sibling path of the leaf at the given index.
func (a *API) merkleProof(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(chi.URLParam(r, LeafIndexURLParam), 10, 64)
	if err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	leaf, err := a.pool.CommitmentAt(index)
	if err != nil {
		ErrResourceNotFound.WithErr(err).Write(w)
		return
	}
	siblings, directions, err := a.pool.MerkleProof(index)
	if err != nil {
		ErrResourceNotFound.WithErr(err).Write(w)
		return
	}
	res := &MerkleProof{
		LeafIndex:  index,
		Leaf:       (*types.BigInt)(leaf),
		Root:       (*types.BigInt)(a.pool.Root()),
		Siblings:   make([]*types.BigInt, len(siblings)),
		Directions: directions,
	}
	for i, s := range siblings {
		res.Siblings[i] = (*types.BigInt)(s)
	}
	httpWriteJSON(w, res)
}

// newComplianceProof verifies a compliance proof and, unless the request is
// verify-only, stores the submission under its request id.
func (a *API) newComplianceProof(w http.ResponseWriter, r *http.Request) {
	req := &ComplianceProof{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.Root == nil || req.RequestID == nil || req.Commitment == nil ||
		req.NullifierHash == nil || req.AmountHash == nil || req.IsValid == nil {
		ErrMalformedBody.Withf("missing compliance public inputs").Write(w)
		return
	}
	in := verifier.ComplianceInputs{
		Root:          req.Root.MathBigInt(),
		RequestID:     req.RequestID.MathBigInt(),
		Commitment:    req.Commitment.MathBigInt(),
		NullifierHash: req.NullifierHash.MathBigInt(),
		AmountHash:    req.AmountHash.MathBigInt(),
		IsValid:       req.IsValid.MathBigInt(),
	}
	if req.VerifyOnly {
		if err := a.pool.VerifyCompliance(req.Proof, in); err != nil {
			apiError(err, ErrProofRejected).WithErr(err).Write(w)
			return
		}
		httpWriteJSON(w, &ComplianceResponse{Stored: false})
		return
	}
	stored, err := a.pool.SubmitComplianceProof(req.Proof, in)
	if err != nil {
		apiError(err, ErrProofRejected).WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &ComplianceResponse{Stored: stored})
}

// complianceRecord returns the stored compliance record for a request id.
func (a *API) complianceRecord(w http.ResponseWriter, r *http.Request) {
	requestID, ok := new(big.Int).SetString(chi.URLParam(r, RequestIDURLParam), 10)
	if !ok {
		ErrMalformedParam.Withf("request id must be a decimal field element").Write(w)
		return
	}
	rec := a.pool.ComplianceRecordOf(requestID)
	if rec == nil {
		ErrResourceNotFound.Withf("no compliance record for request id").Write(w)
		return
	}
	httpWriteJSON(w, &ComplianceRecord{
		RequestID:     (*types.BigInt)(rec.RequestID),
		Commitment:    (*types.BigInt)(rec.Commitment),
		NullifierHash: (*types.BigInt)(rec.NullifierHash),
		AmountHash:    (*types.BigInt)(rec.AmountHash),
		Timestamp:     rec.Timestamp.Unix(),
		Verified:      rec.Verified,
	})
}
