package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/zkpool/zkpool/log"
	"github.com/zkpool/zkpool/pool"
	"github.com/zkpool/zkpool/storage"
	"github.com/zkpool/zkpool/types"
	"github.com/zkpool/zkpool/verifier"
	"go.vocdoni.io/dvote/db/metadb"
)

func init() {
	log.Init(log.LogLevelError, "stderr", nil)
}

const (
	testDepositor = "0x00000000000000000000000000000000000000b1"
	testRecipient = "0x00000000000000000000000000000000000000b2"
)

func newTestServer(t *testing.T) (*httptest.Server, *pool.LedgerSettler) {
	c := qt.New(t)
	settler := pool.NewLedgerSettler()
	gate := verifier.NewGate(&verifier.StaticVerifier{Accept: true}, &verifier.StaticVerifier{Accept: true})
	p, err := pool.Open(storage.New(metadb.NewTest(t)), gate, settler, pool.Config{
		TreeDepth:  8,
		Governance: common.HexToAddress("0x00000000000000000000000000000000000000a1"),
	})
	c.Assert(err, qt.IsNil)
	a := &API{pool: p}
	a.initRouter()
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return srv, settler
}

func doRequest(t *testing.T, method, url string, body, out any) int {
	c := qt.New(t)
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		c.Assert(err, qt.IsNil)
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reqBody)
	c.Assert(err, qt.IsNil)
	resp, err := http.DefaultClient.Do(req)
	c.Assert(err, qt.IsNil)
	defer func() {
		c.Assert(resp.Body.Close(), qt.IsNil)
	}()
	if out != nil && resp.StatusCode == http.StatusOK {
		c.Assert(json.NewDecoder(resp.Body).Decode(out), qt.IsNil)
	}
	return resp.StatusCode
}

func TestPingAndInfo(t *testing.T) {
	c := qt.New(t)
	srv, _ := newTestServer(t)

	status := doRequest(t, http.MethodGet, srv.URL+PingEndpoint, nil, nil)
	c.Assert(status, qt.Equals, http.StatusOK)

	var stats pool.Stats
	status = doRequest(t, http.MethodGet, srv.URL+InfoEndpoint, nil, &stats)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(stats.Leaves, qt.Equals, uint64(0))
	c.Assert(stats.DepositsEnabled, qt.IsTrue)
}

func TestDepositEndpoint(t *testing.T) {
	c := qt.New(t)
	srv, settler := newTestServer(t)
	settler.Fund(common.HexToAddress(testDepositor), big.NewInt(1000))

	dep := &Deposit{
		Commitment: (*types.BigInt)(big.NewInt(101)),
		Amount:     (*types.BigInt)(big.NewInt(500)),
		Depositor:  testDepositor,
	}
	var res DepositResponse
	status := doRequest(t, http.MethodPost, srv.URL+DepositsEndpoint, dep, &res)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(res.LeafIndex, qt.Equals, uint64(0))
	c.Assert(res.Root, qt.IsNotNil)

	// duplicate commitments are a conflict
	status = doRequest(t, http.MethodPost, srv.URL+DepositsEndpoint, dep, nil)
	c.Assert(status, qt.Equals, http.StatusConflict)

	// malformed body and addresses are a bad request
	status = doRequest(t, http.MethodPost, srv.URL+DepositsEndpoint, &Deposit{}, nil)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	bad := *dep
	bad.Depositor = "not-an-address"
	status = doRequest(t, http.MethodPost, srv.URL+DepositsEndpoint, &bad, nil)
	c.Assert(status, qt.Equals, http.StatusBadRequest)

	// the commitment is now queryable, with its merkle path
	var cm Commitment
	status = doRequest(t, http.MethodGet, fmt.Sprintf("%s/commitments/%d", srv.URL, 101), nil, &cm)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(cm.LeafIndex, qt.Equals, uint64(0))
	c.Assert(cm.Amount.MathBigInt().Int64(), qt.Equals, int64(500))

	var proof MerkleProof
	status = doRequest(t, http.MethodGet, fmt.Sprintf("%s/proofs/%d", srv.URL, 0), nil, &proof)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(proof.Siblings, qt.HasLen, 8)
	c.Assert(proof.Leaf.MathBigInt().Int64(), qt.Equals, int64(101))

	status = doRequest(t, http.MethodGet, fmt.Sprintf("%s/commitments/%d", srv.URL, 999), nil, nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)
	status = doRequest(t, http.MethodGet, fmt.Sprintf("%s/proofs/%d", srv.URL, 5), nil, nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)
}

func TestWithdrawalEndpoint(t *testing.T) {
	c := qt.New(t)
	srv, settler := newTestServer(t)
	settler.Fund(common.HexToAddress(testDepositor), big.NewInt(1000))

	status := doRequest(t, http.MethodPost, srv.URL+DepositsEndpoint, &Deposit{
		Commitment: (*types.BigInt)(big.NewInt(101)),
		Amount:     (*types.BigInt)(big.NewInt(1000)),
		Depositor:  testDepositor,
	}, nil)
	c.Assert(status, qt.Equals, http.StatusOK)

	var roots Roots
	status = doRequest(t, http.MethodGet, srv.URL+RootsEndpoint, nil, &roots)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(roots.KnownRoots, qt.Not(qt.HasLen), 0)

	wd := &Withdrawal{
		Proof:         []byte("proof"),
		Root:          roots.Root,
		NullifierHash: (*types.BigInt)(big.NewInt(555)),
		Amount:        (*types.BigInt)(big.NewInt(600)),
		Blinding:      (*types.BigInt)(big.NewInt(777)),
		OutCommit2:    (*types.BigInt)(big.NewInt(202)),
		Recipient:     testRecipient,
	}
	var res WithdrawalResponse
	status = doRequest(t, http.MethodPost, srv.URL+WithdrawalsEndpoint, wd, &res)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(res.ToRecipient.MathBigInt().Int64(), qt.Equals, int64(600))
	c.Assert(res.ChangeIndex, qt.IsNotNil)
	c.Assert(*res.ChangeIndex, qt.Equals, uint64(1))

	// double spend is a conflict
	status = doRequest(t, http.MethodPost, srv.URL+WithdrawalsEndpoint, wd, nil)
	c.Assert(status, qt.Equals, http.StatusConflict)

	// so is reusing an already registered change commitment, rejected
	// before the proof is even looked at
	status = doRequest(t, http.MethodGet, srv.URL+RootsEndpoint, nil, &roots)
	c.Assert(status, qt.Equals, http.StatusOK)
	dup := *wd
	dup.Root = roots.Root
	dup.NullifierHash = (*types.BigInt)(big.NewInt(556))
	dup.Amount = (*types.BigInt)(big.NewInt(100))
	status = doRequest(t, http.MethodPost, srv.URL+WithdrawalsEndpoint, &dup, nil)
	c.Assert(status, qt.Equals, http.StatusConflict)

	// an unknown root is rejected as a bad proof
	stale := *wd
	stale.NullifierHash = (*types.BigInt)(big.NewInt(557))
	stale.OutCommit2 = (*types.BigInt)(big.NewInt(303))
	stale.Root = (*types.BigInt)(big.NewInt(424242))
	status = doRequest(t, http.MethodPost, srv.URL+WithdrawalsEndpoint, &stale, nil)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
}

func TestComplianceEndpoint(t *testing.T) {
	c := qt.New(t)
	srv, settler := newTestServer(t)
	settler.Fund(common.HexToAddress(testDepositor), big.NewInt(1000))

	status := doRequest(t, http.MethodPost, srv.URL+DepositsEndpoint, &Deposit{
		Commitment: (*types.BigInt)(big.NewInt(101)),
		Amount:     (*types.BigInt)(big.NewInt(1000)),
		Depositor:  testDepositor,
	}, nil)
	c.Assert(status, qt.Equals, http.StatusOK)

	var roots Roots
	status = doRequest(t, http.MethodGet, srv.URL+RootsEndpoint, nil, &roots)
	c.Assert(status, qt.Equals, http.StatusOK)

	cp := &ComplianceProof{
		Proof:         []byte("proof"),
		Root:          roots.Root,
		RequestID:     (*types.BigInt)(big.NewInt(9001)),
		Commitment:    (*types.BigInt)(big.NewInt(101)),
		NullifierHash: (*types.BigInt)(big.NewInt(555)),
		AmountHash:    (*types.BigInt)(big.NewInt(666)),
		IsValid:       (*types.BigInt)(big.NewInt(1)),
	}
	var res ComplianceResponse
	status = doRequest(t, http.MethodPost, srv.URL+ComplianceEndpoint, cp, &res)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(res.Stored, qt.IsTrue)

	// write-once per request id
	status = doRequest(t, http.MethodPost, srv.URL+ComplianceEndpoint, cp, nil)
	c.Assert(status, qt.Equals, http.StatusConflict)

	// verify-only mode persists nothing
	verifyOnly := *cp
	verifyOnly.RequestID = (*types.BigInt)(big.NewInt(9002))
	verifyOnly.VerifyOnly = true
	status = doRequest(t, http.MethodPost, srv.URL+ComplianceEndpoint, &verifyOnly, &res)
	c.Assert(status, qt.Equals, http.StatusOK)

	var rec ComplianceRecord
	status = doRequest(t, http.MethodGet, fmt.Sprintf("%s/compliance/%d", srv.URL, 9001), nil, &rec)
	c.Assert(status, qt.Equals, http.StatusOK)
	c.Assert(rec.Verified, qt.IsTrue)
	status = doRequest(t, http.MethodGet, fmt.Sprintf("%s/compliance/%d", srv.URL, 9002), nil, nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)

	// a proof against an unknown commitment is not found
	missing := *cp
	missing.RequestID = (*types.BigInt)(big.NewInt(9003))
	missing.Commitment = (*types.BigInt)(big.NewInt(404))
	status = doRequest(t, http.MethodPost, srv.URL+ComplianceEndpoint, &missing, nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)
}
