//nolint:lll
package api

import (
	"fmt"
	"net/http"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the user's fault,
// and they return HTTP Status 400 or 404 (or even 204), whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 500 or 503, or something else if appropriate.
//
// NEVER change any of the current error codes, only append new errors after the current last 4XXX or 5XXX.
var (
	ErrResourceNotFound    = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody       = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrMalformedParam      = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed URL parameter")}
	ErrInvalidDeposit      = Error{Code: 40006, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid deposit")}
	ErrInvalidWithdrawal   = Error{Code: 40007, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid withdrawal")}
	ErrOperationDisabled   = Error{Code: 40008, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("operation disabled")}
	ErrProofRejected       = Error{Code: 40009, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("proof rejected")}
	ErrDoubleSpend         = Error{Code: 40010, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("nullifier already spent")}
	ErrDuplicateCommitment = Error{Code: 40011, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("commitment already registered")}
	ErrDuplicateRequest    = Error{Code: 40012, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("compliance request id already used")}
	ErrCommitmentNotFound  = Error{Code: 40013, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("commitment not found")}
	ErrUnauthorizedCaller  = Error{Code: 40014, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("unauthorized caller")}
	ErrSettlementRejected  = Error{Code: 40015, HTTPstatus: http.StatusUnprocessableEntity, Err: fmt.Errorf("settlement rejected")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
)
