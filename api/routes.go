package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"
	// InfoEndpoint returns the pool counters and flags
	InfoEndpoint = "/info"
	// DepositsEndpoint is the endpoint for submitting a deposit
	DepositsEndpoint = "/deposits"
	// WithdrawalsEndpoint is the endpoint for submitting a withdrawal proof
	WithdrawalsEndpoint = "/withdrawals"
	// RootsEndpoint returns the current root and the history window
	RootsEndpoint = "/roots"
	// CommitmentEndpoint returns the record of a commitment
	CommitmentURLParam = "commitment"
	CommitmentEndpoint = "/commitments/{" + CommitmentURLParam + "}"
	// MerkleProofEndpoint returns the sibling path of a leaf
	LeafIndexURLParam   = "index"
	MerkleProofEndpoint = "/proofs/{" + LeafIndexURLParam + "}"
	// ComplianceEndpoint is the endpoint for submitting a compliance proof
	ComplianceEndpoint = "/compliance"
	// ComplianceRecordEndpoint returns a stored compliance record
	RequestIDURLParam        = "requestId"
	ComplianceRecordEndpoint = "/compliance/{" + RequestIDURLParam + "}"
)
