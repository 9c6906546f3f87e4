package api

import (
	"github.com/zkpool/zkpool/types"
)

// Deposit is the request body to register a new deposit commitment.
type Deposit struct {
	Commitment *types.BigInt `json:"commitment"`
	Amount     *types.BigInt `json:"amount"`
	Depositor  string        `json:"depositor"`
}

// DepositResponse reports where the deposit landed in the tree.
type DepositResponse struct {
	LeafIndex uint64        `json:"leafIndex"`
	Root      *types.BigInt `json:"root"`
}

// Withdrawal is the request body for a withdrawal proof submission. When
// OutCommit2 is non-zero the withdrawal registers it as a change
// commitment.
type Withdrawal struct {
	Proof         types.HexBytes `json:"proof"`
	Root          *types.BigInt  `json:"root"`
	NullifierHash *types.BigInt  `json:"nullifierHash"`
	Amount        *types.BigInt  `json:"amount"`
	Blinding      *types.BigInt  `json:"blinding"`
	OutCommit2    *types.BigInt  `json:"outCommit2,omitempty"`
	Recipient     string         `json:"recipient"`
	Relayer       string         `json:"relayer,omitempty"`
	Fee           *types.BigInt  `json:"fee,omitempty"`
}

// WithdrawalResponse reports how the withdrawal settled.
type WithdrawalResponse struct {
	ToRecipient *types.BigInt `json:"toRecipient"`
	ProtocolFee *types.BigInt `json:"protocolFee"`
	RelayFee    *types.BigInt `json:"relayFee"`
	ChangeIndex *uint64       `json:"changeIndex,omitempty"`
}

// Roots is the response with the current root and the history window.
type Roots struct {
	Root       *types.BigInt   `json:"root"`
	KnownRoots []*types.BigInt `json:"knownRoots"`
}

// Commitment is the response with a registered commitment's record.
type Commitment struct {
	Commitment *types.BigInt `json:"commitment"`
	Amount     *types.BigInt `json:"amount"`
	Owner      string        `json:"owner"`
	LeafIndex  uint64        `json:"leafIndex"`
}

// MerkleProof is the response with a leaf's sibling path. Directions[i] is
// true when the path node at level i is a right child.
type MerkleProof struct {
	LeafIndex  uint64          `json:"leafIndex"`
	Leaf       *types.BigInt   `json:"leaf"`
	Root       *types.BigInt   `json:"root"`
	Siblings   []*types.BigInt `json:"siblings"`
	Directions []bool          `json:"directions"`
}

// ComplianceProof is the request body for a compliance proof submission.
type ComplianceProof struct {
	Proof         types.HexBytes `json:"proof"`
	Root          *types.BigInt  `json:"root"`
	RequestID     *types.BigInt  `json:"requestId"`
	Commitment    *types.BigInt  `json:"commitment"`
	NullifierHash *types.BigInt  `json:"nullifierHash"`
	AmountHash    *types.BigInt  `json:"amountHash"`
	IsValid       *types.BigInt  `json:"isValid"`
	// VerifyOnly performs the check without persisting the submission.
	VerifyOnly bool `json:"verifyOnly,omitempty"`
}

// ComplianceResponse reports whether the submission was stored.
type ComplianceResponse struct {
	Stored bool `json:"stored"`
}

// ComplianceRecord is the response with a stored compliance record.
type ComplianceRecord struct {
	RequestID     *types.BigInt `json:"requestId"`
	Commitment    *types.BigInt `json:"commitment"`
	NullifierHash *types.BigInt `json:"nullifierHash"`
	AmountHash    *types.BigInt `json:"amountHash"`
	Timestamp     int64         `json:"timestamp"`
	Verified      bool          `json:"verified"`
}
