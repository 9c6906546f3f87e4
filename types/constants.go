package types

const (
	// DefaultTreeDepth is the depth of the commitment merkle tree. A depth
	// of 20 supports up to 2^20 deposits.
	DefaultTreeDepth = 20
	// RootHistorySize is the number of recent merkle roots kept in the
	// rolling history window. Withdrawal proofs generated against any of
	// these roots remain valid.
	RootHistorySize = 30
	// FeeBase is the denominator of the protocol fee rate, so a fee rate of
	// 100 means 1%.
	FeeBase = 10_000
	// MaxRelayerFeeBps caps the fee a relayer may charge on a relayed
	// withdrawal, in basis points of the withdrawn amount.
	MaxRelayerFeeBps = 500
	// SerializedFieldSize is the size in bytes of a serialized field element.
	SerializedFieldSize = 32
)
