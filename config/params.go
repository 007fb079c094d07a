package config

import "math"

// Denomination constants.
// 1 coin = 10^8 base units. All on-chain values are in base units; token
// amounts are denominated in whole units.
const (
	Decimals = 8
	Coin     = 100_000_000
)

// Token consensus constants. These are protocol rules: every node must
// apply identical values or validation forks.
const (
	// IssuanceIDBegin is one below the first assignable token identifier.
	IssuanceIDBegin uint64 = 16

	// TokenIDRange bounds how far ahead of the registry size an issuance
	// identifier may reach: id <= (size + IssuanceIDBegin) * TokenIDRange.
	TokenIDRange uint64 = 16

	// TokenMinConfs is the confirmation depth required of every input of a
	// token transaction.
	TokenMinConfs uint64 = 1

	// TokenValueMax caps the amount carried by a single token output.
	TokenValueMax uint64 = math.MaxInt32

	// TokenMaxSkip is the identifier gap tolerated while loading the
	// registry from disk before the scan stops.
	TokenMaxSkip uint64 = 1024

	// ChecksumOutputValue is the fixed value carried by the optional
	// checksum side-output of an issuance.
	ChecksumOutputValue uint64 = 1000
)

// Block and transaction size limits (consensus-critical).
const (
	MaxBlockSize  = 2_000_000 // 2 MB max block size (header + all tx signing bytes)
	MaxBlockTxs   = 500       // Max transactions per block (including coinbase)
	MaxTxInputs   = 2500      // Max inputs per transaction
	MaxTxOutputs  = 2500      // Max outputs per transaction
	MaxScriptSize = 10_000    // Max script bytes per output
)

// CoinbaseMaturity is the confirmation depth a coinbase output needs before
// the wallet selects it for funding. Block and mempool validation do not
// check it.
const CoinbaseMaturity uint64 = 20

// Params holds the consensus parameters for a network.
type Params struct {
	// Network name, also the address HRP selector.
	Network NetworkType

	// TokenActivationHeight is the block height at which token rules
	// activate. Token outputs in earlier blocks are invalid.
	TokenActivationHeight uint64

	// BlockReward is the base block subsidy in base units.
	BlockReward uint64
}

// MainnetParams returns the mainnet consensus parameters.
func MainnetParams() *Params {
	return &Params{
		Network:               Mainnet,
		TokenActivationHeight: 100,
		BlockReward:           50 * Coin,
	}
}

// TestnetParams returns the testnet consensus parameters.
func TestnetParams() *Params {
	return &Params{
		Network:               Testnet,
		TokenActivationHeight: 10,
		BlockReward:           50 * Coin,
	}
}

// ParamsFor returns the consensus parameters for the given network.
func ParamsFor(network NetworkType) *Params {
	if network == Testnet {
		return TestnetParams()
	}
	return MainnetParams()
}

// RegTestParams returns parameters for isolated regression testing:
// tokens active from the first block.
func RegTestParams() *Params {
	return &Params{
		Network:               Testnet,
		TokenActivationHeight: 1,
		BlockReward:           50 * Coin,
	}
}
