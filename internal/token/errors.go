package token

import "errors"

// Rule violations found by the transaction validator.
var (
	ErrTokenInvalid               = errors.New("token output invalid")
	ErrMultipleIssuances          = errors.New("multiple token issuances in one transaction")
	ErrNameExists                 = errors.New("issuance name exists")
	ErrIdExists                   = errors.New("issuance identifier exists")
	ErrIdOutOfRange               = errors.New("issuance identifier out of range")
	ErrTransferPrevoutInvalid     = errors.New("transfer prevout is not a token output")
	ErrIssuancePrevoutNotStandard = errors.New("issuance prevout must not be a token output")
	ErrPrevTokenMismatch          = errors.New("prevout token does not match output token")
	ErrInsufficientConfirms       = errors.New("input confirmations below minimum")
)

// Context failures.
var (
	ErrPrevTxMissing        = errors.New("previous transaction not found")
	ErrInitialBlockDownload = errors.New("node is in initial block download")
	ErrNotActiveYet         = errors.New("token rules not active at this height")
)

// Mempool admission failures.
var (
	ErrIssuanceExistsInMempool   = errors.New("token-issuance-exists-mempool")
	ErrInputAlreadyUsedInMempool = errors.New("token-input-used-mempool")
)

// Wallet failures.
var (
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrKeypoolExhausted    = errors.New("keypool exhausted")
	ErrSigningFailed       = errors.New("token transaction signing failed")
	ErrBroadcastFailed     = errors.New("token transaction broadcast failed")
)

// Storage failures.
var (
	ErrTokenCorrupt = errors.New("corrupt token record")
	ErrReadFailed   = errors.New("token store read failed")
	ErrWriteFailed  = errors.New("token store write failed")
)
