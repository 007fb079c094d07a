package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/pacprotocol/pacd/pkg/crypto"
	"github.com/pacprotocol/pacd/pkg/script"
	"github.com/pacprotocol/pacd/pkg/types"
)

// UTXO-aware validation errors.
var (
	ErrInputNotFound   = errors.New("input UTXO not found")
	ErrInputSpent      = errors.New("input UTXO already spent")
	ErrInsufficientFee = errors.New("insufficient fee")
	ErrInputOverflow   = errors.New("input values overflow")
	ErrScriptMismatch  = errors.New("pubkey does not match UTXO script")
)

// UTXOProvider provides read-only access to the UTXO set for validation.
type UTXOProvider interface {
	GetUTXO(outpoint types.Outpoint) (value uint64, scriptPubKey types.Script, err error)
	HasUTXO(outpoint types.Outpoint) bool
}

// ValidateWithUTXOs performs full validation of a transaction against the
// UTXO set. It checks that all inputs exist, that the pubkey hashes to the
// owner script of the spent output, that signatures are valid, and that
// inputs >= outputs. Returns the fee (inputs - outputs).
func (tx *Transaction) ValidateWithUTXOs(provider UTXOProvider) (uint64, error) {
	if err := tx.Validate(); err != nil {
		return 0, err
	}

	var totalInput uint64
	for i, in := range tx.Inputs {
		// Coinbase inputs skip UTXO checks.
		if in.PrevOut.IsZero() {
			continue
		}

		if !provider.HasUTXO(in.PrevOut) {
			return 0, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, ErrInputNotFound)
		}

		value, spk, err := provider.GetUTXO(in.PrevOut)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		if err := verifyOwner(in.PubKey, spk); err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		if totalInput > math.MaxUint64-value {
			return 0, fmt.Errorf("input %d: %w", i, ErrInputOverflow)
		}
		totalInput += value
	}

	if err := tx.VerifySignatures(); err != nil {
		return 0, err
	}

	totalOutput, ovfErr := tx.TotalOutputValue()
	if ovfErr != nil {
		return 0, fmt.Errorf("output overflow: %w", ovfErr)
	}
	if totalInput < totalOutput {
		return 0, fmt.Errorf("%w: inputs=%d outputs=%d", ErrInsufficientFee, totalInput, totalOutput)
	}

	return totalInput - totalOutput, nil
}

// verifyOwner checks that the spender's public key hashes to the pubkey
// hash locked by the spent output. Token outputs are owned by the script
// that follows their prefix; checksum outputs hash-lock their digest and
// are only nominally spendable.
func verifyOwner(pubKey []byte, spk types.Script) error {
	if len(pubKey) == 0 {
		return ErrMissingPubKey
	}

	owner := spk
	if script.IsPayToToken(spk) {
		payload, err := script.DecodeTokenScript(spk)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrScriptMismatch, err)
		}
		owner = payload.Owner
	}

	locked, ok := script.ExtractPubKeyHash(owner)
	if !ok {
		// Non-standard owner scripts are not spendable by this node.
		return fmt.Errorf("%w: non-standard owner script", ErrScriptMismatch)
	}

	expected := crypto.AddressFromPubKey(pubKey)
	if locked != expected {
		return fmt.Errorf("%w: pubkey hash %x, script locks %x", ErrScriptMismatch, expected, locked)
	}
	return nil
}
