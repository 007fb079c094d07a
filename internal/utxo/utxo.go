// Package utxo manages the UTXO set and its coin view.
package utxo

import (
	"github.com/pacprotocol/pacd/pkg/script"
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/pacprotocol/pacd/pkg/types"
)

// Coin is an unspent transaction output with its confirmation height.
type Coin struct {
	Out      tx.Output `json:"out"`
	Height   uint64    `json:"height"`
	Coinbase bool      `json:"coinbase"`
}

// View provides read access to coins. A coin that was never created or has
// been spent is reported via the error return; there are no partial coins.
type View interface {
	AccessCoin(outpoint types.Outpoint) (*Coin, error)
}

// Set is the mutable interface to UTXO storage.
type Set interface {
	View
	Put(outpoint types.Outpoint, coin *Coin) error
	Delete(outpoint types.Outpoint) error
	Has(outpoint types.Outpoint) (bool, error)
}

// coinAddress returns the pubkey hash that owns a coin's script, if any.
// Token outputs are owned by the script following their prefix.
func coinAddress(spk types.Script) (types.Address, bool) {
	if script.IsPayToToken(spk) {
		payload, err := script.DecodeTokenScript(spk)
		if err != nil {
			return types.Address{}, false
		}
		return payload.OwnerPubKeyHash()
	}
	return script.ExtractPubKeyHash(spk)
}
