// Package wallet manages keys and constructs spendable transactions,
// including token mint and transfer funding.
package wallet

import (
	"fmt"
	"sync"

	"github.com/pacprotocol/pacd/config"
	"github.com/pacprotocol/pacd/internal/mempool"
	"github.com/pacprotocol/pacd/internal/token"
	"github.com/pacprotocol/pacd/internal/utxo"
	"github.com/pacprotocol/pacd/pkg/crypto"
	"github.com/pacprotocol/pacd/pkg/script"
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/pacprotocol/pacd/pkg/types"
)

// ChainAccess is what the wallet needs from the chain.
type ChainAccess interface {
	Height() uint64
	GetTransaction(txHash types.Hash) (*tx.Transaction, types.Hash, error)
}

// Wallet holds spending keys and builds transactions from owned coins.
// Its lock sits after the chain and mempool locks and before the registry
// lock in the node-wide order.
type Wallet struct {
	mu sync.Mutex

	chain ChainAccess
	utxos *utxo.Store
	pool  *mempool.Pool

	master    *HDKey // nil for import-only wallets
	nextIndex uint32

	keys  map[types.Address]*crypto.PrivateKey
	order []types.Address
}

// New creates a wallet over the given chain state.
func New(chain ChainAccess, utxos *utxo.Store, pool *mempool.Pool) *Wallet {
	return &Wallet{
		chain: chain,
		utxos: utxos,
		pool:  pool,
		keys:  make(map[types.Address]*crypto.PrivateKey),
	}
}

// SetMaster installs the HD master key used to derive new addresses.
func (w *Wallet) SetMaster(master *HDKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.master = master
}

// SetNextIndex positions the external derivation index, typically from
// keystore metadata on startup.
func (w *Wallet) SetNextIndex(idx uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextIndex = idx
}

// NextIndex returns the external derivation index.
func (w *Wallet) NextIndex() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextIndex
}

// ImportKey adds a spending key and returns its address.
func (w *Wallet) ImportKey(key *crypto.PrivateKey) types.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addKeyLocked(key)
}

func (w *Wallet) addKeyLocked(key *crypto.PrivateKey) types.Address {
	addr := crypto.AddressFromPubKey(key.PublicKey())
	if _, exists := w.keys[addr]; !exists {
		w.keys[addr] = key
		w.order = append(w.order, addr)
	}
	return addr
}

// NewAddress derives (or generates) a fresh address. With no master key a
// random key is generated; a failure surfaces as keypool exhaustion.
func (w *Wallet) NewAddress() (types.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.master != nil {
		key, err := w.master.DeriveAddress(0, ChangeExternal, w.nextIndex)
		if err != nil {
			return types.Address{}, fmt.Errorf("%w: %v", token.ErrKeypoolExhausted, err)
		}
		w.nextIndex++
		priv, err := key.Signer()
		if err != nil {
			return types.Address{}, fmt.Errorf("%w: %v", token.ErrKeypoolExhausted, err)
		}
		return w.addKeyLocked(priv), nil
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return types.Address{}, fmt.Errorf("%w: %v", token.ErrKeypoolExhausted, err)
	}
	return w.addKeyLocked(key), nil
}

// Addresses returns all wallet addresses in derivation order.
func (w *Wallet) Addresses() []types.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]types.Address, len(w.order))
	copy(out, w.order)
	return out
}

// IsMine reports whether the wallet holds the key for an address.
func (w *Wallet) IsMine(addr types.Address) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.keys[addr]
	return ok
}

// IsMineScript reports whether the wallet owns the script's pubkey hash.
// For token outputs the owner portion decides.
func (w *Wallet) IsMineScript(spk types.Script) bool {
	addr, ok := scriptOwner(spk)
	if !ok {
		return false
	}
	return w.IsMine(addr)
}

// scriptOwner extracts the owning pubkey hash of a plain or token script.
func scriptOwner(spk types.Script) (types.Address, bool) {
	if script.IsPayToToken(spk) {
		payload, err := script.DecodeTokenScript(spk)
		if err != nil {
			return types.Address{}, false
		}
		return payload.OwnerPubKeyHash()
	}
	return script.ExtractPubKeyHash(spk)
}

// spendable collects the wallet's spendable UTXOs: owned, confirmed at
// least TokenMinConfs deep, mature, not spent by any pooled transaction,
// and never checksum outputs.
func (w *Wallet) spendable() ([]UTXO, error) {
	tip := w.chain.Height()

	var out []UTXO
	for _, addr := range w.Addresses() {
		entries, err := w.utxos.GetByAddress(addr)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			spk := e.Coin.Out.ScriptPubKey
			if script.IsChecksumData(spk) {
				continue
			}
			if w.pool != nil && w.pool.SpendsOutpoint(e.Outpoint) {
				continue
			}
			if tip < e.Coin.Height {
				continue
			}
			confirmations := tip - e.Coin.Height + 1
			if confirmations < config.TokenMinConfs {
				continue
			}
			if e.Coin.Coinbase && confirmations < config.CoinbaseMaturity {
				continue
			}

			u := UTXO{
				Outpoint: e.Outpoint,
				Value:    e.Coin.Out.Value,
				Script:   spk,
			}
			if script.IsPayToToken(spk) {
				payload, err := script.DecodeTokenScript(spk)
				if err != nil {
					continue
				}
				u.Token = payload
			}
			out = append(out, u)
		}
	}
	return out, nil
}

// FundMintTransaction picks non-token UTXOs summing to at least required.
// Returns the selected inputs and their total value.
func (w *Wallet) FundMintTransaction(required uint64) ([]UTXO, uint64, error) {
	all, err := w.spendable()
	if err != nil {
		return nil, 0, err
	}

	plain := make([]UTXO, 0, len(all))
	for _, u := range all {
		if u.Token == nil {
			plain = append(plain, u)
		}
	}

	sel, err := SelectCoins(plain, required)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", token.ErrInsufficientBalance, err)
	}
	return sel.Inputs, sel.Total, nil
}

// FundTokenTransaction picks colored UTXOs of the given token name summing
// to at least amount.
func (w *Wallet) FundTokenTransaction(name string, amount uint64) ([]UTXO, uint64, error) {
	all, err := w.spendable()
	if err != nil {
		return nil, 0, err
	}

	colored := make([]UTXO, 0, len(all))
	for _, u := range all {
		if u.Token != nil && u.Token.Name == name {
			colored = append(colored, u)
		}
	}

	sel, err := SelectCoins(colored, amount)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", token.ErrInsufficientBalance, err)
	}
	return sel.Inputs, sel.Total, nil
}
