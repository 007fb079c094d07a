package wallet

import (
	"fmt"

	"github.com/pacprotocol/pacd/config"
	"github.com/pacprotocol/pacd/internal/token"
	"github.com/pacprotocol/pacd/pkg/crypto"
	"github.com/pacprotocol/pacd/pkg/script"
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/pacprotocol/pacd/pkg/types"
)

// MintRequest describes a token mint.
type MintRequest struct {
	Owner    types.Address
	Name     string
	Amount   uint64
	Checksum *[crypto.Hash160Size]byte // nil when no checksum output is attached
}

// CreateMintTransaction funds, assembles, and signs an issuance
// transaction. The identifier is the next deterministic assignment given
// the registry and the mempool's in-flight claims.
func (w *Wallet) CreateMintTransaction(reg *token.Registry, req MintRequest) (*tx.Transaction, uint64, error) {
	if err := script.CheckTokenName(req.Name); err != nil {
		return nil, 0, err
	}
	if req.Amount < 1 || req.Amount > config.TokenValueMax {
		return nil, 0, fmt.Errorf("%w: amount %d", token.ErrTokenInvalid, req.Amount)
	}

	var claimed func(uint64) bool
	if w.pool != nil {
		claimed = w.pool.ClaimedIdentifier
	}
	identifier := reg.NextIdentifier(claimed)

	issuanceValue := req.Amount
	required := req.Amount
	if req.Checksum != nil {
		issuanceValue += config.ChecksumOutputValue
		required = issuanceValue + config.ChecksumOutputValue
	}

	inputs, total, err := w.FundMintTransaction(required)
	if err != nil {
		return nil, 0, err
	}

	issuanceScript, err := script.BuildTokenScript(
		script.CurrentTokenVersion, script.WireTypeIssuance,
		identifier, req.Name, script.PayToPubKeyHash(req.Owner))
	if err != nil {
		return nil, 0, err
	}

	builder := tx.NewBuilder().SetLockTime(w.chain.Height())
	for _, in := range inputs {
		builder.AddInput(in.Outpoint)
	}
	builder.AddOutput(issuanceValue, issuanceScript)
	if req.Checksum != nil {
		builder.AddOutput(config.ChecksumOutputValue, script.BuildChecksumScript(*req.Checksum))
	}
	if change := total - required; change > 0 {
		changeAddr, err := w.NewAddress()
		if err != nil {
			return nil, 0, err
		}
		builder.AddOutput(change, script.PayToPubKeyHash(changeAddr))
	}

	transaction := builder.Build()
	if err := w.SignTokenTransaction(transaction); err != nil {
		return nil, 0, err
	}
	return transaction, identifier, nil
}

// CreateTokenTransaction funds, assembles, and signs a transfer moving
// amount of the named token to dest. A colored change output returns any
// excess to a fresh wallet address.
func (w *Wallet) CreateTokenTransaction(reg *token.Registry, dest types.Address, name string, amount uint64) (*tx.Transaction, error) {
	if err := script.CheckTokenName(name); err != nil {
		return nil, err
	}
	if amount < 1 || amount > config.TokenValueMax {
		return nil, fmt.Errorf("%w: amount %d", token.ErrTokenInvalid, amount)
	}

	issued, ok := reg.LookupByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown token %q", token.ErrTokenInvalid, name)
	}
	identifier := issued.ID()

	inputs, total, err := w.FundTokenTransaction(name, amount)
	if err != nil {
		return nil, err
	}

	destScript, err := script.BuildTokenScript(
		script.CurrentTokenVersion, script.WireTypeTransfer,
		identifier, name, script.PayToPubKeyHash(dest))
	if err != nil {
		return nil, err
	}

	builder := tx.NewBuilder().SetLockTime(w.chain.Height())
	for _, in := range inputs {
		builder.AddInput(in.Outpoint)
	}
	builder.AddOutput(amount, destScript)

	if change := total - amount; change > 0 {
		changeAddr, err := w.NewAddress()
		if err != nil {
			return nil, err
		}
		changeScript, err := script.BuildTokenScript(
			script.CurrentTokenVersion, script.WireTypeTransfer,
			identifier, name, script.PayToPubKeyHash(changeAddr))
		if err != nil {
			return nil, err
		}
		builder.AddOutput(change, changeScript)
	}

	transaction := builder.Build()
	if err := w.SignTokenTransaction(transaction); err != nil {
		return nil, err
	}
	return transaction, nil
}

// SignTokenTransaction signs each input with the key owning the spent
// coin and verifies the result. Coins are resolved through the UTXO set
// first, then the mempool. Verification failures surface verbatim.
func (w *Wallet) SignTokenTransaction(transaction *tx.Transaction) error {
	signers := make(map[types.Address]*crypto.PrivateKey)
	outpointAddr := make(map[types.Outpoint]types.Address)

	for i, in := range transaction.Inputs {
		spk, err := w.resolveScript(in.PrevOut)
		if err != nil {
			return fmt.Errorf("%w: input %d: %v", token.ErrSigningFailed, i, err)
		}
		owner, ok := scriptOwner(spk)
		if !ok {
			return fmt.Errorf("%w: input %d: non-standard owner script", token.ErrSigningFailed, i)
		}

		w.mu.Lock()
		key, mine := w.keys[owner]
		w.mu.Unlock()
		if !mine {
			return fmt.Errorf("%w: input %d: key for %s not in wallet", token.ErrSigningFailed, i, owner)
		}
		signers[owner] = key
		outpointAddr[in.PrevOut] = owner
	}

	hash := transaction.Hash()
	sigCache := make(map[types.Address][]byte)
	for i := range transaction.Inputs {
		owner := outpointAddr[transaction.Inputs[i].PrevOut]
		key := signers[owner]

		sig, cached := sigCache[owner]
		if !cached {
			var err error
			sig, err = key.Sign(hash[:])
			if err != nil {
				return fmt.Errorf("%w: input %d: %v", token.ErrSigningFailed, i, err)
			}
			sigCache[owner] = sig
		}
		transaction.Inputs[i].Signature = sig
		transaction.Inputs[i].PubKey = key.PublicKey()
	}

	if err := transaction.VerifySignatures(); err != nil {
		return fmt.Errorf("%w: %v", token.ErrSigningFailed, err)
	}
	return nil
}

// resolveScript finds the scriptPubKey of an outpoint in the UTXO set or,
// failing that, among pooled transactions.
func (w *Wallet) resolveScript(op types.Outpoint) (types.Script, error) {
	coin, err := w.utxos.AccessCoin(op)
	if err == nil {
		return coin.Out.ScriptPubKey, nil
	}
	if w.pool != nil {
		if pooled := w.pool.Get(op.TxID); pooled != nil && int(op.Index) < len(pooled.Outputs) {
			return pooled.Outputs[op.Index].ScriptPubKey, nil
		}
	}
	return nil, fmt.Errorf("outpoint %s not found or already spent", op)
}

// TokenBalances sums the wallet's confirmed colored UTXOs per token name.
// A non-empty filter restricts the result to that exact name.
func (w *Wallet) TokenBalances(filter string) (map[string]uint64, error) {
	balances := make(map[string]uint64)

	tip := w.chain.Height()
	for _, addr := range w.Addresses() {
		entries, err := w.utxos.GetByAddress(addr)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			spk := e.Coin.Out.ScriptPubKey
			if !script.IsPayToToken(spk) {
				continue
			}
			if e.Coin.Height > tip {
				continue
			}
			payload, err := script.DecodeTokenScript(spk)
			if err != nil {
				continue
			}
			if filter != "" && payload.Name != filter {
				continue
			}
			balances[payload.Name] += e.Coin.Out.Value
		}
	}
	return balances, nil
}

// UnconfirmedTokenBalances sums colored mempool outputs owned by this
// wallet per token name.
func (w *Wallet) UnconfirmedTokenBalances(filter string) (map[string]uint64, error) {
	balances := make(map[string]uint64)
	if w.pool == nil {
		return balances, nil
	}

	for _, pooled := range w.pool.Transactions() {
		if !pooled.HasTokenOutput() {
			continue
		}
		for _, out := range pooled.Outputs {
			if !out.IsTokenOutput() {
				continue
			}
			payload, err := token.ContextualCheck(out.ScriptPubKey)
			if err != nil {
				return nil, fmt.Errorf("corrupt token output in mempool: %w", err)
			}
			owner, ok := payload.OwnerPubKeyHash()
			if !ok || !w.IsMine(owner) {
				continue
			}
			if filter != "" && payload.Name != filter {
				continue
			}
			balances[payload.Name] += out.Value
		}
	}
	return balances, nil
}

// TokenEntry is one row of the wallet's token listing.
type TokenEntry struct {
	Name          string
	Address       types.Address
	Category      string
	Amount        uint64
	Confirmations uint64
	Outpoint      types.Outpoint
}

// ListTokenEntries returns the wallet's colored UTXOs with confirmation
// depth, unspent only.
func (w *Wallet) ListTokenEntries() ([]TokenEntry, error) {
	tip := w.chain.Height()

	var out []TokenEntry
	for _, addr := range w.Addresses() {
		entries, err := w.utxos.GetByAddress(addr)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			spk := e.Coin.Out.ScriptPubKey
			if !script.IsPayToToken(spk) {
				continue
			}
			payload, err := script.DecodeTokenScript(spk)
			if err != nil {
				continue
			}
			confirmations := uint64(0)
			if tip >= e.Coin.Height {
				confirmations = tip - e.Coin.Height + 1
			}
			out = append(out, TokenEntry{
				Name:          payload.Name,
				Address:       addr,
				Category:      "receive",
				Amount:        e.Coin.Out.Value,
				Confirmations: confirmations,
				Outpoint:      e.Outpoint,
			})
		}
	}
	return out, nil
}
