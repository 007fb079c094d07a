// Package mempool manages pending transactions waiting for block inclusion.
package mempool

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/pacprotocol/pacd/internal/token"
	"github.com/pacprotocol/pacd/internal/utxo"
	"github.com/pacprotocol/pacd/pkg/script"
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/pacprotocol/pacd/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists = errors.New("transaction already in mempool")
	ErrConflict      = errors.New("transaction conflicts with existing mempool entry")
	ErrPoolFull      = errors.New("mempool is full")
	ErrValidation    = errors.New("transaction failed validation")
	ErrFeeTooLow     = errors.New("transaction fee below minimum")
)

// entry wraps a transaction with its fee and metadata.
type entry struct {
	tx      *tx.Transaction
	txHash  types.Hash
	fee     uint64
	feeRate float64 // fee per byte of SigningBytes.
}

// ChainState is what the pool needs from the chain: the tip height for
// confirmation counting and a live coin view.
type ChainState interface {
	Height() uint64
	LiveView() utxo.View
}

// Pool holds unconfirmed transactions. Its lock sits after the chain lock
// and before the wallet and registry locks in the node-wide order.
type Pool struct {
	mu         sync.RWMutex
	txs        map[types.Hash]*entry         // txHash -> entry
	spends     map[types.Outpoint]types.Hash // outpoint -> txHash (conflict index)
	maxSize    int
	minFeeRate uint64 // Minimum fee rate in base units per byte (0 = no minimum).
	utxos      tx.UTXOProvider

	chain     ChainState       // For token confirmation checks (nil = disabled).
	validator *token.Validator // Token rules (nil = disabled).
	policy    *Policy
}

// New creates a new mempool with the given UTXO provider and max size.
func New(utxos tx.UTXOProvider, maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &Pool{
		txs:     make(map[types.Hash]*entry),
		spends:  make(map[types.Outpoint]types.Hash),
		maxSize: maxSize,
		utxos:   utxos,
		policy:  DefaultPolicy(),
	}
}

// SetMinFeeRate sets the minimum fee rate (base units per byte) for transaction acceptance.
func (p *Pool) SetMinFeeRate(rate uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minFeeRate = rate
}

// SetTokenValidator enables token rule checks during admission.
func (p *Pool) SetTokenValidator(v *token.Validator, chain ChainState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validator = v
	p.chain = chain
}

// Add validates and adds a transaction to the mempool.
// Returns the computed fee. Rejects duplicates and double-spend conflicts.
func (p *Pool) Add(transaction *tx.Transaction) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	txHash := transaction.Hash()

	// Policy gate first: size and shape limits, before any expensive work.
	if err := p.policy.Check(transaction); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Reject duplicates.
	if _, exists := p.txs[txHash]; exists {
		return 0, ErrAlreadyExists
	}

	// Check for double-spend conflicts. Two wallet instances racing on the
	// same UTXO surface here.
	for _, in := range transaction.Inputs {
		if in.PrevOut.IsZero() {
			continue
		}
		if conflictHash, exists := p.spends[in.PrevOut]; exists {
			return 0, fmt.Errorf("%w: %v: input %s already spent by %s",
				ErrConflict, token.ErrInputAlreadyUsedInMempool, in.PrevOut, conflictHash)
		}
	}

	// UTXO-aware validation.
	fee, err := transaction.ValidateWithUTXOs(p.utxos)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Token admission rules.
	if p.validator != nil && transaction.HasTokenOutput() {
		if err := p.checkTokenLocked(transaction); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	// Compute fee rate for minimum check and eviction comparison.
	sigBytes := len(transaction.SigningBytes())
	var feeRate float64
	if sigBytes > 0 {
		feeRate = float64(fee) / float64(sigBytes)
	}

	// Enforce minimum fee rate (fee per byte of SigningBytes).
	if p.minFeeRate > 0 {
		requiredFee := p.minFeeRate * uint64(sigBytes)
		if fee < requiredFee {
			return 0, fmt.Errorf("%w: got %d, need %d (%d bytes × %d rate)", ErrFeeTooLow, fee, requiredFee, sigBytes, p.minFeeRate)
		}
	}

	// Check pool capacity — evict lowest fee-rate if new tx pays more.
	if len(p.txs) >= p.maxSize {
		lowestHash, lowestRate := p.findLowestFeeRate()
		if feeRate <= lowestRate {
			return 0, ErrPoolFull
		}
		p.removeLocked(lowestHash)
	}

	e := &entry{
		tx:      transaction,
		txHash:  txHash,
		fee:     fee,
		feeRate: feeRate,
	}

	// Add to pool and conflict index.
	p.txs[txHash] = e
	for _, in := range transaction.Inputs {
		if !in.PrevOut.IsZero() {
			p.spends[in.PrevOut] = txHash
		}
	}

	return fee, nil
}

// checkTokenLocked runs the token admission rules: the shared CheckToken
// dry run (confirmation depth, linkage, registry uniqueness) plus the
// pool-local issuance-name rule. Caller holds p.mu.
func (p *Pool) checkTokenLocked(transaction *tx.Transaction) error {
	tipHeight := p.chain.Height()

	if !p.validator.Active(tipHeight + 1) {
		return token.ErrNotActiveYet
	}

	if err := p.validator.CheckToken(transaction, tipHeight, p.chain.LiveView(), true); err != nil {
		return err
	}

	// No other pool entry may carry an issuance with the same name.
	for _, out := range transaction.Outputs {
		if !out.IsTokenOutput() {
			continue
		}
		payload, err := script.DecodeTokenScript(out.ScriptPubKey)
		if err != nil || token.Type(payload.Type) != token.TypeIssuance {
			continue
		}
		if p.issuanceNameInPoolLocked(payload.Name) {
			return fmt.Errorf("%w: %q", token.ErrIssuanceExistsInMempool, payload.Name)
		}
	}
	return nil
}

// issuanceNameInPoolLocked reports whether any pooled transaction carries
// an issuance output with the given name. Caller holds p.mu.
func (p *Pool) issuanceNameInPoolLocked(name string) bool {
	for _, e := range p.txs {
		for _, out := range e.tx.Outputs {
			if !out.IsTokenOutput() {
				continue
			}
			payload, err := script.DecodeTokenScript(out.ScriptPubKey)
			if err != nil {
				continue
			}
			if token.Type(payload.Type) == token.TypeIssuance && payload.Name == name {
				return true
			}
		}
	}
	return false
}

// ClaimedIdentifier reports whether any pooled issuance output claims the
// given identifier. Used by next-identifier assignment so two in-flight
// mints never collide.
func (p *Pool) ClaimedIdentifier(id uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, e := range p.txs {
		for _, out := range e.tx.Outputs {
			if !out.IsTokenOutput() {
				continue
			}
			payload, err := script.DecodeTokenScript(out.ScriptPubKey)
			if err != nil {
				continue
			}
			if token.Type(payload.Type) == token.TypeIssuance && payload.ID == id {
				return true
			}
		}
	}
	return false
}

// Remove removes a transaction from the mempool by hash.
func (p *Pool) Remove(txHash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txHash)
}

// RemoveRecursive removes a transaction and every pooled descendant that
// spends one of its outputs. The reason is logged by the caller; it keeps
// the signature aligned across removal sites.
func (p *Pool) RemoveRecursive(txHash types.Hash, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeRecursiveLocked(txHash)
}

func (p *Pool) removeRecursiveLocked(txHash types.Hash) {
	e, exists := p.txs[txHash]
	if !exists {
		return
	}

	// Descendants first: anything spending this tx's outputs.
	for i := range e.tx.Outputs {
		op := types.Outpoint{TxID: txHash, Index: uint32(i)}
		if childHash, ok := p.spends[op]; ok {
			p.removeRecursiveLocked(childHash)
		}
	}
	p.removeLocked(txHash)
}

func (p *Pool) removeLocked(txHash types.Hash) {
	e, exists := p.txs[txHash]
	if !exists {
		return
	}
	// Clean up spend index.
	for _, in := range e.tx.Inputs {
		if !in.PrevOut.IsZero() {
			delete(p.spends, in.PrevOut)
		}
	}
	delete(p.txs, txHash)
}

// RemoveConfirmed removes all transactions that were included in a block.
func (p *Pool) RemoveConfirmed(transactions []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range transactions {
		p.removeLocked(t.Hash())
	}
}

// Has checks if a transaction exists in the mempool.
func (p *Pool) Has(txHash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.txs[txHash]
	return exists
}

// SpendsOutpoint reports whether any pooled transaction spends the given
// outpoint.
func (p *Pool) SpendsOutpoint(op types.Outpoint) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.spends[op]
	return exists
}

// Get retrieves a transaction from the mempool.
func (p *Pool) Get(txHash types.Hash) *tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, exists := p.txs[txHash]
	if !exists {
		return nil
	}
	return e.tx
}

// Count returns the number of transactions in the mempool.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// Transactions returns all pooled transactions (unspecified order).
func (p *Pool) Transactions() []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*tx.Transaction, 0, len(p.txs))
	for _, e := range p.txs {
		out = append(out, e.tx)
	}
	return out
}

// findLowestFeeRate returns the hash and fee rate of the lowest fee-rate entry.
// Must be called with p.mu held.
func (p *Pool) findLowestFeeRate() (types.Hash, float64) {
	var lowestHash types.Hash
	lowestRate := math.MaxFloat64
	for h, e := range p.txs {
		if e.feeRate < lowestRate {
			lowestRate = e.feeRate
			lowestHash = h
		}
	}
	return lowestHash, lowestRate
}

// SelectForBlock returns transactions ordered by fee rate (highest first),
// up to the given limit.
func (p *Pool) SelectForBlock(limit int) []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]*entry, 0, len(p.txs))
	for _, e := range p.txs {
		entries = append(entries, e)
	}

	// Sort by fee rate descending.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].feeRate > entries[j].feeRate
	})

	if limit > len(entries) {
		limit = len(entries)
	}

	result := make([]*tx.Transaction, limit)
	for i := 0; i < limit; i++ {
		result[i] = entries[i].tx
	}
	return result
}
