// Package chain implements the active chain: block storage, the UTXO
// transition on connect and disconnect, and the coin views consumed by
// the token subsystem.
package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pacprotocol/pacd/config"
	"github.com/pacprotocol/pacd/internal/token"
	"github.com/pacprotocol/pacd/internal/utxo"
	"github.com/pacprotocol/pacd/pkg/block"
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/pacprotocol/pacd/pkg/types"
)

// Block processing errors.
var (
	ErrBlockKnown    = errors.New("block already known")
	ErrBadHeight     = errors.New("block height does not follow tip")
	ErrBadPrevHash   = errors.New("prev_hash does not match current tip")
	ErrApplyUTXO     = errors.New("failed to apply UTXO changes")
	ErrNoTip         = errors.New("chain has no blocks")
	ErrGenesisExists = errors.New("chain already initialized")
)

// Chain is the active chain state machine. Its mutex is the chain lock:
// first in the node-wide acquisition order (chain, mempool, wallet,
// registry).
type Chain struct {
	mu     sync.Mutex
	store  *BlockStore
	utxos  *utxo.Store
	params *config.Params

	tokens *token.Indexer // Set via SetTokenIndexer after construction.

	tipHash types.Hash
	height  uint64
	hasTip  bool

	ibd atomic.Bool
}

// undoData records the UTXO transition of one block for disconnect.
type undoData struct {
	Spent   []spentCoin      `json:"spent"`
	Created []types.Outpoint `json:"created"`
}

type spentCoin struct {
	Outpoint types.Outpoint `json:"outpoint"`
	Coin     utxo.Coin      `json:"coin"`
}

// New creates a chain over the given storage, recovering the tip if one
// was persisted.
func New(store *BlockStore, utxos *utxo.Store, params *config.Params) (*Chain, error) {
	tipHash, height, err := store.GetTip()
	if err != nil {
		return nil, fmt.Errorf("recover tip: %w", err)
	}

	c := &Chain{
		store:  store,
		utxos:  utxos,
		params: params,
	}
	if !tipHash.IsZero() {
		c.tipHash = tipHash
		c.height = height
		c.hasTip = true
	}
	return c, nil
}

// SetTokenIndexer wires the token indexer called on connect/disconnect.
func (c *Chain) SetTokenIndexer(ix *token.Indexer) {
	c.tokens = ix
}

// Lock acquires the chain lock. Used by callers that need the tip pinned
// across several operations (token rescan).
func (c *Chain) Lock() { c.mu.Lock() }

// Unlock releases the chain lock.
func (c *Chain) Unlock() { c.mu.Unlock() }

// Height returns the current chain height. Like the rest of the tip
// state it is written only under the chain lock; readers tolerate a
// slightly stale value.
func (c *Chain) Height() uint64 {
	return c.height
}

// TipHash returns the hash of the current chain tip.
func (c *Chain) TipHash() types.Hash {
	return c.tipHash
}

// SetInitialBlockDownload flags whether the node is still syncing.
func (c *Chain) SetInitialBlockDownload(v bool) {
	c.ibd.Store(v)
}

// IsInitialBlockDownload reports whether the node is still syncing.
func (c *Chain) IsInitialBlockDownload() bool {
	return c.ibd.Load()
}

// InitFromGenesis creates and connects the genesis block.
func (c *Chain) InitFromGenesis() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasTip {
		return ErrGenesisExists
	}
	blk := CreateGenesisBlock(c.params)
	return c.connectLocked(blk)
}

// ProcessBlock validates a block and connects it to the tip.
func (c *Chain) ProcessBlock(blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block or header")
	}

	hash := blk.Hash()
	known, err := c.store.HasBlock(hash)
	if err != nil {
		return fmt.Errorf("check block: %w", err)
	}
	if known {
		// Disconnected blocks keep their data but lose their undo
		// record; those may be reconnected.
		if _, undoErr := c.store.GetUndo(hash); undoErr == nil {
			return ErrBlockKnown
		}
	}

	if !c.hasTip {
		return fmt.Errorf("%w: connect genesis first", ErrNoTip)
	}
	if blk.Header.Height != c.height+1 {
		return fmt.Errorf("%w: got %d, tip %d", ErrBadHeight, blk.Header.Height, c.height)
	}
	if blk.Header.PrevHash != c.tipHash {
		return fmt.Errorf("%w", ErrBadPrevHash)
	}

	if err := blk.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	// Contextual checks that need the pre-connect UTXO state.
	if err := c.validateBlockState(blk); err != nil {
		return err
	}

	return c.connectLocked(blk)
}

// validateBlockState runs UTXO- and token-dependent validation against the
// pre-connect state. Token rules run in dry-run mode here; the commit
// happens in the indexer after the block is applied.
func (c *Chain) validateBlockState(blk *block.Block) error {
	view := &liveView{utxos: c.utxos}

	for i, transaction := range blk.Transactions {
		if transaction.IsCoinbase() {
			continue
		}
		if _, err := transaction.ValidateWithUTXOs(&utxoProvider{c.utxos}); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}

	// Token activation: reject token outputs before the activation height.
	if blk.Header.Height < c.params.TokenActivationHeight {
		for i, transaction := range blk.Transactions {
			if transaction.HasTokenOutput() {
				return fmt.Errorf("tx %d: %w", i, token.ErrNotActiveYet)
			}
		}
		return nil
	}

	if c.tokens != nil {
		for i, transaction := range blk.Transactions {
			if !transaction.HasTokenOutput() {
				continue
			}
			if err := c.tokens.Validator().CheckToken(transaction, c.height, view, true); err != nil {
				return fmt.Errorf("tx %d: %w", i, err)
			}
		}
	}
	return nil
}

// connectLocked applies a block: UTXO transition, persistence, tip move,
// token registry update. Caller holds the chain lock.
func (c *Chain) connectLocked(blk *block.Block) error {
	hash := blk.Hash()
	height := blk.Header.Height

	undo := &undoData{}

	// Spend inputs.
	for _, transaction := range blk.Transactions {
		for _, in := range transaction.Inputs {
			if in.PrevOut.IsZero() {
				continue
			}
			coin, err := c.utxos.AccessCoin(in.PrevOut)
			if err != nil {
				return fmt.Errorf("%w: missing input %s", ErrApplyUTXO, in.PrevOut)
			}
			undo.Spent = append(undo.Spent, spentCoin{Outpoint: in.PrevOut, Coin: *coin})
			if err := c.utxos.Delete(in.PrevOut); err != nil {
				return fmt.Errorf("%w: %v", ErrApplyUTXO, err)
			}
		}
	}

	// Create outputs.
	for _, transaction := range blk.Transactions {
		txHash := transaction.Hash()
		coinbase := transaction.IsCoinbase()
		for i, out := range transaction.Outputs {
			op := types.Outpoint{TxID: txHash, Index: uint32(i)}
			coin := &utxo.Coin{Out: out, Height: height, Coinbase: coinbase}
			if err := c.utxos.Put(op, coin); err != nil {
				return fmt.Errorf("%w: %v", ErrApplyUTXO, err)
			}
			undo.Created = append(undo.Created, op)
		}
	}

	// Persist block, indices, and undo data.
	if err := c.store.PutBlock(blk); err != nil {
		return err
	}
	undoBytes, err := json.Marshal(undo)
	if err != nil {
		return fmt.Errorf("marshal undo: %w", err)
	}
	if err := c.store.PutUndo(hash, undoBytes); err != nil {
		return err
	}
	if err := c.store.SetTip(hash, height); err != nil {
		return err
	}

	c.tipHash = hash
	c.height = height
	c.hasTip = true

	// Feed new issuances into the registry. The tx index for this block is
	// already written, so the historical view resolves this block's
	// transactions.
	if c.tokens != nil && height >= c.params.TokenActivationHeight {
		if err := c.tokens.ConnectBlock(blk, height); err != nil {
			return fmt.Errorf("token connect: %w", err)
		}
	}

	return nil
}

// DisconnectTip unwinds the tip block: restores spent coins, deletes
// created ones, removes issuances the block carried, and moves the tip to
// the parent. The block data itself is kept.
func (c *Chain) DisconnectTip() (*block.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasTip {
		return nil, ErrNoTip
	}

	blk, err := c.store.GetBlock(c.tipHash)
	if err != nil {
		return nil, err
	}
	if blk.Header.Height == 0 {
		return nil, fmt.Errorf("cannot disconnect genesis")
	}

	undoBytes, err := c.store.GetUndo(c.tipHash)
	if err != nil {
		return nil, fmt.Errorf("undo data missing for tip %s: %w", c.tipHash, err)
	}
	var undo undoData
	if err := json.Unmarshal(undoBytes, &undo); err != nil {
		return nil, fmt.Errorf("unmarshal undo: %w", err)
	}

	// Remove issuances first: the registry must not outlive the block.
	if c.tokens != nil {
		if err := c.tokens.DisconnectBlock(blk); err != nil {
			return nil, err
		}
	}

	// Revert the UTXO transition.
	for _, op := range undo.Created {
		if err := c.utxos.Delete(op); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrApplyUTXO, err)
		}
	}
	for _, sc := range undo.Spent {
		coin := sc.Coin
		if err := c.utxos.Put(sc.Outpoint, &coin); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrApplyUTXO, err)
		}
	}

	// Drop per-block indices.
	for _, transaction := range blk.Transactions {
		c.store.DeleteTxIndex(transaction.Hash())
	}
	c.store.DeleteHeightIndex(blk.Header.Height)
	c.store.DeleteUndo(c.tipHash)

	// Move the tip to the parent.
	c.tipHash = blk.Header.PrevHash
	c.height = blk.Header.Height - 1
	if err := c.store.SetTip(c.tipHash, c.height); err != nil {
		return nil, err
	}

	return blk, nil
}

// GetBlockByHeight retrieves an active-chain block.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	return c.store.GetBlockByHeight(height)
}

// GetBlock retrieves a block by hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	return c.store.GetBlock(hash)
}

// ReadBlockByHeight implements token.ChainReader.
func (c *Chain) ReadBlockByHeight(height uint64) (*block.Block, error) {
	return c.store.GetBlockByHeight(height)
}

// GetTransaction resolves a confirmed transaction by hash, returning the
// transaction and the hash of its confirming block.
func (c *Chain) GetTransaction(txHash types.Hash) (*tx.Transaction, types.Hash, error) {
	_, blockHash, err := c.store.GetTxLocation(txHash)
	if err != nil {
		return nil, types.Hash{}, err
	}
	blk, err := c.store.GetBlock(blockHash)
	if err != nil {
		return nil, types.Hash{}, err
	}
	transaction, ok := blk.FindTransaction(txHash)
	if !ok {
		return nil, types.Hash{}, fmt.Errorf("tx %s not in indexed block", txHash)
	}
	return transaction, blockHash, nil
}

// GetTxConfirmations returns how deep a confirmed transaction is buried.
// The tip block counts as one confirmation. Unconfirmed transactions
// report zero.
func (c *Chain) GetTxConfirmations(txHash types.Hash) uint64 {
	height, _, err := c.store.GetTxLocation(txHash)
	if err != nil {
		return 0
	}
	if height > c.height {
		return 0
	}
	return c.height - height + 1
}
