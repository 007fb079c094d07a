package token

import (
	"fmt"

	"github.com/pacprotocol/pacd/internal/utxo"
	"github.com/pacprotocol/pacd/pkg/block"
	"github.com/pacprotocol/pacd/pkg/script"
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/pacprotocol/pacd/pkg/types"
	"github.com/rs/zerolog"
)

// ChainReader is the block access the indexer needs from the chain.
type ChainReader interface {
	Height() uint64
	ReadBlockByHeight(height uint64) (*block.Block, error)
	// HistoricalView returns a coin view that resolves coins of already
	// connected transactions regardless of later spends.
	HistoricalView() utxo.View
}

// Indexer keeps the issuance registry consistent with the active chain:
// it feeds new issuances on block connect, removes them on disconnect,
// and can rebuild the registry from disk with a full rescan.
type Indexer struct {
	chain     ChainReader
	validator *Validator
	logger    zerolog.Logger
}

// NewIndexer creates an indexer over the given chain and validator.
func NewIndexer(chain ChainReader, validator *Validator, logger zerolog.Logger) *Indexer {
	return &Indexer{chain: chain, validator: validator, logger: logger}
}

// Validator returns the indexer's validator.
func (ix *Indexer) Validator() *Validator {
	return ix.validator
}

// ConnectBlock applies a connected block's token transactions to the
// registry. Transactions are processed in block order, outputs in index
// order, so replay reproduces identical registries.
func (ix *Indexer) ConnectBlock(blk *block.Block, height uint64) error {
	if !ix.validator.Active(height) {
		return nil
	}
	view := ix.chain.HistoricalView()
	for _, transaction := range blk.Transactions {
		if !transaction.HasTokenOutput() {
			continue
		}
		if err := ix.validator.CheckToken(transaction, height, view, false); err != nil {
			return fmt.Errorf("tx %s: %w", transaction.Hash(), err)
		}
	}
	return nil
}

// DisconnectBlock undoes a block's issuances. Transfers need no undo
// action: the UTXO set's own rollback removes the colored outputs.
func (ix *Indexer) DisconnectBlock(blk *block.Block) error {
	reg := ix.validator.Registry()
	for _, transaction := range blk.Transactions {
		for _, out := range transaction.Outputs {
			if !out.IsTokenOutput() {
				continue
			}
			payload, err := script.DecodeTokenScript(out.ScriptPubKey)
			if err != nil || Type(payload.Type) != TypeIssuance {
				continue
			}
			if err := reg.Remove(payload.ID, payload.Name); err != nil {
				return fmt.Errorf("undo issuance %d %q: %w", payload.ID, payload.Name, err)
			}
			ix.logger.Info().
				Uint64("id", payload.ID).
				Str("name", payload.Name).
				Msg("Issuance removed on disconnect")
		}
	}
	return nil
}

// Rescan replays every block from the activation height to the current
// tip through the committing validator. Safe to call repeatedly: replay
// of an already registered issuance is a no-op. The stop channel is
// honored between blocks, leaving all fully processed heights applied.
//
// The caller holds the chain lock for the duration so the tip cannot move.
func (ix *Indexer) Rescan(stop <-chan struct{}) error {
	tip := ix.chain.Height()
	from := ix.validator.params.TokenActivationHeight
	if tip < from {
		ix.logger.Debug().Uint64("tip", tip).Msg("Chain has not entered the token phase")
		return nil
	}

	view := ix.chain.HistoricalView()
	for height := from; height <= tip; height++ {
		select {
		case <-stop:
			ix.logger.Warn().Uint64("height", height).Msg("Token rescan interrupted")
			return nil
		default:
		}

		blk, err := ix.chain.ReadBlockByHeight(height)
		if err != nil {
			return fmt.Errorf("read block %d: %w", height, err)
		}

		for _, transaction := range blk.Transactions {
			if !transaction.HasTokenOutput() {
				continue
			}
			if err := ix.validator.CheckToken(transaction, height, view, false); err != nil {
				return fmt.Errorf("height %d tx %s: %w", height, transaction.Hash(), err)
			}
		}
	}

	ix.logger.Info().
		Uint64("from", from).
		Uint64("to", tip).
		Uint64("issuances", ix.validator.Registry().Size()).
		Msg("Token rescan complete")
	return nil
}

// Rebuild clears the registry (memory and disk) and replays the chain.
func (ix *Indexer) Rebuild(stop <-chan struct{}) error {
	if err := ix.validator.Registry().Reset(); err != nil {
		return err
	}
	return ix.Rescan(stop)
}

// HistoryHop is one step of a token's backward history: the transaction
// that carried the colored output and the output itself.
type HistoryHop struct {
	TxHash types.Hash
	Index  uint32
	Token  *Token
	Value  uint64
}

// TraceHistory walks backward from a colored outpoint to the issuance that
// created its (identifier, name) pair. At each hop it follows the input
// whose prevout decodes to a token of the matching pair.
func (ix *Indexer) TraceHistory(fetcher TxFetcher, start types.Outpoint) ([]HistoryHop, error) {
	var hops []HistoryHop

	current := start
	for {
		transaction, _, err := fetcher.GetTransaction(current.TxID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrPrevTxMissing, current.TxID)
		}
		if int(current.Index) >= len(transaction.Outputs) {
			return nil, fmt.Errorf("%w: output %d", ErrPrevTxMissing, current.Index)
		}
		out := transaction.Outputs[current.Index]

		payload, err := ContextualCheck(out.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
		tok := FromPayload(payload, current.TxID)
		hops = append(hops, HistoryHop{
			TxHash: current.TxID,
			Index:  current.Index,
			Token:  tok,
			Value:  out.Value,
		})

		if tok.Type() == TypeIssuance {
			return hops, nil
		}

		// Locate the input carrying the same pair.
		next, found, err := matchingTokenInput(fetcher, transaction, tok)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: no input carries (%d, %q)", ErrPrevTokenMismatch, tok.ID(), tok.Name())
		}
		current = next
	}
}

// matchingTokenInput finds the input of transaction whose prevout decodes
// to a token with the same identifier and name as tok.
func matchingTokenInput(fetcher TxFetcher, transaction *tx.Transaction, tok *Token) (types.Outpoint, bool, error) {
	for _, in := range transaction.Inputs {
		if in.PrevOut.IsZero() {
			continue
		}
		prev, _, err := fetcher.GetTransaction(in.PrevOut.TxID)
		if err != nil {
			return types.Outpoint{}, false, fmt.Errorf("%w: %s", ErrPrevTxMissing, in.PrevOut.TxID)
		}
		if int(in.PrevOut.Index) >= len(prev.Outputs) {
			continue
		}
		spk := prev.Outputs[in.PrevOut.Index].ScriptPubKey
		if !script.IsPayToToken(spk) {
			continue
		}
		payload, err := script.DecodeTokenScript(spk)
		if err != nil {
			continue
		}
		if payload.ID == tok.ID() && payload.Name == tok.Name() {
			return in.PrevOut, true, nil
		}
	}
	return types.Outpoint{}, false, nil
}
