package chain

import (
	"fmt"

	"github.com/pacprotocol/pacd/internal/utxo"
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/pacprotocol/pacd/pkg/types"
)

// liveView adapts the UTXO store to the coin view interface.
type liveView struct {
	utxos *utxo.Store
}

// AccessCoin resolves a coin from the live UTXO set.
func (v *liveView) AccessCoin(op types.Outpoint) (*utxo.Coin, error) {
	return v.utxos.AccessCoin(op)
}

// LiveView returns a coin view over the current UTXO set.
func (c *Chain) LiveView() utxo.View {
	return &liveView{utxos: c.utxos}
}

// historicalView resolves coins of already connected transactions through
// the transaction index, regardless of later spends. The token indexer
// uses it to replay historical blocks whose inputs are long gone from the
// live UTXO set.
type historicalView struct {
	store *BlockStore
	chain *Chain
}

// AccessCoin reconstructs a coin from the indexed transaction that
// created it.
func (v *historicalView) AccessCoin(op types.Outpoint) (*utxo.Coin, error) {
	transaction, _, err := v.chain.GetTransaction(op.TxID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", utxo.ErrCoinNotFound, op)
	}
	if int(op.Index) >= len(transaction.Outputs) {
		return nil, fmt.Errorf("%w: %s", utxo.ErrCoinNotFound, op)
	}
	height, _, err := v.store.GetTxLocation(op.TxID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", utxo.ErrCoinNotFound, op)
	}
	return &utxo.Coin{
		Out:      transaction.Outputs[op.Index],
		Height:   height,
		Coinbase: transaction.IsCoinbase(),
	}, nil
}

// HistoricalView implements token.ChainReader.
func (c *Chain) HistoricalView() utxo.View {
	return &historicalView{store: c.store, chain: c}
}

// utxoProvider adapts the UTXO store to tx.UTXOProvider.
type utxoProvider struct {
	utxos *utxo.Store
}

func (p *utxoProvider) GetUTXO(op types.Outpoint) (uint64, types.Script, error) {
	coin, err := p.utxos.AccessCoin(op)
	if err != nil {
		return 0, nil, err
	}
	return coin.Out.Value, coin.Out.ScriptPubKey, nil
}

func (p *utxoProvider) HasUTXO(op types.Outpoint) bool {
	has, _ := p.utxos.Has(op)
	return has
}

// UTXOProvider returns a tx.UTXOProvider over the live UTXO set.
func (c *Chain) UTXOProvider() tx.UTXOProvider {
	return &utxoProvider{utxos: c.utxos}
}
