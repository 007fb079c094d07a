// Package block defines block types and validation.
package block

import (
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/pacprotocol/pacd/pkg/types"
)

// Block represents a block in the chain.
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// NewBlock creates a new block with the given header and transactions.
func NewBlock(header *Header, txs []*tx.Transaction) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}

// TxHashes returns the hashes of all transactions in block order.
func (b *Block) TxHashes() []types.Hash {
	hashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		hashes[i] = t.Hash()
	}
	return hashes
}

// FindTransaction returns the transaction with the given hash, if present.
func (b *Block) FindTransaction(hash types.Hash) (*tx.Transaction, bool) {
	for _, t := range b.Transactions {
		if t.Hash() == hash {
			return t, true
		}
	}
	return nil, false
}
