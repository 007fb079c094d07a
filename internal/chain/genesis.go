package chain

import (
	"github.com/pacprotocol/pacd/config"
	"github.com/pacprotocol/pacd/pkg/block"
	"github.com/pacprotocol/pacd/pkg/script"
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/pacprotocol/pacd/pkg/types"
)

// genesisTimestamp pins the genesis block time per network.
func genesisTimestamp(params *config.Params) uint64 {
	if params.Network == config.Testnet {
		return 1617000001
	}
	return 1617000000
}

// CreateGenesisBlock builds the deterministic genesis block. Its single
// coinbase output is unspendable (all-zero pubkey hash).
func CreateGenesisBlock(params *config.Params) *block.Block {
	coinbase := &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{{
			PrevOut:   types.Outpoint{},
			Signature: []byte("pacprotocol genesis"),
		}},
		Outputs: []tx.Output{{
			Value:        params.BlockReward,
			ScriptPubKey: script.PayToPubKeyHash(types.Address{}),
		}},
	}

	header := &block.Header{
		Version:    1,
		PrevHash:   types.Hash{},
		MerkleRoot: block.ComputeMerkleRoot([]types.Hash{coinbase.Hash()}),
		Timestamp:  genesisTimestamp(params),
		Height:     0,
	}
	return block.NewBlock(header, []*tx.Transaction{coinbase})
}
