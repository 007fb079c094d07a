package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pacprotocol/pacd/config"
	"github.com/pacprotocol/pacd/pkg/block"
	"github.com/pacprotocol/pacd/pkg/script"
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/pacprotocol/pacd/pkg/types"
)

// parseParams decodes request params into a typed struct.
func parseParams(req *Request, out interface{}) *Error {
	if req.Params == nil {
		return nil
	}
	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

func (s *Server) handleGetInfo(req *Request) (interface{}, *Error) {
	return &InfoResult{
		Network:   string(s.params.Network),
		Height:    s.chain.Height(),
		TipHash:   s.chain.TipHash().String(),
		Mempool:   s.pool.Count(),
		Issuances: s.registry.Size(),
		IBD:       s.chain.IsInitialBlockDownload(),
	}, nil
}

func (s *Server) handleGetBlock(req *Request) (interface{}, *Error) {
	var params HeightParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	blk, err := s.chain.GetBlockByHeight(params.Height)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("block not found: %v", err)}
	}
	return blk, nil
}

func (s *Server) handleGetTransaction(req *Request) (interface{}, *Error) {
	var params HashParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	txHash, decErr := types.HexToHash(params.Hash)
	if decErr != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid hash: must be 32-byte hex"}
	}

	// Check mempool first.
	if t := s.pool.Get(txHash); t != nil {
		return t, nil
	}

	t, _, err := s.chain.GetTransaction(txHash)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: "transaction not found"}
	}
	return t, nil
}

func (s *Server) handleSendRawTransaction(req *Request) (interface{}, *Error) {
	var params RawTxParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}

	var transaction tx.Transaction
	if err := json.Unmarshal([]byte(params.Hex), &transaction); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid transaction: %v", err)}
	}

	if _, err := s.pool.Add(&transaction); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("rejected: %v", err)}
	}
	s.broadcast(&transaction)

	return &TxIDResult{TxID: transaction.Hash().String()}, nil
}

func (s *Server) handleGetNewAddress(req *Request) (interface{}, *Error) {
	if s.wallet == nil {
		return nil, &Error{Code: CodeWalletError, Message: "wallet disabled"}
	}
	addr, err := s.wallet.NewAddress()
	if err != nil {
		return nil, &Error{Code: CodeWalletError, Message: err.Error()}
	}
	return addr.String(), nil
}

// handleGenerate assembles and connects blocks locally, paying the
// coinbase to the given (or a fresh wallet) address. Testnet only; it
// exists so a node without external block producers can advance its chain.
func (s *Server) handleGenerate(req *Request) (interface{}, *Error) {
	if s.params.Network != config.Testnet {
		return nil, &Error{Code: CodeInvalidRequest, Message: "generate is only available on testnet"}
	}

	var params GenerateParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Blocks == 0 {
		params.Blocks = 1
	}

	var coinbaseAddr types.Address
	if params.Address != "" {
		parsed, err := types.ParseAddress(params.Address)
		if err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid address: %v", err)}
		}
		coinbaseAddr = parsed
	} else if s.wallet != nil {
		addr, err := s.wallet.NewAddress()
		if err != nil {
			return nil, &Error{Code: CodeWalletError, Message: err.Error()}
		}
		coinbaseAddr = addr
	} else {
		return nil, &Error{Code: CodeInvalidParams, Message: "address required without a wallet"}
	}

	var hashes []string
	for i := uint64(0); i < params.Blocks; i++ {
		blk := s.assembleBlock(coinbaseAddr)
		if err := s.chain.ProcessBlock(blk); err != nil {
			return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("connect block: %v", err)}
		}
		s.pool.RemoveConfirmed(blk.Transactions)
		hashes = append(hashes, blk.Hash().String())
	}
	return hashes, nil
}

// assembleBlock builds the next block from the mempool.
func (s *Server) assembleBlock(coinbaseAddr types.Address) *block.Block {
	height := s.chain.Height() + 1

	coinbase := &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{{
			PrevOut: types.Outpoint{},
			Signature: []byte{
				byte(height), byte(height >> 8), byte(height >> 16), byte(height >> 24),
			},
		}},
		Outputs: []tx.Output{{
			Value:        s.params.BlockReward,
			ScriptPubKey: script.PayToPubKeyHash(coinbaseAddr),
		}},
	}

	txs := append([]*tx.Transaction{coinbase}, s.pool.SelectForBlock(config.MaxBlockTxs-1)...)

	// Canonical order: coinbase first, the rest sorted by hash.
	rest := txs[1:]
	sort.Slice(rest, func(i, j int) bool {
		hi, hj := rest[i].Hash(), rest[j].Hash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})

	hashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}

	header := &block.Header{
		Version:    1,
		PrevHash:   s.chain.TipHash(),
		MerkleRoot: block.ComputeMerkleRoot(hashes),
		Timestamp:  uint64(time.Now().Unix()),
		Height:     height,
	}
	return block.NewBlock(header, txs)
}
