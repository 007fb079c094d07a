package rpc

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pacprotocol/pacd/internal/token"
	"github.com/pacprotocol/pacd/internal/utxo"
	"github.com/pacprotocol/pacd/internal/wallet"
	"github.com/pacprotocol/pacd/pkg/crypto"
	"github.com/pacprotocol/pacd/pkg/script"
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/pacprotocol/pacd/pkg/types"
)

// broadcast relays an accepted transaction to peers, best effort.
func (s *Server) broadcast(transaction *tx.Transaction) {
	if s.broadcaster == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.broadcaster.BroadcastTx(ctx, transaction); err != nil {
		s.logger.Warn().Err(err).Msg("Transaction broadcast failed")
	}
}

// requireWallet rejects wallet token actions when the wallet is disabled
// or the node is still syncing.
func (s *Server) requireWallet() *Error {
	if s.wallet == nil {
		return &Error{Code: CodeWalletError, Message: "wallet disabled"}
	}
	if s.chain.IsInitialBlockDownload() {
		return &Error{
			Code:    CodeClientInInitialDownload,
			Message: "Cannot perform token action while still in Initial Block Download",
		}
	}
	return nil
}

func (s *Server) handleTokenDecode(req *Request) (interface{}, *Error) {
	var params ScriptParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Script == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "script is required"}
	}

	raw, err := hex.DecodeString(params.Script)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "script must be hex"}
	}

	payload, err := script.DecodeTokenScript(raw)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	result := &TokenDecodeResult{
		Version:    payload.Version,
		Type:       payload.Type,
		Identifier: payload.ID,
		Name:       payload.Name,
	}
	if owner, ok := payload.OwnerPubKeyHash(); ok {
		result.PubKey = owner.String()
	}
	return result, nil
}

func (s *Server) handleTokenMint(req *Request) (interface{}, *Error) {
	if rpcErr := s.requireWallet(); rpcErr != nil {
		return nil, rpcErr
	}

	var params TokenMintParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}

	owner, err := types.ParseAddress(params.Address)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid address: %v", err)}
	}

	name := script.StripControlChars(params.Name)
	if err := script.CheckTokenName(name); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid token name"}
	}

	mintReq := wallet.MintRequest{
		Owner:  owner,
		Name:   name,
		Amount: params.Amount,
	}

	// A checksum must be exactly 40 hex characters; anything else means no
	// checksum output.
	if len(params.Checksum) == 40 {
		digestBytes, err := hex.DecodeString(params.Checksum)
		if err == nil {
			var digest [crypto.Hash160Size]byte
			copy(digest[:], digestBytes)
			mintReq.Checksum = &digest
		}
	}

	transaction, _, err := s.wallet.CreateMintTransaction(s.registry, mintReq)
	if err != nil {
		return nil, &Error{Code: CodeWalletError, Message: err.Error()}
	}

	if _, err := s.pool.Add(transaction); err != nil {
		return nil, &Error{Code: CodeWalletError, Message: fmt.Sprintf("rejected: %v", err)}
	}
	s.broadcast(transaction)

	return transaction.Hash().String(), nil
}

func (s *Server) handleTokenSend(req *Request) (interface{}, *Error) {
	if rpcErr := s.requireWallet(); rpcErr != nil {
		return nil, rpcErr
	}

	var params TokenSendParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}

	dest, err := types.ParseAddress(params.Address)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid address: %v", err)}
	}

	name := script.StripControlChars(params.Name)
	if err := script.CheckTokenName(name); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid token name"}
	}

	transaction, err := s.wallet.CreateTokenTransaction(s.registry, dest, name, params.Amount)
	if err != nil {
		return nil, &Error{Code: CodeWalletError, Message: err.Error()}
	}

	if _, err := s.pool.Add(transaction); err != nil {
		return nil, &Error{Code: CodeWalletError, Message: fmt.Sprintf("rejected: %v", err)}
	}
	s.broadcast(transaction)

	return transaction.Hash().String(), nil
}

func (s *Server) handleTokenBalance(req *Request) (interface{}, *Error) {
	if s.wallet == nil {
		return nil, &Error{Code: CodeWalletError, Message: "wallet disabled"}
	}

	var params NameParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	filter := script.StripControlChars(params.Name)

	confirmed, err := s.wallet.TokenBalances(filter)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	unconfirmed, err := s.wallet.UnconfirmedTokenBalances(filter)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}

	return &TokenBalanceResult{Confirmed: confirmed, Unconfirmed: unconfirmed}, nil
}

func (s *Server) handleTokenList(req *Request) (interface{}, *Error) {
	if s.wallet == nil {
		return nil, &Error{Code: CodeWalletError, Message: "wallet disabled"}
	}

	entries, err := s.wallet.ListTokenEntries()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}

	tipHeight := s.chain.Height()
	out := make([]TokenListEntry, 0, len(entries))
	for _, e := range entries {
		height := uint64(0)
		var blockTime uint64
		if e.Confirmations > 0 && e.Confirmations <= tipHeight+1 {
			height = tipHeight - e.Confirmations + 1
			if blk, err := s.chain.GetBlockByHeight(height); err == nil {
				blockTime = blk.Header.Timestamp
			}
		}
		out = append(out, TokenListEntry{
			Token:         e.Name,
			Address:       e.Address.String(),
			Category:      e.Category,
			Amount:        e.Amount,
			Confirmations: e.Confirmations,
			Time:          blockTime,
			Block:         height,
			Outpoint:      e.Outpoint.String(),
		})
	}
	return out, nil
}

func (s *Server) handleTokenUnspent(req *Request) (interface{}, *Error) {
	if s.wallet == nil {
		return nil, &Error{Code: CodeWalletError, Message: "wallet disabled"}
	}

	entries, err := s.wallet.ListTokenEntries()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}

	out := make([]TokenUnspentEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, TokenUnspentEntry{
			Token:  e.Name,
			Data:   e.Outpoint.String(),
			Amount: e.Amount,
		})
	}
	return out, nil
}

func (s *Server) handleTokenIssuances(req *Request) (interface{}, *Error) {
	issuances := make(map[string]TokenIssuanceInfo)
	for _, tok := range s.registry.Snapshot() {
		issuances[tok.Name()] = TokenIssuanceInfo{
			Version:    fmt.Sprintf("%02x", tok.Version()),
			Type:       fmt.Sprintf("%04x", uint16(tok.Type())),
			Identifier: fmt.Sprintf("%016x", tok.ID()),
			OriginTx:   tok.OriginTx().String(),
		}
	}
	return issuances, nil
}

// originOutputs finds the issuance output and optional checksum digest of
// a registered token.
func (s *Server) originOutputs(tok *token.Token) (*script.TokenPayload, uint64, string, error) {
	origin, _, err := s.chain.GetTransaction(tok.OriginTx())
	if err != nil {
		return nil, 0, "", fmt.Errorf("origin tx %s: %w", tok.OriginTx(), err)
	}

	var payload *script.TokenPayload
	var supply uint64
	var checksum string
	for _, out := range origin.Outputs {
		if script.IsChecksumData(out.ScriptPubKey) {
			digest, err := script.DecodeChecksumScript(out.ScriptPubKey)
			if err == nil {
				checksum = hex.EncodeToString(digest[:])
			}
			continue
		}
		if !out.IsTokenOutput() {
			continue
		}
		p, err := script.DecodeTokenScript(out.ScriptPubKey)
		if err != nil || p.ID != tok.ID() {
			continue
		}
		payload = p
		supply = out.Value
	}
	if payload == nil {
		return nil, 0, "", fmt.Errorf("origin output of %q not found", tok.Name())
	}
	return payload, supply, checksum, nil
}

func (s *Server) handleTokenInfo(req *Request) (interface{}, *Error) {
	var params NameParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}

	tok, ok := s.registry.LookupByName(script.StripControlChars(params.Name))
	if !ok {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("token %q not found", params.Name)}
	}

	payload, supply, checksum, err := s.originOutputs(tok)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}

	entry := TokenInfoEntry{
		Version:    tok.Version(),
		Type:       uint16(tok.Type()),
		Identifier: tok.ID(),
		Origin: TokenOrigin{
			Tx:        tok.OriginTx().String(),
			MaxSupply: supply,
		},
		Checksum: checksum,
	}
	if owner, ok := payload.OwnerPubKeyHash(); ok {
		entry.Origin.Address = owner.String()
	}

	return map[string]TokenInfoEntry{tok.Name(): entry}, nil
}

func (s *Server) handleTokenChecksum(req *Request) (interface{}, *Error) {
	var params NameParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}

	tok, ok := s.registry.LookupByName(script.StripControlChars(params.Name))
	if !ok {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("token %q not found", params.Name)}
	}

	_, _, checksum, err := s.originOutputs(tok)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	if checksum == "" {
		return nil, nil
	}
	return checksum, nil
}

func (s *Server) handleTokenHistory(req *Request) (interface{}, *Error) {
	var params NameParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	name := script.StripControlChars(params.Name)

	tok, ok := s.registry.LookupByName(name)
	if !ok {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("token %q not found", name)}
	}

	// Most recent colored UTXO of this pair: the highest-confirmed one.
	start, found, err := s.newestColoredOutpoint(tok)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	if !found {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("no unspent output for %q", name)}
	}

	hops, err := s.indexer.TraceHistory(s.chain, start)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}

	out := make([]TokenHistoryEntry, 0, len(hops))
	for _, hop := range hops {
		out = append(out, TokenHistoryEntry{
			TxID:   hop.TxHash.String(),
			Index:  hop.Index,
			Type:   hop.Token.Type().String(),
			Amount: hop.Value,
		})
	}
	return out, nil
}

// newestColoredOutpoint scans the UTXO set for the most recently
// confirmed colored output of the token's pair.
func (s *Server) newestColoredOutpoint(tok *token.Token) (types.Outpoint, bool, error) {
	var best types.Outpoint
	var bestHeight uint64
	found := false

	err := s.utxos.ForEach(func(op types.Outpoint, coin *utxo.Coin) error {
		spk := coin.Out.ScriptPubKey
		if !script.IsPayToToken(spk) {
			return nil
		}
		payload, err := script.DecodeTokenScript(spk)
		if err != nil || payload.ID != tok.ID() || payload.Name != tok.Name() {
			return nil
		}
		if !found || coin.Height >= bestHeight {
			best = op
			bestHeight = coin.Height
			found = true
		}
		return nil
	})
	if err != nil {
		return types.Outpoint{}, false, err
	}
	return best, found, nil
}

func (s *Server) handleTokenRebuild(req *Request) (interface{}, *Error) {
	// Pin the tip for the duration of the rescan.
	s.chain.Lock()
	defer s.chain.Unlock()

	if err := s.indexer.Rebuild(nil); err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return nil, nil
}
