// Package rpc implements the JSON-RPC 2.0 API server, including the token
// command namespace.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pacprotocol/pacd/config"
	"github.com/pacprotocol/pacd/internal/chain"
	klog "github.com/pacprotocol/pacd/internal/log"
	"github.com/pacprotocol/pacd/internal/mempool"
	"github.com/pacprotocol/pacd/internal/token"
	"github.com/pacprotocol/pacd/internal/utxo"
	"github.com/pacprotocol/pacd/internal/wallet"
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// Broadcaster publishes accepted transactions to peers.
type Broadcaster interface {
	BroadcastTx(ctx context.Context, transaction *tx.Transaction) error
}

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr        string
	chain       *chain.Chain
	utxos       *utxo.Store
	pool        *mempool.Pool
	registry    *token.Registry
	indexer     *token.Indexer
	wallet      *wallet.Wallet // nil = wallet RPC disabled
	broadcaster Broadcaster    // nil = no relay
	params      *config.Params

	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
}

// New creates a new RPC server.
func New(addr string, ch *chain.Chain, utxos *utxo.Store, pool *mempool.Pool,
	registry *token.Registry, indexer *token.Indexer, params *config.Params,
	rpcCfg ...config.RPCConfig) *Server {

	s := &Server{
		addr:     addr,
		chain:    ch,
		utxos:    utxos,
		pool:     pool,
		registry: registry,
		indexer:  indexer,
		params:   params,
		logger:   klog.WithComponent("rpc"),
	}

	if len(rpcCfg) > 0 {
		s.allowedNets = parseAllowedIPs(rpcCfg[0].AllowedIPs)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// Token rebuild rescans the whole chain and is intentionally
		// long-running.
		WriteTimeout: 10 * time.Minute,
	}

	return s
}

// SetWallet enables the wallet-backed token commands.
func (s *Server) SetWallet(w *wallet.Wallet) {
	s.wallet = w
}

// SetBroadcaster wires transaction relay for tokenmint/tokensend.
func (s *Server) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		// Try as a single IP (add /32 or /128).
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	// IP filtering.
	if len(s.allowedNets) > 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ip := net.ParseIP(host)
		if ip == nil || !s.isIPAllowed(ip) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	result, rpcErr := s.dispatch(&req)
	if rpcErr != nil {
		writeJSON(w, Response{
			JSONRPC: "2.0",
			Error:   rpcErr,
			ID:      req.ID,
		})
		return
	}

	writeJSON(w, Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(req *Request) (interface{}, *Error) {
	switch req.Method {
	case "getinfo":
		return s.handleGetInfo(req)
	case "getblock":
		return s.handleGetBlock(req)
	case "gettransaction":
		return s.handleGetTransaction(req)
	case "sendrawtransaction":
		return s.handleSendRawTransaction(req)
	case "generate":
		return s.handleGenerate(req)
	case "getnewaddress":
		return s.handleGetNewAddress(req)
	case "tokendecode":
		return s.handleTokenDecode(req)
	case "tokenmint":
		return s.handleTokenMint(req)
	case "tokensend":
		return s.handleTokenSend(req)
	case "tokenbalance":
		return s.handleTokenBalance(req)
	case "tokenlist":
		return s.handleTokenList(req)
	case "tokenunspent":
		return s.handleTokenUnspent(req)
	case "tokenissuances":
		return s.handleTokenIssuances(req)
	case "tokeninfo":
		return s.handleTokenInfo(req)
	case "tokenchecksum":
		return s.handleTokenChecksum(req)
	case "tokenhistory":
		return s.handleTokenHistory(req)
	case "tokenrebuild":
		return s.handleTokenRebuild(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
