package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/pacprotocol/pacd/config"
	"github.com/pacprotocol/pacd/internal/chain"
	klog "github.com/pacprotocol/pacd/internal/log"
	"github.com/pacprotocol/pacd/internal/mempool"
	"github.com/pacprotocol/pacd/internal/storage"
	"github.com/pacprotocol/pacd/internal/token"
	"github.com/pacprotocol/pacd/internal/utxo"
	"github.com/pacprotocol/pacd/internal/wallet"
	"github.com/pacprotocol/pacd/pkg/script"
	"github.com/pacprotocol/pacd/pkg/types"
)

// rpcEnv is a full node stack behind a live RPC listener.
type rpcEnv struct {
	url      string
	ch       *chain.Chain
	registry *token.Registry
	wlt      *wallet.Wallet
	addr     types.Address
}

func newRPCEnv(t *testing.T) *rpcEnv {
	t.Helper()

	params := config.RegTestParams()
	db := storage.NewMemory()
	utxoStore := utxo.NewStore(db)

	ch, err := chain.New(chain.NewBlockStore(db), utxoStore, params)
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}
	registry := token.NewRegistry(db)
	validator := token.NewValidator(registry, ch, params)
	indexer := token.NewIndexer(ch, validator, klog.WithComponent("token"))
	ch.SetTokenIndexer(indexer)
	if err := ch.InitFromGenesis(); err != nil {
		t.Fatalf("InitFromGenesis: %v", err)
	}

	pool := mempool.New(ch.UTXOProvider(), 100)
	pool.SetTokenValidator(validator, ch)
	validator.SetPoolRemover(pool)

	wlt := wallet.New(ch, utxoStore, pool)
	addr, err := wlt.NewAddress()
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}

	srv := New("127.0.0.1:0", ch, utxoStore, pool, registry, indexer, params)
	srv.SetWallet(wlt)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &rpcEnv{
		url:      "http://" + srv.Addr() + "/",
		ch:       ch,
		registry: registry,
		wlt:      wlt,
		addr:     addr,
	}
}

// call performs a JSON-RPC request and decodes the result. A non-nil
// returned Error is the RPC-level error.
func (e *rpcEnv) call(t *testing.T, method string, params, result interface{}) *Error {
	t.Helper()

	req := Request{JSONRPC: "2.0", Method: method, Params: params, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(e.url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			t.Fatalf("decode result: %v", err)
		}
	}
	return nil
}

// fund mines maturity+1 blocks to the wallet address via generate.
func (e *rpcEnv) fund(t *testing.T) {
	t.Helper()
	var hashes []string
	if rpcErr := e.call(t, "generate",
		GenerateParam{Blocks: config.CoinbaseMaturity + 1, Address: e.addr.String()}, &hashes); rpcErr != nil {
		t.Fatalf("generate: %v", rpcErr.Message)
	}
}

func TestRPC_GetInfo(t *testing.T) {
	e := newRPCEnv(t)

	var info InfoResult
	if rpcErr := e.call(t, "getinfo", nil, &info); rpcErr != nil {
		t.Fatalf("getinfo: %v", rpcErr.Message)
	}
	if info.Height != 0 || info.Issuances != 0 {
		t.Errorf("info = %+v", info)
	}
}

func TestRPC_TokenDecode(t *testing.T) {
	e := newRPCEnv(t)

	spk, err := script.BuildTokenScript(
		script.CurrentTokenVersion, script.WireTypeIssuance, 17, "FOO",
		script.PayToPubKeyHash(e.addr))
	if err != nil {
		t.Fatalf("BuildTokenScript: %v", err)
	}

	var result TokenDecodeResult
	if rpcErr := e.call(t, "tokendecode", ScriptParam{Script: spk.String()}, &result); rpcErr != nil {
		t.Fatalf("tokendecode: %v", rpcErr.Message)
	}
	if result.Version != 1 || result.Type != 1 || result.Identifier != 17 || result.Name != "FOO" {
		t.Errorf("decode = %+v", result)
	}
	if result.PubKey != e.addr.String() {
		t.Errorf("pubkey = %q, want %q", result.PubKey, e.addr.String())
	}

	if rpcErr := e.call(t, "tokendecode", ScriptParam{Script: "00ff"}, nil); rpcErr == nil {
		t.Error("expected error for a non-token script")
	}
}

func TestRPC_MintFlow(t *testing.T) {
	e := newRPCEnv(t)
	e.fund(t)

	// Successful mint: txid comes back and a block confirms it.
	var txid string
	if rpcErr := e.call(t, "tokenmint",
		TokenMintParam{Address: e.addr.String(), Name: "FOO", Amount: 100}, &txid); rpcErr != nil {
		t.Fatalf("tokenmint: %v", rpcErr.Message)
	}
	if txid == "" {
		t.Fatal("empty txid")
	}

	var hashes []string
	if rpcErr := e.call(t, "generate", GenerateParam{Blocks: 1, Address: e.addr.String()}, &hashes); rpcErr != nil {
		t.Fatalf("generate: %v", rpcErr.Message)
	}

	// The registry now lists the issuance with the first identifier.
	var issuances map[string]TokenIssuanceInfo
	if rpcErr := e.call(t, "tokenissuances", nil, &issuances); rpcErr != nil {
		t.Fatalf("tokenissuances: %v", rpcErr.Message)
	}
	info, ok := issuances["FOO"]
	if !ok {
		t.Fatalf("FOO missing from issuances: %v", issuances)
	}
	if info.Identifier != "0000000000000011" { // 17 in hex
		t.Errorf("identifier = %q, want 0000000000000011", info.Identifier)
	}

	// Duplicate name is rejected at admission.
	rpcErr := e.call(t, "tokenmint",
		TokenMintParam{Address: e.addr.String(), Name: "FOO", Amount: 50}, nil)
	if rpcErr == nil {
		t.Fatal("duplicate mint accepted")
	}

	// Balance reports the confirmed issuance amount.
	var balance TokenBalanceResult
	if rpcErr := e.call(t, "tokenbalance", NameParam{Name: "FOO"}, &balance); rpcErr != nil {
		t.Fatalf("tokenbalance: %v", rpcErr.Message)
	}
	if balance.Confirmed["FOO"] != 100 {
		t.Errorf("confirmed FOO = %d, want 100", balance.Confirmed["FOO"])
	}
}

func TestRPC_SendFlow(t *testing.T) {
	e := newRPCEnv(t)
	e.fund(t)

	var txid string
	if rpcErr := e.call(t, "tokenmint",
		TokenMintParam{Address: e.addr.String(), Name: "FOO", Amount: 100}, &txid); rpcErr != nil {
		t.Fatalf("tokenmint: %v", rpcErr.Message)
	}
	if rpcErr := e.call(t, "generate", GenerateParam{Blocks: 1, Address: e.addr.String()}, nil); rpcErr != nil {
		t.Fatalf("generate: %v", rpcErr.Message)
	}

	dest, err := e.wlt.NewAddress()
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	var sendTxid string
	if rpcErr := e.call(t, "tokensend",
		TokenSendParam{Address: dest.String(), Name: "FOO", Amount: 30}, &sendTxid); rpcErr != nil {
		t.Fatalf("tokensend: %v", rpcErr.Message)
	}
	if rpcErr := e.call(t, "generate", GenerateParam{Blocks: 1, Address: e.addr.String()}, nil); rpcErr != nil {
		t.Fatalf("generate: %v", rpcErr.Message)
	}

	// History traces the newest colored output (one of the send's two
	// outputs) back to the issuance.
	var history []TokenHistoryEntry
	if rpcErr := e.call(t, "tokenhistory", NameParam{Name: "FOO"}, &history); rpcErr != nil {
		t.Fatalf("tokenhistory: %v", rpcErr.Message)
	}
	if len(history) != 2 {
		t.Fatalf("history hops = %d, want 2", len(history))
	}
	if history[0].Type != "transfer" || history[1].Type != "issuance" {
		t.Errorf("history = %+v", history)
	}
	if history[0].TxID != sendTxid {
		t.Errorf("most recent hop = %s, want %s", history[0].TxID, sendTxid)
	}

	// tokenunspent reports both colored outputs.
	var unspent []TokenUnspentEntry
	if rpcErr := e.call(t, "tokenunspent", nil, &unspent); rpcErr != nil {
		t.Fatalf("tokenunspent: %v", rpcErr.Message)
	}
	var sum uint64
	for _, u := range unspent {
		if u.Token == "FOO" {
			sum += u.Amount
		}
	}
	if sum != 100 {
		t.Errorf("unspent FOO sum = %d, want 100", sum)
	}
}

func TestRPC_TokenInfoAndChecksum(t *testing.T) {
	e := newRPCEnv(t)
	e.fund(t)

	checksum := strings.Repeat("ab", 20)
	var txid string
	if rpcErr := e.call(t, "tokenmint",
		TokenMintParam{Address: e.addr.String(), Name: "FOO", Amount: 100, Checksum: checksum}, &txid); rpcErr != nil {
		t.Fatalf("tokenmint: %v", rpcErr.Message)
	}
	if rpcErr := e.call(t, "generate", GenerateParam{Blocks: 1, Address: e.addr.String()}, nil); rpcErr != nil {
		t.Fatalf("generate: %v", rpcErr.Message)
	}

	var info map[string]TokenInfoEntry
	if rpcErr := e.call(t, "tokeninfo", NameParam{Name: "FOO"}, &info); rpcErr != nil {
		t.Fatalf("tokeninfo: %v", rpcErr.Message)
	}
	entry, ok := info["FOO"]
	if !ok {
		t.Fatalf("FOO missing from tokeninfo: %v", info)
	}
	if entry.Identifier != 17 || entry.Origin.Tx != txid {
		t.Errorf("tokeninfo entry = %+v", entry)
	}
	if entry.Checksum != checksum {
		t.Errorf("checksum = %q, want %q", entry.Checksum, checksum)
	}

	var digest string
	if rpcErr := e.call(t, "tokenchecksum", NameParam{Name: "FOO"}, &digest); rpcErr != nil {
		t.Fatalf("tokenchecksum: %v", rpcErr.Message)
	}
	if digest != checksum {
		t.Errorf("tokenchecksum = %q, want %q", digest, checksum)
	}
}

func TestRPC_TokenRebuild(t *testing.T) {
	e := newRPCEnv(t)
	e.fund(t)

	for _, name := range []string{"FOO", "BAR", "BAZ"} {
		var txid string
		if rpcErr := e.call(t, "tokenmint",
			TokenMintParam{Address: e.addr.String(), Name: name, Amount: 10}, &txid); rpcErr != nil {
			t.Fatalf("tokenmint %s: %v", name, rpcErr.Message)
		}
		if rpcErr := e.call(t, "generate", GenerateParam{Blocks: 1, Address: e.addr.String()}, nil); rpcErr != nil {
			t.Fatalf("generate: %v", rpcErr.Message)
		}
	}

	if rpcErr := e.call(t, "tokenrebuild", nil, nil); rpcErr != nil {
		t.Fatalf("tokenrebuild: %v", rpcErr.Message)
	}

	snap := e.registry.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("registry size = %d after rebuild, want 3", len(snap))
	}
	for i, want := range []struct {
		id   uint64
		name string
	}{{17, "FOO"}, {18, "BAR"}, {19, "BAZ"}} {
		if snap[i].ID() != want.id || snap[i].Name() != want.name {
			t.Errorf("entry %d = (%d, %q), want (%d, %q)",
				i, snap[i].ID(), snap[i].Name(), want.id, want.name)
		}
	}
}

func TestRPC_IBDGuard(t *testing.T) {
	e := newRPCEnv(t)
	e.fund(t)
	e.ch.SetInitialBlockDownload(true)

	rpcErr := e.call(t, "tokenmint",
		TokenMintParam{Address: e.addr.String(), Name: "FOO", Amount: 100}, nil)
	if rpcErr == nil || rpcErr.Code != CodeClientInInitialDownload {
		t.Errorf("tokenmint during IBD = %+v, want code %d", rpcErr, CodeClientInInitialDownload)
	}
}
