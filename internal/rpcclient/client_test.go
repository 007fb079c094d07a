package rpcclient

import (
	"encoding/json"
	"testing"

	"github.com/pacprotocol/pacd/config"
	"github.com/pacprotocol/pacd/internal/chain"
	klog "github.com/pacprotocol/pacd/internal/log"
	"github.com/pacprotocol/pacd/internal/mempool"
	"github.com/pacprotocol/pacd/internal/rpc"
	"github.com/pacprotocol/pacd/internal/storage"
	"github.com/pacprotocol/pacd/internal/token"
	"github.com/pacprotocol/pacd/internal/utxo"
)

func setupServer(t *testing.T) *Client {
	t.Helper()

	params := config.RegTestParams()
	db := storage.NewMemory()
	utxoStore := utxo.NewStore(db)

	store := chain.NewBlockStore(db)
	ch, err := chain.New(store, utxoStore, params)
	if err != nil {
		t.Fatalf("create chain: %v", err)
	}

	registry := token.NewRegistry(db)
	validator := token.NewValidator(registry, ch, params)
	indexer := token.NewIndexer(ch, validator, klog.WithComponent("token"))
	ch.SetTokenIndexer(indexer)

	if err := ch.InitFromGenesis(); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	pool := mempool.New(ch.UTXOProvider(), 1000)
	pool.SetTokenValidator(validator, ch)

	srv := rpc.New("127.0.0.1:0", ch, utxoStore, pool, registry, indexer, params)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return New("http://" + srv.Addr() + "/")
}

func TestClient_GetInfo(t *testing.T) {
	client := setupServer(t)

	var result rpc.InfoResult
	if err := client.Call("getinfo", nil, &result); err != nil {
		t.Fatalf("Call error: %v", err)
	}

	if result.Height != 0 {
		t.Errorf("height = %d, want 0", result.Height)
	}
	if result.TipHash == "" {
		t.Error("tiphash is empty")
	}
	if result.Issuances != 0 {
		t.Errorf("issuances = %d, want 0", result.Issuances)
	}
}

func TestClient_GetBlock(t *testing.T) {
	client := setupServer(t)

	var raw json.RawMessage
	if err := client.Call("getblock", rpc.HeightParam{Height: 0}, &raw); err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("empty block result")
	}
}

func TestClient_MethodNotFound(t *testing.T) {
	client := setupServer(t)

	err := client.Call("no_such_method", nil, nil)
	if err == nil {
		t.Fatal("expected error for unknown method")
	}
	if _, ok := err.(*RPCError); !ok {
		t.Fatalf("error type = %T, want *RPCError", err)
	}
}
