package node

import (
	"testing"

	"github.com/pacprotocol/pacd/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default(config.Testnet)
	cfg.DataDir = t.TempDir()
	cfg.P2P.Enabled = false
	cfg.RPC.Enabled = false
	cfg.Wallet.Enabled = false
	cfg.Log.Level = "error"
	return cfg
}

func TestNode_StartStop(t *testing.T) {
	n, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	n.Stop()
}

func TestNode_RestartKeepsChain(t *testing.T) {
	cfg := testConfig(t)

	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tip := n.ch.TipHash()
	n.Stop()

	reopened, err := New(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Stop()

	if reopened.ch.TipHash() != tip {
		t.Errorf("tip after restart = %s, want %s", reopened.ch.TipHash(), tip)
	}
}
