package token

import (
	"errors"
	"testing"

	"github.com/pacprotocol/pacd/pkg/script"
	"github.com/pacprotocol/pacd/pkg/tx"
	"github.com/pacprotocol/pacd/pkg/types"
)

func TestTraceHistory_FollowsMatchingInput(t *testing.T) {
	fetcher := newFakeFetcher()

	// Issuances for two distinct tokens.
	mintFoo := &tx.Transaction{Version: 1, Outputs: []tx.Output{
		tokenOut(t, script.WireTypeIssuance, 17, "FOO", 100),
	}}
	mintBar := &tx.Transaction{Version: 1, Outputs: []tx.Output{
		tokenOut(t, script.WireTypeIssuance, 18, "BAR", 50),
	}}
	fooHash := fetcher.put(mintFoo)
	barHash := fetcher.put(mintBar)

	// A transfer whose first input carries BAR and second carries FOO.
	// The walk must pick the input matching the traced pair, not simply
	// the first input.
	transfer := &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{
			{PrevOut: types.Outpoint{TxID: barHash, Index: 0}},
			{PrevOut: types.Outpoint{TxID: fooHash, Index: 0}},
		},
		Outputs: []tx.Output{
			tokenOut(t, script.WireTypeTransfer, 17, "FOO", 100),
		},
	}
	transferHash := fetcher.put(transfer)

	ix := &Indexer{}
	hops, err := ix.TraceHistory(fetcher, types.Outpoint{TxID: transferHash, Index: 0})
	if err != nil {
		t.Fatalf("TraceHistory: %v", err)
	}

	if len(hops) != 2 {
		t.Fatalf("hops = %d, want 2", len(hops))
	}
	if hops[0].TxHash != transferHash || hops[0].Token.Type() != TypeTransfer {
		t.Errorf("hop 0 = %+v", hops[0])
	}
	if hops[1].TxHash != fooHash || hops[1].Token.Type() != TypeIssuance {
		t.Errorf("hop 1 traced to %s, want the FOO issuance %s", hops[1].TxHash, fooHash)
	}
}

func TestTraceHistory_NoMatchingInput(t *testing.T) {
	fetcher := newFakeFetcher()

	mintBar := &tx.Transaction{Version: 1, Outputs: []tx.Output{
		tokenOut(t, script.WireTypeIssuance, 18, "BAR", 50),
	}}
	barHash := fetcher.put(mintBar)

	// A transfer claiming FOO with only a BAR input behind it.
	orphan := &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{
			{PrevOut: types.Outpoint{TxID: barHash, Index: 0}},
		},
		Outputs: []tx.Output{
			tokenOut(t, script.WireTypeTransfer, 17, "FOO", 100),
		},
	}
	orphanHash := fetcher.put(orphan)

	ix := &Indexer{}
	_, err := ix.TraceHistory(fetcher, types.Outpoint{TxID: orphanHash, Index: 0})
	if !errors.Is(err, ErrPrevTokenMismatch) {
		t.Errorf("TraceHistory = %v, want %v", err, ErrPrevTokenMismatch)
	}
}
