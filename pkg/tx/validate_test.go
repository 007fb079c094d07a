package tx

import (
	"errors"
	"testing"

	"github.com/pacprotocol/pacd/pkg/crypto"
)

func TestValidate_Structure(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *Transaction
		wantErr error
	}{
		{
			name: "no inputs",
			build: func() *Transaction {
				return NewBuilder().AddOutput(1, p2pkhScript(0xaa)).Build()
			},
			wantErr: ErrNoInputs,
		},
		{
			name: "no outputs",
			build: func() *Transaction {
				return NewBuilder().AddInput(outpoint(0x01, 0)).Build()
			},
			wantErr: ErrNoOutputs,
		},
		{
			name: "duplicate input",
			build: func() *Transaction {
				return NewBuilder().
					AddInput(outpoint(0x01, 0)).
					AddInput(outpoint(0x01, 0)).
					AddOutput(1, p2pkhScript(0xaa)).
					Build()
			},
			wantErr: ErrDuplicateInput,
		},
		{
			name: "missing pubkey",
			build: func() *Transaction {
				return NewBuilder().
					AddInput(outpoint(0x01, 0)).
					AddOutput(1, p2pkhScript(0xaa)).
					Build()
			},
			wantErr: ErrMissingPubKey,
		},
		{
			name: "zero output",
			build: func() *Transaction {
				tr := NewBuilder().
					AddInput(outpoint(0x01, 0)).
					AddOutput(0, p2pkhScript(0xaa)).
					Build()
				tr.Inputs[0].PubKey = []byte{0x01}
				tr.Inputs[0].Signature = []byte{0x02}
				return tr
			},
			wantErr: ErrZeroOutput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_SignedOK(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	b := NewBuilder().
		AddInput(outpoint(0x01, 0)).
		AddOutput(100, p2pkhScript(0xaa))
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	transaction := b.Build()

	if err := transaction.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := transaction.VerifySignatures(); err != nil {
		t.Fatalf("VerifySignatures: %v", err)
	}
}

func TestVerifySignatures_Tampered(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	b := NewBuilder().
		AddInput(outpoint(0x01, 0)).
		AddOutput(100, p2pkhScript(0xaa))
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	transaction := b.Build()

	// Mutating an output invalidates the signature.
	transaction.Outputs[0].Value = 200
	if err := transaction.VerifySignatures(); !errors.Is(err, ErrInvalidSig) {
		t.Errorf("VerifySignatures = %v, want %v", err, ErrInvalidSig)
	}
}
