package token

import (
	"errors"
	"testing"

	"github.com/pacprotocol/pacd/config"
	"github.com/pacprotocol/pacd/internal/storage"
	"github.com/pacprotocol/pacd/pkg/types"
)

func issuance(id uint64, name string) *Token {
	var origin types.Hash
	origin[0] = byte(id)
	return New(CurrentVersion, TypeIssuance, id, name, origin)
}

func TestRegistry_InsertLookup(t *testing.T) {
	reg := NewRegistry(storage.NewMemory())

	tok := issuance(17, "FOO")
	if err := reg.Insert(tok); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	byName, ok := reg.LookupByName("FOO")
	if !ok || byName.ID() != 17 {
		t.Errorf("LookupByName = (%v, %v)", byName, ok)
	}
	byID, ok := reg.LookupByID(17)
	if !ok || byID.Name() != "FOO" {
		t.Errorf("LookupByID = (%v, %v)", byID, ok)
	}
	if _, ok := reg.LookupByName("BAR"); ok {
		t.Error("LookupByName should miss unknown names")
	}
	if reg.Size() != 1 {
		t.Errorf("Size = %d, want 1", reg.Size())
	}
}

func TestRegistry_InsertPreconditions(t *testing.T) {
	reg := NewRegistry(storage.NewMemory())
	if err := reg.Insert(issuance(17, "FOO")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := reg.Insert(issuance(17, "BAR")); !errors.Is(err, ErrIdExists) {
		t.Errorf("duplicate id: err = %v, want %v", err, ErrIdExists)
	}
	if err := reg.Insert(issuance(18, "FOO")); !errors.Is(err, ErrNameExists) {
		t.Errorf("duplicate name: err = %v, want %v", err, ErrNameExists)
	}

	transfer := New(CurrentVersion, TypeTransfer, 19, "BAZ", types.Hash{})
	if err := reg.Insert(transfer); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("transfer insert: err = %v, want %v", err, ErrTokenInvalid)
	}
}

func TestRegistry_Remove(t *testing.T) {
	reg := NewRegistry(storage.NewMemory())
	reg.Insert(issuance(17, "FOO"))
	reg.Insert(issuance(18, "BAR"))

	// Mismatched name is a no-op.
	if err := reg.Remove(17, "BAR"); err != nil {
		t.Fatalf("Remove mismatch: %v", err)
	}
	if reg.Size() != 2 {
		t.Errorf("Size = %d after mismatched remove, want 2", reg.Size())
	}

	if err := reg.Remove(17, "FOO"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := reg.LookupByID(17); ok {
		t.Error("id 17 still present after remove")
	}
	if _, ok := reg.LookupByName("FOO"); ok {
		t.Error("name FOO still present after remove")
	}
	if reg.Size() != 1 {
		t.Errorf("Size = %d, want 1", reg.Size())
	}

	// Removing an absent entry is a no-op.
	if err := reg.Remove(99, "NOPE"); err != nil {
		t.Fatalf("Remove absent: %v", err)
	}
}

func TestRegistry_SnapshotOrder(t *testing.T) {
	reg := NewRegistry(storage.NewMemory())
	names := []string{"FOO", "BAR", "BAZ"}
	for i, name := range names {
		if err := reg.Insert(issuance(17+uint64(i), name)); err != nil {
			t.Fatalf("Insert %s: %v", name, err)
		}
	}

	snap := reg.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot len = %d, want 3", len(snap))
	}
	for i, name := range names {
		if snap[i].Name() != name {
			t.Errorf("snap[%d] = %q, want %q", i, snap[i].Name(), name)
		}
	}
}

func TestRegistry_NextIdentifier(t *testing.T) {
	reg := NewRegistry(storage.NewMemory())

	if id := reg.NextIdentifier(nil); id != config.IssuanceIDBegin+1 {
		t.Errorf("NextIdentifier = %d, want %d", id, config.IssuanceIDBegin+1)
	}

	reg.Insert(issuance(17, "FOO"))
	if id := reg.NextIdentifier(nil); id != 18 {
		t.Errorf("NextIdentifier = %d, want 18", id)
	}

	// Mempool claims skip identifiers deterministically.
	claimed := func(id uint64) bool { return id == 18 || id == 19 }
	if id := reg.NextIdentifier(claimed); id != 20 {
		t.Errorf("NextIdentifier = %d, want 20", id)
	}

	// Gaps in the registry are filled first (ascending scan).
	reg.Insert(issuance(25, "BAR"))
	if id := reg.NextIdentifier(nil); id != 18 {
		t.Errorf("NextIdentifier = %d, want 18 (smallest unused)", id)
	}
}

func TestRegistry_PersistenceRoundtrip(t *testing.T) {
	db := storage.NewMemory()

	reg := NewRegistry(db)
	reg.Insert(issuance(17, "FOO"))
	reg.Insert(issuance(18, "BAR"))
	if err := reg.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// A fresh registry over the same store recovers the same set.
	reopened := NewRegistry(db)
	if err := reopened.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if reopened.Size() != 2 {
		t.Fatalf("Size after reopen = %d, want 2", reopened.Size())
	}
	tok, ok := reopened.LookupByName("BAR")
	if !ok || tok.ID() != 18 {
		t.Errorf("LookupByName(BAR) = (%v, %v)", tok, ok)
	}
}

func TestRegistry_InitGapTolerance(t *testing.T) {
	db := storage.NewMemory()
	reg := NewRegistry(db)

	// A gap smaller than TokenMaxSkip must not stop the load.
	reg.Insert(issuance(17, "FOO"))
	reg.Insert(issuance(17+config.TokenMaxSkip/2, "BAR"))

	reopened := NewRegistry(db)
	if err := reopened.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if reopened.Size() != 2 {
		t.Errorf("Size = %d, want 2 (gap within tolerance)", reopened.Size())
	}
}

func TestRegistry_Reset(t *testing.T) {
	db := storage.NewMemory()
	reg := NewRegistry(db)
	reg.Insert(issuance(17, "FOO"))

	if err := reg.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if reg.Size() != 0 {
		t.Errorf("Size after reset = %d, want 0", reg.Size())
	}

	// The persisted entries are erased too.
	reopened := NewRegistry(db)
	if err := reopened.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if reopened.Size() != 0 {
		t.Errorf("Size after reopen = %d, want 0", reopened.Size())
	}
}
