package token

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pacprotocol/pacd/config"
	"github.com/pacprotocol/pacd/internal/storage"
)

// dbPrefixIssuance is the key prefix for persisted issuances:
// 'I' + big-endian uint64 identifier.
const dbPrefixIssuance = 'I'

// Registry is the authoritative set of known token issuances. It keeps an
// insertion-ordered in-memory copy indexed by identifier and name, backed
// by a key-value store. All operations take the internal lock; readers
// that need a stable view use Snapshot.
type Registry struct {
	mu     sync.Mutex
	db     storage.DB
	byID   map[uint64]*Token
	byName map[string]*Token
	order  []*Token
}

// NewRegistry creates an empty registry over the given store.
func NewRegistry(db storage.DB) *Registry {
	return &Registry{
		db:     db,
		byID:   make(map[uint64]*Token),
		byName: make(map[string]*Token),
	}
}

// issuanceKey builds the storage key for an identifier.
func issuanceKey(id uint64) []byte {
	key := make([]byte, 9)
	key[0] = dbPrefixIssuance
	binary.BigEndian.PutUint64(key[1:], id)
	return key
}

// Init loads persisted issuances into memory. Identifiers are scanned
// upward from IssuanceIDBegin, tolerating up to TokenMaxSkip consecutive
// missing entries before the scan stops. Entries load in identifier order;
// the order in which issuances were first inserted is not persisted, so
// after Init the snapshot order is identifier order.
func (r *Registry) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID = make(map[uint64]*Token)
	r.byName = make(map[string]*Token)
	r.order = nil

	var skipped uint64
	id := config.IssuanceIDBegin
	for {
		id++
		exists, err := r.db.Has(issuanceKey(id))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrReadFailed, err)
		}
		if !exists {
			skipped++
			if skipped > config.TokenMaxSkip {
				break
			}
			continue
		}
		skipped = 0

		data, err := r.db.Get(issuanceKey(id))
		if err != nil {
			return fmt.Errorf("%w: id %d: %v", ErrReadFailed, id, err)
		}
		tok, err := Deserialize(data)
		if err != nil {
			return fmt.Errorf("id %d: %w", id, err)
		}
		r.insertLocked(tok)
	}

	return nil
}

// insertLocked adds tok to all indices. Caller holds the lock and has
// checked preconditions.
func (r *Registry) insertLocked(tok *Token) {
	r.byID[tok.ID()] = tok
	r.byName[tok.Name()] = tok
	r.order = append(r.order, tok)
}

// LookupByName returns the issuance with a byte-exact name match.
func (r *Registry) LookupByName(name string) (*Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.byName[name]
	return tok, ok
}

// LookupByID returns the issuance with the given identifier.
func (r *Registry) LookupByID(id uint64) (*Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.byID[id]
	return tok, ok
}

// Insert records a new issuance. The entry is durably written before the
// caller observes success.
func (r *Registry) Insert(tok *Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !tok.IsIssuance() {
		return fmt.Errorf("%w: type %s", ErrTokenInvalid, tok.Type())
	}
	if _, exists := r.byID[tok.ID()]; exists {
		return fmt.Errorf("%w: id %d", ErrIdExists, tok.ID())
	}
	if _, exists := r.byName[tok.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrNameExists, tok.Name())
	}

	if err := r.db.Put(issuanceKey(tok.ID()), tok.Serialize()); err != nil {
		return fmt.Errorf("%w: id %d: %v", ErrWriteFailed, tok.ID(), err)
	}
	r.insertLocked(tok)
	return nil
}

// Remove deletes the issuance matching both id and name. Removing an
// absent or mismatched entry is a no-op.
func (r *Registry) Remove(id uint64, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.byID[id]
	if !ok || tok.Name() != name {
		return nil
	}

	if err := r.db.Delete(issuanceKey(id)); err != nil {
		return fmt.Errorf("%w: id %d: %v", ErrWriteFailed, id, err)
	}

	delete(r.byID, id)
	delete(r.byName, name)
	for i, t := range r.order {
		if t == tok {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Snapshot returns the issuances in insertion order. The returned slice is
// a copy and safe to read without the lock.
func (r *Registry) Snapshot() []*Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Token, len(r.order))
	copy(out, r.order)
	return out
}

// Size returns the number of known issuances.
func (r *Registry) Size() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.order))
}

// NextIdentifier returns the smallest unused identifier greater than
// IssuanceIDBegin that is neither registered nor claimed. The claimed
// callback reports identifiers held by unconfirmed issuance outputs; it
// may be nil. Two nodes with equal registries and equal claims return the
// same value.
func (r *Registry) NextIdentifier(claimed func(uint64) bool) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := config.IssuanceIDBegin + 1; ; id++ {
		if _, exists := r.byID[id]; exists {
			continue
		}
		if claimed != nil && claimed(id) {
			continue
		}
		return id
	}
}

// Flush rewrites every in-memory entry to the store. Writes are idempotent.
func (r *Registry) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tok := range r.order {
		if err := r.db.Put(issuanceKey(tok.ID()), tok.Serialize()); err != nil {
			return fmt.Errorf("%w: id %d: %v", ErrWriteFailed, tok.ID(), err)
		}
	}
	return nil
}

// Reset clears the in-memory set and erases all persisted entries. Used by
// the tokenrebuild path before a full rescan.
func (r *Registry) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys [][]byte
	err := r.db.ForEach([]byte{dbPrefixIssuance}, func(key, _ []byte) error {
		k := make([]byte, len(key))
		copy(k, key)
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	for _, key := range keys {
		if err := r.db.Delete(key); err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
	}

	r.byID = make(map[uint64]*Token)
	r.byName = make(map[string]*Token)
	r.order = nil
	return nil
}
