package utxo

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pacprotocol/pacd/internal/storage"
	"github.com/pacprotocol/pacd/pkg/types"
)

// ErrCoinNotFound is returned for outpoints that are absent or spent.
var ErrCoinNotFound = errors.New("coin not found or spent")

// Key prefixes for the UTXO store.
var (
	prefixUTXO = []byte("u/") // u/<txid(32)><index(4)> -> Coin JSON
	prefixAddr = []byte("a/") // a/<address(20)><txid(32)><index(4)> -> empty (index)
)

// Store implements Set backed by a storage.DB.
type Store struct {
	db storage.DB
}

// NewStore creates a new UTXO store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// utxoKey builds a storage key for an outpoint: "u/" + txid(32) + index(4).
func utxoKey(op types.Outpoint) []byte {
	key := make([]byte, len(prefixUTXO)+types.HashSize+4)
	copy(key, prefixUTXO)
	copy(key[len(prefixUTXO):], op.TxID[:])
	binary.BigEndian.PutUint32(key[len(prefixUTXO)+types.HashSize:], op.Index)
	return key
}

// addrKey builds an address index key: "a/" + addr(20) + txid(32) + index(4).
func addrKey(addr types.Address, op types.Outpoint) []byte {
	key := make([]byte, len(prefixAddr)+types.AddressSize+types.HashSize+4)
	copy(key, prefixAddr)
	copy(key[len(prefixAddr):], addr[:])
	off := len(prefixAddr) + types.AddressSize
	copy(key[off:], op.TxID[:])
	binary.BigEndian.PutUint32(key[off+types.HashSize:], op.Index)
	return key
}

// AccessCoin retrieves a coin by its outpoint.
func (s *Store) AccessCoin(op types.Outpoint) (*Coin, error) {
	data, err := s.db.Get(utxoKey(op))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCoinNotFound, op)
	}
	var c Coin
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("coin unmarshal: %w", err)
	}
	return &c, nil
}

// Put stores a coin and updates the address index.
func (s *Store) Put(op types.Outpoint, c *Coin) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("coin marshal: %w", err)
	}
	if err := s.db.Put(utxoKey(op), data); err != nil {
		return fmt.Errorf("coin put: %w", err)
	}

	if addr, ok := coinAddress(c.Out.ScriptPubKey); ok {
		if err := s.db.Put(addrKey(addr, op), []byte{}); err != nil {
			return fmt.Errorf("coin index put: %w", err)
		}
	}
	return nil
}

// Delete removes a coin and its address index entry.
func (s *Store) Delete(op types.Outpoint) error {
	// Read first to clean up the secondary index.
	c, err := s.AccessCoin(op)
	if err == nil {
		if addr, ok := coinAddress(c.Out.ScriptPubKey); ok {
			s.db.Delete(addrKey(addr, op))
		}
	}

	if err := s.db.Delete(utxoKey(op)); err != nil {
		return fmt.Errorf("coin delete: %w", err)
	}
	return nil
}

// Has checks if a coin exists for the given outpoint.
func (s *Store) Has(op types.Outpoint) (bool, error) {
	return s.db.Has(utxoKey(op))
}

// Entry pairs an outpoint with its coin during iteration.
type Entry struct {
	Outpoint types.Outpoint
	Coin     Coin
}

// ForEach iterates over all coins in the store.
func (s *Store) ForEach(fn func(types.Outpoint, *Coin) error) error {
	return s.db.ForEach(prefixUTXO, func(key, value []byte) error {
		if len(key) < len(prefixUTXO)+types.HashSize+4 {
			return nil // Malformed key, skip.
		}
		var op types.Outpoint
		copy(op.TxID[:], key[len(prefixUTXO):])
		op.Index = binary.BigEndian.Uint32(key[len(prefixUTXO)+types.HashSize:])

		var c Coin
		if err := json.Unmarshal(value, &c); err != nil {
			return fmt.Errorf("coin unmarshal: %w", err)
		}
		return fn(op, &c)
	})
}

// GetByAddress returns all coins owned by the given pubkey hash.
func (s *Store) GetByAddress(addr types.Address) ([]Entry, error) {
	prefix := make([]byte, len(prefixAddr)+types.AddressSize)
	copy(prefix, prefixAddr)
	copy(prefix[len(prefixAddr):], addr[:])

	var entries []Entry
	err := s.db.ForEach(prefix, func(key, _ []byte) error {
		off := len(prefixAddr) + types.AddressSize
		if len(key) < off+types.HashSize+4 {
			return nil // Malformed key, skip.
		}
		var op types.Outpoint
		copy(op.TxID[:], key[off:off+types.HashSize])
		op.Index = binary.BigEndian.Uint32(key[off+types.HashSize:])

		c, err := s.AccessCoin(op)
		if err != nil {
			return nil // Spent since indexing, skip.
		}
		entries = append(entries, Entry{Outpoint: op, Coin: *c})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan address index: %w", err)
	}
	return entries, nil
}
