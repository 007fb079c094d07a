package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/pacprotocol/pacd/internal/storage"
	"github.com/pacprotocol/pacd/pkg/block"
	"github.com/pacprotocol/pacd/pkg/types"
)

// Key prefixes and state keys for the block store.
var (
	prefixBlock  = []byte("b/") // b/<hash(32)> -> block JSON
	prefixHeight = []byte("h/") // h/<height(8)> -> hash(32)
	prefixTx     = []byte("x/") // x/<txhash(32)> -> height(8) + blockHash(32)
	prefixUndo   = []byte("d/") // d/<hash(32)> -> undo data JSON
	keyTip       = []byte("tip")
)

// BlockStore persists blocks and chain metadata.
type BlockStore struct {
	db storage.DB
}

// NewBlockStore creates a block store over the given database.
func NewBlockStore(db storage.DB) *BlockStore {
	return &BlockStore{db: db}
}

func blockKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixBlock)+types.HashSize)
	copy(key, prefixBlock)
	copy(key[len(prefixBlock):], hash[:])
	return key
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}

func txKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixTx)+types.HashSize)
	copy(key, prefixTx)
	copy(key[len(prefixTx):], hash[:])
	return key
}

func undoKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixUndo)+types.HashSize)
	copy(key, prefixUndo)
	copy(key[len(prefixUndo):], hash[:])
	return key
}

// PutBlock stores a block and indexes it by height and by transaction hash.
func (bs *BlockStore) PutBlock(blk *block.Block) error {
	hash := blk.Hash()

	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	if err := bs.db.Put(blockKey(hash), data); err != nil {
		return fmt.Errorf("store block: %w", err)
	}
	if err := bs.db.Put(heightKey(blk.Header.Height), hash.Bytes()); err != nil {
		return fmt.Errorf("store height index: %w", err)
	}

	// Transaction index: txhash -> height + block hash.
	for _, t := range blk.Transactions {
		loc := make([]byte, 8+types.HashSize)
		binary.BigEndian.PutUint64(loc, blk.Header.Height)
		copy(loc[8:], hash[:])
		if err := bs.db.Put(txKey(t.Hash()), loc); err != nil {
			return fmt.Errorf("store tx index: %w", err)
		}
	}
	return nil
}

// GetBlock retrieves a block by its hash.
func (bs *BlockStore) GetBlock(hash types.Hash) (*block.Block, error) {
	data, err := bs.db.Get(blockKey(hash))
	if err != nil {
		return nil, fmt.Errorf("block %s not found: %w", hash, err)
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("unmarshal block: %w", err)
	}
	return &blk, nil
}

// GetBlockByHeight retrieves a block on the active chain by height.
func (bs *BlockStore) GetBlockByHeight(height uint64) (*block.Block, error) {
	hashBytes, err := bs.db.Get(heightKey(height))
	if err != nil {
		return nil, fmt.Errorf("no block at height %d: %w", height, err)
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return bs.GetBlock(hash)
}

// HasBlock checks if a block exists.
func (bs *BlockStore) HasBlock(hash types.Hash) (bool, error) {
	return bs.db.Has(blockKey(hash))
}

// GetTxLocation returns the height and block hash of a confirmed transaction.
func (bs *BlockStore) GetTxLocation(txHash types.Hash) (uint64, types.Hash, error) {
	data, err := bs.db.Get(txKey(txHash))
	if err != nil || len(data) != 8+types.HashSize {
		return 0, types.Hash{}, fmt.Errorf("tx %s not indexed", txHash)
	}
	var blockHash types.Hash
	copy(blockHash[:], data[8:])
	return binary.BigEndian.Uint64(data), blockHash, nil
}

// DeleteTxIndex removes a transaction index entry.
func (bs *BlockStore) DeleteTxIndex(txHash types.Hash) error {
	return bs.db.Delete(txKey(txHash))
}

// DeleteHeightIndex removes the active-chain height mapping.
func (bs *BlockStore) DeleteHeightIndex(height uint64) error {
	return bs.db.Delete(heightKey(height))
}

// SetTip records the active chain tip.
func (bs *BlockStore) SetTip(hash types.Hash, height uint64) error {
	buf := make([]byte, types.HashSize+8)
	copy(buf, hash[:])
	binary.BigEndian.PutUint64(buf[types.HashSize:], height)
	return bs.db.Put(keyTip, buf)
}

// GetTip returns the active chain tip hash and height.
// A fresh database reports a zero hash at height 0.
func (bs *BlockStore) GetTip() (types.Hash, uint64, error) {
	data, err := bs.db.Get(keyTip)
	if err != nil {
		return types.Hash{}, 0, nil
	}
	if len(data) != types.HashSize+8 {
		return types.Hash{}, 0, fmt.Errorf("corrupt tip record")
	}
	var hash types.Hash
	copy(hash[:], data)
	return hash, binary.BigEndian.Uint64(data[types.HashSize:]), nil
}

// PutUndo stores undo data for a block.
func (bs *BlockStore) PutUndo(hash types.Hash, data []byte) error {
	return bs.db.Put(undoKey(hash), data)
}

// GetUndo retrieves undo data for a block.
func (bs *BlockStore) GetUndo(hash types.Hash) ([]byte, error) {
	return bs.db.Get(undoKey(hash))
}

// DeleteUndo removes undo data for a block.
func (bs *BlockStore) DeleteUndo(hash types.Hash) error {
	return bs.db.Delete(undoKey(hash))
}
