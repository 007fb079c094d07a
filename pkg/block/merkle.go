package block

import (
	"github.com/pacprotocol/pacd/pkg/crypto"
	"github.com/pacprotocol/pacd/pkg/types"
)

// ComputeMerkleRoot calculates the merkle root of transaction hashes.
//
//   - no hashes: the zero hash
//   - one hash: that hash
//   - otherwise: pairwise-hash each layer, duplicating the last element
//     of odd layers, until a single hash remains
func ComputeMerkleRoot(txHashes []types.Hash) types.Hash {
	if len(txHashes) == 0 {
		return types.Hash{}
	}
	if len(txHashes) == 1 {
		return txHashes[0]
	}

	// Work on a copy so the caller's slice stays untouched.
	level := make([]types.Hash, len(txHashes))
	copy(level, txHashes)

	for len(level) > 1 {
		// If odd, duplicate the last element.
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = crypto.HashConcat(level[i], level[i+1])
		}
		level = next
	}

	return level[0]
}
