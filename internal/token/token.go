// Package token implements the colored-coin token subsystem: the token
// value object, the chain-wide issuance registry, transaction validation,
// and the chain indexer that keeps the registry consistent with the
// active chain.
//
// Tokens are carried directly inside output scripts (see pkg/script).
// An issuance creates an (identifier, name) pair; transfers chain colored
// UTXOs of the same pair.
package token

import (
	"encoding/binary"
	"fmt"

	"github.com/pacprotocol/pacd/pkg/script"
	"github.com/pacprotocol/pacd/pkg/types"
)

// CurrentVersion is the only token version accepted today.
const CurrentVersion byte = script.CurrentTokenVersion

// Type is the token type tag. The zero value is not a valid on-chain
// type: every decoded token is either an issuance or a transfer, so
// switches over Type need no default arm for validated tokens.
type Type uint16

const (
	// TypeIssuance marks the first on-chain appearance of a token.
	TypeIssuance Type = Type(script.WireTypeIssuance)
	// TypeTransfer marks an output moving an already-issued token.
	TypeTransfer Type = Type(script.WireTypeTransfer)
)

// Valid reports whether t is an on-chain token type.
func (t Type) Valid() bool {
	return t == TypeIssuance || t == TypeTransfer
}

// String returns a human-readable name for the type.
func (t Type) String() string {
	switch t {
	case TypeIssuance:
		return "issuance"
	case TypeTransfer:
		return "transfer"
	default:
		return "none"
	}
}

// Token is an immutable record of an issued token. Once committed to the
// registry it never changes; transfers reference it by identifier only.
type Token struct {
	version  byte
	typ      Type
	id       uint64
	name     string
	originTx types.Hash
}

// New creates a token record.
func New(version byte, typ Type, id uint64, name string, originTx types.Hash) *Token {
	return &Token{
		version:  version,
		typ:      typ,
		id:       id,
		name:     name,
		originTx: originTx,
	}
}

// FromPayload builds a token from a decoded script payload and the hash of
// the transaction carrying it.
func FromPayload(p *script.TokenPayload, originTx types.Hash) *Token {
	return &Token{
		version:  p.Version,
		typ:      Type(p.Type),
		id:       p.ID,
		name:     p.Name,
		originTx: originTx,
	}
}

// Version returns the token script version.
func (t *Token) Version() byte { return t.version }

// Type returns the token type.
func (t *Token) Type() Type { return t.typ }

// ID returns the token identifier.
func (t *Token) ID() uint64 { return t.id }

// Name returns the token name.
func (t *Token) Name() string { return t.name }

// OriginTx returns the hash of the issuance transaction.
func (t *Token) OriginTx() types.Hash { return t.originTx }

// IsIssuance reports whether the token is an issuance.
func (t *Token) IsIssuance() bool { return t.typ == TypeIssuance }

// Equal is identifier+name equality, the identity used by the registry.
func (t *Token) Equal(other *Token) bool {
	return t.id == other.id && t.name == other.name
}

// Serialize encodes the token for the persistent store:
// version(1) | type(2 LE) | id(8 LE) | name_len uvarint | name | origin(32).
func (t *Token) Serialize() []byte {
	buf := make([]byte, 0, 1+2+8+binary.MaxVarintLen64+len(t.name)+types.HashSize)
	buf = append(buf, t.version)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(t.typ))
	buf = binary.LittleEndian.AppendUint64(buf, t.id)
	buf = binary.AppendUvarint(buf, uint64(len(t.name)))
	buf = append(buf, t.name...)
	buf = append(buf, t.originTx[:]...)
	return buf
}

// Deserialize decodes a token record produced by Serialize.
func Deserialize(data []byte) (*Token, error) {
	if len(data) < 1+2+8+1+types.HashSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTokenCorrupt, len(data))
	}

	t := &Token{}
	t.version = data[0]
	t.typ = Type(binary.LittleEndian.Uint16(data[1:3]))
	t.id = binary.LittleEndian.Uint64(data[3:11])

	rest := data[11:]
	nameLen, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad name length", ErrTokenCorrupt)
	}
	rest = rest[n:]
	if uint64(len(rest)) != nameLen+types.HashSize {
		return nil, fmt.Errorf("%w: truncated name or origin", ErrTokenCorrupt)
	}
	t.name = string(rest[:nameLen])
	copy(t.originTx[:], rest[nameLen:])

	return t, nil
}
