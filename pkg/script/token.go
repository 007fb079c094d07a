package script

import (
	"errors"
	"fmt"

	"github.com/pacprotocol/pacd/pkg/crypto"
	"github.com/pacprotocol/pacd/pkg/types"
)

// CurrentTokenVersion is the only token script version accepted today.
const CurrentTokenVersion = 0x01

// Wire values of the token type opcode.
const (
	WireTypeIssuance uint16 = 1
	WireTypeTransfer uint16 = 2
)

// Codec parse errors.
var (
	ErrTokenScriptMalformed    = errors.New("token script malformed")
	ErrChecksumScriptMalformed = errors.New("checksum script malformed")
	ErrVersionUnsupported      = errors.New("unsupported token version")
	ErrTypeInvalid             = errors.New("invalid token type")
	ErrNameInvalid             = errors.New("invalid token name")
)

// TokenPayload is the decoded form of a pay-to-token script prefix.
type TokenPayload struct {
	Version byte
	Type    uint16
	ID      uint64
	Name    string
	Owner   types.Script
}

// OwnerPubKeyHash extracts the 20-byte pubkey hash when the owner portion
// is the standard P2PKH template. The owner portion is not required to be
// P2PKH for the token prefix to be valid.
func (p *TokenPayload) OwnerPubKeyHash() (types.Address, bool) {
	return ExtractPubKeyHash(p.Owner)
}

// BuildTokenScript encodes (version, type, identifier, name) ahead of the
// owner scriptPubKey:
//
//	OP_TOKEN <version> <type> <push: id, minimal LE> <push: name>
//	OP_DROP OP_DROP OP_DROP OP_DROP <owner scriptPubKey>
func BuildTokenScript(version byte, typ uint16, id uint64, name string, owner types.Script) (types.Script, error) {
	if version < 1 || version > 16 {
		return nil, ErrVersionUnsupported
	}
	if typ < 1 || typ > 16 {
		return nil, ErrTypeInvalid
	}
	if len(name) < TokenNameMinLen || len(name) > TokenNameMaxLen {
		return nil, ErrNameInvalid
	}

	idBytes, err := PutScriptNum(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenScriptMalformed, err)
	}

	s := make(types.Script, 0, 4+len(idBytes)+1+len(name)+4+len(owner))
	s = append(s, OP_TOKEN, smallIntOpcode(int(version)), smallIntOpcode(int(typ)))
	s = append(s, byte(len(idBytes)))
	s = append(s, idBytes...)
	s = append(s, byte(len(name)))
	s = append(s, name...)
	s = append(s, OP_DROP, OP_DROP, OP_DROP, OP_DROP)
	s = append(s, owner...)
	return s, nil
}

// DecodeTokenScript parses a pay-to-token script. On any failure it returns
// an error and no partial payload.
func DecodeTokenScript(s types.Script) (*TokenPayload, error) {
	if !IsPayToToken(s) {
		return nil, ErrTokenScriptMalformed
	}

	// IsPayToToken has proven the structure; the cursor below cannot run
	// out of bounds, only the value checks can fail.
	off := 1

	version, _ := smallIntFromOpcode(s[off])
	if version != CurrentTokenVersion {
		return nil, ErrVersionUnsupported
	}
	off++

	typ, _ := smallIntFromOpcode(s[off])
	if uint16(typ) != WireTypeIssuance && uint16(typ) != WireTypeTransfer {
		return nil, ErrTypeInvalid
	}
	off++

	idlen := int(s[off])
	off++
	id, err := ScriptNum(s[off : off+idlen])
	if err != nil {
		return nil, fmt.Errorf("%w: identifier: %v", ErrTokenScriptMalformed, err)
	}
	off += idlen

	namelen := int(s[off])
	off++
	name := string(s[off : off+namelen])
	off += namelen

	// Skip the four OP_DROPs; the remainder is the owner scriptPubKey.
	off += 4
	owner := make(types.Script, len(s)-off)
	copy(owner, s[off:])

	return &TokenPayload{
		Version: byte(version),
		Type:    uint16(typ),
		ID:      id,
		Name:    name,
		Owner:   owner,
	}, nil
}

// TokenIDFromScript extracts only the identifier from a pay-to-token script.
func TokenIDFromScript(s types.Script) (uint64, error) {
	payload, err := DecodeTokenScript(s)
	if err != nil {
		return 0, err
	}
	return payload.ID, nil
}

// BuildChecksumScript wraps a 20-byte content digest in the checksum-data
// template carried as a side output of issuances.
func BuildChecksumScript(digest [crypto.Hash160Size]byte) types.Script {
	s := make(types.Script, 0, checksumLen)
	s = append(s, OP_TOKEN, OP_0, OP_DROP, OP_DUP, OP_HASH160, crypto.Hash160Size)
	s = append(s, digest[:]...)
	s = append(s, OP_EQUALVERIFY, OP_CHECKSIG)
	return s
}

// DecodeChecksumScript extracts the 20-byte digest from a checksum-data script.
func DecodeChecksumScript(s types.Script) ([crypto.Hash160Size]byte, error) {
	var digest [crypto.Hash160Size]byte
	if !IsChecksumData(s) {
		return digest, ErrChecksumScriptMalformed
	}
	copy(digest[:], s[len(s)-22:len(s)-2])
	return digest, nil
}
