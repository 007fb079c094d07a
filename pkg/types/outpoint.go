package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Outpoint references a specific output in a transaction.
type Outpoint struct {
	TxID  Hash   `json:"txid"`
	Index uint32 `json:"index"`
}

// IsZero returns true if the outpoint has a zero TxID and zero index.
// The zero outpoint marks coinbase inputs.
func (o Outpoint) IsZero() bool {
	return o.TxID.IsZero() && o.Index == 0
}

// String returns "txid:index" in hex.
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Index)
}

// ParseOutpoint parses the "txid:index" form produced by String.
func ParseOutpoint(s string) (Outpoint, error) {
	sep := strings.LastIndexByte(s, ':')
	if sep < 0 {
		return Outpoint{}, fmt.Errorf("outpoint %q: missing ':' separator", s)
	}
	txid, err := HexToHash(s[:sep])
	if err != nil {
		return Outpoint{}, fmt.Errorf("outpoint %q: %w", s, err)
	}
	index, err := strconv.ParseUint(s[sep+1:], 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("outpoint %q: bad index: %w", s, err)
	}
	return Outpoint{TxID: txid, Index: uint32(index)}, nil
}
