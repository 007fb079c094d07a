package types

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
)

// Script is a raw output script (scriptPubKey) as it appears on the wire.
// Interpretation of the byte sequence lives in pkg/script; this type only
// carries the bytes and their hex JSON form.
type Script []byte

// IsEmpty returns true if the script has no bytes.
func (s Script) IsEmpty() bool {
	return len(s) == 0
}

// Equal reports byte-exact equality with other.
func (s Script) Equal(other Script) bool {
	return bytes.Equal(s, other)
}

// Clone returns a copy of the script bytes.
func (s Script) Clone() Script {
	out := make(Script, len(s))
	copy(out, s)
	return out
}

// String returns the hex-encoded script.
func (s Script) String() string {
	return hex.EncodeToString(s)
}

// MarshalJSON encodes the script as a hex string.
func (s Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(s))
}

// UnmarshalJSON decodes a hex string into a script.
func (s *Script) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*s = nil
		return nil
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return err
	}
	*s = b
	return nil
}
