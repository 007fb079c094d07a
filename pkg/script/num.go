package script

import "errors"

// Script-number errors.
var (
	ErrNumTooLarge   = errors.New("script number exceeds 8 bytes")
	ErrNumNegative   = errors.New("script number is negative")
	ErrNumNotMinimal = errors.New("script number not minimally encoded")
	ErrNumEmpty      = errors.New("script number is empty")
)

// PutScriptNum encodes v as a minimal signed-magnitude little-endian
// script number. The result is 1..8 bytes for any v that fits; values
// requiring a ninth byte (bit 63 set would need a trailing sign byte that
// overflows the 8-byte budget) return ErrNumTooLarge.
func PutScriptNum(v uint64) ([]byte, error) {
	if v == 0 {
		return []byte{0x00}, nil
	}

	var out []byte
	for n := v; n > 0; n >>= 8 {
		out = append(out, byte(n&0xff))
	}

	// A set sign bit in the top byte would read back negative; keep the
	// magnitude positive with an explicit zero byte.
	if out[len(out)-1]&0x80 != 0 {
		out = append(out, 0x00)
	}
	if len(out) > 8 {
		return nil, ErrNumTooLarge
	}
	return out, nil
}

// ScriptNum decodes a minimal signed-magnitude little-endian script number
// into an unsigned integer. Negative values and non-minimal encodings are
// rejected: every byte sequence has exactly one accepted value.
func ScriptNum(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, ErrNumEmpty
	}
	if len(b) > 8 {
		return 0, ErrNumTooLarge
	}
	last := b[len(b)-1]
	if last&0x80 != 0 {
		return 0, ErrNumNegative
	}

	// Minimality: the top byte may only be zero when it carries the sign
	// bit for the byte below it.
	if last == 0x00 && len(b) > 1 && b[len(b)-2]&0x80 == 0 {
		return 0, ErrNumNotMinimal
	}
	if last == 0x00 && len(b) == 1 {
		// Zero is the single byte 0x00.
		return 0, nil
	}

	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}
