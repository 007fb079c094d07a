package script

import (
	"bytes"
	"errors"
	"testing"
)

func TestScriptNum_Roundtrip(t *testing.T) {
	tests := []struct {
		value uint64
		want  []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{16, []byte{0x10}},
		{17, []byte{0x11}},
		{0x7f, []byte{0x7f}},
		{0x80, []byte{0x80, 0x00}},
		{0xff, []byte{0xff, 0x00}},
		{0x100, []byte{0x00, 0x01}},
		{0x7fff, []byte{0xff, 0x7f}},
		{0x8000, []byte{0x00, 0x80, 0x00}},
		{0x123456, []byte{0x56, 0x34, 0x12}},
		{0x7fffffffffffff, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}},
	}

	for _, tt := range tests {
		got, err := PutScriptNum(tt.value)
		if err != nil {
			t.Fatalf("PutScriptNum(%d): %v", tt.value, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("PutScriptNum(%d) = %x, want %x", tt.value, got, tt.want)
		}

		back, err := ScriptNum(got)
		if err != nil {
			t.Fatalf("ScriptNum(%x): %v", got, err)
		}
		if back != tt.value {
			t.Errorf("ScriptNum(%x) = %d, want %d", got, back, tt.value)
		}
	}
}

func TestPutScriptNum_TooLarge(t *testing.T) {
	// Bit 63 set needs a ninth sign byte.
	if _, err := PutScriptNum(1 << 63); !errors.Is(err, ErrNumTooLarge) {
		t.Errorf("err = %v, want %v", err, ErrNumTooLarge)
	}
	// The largest encodable value fits in exactly 8 bytes.
	if _, err := PutScriptNum(1<<63 - 1); err != nil {
		t.Errorf("PutScriptNum(max): %v", err)
	}
}

func TestScriptNum_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"empty", nil, ErrNumEmpty},
		{"nine bytes", make([]byte, 9), ErrNumTooLarge},
		{"negative", []byte{0x81}, ErrNumNegative},
		{"negative multi byte", []byte{0x01, 0x80}, ErrNumNegative},
		{"padded zero", []byte{0x01, 0x00}, ErrNumNotMinimal},
		{"padded high bit ok", []byte{0x80, 0x00}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ScriptNum(tt.input)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("err = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
