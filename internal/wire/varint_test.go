package wire

import (
	"bytes"
	"testing"
)

func TestVarIntRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, 1 << 40}
	for _, v := range cases {
		buf := AppendVarInt(nil, v)
		if len(buf) != VarIntLen(v) {
			t.Fatalf("VarIntLen(%d) = %d, encoded len = %d", v, VarIntLen(v), len(buf))
		}
		r := NewReader(bytes.NewReader(buf))
		got, err := r.ReadVarInt()
		if err != nil {
			t.Fatalf("ReadVarInt(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("ReadVarInt round-trip: want %d got %d", v, got)
		}
	}
}

func TestStringBytesBoolRoundTrip(t *testing.T) {
	var buf []byte
	buf = AppendString(buf, "hello world")
	buf = AppendBytes(buf, []byte{1, 2, 3})
	buf = AppendBool(buf, true)
	buf = AppendBool(buf, false)

	r := NewReader(bytes.NewReader(buf))
	s, err := r.ReadString(0)
	if err != nil || s != "hello world" {
		t.Fatalf("ReadString: %q, %v", s, err)
	}
	b, err := r.ReadBytes(0)
	if err != nil || !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Fatalf("ReadBytes: %v, %v", b, err)
	}
	v1, err := r.ReadBool()
	if err != nil || v1 != true {
		t.Fatalf("ReadBool #1: %v, %v", v1, err)
	}
	v2, err := r.ReadBool()
	if err != nil || v2 != false {
		t.Fatalf("ReadBool #2: %v, %v", v2, err)
	}
}

func TestReadBytesMaxLen(t *testing.T) {
	buf := AppendBytes(nil, make([]byte, 100))
	r := NewReader(bytes.NewReader(buf))
	if _, err := r.ReadBytes(10); err == nil {
		t.Fatalf("expected error for length exceeding max")
	}
}
