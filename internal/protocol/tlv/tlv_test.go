package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		String(1, "/field/abc"),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	b := EncodeFields(in)
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if GetString(out, 1) != "/field/abc" {
		t.Fatalf("unexpected string field: %+v", out[0])
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestEmptyValueField(t *testing.T) {
	out, err := DecodeFields(EncodeFields([]Field{Bytes(3, nil)}))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	f, ok := GetField(out, 3)
	if !ok || len(f.Value) != 0 || f.Type != TypeBytes {
		t.Fatalf("unexpected empty field: %+v ok=%v", f, ok)
	}
	if GetBytes(out, 4) != nil {
		t.Fatalf("expected nil for absent field")
	}
}

func TestBytesCopiesInput(t *testing.T) {
	src := []byte{1, 2, 3}
	f := Bytes(1, src)
	src[0] = 9
	if f.Value[0] != 1 {
		t.Fatalf("field aliases caller buffer")
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestMustType(t *testing.T) {
	if err := MustType(String(1, "x"), TypeString); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := MustType(String(1, "x"), TypeBytes); err == nil {
		t.Fatalf("expected mismatch error")
	}
}
