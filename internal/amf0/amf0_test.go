package amf0

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v := Object(
		Prop("app", String("rtmp2")),
		Prop("flashVer", String("LNX 9,0,124,2")),
		Prop("capabilities", Number(15)),
		Prop("fpad", Boolean(false)),
	)

	encoded := Encode(v)
	decoded, err := NewDecoder(encoded).ReadValue()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if len(decoded.Properties()) != len(v.Properties()) {
		t.Fatalf("property count mismatch: got %d want %d", len(decoded.Properties()), len(v.Properties()))
	}
	for i, p := range v.Properties() {
		got := decoded.Properties()[i]
		if got.Key != p.Key {
			t.Fatalf("property %d key order not preserved: got %q want %q", i, got.Key, p.Key)
		}
	}
}

func TestObjectPropertyOrderPreserved(t *testing.T) {
	// Keys intentionally out of alphabetical order: a naive sorted-key
	// encoder (as the server this client's design was inspired by used)
	// would silently reorder these.
	v := Object(
		Prop("zebra", Number(1)),
		Prop("apple", Number(2)),
		Prop("mango", Number(3)),
	)
	encoded := Encode(v)
	decoded, err := NewDecoder(encoded).ReadValue()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want := []string{"zebra", "apple", "mango"}
	var got []string
	for _, p := range decoded.Properties() {
		got = append(got, p.Key)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("key order not preserved: got %v want %v", got, want)
	}
}

func TestNumberRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 1, -1, 3.5, 1e9, -1e9} {
		enc := Encode(Number(f))
		dec, err := NewDecoder(enc).ReadValue()
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if dec.Float64() != f {
			t.Fatalf("number round-trip mismatch: got %v want %v", dec.Float64(), f)
		}
	}
}

func TestCommandEncodeDecode(t *testing.T) {
	payload := EncodeCommand("connect", 1, Object(Prop("app", String("rtmp2"))))
	vals, err := DecodeAll(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(vals) != 3 {
		t.Fatalf("expected 3 values, got %d", len(vals))
	}
	if vals[0].String() != "connect" {
		t.Fatalf("expected command name 'connect', got %q", vals[0].String())
	}
	if vals[1].Float64() != 1 {
		t.Fatalf("expected transaction id 1, got %v", vals[1].Float64())
	}
	if vals[2].Get("app").String() != "rtmp2" {
		t.Fatalf("expected app=rtmp2, got %q", vals[2].Get("app").String())
	}
}

func TestUnknownMarkerSurfacesError(t *testing.T) {
	_, err := NewDecoder([]byte{0xff}).ReadValue()
	if err == nil {
		t.Fatal("expected error for unknown marker")
	}
	var unknown *ErrUnknownMarker
	if !asUnknownMarker(err, &unknown) {
		t.Fatalf("expected ErrUnknownMarker, got %T: %v", err, err)
	}
}

func asUnknownMarker(err error, target **ErrUnknownMarker) bool {
	if e, ok := err.(*ErrUnknownMarker); ok {
		*target = e
		return true
	}
	return false
}

func TestNullAndUndefined(t *testing.T) {
	n, err := NewDecoder(Encode(Null())).ReadValue()
	if err != nil || !n.IsNull() {
		t.Fatalf("expected null, got %+v err=%v", n, err)
	}
	u, err := NewDecoder(Encode(Undefined())).ReadValue()
	if err != nil || !u.IsUndefined() {
		t.Fatalf("expected undefined, got %+v err=%v", u, err)
	}
}
