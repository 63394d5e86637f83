package objbus

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kr/pretty"
	"github.com/objbus/objbus/wire"
)

func TestMarshalUnmarshal(t *testing.T) {
	type testCase struct {
		name       string
		raw        []byte
		wantDecode any
		toEncode   any
	}
	ok := func(name string, want any, raw ...byte) testCase {
		return testCase{name, raw, want, want}
	}
	asymmetric := func(name string, decoded any, toEncode any, raw ...byte) testCase {
		return testCase{name, raw, decoded, toEncode}
	}

	tests := []testCase{
		ok("true", true,
			0, 0, 0, 1),
		ok("false", false,
			0, 0, 0, 0),

		ok("byte", byte(42),
			42),
		ok("i16", int16(0x1234),
			0x12, 0x34),
		ok("u16", uint16(0x1234),
			0x12, 0x34),
		ok("i32", int32(0x12345678),
			0x12, 0x34, 0x56, 0x78),
		ok("u32", uint32(0x12345678),
			0x12, 0x34, 0x56, 0x78),
		ok("i64", int64(0x1abbccdd12345678),
			0x1a, 0xbb, 0xcc, 0xdd,
			0x12, 0x34, 0x56, 0x78),
		ok("u64", uint64(0x1abbccdd12345678),
			0x1a, 0xbb, 0xcc, 0xdd,
			0x12, 0x34, 0x56, 0x78),

		ok("f64", float64(3402823700),
			0x41, 0xE9, 0x5A, 0x5F,
			0x02, 0x80, 0x00, 0x00),

		ok("string", "foobar",
			// Length
			0, 0, 0, 6,
			// Value
			'f', 'o', 'o', 'b', 'a', 'r',
			// Terminator
			0),

		ok("object path", ObjectPath("/foo"),
			0, 0, 0, 4,
			'/', 'f', 'o', 'o',
			0),

		ok("bytes", []byte("foobar"),
			// Length
			0, 0, 0, 6,
			// Value
			'f', 'o', 'o', 'b', 'a', 'r'),

		ok("[]string", []string{"fo", "obar"},
			// array length
			0, 0, 0, 17,
			// "fo"
			0, 0, 0, 2, 'f', 'o', 0,
			// pad
			0,
			// "obar"
			0, 0, 0, 4, 'o', 'b', 'a', 'r', 0),

		ok("signature", mustSignatureFor[[]ObjectPath](t),
			2, 'a', 'o', 0),

		ok("struct simple", Simple{42, true},
			// .A
			0, 42,
			// pad
			0, 0,
			// .B
			0, 0, 0, 1),

		ok("struct pointer", ptr(Simple{42, true}),
			// .A
			0, 42,
			// pad
			0, 0,
			// .B
			0, 0, 0, 1),

		ok("struct nested", Nested{42, Simple{1, false}},
			// .A
			42,
			// pad to inner struct
			0, 0, 0, 0, 0, 0, 0,
			// .B.A
			0, 1,
			// pad
			0, 0,
			// .B.B
			0, 0, 0, 0),

		ok("struct align", struct {
			A byte
			B uint64
		}{1, 2},
			// .A
			1,
			// pad
			0, 0, 0, 0, 0, 0, 0,
			// .B
			0, 0, 0, 0, 0, 0, 0, 2),

		ok("struct embedded", Embedded{Simple{42, true}, 7},
			// .Simple.A
			0, 42,
			// pad
			0, 0,
			// .Simple.B
			0, 0, 0, 1,
			// .C
			7),

		asymmetric("struct skipped field",
			Skipped{A: 1, C: true},
			Skipped{A: 1, B: "ignored", C: true},
			// .A
			0, 1,
			// pad
			0, 0,
			// .C
			0, 0, 0, 1),

		ok("dict", map[string]uint16{"a": 1, "b": 2},
			// array length
			0, 0, 0, 16,
			// pad to first entry
			0, 0, 0, 0,
			// "a"
			0, 0, 0, 1, 'a', 0,
			// value
			0, 1,
			// "b"
			0, 0, 0, 1, 'b', 0,
			// value
			0, 2),

		ok("empty dict", map[string]uint16{},
			// array length
			0, 0, 0, 0,
			// header pad
			0, 0, 0, 0),

		ok("variant string", Variant{"hello"},
			// signature
			1, 's', 0,
			// pad
			0,
			// value
			0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o', 0),

		ok("variant in struct", struct {
			A uint16
			B any
		}{42, "hello"},
			// .A
			0, 42,
			// .B signature
			1, 's', 0,
			// pad
			0, 0, 0,
			// .B value
			0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o', 0),
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gotRaw, err := Marshal(tc.toEncode, wire.BigEndian)
			if err != nil {
				t.Fatalf("Marshal(%T) got err: %v", tc.toEncode, err)
			}
			if !bytes.Equal(gotRaw, tc.raw) {
				t.Errorf("Marshal(%T) wrong encoding:\n  got: % x\n want: % x", tc.toEncode, gotRaw, tc.raw)
			}

			got := reflect.New(reflect.TypeOf(tc.wantDecode))
			n, err := Unmarshal(tc.raw, wire.BigEndian, got.Interface())
			if err != nil {
				t.Fatalf("Unmarshal(%T) got err: %v", tc.wantDecode, err)
			}
			if n != len(tc.raw) {
				t.Errorf("Unmarshal(%T) consumed %d bytes, want %d", tc.wantDecode, n, len(tc.raw))
			}
			if diff := cmp.Diff(got.Elem().Interface(), tc.wantDecode, cmp.Comparer(func(a, b Signature) bool {
				return a.String() == b.String()
			})); diff != "" {
				t.Errorf("Unmarshal(%T) got diff (-got+want):\n%s", tc.wantDecode, diff)
			} else if testing.Verbose() {
				t.Logf("Unmarshal(%T) = %# v", tc.wantDecode, pretty.Formatter(got.Elem().Interface()))
			}
		})
	}
}

func TestMarshalErrors(t *testing.T) {
	for _, v := range []any{
		int(42),
		int8(42),
		float32(42),
		struct{}{},
		map[any]bool{},
		Tree{},
	} {
		if _, err := Marshal(v, wire.BigEndian); err == nil {
			t.Errorf("Marshal(%T) succeeded, want error", v)
		}
	}
}

func TestUnmarshalErrors(t *testing.T) {
	var s string
	if _, err := Unmarshal(nil, wire.BigEndian, s); err == nil {
		t.Error("Unmarshal into non-pointer succeeded, want error")
	}
	if _, err := Unmarshal(nil, wire.BigEndian, (*string)(nil)); err == nil {
		t.Error("Unmarshal into nil pointer succeeded, want error")
	}

	// Truncated inputs surface wire.ErrTruncated.
	var got []string
	if _, err := Unmarshal([]byte{0, 0, 0, 17, 0, 0, 0, 2}, wire.BigEndian, &got); err == nil {
		t.Error("Unmarshal of truncated array succeeded, want error")
	}
}

func TestRoundTripVariantByteOrders(t *testing.T) {
	for _, ord := range []wire.ByteOrder{wire.BigEndian, wire.LittleEndian} {
		in := Variant{uint32(0xdeadbeef)}
		raw, err := Marshal(in, ord)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		var out Variant
		if _, err := Unmarshal(raw, ord, &out); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if diff := cmp.Diff(out, in); diff != "" {
			t.Errorf("round trip diff (-got+want):\n%s", diff)
		}
	}
}
