package wire

import (
	"errors"
	"math"
	"reflect"
)

// An EncoderFunc writes one value to the given encoder.
type EncoderFunc func(enc *Encoder, val reflect.Value) error

// An Encoder accumulates a DBus wire format message body in a byte
// slice.
//
// Methods insert padding as needed to conform to DBus alignment
// rules, except for [Encoder.Write] which outputs bytes verbatim.
type Encoder struct {
	// Order is the byte order to use when encoding multi-byte values.
	Order ByteOrder
	// Mapper provides [EncoderFunc]s for values given to
	// [Encoder.Value]. If Mapper is nil, the Encoder functions
	// normally except that [Encoder.Value] always returns an error.
	Mapper func(reflect.Type) (EncoderFunc, error)
	// Out is the encoded output.
	Out []byte
}

// Pad appends padding bytes as needed to make the output a multiple
// of align bytes long. If the output is already correctly aligned, no
// padding is appended.
func (e *Encoder) Pad(align int) {
	extra := len(e.Out) % align
	if extra == 0 {
		return
	}
	var pad [8]byte
	e.Out = append(e.Out, pad[:align-extra]...)
}

// Write appends bs verbatim to the output. The caller is responsible
// for padding and encoding.
func (e *Encoder) Write(bs []byte) {
	e.Out = append(e.Out, bs...)
}

// Bytes writes bs as a DBus byte array.
func (e *Encoder) Bytes(bs []byte) {
	e.Uint32(uint32(len(bs)))
	e.Out = append(e.Out, bs...)
}

// String writes a DBus string: 32-bit length, bytes, NUL terminator.
func (e *Encoder) String(s string) {
	e.Uint32(uint32(len(s)))
	e.Out = append(e.Out, s...)
	e.Out = append(e.Out, 0)
}

// Signature writes a DBus type signature string, which is framed by a
// single length byte rather than a string's 32-bit length.
func (e *Encoder) Signature(s string) {
	e.Uint8(uint8(len(s)))
	e.Out = append(e.Out, s...)
	e.Out = append(e.Out, 0)
}

// Uint8 writes a uint8.
func (e *Encoder) Uint8(u8 uint8) {
	e.Out = append(e.Out, u8)
}

// Uint16 writes a uint16.
func (e *Encoder) Uint16(u16 uint16) {
	e.Pad(2)
	e.Out = e.Order.AppendUint16(e.Out, u16)
}

// Uint32 writes a uint32.
func (e *Encoder) Uint32(u32 uint32) {
	e.Pad(4)
	e.Out = e.Order.AppendUint32(e.Out, u32)
}

// Uint64 writes a uint64.
func (e *Encoder) Uint64(u64 uint64) {
	e.Pad(8)
	e.Out = e.Order.AppendUint64(e.Out, u64)
}

// Float64 writes a float64.
func (e *Encoder) Float64(f float64) {
	e.Uint64(math.Float64bits(f))
}

// Value writes v to the output, using the [EncoderFunc] provided by
// [Encoder.Mapper].
func (e *Encoder) Value(v any) error {
	if e.Mapper == nil {
		return errors.New("no Mapper provided to Encoder")
	}
	val := reflect.ValueOf(v)
	if !val.IsValid() {
		return errors.New("cannot encode nil interface")
	}
	fn, err := e.Mapper(val.Type())
	if err != nil {
		return err
	}
	return fn(e, val)
}

// Array writes an array to the output.
//
// Array elements must be written within the elements function, which
// is responsible for padding each element to the alignment its type
// requires.
//
// structElems indicates whether the array's elements are structs or
// dict entries, whose 8-byte alignment padding appears after the
// array's length even when the array is empty.
func (e *Encoder) Array(structElems bool, elements func() error) error {
	e.Pad(4)
	offset := len(e.Out)
	e.Uint32(0)
	if structElems {
		e.Pad(8)
	}

	start := len(e.Out)
	err := elements()
	e.Order.PutUint32(e.Out[offset:], uint32(len(e.Out)-start))

	return err
}

// Struct writes a struct or dict entry to the output. Fields must be
// written within the fields function.
func (e *Encoder) Struct(fields func() error) error {
	e.Pad(8)
	return fields()
}

// OrderFlag writes the byte order flag matching [Encoder.Order].
func (e *Encoder) OrderFlag() {
	e.Out = append(e.Out, e.Order.Flag())
}
