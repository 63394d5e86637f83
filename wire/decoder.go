package wire

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrTruncated is reported when the input ends partway through the
// value being decoded.
var ErrTruncated = errors.New("truncated message data")

// A DecoderFunc reads one value from the decoder into val.
type DecoderFunc func(dec *Decoder, val reflect.Value) error

// A Decoder reads values out of a DBus wire format message body.
//
// Methods advance the read cursor as needed to account for the
// padding required by DBus alignment rules, except for [Decoder.Read]
// which consumes bytes verbatim.
type Decoder struct {
	// Order is the byte order to use when reading multi-byte values.
	Order ByteOrder
	// Mapper provides [DecoderFunc]s for values given to
	// [Decoder.Value]. If Mapper is nil, the Decoder functions
	// normally except that [Decoder.Value] always returns an error.
	Mapper func(reflect.Type) (DecoderFunc, error)

	in []byte
	// offset is the absolute position in the message body, which
	// alignment is computed against. It survives the input clamping
	// done by Array, because alignment depends on the global offset,
	// not on position within the current container.
	offset int
	// limit is the absolute offset past which the current container
	// must not read, or -1 when unrestricted.
	limit int
}

// NewDecoder returns a Decoder reading from body using the given byte
// order.
func NewDecoder(body []byte, ord ByteOrder) *Decoder {
	return &Decoder{Order: ord, in: body, limit: -1}
}

// Offset returns the number of bytes consumed so far.
func (d *Decoder) Offset() int { return d.offset }

// Rest returns the number of bytes not yet consumed.
func (d *Decoder) Rest() int { return len(d.in) }

// Pad consumes padding bytes as needed to make the next read happen
// at a multiple of align bytes. If the read cursor is already
// correctly aligned, no bytes are consumed.
func (d *Decoder) Pad(align int) error {
	extra := d.offset % align
	if extra == 0 {
		return nil
	}
	_, err := d.Read(align - extra)
	return err
}

// Read consumes n bytes, with no framing or padding.
func (d *Decoder) Read(n int) ([]byte, error) {
	if n > len(d.in) || (d.limit >= 0 && d.offset+n > d.limit) {
		return nil, fmt.Errorf("reading %d bytes at offset %d: %w", n, d.offset, ErrTruncated)
	}
	bs := d.in[:n]
	d.in = d.in[n:]
	d.offset += n
	return bs, nil
}

// Bytes reads a DBus byte array.
func (d *Decoder) Bytes() ([]byte, error) {
	ln, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	return d.Read(int(ln))
}

// String reads a DBus string, consuming its NUL terminator.
func (d *Decoder) String() (string, error) {
	ln, err := d.Uint32()
	if err != nil {
		return "", err
	}
	bs, err := d.Read(int(ln) + 1)
	if err != nil {
		return "", err
	}
	return string(bs[:len(bs)-1]), nil
}

// Signature reads a DBus type signature string, which is framed by a
// single length byte rather than a string's 32-bit length.
func (d *Decoder) Signature() (string, error) {
	ln, err := d.Uint8()
	if err != nil {
		return "", err
	}
	bs, err := d.Read(int(ln) + 1)
	if err != nil {
		return "", err
	}
	return string(bs[:len(bs)-1]), nil
}

// Uint8 reads a uint8.
func (d *Decoder) Uint8() (uint8, error) {
	bs, err := d.Read(1)
	if err != nil {
		return 0, err
	}
	return bs[0], nil
}

// Uint16 reads a uint16.
func (d *Decoder) Uint16() (uint16, error) {
	if err := d.Pad(2); err != nil {
		return 0, err
	}
	bs, err := d.Read(2)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint16(bs), nil
}

// Uint32 reads a uint32.
func (d *Decoder) Uint32() (uint32, error) {
	if err := d.Pad(4); err != nil {
		return 0, err
	}
	bs, err := d.Read(4)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint32(bs), nil
}

// Uint64 reads a uint64.
func (d *Decoder) Uint64() (uint64, error) {
	if err := d.Pad(8); err != nil {
		return 0, err
	}
	bs, err := d.Read(8)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint64(bs), nil
}

// Value reads a value into v, using the [DecoderFunc] provided by
// [Decoder.Mapper]. v must be a non-nil pointer.
func (d *Decoder) Value(v any) error {
	if d.Mapper == nil {
		return errors.New("no Mapper provided to Decoder")
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("outval of Decoder.Value must be a non-nil pointer, got %s", rv.Type())
	}
	fn, err := d.Mapper(rv.Type().Elem())
	if err != nil {
		return err
	}
	return fn(d, rv.Elem())
}

// Array reads an array.
//
// readElement is called repeatedly, with the index of the element to
// be decoded, while array data remains. readElement must consume
// exactly one complete element per call, and must not read beyond the
// array's data.
//
// Array returns the number of elements read.
//
// structElems indicates whether the array's elements are structs or
// dict entries, so that the header padding after the array length is
// consumed even when the array is empty.
func (d *Decoder) Array(structElems bool, readElement func(int) error) (int, error) {
	ln, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	if structElems {
		if err := d.Pad(8); err != nil {
			return 0, err
		}
	}

	end := d.offset + int(ln)
	if end > d.offset+len(d.in) || (d.limit >= 0 && end > d.limit) {
		return 0, fmt.Errorf("array of %d bytes at offset %d: %w", ln, d.offset, ErrTruncated)
	}
	outer := d.limit
	d.limit = end
	defer func() { d.limit = outer }()

	idx := 0
	for d.offset < end {
		if err := readElement(idx); err != nil {
			return idx, err
		}
		idx++
	}
	return idx, nil
}

// Struct reads a struct or dict entry. Fields must be read within the
// fields function.
func (d *Decoder) Struct(fields func() error) error {
	if err := d.Pad(8); err != nil {
		return err
	}
	return fields()
}

// OrderFlag reads a DBus byte order flag byte and sets
// [Decoder.Order] to match it.
func (d *Decoder) OrderFlag() error {
	v, err := d.Uint8()
	if err != nil {
		return err
	}
	ord, ok := OrderForFlag(v)
	if !ok {
		return fmt.Errorf("unknown byte order flag %q", v)
	}
	d.Order = ord
	return nil
}
