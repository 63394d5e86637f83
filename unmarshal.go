package objbus

import (
	"errors"
	"math"
	"reflect"

	"github.com/objbus/objbus/wire"
)

// Unmarshal decodes the DBus wire encoding in data into the value
// pointed to by v, using the given byte order. It returns the number
// of bytes consumed.
//
// Generally, Unmarshal applies the inverse of the rules used by
// [Marshal]. The layout of the wire data must be compatible with the
// target's DBus signature. Since message bodies do not embed their
// signature, it is up to the caller to know the expected format and
// match it; a shape mismatch surfaces as a decode error or as
// [wire.ErrTruncated].
//
// When decoding into a slice, Unmarshal resets the slice length to
// zero and appends each element. When decoding into a map, Unmarshal
// first clears the map, allocating a new one if the target is nil;
// duplicate keys in the incoming dictionary keep the last value.
// Pointers decode as the value pointed to, with nil pointers
// allocated as needed.
//
// Variants decode into [Variant] values (or `any` targets), carrying
// both the decoded value and, through [Variant.Signature], the
// signature the sender declared for it.
//
// Types implementing [Unmarshaler] decode themselves. UnmarshalDBus
// must be implemented with a pointer receiver; Unmarshal returns a
// [TypeError] when it encounters an Unmarshaler with a value
// receiver, since calls to it would silently discard the result.
func Unmarshal(data []byte, ord wire.ByteOrder, v any) (int, error) {
	if v == nil {
		return 0, typeErr(nil, "can't unmarshal into nil interface")
	}
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Pointer {
		return 0, typeErr(val.Type(), "can't unmarshal into a non-pointer")
	}
	if val.IsNil() {
		return 0, typeErr(val.Type(), "can't unmarshal into a nil pointer")
	}
	dec, err := decoderFor(val.Type().Elem())
	if err != nil {
		return 0, err
	}
	d := wire.NewDecoder(data, ord)
	d.Mapper = decoderFor
	if err := dec(d, val.Elem()); err != nil {
		return d.Offset(), err
	}
	return d.Offset(), nil
}

// Unmarshaler is the interface implemented by types that can
// unmarshal themselves from the DBus wire format.
//
// SignatureDBus is invoked on zero values of the Unmarshaler, and
// must return a constant value.
//
// UnmarshalDBus is responsible for consuming padding appropriate to
// the values being decoded, and for consuming input in a way that
// agrees with the value of SignatureDBus.
type Unmarshaler interface {
	SignatureDBus() Signature
	UnmarshalDBus(d *wire.Decoder) error
}

var unmarshalerType = reflect.TypeFor[Unmarshaler]()

// unmarshalerOnly is the unmarshal method of Unmarshaler by itself,
// used to detect value-receiver implementations.
type unmarshalerOnly interface {
	UnmarshalDBus(d *wire.Decoder) error
}

var unmarshalerOnlyType = reflect.TypeFor[unmarshalerOnly]()

var decoders cache[reflect.Type, wire.DecoderFunc]

// decoderFor returns the decoder func for the given type, if the type
// is representable in the DBus wire format.
func decoderFor(t reflect.Type) (ret wire.DecoderFunc, err error) {
	if ret, err := decoders.Get(t); err == nil {
		return ret, nil
	} else if !errors.Is(err, errNotFound) {
		return nil, err
	}
	defer func() {
		if err != nil {
			decoders.SetErr(t, err)
		} else {
			decoders.Set(t, ret)
		}
	}()

	if _, err := signatureFor(t, nil); err != nil {
		return nil, err
	}

	isPtr := t.Kind() == reflect.Pointer
	if t.Implements(unmarshalerType) {
		if !isPtr || t.Elem().Implements(unmarshalerOnlyType) {
			return nil, typeErr(t, "refusing to use Unmarshaler implementation with value receiver, Unmarshalers must use pointer receivers")
		}
		return newUnmarshalDecoder(t), nil
	} else if !isPtr && reflect.PointerTo(t).Implements(unmarshalerType) {
		// Decode targets are addressable, so the value case can use
		// the pointer implementation too.
		return newAddrUnmarshalDecoder(t), nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		// Note, pointers to Unmarshaler are handled above.
		return newPtrDecoder(t)
	case reflect.Bool:
		return boolDecoder, nil
	case reflect.Int16, reflect.Int32, reflect.Int64:
		return newIntDecoder(t), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return newUintDecoder(t), nil
	case reflect.Float64:
		return floatDecoder, nil
	case reflect.String:
		return stringDecoder, nil
	case reflect.Slice, reflect.Array:
		return newSliceDecoder(t)
	case reflect.Struct:
		return newStructDecoder(t)
	case reflect.Map:
		return newMapDecoder(t)
	case reflect.Interface:
		return anyDecoder, nil
	}
	return nil, typeErr(t, "no dbus mapping for type")
}

func newAddrUnmarshalDecoder(t reflect.Type) wire.DecoderFunc {
	ptr := newUnmarshalDecoder(reflect.PointerTo(t))
	return func(d *wire.Decoder, v reflect.Value) error {
		return ptr(d, v.Addr())
	}
}

func newUnmarshalDecoder(t reflect.Type) wire.DecoderFunc {
	return func(d *wire.Decoder, v reflect.Value) error {
		if v.IsNil() {
			v.Set(reflect.New(t.Elem()))
		}
		return v.Interface().(Unmarshaler).UnmarshalDBus(d)
	}
}

// anyDecoder decodes a variant into an `any` target, unwrapping the
// Variant envelope.
func anyDecoder(d *wire.Decoder, v reflect.Value) error {
	var variant Variant
	if err := variant.UnmarshalDBus(d); err != nil {
		return err
	}
	v.Set(reflect.ValueOf(variant.Value))
	return nil
}

func newPtrDecoder(t reflect.Type) (wire.DecoderFunc, error) {
	elem := t.Elem()
	elemDec, err := decoderFor(elem)
	if err != nil {
		return nil, err
	}
	fn := func(d *wire.Decoder, v reflect.Value) error {
		if v.IsNil() {
			ev := reflect.New(elem)
			if err := elemDec(d, ev.Elem()); err != nil {
				return err
			}
			v.Set(ev)
			return nil
		}
		return elemDec(d, v.Elem())
	}
	return fn, nil
}

func boolDecoder(d *wire.Decoder, v reflect.Value) error {
	u, err := d.Uint32()
	if err != nil {
		return err
	}
	v.SetBool(u != 0)
	return nil
}

func newIntDecoder(t reflect.Type) wire.DecoderFunc {
	switch t.Size() {
	case 2:
		return func(d *wire.Decoder, v reflect.Value) error {
			u16, err := d.Uint16()
			if err != nil {
				return err
			}
			v.SetInt(int64(int16(u16)))
			return nil
		}
	case 4:
		return func(d *wire.Decoder, v reflect.Value) error {
			u32, err := d.Uint32()
			if err != nil {
				return err
			}
			v.SetInt(int64(int32(u32)))
			return nil
		}
	case 8:
		return func(d *wire.Decoder, v reflect.Value) error {
			u64, err := d.Uint64()
			if err != nil {
				return err
			}
			v.SetInt(int64(u64))
			return nil
		}
	default:
		panic("invalid newIntDecoder type")
	}
}

func newUintDecoder(t reflect.Type) wire.DecoderFunc {
	switch t.Size() {
	case 1:
		return func(d *wire.Decoder, v reflect.Value) error {
			u8, err := d.Uint8()
			if err != nil {
				return err
			}
			v.SetUint(uint64(u8))
			return nil
		}
	case 2:
		return func(d *wire.Decoder, v reflect.Value) error {
			u16, err := d.Uint16()
			if err != nil {
				return err
			}
			v.SetUint(uint64(u16))
			return nil
		}
	case 4:
		return func(d *wire.Decoder, v reflect.Value) error {
			u32, err := d.Uint32()
			if err != nil {
				return err
			}
			v.SetUint(uint64(u32))
			return nil
		}
	case 8:
		return func(d *wire.Decoder, v reflect.Value) error {
			u64, err := d.Uint64()
			if err != nil {
				return err
			}
			v.SetUint(u64)
			return nil
		}
	default:
		panic("invalid newUintDecoder type")
	}
}

func floatDecoder(d *wire.Decoder, v reflect.Value) error {
	u64, err := d.Uint64()
	if err != nil {
		return err
	}
	v.SetFloat(math.Float64frombits(u64))
	return nil
}

func stringDecoder(d *wire.Decoder, v reflect.Value) error {
	s, err := d.String()
	if err != nil {
		return err
	}
	v.SetString(s)
	return nil
}

func newSliceDecoder(t reflect.Type) (wire.DecoderFunc, error) {
	if t.Kind() == reflect.Array {
		return newArrayDecoder(t)
	}
	if t.Elem().Kind() == reflect.Uint8 {
		// Fast path for []byte
		fn := func(d *wire.Decoder, v reflect.Value) error {
			bs, err := d.Bytes()
			if err != nil {
				return err
			}
			v.SetBytes(append(v.Bytes()[:0], bs...))
			return nil
		}
		return fn, nil
	}

	elemDec, err := decoderFor(t.Elem())
	if err != nil {
		return nil, err
	}
	isStruct := alignsAsStruct(t.Elem())

	fn := func(d *wire.Decoder, v reflect.Value) error {
		v.Set(v.Slice(0, 0))
		_, err := d.Array(isStruct, func(i int) error {
			v.Grow(1)
			v.Set(v.Slice(0, i+1))
			return elemDec(d, v.Index(i))
		})
		return err
	}
	return fn, nil
}

func newArrayDecoder(t reflect.Type) (wire.DecoderFunc, error) {
	elemDec, err := decoderFor(t.Elem())
	if err != nil {
		return nil, err
	}
	isStruct := alignsAsStruct(t.Elem())
	ln := t.Len()

	fn := func(d *wire.Decoder, v reflect.Value) error {
		got, err := d.Array(isStruct, func(i int) error {
			if i >= ln {
				return typeErr(t, "wire array too long for fixed-size array")
			}
			return elemDec(d, v.Index(i))
		})
		if err != nil {
			return err
		}
		if got != ln {
			return typeErr(t, "wire array has %d elements, want %d", got, ln)
		}
		return nil
	}
	return fn, nil
}

func newStructDecoder(t reflect.Type) (wire.DecoderFunc, error) {
	fs, err := getStructInfo(t)
	if err != nil {
		return nil, typeErr(t, "getting struct info: %w", err)
	}

	type fieldDecoder struct {
		field *structField
		dec   wire.DecoderFunc
	}
	var frags []fieldDecoder
	for _, f := range fs.fields {
		fDec, err := decoderFor(f.Type)
		if err != nil {
			return nil, err
		}
		frags = append(frags, fieldDecoder{f, fDec})
	}

	fn := func(d *wire.Decoder, v reflect.Value) error {
		return d.Struct(func() error {
			for _, frag := range frags {
				if err := frag.dec(d, frag.field.GetWithAlloc(v)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return fn, nil
}

func newMapDecoder(t reflect.Type) (wire.DecoderFunc, error) {
	kt := t.Key()
	if !mapKeyKinds.Has(kt.Kind()) {
		return nil, typeErr(t, "invalid map key type %s", kt)
	}
	kDec, err := decoderFor(kt)
	if err != nil {
		return nil, err
	}
	vt := t.Elem()
	vDec, err := decoderFor(vt)
	if err != nil {
		return nil, err
	}

	fn := func(d *wire.Decoder, v reflect.Value) error {
		if v.IsNil() {
			v.Set(reflect.MakeMap(t))
		} else {
			v.Clear()
		}

		key := reflect.New(kt)
		val := reflect.New(vt)

		_, err := d.Array(true, func(int) error {
			key.Elem().SetZero()
			val.Elem().SetZero()
			err := d.Struct(func() error {
				if err := kDec(d, key.Elem()); err != nil {
					return err
				}
				return vDec(d, val.Elem())
			})
			if err != nil {
				return err
			}
			v.SetMapIndex(key.Elem(), val.Elem())
			return nil
		})
		return err
	}
	return fn, nil
}
