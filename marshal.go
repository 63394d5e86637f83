package objbus

import (
	"errors"
	"math"
	"reflect"
	"slices"

	"github.com/objbus/objbus/wire"
)

// Marshal returns the DBus wire encoding of v, using the given byte
// order.
//
// Marshal traverses the value v recursively. If an encountered value
// implements [Marshaler], Marshal calls MarshalDBus on it to produce
// its encoding.
//
// Otherwise, Marshal uses the following type-dependent default
// encodings:
//
// uint{8,16,32,64}, int{16,32,64}, float64, bool and string values
// encode to the corresponding DBus basic type.
//
// Array and slice values encode as DBus arrays. Nil slices encode the
// same as an empty slice.
//
// Struct values encode as DBus structs. Each exported struct field is
// encoded in declaration order, according to its own type. Fields
// tagged `dbus:"-"` are skipped. Embedded struct fields are encoded
// as if their inner exported fields were fields in the outer struct,
// subject to the usual Go visibility rules.
//
// Map values encode as a DBus dictionary, i.e. an array of key/value
// pairs sorted by key. The map's key underlying type must be
// uint{8,16,32,64}, int{16,32,64}, float64, bool, or string.
//
// Pointer values encode as the value pointed to. A nil pointer
// encodes as the zero value of the type pointed to.
//
// [Signature], [ObjectPath] and [Variant] values encode to the
// corresponding DBus types. 'any' values encode as DBus variants
// carrying their dynamic value.
//
// int8, int, uint, uintptr, float32, complex, channel and function
// values cannot be encoded. Attempting to encode such values causes
// Marshal to return a [TypeError]. So does attempting to encode a
// cyclic or recursive type, which DBus cannot represent.
func Marshal(v any, ord wire.ByteOrder) ([]byte, error) {
	e := wire.Encoder{
		Order:  ord,
		Mapper: encoderFor,
	}
	if err := e.Value(v); err != nil {
		return nil, err
	}
	return e.Out, nil
}

// Marshaler is the interface implemented by types that can marshal
// themselves to the DBus wire format.
//
// SignatureDBus is invoked on zero values of the Marshaler, and must
// return a constant value.
//
// MarshalDBus is responsible for inserting padding appropriate to the
// values being encoded, and for producing output that matches the
// structure declared by SignatureDBus.
type Marshaler interface {
	SignatureDBus() Signature
	MarshalDBus(e *wire.Encoder) error
}

var marshalerType = reflect.TypeFor[Marshaler]()

var encoders cache[reflect.Type, wire.EncoderFunc]

func encoderFor(t reflect.Type) (ret wire.EncoderFunc, err error) {
	if ret, err := encoders.Get(t); err == nil {
		return ret, nil
	} else if !errors.Is(err, errNotFound) {
		return nil, err
	}
	defer func() {
		if err != nil {
			encoders.SetErr(t, err)
		} else {
			encoders.Set(t, ret)
		}
	}()

	// Validate representability up front, so that encoding errors
	// surface before any bytes are written.
	if _, err := signatureFor(t, nil); err != nil {
		return nil, err
	}

	// If a value's pointer type implements Marshaler, use it for
	// addressable values to avoid a copy.
	if t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(marshalerType) {
		return newCondAddrMarshalEncoder(t), nil
	} else if t.Implements(marshalerType) {
		return marshalEncoder, nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		return newPtrEncoder(t)
	case reflect.Bool:
		return boolEncoder, nil
	case reflect.Int16, reflect.Int32, reflect.Int64:
		return newIntEncoder(t), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return newUintEncoder(t), nil
	case reflect.Float64:
		return floatEncoder, nil
	case reflect.String:
		return stringEncoder, nil
	case reflect.Slice, reflect.Array:
		return newSliceEncoder(t)
	case reflect.Struct:
		return newStructEncoder(t)
	case reflect.Map:
		return newMapEncoder(t)
	case reflect.Interface:
		return variantEncoder, nil
	}
	return nil, typeErr(t, "no dbus mapping for type")
}

func newCondAddrMarshalEncoder(t reflect.Type) wire.EncoderFunc {
	if t.Implements(marshalerType) {
		return func(e *wire.Encoder, v reflect.Value) error {
			if v.CanAddr() {
				v = v.Addr()
			}
			return v.Interface().(Marshaler).MarshalDBus(e)
		}
	}
	return func(e *wire.Encoder, v reflect.Value) error {
		if !v.CanAddr() {
			return typeErr(t, "Marshaler is only implemented on pointer receiver, and cannot take the address of given value")
		}
		return v.Addr().Interface().(Marshaler).MarshalDBus(e)
	}
}

func marshalEncoder(e *wire.Encoder, v reflect.Value) error {
	return v.Interface().(Marshaler).MarshalDBus(e)
}

// variantEncoder encodes an interface value as a DBus variant
// wrapping its dynamic value.
func variantEncoder(e *wire.Encoder, v reflect.Value) error {
	return Variant{v.Interface()}.MarshalDBus(e)
}

func newPtrEncoder(t reflect.Type) (wire.EncoderFunc, error) {
	elemEnc, err := encoderFor(t.Elem())
	if err != nil {
		return nil, err
	}
	fn := func(e *wire.Encoder, v reflect.Value) error {
		if v.IsNil() {
			return elemEnc(e, reflect.Zero(t.Elem()))
		}
		return elemEnc(e, v.Elem())
	}
	return fn, nil
}

func boolEncoder(e *wire.Encoder, v reflect.Value) error {
	val := uint32(0)
	if v.Bool() {
		val = 1
	}
	e.Uint32(val)
	return nil
}

func newIntEncoder(t reflect.Type) wire.EncoderFunc {
	switch t.Size() {
	case 2:
		return func(e *wire.Encoder, v reflect.Value) error {
			e.Uint16(uint16(v.Int()))
			return nil
		}
	case 4:
		return func(e *wire.Encoder, v reflect.Value) error {
			e.Uint32(uint32(v.Int()))
			return nil
		}
	case 8:
		return func(e *wire.Encoder, v reflect.Value) error {
			e.Uint64(uint64(v.Int()))
			return nil
		}
	default:
		panic("invalid newIntEncoder type")
	}
}

func newUintEncoder(t reflect.Type) wire.EncoderFunc {
	switch t.Size() {
	case 1:
		return func(e *wire.Encoder, v reflect.Value) error {
			e.Uint8(uint8(v.Uint()))
			return nil
		}
	case 2:
		return func(e *wire.Encoder, v reflect.Value) error {
			e.Uint16(uint16(v.Uint()))
			return nil
		}
	case 4:
		return func(e *wire.Encoder, v reflect.Value) error {
			e.Uint32(uint32(v.Uint()))
			return nil
		}
	case 8:
		return func(e *wire.Encoder, v reflect.Value) error {
			e.Uint64(v.Uint())
			return nil
		}
	default:
		panic("invalid newUintEncoder type")
	}
}

func floatEncoder(e *wire.Encoder, v reflect.Value) error {
	e.Uint64(math.Float64bits(v.Float()))
	return nil
}

func stringEncoder(e *wire.Encoder, v reflect.Value) error {
	e.String(v.String())
	return nil
}

func newSliceEncoder(t reflect.Type) (wire.EncoderFunc, error) {
	if t.Elem().Kind() == reflect.Uint8 && t.Kind() == reflect.Slice {
		// Fast path for []byte
		return func(e *wire.Encoder, v reflect.Value) error {
			e.Bytes(v.Bytes())
			return nil
		}, nil
	}

	elemEnc, err := encoderFor(t.Elem())
	if err != nil {
		return nil, err
	}
	isStruct := alignsAsStruct(t.Elem())

	fn := func(e *wire.Encoder, v reflect.Value) error {
		return e.Array(isStruct, func() error {
			for i := 0; i < v.Len(); i++ {
				if err := elemEnc(e, v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return fn, nil
}

func newStructEncoder(t reflect.Type) (wire.EncoderFunc, error) {
	fs, err := getStructInfo(t)
	if err != nil {
		return nil, typeErr(t, "getting struct info: %w", err)
	}

	type fieldEncoder struct {
		field *structField
		enc   wire.EncoderFunc
	}
	var frags []fieldEncoder
	for _, f := range fs.fields {
		fEnc, err := encoderFor(f.Type)
		if err != nil {
			return nil, err
		}
		frags = append(frags, fieldEncoder{f, fEnc})
	}

	fn := func(e *wire.Encoder, v reflect.Value) error {
		return e.Struct(func() error {
			for _, frag := range frags {
				if err := frag.enc(e, frag.field.GetWithZero(v)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return fn, nil
}

func newMapEncoder(t reflect.Type) (wire.EncoderFunc, error) {
	kt := t.Key()
	if !mapKeyKinds.Has(kt.Kind()) {
		return nil, typeErr(t, "invalid map key type %s", kt)
	}
	kEnc, err := encoderFor(kt)
	if err != nil {
		return nil, err
	}
	vEnc, err := encoderFor(t.Elem())
	if err != nil {
		return nil, err
	}
	kCmp := mapKeyCmp(kt)

	fn := func(e *wire.Encoder, v reflect.Value) error {
		ks := v.MapKeys()
		slices.SortFunc(ks, kCmp)
		return e.Array(true, func() error {
			for _, mk := range ks {
				mv := v.MapIndex(mk)
				err := e.Struct(func() error {
					if err := kEnc(e, mk); err != nil {
						return err
					}
					return vEnc(e, mv)
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	return fn, nil
}
