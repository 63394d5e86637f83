package objbus

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/objbus/objbus/wire"
)

// A Signature describes the type of a DBus value. It pairs a
// signature string, as defined by the DBus specification, with the Go
// type that represents such values in memory.
//
// Signatures are immutable once constructed.
type Signature struct {
	typ reflect.Type
	str string
}

// String returns the string encoding of the Signature, as described
// in the DBus specification.
func (s Signature) String() string { return s.str }

// IsZero reports whether the signature is the zero value, which
// describes a void value.
func (s Signature) IsZero() bool { return s.typ == nil }

// Type returns the Go type the Signature maps to, or nil for the zero
// Signature.
func (s Signature) Type() reflect.Type { return s.typ }

func (s Signature) MarshalDBus(e *wire.Encoder) error {
	e.Signature(s.str)
	return nil
}

func (s *Signature) UnmarshalDBus(d *wire.Decoder) error {
	str, err := d.Signature()
	if err != nil {
		return err
	}
	sig, err := ParseSignature(str)
	if err != nil {
		return err
	}
	*s = sig
	return nil
}

func (s Signature) SignatureDBus() Signature { return sigSignature }

var sigSignature = Signature{reflect.TypeFor[Signature](), "g"}

var (
	typeToSignature cache[reflect.Type, Signature]
	strToSignature  cache[string, Signature]
)

func mkSignature(typ reflect.Type, str string) Signature {
	return Signature{typ, str}
}

// ParseSignature parses a DBus type signature string describing a
// single complete type. It returns a [SignatureError] if sig violates
// the signature grammar.
func ParseSignature(sig string) (Signature, error) {
	if ret, err := strToSignature.Get(sig); err == nil {
		return ret, nil
	} else if !errors.Is(err, errNotFound) {
		return Signature{}, err
	}

	ret, err := parseSignature(sig)
	if err != nil {
		strToSignature.SetErr(sig, err)
		return Signature{}, err
	}
	strToSignature.Set(sig, ret)
	return ret, nil
}

func parseSignature(sig string) (Signature, error) {
	if sig == "" {
		return Signature{}, nil
	}
	if len(sig) > 255 {
		return Signature{}, sigErr(sig, "signature longer than 255 bytes")
	}
	typ, rest, err := parseOne(sig, false)
	if err != nil {
		return Signature{}, SignatureError{sig, err}
	}
	if rest != "" {
		return Signature{}, sigErr(sig, "trailing data %q after complete type", rest)
	}
	return mkSignature(typ, sig), nil
}

// parseSignatureList parses a signature string containing zero or
// more complete types, such as a message body signature.
func parseSignatureList(sig string) ([]Signature, error) {
	var (
		ret  []Signature
		rest = sig
	)
	for rest != "" {
		typ, r, err := parseOne(rest, false)
		if err != nil {
			return nil, SignatureError{sig, err}
		}
		ret = append(ret, mkSignature(typ, rest[:len(rest)-len(r)]))
		rest = r
	}
	return ret, nil
}

// parseOne consumes the first complete type from the front of sig,
// and returns the corresponding Go type as well as the remainder of
// the signature string.
func parseOne(sig string, inArray bool) (t reflect.Type, rest string, err error) {
	if sig == "" {
		return nil, "", errors.New("truncated signature")
	}
	if ret, ok := strToType[sig[0]]; ok {
		return ret, sig[1:], nil
	}

	switch sig[0] {
	case 'a':
		if len(sig) == 1 {
			return nil, "", errors.New("array code with no element type")
		}
		isDict := sig[1] == '{'
		elem, rest, err := parseOne(sig[1:], true)
		if err != nil {
			return nil, "", err
		}
		if isDict {
			return elem, rest, nil // sub-parser already produced a map
		}
		return reflect.SliceOf(elem), rest, nil
	case '(':
		var (
			fields []reflect.Type
			field  reflect.Type
			rest   = sig[1:]
		)
		for rest != "" && rest[0] != ')' {
			field, rest, err = parseOne(rest, false)
			if err != nil {
				return nil, "", err
			}
			fields = append(fields, field)
		}
		if rest == "" {
			return nil, "", errors.New("missing closing ) in struct definition")
		}
		if len(fields) == 0 {
			return nil, "", errors.New("empty struct definition")
		}
		fs := make([]reflect.StructField, len(fields))
		for i, f := range fields {
			fs[i] = reflect.StructField{
				Name: fmt.Sprintf("Field%d", i),
				Type: f,
			}
		}
		return reflect.StructOf(fs), rest[1:], nil
	case '{':
		if !inArray {
			return nil, "", errors.New("dict entry type found outside array")
		}
		key, rest, err := parseOne(sig[1:], false)
		if err != nil {
			return nil, "", err
		}
		if !mapKeyKinds.Has(key.Kind()) {
			return nil, "", fmt.Errorf("invalid dict entry key type %s, must be a dbus basic type", key)
		}
		if rest == "" {
			return nil, "", errors.New("dict entry with no value type")
		}
		val, rest, err := parseOne(rest, false)
		if err != nil {
			return nil, "", err
		}
		if rest == "" || rest[0] != '}' {
			return nil, "", errors.New("missing closing } in dict entry definition")
		}
		return reflect.MapOf(key, val), rest[1:], nil
	default:
		return nil, "", fmt.Errorf("unknown type code %q", sig[0])
	}
}

func mustParseSignature(sig string) Signature {
	ret, err := ParseSignature(sig)
	if err != nil {
		panic(err)
	}
	return ret
}

// A signer provides its own DBus signature.
type signer interface {
	SignatureDBus() Signature
}

var signerType = reflect.TypeFor[signer]()

// SignatureFor returns the Signature for the given type. It returns a
// [TypeError] if values of the type cannot be represented in the DBus
// wire format.
func SignatureFor[T any]() (Signature, error) {
	return signatureFor(reflect.TypeFor[T](), nil)
}

// SignatureOf returns the Signature of the given value.
func SignatureOf(v any) (Signature, error) {
	if v == nil {
		return Signature{}, typeErr(nil, "nil interface")
	}
	return signatureFor(reflect.TypeOf(v), nil)
}

func signatureFor(t reflect.Type, stack []reflect.Type) (sig Signature, err error) {
	if ret, err := typeToSignature.Get(t); err == nil {
		return ret, nil
	} else if !errors.Is(err, errNotFound) {
		return Signature{}, err
	}

	if slices.Contains(stack, t) {
		return Signature{}, typeErr(t, "recursive type")
	}
	stack = append(stack, t)

	// Note, defer captures the type value before deref below.
	defer func(t reflect.Type) {
		if err != nil {
			typeToSignature.SetErr(t, err)
		} else {
			typeToSignature.Set(t, sig)
		}
	}(t)

	t = derefType(t)

	if t.Implements(signerType) {
		return reflect.Zero(t).Interface().(signer).SignatureDBus(), nil
	}
	if pt := reflect.PointerTo(t); pt.Implements(signerType) {
		return reflect.Zero(pt).Interface().(signer).SignatureDBus(), nil
	}

	if t == reflect.TypeFor[any]() {
		return mkSignature(t, "v"), nil
	}

	if ret := kindToType[t.Kind()]; ret != nil {
		return mkSignature(ret, string(kindToStr[t.Kind()])), nil
	}

	switch t.Kind() {
	case reflect.Int, reflect.Uint:
		return Signature{}, typeErr(t, "int and uint aren't portable, use fixed width integers")
	case reflect.Int8:
		return Signature{}, typeErr(t, "int8 has no corresponding DBus type, use uint8 instead")
	case reflect.Float32:
		return Signature{}, typeErr(t, "float32 has no corresponding DBus type, use float64 instead")
	case reflect.Slice, reflect.Array:
		es, err := signatureFor(t.Elem(), stack)
		if err != nil {
			return Signature{}, err
		}
		return mkSignature(reflect.SliceOf(es.typ), "a"+es.str), nil
	case reflect.Map:
		k := t.Key()
		switch k.Kind() {
		case reflect.Interface:
			return Signature{}, typeErr(t, "map keys cannot be interfaces")
		case reflect.Slice, reflect.Array:
			return Signature{}, typeErr(t, "map keys cannot be slices or arrays")
		case reflect.Struct:
			return Signature{}, typeErr(t, "map keys cannot be structs")
		}
		ks, err := signatureFor(k, stack)
		if err != nil {
			return Signature{}, err
		}
		vs, err := signatureFor(t.Elem(), stack)
		if err != nil {
			return Signature{}, err
		}
		return mkSignature(reflect.MapOf(ks.typ, vs.typ), "a{"+ks.str+vs.str+"}"), nil
	case reflect.Struct:
		fs, err := getStructInfo(t)
		if err != nil {
			return Signature{}, typeErr(t, "getting struct info: %w", err)
		}
		if len(fs.fields) == 0 {
			return Signature{}, typeErr(t, "struct with no encodable fields")
		}
		var s []string
		for _, f := range fs.fields {
			// Descend through all fields, to look for cyclic
			// references.
			fieldSig, err := signatureFor(f.Type, stack)
			if err != nil {
				return Signature{}, err
			}
			s = append(s, fieldSig.str)
		}
		return mkSignature(t, "("+strings.Join(s, "")+")"), nil
	}

	return Signature{}, typeErr(t, "no dbus mapping for %s", t.Kind())
}

// derefType unwraps pointer types down to their base type.
func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// alignsAsStruct reports whether values of type t are laid out like a
// DBus struct or dict entry, i.e. padded to 8 byte boundaries. It is
// used to decide array header padding.
func alignsAsStruct(t reflect.Type) bool {
	sig, err := signatureFor(derefType(t), nil)
	if err != nil {
		return false
	}
	return strings.HasPrefix(sig.str, "(") || strings.HasPrefix(sig.str, "{")
}
