package objbus

import (
	"fmt"
	"reflect"

	"github.com/objbus/objbus/wire"
)

// A Variant is a value paired with its type signature on the wire.
// DBus interfaces use variants where the type of a value is only
// known at runtime, such as property values in the
// org.freedesktop.DBus.Properties interface.
type Variant struct {
	Value any
}

var (
	variantType      = reflect.TypeFor[Variant]()
	variantSignature = Signature{variantType, "v"}
)

func (v Variant) SignatureDBus() Signature { return variantSignature }

// Signature returns the signature that describes the variant's inner
// value.
func (v Variant) Signature() (Signature, error) {
	return SignatureOf(v.Value)
}

func (v Variant) MarshalDBus(e *wire.Encoder) error {
	sig, err := SignatureOf(v.Value)
	if err != nil {
		return fmt.Errorf("getting signature of Variant value: %w", err)
	}
	e.Signature(sig.String())
	enc, err := encoderFor(reflect.TypeOf(v.Value))
	if err != nil {
		return err
	}
	return enc(e, reflect.ValueOf(v.Value))
}

func (v *Variant) UnmarshalDBus(d *wire.Decoder) error {
	str, err := d.Signature()
	if err != nil {
		return fmt.Errorf("reading Variant signature: %w", err)
	}
	sig, err := ParseSignature(str)
	if err != nil {
		return fmt.Errorf("parsing Variant signature: %w", err)
	}
	if sig.IsZero() {
		return sigErr(str, "Variant with empty signature")
	}
	dec, err := decoderFor(sig.Type())
	if err != nil {
		return fmt.Errorf("unsupported Variant type signature %q: %w", str, err)
	}
	inner := reflect.New(sig.Type())
	if err := dec(d, inner.Elem()); err != nil {
		return fmt.Errorf("reading Variant value (signature %q): %w", str, err)
	}
	v.Value = inner.Elem().Interface()
	return nil
}
