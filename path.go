package objbus

import (
	"reflect"

	"github.com/objbus/objbus/wire"
)

// An ObjectPath is a DBus object path, a slash-separated hierarchical
// name like "/org/example/Frobnicator".
type ObjectPath string

// Valid reports whether the path conforms to the DBus object path
// grammar: it begins with '/', path elements are non-empty runs of
// [A-Za-z0-9_] separated by single slashes, and only the root path
// ends in a slash.
func (p ObjectPath) Valid() bool {
	if p == "" || p[0] != '/' {
		return false
	}
	if p == "/" {
		return true
	}
	if p[len(p)-1] == '/' {
		return false
	}
	elem := 0
	for _, c := range p[1:] {
		switch {
		case c == '/':
			if elem == 0 {
				return false
			}
			elem = 0
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			elem++
		default:
			return false
		}
	}
	return elem > 0
}

var objectPathSignature = Signature{reflect.TypeFor[ObjectPath](), "o"}

func (p ObjectPath) SignatureDBus() Signature { return objectPathSignature }

func (p ObjectPath) MarshalDBus(e *wire.Encoder) error {
	e.String(string(p))
	return nil
}

func (p *ObjectPath) UnmarshalDBus(d *wire.Decoder) error {
	s, err := d.String()
	if err != nil {
		return err
	}
	*p = ObjectPath(s)
	return nil
}
