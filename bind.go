package objbus

import (
	"context"
	"reflect"
	"strings"
)

// The binder turns [Interface] declarations into callable form. All
// reflection over handler funcs happens here, at registration time;
// dispatch only ever sees pre-resolved signatures and reflect.Values.

var (
	ctxType   = reflect.TypeFor[context.Context]()
	errorType = reflect.TypeFor[error]()
)

type boundInterface struct {
	name string

	// Declaration order, for the introspection document.
	methods []*boundMethod
	props   []*boundProp
	signals []*boundSignal

	methodsByName map[string]*boundMethod
	propsByName   map[string]*boundProp
	signalsByName map[string]*boundSignal
}

type boundMethod struct {
	name string
	fn   reflect.Value

	// wantsCtx and returnsErr record whether fn has a leading
	// context.Context parameter and a trailing error return.
	wantsCtx   bool
	returnsErr bool

	in  []Signature
	out []Signature

	inNames  []string
	outNames []string

	noReply    bool
	deprecated bool
}

// inStr returns the method's input signature string, the
// concatenation of its argument signatures.
func (m *boundMethod) inStr() string { return joinSigs(m.in) }

func (m *boundMethod) outStr() string { return joinSigs(m.out) }

type boundProp struct {
	name string
	sig  Signature
	typ  reflect.Type // the handler-side Go type of the property

	getter reflect.Value // invalid if not readable
	setter reflect.Value // invalid if not writable

	getCtx, getErr bool
	setCtx, setErr bool

	emit       EmitKind
	deprecated bool
}

func (p *boundProp) readable() bool { return p.getter.IsValid() }
func (p *boundProp) writable() bool { return p.setter.IsValid() }

type boundSignal struct {
	name string

	args     []Signature
	argNames []string

	deprecated bool
}

func (s *boundSignal) argStr() string { return joinSigs(s.args) }

func joinSigs(sigs []Signature) string {
	var b strings.Builder
	for _, s := range sigs {
		b.WriteString(s.String())
	}
	return b.String()
}

// bindInterface validates def and resolves its members. Member names
// share one namespace per interface: a method, property and signal
// cannot reuse a name.
func bindInterface(def Interface) (*boundInterface, error) {
	if !validInterfaceName(def.Name) {
		return nil, bindErr(def.Name, "", "invalid interface name %q", def.Name)
	}

	ret := &boundInterface{
		name:          def.Name,
		methodsByName: make(map[string]*boundMethod, len(def.Methods)),
		propsByName:   make(map[string]*boundProp, len(def.Properties)),
		signalsByName: make(map[string]*boundSignal, len(def.Signals)),
	}

	seen := make(map[string]bool)
	claim := func(name string) error {
		if !validMemberName(name) {
			return bindErr(def.Name, name, "invalid member name %q", name)
		}
		if seen[name] {
			return BindError{def.Name, name, ErrDuplicateMember}
		}
		seen[name] = true
		return nil
	}

	for _, m := range def.Methods {
		if err := claim(m.Name); err != nil {
			return nil, err
		}
		bm, err := bindMethod(def.Name, m)
		if err != nil {
			return nil, err
		}
		ret.methods = append(ret.methods, bm)
		ret.methodsByName[bm.name] = bm
	}
	for _, p := range def.Properties {
		if err := claim(p.Name); err != nil {
			return nil, err
		}
		bp, err := bindProperty(def.Name, p)
		if err != nil {
			return nil, err
		}
		ret.props = append(ret.props, bp)
		ret.propsByName[bp.name] = bp
	}
	for _, s := range def.Signals {
		if err := claim(s.Name); err != nil {
			return nil, err
		}
		bs, err := bindSignal(def.Name, s)
		if err != nil {
			return nil, err
		}
		ret.signals = append(ret.signals, bs)
		ret.signalsByName[bs.name] = bs
	}

	return ret, nil
}

// handlerFunc checks that fn is a usable handler and returns its
// type. A usable handler is a non-nil, non-variadic func.
func handlerFunc(iface, member string, fn any) (reflect.Type, error) {
	if fn == nil {
		return nil, bindErr(iface, member, "nil handler func")
	}
	t := reflect.TypeOf(fn)
	if t.Kind() != reflect.Func {
		return nil, bindErr(iface, member, "handler is %s, not a func", t)
	}
	if t.IsVariadic() {
		return nil, bindErr(iface, member, "variadic handler funcs are not supported")
	}
	return t, nil
}

func bindMethod(iface string, def Method) (*boundMethod, error) {
	t, err := handlerFunc(iface, def.Name, def.Fn)
	if err != nil {
		return nil, err
	}

	ret := &boundMethod{
		name:       def.Name,
		fn:         reflect.ValueOf(def.Fn),
		noReply:    def.NoReply,
		deprecated: def.Deprecated,
	}

	first := 0
	if t.NumIn() > 0 && t.In(0) == ctxType {
		ret.wantsCtx = true
		first = 1
	}
	for i := first; i < t.NumIn(); i++ {
		at := t.In(i)
		if at == ctxType {
			return nil, bindErr(iface, def.Name, "context.Context must be the first parameter")
		}
		sig, err := signatureFor(at, nil)
		if err != nil {
			return nil, BindError{iface, def.Name, err}
		}
		ret.in = append(ret.in, sig)
	}

	nOut := t.NumOut()
	if nOut > 0 && t.Out(nOut-1) == errorType {
		ret.returnsErr = true
		nOut--
	}
	for i := 0; i < nOut; i++ {
		rt := t.Out(i)
		if rt == errorType {
			return nil, bindErr(iface, def.Name, "error must be the last return value")
		}
		sig, err := signatureFor(rt, nil)
		if err != nil {
			return nil, BindError{iface, def.Name, err}
		}
		ret.out = append(ret.out, sig)
	}

	if def.NoReply && len(ret.out) > 0 {
		return nil, bindErr(iface, def.Name, "NoReply method declares output arguments")
	}
	if def.InNames != nil && len(def.InNames) != len(ret.in) {
		return nil, bindErr(iface, def.Name, "got %d input arg names for %d args", len(def.InNames), len(ret.in))
	}
	if def.OutNames != nil && len(def.OutNames) != len(ret.out) {
		return nil, bindErr(iface, def.Name, "got %d output arg names for %d return values", len(def.OutNames), len(ret.out))
	}
	ret.inNames = def.InNames
	ret.outNames = def.OutNames

	return ret, nil
}

func bindProperty(iface string, def Property) (*boundProp, error) {
	if def.Get == nil && def.Set == nil {
		return nil, bindErr(iface, def.Name, "property declares neither a getter nor a setter")
	}

	ret := &boundProp{
		name:       def.Name,
		emit:       def.Emit,
		deprecated: def.Deprecated,
	}

	var getType, setType reflect.Type

	if def.Get != nil {
		t, err := handlerFunc(iface, def.Name, def.Get)
		if err != nil {
			return nil, err
		}
		switch {
		case t.NumIn() == 0:
		case t.NumIn() == 1 && t.In(0) == ctxType:
			ret.getCtx = true
		default:
			return nil, bindErr(iface, def.Name, "getter may take only an optional context.Context")
		}
		switch {
		case t.NumOut() == 1 && t.Out(0) != errorType:
		case t.NumOut() == 2 && t.Out(1) == errorType:
			ret.getErr = true
		default:
			return nil, bindErr(iface, def.Name, "getter must return the property value and an optional error")
		}
		getType = t.Out(0)
		ret.getter = reflect.ValueOf(def.Get)
	}

	if def.Set != nil {
		t, err := handlerFunc(iface, def.Name, def.Set)
		if err != nil {
			return nil, err
		}
		switch {
		case t.NumIn() == 1 && t.In(0) != ctxType:
			setType = t.In(0)
		case t.NumIn() == 2 && t.In(0) == ctxType:
			ret.setCtx = true
			setType = t.In(1)
		default:
			return nil, bindErr(iface, def.Name, "setter must take the property value and an optional leading context.Context")
		}
		switch {
		case t.NumOut() == 0:
		case t.NumOut() == 1 && t.Out(0) == errorType:
			ret.setErr = true
		default:
			return nil, bindErr(iface, def.Name, "setter may return only an optional error")
		}
		ret.setter = reflect.ValueOf(def.Set)
	}

	if getType != nil && setType != nil && getType != setType {
		return nil, bindErr(iface, def.Name, "getter type %s and setter type %s disagree", getType, setType)
	}
	pt := getType
	if pt == nil {
		pt = setType
	}
	sig, err := signatureFor(pt, nil)
	if err != nil {
		return nil, BindError{iface, def.Name, err}
	}
	ret.sig = sig
	ret.typ = pt

	if def.Emit == EmitConst && ret.writable() {
		return nil, bindErr(iface, def.Name, "const property cannot be writable")
	}

	return ret, nil
}

func bindSignal(iface string, def Signal) (*boundSignal, error) {
	t, err := handlerFunc(iface, def.Name, def.Fn)
	if err != nil {
		return nil, err
	}
	if t.NumOut() != 0 {
		return nil, bindErr(iface, def.Name, "signal prototype must not return values")
	}

	ret := &boundSignal{
		name:       def.Name,
		deprecated: def.Deprecated,
	}
	for i := 0; i < t.NumIn(); i++ {
		at := t.In(i)
		if at == ctxType {
			return nil, bindErr(iface, def.Name, "signal payloads cannot contain a context.Context")
		}
		sig, err := signatureFor(at, nil)
		if err != nil {
			return nil, BindError{iface, def.Name, err}
		}
		ret.args = append(ret.args, sig)
	}
	if def.ArgNames != nil && len(def.ArgNames) != len(ret.args) {
		return nil, bindErr(iface, def.Name, "got %d arg names for %d args", len(def.ArgNames), len(ret.args))
	}
	ret.argNames = def.ArgNames

	return ret, nil
}
