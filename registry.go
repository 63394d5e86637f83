package objbus

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

// An Object is a collection of interface implementations exported at
// a single object path. Objects are safe for concurrent use: dispatch
// may run while further interfaces are being registered.
type Object struct {
	// Log, if set, receives reports of handler contract violations
	// and other conditions that are surfaced to remote callers only
	// as opaque internal errors.
	Log logrus.FieldLogger

	path ObjectPath

	mu     sync.RWMutex
	order  []*boundInterface
	byName map[string]*boundInterface
}

// NewObject returns an empty Object exported at the given path. It
// returns an error if the path violates the DBus object path grammar.
func NewObject(path ObjectPath) (*Object, error) {
	if !path.Valid() {
		return nil, fmt.Errorf("invalid object path %q", path)
	}
	return &Object{
		path:   path,
		byName: make(map[string]*boundInterface),
	}, nil
}

// Path returns the object path the Object is exported at.
func (o *Object) Path() ObjectPath { return o.path }

// Register binds the given interface declaration and adds it to the
// object. It returns a [BindError] if any member cannot be mapped
// onto the DBus type system, and [ErrDuplicateInterface] if the
// interface name is already registered.
//
// The names of the standard org.freedesktop.DBus interfaces the
// object implements itself cannot be registered.
func (o *Object) Register(def Interface) error {
	bound, err := bindInterface(def)
	if err != nil {
		return err
	}
	if isBuiltinInterface(bound.name) {
		return bindErr(bound.name, "", "interface is implemented by the object itself")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.byName[bound.name]; ok {
		return fmt.Errorf("interface %s: %w", bound.name, ErrDuplicateInterface)
	}
	o.order = append(o.order, bound)
	o.byName[bound.name] = bound
	return nil
}

// Interfaces returns the names of the registered interfaces, in
// registration order. The standard interfaces the object implements
// itself are not included.
func (o *Object) Interfaces() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ret := make([]string, len(o.order))
	for i, iface := range o.order {
		ret[i] = iface.name
	}
	return ret
}

// snapshot returns the registered interfaces in registration order.
// The returned slice must not be mutated.
func (o *Object) snapshot() []*boundInterface {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.order
}

func (o *Object) lookup(name string) (*boundInterface, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ret, ok := o.byName[name]
	return ret, ok
}

// MemberKind distinguishes the three kinds of interface members.
type MemberKind int

const (
	MethodMember MemberKind = iota
	PropertyMember
	SignalMember
)

func (k MemberKind) String() string {
	switch k {
	case MethodMember:
		return "method"
	case PropertyMember:
		return "property"
	case SignalMember:
		return "signal"
	default:
		return "unknown"
	}
}

// MemberInfo describes a resolved interface member.
type MemberInfo struct {
	Kind      MemberKind
	Interface string
	Name      string

	// In and Out are the member's argument signatures. For a property
	// both hold the single property signature; for a signal In is nil
	// and Out holds the payload signatures.
	In  []Signature
	Out []Signature

	// Readable and Writable describe a property's access mode. They
	// are false for methods and signals.
	Readable bool
	Writable bool
}

func (iface *boundInterface) memberInfo(member string) (*MemberInfo, error) {
	if m, ok := iface.methodsByName[member]; ok {
		return &MemberInfo{
			Kind:      MethodMember,
			Interface: iface.name,
			Name:      m.name,
			In:        m.in,
			Out:       m.out,
		}, nil
	}
	if p, ok := iface.propsByName[member]; ok {
		return &MemberInfo{
			Kind:      PropertyMember,
			Interface: iface.name,
			Name:      p.name,
			In:        []Signature{p.sig},
			Out:       []Signature{p.sig},
			Readable:  p.readable(),
			Writable:  p.writable(),
		}, nil
	}
	if s, ok := iface.signalsByName[member]; ok {
		return &MemberInfo{
			Kind:      SignalMember,
			Interface: iface.name,
			Name:      s.name,
			Out:       s.args,
		}, nil
	}
	return nil, fmt.Errorf("%s.%s: %w", iface.name, member, ErrUnknownMember)
}

// Resolve looks up a member of a registered interface. If iface is
// empty, registered interfaces are searched in registration order and
// the first member with the given name wins, mirroring how DBus
// messages without an interface field are dispatched.
func (o *Object) Resolve(iface, member string) (*MemberInfo, error) {
	if iface == "" {
		for _, bi := range o.snapshot() {
			if ret, err := bi.memberInfo(member); err == nil {
				return ret, nil
			}
		}
		return nil, fmt.Errorf("%s: %w", member, ErrUnknownMember)
	}
	bi, ok := o.lookup(iface)
	if !ok {
		return nil, fmt.Errorf("%s: %w", iface, ErrUnknownInterface)
	}
	return bi.memberInfo(member)
}

// GetProperty invokes the property's getter and returns its value
// wrapped in a [Variant]. It returns [ErrUnknownInterface],
// [ErrUnknownMember] or [ErrNotReadable] for lookup failures, and the
// getter's own error otherwise.
func (o *Object) GetProperty(ctx context.Context, iface, name string) (Variant, error) {
	bi, ok := o.lookup(iface)
	if !ok {
		return Variant{}, fmt.Errorf("%s: %w", iface, ErrUnknownInterface)
	}
	p, ok := bi.propsByName[name]
	if !ok {
		return Variant{}, fmt.Errorf("%s.%s: %w", iface, name, ErrUnknownMember)
	}
	return p.get(ctx)
}

func (p *boundProp) get(ctx context.Context) (Variant, error) {
	if !p.readable() {
		return Variant{}, fmt.Errorf("%s: %w", p.name, ErrNotReadable)
	}
	var args []reflect.Value
	if p.getCtx {
		args = append(args, reflect.ValueOf(ctx))
	}
	rets := p.getter.Call(args)
	if p.getErr {
		if err, _ := rets[1].Interface().(error); err != nil {
			return Variant{}, err
		}
	}
	return Variant{rets[0].Interface()}, nil
}

// SetProperty invokes the property's setter with the variant's value.
// The value's signature must match the property's signature exactly.
func (o *Object) SetProperty(ctx context.Context, iface, name string, value Variant) error {
	bi, ok := o.lookup(iface)
	if !ok {
		return fmt.Errorf("%s: %w", iface, ErrUnknownInterface)
	}
	p, ok := bi.propsByName[name]
	if !ok {
		return fmt.Errorf("%s.%s: %w", iface, name, ErrUnknownMember)
	}
	if !p.writable() {
		return fmt.Errorf("%s.%s: %w", iface, name, ErrNotWritable)
	}
	val, err := p.convert(value)
	if err != nil {
		return err
	}
	return p.set(ctx, val)
}

// convert adapts a variant's dynamic value to the setter's parameter
// type. The value must carry the property's signature.
func (p *boundProp) convert(value Variant) (reflect.Value, error) {
	got, err := value.Signature()
	if err != nil {
		return reflect.Value{}, err
	}
	if got.String() != p.sig.String() {
		return reflect.Value{}, fmt.Errorf("property %s has signature %q, got value with signature %q", p.name, p.sig, got)
	}
	rv := reflect.ValueOf(value.Value)
	if rv.Type() == p.typ {
		return rv, nil
	}
	if !rv.Type().ConvertibleTo(p.typ) {
		return reflect.Value{}, fmt.Errorf("cannot convert %s to property type %s", rv.Type(), p.typ)
	}
	return rv.Convert(p.typ), nil
}

func (p *boundProp) set(ctx context.Context, val reflect.Value) error {
	var args []reflect.Value
	if p.setCtx {
		args = append(args, reflect.ValueOf(ctx))
	}
	args = append(args, val)
	rets := p.setter.Call(args)
	if p.setErr {
		if err, _ := rets[0].Interface().(error); err != nil {
			return err
		}
	}
	return nil
}

func (o *Object) logf(format string, args ...any) {
	if o.Log == nil {
		return
	}
	o.Log.Errorf(format, args...)
}
