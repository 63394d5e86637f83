package objbus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/objbus/objbus/wire"
)

// A Call describes one incoming method call, as extracted from a
// message by the transport.
type Call struct {
	// Interface is the destination interface name. It may be empty,
	// in which case registered interfaces are searched in
	// registration order.
	Interface string
	// Member is the method name.
	Member string
	// Signature is the body signature carried in the message header.
	Signature string
	// Body is the serialized argument data.
	Body []byte
	// Order is the byte order the body is encoded in, and the order
	// the reply is encoded in.
	Order wire.ByteOrder
	// NoReply reports that the caller set NO_REPLY_EXPECTED and does
	// not want a reply message.
	NoReply bool
	// Sender is the unique bus name of the caller, if known.
	Sender string
}

// A Reply is the outcome of dispatching a call.
type Reply struct {
	// Signature and Body hold the serialized return values. For an
	// error reply they hold the error detail string.
	Signature string
	Body      []byte
	// Err is non-nil for error replies.
	Err *CallError
	// NoReply reports that no reply message should be sent, either
	// because the caller asked for none or because the method is
	// declared NoReply.
	NoReply bool
	// Signals are messages to emit after the reply is sent, such as
	// PropertiesChanged after a successful property write.
	Signals []*SignalMessage
}

// A SignalMessage is a serialized signal emission, ready for a
// transport to wrap in a message and send.
type SignalMessage struct {
	Path      ObjectPath
	Interface string
	Member    string
	Signature string
	Body      []byte
	Order     wire.ByteOrder
}

// DispatchCall resolves and invokes the handler for call, and returns
// the reply to send. It never fails: all errors, including internal
// ones, are rendered as DBus error replies. Internal errors are
// additionally reported to [Object.Log].
func (o *Object) DispatchCall(ctx context.Context, call *Call) *Reply {
	ord := call.Order
	if ord == nil {
		ord = wire.NativeEndian
	}

	ret := o.dispatch(ctx, call, ord)
	if call.NoReply {
		ret.NoReply = true
	}
	return ret
}

func (o *Object) dispatch(ctx context.Context, call *Call, ord wire.ByteOrder) *Reply {
	if _, err := parseSignatureList(call.Signature); err != nil {
		return errorReply(ord, errInvalidArgs, "malformed body signature %q: %v", call.Signature, err)
	}

	if isBuiltinInterface(call.Interface) {
		return o.dispatchBuiltin(ctx, call, ord)
	}

	var m *boundMethod
	if call.Interface == "" {
		for _, bi := range o.snapshot() {
			if found, ok := bi.methodsByName[call.Member]; ok {
				m = found
				break
			}
		}
		if m == nil {
			if isBuiltinMember(call.Member) {
				return o.dispatchBuiltin(ctx, call, ord)
			}
			return errorReply(ord, errUnknownMethod, "no method %q on object %s", call.Member, o.path)
		}
	} else {
		bi, ok := o.lookup(call.Interface)
		if !ok {
			return errorReply(ord, errUnknownInterface, "no interface %q on object %s", call.Interface, o.path)
		}
		m, ok = bi.methodsByName[call.Member]
		if !ok {
			return errorReply(ord, errUnknownMethod, "no method %s.%s on object %s", call.Interface, call.Member, o.path)
		}
	}

	if want := m.inStr(); call.Signature != want {
		return errorReply(ord, errInvalidArgs, "method %s expects signature %q, got %q", m.name, want, call.Signature)
	}

	args, err := m.decodeArgs(call.Body, ord)
	if err != nil {
		return errorReply(ord, errInvalidArgs, "decoding arguments for %s: %v", m.name, err)
	}

	rets, err := m.invoke(ctx, args)
	if err != nil {
		return handlerErrorReply(ord, err)
	}
	if m.noReply {
		return &Reply{NoReply: true}
	}

	ret, err := m.encodeRets(rets, ord)
	if err != nil {
		o.logf("%v", ContractError{call.Interface, m.name, err})
		return errorReply(ord, errFailed, "internal error")
	}
	return ret
}

// decodeArgs deserializes the call body into the handler's parameter
// types.
func (m *boundMethod) decodeArgs(body []byte, ord wire.ByteOrder) ([]reflect.Value, error) {
	d := wire.NewDecoder(body, ord)
	d.Mapper = decoderFor

	t := m.fn.Type()
	first := 0
	if m.wantsCtx {
		first = 1
	}
	args := make([]reflect.Value, 0, len(m.in))
	for i := range m.in {
		at := t.In(first + i)
		dec, err := decoderFor(at)
		if err != nil {
			return nil, err
		}
		av := reflect.New(at)
		if err := dec(d, av.Elem()); err != nil {
			return nil, err
		}
		args = append(args, av.Elem())
	}
	if d.Rest() > 0 {
		return nil, fmt.Errorf("%d trailing bytes after arguments", d.Rest())
	}
	return args, nil
}

// invoke calls the handler. A panicking handler is reported as an
// error rather than taking down the dispatcher.
func (m *boundMethod) invoke(ctx context.Context, args []reflect.Value) (rets []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			rets, err = nil, fmt.Errorf("handler for %s panicked: %v", m.name, r)
		}
	}()

	if m.wantsCtx {
		args = append([]reflect.Value{reflect.ValueOf(ctx)}, args...)
	}
	rets = m.fn.Call(args)
	if m.returnsErr {
		last := rets[len(rets)-1]
		rets = rets[:len(rets)-1]
		if e, _ := last.Interface().(error); e != nil {
			return nil, e
		}
	}
	return rets, nil
}

func (m *boundMethod) encodeRets(rets []reflect.Value, ord wire.ByteOrder) (*Reply, error) {
	e := wire.Encoder{Order: ord, Mapper: encoderFor}
	t := m.fn.Type()
	for i, rv := range rets {
		enc, err := encoderFor(t.Out(i))
		if err != nil {
			return nil, err
		}
		if err := enc(&e, rv); err != nil {
			return nil, err
		}
	}
	return &Reply{Signature: m.outStr(), Body: e.Out}, nil
}

// errorReply renders a named DBus error with a single string body
// holding the detail message.
func errorReply(ord wire.ByteOrder, name, format string, args ...any) *Reply {
	detail := fmt.Sprintf(format, args...)
	e := wire.Encoder{Order: ord, Mapper: encoderFor}
	e.String(detail)
	return &Reply{
		Signature: "s",
		Body:      e.Out,
		Err:       &CallError{name, detail},
	}
}

// handlerErrorReply maps an error returned by a handler to an error
// reply. A [CallError] keeps its name; anything else is reported
// under the generic Failed name.
func handlerErrorReply(ord wire.ByteOrder, err error) *Reply {
	var (
		ce  CallError
		pce *CallError
	)
	if errors.As(err, &ce) {
		return errorReply(ord, ce.Name, "%s", ce.Detail)
	}
	if errors.As(err, &pce) {
		return errorReply(ord, pce.Name, "%s", pce.Detail)
	}
	return errorReply(ord, errFailed, "%s", err.Error())
}

// successReply serializes vals as a method return body.
func successReply(ord wire.ByteOrder, vals ...any) (*Reply, error) {
	sig, body, err := marshalBody(ord, vals...)
	if err != nil {
		return nil, err
	}
	return &Reply{Signature: sig, Body: body}, nil
}

// marshalBody serializes a sequence of values into one message body
// and returns the body signature alongside.
func marshalBody(ord wire.ByteOrder, vals ...any) (string, []byte, error) {
	var sig strings.Builder
	e := wire.Encoder{Order: ord, Mapper: encoderFor}
	for _, v := range vals {
		s, err := SignatureOf(v)
		if err != nil {
			return "", nil, err
		}
		sig.WriteString(s.String())
		if err := e.Value(v); err != nil {
			return "", nil, err
		}
	}
	return sig.String(), e.Out, nil
}

// Builtin implementations of the standard org.freedesktop.DBus
// interfaces.

var builtinMembers = map[string]mapset.Set[string]{
	ifaceIntrospectable: mapset.New("Introspect"),
	ifacePeer:           mapset.New("Ping", "GetMachineId"),
	ifaceProperties:     mapset.New("Get", "Set", "GetAll"),
}

func isBuiltinMember(name string) bool {
	for _, members := range builtinMembers {
		if members.Has(name) {
			return true
		}
	}
	return false
}

func (o *Object) dispatchBuiltin(ctx context.Context, call *Call, ord wire.ByteOrder) *Reply {
	// Each standard member belongs to exactly one interface. Calls
	// naming an interface must name the right one; calls with no
	// interface get resolved by member name alone.
	if call.Interface != "" && !builtinMembers[call.Interface].Has(call.Member) {
		return errorReply(ord, errUnknownMethod, "no method %s.%s on object %s", call.Interface, call.Member, o.path)
	}
	switch call.Member {
	case "Introspect":
		if call.Signature != "" {
			return errorReply(ord, errInvalidArgs, "Introspect takes no arguments")
		}
		doc, err := o.Introspect()
		if err != nil {
			o.logf("rendering introspection document: %v", err)
			return errorReply(ord, errFailed, "internal error")
		}
		ret, err := successReply(ord, doc)
		if err != nil {
			o.logf("encoding introspection reply: %v", err)
			return errorReply(ord, errFailed, "internal error")
		}
		return ret

	case "Ping":
		if call.Signature != "" {
			return errorReply(ord, errInvalidArgs, "Ping takes no arguments")
		}
		return &Reply{}

	case "GetMachineId":
		if call.Signature != "" {
			return errorReply(ord, errInvalidArgs, "GetMachineId takes no arguments")
		}
		id, err := machineID()
		if err != nil {
			return errorReply(ord, errFailed, "%v", err)
		}
		ret, err := successReply(ord, id)
		if err != nil {
			return errorReply(ord, errFailed, "internal error")
		}
		return ret

	case "Get":
		return o.builtinGet(ctx, call, ord)
	case "Set":
		return o.builtinSet(ctx, call, ord)
	case "GetAll":
		return o.builtinGetAll(ctx, call, ord)
	}
	return errorReply(ord, errUnknownMethod, "no method %s.%s on object %s", call.Interface, call.Member, o.path)
}

func (o *Object) builtinGet(ctx context.Context, call *Call, ord wire.ByteOrder) *Reply {
	if call.Signature != "ss" {
		return errorReply(ord, errInvalidArgs, "Get expects signature \"ss\", got %q", call.Signature)
	}
	d := wire.NewDecoder(call.Body, ord)
	iface, err := d.String()
	if err != nil {
		return errorReply(ord, errInvalidArgs, "decoding arguments for Get: %v", err)
	}
	name, err := d.String()
	if err != nil {
		return errorReply(ord, errInvalidArgs, "decoding arguments for Get: %v", err)
	}
	if d.Rest() > 0 {
		return errorReply(ord, errInvalidArgs, "%d trailing bytes after arguments", d.Rest())
	}

	bi, ok := o.lookup(iface)
	if !ok {
		return errorReply(ord, errUnknownInterface, "no interface %q on object %s", iface, o.path)
	}
	p, ok := bi.propsByName[name]
	if !ok {
		return errorReply(ord, errUnknownProperty, "no property %s.%s on object %s", iface, name, o.path)
	}
	if !p.readable() {
		return errorReply(ord, errFailed, "property %s.%s is not readable", iface, name)
	}
	val, err := p.get(ctx)
	if err != nil {
		return handlerErrorReply(ord, err)
	}
	ret, err := successReply(ord, val)
	if err != nil {
		o.logf("%v", ContractError{iface, name, err})
		return errorReply(ord, errFailed, "internal error")
	}
	return ret
}

func (o *Object) builtinSet(ctx context.Context, call *Call, ord wire.ByteOrder) *Reply {
	if call.Signature != "ssv" {
		return errorReply(ord, errInvalidArgs, "Set expects signature \"ssv\", got %q", call.Signature)
	}
	d := wire.NewDecoder(call.Body, ord)
	iface, err := d.String()
	if err != nil {
		return errorReply(ord, errInvalidArgs, "decoding arguments for Set: %v", err)
	}
	name, err := d.String()
	if err != nil {
		return errorReply(ord, errInvalidArgs, "decoding arguments for Set: %v", err)
	}

	bi, ok := o.lookup(iface)
	if !ok {
		return errorReply(ord, errUnknownInterface, "no interface %q on object %s", iface, o.path)
	}
	p, ok := bi.propsByName[name]
	if !ok {
		return errorReply(ord, errUnknownProperty, "no property %s.%s on object %s", iface, name, o.path)
	}
	if !p.writable() {
		return errorReply(ord, errPropertyReadOnly, "property %s.%s is not writable", iface, name)
	}

	// Decode the variant payload straight into the setter's parameter
	// type, rather than into a generic Variant, so that named handler
	// types round-trip without conversion.
	vsig, err := d.Signature()
	if err != nil {
		return errorReply(ord, errInvalidArgs, "decoding value for Set: %v", err)
	}
	if vsig != p.sig.String() {
		return errorReply(ord, errInvalidArgs, "property %s.%s has signature %q, got value with signature %q", iface, name, p.sig, vsig)
	}
	dec, err := decoderFor(p.typ)
	if err != nil {
		o.logf("%v", ContractError{iface, name, err})
		return errorReply(ord, errFailed, "internal error")
	}
	val := reflect.New(p.typ)
	if err := dec(d, val.Elem()); err != nil {
		return errorReply(ord, errInvalidArgs, "decoding value for Set: %v", err)
	}
	if d.Rest() > 0 {
		return errorReply(ord, errInvalidArgs, "%d trailing bytes after arguments", d.Rest())
	}

	if err := p.set(ctx, val.Elem()); err != nil {
		return handlerErrorReply(ord, err)
	}

	ret := &Reply{}
	if sig, err := o.propertyChanged(ctx, iface, p, ord); err != nil {
		o.logf("emitting PropertiesChanged for %s.%s: %v", iface, name, err)
	} else if sig != nil {
		ret.Signals = append(ret.Signals, sig)
	}
	return ret
}

func (o *Object) builtinGetAll(ctx context.Context, call *Call, ord wire.ByteOrder) *Reply {
	if call.Signature != "s" {
		return errorReply(ord, errInvalidArgs, "GetAll expects signature \"s\", got %q", call.Signature)
	}
	d := wire.NewDecoder(call.Body, ord)
	iface, err := d.String()
	if err != nil {
		return errorReply(ord, errInvalidArgs, "decoding arguments for GetAll: %v", err)
	}
	if d.Rest() > 0 {
		return errorReply(ord, errInvalidArgs, "%d trailing bytes after arguments", d.Rest())
	}

	bi, ok := o.lookup(iface)
	if !ok {
		return errorReply(ord, errUnknownInterface, "no interface %q on object %s", iface, o.path)
	}
	all := make(map[string]Variant, len(bi.props))
	for _, p := range bi.props {
		if !p.readable() {
			continue
		}
		val, err := p.get(ctx)
		if err != nil {
			return handlerErrorReply(ord, err)
		}
		all[p.name] = val
	}
	ret, err := successReply(ord, all)
	if err != nil {
		o.logf("%v", ContractError{iface, "GetAll", err})
		return errorReply(ord, errFailed, "internal error")
	}
	return ret
}

// propertyChanged builds the PropertiesChanged emission for a single
// property write, or nil if the property's emit kind suppresses it.
func (o *Object) propertyChanged(ctx context.Context, iface string, p *boundProp, ord wire.ByteOrder) (*SignalMessage, error) {
	switch p.emit {
	case EmitTrue:
		if !p.readable() {
			return nil, nil
		}
		val, err := p.get(ctx)
		if err != nil {
			return nil, err
		}
		return o.propertiesChangedMessage(iface, ord, map[string]Variant{p.name: val}, nil)
	case EmitInvalidates:
		return o.propertiesChangedMessage(iface, ord, nil, []string{p.name})
	default:
		return nil, nil
	}
}

func (o *Object) propertiesChangedMessage(iface string, ord wire.ByteOrder, changed map[string]Variant, invalidated []string) (*SignalMessage, error) {
	if changed == nil {
		changed = map[string]Variant{}
	}
	if invalidated == nil {
		invalidated = []string{}
	}
	sig, body, err := marshalBody(ord, iface, changed, invalidated)
	if err != nil {
		return nil, err
	}
	return &SignalMessage{
		Path:      o.path,
		Interface: ifaceProperties,
		Member:    "PropertiesChanged",
		Signature: sig,
		Body:      body,
		Order:     ord,
	}, nil
}

// EmitSignal serializes an emission of a registered signal. The
// arguments must match the signal's declared payload types. The
// returned message is handed to a transport for sending; see
// [Server.Emit].
func (o *Object) EmitSignal(iface, member string, ord wire.ByteOrder, args ...any) (*SignalMessage, error) {
	bi, ok := o.lookup(iface)
	if !ok {
		return nil, fmt.Errorf("%s: %w", iface, ErrUnknownInterface)
	}
	s, ok := bi.signalsByName[member]
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", iface, member, ErrUnknownMember)
	}
	if len(args) != len(s.args) {
		return nil, fmt.Errorf("signal %s.%s has %d args, got %d", iface, member, len(s.args), len(args))
	}
	if ord == nil {
		ord = wire.NativeEndian
	}

	e := wire.Encoder{Order: ord, Mapper: encoderFor}
	for i, arg := range args {
		got, err := SignatureOf(arg)
		if err != nil {
			return nil, fmt.Errorf("signal %s.%s arg %d: %w", iface, member, i, err)
		}
		if got.String() != s.args[i].String() {
			return nil, fmt.Errorf("signal %s.%s arg %d has signature %q, got %q", iface, member, i, s.args[i], got)
		}
		if err := e.Value(arg); err != nil {
			return nil, fmt.Errorf("signal %s.%s arg %d: %w", iface, member, i, err)
		}
	}
	return &SignalMessage{
		Path:      o.path,
		Interface: iface,
		Member:    member,
		Signature: s.argStr(),
		Body:      e.Out,
		Order:     ord,
	}, nil
}

// PropertiesChanged serializes a PropertiesChanged emission for the
// named properties of a registered interface. Properties whose emit
// kind is [EmitTrue] are included with their current value, and
// [EmitInvalidates] properties are listed as invalidated. Naming an
// [EmitConst] property is an error, and [EmitFalse] properties are
// skipped.
func (o *Object) PropertiesChanged(ctx context.Context, iface string, ord wire.ByteOrder, names ...string) (*SignalMessage, error) {
	bi, ok := o.lookup(iface)
	if !ok {
		return nil, fmt.Errorf("%s: %w", iface, ErrUnknownInterface)
	}
	if ord == nil {
		ord = wire.NativeEndian
	}

	changed := map[string]Variant{}
	var invalidated []string
	for _, name := range names {
		p, ok := bi.propsByName[name]
		if !ok {
			return nil, fmt.Errorf("%s.%s: %w", iface, name, ErrUnknownMember)
		}
		switch p.emit {
		case EmitTrue:
			val, err := p.get(ctx)
			if err != nil {
				return nil, fmt.Errorf("reading %s.%s: %w", iface, name, err)
			}
			changed[name] = val
		case EmitInvalidates:
			invalidated = append(invalidated, name)
		case EmitConst:
			return nil, fmt.Errorf("property %s.%s is declared const", iface, name)
		}
	}
	return o.propertiesChangedMessage(iface, ord, changed, invalidated)
}

// machineID returns the local machine's DBus machine ID, as served by
// org.freedesktop.DBus.Peer.GetMachineId.
var machineID = sync.OnceValues(func() (string, error) {
	for _, path := range []string{"/var/lib/dbus/machine-id", "/etc/machine-id"} {
		bs, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(bs)); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("no machine ID available")
})
