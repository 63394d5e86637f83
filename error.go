package objbus

import (
	"errors"
	"fmt"
	"reflect"
)

// TypeError is the error returned when a Go type cannot be
// represented in the DBus wire format, and therefore no signature can
// be derived for it.
type TypeError struct {
	// Type is the name of the type that caused the error.
	Type string
	// Reason is an explanation of why the type isn't representable by
	// DBus.
	Reason error
}

func (e TypeError) Error() string {
	return fmt.Sprintf("dbus cannot represent %s: %s", e.Type, e.Reason)
}

func (e TypeError) Unwrap() error { return e.Reason }

func typeErr(t reflect.Type, reason string, args ...any) error {
	ts := ""
	if t != nil {
		ts = t.String()
	}
	return TypeError{ts, fmt.Errorf(reason, args...)}
}

// SignatureError is the error returned when a type signature string
// violates the DBus signature grammar.
type SignatureError struct {
	// Signature is the offending signature string.
	Signature string
	// Reason is an explanation of the grammar violation.
	Reason error
}

func (e SignatureError) Error() string {
	return fmt.Sprintf("invalid type signature %q: %s", e.Signature, e.Reason)
}

func (e SignatureError) Unwrap() error { return e.Reason }

func sigErr(sig string, reason string, args ...any) error {
	return SignatureError{sig, fmt.Errorf(reason, args...)}
}

// Registration-time failures. They are reported by [Object.Register]
// and never deferred to dispatch time.
var (
	// ErrDuplicateMember indicates that two members of one interface
	// declare the same name.
	ErrDuplicateMember = errors.New("duplicate member name")
	// ErrDuplicateInterface indicates that an interface name is
	// already registered on the object.
	ErrDuplicateInterface = errors.New("duplicate interface name")
)

// Dispatch-time failures. They are mapped to named DBus error replies
// at the dispatch boundary.
var (
	ErrUnknownInterface = errors.New("unknown interface")
	ErrUnknownMember    = errors.New("unknown member")
	ErrNotWritable      = errors.New("property is not writable")
	ErrNotReadable      = errors.New("property is not readable")
)

// BindError is the error returned when a declared interface member
// cannot be bound, for example because a handler's signature cannot
// be mapped to DBus types.
type BindError struct {
	// Interface is the name of the interface being bound.
	Interface string
	// Member is the declared member that failed, if known.
	Member string
	// Reason is the underlying failure.
	Reason error
}

func (e BindError) Error() string {
	if e.Member == "" {
		return fmt.Sprintf("binding interface %s: %s", e.Interface, e.Reason)
	}
	return fmt.Sprintf("binding %s.%s: %s", e.Interface, e.Member, e.Reason)
}

func (e BindError) Unwrap() error { return e.Reason }

func bindErr(iface, member string, reason string, args ...any) error {
	return BindError{iface, member, fmt.Errorf(reason, args...)}
}

// ContractError is the error reported when an invoked handler
// produces values that do not match its declared output signature.
// It is always a programming error in the handler, never a protocol
// error, and is surfaced to the remote caller as an internal error
// reply.
type ContractError struct {
	Interface string
	Member    string
	Reason    error
}

func (e ContractError) Error() string {
	return fmt.Sprintf("handler %s.%s violated its declared signature: %s", e.Interface, e.Member, e.Reason)
}

func (e ContractError) Unwrap() error { return e.Reason }

// CallError is a named DBus error, as carried in error replies. A
// handler may return a CallError (or *CallError) to control the error
// name sent to the remote caller; any other error is reported under
// the generic org.freedesktop.DBus.Error.Failed name.
type CallError struct {
	// Name is the DBus error name, e.g. "com.example.Error.NoSuchFile".
	Name string
	// Detail is the human-readable explanation of what went wrong.
	Detail string
}

func (e CallError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("call error %s", e.Name)
	}
	return fmt.Sprintf("call error %s: %s", e.Name, e.Detail)
}

// Standard DBus error names used in dispatch replies.
const (
	errFailed           = "org.freedesktop.DBus.Error.Failed"
	errUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	errUnknownMethod    = "org.freedesktop.DBus.Error.UnknownMethod"
	errUnknownProperty  = "org.freedesktop.DBus.Error.UnknownProperty"
	errInvalidArgs      = "org.freedesktop.DBus.Error.InvalidArgs"
	errPropertyReadOnly = "org.freedesktop.DBus.Error.PropertyReadOnly"
)
