package objbus

// An Interface declares a DBus interface: a named collection of
// methods, properties and signals that an [Object] can expose.
//
// Declarations are plain data. They are checked and turned into
// callable form by [Object.Register], which reports a [BindError] if
// any member cannot be mapped onto the DBus type system.
type Interface struct {
	// Name is the DBus interface name, e.g. "com.example.Frobnicator".
	Name string

	Methods    []Method
	Properties []Property
	Signals    []Signal
}

// A Method declares a callable member of an interface.
type Method struct {
	// Name is the DBus member name.
	Name string

	// Fn is the handler invoked for incoming calls. It must be a
	// non-variadic func. It may optionally accept a context.Context as
	// its first parameter, and may optionally return an error as its
	// last return value. All other parameters and return values must
	// be representable as DBus types, and become the method's input
	// and output arguments respectively.
	Fn any

	// InNames and OutNames optionally name the method's input and
	// output arguments in the introspection document. If non-nil, each
	// must have exactly one name per argument.
	InNames  []string
	OutNames []string

	// NoReply marks the method as never sending a reply. A NoReply
	// method must not declare output arguments.
	NoReply bool

	// Deprecated marks the method deprecated in the introspection
	// document.
	Deprecated bool
}

// A Property declares a readable and/or writable value member of an
// interface.
//
// A property's access mode follows from which accessors are provided:
// a Get func makes it readable, a Set func makes it writable. At
// least one must be set, and when both are present they must agree on
// the property's type.
type Property struct {
	// Name is the DBus member name.
	Name string

	// Get is the property getter, of the form func() T,
	// func() (T, error), or either with a leading context.Context
	// parameter.
	Get any

	// Set is the property setter, of the form func(T) or
	// func(T) error, or either with a leading context.Context
	// parameter.
	Set any

	// Emit declares how changes to the property are advertised
	// through the org.freedesktop.DBus.Properties.PropertiesChanged
	// signal.
	Emit EmitKind

	// Deprecated marks the property deprecated in the introspection
	// document.
	Deprecated bool
}

// A Signal declares a signal member of an interface. Signals are
// emitted by the object, never invoked by remote callers.
type Signal struct {
	// Name is the DBus member name.
	Name string

	// Fn is a prototype func whose parameters declare the signal's
	// payload types. It is never called; only its type is inspected.
	// It must be a non-variadic func with no return values.
	Fn any

	// ArgNames optionally names the signal's arguments in the
	// introspection document. If non-nil, it must have exactly one
	// name per argument.
	ArgNames []string

	// Deprecated marks the signal deprecated in the introspection
	// document.
	Deprecated bool
}

// EmitKind describes how changes to a property are advertised, per
// the org.freedesktop.DBus.Property.EmitsChangedSignal annotation.
type EmitKind int

const (
	// EmitTrue advertises changes with the new value included in the
	// PropertiesChanged signal. It is the default.
	EmitTrue EmitKind = iota
	// EmitInvalidates advertises changes without the new value;
	// interested clients re-read the property.
	EmitInvalidates
	// EmitConst declares that the property never changes after
	// registration. Const properties cannot be writable.
	EmitConst
	// EmitFalse declares that changes are not advertised at all.
	EmitFalse
)

// String returns the annotation value for the emit kind.
func (k EmitKind) String() string {
	switch k {
	case EmitTrue:
		return "true"
	case EmitInvalidates:
		return "invalidates"
	case EmitConst:
		return "const"
	case EmitFalse:
		return "false"
	default:
		return "unknown"
	}
}
