// Package wire implements the byte-level DBus wire format: aligned
// reads and writes of the protocol's fixed-width values, length-framed
// strings and signatures, and the array and struct framing rules.
//
// The package knows nothing about Go types or DBus type signatures. It
// provides the primitives that the parent package's marshalers compose
// into complete message bodies, inserting or consuming the padding
// that DBus alignment rules require at each step.
package wire
