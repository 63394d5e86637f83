// Package objbus exposes plain Go values and funcs as DBus objects.
//
// An [Object] collects [Interface] declarations, whose methods,
// properties and signals are ordinary Go funcs. Registration maps
// each handler's parameter and return types onto DBus type
// signatures, so that handlers never touch wire data, and rejects
// anything the DBus type system cannot express.
//
// A registered object dispatches incoming calls with
// [Object.DispatchCall], renders its own introspection document, and
// implements the standard org.freedesktop.DBus.Properties,
// Introspectable and Peer interfaces. [Server] pumps calls from a
// [Transport] through the dispatcher.
//
// The package deliberately stops below the bus connection: message
// framing, authentication and bus name ownership belong to the
// transport.
package objbus
