package objbus

import "testing"

// Shared test types.

type Simple struct {
	A int16
	B bool
}

type Nested struct {
	A byte
	B Simple
}

type Embedded struct {
	Simple
	C byte
}

type Skipped struct {
	A int16
	B string `dbus:"-"`
	C bool
}

// Tree cannot be represented by DBus, which has no recursive types.
type Tree struct {
	Left  *Tree
	Right *Tree
}

func ptr[T any](v T) *T { return &v }

func mustSignatureFor[T any](t *testing.T) Signature {
	t.Helper()
	sig, err := SignatureFor[T]()
	if err != nil {
		t.Fatalf("SignatureFor[%T]: %v", *new(T), err)
	}
	return sig
}
