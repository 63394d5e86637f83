package objbus

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testObject(t *testing.T) (*Object, *uint32) {
	t.Helper()

	obj, err := NewObject("/com/test/Frobnicator")
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}

	speed := uint32(42)
	err = obj.Register(Interface{
		Name: "com.test.Frobnicator",
		Methods: []Method{
			{
				Name:    "Add",
				Fn:      func(a, b int32) int32 { return a + b },
				InNames: []string{"a", "b"},
			},
			{
				Name: "Div",
				Fn: func(ctx context.Context, a, b uint32) (uint32, error) {
					if b == 0 {
						return 0, CallError{"com.test.Error.DivByZero", "division by zero"}
					}
					return a / b, nil
				},
			},
			{Name: "Crash", Fn: func() { panic("unfrobnicated") }},
			{Name: "Notify", Fn: func(msg string) {}, NoReply: true},
		},
		Properties: []Property{
			{
				Name: "Speed",
				Get:  func() uint32 { return speed },
				Set:  func(v uint32) { speed = v },
			},
			{
				Name: "Version",
				Get:  func() string { return "1.2" },
				Emit: EmitConst,
			},
		},
		Signals: []Signal{
			{Name: "Frobbed", Fn: func(name string, count uint32) {}, ArgNames: []string{"name", "count"}},
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return obj, &speed
}

func TestNewObject(t *testing.T) {
	for _, path := range []ObjectPath{"", "foo", "/foo/", "/foo//bar", "/foo-bar"} {
		if _, err := NewObject(path); err == nil {
			t.Errorf("NewObject(%q) succeeded, want error", path)
		}
	}
	for _, path := range []ObjectPath{"/", "/foo", "/com/test/Frobnicator", "/a/_0"} {
		if _, err := NewObject(path); err != nil {
			t.Errorf("NewObject(%q) got err: %v", path, err)
		}
	}
}

func TestRegisterDuplicateInterface(t *testing.T) {
	obj, _ := testObject(t)
	err := obj.Register(Interface{Name: "com.test.Frobnicator"})
	if !errors.Is(err, ErrDuplicateInterface) {
		t.Fatalf("got err %v, want ErrDuplicateInterface", err)
	}

	// The same member name on a different interface is fine.
	err = obj.Register(Interface{
		Name:    "com.test.Other",
		Methods: []Method{{Name: "Add", Fn: func(a, b int64) int64 { return a + b }}},
	})
	if err != nil {
		t.Fatalf("Register with shared member name: %v", err)
	}
	got, err := obj.Resolve("com.test.Other", "Add")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.In[0].String() != "x" {
		t.Errorf("resolved wrong Add, input signature %q", got.In[0])
	}
}

func TestRegisterBuiltinInterface(t *testing.T) {
	obj, _ := testObject(t)
	err := obj.Register(Interface{Name: "org.freedesktop.DBus.Properties"})
	if err == nil {
		t.Fatal("registering a standard interface succeeded, want error")
	}
}

func TestResolve(t *testing.T) {
	obj, _ := testObject(t)

	tests := []struct {
		iface, member string
		want          *MemberInfo
		wantErr       error
	}{
		{
			"com.test.Frobnicator", "Add",
			&MemberInfo{
				Kind:      MethodMember,
				Interface: "com.test.Frobnicator",
				Name:      "Add",
				In:        []Signature{mustParseSignature("i"), mustParseSignature("i")},
				Out:       []Signature{mustParseSignature("i")},
			},
			nil,
		},
		{
			"com.test.Frobnicator", "Speed",
			&MemberInfo{
				Kind:      PropertyMember,
				Interface: "com.test.Frobnicator",
				Name:      "Speed",
				In:        []Signature{mustParseSignature("u")},
				Out:       []Signature{mustParseSignature("u")},
				Readable:  true,
				Writable:  true,
			},
			nil,
		},
		{
			"com.test.Frobnicator", "Frobbed",
			&MemberInfo{
				Kind:      SignalMember,
				Interface: "com.test.Frobnicator",
				Name:      "Frobbed",
				Out:       []Signature{mustParseSignature("s"), mustParseSignature("u")},
			},
			nil,
		},
		{
			// Empty interface searches registration order.
			"", "Div",
			&MemberInfo{
				Kind:      MethodMember,
				Interface: "com.test.Frobnicator",
				Name:      "Div",
				In:        []Signature{mustParseSignature("u"), mustParseSignature("u")},
				Out:       []Signature{mustParseSignature("u")},
			},
			nil,
		},
		{"com.test.Nope", "Add", nil, ErrUnknownInterface},
		{"com.test.Frobnicator", "Nope", nil, ErrUnknownMember},
		{"", "Nope", nil, ErrUnknownMember},
	}

	for _, tc := range tests {
		got, err := obj.Resolve(tc.iface, tc.member)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Resolve(%q, %q) got err %v, want %v", tc.iface, tc.member, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("Resolve(%q, %q) got err: %v", tc.iface, tc.member, err)
			continue
		}
		if diff := cmp.Diff(got, tc.want, cmp.Comparer(func(a, b Signature) bool {
			return a.String() == b.String()
		})); diff != "" {
			t.Errorf("Resolve(%q, %q) diff (-got+want):\n%s", tc.iface, tc.member, diff)
		}
	}
}

func TestProperties(t *testing.T) {
	obj, speed := testObject(t)
	ctx := context.Background()

	got, err := obj.GetProperty(ctx, "com.test.Frobnicator", "Speed")
	if err != nil {
		t.Fatalf("GetProperty: %v", err)
	}
	if got.Value != uint32(42) {
		t.Errorf("GetProperty(Speed) = %v, want 42", got.Value)
	}

	if err := obj.SetProperty(ctx, "com.test.Frobnicator", "Speed", Variant{uint32(90)}); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	if *speed != 90 {
		t.Errorf("setter left speed at %d, want 90", *speed)
	}

	err = obj.SetProperty(ctx, "com.test.Frobnicator", "Version", Variant{"2.0"})
	if !errors.Is(err, ErrNotWritable) {
		t.Errorf("SetProperty(Version) got err %v, want ErrNotWritable", err)
	}

	err = obj.SetProperty(ctx, "com.test.Frobnicator", "Speed", Variant{"fast"})
	if err == nil {
		t.Error("SetProperty with mismatched signature succeeded, want error")
	}

	_, err = obj.GetProperty(ctx, "com.test.Frobnicator", "Nope")
	if !errors.Is(err, ErrUnknownMember) {
		t.Errorf("GetProperty(Nope) got err %v, want ErrUnknownMember", err)
	}
	_, err = obj.GetProperty(ctx, "com.test.Nope", "Speed")
	if !errors.Is(err, ErrUnknownInterface) {
		t.Errorf("GetProperty on unknown interface got err %v, want ErrUnknownInterface", err)
	}
}

func TestPropertyNamedType(t *testing.T) {
	type Level uint32

	obj, err := NewObject("/com/test/Leveled")
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	var lvl Level
	err = obj.Register(Interface{
		Name: "com.test.Leveled",
		Properties: []Property{
			{Name: "Level", Get: func() Level { return lvl }, Set: func(v Level) { lvl = v }},
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Values carrying the canonical type for the signature convert to
	// the handler's named type.
	if err := obj.SetProperty(context.Background(), "com.test.Leveled", "Level", Variant{uint32(7)}); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	if lvl != 7 {
		t.Errorf("setter left level at %d, want 7", lvl)
	}
}
