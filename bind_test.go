package objbus

import (
	"context"
	"errors"
	"testing"
)

func TestBindInterface(t *testing.T) {
	def := Interface{
		Name: "com.test.Frobnicator",
		Methods: []Method{
			{Name: "Add", Fn: func(a, b int32) int32 { return a + b }},
			{Name: "Reset", Fn: func(ctx context.Context) error { return nil }},
			{Name: "Notify", Fn: func(msg string) {}, NoReply: true},
			{
				Name:     "Stat",
				Fn:       func() (string, uint32, error) { return "", 0, nil },
				OutNames: []string{"name", "count"},
			},
		},
		Properties: []Property{
			{Name: "Speed", Get: func() uint32 { return 0 }, Set: func(uint32) {}},
			{Name: "Version", Get: func() string { return "1" }, Emit: EmitConst},
			{Name: "Secret", Set: func(ctx context.Context, v string) error { return nil }},
		},
		Signals: []Signal{
			{Name: "Frobbed", Fn: func(name string, count uint32) {}, ArgNames: []string{"name", "count"}},
		},
	}

	bi, err := bindInterface(def)
	if err != nil {
		t.Fatalf("bindInterface got err: %v", err)
	}

	methodSigs := map[string][2]string{
		"Add":    {"ii", "i"},
		"Reset":  {"", ""},
		"Notify": {"s", ""},
		"Stat":   {"", "su"},
	}
	for name, want := range methodSigs {
		m, ok := bi.methodsByName[name]
		if !ok {
			t.Errorf("method %s not bound", name)
			continue
		}
		if got := m.inStr(); got != want[0] {
			t.Errorf("method %s input signature = %q, want %q", name, got, want[0])
		}
		if got := m.outStr(); got != want[1] {
			t.Errorf("method %s output signature = %q, want %q", name, got, want[1])
		}
	}
	if m := bi.methodsByName["Reset"]; !m.wantsCtx || !m.returnsErr {
		t.Errorf("method Reset wantsCtx=%v returnsErr=%v, want true/true", m.wantsCtx, m.returnsErr)
	}

	propAccess := map[string][2]bool{
		"Speed":   {true, true},
		"Version": {true, false},
		"Secret":  {false, true},
	}
	for name, want := range propAccess {
		p, ok := bi.propsByName[name]
		if !ok {
			t.Errorf("property %s not bound", name)
			continue
		}
		if p.readable() != want[0] || p.writable() != want[1] {
			t.Errorf("property %s readable=%v writable=%v, want %v/%v",
				name, p.readable(), p.writable(), want[0], want[1])
		}
	}
	if got := bi.propsByName["Speed"].sig.String(); got != "u" {
		t.Errorf("property Speed signature = %q, want \"u\"", got)
	}

	s, ok := bi.signalsByName["Frobbed"]
	if !ok {
		t.Fatal("signal Frobbed not bound")
	}
	if got := s.argStr(); got != "su" {
		t.Errorf("signal Frobbed signature = %q, want \"su\"", got)
	}
}

func TestBindInterfaceErrors(t *testing.T) {
	valid := func(mutate func(*Interface)) Interface {
		def := Interface{
			Name: "com.test.Frobnicator",
			Methods: []Method{
				{Name: "Frob", Fn: func() {}},
			},
		}
		mutate(&def)
		return def
	}

	tests := []struct {
		name    string
		def     Interface
		wantDup bool
	}{
		{
			"invalid interface name",
			valid(func(d *Interface) { d.Name = "NoDots" }),
			false,
		},
		{
			"invalid member name",
			valid(func(d *Interface) { d.Methods[0].Name = "1BadName" }),
			false,
		},
		{
			"duplicate method",
			valid(func(d *Interface) {
				d.Methods = append(d.Methods, Method{Name: "Frob", Fn: func() {}})
			}),
			true,
		},
		{
			"method and property share a name",
			valid(func(d *Interface) {
				d.Properties = []Property{{Name: "Frob", Get: func() string { return "" }}}
			}),
			true,
		},
		{
			"method and signal share a name",
			valid(func(d *Interface) {
				d.Signals = []Signal{{Name: "Frob", Fn: func() {}}}
			}),
			true,
		},
		{
			"nil handler",
			valid(func(d *Interface) { d.Methods[0].Fn = nil }),
			false,
		},
		{
			"non-func handler",
			valid(func(d *Interface) { d.Methods[0].Fn = 42 }),
			false,
		},
		{
			"variadic handler",
			valid(func(d *Interface) { d.Methods[0].Fn = func(args ...string) {} }),
			false,
		},
		{
			"unrepresentable parameter",
			valid(func(d *Interface) { d.Methods[0].Fn = func(n int) {} }),
			false,
		},
		{
			"unrepresentable return",
			valid(func(d *Interface) { d.Methods[0].Fn = func() float32 { return 0 } }),
			false,
		},
		{
			"context not first",
			valid(func(d *Interface) { d.Methods[0].Fn = func(s string, ctx context.Context) {} }),
			false,
		},
		{
			"error not last",
			valid(func(d *Interface) { d.Methods[0].Fn = func() (error, string) { return nil, "" } }),
			false,
		},
		{
			"NoReply with outputs",
			valid(func(d *Interface) {
				d.Methods[0] = Method{Name: "Frob", Fn: func() string { return "" }, NoReply: true}
			}),
			false,
		},
		{
			"wrong input name count",
			valid(func(d *Interface) {
				d.Methods[0] = Method{Name: "Frob", Fn: func(a string) {}, InNames: []string{"a", "b"}}
			}),
			false,
		},
		{
			"property with no accessors",
			valid(func(d *Interface) {
				d.Properties = []Property{{Name: "Speed"}}
			}),
			false,
		},
		{
			"getter with parameters",
			valid(func(d *Interface) {
				d.Properties = []Property{{Name: "Speed", Get: func(n uint32) uint32 { return n }}}
			}),
			false,
		},
		{
			"getter with no value",
			valid(func(d *Interface) {
				d.Properties = []Property{{Name: "Speed", Get: func() error { return nil }}}
			}),
			false,
		},
		{
			"setter with two values",
			valid(func(d *Interface) {
				d.Properties = []Property{{Name: "Speed", Set: func(a, b uint32) {}}}
			}),
			false,
		},
		{
			"accessor type mismatch",
			valid(func(d *Interface) {
				d.Properties = []Property{{
					Name: "Speed",
					Get:  func() uint32 { return 0 },
					Set:  func(string) {},
				}}
			}),
			false,
		},
		{
			"writable const property",
			valid(func(d *Interface) {
				d.Properties = []Property{{
					Name: "Speed",
					Get:  func() uint32 { return 0 },
					Set:  func(uint32) {},
					Emit: EmitConst,
				}}
			}),
			false,
		},
		{
			"signal with return value",
			valid(func(d *Interface) {
				d.Signals = []Signal{{Name: "Frobbed", Fn: func() string { return "" }}}
			}),
			false,
		},
		{
			"signal with context payload",
			valid(func(d *Interface) {
				d.Signals = []Signal{{Name: "Frobbed", Fn: func(ctx context.Context) {}}}
			}),
			false,
		},
		{
			"wrong signal arg name count",
			valid(func(d *Interface) {
				d.Signals = []Signal{{Name: "Frobbed", Fn: func(s string) {}, ArgNames: []string{"a", "b"}}}
			}),
			false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := bindInterface(tc.def)
			if err == nil {
				t.Fatal("bindInterface succeeded, want error")
			}
			var be BindError
			if !errors.As(err, &be) {
				t.Errorf("got %T, want BindError", err)
			}
			if got := errors.Is(err, ErrDuplicateMember); got != tc.wantDup {
				t.Errorf("errors.Is(err, ErrDuplicateMember) = %v, want %v", got, tc.wantDup)
			}
		})
	}
}
