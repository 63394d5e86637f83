package objbus

import (
	"cmp"
	"fmt"
	"iter"
	"reflect"
)

// structField is the information about a struct field that
// participates in DBus encoding.
type structField struct {
	Name string
	Type reflect.Type
	// Index is the field's traversal path from the outermost struct,
	// partitioned at embedded struct pointers that may be nil.
	Index [][]int
}

// GetWithZero loads the struct field from structVal. If loading
// requires traversing a nil pointer into an embedded struct,
// GetWithZero returns a non-settable zero value of the field.
func (f *structField) GetWithZero(structVal reflect.Value) reflect.Value {
	v := structVal
	for i, hop := range f.Index {
		if i > 0 {
			if v.IsNil() {
				return reflect.Zero(f.Type)
			}
			v = v.Elem()
		}
		v = v.FieldByIndex(hop)
	}
	return v
}

// GetWithAlloc loads the struct field from structVal, allocating
// embedded structs as needed when it traverses nil pointers. The
// returned value is settable.
func (f *structField) GetWithAlloc(structVal reflect.Value) reflect.Value {
	v := structVal
	for i, hop := range f.Index {
		if i > 0 {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.FieldByIndex(hop)
	}
	return v
}

// structInfo is the information about a struct relevant to DBus
// encoding: its exported fields in declaration order, with embedded
// structs flattened.
type structInfo struct {
	Name   string
	fields []*structField
}

var structInfos cache[reflect.Type, *structInfo]

// getStructInfo returns the structInfo for t.
func getStructInfo(t reflect.Type) (*structInfo, error) {
	if ret, err := structInfos.Get(t); err != errNotFound {
		return ret, err
	}

	if t.Kind() != reflect.Struct {
		err := fmt.Errorf("%s is not a struct", t)
		structInfos.SetErr(t, err)
		return nil, err
	}

	ret := &structInfo{Name: t.String()}
	for field := range structFields(t, nil) {
		if !field.IsExported() || field.Tag.Get("dbus") == "-" {
			continue
		}
		ret.fields = append(ret.fields, &structField{
			Name:  field.Name,
			Type:  field.Type,
			Index: allocSteps(t, field.Index),
		})
	}
	structInfos.Set(t, ret)
	return ret, nil
}

// structFields yields t's fields in declaration order, descending
// into embedded structs as if their fields were declared in the outer
// struct.
func structFields(t reflect.Type, idx []int) iter.Seq[reflect.StructField] {
	return func(yield func(reflect.StructField) bool) {
		for i := range t.NumField() {
			f := t.Field(i)
			idx = append(idx, i)
			if f.Anonymous {
				at := f.Type
				if at.Kind() == reflect.Pointer {
					at = at.Elem()
				}
				if at.Kind() == reflect.Struct {
					for af := range structFields(at, idx) {
						if !yield(af) {
							return
						}
					}
					idx = idx[:len(idx)-1]
					continue
				}
			}
			f.Index = append([]int(nil), idx...)
			if !yield(f) {
				return
			}
			idx = idx[:len(idx)-1]
		}
	}
}

// allocSteps partitions a multi-hop traversal of struct fields into
// segments that end at either the final value, or at a struct pointer
// that might be nil. The partition is what lets GetWithZero and
// GetWithAlloc handle nil embedded struct pointers.
func allocSteps(t reflect.Type, idx []int) [][]int {
	var ret [][]int
	prev := 0
	t = t.Field(idx[0]).Type
	for i := 1; i < len(idx); i++ {
		if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct {
			ret = append(ret, idx[prev:i])
			prev = i
			t = t.Elem()
		}
		t = t.Field(idx[i]).Type
	}
	return append(ret, idx[prev:])
}

// mapKeyCmp returns a comparison function for the given map key type,
// used to encode dictionaries in deterministic key order.
func mapKeyCmp(t reflect.Type) func(a, b reflect.Value) int {
	switch t.Kind() {
	case reflect.Bool:
		return func(a, b reflect.Value) int {
			if a.Bool() == b.Bool() {
				return 0
			}
			if !a.Bool() {
				return -1
			}
			return 1
		}
	case reflect.Int16, reflect.Int32, reflect.Int64:
		return func(a, b reflect.Value) int {
			return cmp.Compare(a.Int(), b.Int())
		}
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return func(a, b reflect.Value) int {
			return cmp.Compare(a.Uint(), b.Uint())
		}
	case reflect.Float64:
		return func(a, b reflect.Value) int {
			return cmp.Compare(a.Float(), b.Float())
		}
	case reflect.String:
		return func(a, b reflect.Value) int {
			return cmp.Compare(a.String(), b.String())
		}
	default:
		panic(fmt.Sprintf("invalid dbus map key type %s", t))
	}
}
