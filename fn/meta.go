package fn

import (
	"fmt"
	"reflect"
)

// Meta attaches a metadata map to a callable value. The metadata is a
// side channel: it travels with the value through freeze and thaw but
// plays no part in invocation.
type Meta struct {
	value any
	meta  map[string]any
}

// WithMeta wraps value with the given metadata map. The value is
// typically a function value or another Meta; wrapping something else
// is not rejected here, but freezing the wrapper will fail.
func WithMeta(value any, meta map[string]any) *Meta {
	return &Meta{value: value, meta: meta}
}

// Value returns the wrapped value.
func (m *Meta) Value() any { return m.value }

// Meta returns the metadata map.
func (m *Meta) Meta() map[string]any { return m.meta }

// Call invokes the wrapped callable with the given arguments.
func (m *Meta) Call(args ...any) ([]any, error) { return Call(m.value, args...) }

// MetaOf returns the metadata attached to v, or nil when v carries
// none.
func MetaOf(v any) map[string]any {
	if m, ok := v.(*Meta); ok {
		return m.meta
	}
	return nil
}

// Call invokes a callable value with the given arguments and returns
// its results. The callable may be a function value of any signature or
// a Meta wrapper around one; nested wrappers are unwrapped first.
// Arguments are converted to the parameter types where Go conversion
// rules allow it.
func Call(v any, args ...any) ([]any, error) {
	for {
		m, ok := v.(*Meta)
		if !ok {
			break
		}
		v = m.value
	}

	fv := reflect.ValueOf(v)
	if !fv.IsValid() || fv.Kind() != reflect.Func {
		return nil, fmt.Errorf("fn: not a callable value: %T", v)
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		if len(args) < ft.NumIn()-1 {
			return nil, fmt.Errorf("fn: wrong number of arguments: got %d, want at least %d", len(args), ft.NumIn()-1)
		}
	} else if len(args) != ft.NumIn() {
		return nil, fmt.Errorf("fn: wrong number of arguments: got %d, want %d", len(args), ft.NumIn())
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var pt reflect.Type
		if ft.IsVariadic() && i >= ft.NumIn()-1 {
			pt = ft.In(ft.NumIn() - 1).Elem()
		} else {
			pt = ft.In(i)
		}
		if a == nil {
			in[i] = reflect.Zero(pt)
			continue
		}
		av := reflect.ValueOf(a)
		if !av.Type().AssignableTo(pt) {
			if !av.Type().ConvertibleTo(pt) {
				return nil, fmt.Errorf("fn: argument %d: cannot use %s as %s", i, av.Type(), pt)
			}
			av = av.Convert(pt)
		}
		in[i] = av
	}

	out := fv.Call(in)
	results := make([]any, len(out))
	for i, o := range out {
		results[i] = o.Interface()
	}
	return results, nil
}
