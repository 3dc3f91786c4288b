// Package fn makes function values freezable.
//
// Importing the package installs hooks into the frost engine for every
// callable shape Go produces, so frost.Freeze and frost.Thaw accept
// function values anywhere a plain value could appear: at the top
// level, inside captures, inside metadata, or nested in other frozen
// callables.
//
// Code is never serialized. A named function freezes as its symbol
// name alone. A closure freezes as its symbol name plus the values it
// captured. A method value freezes as its symbol name plus its bound
// receiver. Thawing resolves each name against the running program and
// splices the captured state back in, so both sides must link the
// function being exchanged.
//
// The symbol table knows every function's name and address, but Go
// keeps no runtime record of signatures or capture layouts. Those are
// registered at init time, either by hand or by generated code from
// frostgen:
//
//	func init() {
//		fn.RegisterFunc[func(int) int]("example.com/m/acc.Square")
//		fn.RegisterClosure[func(int) int, adderCell]("example.com/m/acc.Adder.func1")
//		fn.RegisterMethod[*Counter]("example.com/m/acc.(*Counter).Incr-fm")
//	}
//
// Freezing a named function needs no registration. Thawing one, and
// either direction for closures and method values, does.
package fn

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/redplanetlabs/frost"
	"github.com/redplanetlabs/frost/internal/symtab"
)

// Wire tags for the callable shapes. Which tag a frozen callable
// carries records how it must be rebuilt; thawing under a different
// shape than the one frozen is a shape mismatch.
const (
	tagNamed       = 280
	tagClosure     = 281
	tagMeta        = 282
	tagMethodValue = 283
)

func init() {
	frost.RegisterKindExtension(frost.KindExtension{
		Kind:   reflect.Func,
		Encode: encodeCallable,
		Decoders: map[uint64]func(*frost.Decoder) (any, error){
			tagNamed:       decodeNamed,
			tagClosure:     decodeClosure,
			tagMethodValue: decodeMethodValue,
		},
	})
	frost.RegisterExtension[*Meta](tagMeta, encodeMeta, decodeMeta)
}

// RegisterFunc records the signature of the named function so its
// frozen form can be thawed. Names are link symbol names, for example
// "example.com/m/acc.Square". Unknown names are skipped: the linker
// may have pruned a function this build never references.
func RegisterFunc[F any](name string) {
	if f := symtab.FuncByName(name); f != nil {
		var signature F
		f.Type = reflect.TypeOf(signature)
	}
}

// RegisterClosure records the signature and capture layout of a
// closure. C mirrors the closure cell: a struct whose first field is
// uintptr (the code word) followed by one field per captured variable,
// in capture order, using pointer types for by-reference captures.
//
// A closure that captures nothing may register with C = struct{ _
// uintptr }, promising the empty layout; it then freezes by name
// alone, like a named function.
func RegisterClosure[F, C any](name string) {
	if f := symtab.FuncByName(name); f != nil {
		var signature F
		var closure C
		f.Type, f.Closure = reflect.TypeOf(signature), reflect.TypeOf(closure)
	}
}

// RegisterMethod records the receiver type of a method value, the
// callable produced by using t.M without calling it. R is the receiver
// exactly as the symbol binds it: "pkg.(*T).M-fm" takes R = *T,
// "pkg.T.M-fm" takes R = T.
func RegisterMethod[R any](name string) {
	if f := symtab.FuncByName(name); f != nil {
		f.Recv = reflect.TypeOf((*R)(nil)).Elem()
	}
}

// ClearCache drops every generated codec. Codecs rebuild from the
// current registrations on next use; tests that rewrite a registration
// call this so stale routines are not reused. Concurrent freezes and
// thaws keep the codecs they already hold.
func ClearCache() {
	cache.clear()
}

func encodeCallable(e *frost.Encoder, v any) (uint64, error) {
	_, addr := symtab.FuncData(v)
	if addr == 0 {
		// A nil function freezes as an empty name and thaws back to nil.
		return tagNamed, e.Encode("")
	}
	codec, err := cache.encoderFor(addr)
	if err != nil {
		return 0, err
	}
	return codec.wireTag(), codec.encode(e, v)
}

func decodeNamed(d *frost.Decoder) (any, error) {
	return decodeShape(d, shapeNamed)
}

func decodeClosure(d *frost.Decoder) (any, error) {
	return decodeShape(d, shapeClosure)
}

func decodeMethodValue(d *frost.Decoder) (any, error) {
	return decodeShape(d, shapeMethodValue)
}

func decodeShape(d *frost.Decoder, s shape) (any, error) {
	var name string
	if err := d.DecodeInto(&name); err != nil {
		return nil, err
	}
	if name == "" && s == shapeNamed {
		return nil, nil
	}
	codec, err := cache.decoderFor(name)
	if err != nil {
		return nil, err
	}
	if codec.shape != s {
		return nil, &ShapeMismatchError{
			Name:   name,
			Reason: fmt.Sprintf("frozen as a %s but resolves to a %s here", s, codec.shape),
		}
	}
	return codec.decode(d)
}

func encodeMeta(e *frost.Encoder, m *Meta) error {
	if m == nil {
		return fmt.Errorf("fn: nil metadata wrapper")
	}
	if !isCallable(m.value) {
		return fmt.Errorf("fn: metadata wrapper around non-callable %T", m.value)
	}
	keys := make([]string, 0, len(m.meta))
	for k := range m.meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := e.Encode(len(keys)); err != nil {
		return err
	}
	for _, k := range keys {
		if err := e.Encode(k); err != nil {
			return err
		}
		if err := e.Encode(m.meta[k]); err != nil {
			return err
		}
	}
	return e.Encode(m.value)
}

func decodeMeta(d *frost.Decoder) (*Meta, error) {
	var n int
	if err := d.DecodeInto(&n); err != nil {
		return nil, err
	}
	var meta map[string]any
	if n > 0 {
		meta = make(map[string]any, n)
		for i := 0; i < n; i++ {
			var k string
			if err := d.DecodeInto(&k); err != nil {
				return nil, err
			}
			v, err := d.Decode()
			if err != nil {
				return nil, err
			}
			meta[k] = v
		}
	}
	v, err := d.Decode()
	if err != nil {
		return nil, err
	}
	return &Meta{value: v, meta: meta}, nil
}

// isCallable reports whether v freezes as a callable: a function value
// or a wrapper chain ending in one.
func isCallable(v any) bool {
	for {
		m, ok := v.(*Meta)
		if !ok {
			return v != nil && reflect.TypeOf(v).Kind() == reflect.Func
		}
		v = m.value
	}
}
