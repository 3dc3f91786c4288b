package fn

import (
	"errors"
	"reflect"
	"testing"
	"unsafe"

	"github.com/redplanetlabs/frost/internal/symtab"
)

func TestFieldsOf(t *testing.T) {
	f := &symtab.Func{
		Name:    "pkg.make.func1",
		Closure: reflect.TypeOf(makeLineClosure{}),
	}
	fields, err := fieldsOf(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 2 {
		t.Fatalf("wrong field count: want=2 got=%d", len(fields))
	}
	if fields[0].name != "m" || fields[0].typ != reflect.TypeOf(0) {
		t.Errorf("wrong first field: %+v", fields[0])
	}
	wordSize := unsafe.Sizeof(uintptr(0))
	if fields[0].offset != wordSize || fields[1].offset != 2*wordSize {
		t.Errorf("wrong field offsets: got=%d,%d", fields[0].offset, fields[1].offset)
	}
}

func TestFieldsOfRejectsBadLayouts(t *testing.T) {
	tests := []struct {
		scenario string
		closure  reflect.Type
	}{
		{"no layout", nil},
		{"not a struct", reflect.TypeOf(0)},
		{"empty struct", reflect.TypeOf(struct{}{})},
		{"missing code word", reflect.TypeOf(struct{ n int }{})},
		{"uintptr capture", reflect.TypeOf(struct {
			_ uintptr
			p uintptr
		}{})},
		{"unsafe pointer capture", reflect.TypeOf(struct {
			_ uintptr
			p unsafe.Pointer
		}{})},
	}
	for _, test := range tests {
		f := &symtab.Func{Name: "pkg.make.func1", Closure: test.closure}
		if _, err := fieldsOf(f); !errors.Is(err, ErrIntrospection) {
			t.Errorf("%s: wrong error: %v", test.scenario, err)
		}
	}
}

func TestFieldsOfSkipsZeroSizeFields(t *testing.T) {
	f := &symtab.Func{
		Name: "pkg.make.func1",
		Closure: reflect.TypeOf(struct {
			_ uintptr
			a struct{}
			n int
		}{}),
	}
	fields, err := fieldsOf(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 1 || fields[0].name != "n" {
		t.Errorf("zero size fields must be skipped: got=%+v", fields)
	}
}

func TestReceiverField(t *testing.T) {
	f := &symtab.Func{
		Name: "pkg.(*Counter).Add-fm",
		Recv: reflect.TypeOf(&Counter{}),
	}
	recv, err := receiverField(f)
	if err != nil {
		t.Fatal(err)
	}
	if recv.typ != reflect.TypeOf(&Counter{}) {
		t.Errorf("wrong receiver type: %s", recv.typ)
	}
	if recv.offset != unsafe.Sizeof(uintptr(0)) {
		t.Errorf("wrong receiver offset: want=%d got=%d", unsafe.Sizeof(uintptr(0)), recv.offset)
	}

	if _, err := receiverField(&symtab.Func{Name: "pkg.T.M-fm"}); !errors.Is(err, ErrIntrospection) {
		t.Errorf("wrong error for a missing receiver type: %v", err)
	}
}

func TestShapeDigest(t *testing.T) {
	fields := []fieldHandle{{name: "n", typ: reflect.TypeOf(0), offset: 8}}

	d1 := shapeDigest("pkg.f.func1", fields)
	d2 := shapeDigest("pkg.f.func1", fields)
	if d1 != d2 {
		t.Error("digest of one shape is not stable")
	}

	if d := shapeDigest("pkg.g.func1", fields); d == d1 {
		t.Error("digest ignores the symbol name")
	}
	if d := shapeDigest("pkg.f.func1", []fieldHandle{{name: "n", typ: reflect.TypeOf(int32(0)), offset: 8}}); d == d1 {
		t.Error("digest ignores capture types")
	}
	if d := shapeDigest("pkg.f.func1", append(fields, fieldHandle{name: "m", typ: reflect.TypeOf(""), offset: 16})); d == d1 {
		t.Error("digest ignores capture arity")
	}
	if d := shapeDigest("pkg.f.func1", nil); d == d1 {
		t.Error("digest of an empty shape collides with a non-empty one")
	}
}
