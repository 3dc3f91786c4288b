package fn

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
	"unsafe"

	"github.com/zeebo/blake3"

	"github.com/redplanetlabs/frost/internal/symtab"
)

// fieldHandle is a resolved accessor for one captured variable: its
// position in the closure cell and its type. Handles are computed once
// per codec build; the encode and decode loops only chase offsets.
type fieldHandle struct {
	name   string
	typ    reflect.Type
	offset uintptr
}

// fieldsOf validates the registered closure layout of f and returns
// handles for its captured variables, in declared order. The leading
// code word and zero-size padding fields are excluded.
func fieldsOf(f *symtab.Func) ([]fieldHandle, error) {
	ct := f.Closure
	if ct == nil {
		return nil, &IntrospectionError{Name: f.Name, Reason: "no closure layout registered"}
	}
	if ct.Kind() != reflect.Struct {
		return nil, &IntrospectionError{Name: f.Name, Reason: "closure layout is not a struct"}
	}
	if ct.NumField() == 0 || ct.Field(0).Type.Kind() != reflect.Uintptr {
		return nil, &IntrospectionError{Name: f.Name, Reason: "closure layout must start with a uintptr code word"}
	}

	fields := make([]fieldHandle, 0, ct.NumField()-1)
	for i := 1; i < ct.NumField(); i++ {
		sf := ct.Field(i)
		if sf.Type.Size() == 0 {
			continue
		}
		switch sf.Type.Kind() {
		case reflect.Uintptr, reflect.UnsafePointer:
			// Raw address words are meaningless in another process.
			return nil, &IntrospectionError{
				Name:   f.Name,
				Reason: fmt.Sprintf("captured field %s is a raw address word", sf.Name),
			}
		}
		fields = append(fields, fieldHandle{name: sf.Name, typ: sf.Type, offset: sf.Offset})
	}
	return fields, nil
}

// receiverField returns the handle for the receiver slot of a method
// value wrapper. The wrapper cell is laid out like a closure capturing
// only the receiver: a code word, then the receiver at its natural
// alignment.
func receiverField(f *symtab.Func) (fieldHandle, error) {
	rt := f.Recv
	if rt == nil {
		return fieldHandle{}, &IntrospectionError{Name: f.Name, Reason: "no receiver type registered"}
	}
	offset := unsafe.Sizeof(uintptr(0))
	if a := uintptr(rt.Align()); a > 1 {
		offset = (offset + a - 1) &^ (a - 1)
	}
	return fieldHandle{name: "recv", typ: rt, offset: offset}, nil
}

// shapeDigestKey is the domain separation key for shape digests; it
// must be exactly 32 bytes.
var shapeDigestKey = []byte("frost.fn shape digest key v1....")

// shapeDigest fingerprints the capture layout of a callable: the
// symbol name and the capture types, in order. The digest travels with
// frozen closures and method values so that a layout change between
// freeze and thaw is detected instead of misreading fields.
func shapeDigest(name string, fields []fieldHandle) uint64 {
	h, err := blake3.NewKeyed(shapeDigestKey)
	if err != nil {
		panic("fn: shape digest key: " + err.Error())
	}
	io.WriteString(h, name)
	h.Write([]byte{0})
	for _, f := range fields {
		io.WriteString(h, f.typ.String())
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8])
}
