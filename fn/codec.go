package fn

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/redplanetlabs/frost"
	"github.com/redplanetlabs/frost/internal/symtab"
)

// fnCodec is the generated serialization routine for one callable. A
// codec is built once per shape: symbol resolution, layout validation,
// field handles, and the shape digest all happen at build time, so the
// encode and decode paths run without further lookups.
type fnCodec struct {
	entry  *symtab.Func
	shape  shape
	method string        // method values: the name the receiver rebinds
	fields []fieldHandle // captures, or the single receiver slot
	digest uint64
}

func (c *fnCodec) wireTag() uint64 {
	switch c.shape {
	case shapeClosure:
		return tagClosure
	case shapeMethodValue:
		return tagMethodValue
	default:
		return tagNamed
	}
}

// buildEncoder generates the encode routine for the callable whose
// entry is at addr.
func buildEncoder(addr uintptr) (*fnCodec, error) {
	entry := symtab.FuncByAddr(addr)
	if entry == nil {
		return nil, &IntrospectionError{
			Name:   fmt.Sprintf("func@%#x", addr),
			Reason: "no symbol table entry for address",
		}
	}
	return build(entry, false)
}

// buildDecoder generates the decode routine for the callable frozen
// under name.
func buildDecoder(name string) (*fnCodec, error) {
	entry := symtab.FuncByName(name)
	if entry == nil {
		return nil, &UnresolvableBindingError{Name: name}
	}
	return build(entry, true)
}

func build(entry *symtab.Func, forDecode bool) (*fnCodec, error) {
	switch s := classify(entry); s {
	case shapeNamed:
		// Freezing needs only the name; thawing must materialize a value
		// of the registered signature type.
		if forDecode && entry.Type == nil {
			return nil, &UnresolvableBindingError{Name: entry.Name}
		}
		return &fnCodec{entry: entry, shape: s}, nil

	case shapeClosure:
		fields, err := fieldsOf(entry)
		if err != nil {
			return nil, err
		}
		if forDecode && entry.Type == nil {
			return nil, &UnresolvableBindingError{Name: entry.Name}
		}
		return &fnCodec{
			entry:  entry,
			shape:  s,
			fields: fields,
			digest: shapeDigest(entry.Name, fields),
		}, nil

	case shapeMethodValue:
		recv, err := receiverField(entry)
		if err != nil {
			if forDecode {
				return nil, &UnresolvableBindingError{Name: entry.Name}
			}
			return nil, err
		}
		fields := []fieldHandle{recv}
		return &fnCodec{
			entry:  entry,
			shape:  s,
			method: methodName(entry.Name),
			fields: fields,
			digest: shapeDigest(entry.Name, fields),
		}, nil

	default:
		return nil, &IntrospectionError{Name: entry.Name, Reason: "unclassifiable symbol"}
	}
}

// encode writes the component values of v. The group's wire tag was
// already chosen from the codec's shape.
func (c *fnCodec) encode(e *frost.Encoder, v any) error {
	switch c.shape {
	case shapeNamed:
		return e.Encode(c.entry.Name)

	case shapeClosure:
		p, _ := symtab.FuncData(v)
		if err := e.Encode(c.entry.Name); err != nil {
			return err
		}
		if err := e.Encode(c.digest); err != nil {
			return err
		}
		for i := range c.fields {
			f := &c.fields[i]
			fv := reflect.NewAt(f.typ, unsafe.Add(p, f.offset)).Elem()
			if err := e.Encode(fv.Interface()); err != nil {
				return err
			}
		}
		return nil

	case shapeMethodValue:
		p, _ := symtab.FuncData(v)
		if err := e.Encode(c.entry.Name); err != nil {
			return err
		}
		if err := e.Encode(c.digest); err != nil {
			return err
		}
		f := &c.fields[0]
		recv := reflect.NewAt(f.typ, unsafe.Add(p, f.offset)).Elem()
		return e.Encode(recv.Interface())
	}
	return fmt.Errorf("fn: cannot encode shape %d", c.shape)
}

// decode rebuilds a callable from its component values. The name was
// already consumed to find this codec.
func (c *fnCodec) decode(d *frost.Decoder) (any, error) {
	switch c.shape {
	case shapeNamed:
		return c.materialize(), nil

	case shapeClosure:
		if err := c.checkShape(d, len(c.fields)); err != nil {
			return nil, err
		}
		// A fresh closure cell: the code word first, then the captures
		// decoded in place at their registered offsets.
		cell := reflect.New(c.entry.Closure)
		p := cell.UnsafePointer()
		*(*uintptr)(p) = c.entry.Addr
		for i := range c.fields {
			f := &c.fields[i]
			target := reflect.NewAt(f.typ, unsafe.Add(p, f.offset))
			if err := d.DecodeInto(target.Interface()); err != nil {
				return nil, err
			}
		}
		return c.reinterpret(p), nil

	case shapeMethodValue:
		if err := c.checkShape(d, 1); err != nil {
			return nil, err
		}
		recv := reflect.New(c.fields[0].typ)
		if err := d.DecodeInto(recv.Interface()); err != nil {
			return nil, err
		}
		m := recv.Elem().MethodByName(c.method)
		if !m.IsValid() {
			return nil, &UnresolvableBindingError{Name: c.entry.Name}
		}
		return m.Interface(), nil
	}
	return nil, fmt.Errorf("fn: cannot decode shape %d", c.shape)
}

// checkShape consumes the digest component and verifies it, then the
// remaining component count, against the codec built from this
// program's code.
func (c *fnCodec) checkShape(d *frost.Decoder, arity int) error {
	var digest uint64
	if err := d.DecodeInto(&digest); err != nil {
		return err
	}
	if digest != c.digest {
		return &ShapeMismatchError{Name: c.entry.Name, Reason: "captured field layout changed"}
	}
	if n := d.Remaining(); n != arity {
		return &ShapeMismatchError{
			Name:   c.entry.Name,
			Reason: fmt.Sprintf("expected %d captured values, got %d", arity, n),
		}
	}
	return nil
}

// materialize constructs a function value for a named binding by
// pointing a funcval at the table entry, which works because the
// entry's first word is the function address.
func (c *fnCodec) materialize() any {
	v := reflect.New(c.entry.Type)
	p := v.UnsafePointer()
	*(**symtab.Func)(p) = c.entry
	return v.Elem().Interface()
}

// reinterpret turns a populated closure cell into a function value of
// the registered signature type.
func (c *fnCodec) reinterpret(cell unsafe.Pointer) any {
	v := reflect.New(c.entry.Type)
	p := v.UnsafePointer()
	*(*unsafe.Pointer)(p) = cell
	return v.Elem().Interface()
}
