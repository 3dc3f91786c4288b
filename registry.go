package frost

import (
	"fmt"
	"reflect"
	"sync"
)

// Global extension register.
var extensions = newExtmap()

type encodeFunc func(*Encoder, any) error
type decodeFunc func(*Decoder) (any, error)

// EncoderFunc is the signature of extension encode hooks registered for
// a concrete or interface type T. The hook writes the component values
// of v through the encoder; each component is itself an engine value.
type EncoderFunc[T any] func(*Encoder, T) error

// DecoderFunc is the signature of extension decode hooks. The hook
// reads back the component values its encode counterpart wrote, in the
// same order, and rebuilds the value.
type DecoderFunc[T any] func(*Decoder) (T, error)

// RegisterExtension attaches freeze and thaw hooks to type T.
//
// Values whose type is exactly T, or which implement T when T is an
// interface type, are frozen as a tagged group of component values
// written by enc, and thawed by the dec registered under the same tag.
// Within a group, components nest: a component may itself be handled by
// an extension.
//
// The tag is the wire discriminator and must be unique across all
// registered extensions. Registration is expected to happen from init
// functions; it panics on duplicate tags or types and is not safe for
// use concurrently with Freeze or Thaw.
func RegisterExtension[T any](tag uint64, enc EncoderFunc[T], dec DecoderFunc[T]) {
	if enc == nil || dec == nil {
		panic("frost: both encode and decode hooks need to be provided")
	}
	t := reflect.TypeOf((*T)(nil)).Elem()

	e := func(e *Encoder, v any) error {
		x, ok := v.(T)
		if !ok {
			// A value of a named type registered under its underlying
			// type arrives here; box it through a conversion.
			rv := reflect.ValueOf(v)
			if !rv.Type().ConvertibleTo(t) {
				return fmt.Errorf("frost: cannot encode %s as %s", rv.Type(), t)
			}
			x = rv.Convert(t).Interface().(T)
		}
		return enc(e, x)
	}
	d := func(d *Decoder) (any, error) {
		return dec(d)
	}
	extensions.attach(t, &extension{tag: tag, typ: t, enc: e, dec: d})
}

// KindExtension freezes every value of one reflect.Kind for which no
// exact type or interface extension matched. A kind hook serves type
// families with unboundedly many members (there is one reflect.Type per
// function signature, for example), so unlike a type extension it
// classifies each value itself and picks one of several wire tags.
type KindExtension struct {
	Kind reflect.Kind

	// Encode classifies v, writes its component values, and returns the
	// wire tag identifying the decode hook for them.
	Encode func(*Encoder, any) (uint64, error)

	// Decoders holds the decode hooks for every tag Encode can return.
	Decoders map[uint64]func(*Decoder) (any, error)
}

// RegisterKindExtension attaches freeze and thaw hooks to a whole
// reflect.Kind. Same registration contract as RegisterExtension.
func RegisterKindExtension(ext KindExtension) {
	if ext.Encode == nil || len(ext.Decoders) == 0 {
		panic("frost: kind extension needs an encode hook and at least one decoder")
	}
	extensions.attachKind(&ext)
}

type extension struct {
	tag uint64
	typ reflect.Type
	enc encodeFunc
	dec decodeFunc
}

type extmap struct {
	mu         sync.RWMutex
	types      map[reflect.Type]*extension
	interfaces []*extension
	kinds      map[reflect.Kind]*KindExtension
	decoders   map[uint64]decodeFunc
}

func newExtmap() *extmap {
	return &extmap{
		types:    make(map[reflect.Type]*extension),
		kinds:    make(map[reflect.Kind]*KindExtension),
		decoders: make(map[uint64]decodeFunc),
	}
}

func (m *extmap) attach(t reflect.Type, e *extension) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.types[t]; ok {
		panic(fmt.Sprintf("frost: extension already registered for type %s", t))
	}
	m.addDecoder(e.tag, e.dec)
	m.types[t] = e
	if t.Kind() == reflect.Interface {
		m.interfaces = append(m.interfaces, e)
	}
}

func (m *extmap) attachKind(ext *KindExtension) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.kinds[ext.Kind]; ok {
		panic(fmt.Sprintf("frost: extension already registered for kind %s", ext.Kind))
	}
	for tag, dec := range ext.Decoders {
		m.addDecoder(tag, dec)
	}
	m.kinds[ext.Kind] = ext
}

func (m *extmap) addDecoder(tag uint64, dec decodeFunc) {
	if _, ok := m.decoders[tag]; ok {
		panic(fmt.Sprintf("frost: extension already registered for tag %d", tag))
	}
	m.decoders[tag] = dec
}

// byType returns the extension for values of type t: an exact match
// first, then the first registered interface that t implements.
func (m *extmap) byType(t reflect.Type) (*extension, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.types[t]; ok {
		return e, true
	}
	for _, e := range m.interfaces {
		if t.Implements(e.typ) {
			return e, true
		}
	}
	return nil, false
}

func (m *extmap) byKind(k reflect.Kind) (*KindExtension, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ext, ok := m.kinds[k]
	return ext, ok
}

func (m *extmap) decoder(tag uint64) (decodeFunc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dec, ok := m.decoders[tag]
	return dec, ok
}
