package frost

import (
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer encoding,
// no indefinite-length items. Freezing the same logical value always
// produces identical bytes.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Types implementing encoding.TextMarshaler serialize as CBOR text
	// strings via MarshalText. Without this, values with unexported
	// fields would serialize as empty CBOR maps, losing their identity.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("frost: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// When the decoder's target is any, it must pick a concrete Go
		// map type. The CBOR default is map[interface{}]interface{},
		// which is incompatible with most Go code expecting
		// map[string]any. Struct field decoding is unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Integers thawed into any come back as int64 regardless of
		// sign, instead of CBOR's default uint64/int64 split.
		IntDec: cbor.IntDecConvertSigned,
		// Mirrors the TextMarshaler setting above for round-trip
		// correctness.
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("frost: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encoder collects the component values an extension hook writes for
// one tagged group. The zero value is ready for use.
type Encoder struct {
	items []cbor.RawMessage
}

// Encode appends one component value to the group. The value goes
// through the full engine dispatch, so components covered by an
// extension nest as tagged groups of their own.
func (e *Encoder) Encode(v any) error {
	raw, err := encodeValue(v)
	if err != nil {
		return err
	}
	e.items = append(e.items, raw)
	return nil
}

// encodeValue dispatches one value: exact type extension first, then
// interface extensions, then kind extensions, else plain CBOR.
func encodeValue(v any) (cbor.RawMessage, error) {
	if v == nil {
		return encMode.Marshal(nil)
	}
	t := reflect.TypeOf(v)
	if ext, ok := extensions.byType(t); ok {
		sub := new(Encoder)
		if err := ext.enc(sub, v); err != nil {
			return nil, err
		}
		return marshalTagged(ext.tag, sub.items)
	}
	if ext, ok := extensions.byKind(t.Kind()); ok {
		sub := new(Encoder)
		tag, err := ext.Encode(sub, v)
		if err != nil {
			return nil, err
		}
		return marshalTagged(tag, sub.items)
	}
	raw, err := encMode.Marshal(v)
	if err != nil {
		return nil, &UnfreezableValueError{Type: t, Err: err}
	}
	return raw, nil
}

func marshalTagged(tag uint64, items []cbor.RawMessage) (cbor.RawMessage, error) {
	if items == nil {
		items = []cbor.RawMessage{}
	}
	return encMode.Marshal(cbor.Tag{Number: tag, Content: items})
}

// Decoder hands an extension hook back the component values of one
// tagged group, in the order they were encoded.
type Decoder struct {
	items []cbor.RawMessage
}

// Remaining returns the number of component values not yet decoded.
func (d *Decoder) Remaining() int { return len(d.items) }

func (d *Decoder) next() (cbor.RawMessage, error) {
	if len(d.items) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	raw := d.items[0]
	d.items = d.items[1:]
	return raw, nil
}

// Decode reads the next component value in its dynamic form: tagged
// groups go through their registered extension, plain values decode as
// CBOR does by default (maps become map[string]any).
func (d *Decoder) Decode() (any, error) {
	raw, err := d.next()
	if err != nil {
		return nil, err
	}
	return decodeValue(raw)
}

// DecodeInto reads the next component value into *ptr. Extension tags
// are still honored; the decoded value is assigned (or converted) into
// the target.
func (d *Decoder) DecodeInto(ptr any) error {
	raw, err := d.next()
	if err != nil {
		return err
	}
	return decodeValueInto(raw, ptr)
}

func decodeValue(raw cbor.RawMessage) (any, error) {
	if isTagged(raw) {
		dec, sub, err := openTagged(raw)
		if err != nil {
			return nil, err
		}
		return dec(sub)
	}
	var v any
	if err := decMode.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeValueInto(raw cbor.RawMessage, ptr any) error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("frost: decode target must be a non-nil pointer")
	}
	if !isTagged(raw) {
		return decMode.Unmarshal(raw, ptr)
	}
	v, err := decodeValue(raw)
	if err != nil {
		return err
	}
	elem := rv.Elem()
	if v == nil {
		elem.SetZero()
		return nil
	}
	xv := reflect.ValueOf(v)
	if !xv.Type().AssignableTo(elem.Type()) {
		if !xv.Type().ConvertibleTo(elem.Type()) {
			return fmt.Errorf("frost: cannot assign %s to %s", xv.Type(), elem.Type())
		}
		xv = xv.Convert(elem.Type())
	}
	elem.Set(xv)
	return nil
}

// openTagged unwraps one tagged group: it resolves the decode hook for
// the tag number and returns a sub-decoder over the group's components.
func openTagged(raw cbor.RawMessage) (decodeFunc, *Decoder, error) {
	var tag cbor.RawTag
	if err := decMode.Unmarshal(raw, &tag); err != nil {
		return nil, nil, err
	}
	dec, ok := extensions.decoder(tag.Number)
	if !ok {
		return nil, nil, fmt.Errorf("frost: no extension registered for tag %d", tag.Number)
	}
	var items []cbor.RawMessage
	if err := decMode.Unmarshal(tag.Content, &items); err != nil {
		return nil, nil, fmt.Errorf("frost: malformed extension group for tag %d: %w", tag.Number, err)
	}
	return dec, &Decoder{items: items}, nil
}

// isTagged reports whether the raw item is a CBOR tag (major type 6).
func isTagged(raw cbor.RawMessage) bool {
	return len(raw) > 0 && raw[0]>>5 == 6
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) of the
// payload carried by a frozen envelope.
func Diagnose(data []byte) (string, error) {
	payload, err := unseal(data)
	if err != nil {
		return "", err
	}
	return cbor.Diagnose(payload)
}
