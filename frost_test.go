package frost

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type EasyStruct struct {
	A int
	B string
}

func withBlankExtensions(f func()) {
	old := extensions
	extensions = newExtmap()
	defer func() { extensions = old }()
	f()
}

func assertThaw(t *testing.T, in, want any) []byte {
	t.Helper()

	data, err := Freeze(in)
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	out, err := Thaw(data)
	if err != nil {
		t.Fatalf("thaw: %v", err)
	}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("unexpected value (-want +got):\n%s", diff)
	}
	return data
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{"foo", "foo"},
		{true, true},
		{int(42), int64(42)},
		{int64(-11), int64(-11)},
		{int32(10), int64(10)},
		{uint8(8), int64(8)},
		{3.5, 3.5},
		{[]byte{1, 2, 3}, []byte{1, 2, 3}},
		{[]int{1, 2, 3}, []any{int64(1), int64(2), int64(3)}},
		{map[string]int{"one": 1, "two": 2}, map[string]any{"one": int64(1), "two": int64(2)}},
		{EasyStruct{A: 52, B: "test"}, map[string]any{"A": int64(52), "B": "test"}},
		{[]any{"a", int64(1), nil}, []any{"a", int64(1), nil}},
	}

	for i, c := range cases {
		c := c
		t.Run(fmt.Sprintf("%d-%T", i, c.in), func(t *testing.T) {
			assertThaw(t, c.in, c.want)
		})
	}
}

func TestFreezeDeterministic(t *testing.T) {
	v := map[string]any{
		"b": []int{3, 2, 1},
		"a": "first",
		"c": map[string]int{"x": 1, "y": 2, "z": 3},
	}

	d1, err := Freeze(v)
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	d2, err := Freeze(v)
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if !bytes.Equal(d1, d2) {
		t.Error("freezing the same value twice produced different bytes")
	}
}

func TestEnvelopeCompression(t *testing.T) {
	big := strings.Repeat("the quick brown fox jumps over the lazy dog ", 100)

	t.Run("auto-small", func(t *testing.T) {
		data := assertThaw(t, "tiny", "tiny")
		if got := Compression(data[3]); got != None {
			t.Errorf("small payload compressed as %s", got)
		}
	})

	t.Run("auto-large", func(t *testing.T) {
		data, err := Freeze(big)
		if err != nil {
			t.Fatalf("freeze: %v", err)
		}
		if got := Compression(data[3]); got != LZ4 {
			t.Errorf("large payload stored as %s, want lz4", got)
		}
		out, err := Thaw(data)
		if err != nil {
			t.Fatalf("thaw: %v", err)
		}
		assertEqual(t, big, out)
	})

	for _, c := range []Compression{None, LZ4, Zstd} {
		c := c
		t.Run(c.String(), func(t *testing.T) {
			data, err := Freeze(big, WithCompression(c))
			if err != nil {
				t.Fatalf("freeze: %v", err)
			}
			if got := Compression(data[3]); got != c {
				t.Errorf("payload stored as %s, want %s", got, c)
			}
			out, err := Thaw(data)
			if err != nil {
				t.Fatalf("thaw: %v", err)
			}
			assertEqual(t, big, out)
		})
	}
}

func TestIncompressibleFallsBackToNone(t *testing.T) {
	noise := make([]byte, 4096)
	rng := rand.New(rand.NewSource(1))
	rng.Read(noise)

	data, err := Freeze(noise, WithCompression(LZ4))
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if got := Compression(data[3]); got != None {
		t.Errorf("incompressible payload stored as %s, want none", got)
	}
	out, err := Thaw(data)
	if err != nil {
		t.Fatalf("thaw: %v", err)
	}
	assertEqual(t, noise, out)
}

func TestEnvelopeErrors(t *testing.T) {
	good, err := Freeze("ok")
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", good[:2]},
		{"bad-magic", append([]byte("XY"), good[2:]...)},
		{"bad-version", append([]byte{magic0, magic1, 99}, good[3:]...)},
		{"missing-size", []byte{magic0, magic1, version, byte(LZ4)}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			if _, err := Thaw(c.data); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestImplausiblePayloadSizeRejected(t *testing.T) {
	// A hostile envelope declaring a huge uncompressed size must be
	// rejected before any allocation happens.
	data := append([]byte{magic0, magic1, version, byte(LZ4)}, binary.AppendUvarint(nil, 1<<40)...)
	data = append(data, 1, 2, 3)
	if _, err := Thaw(data); err == nil || !strings.Contains(err.Error(), "implausible payload size") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFreezeToThawFrom(t *testing.T) {
	var buf bytes.Buffer
	if err := FreezeTo(&buf, []any{"stream", int64(1)}); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	out, err := ThawFrom(&buf)
	if err != nil {
		t.Fatalf("thaw: %v", err)
	}
	assertEqual(t, []any{"stream", int64(1)}, out)
}

type celsius float64

func TestTypeExtension(t *testing.T) {
	withBlankExtensions(func() {
		RegisterExtension[celsius](1000,
			func(e *Encoder, c celsius) error {
				return e.Encode(float64(c))
			},
			func(d *Decoder) (celsius, error) {
				var f float64
				if err := d.DecodeInto(&f); err != nil {
					return 0, err
				}
				return celsius(f), nil
			},
		)

		data, err := Freeze(celsius(21.5))
		if err != nil {
			t.Fatalf("freeze: %v", err)
		}
		out, err := Thaw(data)
		if err != nil {
			t.Fatalf("thaw: %v", err)
		}
		c, ok := out.(celsius)
		if !ok {
			t.Fatalf("thawed value has type %T, want celsius", out)
		}
		if c != 21.5 {
			t.Errorf("thawed %v, want 21.5", c)
		}
	})
}

type shape interface {
	area() float64
}

type circle struct {
	Radius float64
}

func (c circle) area() float64 { return 3.14159 * c.Radius * c.Radius }

func TestInterfaceExtension(t *testing.T) {
	withBlankExtensions(func() {
		RegisterExtension[shape](1001,
			func(e *Encoder, s shape) error {
				return e.Encode(s.(circle).Radius)
			},
			func(d *Decoder) (shape, error) {
				var r float64
				if err := d.DecodeInto(&r); err != nil {
					return nil, err
				}
				return circle{Radius: r}, nil
			},
		)

		data, err := Freeze(circle{Radius: 2})
		if err != nil {
			t.Fatalf("freeze: %v", err)
		}
		out, err := Thaw(data)
		if err != nil {
			t.Fatalf("thaw: %v", err)
		}
		c, ok := out.(circle)
		if !ok {
			t.Fatalf("thawed value has type %T, want circle", out)
		}
		if c.Radius != 2 {
			t.Errorf("thawed radius %v, want 2", c.Radius)
		}
	})
}

func TestKindExtension(t *testing.T) {
	withBlankExtensions(func() {
		sentinel := func() string { return "hi" }

		RegisterKindExtension(KindExtension{
			Kind: reflect.Func,
			Encode: func(e *Encoder, v any) (uint64, error) {
				return 1002, e.Encode("sentinel")
			},
			Decoders: map[uint64]func(*Decoder) (any, error){
				1002: func(d *Decoder) (any, error) {
					if _, err := d.Decode(); err != nil {
						return nil, err
					}
					return sentinel, nil
				},
			},
		})

		data, err := Freeze(sentinel)
		if err != nil {
			t.Fatalf("freeze: %v", err)
		}
		out, err := Thaw(data)
		if err != nil {
			t.Fatalf("thaw: %v", err)
		}
		if reflect.ValueOf(out).Pointer() != reflect.ValueOf(sentinel).Pointer() {
			t.Error("thawed function is not the sentinel")
		}
	})
}

func TestExtensionGroupNesting(t *testing.T) {
	withBlankExtensions(func() {
		RegisterExtension[celsius](1000,
			func(e *Encoder, c celsius) error {
				return e.Encode(float64(c))
			},
			func(d *Decoder) (celsius, error) {
				var f float64
				if err := d.DecodeInto(&f); err != nil {
					return 0, err
				}
				return celsius(f), nil
			},
		)

		// An extension value nested inside another extension group.
		RegisterExtension[*EasyStruct](1003,
			func(e *Encoder, s *EasyStruct) error {
				if err := e.Encode(s.A); err != nil {
					return err
				}
				return e.Encode(celsius(float64(s.A) / 2))
			},
			func(d *Decoder) (*EasyStruct, error) {
				var a int
				if err := d.DecodeInto(&a); err != nil {
					return nil, err
				}
				nested, err := d.Decode()
				if err != nil {
					return nil, err
				}
				return &EasyStruct{A: a, B: fmt.Sprint(nested)}, nil
			},
		)

		data, err := Freeze(&EasyStruct{A: 43})
		if err != nil {
			t.Fatalf("freeze: %v", err)
		}
		out, err := Thaw(data)
		if err != nil {
			t.Fatalf("thaw: %v", err)
		}
		s, ok := out.(*EasyStruct)
		if !ok {
			t.Fatalf("thawed value has type %T, want *EasyStruct", out)
		}
		if s.A != 43 || s.B != "21.5" {
			t.Errorf("thawed %+v", s)
		}
	})
}

func TestUnknownTagFails(t *testing.T) {
	var data []byte
	withBlankExtensions(func() {
		RegisterExtension[celsius](77,
			func(e *Encoder, c celsius) error { return e.Encode(float64(c)) },
			func(d *Decoder) (celsius, error) { return 0, nil },
		)
		var err error
		data, err = Freeze(celsius(1))
		if err != nil {
			t.Fatalf("freeze: %v", err)
		}
	})

	// The registration is gone; the tag is unknown now.
	withBlankExtensions(func() {
		_, err := Thaw(data)
		if err == nil || !strings.Contains(err.Error(), "tag 77") {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	withBlankExtensions(func() {
		reg := func() {
			RegisterExtension[celsius](1000,
				func(e *Encoder, c celsius) error { return e.Encode(float64(c)) },
				func(d *Decoder) (celsius, error) { return 0, nil },
			)
		}
		reg()

		defer func() {
			if recover() == nil {
				t.Error("expected panic on duplicate registration")
			}
		}()
		reg()
	})
}

func TestUnfreezableValue(t *testing.T) {
	for _, in := range []any{
		make(chan int),
		map[string]any{"f": func() {}},
	} {
		_, err := Freeze(in)
		if err == nil {
			t.Errorf("%T: expected an error", in)
			continue
		}
		if !errors.Is(err, ErrUnfreezable) {
			t.Errorf("%T: unexpected error: %v", in, err)
		}
		var ufe *UnfreezableValueError
		if !errors.As(err, &ufe) {
			t.Errorf("%T: error is not an UnfreezableValueError: %v", in, err)
		}
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Freeze(map[string]int{"A": 1}, WithCompression(None))
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	diag, err := Diagnose(data)
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if !strings.Contains(diag, `"A"`) {
		t.Errorf("unexpected diagnostic: %s", diag)
	}
}

func assertEqual(t *testing.T, expected, actual any) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Error("unexpected value:")
		t.Logf("   got: %#v", actual)
		t.Logf("expect: %#v", expected)
	}
}
