package fn

import (
	"errors"
	"fmt"
)

// ErrUnresolvable matches errors raised when thawing meets a binding
// name the running program cannot resolve: the symbol does not exist
// here, or exists but was never registered with a signature.
var ErrUnresolvable = errors.New("unresolvable binding")

// ErrShapeMismatch matches errors raised when the shape recorded at
// freeze time disagrees with the shape known at thaw time, which
// happens when the defining code changed in between.
var ErrShapeMismatch = errors.New("shape mismatch")

// ErrIntrospection matches errors raised while building a codec from a
// malformed or missing closure layout.
var ErrIntrospection = errors.New("introspection failed")

// UnresolvableBindingError reports a binding name that cannot be
// resolved to a live function in this program.
type UnresolvableBindingError struct {
	Name string
}

func (e *UnresolvableBindingError) Error() string {
	return fmt.Sprintf("fn: cannot resolve binding %q in this program", e.Name)
}

func (e *UnresolvableBindingError) Is(target error) bool { return target == ErrUnresolvable }

// ShapeMismatchError reports a fatal disagreement between the frozen
// form of a callable and the shape of its code in this program.
type ShapeMismatchError struct {
	Name   string
	Reason string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("fn: shape of %q changed between freeze and thaw: %s", e.Name, e.Reason)
}

func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

// IntrospectionError reports a callable whose runtime shape could not
// be examined: no symbol table entry, no registered layout, or a layout
// that cannot hold captures. Codec builds failing this way are retried
// on the next use rather than cached.
type IntrospectionError struct {
	Name   string
	Reason string
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("fn: cannot introspect %q: %s", e.Name, e.Reason)
}

func (e *IntrospectionError) Is(target error) bool { return target == ErrIntrospection }
