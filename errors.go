package frost

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrUnfreezable matches errors reported for values the engine cannot
// represent on the wire, such as channels, raw pointers, or function
// values met inside a plain container where no extension hook fires.
var ErrUnfreezable = errors.New("unfreezable value")

// UnfreezableValueError reports a value that could not be frozen. Type
// is the plain value handed to the CBOR layer; when the offender is
// nested, that is its outermost enclosing plain container. Extension
// hooks propagate the error unchanged.
type UnfreezableValueError struct {
	Type reflect.Type
	Err  error
}

func (e *UnfreezableValueError) Error() string {
	if e.Type == nil {
		return fmt.Sprintf("frost: unfreezable value: %v", e.Err)
	}
	return fmt.Sprintf("frost: unfreezable value of type %s: %v", e.Type, e.Err)
}

func (e *UnfreezableValueError) Unwrap() error { return e.Err }

func (e *UnfreezableValueError) Is(target error) bool { return target == ErrUnfreezable }
