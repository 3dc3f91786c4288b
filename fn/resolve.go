package fn

import (
	"strings"

	"github.com/redplanetlabs/frost/internal/symtab"
)

// shape is the wire shape of a callable, decided from the symbol name
// of its entry address.
type shape int

const (
	// shapeNamed is a binding resolvable by name alone: a top-level
	// function, a method expression, an interface dispatch wrapper, or a
	// generic instantiation. Freezes as its canonical name.
	shapeNamed shape = iota

	// shapeClosure is a function literal with captured variables.
	// Freezes as a type identifier plus the captures in declared order.
	shapeClosure

	// shapeMethodValue is a method bound to a receiver. Freezes as the
	// wrapper symbol plus the recursively frozen receiver.
	shapeMethodValue
)

func (s shape) String() string {
	switch s {
	case shapeNamed:
		return "named binding"
	case shapeClosure:
		return "closure"
	case shapeMethodValue:
		return "method value"
	default:
		return "unknown"
	}
}

// classify decides the shape of a table entry.
//
// Symbols ending in "-fm" are method value wrappers. Symbols whose last
// segment is a numeric disambiguation suffix ("funcN", including the
// "glob..funcN" form of package-level literals) are function literals;
// a literal registered with a signature but no closure layout is an
// explicit promise that it captures nothing, and resolves as a named
// binding. Everything else, including generic instantiations and the
// dispatch wrappers the compiler synthesizes for method expressions, is
// a named binding.
func classify(f *symtab.Func) shape {
	if strings.HasSuffix(f.Name, "-fm") {
		return shapeMethodValue
	}
	if isClosureName(f.Name) {
		if f.Closure == nil && f.Type != nil {
			return shapeNamed
		}
		return shapeClosure
	}
	return shapeNamed
}

// isClosureName reports whether the last dot-separated segment of the
// symbol is a "funcN" literal suffix.
func isClosureName(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	return isFuncSegment(name[i+1:])
}

func isFuncSegment(s string) bool {
	const prefix = "func"
	if !strings.HasPrefix(s, prefix) || len(s) == len(prefix) {
		return false
	}
	for _, c := range s[len(prefix):] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// methodName extracts the method from a "-fm" wrapper symbol:
// "pkg.(*T).M-fm" yields "M".
func methodName(symbol string) string {
	s := strings.TrimSuffix(symbol, "-fm")
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}
