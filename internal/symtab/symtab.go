// Package symtab builds lookup tables for the functions of the running
// program from the symbol and line information embedded in its executable.
//
// The tables map canonical symbol names to entry addresses and back. They
// are the identity layer of the fn package: a function value freezes to
// the name of its entry address, and thaws by resolving that name back to
// an address in the (possibly different) process reading it.
package symtab

import (
	"debug/gosym"
	"errors"
	"io"
	"reflect"
	"runtime"
	"unsafe"
)

// Func represents a function in the program.
type Func struct {
	// The address where the function exists in the program memory.
	//
	// Addr must remain the first field of the struct: function values are
	// materialized by pointing a funcval at a *Func, which works because
	// the address occupies the first word.
	Addr uintptr

	// The name that uniquely represents the function.
	//
	// For regular functions, this value has the form <package>.<function>.
	//
	// For closures, this value has the form <package>.<function>.func<N>,
	// where N starts at 1 and increments for each function literal defined
	// in the enclosing function. Function literals bound at package level
	// appear as <package>.glob..func<N>, and method values as
	// <package>.<type>.<method>-fm.
	Name string

	// A type representing the signature of the function value.
	//
	// This field is nil until the program registers it; only functions with
	// a registered signature can be rebuilt when thawing.
	//
	// If non-nil, the type must be of kind reflect.Func.
	Type reflect.Type

	// A struct type representing the memory layout of the closure.
	//
	// This field is nil for regular functions, which capture nothing. For
	// closures it must be registered before freezing: the first field of
	// the struct type must be a uintptr holding the function address, and
	// the remaining fields mirror the captured variables in declared order.
	Closure reflect.Type

	// The receiver type of a method value (a name carrying the -fm
	// suffix). Registered by the program; nil otherwise.
	Recv reflect.Type
}

// Go function values are pointers to an object starting with the function
// address, whether they are referencing top-level functions or closures.
//
// FuncAddr uses this type to dereference the function value and access the
// address of the function in memory.
type closure struct{ addr uintptr }

// FuncAddr returns the entry address of the function value passed as
// argument.
//
// The address can only be resolved for functions in the compilation unit
// that this package is part of; a program cannot resolve addresses of
// functions in plugins it loaded, and vice versa.
//
// If the argument is a nil function value, the return address is zero.
//
// The function panics if called with a value which is not a function.
func FuncAddr(fn any) uintptr {
	if reflect.TypeOf(fn).Kind() != reflect.Func {
		panic("value must be a function")
	}
	v := (*[2]unsafe.Pointer)(unsafe.Pointer(&fn))
	c := (*closure)(v[1])
	if c == nil {
		return 0
	}
	return c.addr
}

// FuncData is like FuncAddr but also returns the funcval pointer, through
// which a closure's captured variables can be read at the offsets of its
// registered layout. The pointer is nil for nil function values.
func FuncData(fn any) (p unsafe.Pointer, addr uintptr) {
	if reflect.TypeOf(fn).Kind() != reflect.Func {
		panic("value must be a function")
	}
	v := (*[2]unsafe.Pointer)(unsafe.Pointer(&fn))
	p = v[1]
	if p != nil {
		addr = (*closure)(p).addr
	}
	return p, addr
}

// FuncByName returns the function associated with the given name.
//
// Addresses in the returned Func value hold the value of the symbol
// location in the program memory.
//
// If the name passed as argument does not represent any function, the
// function returns nil.
func FuncByName(name string) *Func { return functionsByName[name] }

// FuncByAddr returns the function associated with the given entry address.
//
// If the address passed as argument is not the address of a function in
// the program, the function returns nil.
func FuncByAddr(addr uintptr) *Func { return functionsByAddr[addr] }

var (
	functionsByName map[string]*Func
	functionsByAddr map[uintptr]*Func
)

func initFunctionTables(pclntab, symtab []byte) {
	table, err := gosym.NewTable(symtab, gosym.NewLineTable(pclntab, 0))
	if err != nil {
		panic("cannot read symtab: " + err.Error())
	}

	sentinelName, sentinelAddr := sentinel()

	tableFunc := table.LookupFunc(sentinelName)
	if tableFunc == nil {
		panic("cannot locate sentinel symbol: " + sentinelName)
	}
	// The executable may be loaded at an offset from the addresses recorded
	// in the line table (position-independent builds); the known address of
	// the sentinel gives the correction to apply.
	offset := uint64(sentinelAddr) - tableFunc.Entry

	functions := make([]Func, len(table.Funcs))
	for i, fn := range table.Funcs {
		functions[i] = Func{
			Addr: uintptr(fn.Entry + offset),
			Name: fn.Name,
		}
	}

	functionsByName = make(map[string]*Func, len(functions))
	functionsByAddr = make(map[uintptr]*Func, len(functions))

	for i := range functions {
		f := &functions[i]
		functionsByName[f.Name] = f
		functionsByAddr[f.Addr] = f
	}
}

func readSection(r io.ReaderAt, size uint64) ([]byte, error) {
	if r == nil {
		return nil, errors.New("section missing")
	}
	b := make([]byte, size)
	n, err := r.ReadAt(b, 0)
	if err != nil && n < len(b) {
		return nil, err
	}
	return b, nil
}

//go:noinline
func sentinel() (name string, addr uintptr) {
	pc := [1]uintptr{}
	runtime.Callers(0, pc[:])

	fn := runtime.FuncForPC(pc[0])
	return fn.Name(), fn.Entry()
}
