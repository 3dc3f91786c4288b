package main

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"log/slog"
	"strings"
)

// target is one package prepared for scanning: its syntax trees together
// with the type information needed to resolve identifiers and compute
// capture layouts.
type target struct {
	fset  *token.FileSet
	name  string
	path  string // import path of the package
	sym   string // symbol prefix; "main" for main packages
	dir   string
	types *types.Package
	info  *types.Info
	sizes types.Sizes
	files []*ast.File
}

// funcReg becomes a fn.RegisterFunc call: a symbol resolvable by name
// alone, with the signature needed to thaw it.
type funcReg struct {
	symbol string
	sig    *types.Signature
}

// closureReg becomes a mirror struct declaration plus a
// fn.RegisterClosure call.
type closureReg struct {
	symbol   string
	sig      *types.Signature
	captures []capture
}

// capture is one closed-over variable of a function literal, in the
// order the literal first uses it.
type capture struct {
	name  string
	typ   types.Type
	byRef bool
}

// methodReg becomes a fn.RegisterMethod call for a method value taken
// somewhere in the package.
type methodReg struct {
	symbol string
	recv   types.Type
}

type registrations struct {
	funcs    []funcReg
	closures []closureReg
	methods  []methodReg
}

func (r *registrations) empty() bool {
	return len(r.funcs) == 0 && len(r.closures) == 0 && len(r.methods) == 0
}

type scanner struct {
	target  *target
	regs    registrations
	methods map[string]bool // method value symbols already recorded
	calls   map[*ast.SelectorExpr]bool

	assigned  map[*types.Var]bool
	addrTaken map[*types.Var]bool
}

// scan walks the package and collects every registration it needs:
// top-level functions and methods, function literals with their capture
// layouts, and method values used without being called. Files named
// skip are not scanned, so a previous run's output never feeds the
// next.
func scan(t *target, skip string) *registrations {
	s := &scanner{
		target:  t,
		methods: make(map[string]bool),
	}

	globIndex := 0
	for _, file := range t.files {
		if name := t.fset.Position(file.Pos()).Filename; strings.HasSuffix(name, "/"+skip) || name == skip {
			continue
		}
		s.collectCallPositions(file)

		for _, decl := range file.Decls {
			switch d := decl.(type) {
			case *ast.FuncDecl:
				s.funcDecl(d)
			case *ast.GenDecl:
				// Function literals bound at package level take the
				// pkg.glob..funcN names, numbered in source order across
				// the package.
				if d.Tok != token.VAR {
					continue
				}
				for _, spec := range d.Specs {
					vs, ok := spec.(*ast.ValueSpec)
					if !ok {
						continue
					}
					for _, value := range vs.Values {
						ast.Inspect(value, func(n ast.Node) bool {
							if lit, ok := n.(*ast.FuncLit); ok {
								globIndex++
								s.collectVarFlags(lit)
								s.literal(fmt.Sprintf("%s.glob..func%d", t.sym, globIndex), lit)
								return false
							}
							return true
						})
					}
				}
			}
		}
	}
	return &s.regs
}

// collectCallPositions records which selector expressions are the
// function part of a call, so x.M() is not mistaken for the method
// value x.M.
func (s *scanner) collectCallPositions(file *ast.File) {
	if s.calls == nil {
		s.calls = make(map[*ast.SelectorExpr]bool)
	}
	ast.Inspect(file, func(n ast.Node) bool {
		if call, ok := n.(*ast.CallExpr); ok {
			if sel, ok := call.Fun.(*ast.SelectorExpr); ok {
				s.calls[sel] = true
			}
		}
		return true
	})
}

func (s *scanner) funcDecl(d *ast.FuncDecl) {
	obj, ok := s.target.info.Defs[d.Name].(*types.Func)
	if !ok {
		return
	}
	sig := obj.Type().(*types.Signature)
	if sig.TypeParams() != nil || sig.RecvTypeParams() != nil {
		// Instantiations of generic functions carry go.shape names that
		// cannot be derived from the declaration alone.
		slog.Debug("skipping generic function", "func", d.Name.Name, "package", s.target.path)
		return
	}

	symbol := s.declSymbol(d, sig)
	regSig := sig
	if sig.Recv() != nil {
		// Methods register under their method expression form, whose
		// value takes the receiver as a leading argument.
		regSig = expandRecv(sig)
	}
	if err := checkExpressible(regSig, s.target.types); err != nil {
		slog.Warn("skipping function with unexpressible signature",
			"symbol", symbol, "reason", err)
	} else {
		s.regs.funcs = append(s.regs.funcs, funcReg{symbol: symbol, sig: regSig})
	}

	if d.Body == nil {
		return
	}
	s.collectVarFlags(d.Body)
	s.body(symbol, d.Body)
}

// declSymbol computes the link symbol of a declared function, receiver
// included: pkg.F, pkg.T.M, or pkg.(*T).M.
func (s *scanner) declSymbol(d *ast.FuncDecl, sig *types.Signature) string {
	var b strings.Builder
	b.WriteString(s.target.sym)
	if recv := sig.Recv(); recv != nil {
		rt := recv.Type()
		ptr := false
		if p, ok := rt.(*types.Pointer); ok {
			rt = p.Elem()
			ptr = true
		}
		b.WriteByte('.')
		if ptr {
			b.WriteString("(*")
		}
		b.WriteString(rt.(*types.Named).Obj().Name())
		if ptr {
			b.WriteByte(')')
		}
	}
	b.WriteByte('.')
	b.WriteString(d.Name.Name)
	return b.String()
}

// body finds the function literals and method values under one declared
// function. Literals are numbered in source order, each nesting level
// appending another ".funcN" segment to the parent's symbol.
func (s *scanner) body(symbol string, body ast.Node) {
	var lits []*ast.FuncLit
	ast.Inspect(body, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.FuncLit:
			lits = append(lits, x)
			return false
		case *ast.SelectorExpr:
			s.methodValue(x)
		}
		return true
	})
	for i, lit := range lits {
		s.literal(fmt.Sprintf("%s.func%d", symbol, i+1), lit)
	}
}

// literal records one function literal: capture-free literals register
// by name alone, capturing ones get a mirror struct. Nested literals
// recurse with their own symbols.
func (s *scanner) literal(symbol string, lit *ast.FuncLit) {
	sig, ok := s.target.info.TypeOf(lit).(*types.Signature)
	if !ok {
		return
	}
	defer s.body(symbol, lit.Body)

	captures := s.freeVars(lit)
	if err := s.expressible(sig, captures); err != nil {
		slog.Warn("skipping unexpressible function literal", "symbol", symbol, "reason", err)
		return
	}
	if len(captures) == 0 {
		s.regs.funcs = append(s.regs.funcs, funcReg{symbol: symbol, sig: sig})
		return
	}
	s.regs.closures = append(s.regs.closures, closureReg{
		symbol:   symbol,
		sig:      sig,
		captures: captures,
	})
}

func (s *scanner) expressible(sig *types.Signature, captures []capture) error {
	if err := checkExpressible(sig, s.target.types); err != nil {
		return err
	}
	for _, c := range captures {
		if err := checkExpressible(c.typ, s.target.types); err != nil {
			return fmt.Errorf("capture %s: %w", c.name, err)
		}
	}
	return nil
}

// freeVars returns the variables the literal uses but does not declare,
// in order of first use. This matches the field order of the closure
// cell the compiler builds for the literal.
func (s *scanner) freeVars(lit *ast.FuncLit) []capture {
	var captures []capture
	seen := make(map[*types.Var]bool)

	ast.Inspect(lit.Body, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.SelectorExpr:
			// Only the operand can hold a captured variable; the
			// selected name never does.
			ast.Inspect(x.X, func(n ast.Node) bool {
				if id, ok := n.(*ast.Ident); ok {
					s.observe(id, lit, seen, &captures)
				}
				return true
			})
			s.methodValue(x)
			return false
		case *ast.Ident:
			s.observe(x, lit, seen, &captures)
		}
		return true
	})
	return captures
}

func (s *scanner) observe(id *ast.Ident, lit *ast.FuncLit, seen map[*types.Var]bool, captures *[]capture) {
	v, ok := s.target.info.Uses[id].(*types.Var)
	if !ok || v.IsField() || seen[v] {
		return
	}
	if v.Parent() == nil || v.Parent() == s.target.types.Scope() || v.Pkg() != s.target.types {
		// Package-level and foreign variables are reached directly, not
		// captured.
		return
	}
	if v.Pos() >= lit.Pos() && v.Pos() <= lit.End() {
		// Declared inside the literal: a parameter or local.
		return
	}
	seen[v] = true
	*captures = append(*captures, capture{
		name:  v.Name(),
		typ:   v.Type(),
		byRef: s.capturedByRef(v),
	})
}

// capturedByRef follows the compiler's rule for how a free variable is
// stored in the closure cell: by pointer when the variable is
// reassigned after its definition, has its address taken, or is larger
// than 128 bytes; by value otherwise.
func (s *scanner) capturedByRef(v *types.Var) bool {
	if s.assigned[v] || s.addrTaken[v] {
		return true
	}
	return s.target.sizes.Sizeof(v.Type()) > 128
}

// collectVarFlags records, for everything under one declared function,
// which variables are reassigned or address-taken. The scan covers the
// whole declaration at once so a variable mutated by one literal is
// seen as by-reference in every literal that captures it.
func (s *scanner) collectVarFlags(body ast.Node) {
	s.assigned = make(map[*types.Var]bool)
	s.addrTaken = make(map[*types.Var]bool)

	mark := func(m map[*types.Var]bool, e ast.Expr) {
		if id, ok := e.(*ast.Ident); ok {
			if v, ok := s.target.info.Uses[id].(*types.Var); ok {
				m[v] = true
			}
		}
	}
	ast.Inspect(body, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.AssignStmt:
			if x.Tok == token.DEFINE {
				return true
			}
			for _, lhs := range x.Lhs {
				mark(s.assigned, lhs)
			}
		case *ast.IncDecStmt:
			mark(s.assigned, x.X)
		case *ast.UnaryExpr:
			if x.Op == token.AND {
				mark(s.addrTaken, x.X)
			}
		case *ast.RangeStmt:
			if x.Tok == token.ASSIGN {
				mark(s.assigned, x.Key)
				if x.Value != nil {
					mark(s.assigned, x.Value)
				}
			}
		}
		return true
	})
}

// methodValue records t.M taken without being called, the bound form
// the linker names with a -fm suffix.
func (s *scanner) methodValue(sel *ast.SelectorExpr) {
	if s.calls[sel] {
		return
	}
	selection, ok := s.target.info.Selections[sel]
	if !ok || selection.Kind() != types.MethodVal {
		return
	}
	m := selection.Obj().(*types.Func)
	sig := m.Type().(*types.Signature)
	recv := sig.Recv().Type()

	rt := recv
	ptr := false
	if p, ok := rt.(*types.Pointer); ok {
		rt = p.Elem()
		ptr = true
	}
	named, ok := rt.(*types.Named)
	if !ok || named.Obj().Pkg() == nil {
		return
	}
	if types.IsInterface(named.Underlying()) || named.TypeArgs() != nil || named.TypeParams() != nil {
		// Interface method values dispatch through wrappers whose
		// symbols depend on the dynamic type; generic receivers carry
		// go.shape names. Neither can be registered from the
		// declaration.
		slog.Debug("skipping method value with dynamic wrapper symbol",
			"method", m.Name(), "receiver", recv.String())
		return
	}

	pkg := named.Obj().Pkg().Path()
	if named.Obj().Pkg().Name() == "main" {
		pkg = "main"
	}
	var symbol string
	if ptr {
		symbol = fmt.Sprintf("%s.(*%s).%s-fm", pkg, named.Obj().Name(), m.Name())
	} else {
		symbol = fmt.Sprintf("%s.%s.%s-fm", pkg, named.Obj().Name(), m.Name())
	}
	if s.methods[symbol] {
		return
	}
	if err := checkExpressible(recv, s.target.types); err != nil {
		slog.Warn("skipping method value with unexpressible receiver",
			"symbol", symbol, "reason", err)
		return
	}
	s.methods[symbol] = true
	s.regs.methods = append(s.regs.methods, methodReg{symbol: symbol, recv: recv})
}

// expandRecv folds a method's receiver into its signature, yielding the
// type of the corresponding method expression value.
func expandRecv(sig *types.Signature) *types.Signature {
	params := make([]*types.Var, 0, sig.Params().Len()+1)
	params = append(params, types.NewParam(token.NoPos, nil, "", sig.Recv().Type()))
	for i := 0; i < sig.Params().Len(); i++ {
		params = append(params, sig.Params().At(i))
	}
	return types.NewSignatureType(nil, nil, nil, types.NewTuple(params...), sig.Results(), sig.Variadic())
}
