package main

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/dave/jennifer/jen"
)

const fnPackage = "github.com/redplanetlabs/frost/fn"

// emit renders the registration file for one package: a mirror struct
// per capturing literal, then a single init with every Register call,
// sorted by symbol so repeated runs produce identical files.
func emit(t *target, regs *registrations, tags []string) ([]byte, error) {
	f := jen.NewFilePathName(t.path, t.name)
	f.HeaderComment("Code generated by frostgen. DO NOT EDIT.")
	if len(tags) > 0 {
		f.HeaderComment("//go:build " + strings.Join(tags, " && "))
	}

	sort.Slice(regs.funcs, func(i, j int) bool { return regs.funcs[i].symbol < regs.funcs[j].symbol })
	sort.Slice(regs.closures, func(i, j int) bool { return regs.closures[i].symbol < regs.closures[j].symbol })
	sort.Slice(regs.methods, func(i, j int) bool { return regs.methods[i].symbol < regs.methods[j].symbol })

	mirrors := mirrorNames(t, regs.closures)
	for _, c := range regs.closures {
		fields := []jen.Code{jen.Id("_").Uintptr()}
		used := map[string]bool{"_": true}
		for i, capture := range c.captures {
			name := capture.name
			if name == "" || name == "_" || used[name] {
				name = fmt.Sprintf("x%d", i)
			}
			used[name] = true
			typ := typeExpr(capture.typ, t.types)
			if capture.byRef {
				typ = jen.Op("*").Add(typ)
			}
			fields = append(fields, jen.Id(name).Add(typ))
		}
		f.Commentf("%s mirrors the closure cell of %s.", mirrors[c.symbol], c.symbol)
		f.Type().Id(mirrors[c.symbol]).Struct(fields...)
	}

	var calls []jen.Code
	for _, r := range regs.funcs {
		calls = append(calls, jen.Qual(fnPackage, "RegisterFunc").
			Index(typeExpr(r.sig, t.types)).
			Call(jen.Lit(r.symbol)))
	}
	for _, c := range regs.closures {
		// Two type arguments in one index expression need an explicit
		// list; separate operands would render as a slice expression.
		calls = append(calls, jen.Qual(fnPackage, "RegisterClosure").
			Index(jen.List(typeExpr(c.sig, t.types), jen.Id(mirrors[c.symbol]))).
			Call(jen.Lit(c.symbol)))
	}
	for _, m := range regs.methods {
		calls = append(calls, jen.Qual(fnPackage, "RegisterMethod").
			Index(typeExpr(m.recv, t.types)).
			Call(jen.Lit(m.symbol)))
	}
	f.Func().Id("init").Params().Block(calls...)

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("rendering registrations for %s: %w", t.path, err)
	}
	return buf.Bytes(), nil
}

// mirrorNames assigns each closure a struct name derived from its
// symbol: the part after the package prefix, sanitized to an
// identifier, with a Closure suffix.
func mirrorNames(t *target, closures []closureReg) map[string]string {
	names := make(map[string]string, len(closures))
	used := make(map[string]bool, len(closures))
	for _, c := range closures {
		base := strings.TrimPrefix(c.symbol, t.sym+".")
		base = sanitize(base) + "Closure"
		name := base
		for i := 2; used[name]; i++ {
			name = fmt.Sprintf("%s%d", base, i)
		}
		used[name] = true
		names[c.symbol] = name
	}
	return names
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	last := byte('_')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' && i > 0:
			b.WriteByte(c)
			last = c
		default:
			if last != '_' {
				b.WriteByte('_')
				last = '_'
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
