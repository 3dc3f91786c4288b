package main

import (
	"fmt"
	"go/types"

	"github.com/dave/jennifer/jen"
)

// typeExpr renders a type as a jennifer expression for the generated
// file of package local. Imports are resolved by jennifer from the
// qualified names.
//
// Not every type a package uses can be written down in another file:
// unexported names from other packages have no spelling here. Callers
// check with checkExpressible before emitting and skip the registration
// instead of producing code that does not compile.
func typeExpr(t types.Type, local *types.Package) jen.Code {
	switch x := t.(type) {
	case *types.Basic:
		if x.Kind() == types.UnsafePointer {
			return jen.Qual("unsafe", "Pointer")
		}
		return jen.Id(x.Name())

	case *types.Named:
		obj := x.Obj()
		var code *jen.Statement
		if obj.Pkg() == nil {
			// Universe scope: error, any.
			code = jen.Id(obj.Name())
		} else {
			code = jen.Qual(obj.Pkg().Path(), obj.Name())
		}
		if args := x.TypeArgs(); args != nil && args.Len() > 0 {
			index := make([]jen.Code, args.Len())
			for i := 0; i < args.Len(); i++ {
				index[i] = typeExpr(args.At(i), local)
			}
			code = code.Index(index...)
		}
		return code

	case *types.Pointer:
		return jen.Op("*").Add(typeExpr(x.Elem(), local))

	case *types.Slice:
		return jen.Index().Add(typeExpr(x.Elem(), local))

	case *types.Array:
		return jen.Index(jen.Lit(int(x.Len()))).Add(typeExpr(x.Elem(), local))

	case *types.Map:
		return jen.Map(typeExpr(x.Key(), local)).Add(typeExpr(x.Elem(), local))

	case *types.Chan:
		elem := typeExpr(x.Elem(), local)
		switch x.Dir() {
		case types.SendOnly:
			return jen.Chan().Op("<-").Add(elem)
		case types.RecvOnly:
			return jen.Op("<-").Chan().Add(elem)
		default:
			return jen.Chan().Add(elem)
		}

	case *types.Signature:
		params := make([]jen.Code, x.Params().Len())
		for i := range params {
			p := typeExpr(x.Params().At(i).Type(), local)
			if x.Variadic() && i == x.Params().Len()-1 {
				elem := x.Params().At(i).Type().(*types.Slice).Elem()
				p = jen.Op("...").Add(typeExpr(elem, local))
			}
			params[i] = p
		}
		code := jen.Func().Params(params...)
		switch x.Results().Len() {
		case 0:
		case 1:
			code = code.Add(typeExpr(x.Results().At(0).Type(), local))
		default:
			results := make([]jen.Code, x.Results().Len())
			for i := range results {
				results[i] = typeExpr(x.Results().At(i).Type(), local)
			}
			code = code.Params(results...)
		}
		return code

	case *types.Interface:
		if x.Empty() {
			return jen.Any()
		}
	}
	// checkExpressible rejects everything that falls through.
	return jen.Id(t.String())
}

// checkExpressible reports whether typeExpr can spell t out in a
// generated file of package local.
func checkExpressible(t types.Type, local *types.Package) error {
	switch x := t.(type) {
	case *types.Basic:
		if x.Info()&types.IsUntyped != 0 {
			return fmt.Errorf("untyped constant type %s", x)
		}
		return nil

	case *types.Named:
		obj := x.Obj()
		if obj.Pkg() != nil && obj.Pkg() != local && !obj.Exported() {
			return fmt.Errorf("unexported type %s from another package", x)
		}
		if x.TypeParams() != nil && x.TypeArgs() == nil {
			return fmt.Errorf("uninstantiated generic type %s", x)
		}
		if args := x.TypeArgs(); args != nil {
			for i := 0; i < args.Len(); i++ {
				if err := checkExpressible(args.At(i), local); err != nil {
					return err
				}
			}
		}
		return nil

	case *types.Pointer:
		return checkExpressible(x.Elem(), local)
	case *types.Slice:
		return checkExpressible(x.Elem(), local)
	case *types.Array:
		return checkExpressible(x.Elem(), local)
	case *types.Chan:
		return checkExpressible(x.Elem(), local)

	case *types.Map:
		if err := checkExpressible(x.Key(), local); err != nil {
			return err
		}
		return checkExpressible(x.Elem(), local)

	case *types.Signature:
		for i := 0; i < x.Params().Len(); i++ {
			if err := checkExpressible(x.Params().At(i).Type(), local); err != nil {
				return err
			}
		}
		for i := 0; i < x.Results().Len(); i++ {
			if err := checkExpressible(x.Results().At(i).Type(), local); err != nil {
				return err
			}
		}
		return nil

	case *types.Interface:
		if x.Empty() {
			return nil
		}
		return fmt.Errorf("anonymous interface type %s", x)

	case *types.Struct:
		return fmt.Errorf("anonymous struct type %s", x)

	case *types.TypeParam:
		return fmt.Errorf("type parameter %s", x)

	default:
		return fmt.Errorf("unsupported type %s", t)
	}
}
