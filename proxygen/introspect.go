package proxygen

import (
	"fmt"
	"go/types"

	"golang.org/x/tools/go/packages"
)

// Introspect loads a Go package by import path and returns the model of its
// exported struct types. The include filter, if non-nil, restricts which
// type names are included.
func Introspect(importPath string, include map[string]bool) (*PackageModel, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedTypes,
	}

	pkgs, err := packages.Load(cfg, importPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", importPath, err)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages found for %s", importPath)
	}
	if len(pkgs[0].Errors) > 0 {
		return nil, fmt.Errorf("package errors: %v", pkgs[0].Errors)
	}

	pkg := pkgs[0]
	if pkg.Types == nil {
		return nil, fmt.Errorf("type information not available for %s", importPath)
	}
	return modelOf(pkg.Types, include), nil
}

func modelOf(pkg *types.Package, include map[string]bool) *PackageModel {
	model := &PackageModel{
		ImportPath: pkg.Path(),
		Name:       pkg.Name(),
	}

	scope := pkg.Scope()
	for _, name := range scope.Names() {
		if include != nil && !include[name] {
			continue
		}
		tn, ok := scope.Lookup(name).(*types.TypeName)
		if !ok || !tn.Exported() || tn.IsAlias() {
			continue
		}
		if tm := extractType(tn, scope); tm != nil {
			model.Types = append(model.Types, *tm)
		}
	}
	return model
}

func extractType(tn *types.TypeName, scope *types.Scope) *TypeModel {
	named, ok := tn.Type().(*types.Named)
	if !ok || named.TypeParams().Len() > 0 {
		return nil
	}
	st, ok := named.Underlying().(*types.Struct)
	if !ok {
		return nil
	}

	tm := &TypeModel{Name: tn.Name()}
	for i := 0; i < st.NumFields(); i++ {
		f := st.Field(i)
		if f.Exported() && !f.Embedded() {
			tm.Fields = append(tm.Fields, FieldModel{Name: f.Name(), GoType: f.Type()})
		}
	}

	// Collect pointer-receiver methods
	mset := types.NewMethodSet(types.NewPointer(named))
	for i := 0; i < mset.Len(); i++ {
		sel := mset.At(i)
		fn, ok := sel.Obj().(*types.Func)
		if !ok || !fn.Exported() {
			continue
		}
		// Only include methods directly defined on this type (not promoted)
		if len(sel.Index()) > 1 {
			continue
		}
		tm.Methods = append(tm.Methods, functionModel(fn.Name(), fn.Type().(*types.Signature)))
	}

	if fn, ok := scope.Lookup("New" + tn.Name()).(*types.Func); ok {
		fm := functionModel(fn.Name(), fn.Type().(*types.Signature))
		if constructs(fm, named) {
			tm.Constructor = &fm
		}
	}
	return tm
}

// constructs reports whether fm returns *named, optionally with an error.
func constructs(fm FunctionModel, named *types.Named) bool {
	n := len(fm.Results)
	if fm.ReturnsErr {
		n--
	}
	if n != 1 {
		return false
	}
	ptr, ok := fm.Results[0].GoType.(*types.Pointer)
	return ok && types.Identical(ptr.Elem(), named)
}

func functionModel(name string, sig *types.Signature) FunctionModel {
	fm := FunctionModel{Name: name, Variadic: sig.Variadic()}

	params := sig.Params()
	for i := 0; i < params.Len(); i++ {
		p := params.At(i)
		fm.Params = append(fm.Params, ParamModel{Name: p.Name(), GoType: p.Type()})
	}

	results := sig.Results()
	for i := 0; i < results.Len(); i++ {
		r := results.At(i)
		fm.Results = append(fm.Results, ParamModel{Name: r.Name(), GoType: r.Type()})
	}

	if results.Len() > 0 && isErrorType(results.At(results.Len()-1).Type()) {
		fm.ReturnsErr = true
	}
	return fm
}

func isErrorType(t types.Type) bool {
	return types.Identical(t, types.Universe.Lookup("error").Type())
}
