package proxygen

import (
	"bytes"
	"fmt"
	"go/types"
	"strings"

	"github.com/dave/jennifer/jen"
)

const (
	catalogPath = "github.com/astaric/orangeremote/catalog"
	proxyPath   = "github.com/astaric/orangeremote/proxy"

	header = "Code generated by orange gen. DO NOT EDIT."
)

// Result contains the generated code and the names left out of it.
type Result struct {
	Code    string
	Skipped []Skipped
}

type generator struct {
	model   *PackageModel
	skipped []Skipped
}

func (g *generator) skip(name, format string, args ...any) {
	g.skipped = append(g.skipped, Skipped{Name: name, Reason: fmt.Sprintf(format, args...)})
}

func render(f *jen.File) (string, error) {
	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// GenerateBindings emits a package named pkgName whose Register function
// adds the model's types to a catalog, under the import path as module name.
func GenerateBindings(model *PackageModel, pkgName string) (*Result, error) {
	g := &generator{model: model}
	f := jen.NewFile(pkgName)
	f.HeaderComment(header)

	var classes []jen.Code
	for _, tm := range model.Types {
		fn := lowerFirst(tm.Name) + "Class"
		f.Func().Id(fn).Params().Op("*").Qual(catalogPath, "Class").BlockFunc(func(b *jen.Group) {
			g.class(b, tm)
		})
		f.Line()
		classes = append(classes, jen.Id(fn).Call())
	}

	f.Commentf("Register adds the classes of %s to c.", model.ImportPath)
	f.Func().Id("Register").Params(jen.Id("c").Op("*").Qual(catalogPath, "Catalog")).Error().Block(
		jen.For(
			jen.List(jen.Id("_"), jen.Id("cls")).Op(":=").Range().Index().Op("*").Qual(catalogPath, "Class").Values(classes...),
		).Block(
			jen.If(jen.Err().Op(":=").Id("c").Dot("Register").Call(jen.Id("cls")), jen.Err().Op("!=").Nil()).Block(
				jen.Return(jen.Err()),
			),
		),
		jen.Return(jen.Nil()),
	)

	code, err := render(f)
	if err != nil {
		return nil, fmt.Errorf("rendering bindings for %s: %w", model.ImportPath, err)
	}
	return &Result{Code: code, Skipped: g.skipped}, nil
}

func (g *generator) class(b *jen.Group, tm TypeModel) {
	self := jen.Op("*").Qual(g.model.ImportPath, tm.Name)
	qualified := g.model.Name + "." + tm.Name

	b.Id("b").Op(":=").Qual(catalogPath, "Define").Types(self.Clone()).Call(jen.Lit(g.model.ImportPath), jen.Lit(tm.Name))

	b.Id("b").Dot("Constructor").Call(jen.Func().Params(argsParams()...).Params(self.Clone(), jen.Error()).BlockFunc(func(body *jen.Group) {
		g.constructor(body, tm, qualified)
	}))

	seen := make(map[string]bool)
	for _, m := range tm.Methods {
		name := MethodName(m.Name)
		if seen[name] {
			g.skip(qualified+"."+m.Name, "name %q already bound", name)
			continue
		}
		if reason := g.unsupported(m); reason != "" {
			g.skip(qualified+"."+m.Name, "%s", reason)
			continue
		}
		seen[name] = true
		b.Id("b").Dot("Method").Call(
			jen.Lit(name),
			jen.Func().Params(append([]jen.Code{jen.Id("self").Add(self.Clone())}, argsParams()...)...).Params(jen.Any(), jen.Error()).BlockFunc(func(body *jen.Group) {
				g.convertArgs(body, m, jen.Nil())
				g.method(body, m)
			}),
		)
	}

	for _, fm := range tm.Fields {
		name := MethodName(fm.Name)
		if seen[name] {
			g.skip(qualified+"."+fm.Name, "name %q already bound", name)
			continue
		}
		seen[name] = true
		b.Id("b").Dot("Member").Call(
			jen.Lit(name),
			jen.Func().Params(jen.Id("self").Add(self.Clone())).Any().Block(
				jen.Return(jen.Id("self").Dot(fm.Name)),
			),
		)
	}

	b.Return(jen.Id("b").Dot("Class").Call())
}

func (g *generator) constructor(body *jen.Group, tm TypeModel, qualified string) {
	ctor := tm.Constructor
	if ctor != nil {
		if reason := g.unsupported(*ctor); reason != "" {
			g.skip(g.model.Name+"."+ctor.Name, "%s; using the zero value", reason)
			ctor = nil
		}
	}
	if ctor == nil {
		body.Return(jen.New(jen.Qual(g.model.ImportPath, tm.Name)), jen.Nil())
		return
	}

	g.convertArgs(body, *ctor, jen.Nil())
	call := jen.Qual(g.model.ImportPath, ctor.Name).Call(argIDs(*ctor)...)
	if ctor.ReturnsErr {
		body.Return(call)
	} else {
		body.Return(call, jen.Nil())
	}
}

// convertArgs declares a0..aN converted from the wire arguments.
func (g *generator) convertArgs(body *jen.Group, fm FunctionModel, zero jen.Code) {
	for i, p := range fm.Params {
		t, _ := jenType(p.GoType)
		body.List(jen.Id(argID(i)), jen.Err()).Op(":=").Qual(catalogPath, "Arg").Types(t).Call(
			jen.Id("args"), jen.Id("kwargs"), jen.Lit(i), jen.Lit(paramName(p.Name, i)),
		)
		body.If(jen.Err().Op("!=").Nil()).Block(jen.Return(zero, jen.Err()))
	}
}

func (g *generator) method(body *jen.Group, m FunctionModel) {
	call := jen.Id("self").Dot(m.Name).Call(argIDs(m)...)
	n := len(m.Results)
	values := n
	if m.ReturnsErr {
		values--
	}

	switch {
	case n == 0:
		body.Add(call)
		body.Return(jen.Nil(), jen.Nil())
	case values == 0:
		body.Return(jen.Nil(), call)
	case values == 1 && !m.ReturnsErr:
		body.Return(call, jen.Nil())
	default:
		var lhs, vals []jen.Code
		for i := 0; i < values; i++ {
			lhs = append(lhs, jen.Id(fmt.Sprintf("r%d", i)))
			vals = append(vals, jen.Id(fmt.Sprintf("r%d", i)))
		}
		errID := jen.Nil()
		if m.ReturnsErr {
			lhs = append(lhs, jen.Id("rerr"))
			errID = jen.Id("rerr")
		}
		body.List(lhs...).Op(":=").Add(call)
		if values == 1 {
			body.Return(vals[0], errID)
		} else {
			body.Return(jen.Index().Any().Values(vals...), errID)
		}
	}
}

// unsupported explains why fm cannot be bound, or returns "".
func (g *generator) unsupported(fm FunctionModel) string {
	if fm.Variadic {
		return "variadic"
	}
	for i, p := range fm.Params {
		if _, ok := jenType(p.GoType); !ok {
			return fmt.Sprintf("parameter %s has unsupported type %s", paramName(p.Name, i), p.GoType)
		}
	}
	return ""
}

// GenerateProxies emits a package named pkgName with one typed proxy per
// model type, calling the names GenerateBindings registers.
func GenerateProxies(model *PackageModel, pkgName string) (*Result, error) {
	g := &generator{model: model}
	f := jen.NewFile(pkgName)
	f.HeaderComment(header)

	for _, tm := range model.Types {
		g.proxy(f, tm)
	}

	code, err := render(f)
	if err != nil {
		return nil, fmt.Errorf("rendering proxies for %s: %w", model.ImportPath, err)
	}
	return &Result{Code: code, Skipped: g.skipped}, nil
}

func (g *generator) proxy(f *jen.File, tm TypeModel) {
	qualified := g.model.Name + "." + tm.Name
	ptr := jen.Op("*").Id(tm.Name)
	ctx := jen.Id("ctx").Qual("context", "Context")
	result := []jen.Code{jen.Op("*").Qual(proxyPath, "Proxy"), jen.Error()}

	f.Commentf("%s is a proxy for a remote %s.", tm.Name, qualified)
	f.Type().Id(tm.Name).Struct(jen.Op("*").Qual(proxyPath, "Proxy"))
	f.Line()

	var ctorParams []jen.Code
	var ctorArgs []jen.Code
	if tm.Constructor != nil && g.unsupported(*tm.Constructor) == "" {
		ctorParams, ctorArgs = proxyParams(*tm.Constructor)
	}
	f.Commentf("New%s creates a remote %s.", tm.Name, qualified)
	f.Func().Id("New"+tm.Name).Params(append([]jen.Code{ctx, jen.Id("c").Op("*").Qual(proxyPath, "Client")}, ctorParams...)...).Params(ptr.Clone(), jen.Error()).Block(
		jen.List(jen.Id("p"), jen.Err()).Op(":=").Id("c").Dot("Class").Call(jen.Lit(g.model.ImportPath), jen.Lit(tm.Name)).Dot("New").Call(append([]jen.Code{jen.Id("ctx")}, ctorArgs...)...),
		jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Nil(), jen.Err())),
		jen.Return(jen.Op("&").Id(tm.Name).Values(jen.Id("p")), jen.Nil()),
	)
	f.Line()

	// The embedded field is named Proxy.
	seen := map[string]bool{"proxy": true}
	for _, m := range tm.Methods {
		name := MethodName(m.Name)
		if seen[name] || g.unsupported(m) != "" {
			continue
		}
		seen[name] = true
		params, args := proxyParams(m)
		f.Commentf("%s calls %s remotely.", m.Name, name)
		f.Func().Params(jen.Id("x").Add(ptr.Clone())).Id(m.Name).Params(append([]jen.Code{ctx}, params...)...).Params(result...).Block(
			jen.Return(jen.Id("x").Dot("Call").Call(append([]jen.Code{jen.Id("ctx"), jen.Lit(name)}, args...)...)),
		)
		f.Line()
	}

	for _, fm := range tm.Fields {
		name := MethodName(fm.Name)
		if seen[name] || hasMethod(tm, fm.Name) {
			continue
		}
		seen[name] = true
		f.Commentf("%s reads the %s field remotely.", fm.Name, fm.Name)
		f.Func().Params(jen.Id("x").Add(ptr.Clone())).Id(fm.Name).Params(ctx).Params(result...).Block(
			jen.Return(jen.Id("x").Dot("Attr").Call(jen.Id("ctx"), jen.Lit(name))),
		)
		f.Line()
	}
}

// proxyParams returns typed parameters for basic types and any for the rest.
func proxyParams(fm FunctionModel) (params, args []jen.Code) {
	for i, p := range fm.Params {
		name := paramName(p.Name, i)
		if name == "x" {
			name = "x_"
		}
		t := jen.Any()
		if isPlain(p.GoType) {
			t, _ = jenType(p.GoType)
		}
		params = append(params, jen.Id(name).Add(t))
		args = append(args, jen.Id(name))
	}
	return params, args
}

func hasMethod(tm TypeModel, name string) bool {
	for _, m := range tm.Methods {
		if m.Name == name {
			return true
		}
	}
	return false
}

// jenType renders t, reporting false for types generated code cannot name or
// convert wire values to.
func jenType(t types.Type) (*jen.Statement, bool) {
	switch t := types.Unalias(t).(type) {
	case *types.Basic:
		if t.Info()&types.IsUntyped != 0 || t.Kind() == types.UnsafePointer {
			return nil, false
		}
		return jen.Id(t.Name()), true
	case *types.Pointer:
		elem, ok := jenType(t.Elem())
		if !ok {
			return nil, false
		}
		return jen.Op("*").Add(elem), true
	case *types.Slice:
		elem, ok := jenType(t.Elem())
		if !ok {
			return nil, false
		}
		return jen.Index().Add(elem), true
	case *types.Map:
		key, ok := jenType(t.Key())
		if !ok {
			return nil, false
		}
		elem, ok := jenType(t.Elem())
		if !ok {
			return nil, false
		}
		return jen.Map(key).Add(elem), true
	case *types.Named:
		obj := t.Obj()
		if t.TypeArgs().Len() > 0 || !obj.Exported() && obj.Pkg() != nil {
			return nil, false
		}
		if obj.Pkg() == nil {
			return jen.Id(obj.Name()), true
		}
		switch t.Underlying().(type) {
		case *types.Signature, *types.Chan:
			return nil, false
		}
		return jen.Qual(obj.Pkg().Path(), obj.Name()), true
	case *types.Interface:
		if t.Empty() {
			return jen.Any(), true
		}
	}
	return nil, false
}

// isPlain reports whether t is built from basic types only.
func isPlain(t types.Type) bool {
	switch t := types.Unalias(t).(type) {
	case *types.Basic:
		return t.Info()&types.IsUntyped == 0 && t.Kind() != types.UnsafePointer
	case *types.Slice:
		return isPlain(t.Elem())
	case *types.Map:
		return isPlain(t.Key()) && isPlain(t.Elem())
	}
	return false
}

func argID(i int) string {
	return fmt.Sprintf("a%d", i)
}

func argIDs(fm FunctionModel) []jen.Code {
	ids := make([]jen.Code, len(fm.Params))
	for i := range fm.Params {
		ids[i] = jen.Id(argID(i))
	}
	return ids
}

func argsParams() []jen.Code {
	return []jen.Code{
		jen.Id("args").Index().Any(),
		jen.Id("kwargs").Map(jen.String()).Any(),
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
