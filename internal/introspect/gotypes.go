package introspect

import (
	"fmt"
	"go/types"
	"sort"

	"github.com/funvibe/typetag/internal/subtype"
	"github.com/funvibe/typetag/internal/typesystem"
)

// Names of the built-in Go type constructors. Package-level types are
// always qualified by their import path, so these cannot collide.
const (
	goPointer = "pointer"
	goSlice   = "slice"
	goMap     = "map"
	goChan    = "chan"
	goFunc    = "func"
	goTuple   = "tuple"
	goStruct  = "struct"
)

// GoTypes produces tags for the named types declared in a set of
// type-checked Go packages.
//
// Generic types become lambdas over their type parameters, interfaces get
// their method set as a structural ancestor, and every named type is
// registered below each scanned interface it implements. Go has no
// variance, so every type argument is invariant.
type GoTypes struct {
	pkgs []*types.Package
}

func NewGoTypes(pkgs ...*types.Package) *GoTypes {
	return &GoTypes{pkgs: pkgs}
}

// Context maps Go type parameter names to the lambda parameters standing
// for them.
type Context map[string]typesystem.LambdaParameter

type namedType struct {
	name string
	obj  *types.TypeName
	typ  *types.Named
}

func (g *GoTypes) namedTypes() []namedType {
	var out []namedType
	for _, pkg := range g.pkgs {
		scope := pkg.Scope()
		for _, name := range scope.Names() {
			obj, ok := scope.Lookup(name).(*types.TypeName)
			if !ok || obj.IsAlias() {
				continue
			}
			named, ok := obj.Type().(*types.Named)
			if !ok {
				continue
			}
			out = append(out, namedType{name: qualifiedName(obj), obj: obj, typ: named})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Produce converts every named type and records its ancestors.
func (g *GoTypes) Produce() (*Universe, error) {
	named := g.namedTypes()
	b := subtype.NewBuilder()
	out := &Universe{Tags: make(map[string]typesystem.Tag, len(named))}

	var ifaces []namedType
	for _, nt := range named {
		if _, ok := nt.typ.Underlying().(*types.Interface); ok && nt.typ.TypeParams().Len() == 0 {
			ifaces = append(ifaces, nt)
		}
	}

	for _, nt := range named {
		tag, err := g.declTag(nt)
		if err != nil {
			return nil, fmt.Errorf("introspecting %s: %w", nt.name, err)
		}
		out.Tags[nt.name] = tag
		if n := nt.typ.TypeParams().Len(); n > 0 {
			b.SetArity(nt.name, n)
			continue
		}

		self := typesystem.Ref(nt.name)
		if iface, ok := nt.typ.Underlying().(*types.Interface); ok {
			structural, err := g.methodSet(iface, nil)
			if err != nil {
				return nil, fmt.Errorf("introspecting %s: %w", nt.name, err)
			}
			b.AddBaseTypes(self, structural)
		}
		for _, it := range ifaces {
			if it.name == nt.name {
				continue
			}
			iface := it.typ.Underlying().(*types.Interface)
			if types.Implements(nt.typ, iface) || types.Implements(types.NewPointer(nt.typ), iface) {
				b.AddBaseTypes(self, typesystem.Ref(it.name))
			}
		}
	}

	reg, err := b.Freeze()
	if err != nil {
		return nil, fmt.Errorf("introspecting: %w", err)
	}
	out.Registry = reg
	return out, nil
}

// declTag is the tag of a declared type: a lambda for generic types, a
// plain reference otherwise.
func (g *GoTypes) declTag(nt namedType) (typesystem.Tag, error) {
	tparams := nt.typ.TypeParams()
	if tparams.Len() == 0 {
		return typesystem.Ref(nt.name), nil
	}
	ctx := make(Context, tparams.Len())
	params := make([]typesystem.LambdaParameter, tparams.Len())
	args := make([]typesystem.TypeParam, tparams.Len())
	for i := 0; i < tparams.Len(); i++ {
		p := typesystem.LambdaParameter{Name: typesystem.CanonicalParamName(0, i)}
		ctx[tparams.At(i).Obj().Name()] = p
		params[i] = p
		args[i] = typesystem.Inv(p.Ref())
	}
	return typesystem.NewLambda(params, typesystem.Full(nt.name, args...))
}

// Tag converts a Go type. Type parameters found in ctx become references to
// the corresponding lambda parameter; any other type parameter becomes an
// abstract type bounded by its constraint.
func (g *GoTypes) Tag(t types.Type, ctx Context) (typesystem.Tag, error) {
	switch t := types.Unalias(t).(type) {
	case *types.Basic:
		return typesystem.Ref(t.Name()), nil

	case *types.Named:
		name := qualifiedName(t.Obj())
		targs := t.TypeArgs()
		if targs.Len() == 0 {
			return typesystem.Ref(name), nil
		}
		params := make([]typesystem.TypeParam, targs.Len())
		for i := 0; i < targs.Len(); i++ {
			arg, err := g.Tag(targs.At(i), ctx)
			if err != nil {
				return nil, err
			}
			params[i] = typesystem.Inv(arg)
		}
		return typesystem.Full(name, params...), nil

	case *types.TypeParam:
		name := t.Obj().Name()
		if p, ok := ctx[name]; ok {
			return p.Ref(), nil
		}
		return g.abstract(t, ctx)

	case *types.Pointer:
		return g.constructor(goPointer, ctx, t.Elem())
	case *types.Slice:
		return g.constructor(goSlice, ctx, t.Elem())
	case *types.Array:
		return g.constructor(fmt.Sprintf("array%d", t.Len()), ctx, t.Elem())
	case *types.Map:
		return g.constructor(goMap, ctx, t.Key(), t.Elem())
	case *types.Chan:
		return g.constructor(goChan, ctx, t.Elem())

	case *types.Signature:
		in, err := g.tuple(t.Params(), ctx)
		if err != nil {
			return nil, err
		}
		out, err := g.tuple(t.Results(), ctx)
		if err != nil {
			return nil, err
		}
		return typesystem.Full(goFunc, typesystem.Inv(in), typesystem.Inv(out)), nil

	case *types.Interface:
		if t.NumMethods() == 0 {
			return typesystem.Top, nil
		}
		return g.methodSet(t, ctx)

	case *types.Struct:
		decls := make([]typesystem.RefinementDecl, 0, t.NumFields())
		for i := 0; i < t.NumFields(); i++ {
			f := t.Field(i)
			ft, err := g.Tag(f.Type(), ctx)
			if err != nil {
				return nil, err
			}
			decls = append(decls, typesystem.TypeMember{Name: f.Name(), Bound: ft})
		}
		if len(decls) == 0 {
			return typesystem.Ref(goStruct), nil
		}
		return typesystem.Refinement{Base: typesystem.Ref(goStruct), Decls: decls}, nil

	default:
		return nil, fmt.Errorf("unsupported Go type %s", types.TypeString(t, nil))
	}
}

func (g *GoTypes) constructor(name string, ctx Context, elems ...types.Type) (typesystem.Tag, error) {
	params := make([]typesystem.TypeParam, len(elems))
	for i, e := range elems {
		arg, err := g.Tag(e, ctx)
		if err != nil {
			return nil, err
		}
		params[i] = typesystem.Inv(arg)
	}
	return typesystem.Full(name, params...), nil
}

func (g *GoTypes) tuple(tup *types.Tuple, ctx Context) (typesystem.Tag, error) {
	if tup == nil || tup.Len() == 0 {
		return typesystem.Ref(goTuple), nil
	}
	elems := make([]types.Type, tup.Len())
	for i := 0; i < tup.Len(); i++ {
		elems[i] = tup.At(i).Type()
	}
	return g.constructor(goTuple, ctx, elems...)
}

// methodSet renders an interface as "Any { def M(..): .. }".
func (g *GoTypes) methodSet(iface *types.Interface, ctx Context) (typesystem.Tag, error) {
	decls := make([]typesystem.RefinementDecl, 0, iface.NumMethods())
	for i := 0; i < iface.NumMethods(); i++ {
		m := iface.Method(i)
		sig := m.Type().(*types.Signature)
		inputs := make([]typesystem.Tag, sig.Params().Len())
		for j := range inputs {
			in, err := g.Tag(sig.Params().At(j).Type(), ctx)
			if err != nil {
				return nil, fmt.Errorf("method %s: %w", m.Name(), err)
			}
			inputs[j] = in
		}
		var output typesystem.Tag
		var err error
		if sig.Results().Len() == 1 {
			output, err = g.Tag(sig.Results().At(0).Type(), ctx)
		} else {
			output, err = g.tuple(sig.Results(), ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", m.Name(), err)
		}
		decls = append(decls, typesystem.Signature{Name: m.Name(), Inputs: inputs, Output: output})
	}
	return typesystem.NewRefinement(typesystem.Top, decls...)
}

// abstract is a free type parameter: upper-bounded by a named constraint
// or by the method set of an inline one. Union constraints are not
// represented and leave the parameter unbounded.
func (g *GoTypes) abstract(t *types.TypeParam, ctx Context) (typesystem.Tag, error) {
	name := t.Obj().Name()
	ref := typesystem.NameReference{Name: name}
	inner := make(Context, len(ctx)+1)
	for k, v := range ctx {
		inner[k] = v
	}
	inner[name] = typesystem.LambdaParameter{Name: name}
	ctx = inner

	var top typesystem.Tag
	var err error
	switch c := types.Unalias(t.Constraint()).(type) {
	case *types.Named:
		top, err = g.Tag(c, ctx)
	case *types.Interface:
		if c.NumMethods() == 0 {
			return ref, nil
		}
		top, err = g.methodSet(c, ctx)
	default:
		return ref, nil
	}
	if err != nil {
		return nil, err
	}
	// A self-referential constraint such as interface{ Less(T) bool } is
	// widened by NewNameReference.
	return typesystem.NewNameReference(name, typesystem.Defined(typesystem.Bottom, top), nil)
}

func qualifiedName(obj *types.TypeName) string {
	if obj.Pkg() == nil {
		return obj.Name()
	}
	return obj.Pkg().Path() + "." + obj.Name()
}
