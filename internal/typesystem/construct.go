package typesystem

import (
	"sort"
	"strings"

	"github.com/funvibe/typetag/internal/config"
	"github.com/hashicorp/go-set/v3"
)

// Arities maps a type name to its declared number of type parameters.
type Arities map[string]int

// Ref builds a plain top-level NameReference.
func Ref(name string) NameReference {
	return NameReference{Name: name}
}

// Full builds a FullReference without validation.
func Full(name string, params ...TypeParam) FullReference {
	return FullReference{Name: name, Params: params}
}

func Inv(arg Tag) TypeParam    { return TypeParam{Arg: arg, Variance: Invariant} }
func Co(arg Tag) TypeParam     { return TypeParam{Arg: arg, Variance: Covariant} }
func Contra(arg Tag) TypeParam { return TypeParam{Arg: arg, Variance: Contravariant} }

// NewNameReference validates a name reference. A bound that mentions the
// reference's own name is widened to EmptyBounds.
func NewNameReference(name string, bounds Boundaries, prefix AppliedReference) (NameReference, error) {
	if name == "" {
		return NameReference{}, errShape("empty type name")
	}
	if (bounds.Bottom == nil) != (bounds.Top == nil) {
		return NameReference{}, errShape("bounds of %s must set both ends", name)
	}
	if mentionsBound(bounds, name) {
		bounds = EmptyBounds
	}
	ref := NameReference{Name: name, Bounds: bounds, Prefix: prefix}
	if err := validate(ref, nil, nil, true); err != nil {
		return NameReference{}, err
	}
	return ref, nil
}

// NewFullReference validates an applied generic reference against the
// optional arity table.
func NewFullReference(name string, params []TypeParam, prefix AppliedReference, arities Arities) (FullReference, error) {
	ref := FullReference{Name: name, Params: params, Prefix: prefix}
	if err := validate(ref, arities, nil, true); err != nil {
		return FullReference{}, err
	}
	return ref, nil
}

// NewLambda validates parameter uniqueness and that the body references no
// unbound lambda parameter.
func NewLambda(params []LambdaParameter, body Tag) (Lambda, error) {
	l := Lambda{Params: params, Body: body}
	if err := Validate(l, nil); err != nil {
		return Lambda{}, err
	}
	return l, nil
}

// NewIntersection deduplicates and sorts members.
func NewIntersection(members ...AppliedNamedReference) (IntersectionReference, error) {
	if len(members) == 0 {
		return IntersectionReference{}, errShape("intersection without members")
	}
	seen := set.New[string](len(members))
	unique := make([]AppliedNamedReference, 0, len(members))
	for _, m := range members {
		if m == nil {
			return IntersectionReference{}, errShape("nil intersection member")
		}
		if seen.Insert(Key(m)) {
			unique = append(unique, m)
		}
	}
	SortTags(unique)
	return IntersectionReference{Members: unique}, nil
}

// NewRefinement deduplicates and sorts declarations.
func NewRefinement(base AppliedReference, decls ...RefinementDecl) (Refinement, error) {
	if base == nil {
		return Refinement{}, errShape("refinement without base")
	}
	r := Refinement{Base: base, Decls: sortDecls(decls)}
	if err := validate(r, nil, nil, true); err != nil {
		return Refinement{}, err
	}
	return r, nil
}

func sortDecls(decls []RefinementDecl) []RefinementDecl {
	seen := set.New[string](len(decls))
	unique := make([]RefinementDecl, 0, len(decls))
	for _, d := range decls {
		if d == nil {
			continue
		}
		if seen.Insert(DeclKey(d)) {
			unique = append(unique, d)
		}
	}
	sortDeclSlice(unique)
	return unique
}

func sortDeclSlice(decls []RefinementDecl) {
	sort.SliceStable(decls, func(i, j int) bool {
		return DeclKey(decls[i]) < DeclKey(decls[j])
	})
}

// Validate checks the structural invariants of a tag: non-empty names,
// unique lambda parameters, no dangling parameter references, no
// unwidened recursive bounds and, when arities is non-nil, declared arity.
func Validate(t Tag, arities Arities) error {
	return validate(t, arities, nil, false)
}

func validate(t Tag, arities Arities, scope map[string]bool, allowFree bool) error {
	switch typ := t.(type) {
	case nil:
		return errShape("nil tag")
	case NameReference:
		if typ.Name == "" {
			return errShape("empty type name")
		}
		if typ.IsLambdaParam() && !scope[typ.Name] && !allowFree {
			return NewMalformedTagError(KindDanglingParam, "%s is not bound by an enclosing lambda", typ.Name)
		}
		if (typ.Bounds.Bottom == nil) != (typ.Bounds.Top == nil) {
			return errShape("bounds of %s must set both ends", typ.Name)
		}
		if !typ.Bounds.IsEmpty() {
			if mentionsBound(typ.Bounds, typ.Name) {
				return NewMalformedTagError(KindRecursiveBound, "bounds of %s mention %s", typ.Name, typ.Name)
			}
			if err := validate(typ.Bounds.Bottom, arities, scope, allowFree); err != nil {
				return err
			}
			if err := validate(typ.Bounds.Top, arities, scope, allowFree); err != nil {
				return err
			}
		}
		return validatePrefix(typ.Prefix, arities, scope, allowFree)
	case FullReference:
		if typ.Name == "" {
			return errShape("empty type name")
		}
		if strings.HasPrefix(typ.Name, config.LambdaParamPrefix) && !scope[typ.Name] && !allowFree {
			return NewMalformedTagError(KindDanglingParam, "%s is not bound by an enclosing lambda", typ.Name)
		}
		if n, ok := arities[typ.Name]; ok && n != len(typ.Params) {
			return errArity("%s expects %d type arguments, got %d", typ.Name, n, len(typ.Params))
		}
		for i, p := range typ.Params {
			if p.Arg == nil {
				return errShape("%s: type argument %d is nil", typ.Name, i)
			}
			if p.Variance < Invariant || p.Variance > Contravariant {
				return errShape("%s: type argument %d has unknown variance %d", typ.Name, i, p.Variance)
			}
			if err := validate(p.Arg, arities, scope, allowFree); err != nil {
				return err
			}
		}
		return validatePrefix(typ.Prefix, arities, scope, allowFree)
	case Lambda:
		inner := make(map[string]bool, len(scope)+len(typ.Params))
		for k, v := range scope {
			inner[k] = v
		}
		own := set.New[string](len(typ.Params))
		for _, p := range typ.Params {
			if p.Name == "" {
				return errShape("empty lambda parameter name")
			}
			if !own.Insert(p.Name) {
				return NewMalformedTagError(KindDuplicateParam, "parameter %s declared twice in %s", p.Name, typ)
			}
			inner[p.Name] = true
		}
		return validate(typ.Body, arities, inner, allowFree)
	case IntersectionReference:
		if len(typ.Members) == 0 {
			return errShape("intersection without members")
		}
		for _, m := range typ.Members {
			if m == nil {
				return errShape("nil intersection member")
			}
			if err := validate(m, arities, scope, allowFree); err != nil {
				return err
			}
		}
		return nil
	case Refinement:
		if typ.Base == nil {
			return errShape("refinement without base")
		}
		if err := validate(typ.Base, arities, scope, allowFree); err != nil {
			return err
		}
		for _, d := range typ.Decls {
			if err := validateDecl(d, arities, scope, allowFree); err != nil {
				return err
			}
		}
		return nil
	default:
		return errShape("unknown tag variant %T", t)
	}
}

func validatePrefix(p AppliedReference, arities Arities, scope map[string]bool, allowFree bool) error {
	if p == nil {
		return nil
	}
	return validate(p, arities, scope, allowFree)
}

func validateDecl(d RefinementDecl, arities Arities, scope map[string]bool, allowFree bool) error {
	switch decl := d.(type) {
	case Signature:
		if decl.Name == "" {
			return errShape("signature without name")
		}
		for _, in := range decl.Inputs {
			if err := validate(in, arities, scope, allowFree); err != nil {
				return err
			}
		}
		if decl.Output == nil {
			return errShape("signature %s without output", decl.Name)
		}
		return validate(decl.Output, arities, scope, allowFree)
	case TypeMember:
		if decl.Name == "" {
			return errShape("type member without name")
		}
		if decl.Bound == nil {
			return errShape("type member %s without bound", decl.Name)
		}
		return validate(decl.Bound, arities, scope, allowFree)
	default:
		return errShape("unknown refinement declaration %T", d)
	}
}

// mentionsBound reports whether either end of b references name.
func mentionsBound(b Boundaries, name string) bool {
	return mentions(b.Bottom, name) || mentions(b.Top, name)
}

// mentions reports whether t references name anywhere outside a lambda that
// shadows it.
func mentions(t Tag, name string) bool {
	switch typ := t.(type) {
	case NameReference:
		if typ.Name == name {
			return true
		}
		return mentionsBound(typ.Bounds, name) || (typ.Prefix != nil && mentions(typ.Prefix, name))
	case FullReference:
		if typ.Name == name {
			return true
		}
		for _, p := range typ.Params {
			if mentions(p.Arg, name) {
				return true
			}
		}
		return typ.Prefix != nil && mentions(typ.Prefix, name)
	case Lambda:
		for _, p := range typ.Params {
			if p.Name == name {
				return false
			}
		}
		return mentions(typ.Body, name)
	case IntersectionReference:
		for _, m := range typ.Members {
			if mentions(m, name) {
				return true
			}
		}
	case Refinement:
		if mentions(typ.Base, name) {
			return true
		}
		for _, d := range typ.Decls {
			switch decl := d.(type) {
			case Signature:
				for _, in := range decl.Inputs {
					if mentions(in, name) {
						return true
					}
				}
				if mentions(decl.Output, name) {
					return true
				}
			case TypeMember:
				if mentions(decl.Bound, name) {
					return true
				}
			}
		}
	}
	return false
}
