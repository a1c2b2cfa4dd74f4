package typesystem

import (
	"strconv"

	"github.com/funvibe/typetag/internal/config"
	"github.com/hashicorp/go-set/v3"
)

// Normalize produces the canonical form of a tag:
//   - redundant bounds (both ends missing, or exactly Nothing..Any) become Empty,
//     and bounds mentioning their own reference are widened to Empty;
//   - FullReferences without arguments become NameReferences;
//   - intersections are flattened, deduplicated and sorted, Any members are
//     dropped and singletons collapse to their member;
//   - refinements are merged, their declarations sorted, empty ones collapse;
//   - lambda parameters are renamed positionally: %0, %1, … at the outermost
//     lambda and %d.i for the i-th parameter of a lambda nested d deep that
//     refers to a parameter of an enclosing lambda. A nested lambda that
//     refers to none is closed and restarts at %0, so it has the same normal
//     form wherever it occurs. Lambdas without parameters collapse to their
//     body.
//
// Normalize is idempotent.
func Normalize(t Tag) Tag {
	n := normalizer{renames: map[string]string{}}
	return n.tag(t)
}

// CanonicalParamName is the normal-form identifier of the index-th
// parameter of a lambda nested depth lambdas deep.
func CanonicalParamName(depth, index int) string {
	if depth == 0 {
		return config.LambdaParamPrefix + strconv.Itoa(index)
	}
	return config.LambdaParamPrefix + strconv.Itoa(depth) + "." + strconv.Itoa(index)
}

type normalizer struct {
	renames map[string]string
	depth   int
}

func (n *normalizer) rename(name string) string {
	if r, ok := n.renames[name]; ok {
		return r
	}
	return name
}

func (n *normalizer) tag(t Tag) Tag {
	switch typ := t.(type) {
	case NameReference:
		return n.name(typ)
	case FullReference:
		return n.full(typ)
	case Lambda:
		return n.lambda(typ)
	case IntersectionReference:
		return n.intersection(typ)
	case Refinement:
		return n.refinement(typ)
	default:
		return t
	}
}

func (n *normalizer) applied(t AppliedReference) AppliedReference {
	if t == nil {
		return nil
	}
	if r, ok := n.tag(t).(AppliedReference); ok {
		return r
	}
	return t
}

func (n *normalizer) name(t NameReference) NameReference {
	out := NameReference{Name: n.rename(t.Name), Prefix: n.applied(t.Prefix)}
	if t.Bounds.IsEmpty() || t.Bounds.Bottom == nil || t.Bounds.Top == nil {
		return out
	}
	if mentionsBound(t.Bounds, t.Name) {
		return out
	}
	bottom := n.tag(t.Bounds.Bottom)
	top := n.tag(t.Bounds.Top)
	if Equal(bottom, Bottom) && Equal(top, Top) {
		return out
	}
	out.Bounds = Boundaries{Bottom: bottom, Top: top}
	return out
}

func (n *normalizer) full(t FullReference) AppliedNamedReference {
	if len(t.Params) == 0 {
		return NameReference{Name: n.rename(t.Name), Prefix: n.applied(t.Prefix)}
	}
	params := make([]TypeParam, len(t.Params))
	for i, p := range t.Params {
		params[i] = TypeParam{Arg: n.tag(p.Arg), Variance: p.Variance}
	}
	return FullReference{Name: n.rename(t.Name), Params: params, Prefix: n.applied(t.Prefix)}
}

func (n *normalizer) lambda(t Lambda) Tag {
	if len(t.Params) == 0 {
		return n.tag(t.Body)
	}
	if n.depth > 0 && !n.refersToEnclosing(t) {
		closed := normalizer{renames: map[string]string{}}
		return closed.lambda(t)
	}
	saved := n.renames
	renames := make(map[string]string, len(saved)+len(t.Params))
	for k, v := range saved {
		renames[k] = v
	}
	params := make([]LambdaParameter, len(t.Params))
	for i, p := range t.Params {
		canon := CanonicalParamName(n.depth, i)
		renames[p.Name] = canon
		params[i] = LambdaParameter{Name: canon}
	}
	n.renames = renames
	n.depth++
	body := n.tag(t.Body)
	n.depth--
	n.renames = saved
	return Lambda{Params: params, Body: body}
}

func (n *normalizer) refersToEnclosing(t Lambda) bool {
	for name := range FreeNames(t).Items() {
		if _, ok := n.renames[name]; ok {
			return true
		}
	}
	return false
}

func (n *normalizer) intersection(t IntersectionReference) AppliedReference {
	seen := set.New[string](len(t.Members))
	members := make([]AppliedNamedReference, 0, len(t.Members))
	add := func(m AppliedNamedReference) {
		if seen.Insert(Key(m)) {
			members = append(members, m)
		}
	}
	for _, m := range t.Members {
		if m == nil {
			continue
		}
		switch nm := n.tag(m).(type) {
		case AppliedNamedReference:
			add(nm)
		case IntersectionReference:
			for _, inner := range nm.Members {
				add(inner)
			}
		}
	}
	if len(members) > 1 {
		kept := members[:0]
		for _, m := range members {
			if !Equal(m, Top) {
				kept = append(kept, m)
			}
		}
		members = kept
	}
	switch len(members) {
	case 0:
		return Top
	case 1:
		return members[0]
	}
	SortTags(members)
	return IntersectionReference{Members: members}
}

func (n *normalizer) refinement(t Refinement) AppliedReference {
	base := n.applied(t.Base)
	decls := make([]RefinementDecl, 0, len(t.Decls))
	if inner, ok := base.(Refinement); ok {
		base = inner.Base
		decls = append(decls, inner.Decls...)
	}
	for _, d := range t.Decls {
		decls = append(decls, n.decl(d))
	}
	decls = sortDecls(decls)
	if len(decls) == 0 {
		return base
	}
	return Refinement{Base: base, Decls: decls}
}

func (n *normalizer) decl(d RefinementDecl) RefinementDecl {
	switch decl := d.(type) {
	case Signature:
		ins := make([]Tag, len(decl.Inputs))
		for i, in := range decl.Inputs {
			ins[i] = n.tag(in)
		}
		return Signature{Name: decl.Name, Inputs: ins, Output: n.tag(decl.Output)}
	case TypeMember:
		return TypeMember{Name: decl.Name, Bound: n.tag(decl.Bound)}
	default:
		return d
	}
}
