package typesystem

import (
	"strconv"

	"github.com/hashicorp/go-set/v3"
)

// Subst maps lambda parameter identifiers to the tags replacing them.
type Subst map[string]Tag

// without returns a copy of s minus the given names, used below a lambda
// that shadows them.
func (s Subst) without(names []string) Subst {
	filtered := make(Subst, len(s))
	for k, v := range s {
		filtered[k] = v
	}
	for _, name := range names {
		delete(filtered, name)
	}
	return filtered
}

// free collects the names referenced by the replacement tags of s.
func (s Subst) free() *set.Set[string] {
	names := set.New[string](len(s))
	for _, t := range s {
		collectFree(t, nil, names)
	}
	return names
}

// Substitute replaces every reference to a key of s in t. Replacement tags
// are inserted as they are; they are not substituted again.
//
// A parameter used as a type constructor (a FullReference whose name is a
// key of s) is re-applied to its arguments: a Lambda replacement is
// combined with them, a NameReference replacement becomes the new head and
// a FullReference replacement gets the arguments appended, so that
// substituting Either[String, _] into %0[Int] yields Either[String, Int].
//
// Substitution is capture-avoiding: a lambda parameter of t that a
// replacement tag mentions is renamed before the replacement goes below it.
func Substitute(t Tag, s Subst) (Tag, error) {
	if t == nil || len(s) == 0 {
		return t, nil
	}

	switch typ := t.(type) {
	case NameReference:
		if replacement, ok := s[typ.Name]; ok {
			return replacement, nil
		}
		bounds := typ.Bounds
		if !bounds.IsEmpty() {
			bottom, err := Substitute(bounds.Bottom, s)
			if err != nil {
				return nil, err
			}
			top, err := Substitute(bounds.Top, s)
			if err != nil {
				return nil, err
			}
			bounds = Boundaries{Bottom: bottom, Top: top}
		}
		prefix, err := substitutePrefix(typ.Prefix, s)
		if err != nil {
			return nil, err
		}
		return NameReference{Name: typ.Name, Bounds: bounds, Prefix: prefix}, nil

	case FullReference:
		params := make([]TypeParam, len(typ.Params))
		for i, p := range typ.Params {
			arg, err := Substitute(p.Arg, s)
			if err != nil {
				return nil, err
			}
			params[i] = TypeParam{Arg: arg, Variance: p.Variance}
		}
		prefix, err := substitutePrefix(typ.Prefix, s)
		if err != nil {
			return nil, err
		}
		if head, ok := s[typ.Name]; ok {
			return applyHead(head, params)
		}
		return FullReference{Name: typ.Name, Params: params, Prefix: prefix}, nil

	case Lambda:
		inner := s.without(typ.ParamNames())
		if len(inner) == 0 {
			return typ, nil
		}
		l, err := renameAway(typ, inner.free())
		if err != nil {
			return nil, err
		}
		body, err := Substitute(l.Body, inner)
		if err != nil {
			return nil, err
		}
		return Lambda{Params: l.Params, Body: body}, nil

	case IntersectionReference:
		members := make([]AppliedNamedReference, 0, len(typ.Members))
		for _, m := range typ.Members {
			replaced, err := Substitute(m, s)
			if err != nil {
				return nil, err
			}
			switch r := replaced.(type) {
			case AppliedNamedReference:
				members = append(members, r)
			case IntersectionReference:
				members = append(members, r.Members...)
			default:
				return nil, errShape("cannot place %s inside an intersection", replaced)
			}
		}
		return IntersectionReference{Members: members}, nil

	case Refinement:
		base, err := Substitute(typ.Base, s)
		if err != nil {
			return nil, err
		}
		applied, ok := base.(AppliedReference)
		if !ok {
			return nil, errShape("refinement base %s is not an applied type", base)
		}
		decls := make([]RefinementDecl, len(typ.Decls))
		for i, d := range typ.Decls {
			decl, err := substituteDecl(d, s)
			if err != nil {
				return nil, err
			}
			decls[i] = decl
		}
		return Refinement{Base: applied, Decls: decls}, nil

	default:
		return t, nil
	}
}

func substitutePrefix(p AppliedReference, s Subst) (AppliedReference, error) {
	if p == nil {
		return nil, nil
	}
	replaced, err := Substitute(p, s)
	if err != nil {
		return nil, err
	}
	applied, ok := replaced.(AppliedReference)
	if !ok {
		return nil, errShape("prefix %s is not an applied type", replaced)
	}
	return applied, nil
}

func substituteDecl(d RefinementDecl, s Subst) (RefinementDecl, error) {
	switch decl := d.(type) {
	case Signature:
		ins := make([]Tag, len(decl.Inputs))
		for i, in := range decl.Inputs {
			replaced, err := Substitute(in, s)
			if err != nil {
				return nil, err
			}
			ins[i] = replaced
		}
		out, err := Substitute(decl.Output, s)
		if err != nil {
			return nil, err
		}
		return Signature{Name: decl.Name, Inputs: ins, Output: out}, nil
	case TypeMember:
		bound, err := Substitute(decl.Bound, s)
		if err != nil {
			return nil, err
		}
		return TypeMember{Name: decl.Name, Bound: bound}, nil
	default:
		return d, nil
	}
}

// applyHead re-applies a substituted type constructor to its arguments.
func applyHead(head Tag, params []TypeParam) (Tag, error) {
	switch h := head.(type) {
	case Lambda:
		args := make([]Tag, len(params))
		for i, p := range params {
			args[i] = p.Arg
		}
		return Combine(h, args...)
	case NameReference:
		return FullReference{Name: h.Name, Params: params, Prefix: h.Prefix}, nil
	case FullReference:
		merged := make([]TypeParam, 0, len(h.Params)+len(params))
		merged = append(merged, h.Params...)
		merged = append(merged, params...)
		return FullReference{Name: h.Name, Params: merged, Prefix: h.Prefix}, nil
	default:
		return nil, errShape("cannot apply %s to type arguments", head)
	}
}

// FreeNames returns the names t references that no lambda inside t binds:
// type names as well as parameters of enclosing lambdas.
func FreeNames(t Tag) *set.Set[string] {
	names := set.New[string](8)
	collectFree(t, nil, names)
	return names
}

func collectFree(t Tag, bound map[string]bool, free *set.Set[string]) {
	switch typ := t.(type) {
	case NameReference:
		if !bound[typ.Name] {
			free.Insert(typ.Name)
		}
		collectFree(typ.Bounds.Bottom, bound, free)
		collectFree(typ.Bounds.Top, bound, free)
		collectFree(typ.Prefix, bound, free)
	case FullReference:
		if !bound[typ.Name] {
			free.Insert(typ.Name)
		}
		for _, p := range typ.Params {
			collectFree(p.Arg, bound, free)
		}
		collectFree(typ.Prefix, bound, free)
	case Lambda:
		inner := make(map[string]bool, len(bound)+len(typ.Params))
		for k := range bound {
			inner[k] = true
		}
		for _, p := range typ.Params {
			inner[p.Name] = true
		}
		collectFree(typ.Body, inner, free)
	case IntersectionReference:
		for _, m := range typ.Members {
			collectFree(m, bound, free)
		}
	case Refinement:
		collectFree(typ.Base, bound, free)
		for _, d := range typ.Decls {
			switch decl := d.(type) {
			case Signature:
				for _, in := range decl.Inputs {
					collectFree(in, bound, free)
				}
				collectFree(decl.Output, bound, free)
			case TypeMember:
				collectFree(decl.Bound, bound, free)
			}
		}
	}
}

// renameAway alpha-renames the parameters of l found in avoid to fresh
// identifiers of the form name_n.
func renameAway(l Lambda, avoid *set.Set[string]) (Lambda, error) {
	clash := false
	for _, p := range l.Params {
		if avoid.Contains(p.Name) {
			clash = true
			break
		}
	}
	if !clash {
		return l, nil
	}

	taken := FreeNames(l.Body)
	taken.InsertSet(avoid)
	for _, p := range l.Params {
		taken.Insert(p.Name)
	}
	renames := make(Subst)
	params := make([]LambdaParameter, len(l.Params))
	for i, p := range l.Params {
		params[i] = p
		if !avoid.Contains(p.Name) {
			continue
		}
		fresh := p.Name
		for n := 1; taken.Contains(fresh); n++ {
			fresh = p.Name + "_" + strconv.Itoa(n)
		}
		taken.Insert(fresh)
		renames[p.Name] = LambdaParameter{Name: fresh}.Ref()
		params[i] = LambdaParameter{Name: fresh}
	}
	body, err := Substitute(l.Body, renames)
	if err != nil {
		return Lambda{}, err
	}
	return Lambda{Params: params, Body: body}, nil
}
