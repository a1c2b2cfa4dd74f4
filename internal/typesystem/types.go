package typesystem

import (
	"strings"

	"github.com/funvibe/typetag/internal/config"
)

// Tag is the interface for every type reference.
// The set of implementations is closed: NameReference, FullReference,
// IntersectionReference, Refinement and Lambda.
type Tag interface {
	String() string
	isTag()
}

// AppliedReference denotes a concrete, possibly generic, type.
type AppliedReference interface {
	Tag
	isApplied()
}

// AppliedNamedReference is an applied reference identified by one name.
// Only these may appear as members of an intersection.
type AppliedNamedReference interface {
	AppliedReference
	RefName() string
	AsName() NameReference
}

// Variance of a generic parameter slot.
type Variance int

const (
	Invariant Variance = iota
	Covariant
	Contravariant
)

func (v Variance) String() string {
	switch v {
	case Covariant:
		return "+"
	case Contravariant:
		return "-"
	default:
		return "="
	}
}

// symbol is the prefix used when rendering a parameter with this variance.
func (v Variance) symbol() string {
	switch v {
	case Covariant:
		return "+"
	case Contravariant:
		return "-"
	default:
		return ""
	}
}

// Flip swaps covariance and contravariance.
func (v Variance) Flip() Variance {
	switch v {
	case Covariant:
		return Contravariant
	case Contravariant:
		return Covariant
	default:
		return Invariant
	}
}

// Boundaries constrain an abstract type. The zero value is Empty: no lower
// bound and no upper bound.
type Boundaries struct {
	Bottom Tag
	Top    Tag
}

// EmptyBounds is the unconstrained boundary.
var EmptyBounds = Boundaries{}

// Defined builds a boundary with both ends set.
func Defined(bottom, top Tag) Boundaries {
	return Boundaries{Bottom: bottom, Top: top}
}

func (b Boundaries) IsEmpty() bool {
	return b.Bottom == nil && b.Top == nil
}

func (b Boundaries) String() string {
	if b.IsEmpty() {
		return ""
	}
	return "|<" + tagString(b.Bottom) + ".." + tagString(b.Top) + ">"
}

// NameReference is a non-parameterized type identified by a qualified name.
// Lambda parameters inside a lambda body are NameReferences carrying the
// parameter identifier as Name.
type NameReference struct {
	Name   string
	Bounds Boundaries
	Prefix AppliedReference // path-dependent qualifier, nil for top-level types
}

func (NameReference) isTag()     {}
func (NameReference) isApplied() {}

func (t NameReference) RefName() string { return t.Name }

func (t NameReference) AsName() NameReference { return t }

func (t NameReference) String() string {
	return prefixString(t.Prefix) + t.Name + t.Bounds.String()
}

// IsLambdaParam reports whether the name is reserved for a lambda parameter.
func (t NameReference) IsLambdaParam() bool {
	return strings.HasPrefix(t.Name, config.LambdaParamPrefix)
}

// TypeParam is one generic argument slot.
type TypeParam struct {
	Arg      Tag
	Variance Variance
}

func (p TypeParam) String() string {
	return p.Variance.symbol() + tagString(p.Arg)
}

// FullReference is a fully applied generic type.
type FullReference struct {
	Name   string
	Params []TypeParam
	Prefix AppliedReference
}

func (FullReference) isTag()     {}
func (FullReference) isApplied() {}

func (t FullReference) RefName() string { return t.Name }

// AsName drops the type arguments.
func (t FullReference) AsName() NameReference {
	return NameReference{Name: t.Name, Prefix: t.Prefix}
}

func (t FullReference) String() string {
	args := make([]string, len(t.Params))
	for i, p := range t.Params {
		args[i] = p.String()
	}
	return prefixString(t.Prefix) + t.Name + "[" + strings.Join(args, ", ") + "]"
}

// Args returns the bare argument tags.
func (t FullReference) Args() []Tag {
	args := make([]Tag, len(t.Params))
	for i, p := range t.Params {
		args[i] = p.Arg
	}
	return args
}

// LambdaParameter is the positional identifier of a lambda slot.
type LambdaParameter struct {
	Name string
}

func (p LambdaParameter) String() string { return p.Name }

// Ref returns the reference used for this parameter inside a lambda body.
func (p LambdaParameter) Ref() NameReference {
	return NameReference{Name: p.Name}
}

// Lambda is an unapplied, possibly higher-kinded, type constructor.
type Lambda struct {
	Params []LambdaParameter
	Body   Tag
}

func (Lambda) isTag() {}

func (t Lambda) String() string {
	names := make([]string, len(t.Params))
	for i, p := range t.Params {
		names[i] = p.Name
	}
	if len(names) == 0 {
		return "λ → " + tagString(t.Body)
	}
	return "λ " + strings.Join(names, ", ") + " → " + tagString(t.Body)
}

// ParamNames returns the parameter identifiers in order.
func (t Lambda) ParamNames() []string {
	names := make([]string, len(t.Params))
	for i, p := range t.Params {
		names[i] = p.Name
	}
	return names
}

// IntersectionReference is a compound type "A & B". Members form a set;
// constructors and Normalize keep them deduplicated and sorted.
type IntersectionReference struct {
	Members []AppliedNamedReference
}

func (IntersectionReference) isTag()     {}
func (IntersectionReference) isApplied() {}

func (t IntersectionReference) String() string {
	parts := make([]string, len(t.Members))
	for i, m := range t.Members {
		parts[i] = tagString(m)
	}
	return strings.Join(parts, " & ")
}

// RefinementDecl is one structural member of a Refinement.
type RefinementDecl interface {
	DeclName() string
	String() string
	isDecl()
}

// Signature is a structural method "def name(inputs): output".
type Signature struct {
	Name   string
	Inputs []Tag
	Output Tag
}

func (Signature) isDecl() {}

func (d Signature) DeclName() string { return d.Name }

func (d Signature) String() string {
	ins := make([]string, len(d.Inputs))
	for i, in := range d.Inputs {
		ins[i] = tagString(in)
	}
	return "def " + d.Name + "(" + strings.Join(ins, ", ") + "): " + tagString(d.Output)
}

// TypeMember is a structural type member "type name: bound".
type TypeMember struct {
	Name  string
	Bound Tag
}

func (TypeMember) isDecl() {}

func (d TypeMember) DeclName() string { return d.Name }

func (d TypeMember) String() string {
	return "type " + d.Name + ": " + tagString(d.Bound)
}

// Refinement is a structural type: a base augmented with declarations.
type Refinement struct {
	Base  AppliedReference
	Decls []RefinementDecl
}

func (Refinement) isTag()     {}
func (Refinement) isApplied() {}

func (t Refinement) String() string {
	base := tagString(t.Base)
	if _, ok := t.Base.(IntersectionReference); ok {
		base = "(" + base + ")"
	}
	if len(t.Decls) == 0 {
		return base + " {}"
	}
	decls := make([]string, len(t.Decls))
	for i, d := range t.Decls {
		decls[i] = d.String()
	}
	return base + " { " + strings.Join(decls, "; ") + " }"
}

// Bottom and Top are the default markers of the bottom and top types.
var (
	Bottom = NameReference{Name: config.NothingTypeName}
	Top    = NameReference{Name: config.AnyTypeName}
)

// Render returns the deterministic diagnostic text of a tag.
// It is not used for comparison.
func Render(t Tag) string {
	return tagString(t)
}

func tagString(t Tag) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

func prefixString(p AppliedReference) string {
	if p == nil {
		return ""
	}
	switch p.(type) {
	case NameReference, FullReference:
		return p.String() + "::"
	default:
		return "(" + p.String() + ")::"
	}
}

// HeadName returns the name of a named reference, the head name of a
// lambda body, or "" for structural shapes.
func HeadName(t Tag) string {
	switch typ := t.(type) {
	case NameReference:
		return typ.Name
	case FullReference:
		return typ.Name
	case Lambda:
		return HeadName(typ.Body)
	default:
		return ""
	}
}
