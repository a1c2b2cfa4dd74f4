package typesystem

// Equal reports structural identity: sequences compare in order and set
// members in their stored order. Use EqualTo for semantic equality.
func Equal(a, b Tag) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case NameReference:
		y, ok := b.(NameReference)
		return ok && x.Name == y.Name &&
			boundsEqual(x.Bounds, y.Bounds) &&
			prefixEqual(x.Prefix, y.Prefix)
	case FullReference:
		y, ok := b.(FullReference)
		if !ok || x.Name != y.Name || len(x.Params) != len(y.Params) {
			return false
		}
		for i := range x.Params {
			if x.Params[i].Variance != y.Params[i].Variance || !Equal(x.Params[i].Arg, y.Params[i].Arg) {
				return false
			}
		}
		return prefixEqual(x.Prefix, y.Prefix)
	case Lambda:
		y, ok := b.(Lambda)
		if !ok || len(x.Params) != len(y.Params) {
			return false
		}
		for i := range x.Params {
			if x.Params[i].Name != y.Params[i].Name {
				return false
			}
		}
		return Equal(x.Body, y.Body)
	case IntersectionReference:
		y, ok := b.(IntersectionReference)
		if !ok || len(x.Members) != len(y.Members) {
			return false
		}
		for i := range x.Members {
			if !Equal(x.Members[i], y.Members[i]) {
				return false
			}
		}
		return true
	case Refinement:
		y, ok := b.(Refinement)
		if !ok || len(x.Decls) != len(y.Decls) || !Equal(x.Base, y.Base) {
			return false
		}
		for i := range x.Decls {
			if !declEqual(x.Decls[i], y.Decls[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// EqualTo is the equality engine: two tags are equal iff their normal
// forms are structurally identical.
func EqualTo(a, b Tag) bool {
	return Equal(Normalize(a), Normalize(b))
}

func boundsEqual(a, b Boundaries) bool {
	return Equal(a.Bottom, b.Bottom) && Equal(a.Top, b.Top)
}

func prefixEqual(a, b AppliedReference) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Equal(a, b)
}

func declEqual(a, b RefinementDecl) bool {
	switch x := a.(type) {
	case Signature:
		y, ok := b.(Signature)
		if !ok || x.Name != y.Name || len(x.Inputs) != len(y.Inputs) {
			return false
		}
		for i := range x.Inputs {
			if !Equal(x.Inputs[i], y.Inputs[i]) {
				return false
			}
		}
		return Equal(x.Output, y.Output)
	case TypeMember:
		y, ok := b.(TypeMember)
		return ok && x.Name == y.Name && Equal(x.Bound, y.Bound)
	}
	return false
}
