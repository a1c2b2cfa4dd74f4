package typesystem

import "sort"

// Apply substitutes bindings into the lambda body. Parameters missing from
// bindings stay abstract: the result is then a smaller Lambda over the
// remaining parameters, in their original order, renamed only where an
// argument mentions the same identifier. A binding for an unknown
// parameter is an arity error.
func Apply(l Lambda, bindings map[string]Tag) (Tag, error) {
	declared := make(map[string]bool, len(l.Params))
	for _, p := range l.Params {
		declared[p.Name] = true
	}
	unknown := make([]string, 0)
	for name, arg := range bindings {
		if !declared[name] {
			unknown = append(unknown, name)
			continue
		}
		if arg == nil {
			return nil, errShape("binding for %s is nil", name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errArity("%s has no parameter %v", l, unknown)
	}

	// Unbound parameters that an argument mentions would capture it.
	avoid := Subst(bindings).free()
	for name := range bindings {
		avoid.Remove(name)
	}
	l, err := renameAway(l, avoid)
	if err != nil {
		return nil, err
	}
	body, err := Substitute(l.Body, Subst(bindings))
	if err != nil {
		return nil, err
	}

	residual := make([]LambdaParameter, 0, len(l.Params))
	for _, p := range l.Params {
		if _, ok := bindings[p.Name]; !ok {
			residual = append(residual, p)
		}
	}
	if len(residual) == 0 {
		return body, nil
	}
	return Lambda{Params: residual, Body: body}, nil
}

// Combine applies a type constructor to positional arguments, filling the
// lambda parameters left to right. Fewer arguments than parameters yields
// a residual Lambda; more is an arity error. Combining an applied reference
// with no arguments returns it unchanged.
func Combine(t Tag, args ...Tag) (Tag, error) {
	l, ok := t.(Lambda)
	if !ok {
		if len(args) == 0 {
			return t, nil
		}
		return nil, errArity("%s is not a type constructor, cannot apply %d arguments", t, len(args))
	}
	if len(args) > len(l.Params) {
		return nil, errArity("%s takes %d type arguments, got %d", l, len(l.Params), len(args))
	}
	bindings := make(map[string]Tag, len(args))
	for i, arg := range args {
		if arg == nil {
			return nil, errShape("type argument %d of %s is nil", i, l)
		}
		bindings[l.Params[i].Name] = arg
	}
	return Apply(l, bindings)
}

// CombineNonPos fills only the positions whose argument is non-nil, leaving
// the rest as parameters of the residual lambda.
func CombineNonPos(t Tag, args ...Tag) (Tag, error) {
	l, ok := t.(Lambda)
	if !ok {
		return Combine(t, args...)
	}
	if len(args) > len(l.Params) {
		return nil, errArity("%s takes %d type arguments, got %d", l, len(l.Params), len(args))
	}
	bindings := make(map[string]Tag, len(args))
	for i, arg := range args {
		if arg != nil {
			bindings[l.Params[i].Name] = arg
		}
	}
	return Apply(l, bindings)
}
