package subtype

import (
	"log"
	"strings"
	"sync"

	"github.com/funvibe/typetag/internal/config"
	"github.com/funvibe/typetag/internal/typesystem"
	"github.com/hashicorp/go-set/v3"
)

// fuelPerVisit bounds the total number of steps of one query relative to
// its visited-stack limit.
const fuelPerVisit = 64

// Engine answers subtype queries against one registry snapshot.
// It is safe for concurrent use.
type Engine struct {
	reg        *Registry
	bottom     string
	top        string
	maxVisited int
	logger     *log.Logger
	cache      *sync.Map
}

type Option func(*Engine)

// WithLogger traces every step of every query to l.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMarkers overrides the names of the bottom and top markers.
func WithMarkers(bottom, top string) Option {
	return func(e *Engine) {
		if bottom != "" {
			e.bottom = bottom
		}
		if top != "" {
			e.top = top
		}
	}
}

// WithMaxVisited caps the visited stack of a single query.
func WithMaxVisited(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxVisited = n
		}
	}
}

// WithCache toggles the result cache.
func WithCache(enabled bool) Option {
	return func(e *Engine) {
		if enabled {
			e.cache = &sync.Map{}
		} else {
			e.cache = nil
		}
	}
}

// FromConfig translates a loaded configuration into engine options.
// Tracing is not enabled here; the caller owns the log destination.
func FromConfig(cfg *config.Config) []Option {
	if cfg == nil {
		return nil
	}
	return []Option{
		WithMarkers(cfg.Bottom, cfg.Top),
		WithMaxVisited(cfg.MaxVisited),
		WithCache(cfg.CacheEnabled()),
	}
}

func NewEngine(reg *Registry, opts ...Option) *Engine {
	if reg == nil {
		reg = Empty()
	}
	e := &Engine{
		reg:        reg,
		bottom:     config.NothingTypeName,
		top:        config.AnyTypeName,
		maxVisited: config.DefaultMaxVisited,
		cache:      &sync.Map{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Registry() *Registry { return e.reg }

// Equal reports semantic equality: structural equality after normalization.
func (e *Engine) Equal(a, b typesystem.Tag) bool {
	return typesystem.EqualTo(a, b)
}

type pair struct {
	self, other string
}

// IsSubtype reports whether self <: other. Inputs are normalized first.
// An unprovable or cyclic query answers false.
func (e *Engine) IsSubtype(self, other typesystem.Tag) bool {
	if self == nil || other == nil {
		return false
	}
	self = typesystem.Normalize(self)
	other = typesystem.Normalize(other)

	var key pair
	if e.cache != nil {
		key = pair{typesystem.Key(self), typesystem.Key(other)}
		if v, ok := e.cache.Load(key); ok {
			if e.logger != nil {
				e.logger.Printf("cached %s <: %s = %v", self, other, v)
			}
			return v.(bool)
		}
	}

	q := &query{
		e:       e,
		visited: set.New[pair](16),
		fuel:    e.maxVisited * fuelPerVisit,
	}
	result := q.isChild(self, other)
	if e.cache != nil && !q.exhausted {
		e.cache.Store(key, result)
	}
	return result
}

// query holds the state of one IsSubtype call.
type query struct {
	e         *Engine
	visited   *set.Set[pair]
	depth     int
	fuel      int
	exhausted bool
}

func (q *query) tracef(format string, args ...interface{}) {
	if q.e.logger == nil {
		return
	}
	q.e.logger.Printf(strings.Repeat("  ", q.depth)+format, args...)
}

func (q *query) isChild(self, other typesystem.Tag) bool {
	if q.fuel <= 0 {
		q.exhausted = true
		return false
	}
	q.fuel--
	q.depth++
	q.tracef("[%d] %s <: %s ?", q.depth, self, other)
	result := q.dispatch(self, other)
	q.tracef("[%d] %s <: %s = %v", q.depth, self, other, result)
	q.depth--
	return result
}

func (q *query) isBottom(t typesystem.Tag) bool {
	n, ok := t.(typesystem.NameReference)
	return ok && n.Prefix == nil && n.Name == q.e.bottom
}

func (q *query) isTop(t typesystem.Tag) bool {
	n, ok := t.(typesystem.NameReference)
	return ok && n.Prefix == nil && n.Name == q.e.top
}

func (q *query) dispatch(self, other typesystem.Tag) bool {
	if typesystem.Equal(self, other) {
		return true
	}
	if q.isBottom(self) || q.isTop(other) {
		return true
	}

	switch s := self.(type) {
	case typesystem.FullReference:
		switch o := other.(type) {
		case typesystem.FullReference:
			return q.fullFull(s, o)
		case typesystem.NameReference:
			return q.fullName(s, o)
		}
	case typesystem.NameReference:
		switch o := other.(type) {
		case typesystem.FullReference:
			return q.nameFull(s, o)
		case typesystem.NameReference:
			return q.nameName(s, o)
		}
	}

	sl, selfLambda := self.(typesystem.Lambda)
	ol, otherLambda := other.(typesystem.Lambda)
	switch {
	case selfLambda && otherLambda:
		return len(sl.Params) == len(ol.Params) && q.isChild(sl.Body, ol.Body)
	case otherLambda:
		return q.isChild(self, ol.Body)
	case selfLambda:
		return q.isChild(sl.Body, other)
	}

	if oi, ok := other.(typesystem.IntersectionReference); ok {
		for _, m := range oi.Members {
			if !q.isChild(self, m) {
				return false
			}
		}
		return true
	}
	if si, ok := self.(typesystem.IntersectionReference); ok {
		for _, m := range si.Members {
			if q.isChild(m, other) {
				return true
			}
		}
		return false
	}

	if or, ok := other.(typesystem.Refinement); ok {
		if q.isChild(self, or.Base) && q.declsImplied(self, or.Decls) {
			return true
		}
		return q.viaBounds(self, other) || q.viaAncestors(self, other)
	}
	if sr, ok := self.(typesystem.Refinement); ok {
		return q.isChild(sr.Base, other)
	}
	return false
}

// guarded runs a registry-driven step unless the pair is already on the
// visited stack or the stack is full.
func (q *query) guarded(self, other typesystem.Tag, step func() bool) bool {
	p := pair{typesystem.Key(self), typesystem.Key(other)}
	if q.visited.Contains(p) {
		q.tracef("cycle at %s <: %s", self, other)
		return false
	}
	if q.visited.Size() >= q.e.maxVisited {
		q.tracef("visited limit %d reached", q.e.maxVisited)
		q.exhausted = true
		return false
	}
	q.visited.Insert(p)
	defer q.visited.Remove(p)
	return step()
}

// viaBounds uses the upper bound of an abstract left side and the lower
// bound of an abstract right side.
func (q *query) viaBounds(self, other typesystem.Tag) bool {
	if s, ok := self.(typesystem.NameReference); ok && s.Bounds.Top != nil {
		if q.isChild(s.Bounds.Top, other) {
			return true
		}
	}
	if o, ok := other.(typesystem.NameReference); ok && o.Bounds.Bottom != nil && !q.isBottom(o.Bounds.Bottom) {
		if q.isChild(self, o.Bounds.Bottom) {
			return true
		}
	}
	return false
}

// viaAncestors tries the registry ancestors of a named left side against a
// structural right side.
func (q *query) viaAncestors(self, other typesystem.Tag) bool {
	var parents func() []typesystem.Tag
	switch s := self.(type) {
	case typesystem.NameReference:
		parents = func() []typesystem.Tag { return q.nameAncestors(s) }
	case typesystem.FullReference:
		parents = func() []typesystem.Tag {
			return append(q.fullAncestors(s), q.e.reg.BaseTypes(typesystem.Ref(s.Name))...)
		}
	default:
		return false
	}
	return q.guarded(self, other, func() bool {
		return q.anyAncestor(parents(), other)
	})
}

func (q *query) fullFull(self, other typesystem.FullReference) bool {
	if self.Name == other.Name && typesystem.Equal(self.Prefix, other.Prefix) &&
		q.paramsConform(self.Params, other.Params) {
		return true
	}
	return q.guarded(self, other, func() bool {
		return q.anyAncestor(q.fullAncestors(self), other)
	})
}

func (q *query) fullName(self typesystem.FullReference, other typesystem.NameReference) bool {
	if q.viaBounds(self, other) {
		return true
	}
	if other.Prefix == nil && q.namesReach(self.Name, other.Name) {
		return true
	}
	return q.guarded(self, other, func() bool {
		parents := append(q.fullAncestors(self), q.e.reg.BaseTypes(typesystem.Ref(self.Name))...)
		return q.anyAncestor(parents, other)
	})
}

func (q *query) nameFull(self typesystem.NameReference, other typesystem.FullReference) bool {
	if q.viaBounds(self, other) {
		return true
	}
	return q.guarded(self, other, func() bool {
		return q.anyAncestor(q.nameAncestors(self), other)
	})
}

func (q *query) nameName(self, other typesystem.NameReference) bool {
	if self.Name == other.Name && typesystem.Equal(self.Prefix, other.Prefix) {
		return true
	}
	if q.viaBounds(self, other) {
		return true
	}
	if other.Prefix == nil && q.namesReach(self.Name, other.Name) {
		return true
	}
	return q.guarded(self, other, func() bool {
		return q.anyAncestor(q.e.reg.BaseTypes(self), other)
	})
}

func (q *query) anyAncestor(parents []typesystem.Tag, other typesystem.Tag) bool {
	for _, p := range parents {
		if q.isChild(p, other) {
			return true
		}
	}
	return false
}

// paramsConform checks the parameter lists of two references to the same
// constructor slot by slot, following the variance of the left side.
func (q *query) paramsConform(self, other []typesystem.TypeParam) bool {
	if len(self) != len(other) {
		return false
	}
	for i, sp := range self {
		op := other[i]
		switch sp.Variance {
		case typesystem.Covariant:
			if !q.isChild(sp.Arg, op.Arg) {
				return false
			}
		case typesystem.Contravariant:
			if !q.isChild(op.Arg, sp.Arg) {
				return false
			}
		default:
			if !typesystem.Equal(sp.Arg, op.Arg) {
				return false
			}
		}
	}
	return true
}

// namesReach reports whether to is a transitive ancestor name of from.
func (q *query) namesReach(from, to string) bool {
	seen := set.New[string](8)
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !seen.Insert(n) {
			continue
		}
		for _, p := range q.e.reg.BaseNames(n) {
			if p == to {
				return true
			}
			stack = append(stack, p)
		}
	}
	return false
}

func (q *query) nameAncestors(self typesystem.NameReference) []typesystem.Tag {
	parents := append([]typesystem.Tag(nil), q.e.reg.BaseTypes(self)...)
	if !self.Bounds.IsEmpty() || self.Prefix != nil {
		parents = append(parents, q.e.reg.BaseTypes(typesystem.Ref(self.Name))...)
	}
	if self.Prefix == nil {
		for _, n := range q.e.reg.BaseNames(self.Name) {
			parents = append(parents, typesystem.Ref(n))
		}
	}
	return parents
}

// fullAncestors returns the registered ancestors of an applied generic:
// entries keyed by the exact tag, then every parameterized entry whose
// lambda body matches self, replayed with self's arguments.
func (q *query) fullAncestors(self typesystem.FullReference) []typesystem.Tag {
	parents := append([]typesystem.Tag(nil), q.e.reg.BaseTypes(self)...)
	for _, entry := range q.e.reg.LambdaEntries(self.Name) {
		l := entry.Child.(typesystem.Lambda)
		bindings, ok := matchBody(l, self)
		if !ok {
			continue
		}
		for _, p := range entry.Parents {
			replayed, err := replay(p, bindings)
			if err != nil {
				q.tracef("replay of %s failed: %v", p, err)
				continue
			}
			parents = append(parents, replayed)
		}
	}
	return parents
}

// matchBody binds the parameters of l so that its body equals self.
// Only bodies of the form Head[.., %i, ..] with the same head are matched;
// non-parameter arguments must be equal and variances must agree.
func matchBody(l typesystem.Lambda, self typesystem.FullReference) (map[string]typesystem.Tag, bool) {
	body, ok := l.Body.(typesystem.FullReference)
	if !ok || body.Name != self.Name || len(body.Params) != len(self.Params) ||
		!typesystem.Equal(body.Prefix, self.Prefix) {
		return nil, false
	}
	params := make(map[string]bool, len(l.Params))
	for _, p := range l.Params {
		params[p.Name] = true
	}
	bindings := make(map[string]typesystem.Tag, len(l.Params))
	for i, bp := range body.Params {
		sp := self.Params[i]
		if bp.Variance != sp.Variance {
			return nil, false
		}
		if ref, ok := bp.Arg.(typesystem.NameReference); ok && params[ref.Name] && ref.Bounds.IsEmpty() && ref.Prefix == nil {
			if prev, bound := bindings[ref.Name]; bound && !typesystem.Equal(prev, sp.Arg) {
				return nil, false
			}
			bindings[ref.Name] = sp.Arg
			continue
		}
		if !typesystem.Equal(bp.Arg, sp.Arg) {
			return nil, false
		}
	}
	return bindings, true
}

// replay instantiates a parent of a parameterized entry. The builder stores
// parent lambdas over the child's parameter list, so after normalization the
// bindings of the child apply to the parent by name.
func replay(parent typesystem.Tag, bindings map[string]typesystem.Tag) (typesystem.Tag, error) {
	l, ok := parent.(typesystem.Lambda)
	if !ok {
		return parent, nil
	}
	own := make(map[string]typesystem.Tag, len(l.Params))
	for _, p := range l.Params {
		if arg, ok := bindings[p.Name]; ok {
			own[p.Name] = arg
		}
	}
	t, err := typesystem.Apply(l, own)
	if err != nil {
		return nil, err
	}
	return typesystem.Normalize(t), nil
}

// declsImplied reports whether self carries, for every wanted declaration,
// a declaration that implies it.
func (q *query) declsImplied(self typesystem.Tag, want []typesystem.RefinementDecl) bool {
	if len(want) == 0 {
		return true
	}
	r, ok := self.(typesystem.Refinement)
	if !ok {
		return false
	}
	for _, w := range want {
		found := false
		for _, d := range r.Decls {
			if q.implies(d, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (q *query) implies(have, want typesystem.RefinementDecl) bool {
	if have.DeclName() != want.DeclName() {
		return false
	}
	switch h := have.(type) {
	case typesystem.Signature:
		w, ok := want.(typesystem.Signature)
		if !ok || len(h.Inputs) != len(w.Inputs) {
			return false
		}
		for i := range h.Inputs {
			if !q.isChild(w.Inputs[i], h.Inputs[i]) {
				return false
			}
		}
		return q.isChild(h.Output, w.Output)
	case typesystem.TypeMember:
		w, ok := want.(typesystem.TypeMember)
		return ok && q.isChild(h.Bound, w.Bound)
	}
	return false
}
