// Package typetag is the embeddable surface of the type-identity engine:
// a TypeTag is an immutable tag value plus the ancestor registry needed to
// compare it with other tags.
package typetag

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/funvibe/typetag/internal/codec"
	"github.com/funvibe/typetag/internal/subtype"
	"github.com/funvibe/typetag/internal/tagparser"
	"github.com/funvibe/typetag/internal/typesystem"
	"github.com/google/uuid"
)

// TypeTag carries a tag and the registry it was produced with.
// The zero value is not usable; construct with New, Parse or UnmarshalBinary.
type TypeTag struct {
	tag typesystem.Tag
	reg *subtype.Registry
}

var (
	optionsMu sync.RWMutex
	options   []subtype.Option

	// Engines and merged registries are keyed by registry snapshot ID.
	engines = memo{limit: memoLimit} // uuid.UUID -> *subtype.Engine
	merges  = memo{limit: memoLimit} // [2]uuid.UUID -> *subtype.Registry

	empty = subtype.Empty()
)

// memoLimit is the number of engines, and of merged registries, kept
// before the memo is dropped.
const memoLimit = 256

// memo is a concurrent map that is emptied once it reaches its limit.
type memo struct {
	m     sync.Map
	n     atomic.Int64
	limit int64
}

func (c *memo) load(key any) (any, bool) { return c.m.Load(key) }

// store keeps v unless another goroutine stored key first, and returns the
// value kept.
func (c *memo) store(key, v any) any {
	actual, loaded := c.m.LoadOrStore(key, v)
	if !loaded && c.n.Add(1) > c.limit {
		c.clear()
	}
	return actual
}

func (c *memo) clear() {
	c.m.Clear()
	c.n.Store(0)
}

// Configure sets the engine options used by SubtypeOf and drops every
// engine built so far, together with its result cache, and every merged
// registry.
func Configure(opts ...subtype.Option) {
	optionsMu.Lock()
	defer optionsMu.Unlock()
	options = append([]subtype.Option(nil), opts...)
	engines.clear()
	merges.clear()
}

// New wraps t. The tag is checked against the arities of reg; a nil reg
// means no known ancestors.
func New(t typesystem.Tag, reg *subtype.Registry) (*TypeTag, error) {
	if t == nil {
		return nil, fmt.Errorf("typetag: nil tag")
	}
	if reg == nil {
		reg = empty
	}
	if err := typesystem.Validate(t, reg.Arities()); err != nil {
		return nil, err
	}
	return &TypeTag{tag: t, reg: reg}, nil
}

// Parse reads a tag in render syntax, e.g. "Map[String, +List[+Int]]".
func Parse(input string, reg *subtype.Registry) (*TypeTag, error) {
	if reg == nil {
		reg = empty
	}
	t, err := tagparser.ParseWithArities(input, reg.Arities())
	if err != nil {
		return nil, err
	}
	return &TypeTag{tag: t, reg: reg}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(input string, reg *subtype.Registry) *TypeTag {
	tt, err := Parse(input, reg)
	if err != nil {
		panic(err)
	}
	return tt
}

func (t *TypeTag) Tag() typesystem.Tag         { return t.tag }
func (t *TypeTag) Registry() *subtype.Registry { return t.reg }

func (t *TypeTag) String() string { return t.tag.String() }

// Normalized returns the canonical form of the tag.
func (t *TypeTag) Normalized() *TypeTag {
	return &TypeTag{tag: typesystem.Normalize(t.tag), reg: t.reg}
}

// EqualTo reports whether both tags denote the same type. Registries play
// no part in equality.
func (t *TypeTag) EqualTo(other *TypeTag) bool {
	if t == nil || other == nil {
		return t == other
	}
	return typesystem.EqualTo(t.tag, other.tag)
}

// SubtypeOf reports whether t <: other, consulting the ancestors known to
// either operand.
func (t *TypeTag) SubtypeOf(other *TypeTag) bool {
	if t == nil || other == nil {
		return false
	}
	reg, err := merge(t.reg, other.reg)
	if err != nil {
		return false
	}
	return engineFor(reg).IsSubtype(t.tag, other.tag)
}

// Combine applies t, which must be a type constructor, to positional
// arguments. The result carries the union of all operand registries.
func (t *TypeTag) Combine(args ...*TypeTag) (*TypeTag, error) {
	return t.combine(typesystem.Combine, args, false)
}

// CombineNonPos is like Combine but a nil argument leaves that parameter
// open in the resulting lambda.
func (t *TypeTag) CombineNonPos(args ...*TypeTag) (*TypeTag, error) {
	return t.combine(typesystem.CombineNonPos, args, true)
}

func (t *TypeTag) combine(fn func(typesystem.Tag, ...typesystem.Tag) (typesystem.Tag, error), args []*TypeTag, holes bool) (*TypeTag, error) {
	reg := t.reg
	tags := make([]typesystem.Tag, len(args))
	for i, a := range args {
		if a == nil {
			if !holes {
				return nil, fmt.Errorf("typetag: argument %d of %s is nil", i, t)
			}
			continue
		}
		tags[i] = a.tag
		var err error
		if reg, err = merge(reg, a.reg); err != nil {
			return nil, fmt.Errorf("typetag: combining %s: %w", t, err)
		}
	}
	out, err := fn(t.tag, tags...)
	if err != nil {
		return nil, err
	}
	return New(out, reg)
}

// MarshalBinary encodes the tag together with its registry.
func (t *TypeTag) MarshalBinary() ([]byte, error) {
	return codec.MarshalBundle(t.tag, t.reg)
}

// UnmarshalBinary decodes data produced by MarshalBinary.
func (t *TypeTag) UnmarshalBinary(data []byte) error {
	tag, reg, err := codec.UnmarshalBundle(data)
	if err != nil {
		return err
	}
	t.tag, t.reg = tag, reg
	return nil
}

func engineFor(reg *subtype.Registry) *subtype.Engine {
	if e, ok := engines.load(reg.ID()); ok {
		return e.(*subtype.Engine)
	}
	optionsMu.RLock()
	e := subtype.NewEngine(reg, options...)
	optionsMu.RUnlock()
	return engines.store(reg.ID(), e).(*subtype.Engine)
}

func isEmpty(r *subtype.Registry) bool {
	return r.Len() == 0 && len(r.NameEntries()) == 0 && len(r.Arities()) == 0
}

// merge memoizes registry unions so that repeated comparisons between the
// same snapshots share one engine and its cache.
func merge(a, b *subtype.Registry) (*subtype.Registry, error) {
	switch {
	case a.ID() == b.ID() || isEmpty(b):
		return a, nil
	case isEmpty(a):
		return b, nil
	}
	key := [2]uuid.UUID{a.ID(), b.ID()}
	if r, ok := merges.load(key); ok {
		return r.(*subtype.Registry), nil
	}
	r, err := a.Merge(b)
	if err != nil {
		return nil, err
	}
	return merges.store(key, r).(*subtype.Registry), nil
}
