package subtype

import (
	"fmt"
	"sort"

	"github.com/funvibe/typetag/internal/typesystem"
	"github.com/google/uuid"
	"github.com/hashicorp/go-set/v3"
)

// Entry lists the immediate ancestors of one tag.
type Entry struct {
	Child   typesystem.Tag
	Parents []typesystem.Tag
}

// NameEntry lists the immediate ancestor names of one type name.
type NameEntry struct {
	Name    string
	Parents []string
}

// Registry is an immutable snapshot of the base-type tables: tag → immediate
// ancestor tags and name → immediate ancestor names, plus declared arities.
// It is safe for concurrent use.
type Registry struct {
	id            uuid.UUID
	baseTypes     map[string]Entry
	baseNames     map[string][]string
	arities       typesystem.Arities
	lambdasByHead map[string][]string
}

// Empty returns a registry with no entries.
func Empty() *Registry {
	r, _ := NewBuilder().Freeze()
	return r
}

// ID identifies this snapshot. Merging or rebuilding produces a new ID.
func (r *Registry) ID() uuid.UUID { return r.id }

// Len is the number of tag entries.
func (r *Registry) Len() int { return len(r.baseTypes) }

// BaseTypes returns the immediate ancestors registered for t.
// t must be in normal form.
func (r *Registry) BaseTypes(t typesystem.Tag) []typesystem.Tag {
	return r.baseTypes[typesystem.Key(t)].Parents
}

// BaseNames returns the immediate ancestor names of name.
func (r *Registry) BaseNames(name string) []string {
	return r.baseNames[name]
}

// Arity returns the declared arity of name.
func (r *Registry) Arity(name string) (int, bool) {
	n, ok := r.arities[name]
	return n, ok
}

// Arities returns a copy of the arity table.
func (r *Registry) Arities() typesystem.Arities {
	out := make(typesystem.Arities, len(r.arities))
	for k, v := range r.arities {
		out[k] = v
	}
	return out
}

// LambdaEntries returns the entries whose child is a type lambda with the
// given head name.
func (r *Registry) LambdaEntries(head string) []Entry {
	keys := r.lambdasByHead[head]
	out := make([]Entry, len(keys))
	for i, k := range keys {
		out[i] = r.baseTypes[k]
	}
	return out
}

// Entries returns all tag entries ordered by child key.
func (r *Registry) Entries() []Entry {
	keys := make([]string, 0, len(r.baseTypes))
	for k := range r.baseTypes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Entry, len(keys))
	for i, k := range keys {
		out[i] = r.baseTypes[k]
	}
	return out
}

// NameEntries returns all name entries ordered by name.
func (r *Registry) NameEntries() []NameEntry {
	names := make([]string, 0, len(r.baseNames))
	for n := range r.baseNames {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]NameEntry, len(names))
	for i, n := range names {
		out[i] = NameEntry{Name: n, Parents: r.baseNames[n]}
	}
	return out
}

// Merge returns a new snapshot holding the entries of both registries.
func (r *Registry) Merge(other *Registry) (*Registry, error) {
	if other == nil || other == r {
		return r, nil
	}
	b := NewBuilder()
	b.addRegistry(r)
	b.addRegistry(other)
	return b.Freeze()
}

// Builder collects registry entries. It is single-writer: populate it from
// one goroutine, then Freeze to publish an immutable Registry.
type Builder struct {
	id        uuid.UUID
	children  map[string]typesystem.Tag
	parents   map[string][]typesystem.Tag
	baseNames map[string]*set.Set[string]
	arities   typesystem.Arities
	errs      []error
}

func NewBuilder() *Builder {
	return &Builder{
		children:  make(map[string]typesystem.Tag),
		parents:   make(map[string][]typesystem.Tag),
		baseNames: make(map[string]*set.Set[string]),
		arities:   make(typesystem.Arities),
	}
}

// WithID fixes the snapshot ID, used when restoring a persisted registry.
func (b *Builder) WithID(id uuid.UUID) *Builder {
	b.id = id
	return b
}

// AddBaseTypes records parents as immediate ancestors of child.
//
// When child is a type lambda, a parent lambda names the child parameters it
// uses: λ K, V → Map[K, +V] with parent λ V → Iterable[+V] relates the value
// slot of Map to Iterable. Such a parent is stored over the full parameter
// list of the child, so that both normalize to the same identifiers.
func (b *Builder) AddBaseTypes(child typesystem.Tag, parents ...typesystem.Tag) *Builder {
	if child == nil {
		b.errs = append(b.errs, fmt.Errorf("registry: nil child tag"))
		return b
	}
	normal := typesystem.Normalize(child)
	key := typesystem.Key(normal)
	b.children[key] = normal
	for _, p := range parents {
		if p == nil {
			b.errs = append(b.errs, fmt.Errorf("registry: nil parent of %s", normal))
			continue
		}
		aligned, err := alignParent(child, p)
		if err != nil {
			b.errs = append(b.errs, err)
			continue
		}
		b.parents[key] = append(b.parents[key], typesystem.Normalize(aligned))
	}
	return b
}

// alignParent rewrites a parent lambda over the parameters of a child
// lambda, matching them by name.
func alignParent(child, parent typesystem.Tag) (typesystem.Tag, error) {
	cl, ok := child.(typesystem.Lambda)
	if !ok {
		return parent, nil
	}
	pl, ok := parent.(typesystem.Lambda)
	if !ok {
		return parent, nil
	}
	declared := set.From(cl.ParamNames())
	for _, p := range pl.Params {
		if !declared.Contains(p.Name) {
			return nil, fmt.Errorf("registry: parent %s of %s: parameter %s is not a parameter of the child", parent, child, p.Name)
		}
	}
	return typesystem.Lambda{Params: cl.Params, Body: pl.Body}, nil
}

// AddBaseNames records parents as immediate ancestor names of child.
func (b *Builder) AddBaseNames(child string, parents ...string) *Builder {
	s, ok := b.baseNames[child]
	if !ok {
		s = set.New[string](len(parents))
		b.baseNames[child] = s
	}
	for _, p := range parents {
		if p != child {
			s.Insert(p)
		}
	}
	return b
}

// SetArity declares the number of type parameters of name.
func (b *Builder) SetArity(name string, n int) *Builder {
	if prev, ok := b.arities[name]; ok && prev != n {
		b.errs = append(b.errs, fmt.Errorf("registry: conflicting arity for %s: %d and %d", name, prev, n))
		return b
	}
	b.arities[name] = n
	return b
}

func (b *Builder) addRegistry(r *Registry) {
	for name, n := range r.arities {
		b.SetArity(name, n)
	}
	for _, e := range r.baseTypes {
		b.AddBaseTypes(e.Child, e.Parents...)
	}
	for name, parents := range r.baseNames {
		b.AddBaseNames(name, parents...)
	}
}

// Freeze validates every recorded tag and returns an immutable snapshot.
// The builder may keep being used; later additions do not affect the
// returned registry.
func (b *Builder) Freeze() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	id := b.id
	if id == uuid.Nil {
		id = uuid.New()
	}
	r := &Registry{
		id:            id,
		baseTypes:     make(map[string]Entry, len(b.children)),
		baseNames:     make(map[string][]string, len(b.baseNames)),
		arities:       make(typesystem.Arities, len(b.arities)),
		lambdasByHead: make(map[string][]string),
	}
	for k, v := range b.arities {
		r.arities[k] = v
	}

	for key, child := range b.children {
		if err := typesystem.Validate(child, r.arities); err != nil {
			return nil, fmt.Errorf("registry entry %s: %w", child, err)
		}
		seen := set.New[string](len(b.parents[key]))
		parents := make([]typesystem.Tag, 0, len(b.parents[key]))
		for _, p := range b.parents[key] {
			if err := typesystem.Validate(p, r.arities); err != nil {
				return nil, fmt.Errorf("registry parent %s of %s: %w", p, child, err)
			}
			if seen.Insert(typesystem.Key(p)) {
				parents = append(parents, p)
			}
		}
		typesystem.SortTags(parents)
		r.baseTypes[key] = Entry{Child: child, Parents: parents}
		if l, ok := child.(typesystem.Lambda); ok {
			head := typesystem.HeadName(l)
			r.lambdasByHead[head] = append(r.lambdasByHead[head], key)
		}
	}
	for head := range r.lambdasByHead {
		sort.Strings(r.lambdasByHead[head])
	}

	for name, parents := range b.baseNames {
		list := parents.Slice()
		sort.Strings(list)
		r.baseNames[name] = list
	}
	return r, nil
}
