package introspect

import (
	"sort"

	"github.com/funvibe/typetag/internal/subtype"
	"github.com/funvibe/typetag/internal/typesystem"
)

// Producer turns a host description of types into tags and the registry
// entries for every name those tags mention.
type Producer interface {
	Produce() (*Universe, error)
}

// Universe is the output of a Producer: named tags over one frozen registry.
type Universe struct {
	Tags     map[string]typesystem.Tag
	Registry *subtype.Registry
}

// Names returns the tag names in sorted order.
func (u *Universe) Names() []string {
	names := make([]string, 0, len(u.Tags))
	for n := range u.Tags {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (u *Universe) Lookup(name string) (typesystem.Tag, bool) {
	t, ok := u.Tags[name]
	return t, ok
}

// Engine returns a subtype engine over the universe registry.
func (u *Universe) Engine(opts ...subtype.Option) *subtype.Engine {
	return subtype.NewEngine(u.Registry, opts...)
}
