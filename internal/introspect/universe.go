package introspect

import (
	"fmt"
	"os"
	"sort"

	"github.com/funvibe/typetag/internal/config"
	"github.com/funvibe/typetag/internal/subtype"
	"github.com/funvibe/typetag/internal/tagparser"
	"github.com/funvibe/typetag/internal/typesystem"
	"gopkg.in/yaml.v3"
)

// UniverseFile is a hand-written type universe:
//
//	version: 1
//	arities:
//	  List: 1
//	types:
//	  - tag: "λ A → List[+A]"
//	    parents: ["λ A → Seq[+A]"]
//	  - tag: Cat
//	    parents: [Animal]
//	names:
//	  Int: [Object]
//	tags:
//	  ints: "List[+Int]"
//
// Tags use the render syntax understood by tagparser.
type UniverseFile struct {
	Version int                 `yaml:"version"`
	Arities map[string]int      `yaml:"arities,omitempty"`
	Types   []TypeSpec          `yaml:"types,omitempty"`
	Names   map[string][]string `yaml:"names,omitempty"`
	Tags    map[string]string   `yaml:"tags,omitempty"`

	path string
}

// TypeSpec declares the immediate ancestors of one tag.
type TypeSpec struct {
	Tag     string   `yaml:"tag"`
	Parents []string `yaml:"parents,omitempty"`
}

// LoadUniverse reads and validates a universe file.
func LoadUniverse(path string) (*UniverseFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading universe %s: %w", path, err)
	}
	return ParseUniverse(data, path)
}

// ParseUniverse parses universe YAML. path is used in error messages only.
func ParseUniverse(data []byte, path string) (*UniverseFile, error) {
	var u UniverseFile
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	u.path = path
	if u.Version == 0 {
		u.Version = config.EncodingVersion
	}
	if err := u.validate(); err != nil {
		return nil, err
	}
	return &u, nil
}

func (u *UniverseFile) validate() error {
	if u.Version != config.EncodingVersion {
		return fmt.Errorf("%s: unsupported universe version %d", u.path, u.Version)
	}
	for name, n := range u.Arities {
		if n < 0 {
			return fmt.Errorf("%s: arity of %s is negative", u.path, name)
		}
	}
	for i, ts := range u.Types {
		if ts.Tag == "" {
			return fmt.Errorf("%s: types[%d]: tag is required", u.path, i)
		}
	}
	for name := range u.Tags {
		if name == "" {
			return fmt.Errorf("%s: tags: empty name", u.path)
		}
	}
	return nil
}

func (u *UniverseFile) parse(input string) (typesystem.Tag, error) {
	t, err := tagparser.ParseWithArities(input, u.Arities)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", u.path, err)
	}
	return t, nil
}

// Produce parses every tag in the file and freezes the registry.
func (u *UniverseFile) Produce() (*Universe, error) {
	b := subtype.NewBuilder()
	for _, name := range sortedKeys(u.Arities) {
		b.SetArity(name, u.Arities[name])
	}
	for _, spec := range u.Types {
		child, err := u.parse(spec.Tag)
		if err != nil {
			return nil, err
		}
		parents := make([]typesystem.Tag, 0, len(spec.Parents))
		for _, p := range spec.Parents {
			parent, err := u.parse(p)
			if err != nil {
				return nil, err
			}
			parents = append(parents, parent)
		}
		b.AddBaseTypes(child, parents...)
	}
	for _, name := range sortedKeys(u.Names) {
		b.AddBaseNames(name, u.Names[name]...)
	}
	reg, err := b.Freeze()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", u.path, err)
	}

	out := &Universe{Tags: make(map[string]typesystem.Tag, len(u.Tags)), Registry: reg}
	for _, name := range sortedKeys(u.Tags) {
		t, err := u.parse(u.Tags[name])
		if err != nil {
			return nil, fmt.Errorf("tag %s: %w", name, err)
		}
		out.Tags[name] = t
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
