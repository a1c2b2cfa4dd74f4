package codec

import (
	"fmt"
	"sort"

	"github.com/funvibe/typetag/internal/config"
	"github.com/funvibe/typetag/internal/subtype"
	"github.com/funvibe/typetag/internal/typesystem"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// node is the YAML form of a Tag. Kind selects which fields are set.
type node struct {
	Kind    string      `yaml:"kind"`
	Name    string      `yaml:"name,omitempty"`
	Bottom  *node       `yaml:"bottom,omitempty"`
	Top     *node       `yaml:"top,omitempty"`
	Prefix  *node       `yaml:"prefix,omitempty"`
	Args    []paramNode `yaml:"args,omitempty"`
	Params  []string    `yaml:"params,omitempty"`
	Body    *node       `yaml:"body,omitempty"`
	Members []*node     `yaml:"members,omitempty"`
	Base    *node       `yaml:"base,omitempty"`
	Decls   []declNode  `yaml:"decls,omitempty"`
}

type paramNode struct {
	Variance string `yaml:"variance"`
	Arg      *node  `yaml:"arg"`
}

type declNode struct {
	Def    string  `yaml:"def,omitempty"`
	Type   string  `yaml:"type,omitempty"`
	Inputs []*node `yaml:"inputs,omitempty"`
	Output *node   `yaml:"output,omitempty"`
	Bound  *node   `yaml:"bound,omitempty"`
}

const (
	nodeName         = "name"
	nodeFull         = "full"
	nodeLambda       = "lambda"
	nodeIntersection = "intersection"
	nodeRefinement   = "refinement"
)

type tagDocument struct {
	Version int   `yaml:"version"`
	Tag     *node `yaml:"tag"`
}

type entryNode struct {
	Child   *node   `yaml:"child"`
	Parents []*node `yaml:"parents,omitempty"`
}

type registryDocument struct {
	Version int                 `yaml:"version"`
	ID      string              `yaml:"id"`
	Arities map[string]int      `yaml:"arities,omitempty"`
	Types   []entryNode         `yaml:"types,omitempty"`
	Names   map[string][]string `yaml:"names,omitempty"`
}

// MarshalTagYAML encodes t as a versioned YAML document.
func MarshalTagYAML(t typesystem.Tag) ([]byte, error) {
	n, err := toNode(t)
	if err != nil {
		return nil, fmt.Errorf("encoding tag: %w", err)
	}
	return yaml.Marshal(tagDocument{Version: config.EncodingVersion, Tag: n})
}

// UnmarshalTagYAML decodes a YAML tag document and checks that the tag is
// well-formed.
func UnmarshalTagYAML(data []byte) (typesystem.Tag, error) {
	var doc tagDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding tag: invalid YAML: %w", err)
	}
	if doc.Version != config.EncodingVersion {
		return nil, fmt.Errorf("decoding tag: %w: %d (supported: %d)", ErrVersion, doc.Version, config.EncodingVersion)
	}
	t, err := fromNode(doc.Tag)
	if err != nil {
		return nil, fmt.Errorf("decoding tag: %w", err)
	}
	if err := typesystem.Validate(t, nil); err != nil {
		return nil, fmt.Errorf("decoding tag: %w", err)
	}
	return t, nil
}

// UnmarshalAny decodes a tag in either encoding.
func UnmarshalAny(data []byte) (typesystem.Tag, error) {
	if IsBinaryTag(data) {
		return UnmarshalTag(data)
	}
	return UnmarshalTagYAML(data)
}

// MarshalRegistryYAML encodes a registry snapshot as YAML.
func MarshalRegistryYAML(r *subtype.Registry) ([]byte, error) {
	doc := registryDocument{
		Version: config.EncodingVersion,
		ID:      r.ID().String(),
		Arities: r.Arities(),
	}
	for _, e := range r.Entries() {
		child, err := toNode(e.Child)
		if err != nil {
			return nil, fmt.Errorf("encoding registry: %w", err)
		}
		en := entryNode{Child: child}
		for _, p := range e.Parents {
			pn, err := toNode(p)
			if err != nil {
				return nil, fmt.Errorf("encoding registry: %w", err)
			}
			en.Parents = append(en.Parents, pn)
		}
		doc.Types = append(doc.Types, en)
	}
	for _, n := range r.NameEntries() {
		if doc.Names == nil {
			doc.Names = make(map[string][]string)
		}
		doc.Names[n.Name] = n.Parents
	}
	return yaml.Marshal(doc)
}

// UnmarshalRegistryYAML decodes and refreezes a YAML registry.
func UnmarshalRegistryYAML(data []byte) (*subtype.Registry, error) {
	var doc registryDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding registry: invalid YAML: %w", err)
	}
	if doc.Version != config.EncodingVersion {
		return nil, fmt.Errorf("decoding registry: %w: %d (supported: %d)", ErrVersion, doc.Version, config.EncodingVersion)
	}
	b := subtype.NewBuilder()
	if doc.ID != "" {
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("decoding registry: id: %w", err)
		}
		b.WithID(id)
	}
	names := make([]string, 0, len(doc.Arities))
	for name := range doc.Arities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.SetArity(name, doc.Arities[name])
	}
	for _, en := range doc.Types {
		child, err := fromNode(en.Child)
		if err != nil {
			return nil, fmt.Errorf("decoding registry: %w", err)
		}
		parents := make([]typesystem.Tag, 0, len(en.Parents))
		for _, pn := range en.Parents {
			p, err := fromNode(pn)
			if err != nil {
				return nil, fmt.Errorf("decoding registry: %w", err)
			}
			parents = append(parents, p)
		}
		b.AddBaseTypes(child, parents...)
	}
	for name, parents := range doc.Names {
		b.AddBaseNames(name, parents...)
	}
	r, err := b.Freeze()
	if err != nil {
		return nil, fmt.Errorf("decoding registry: %w", err)
	}
	return r, nil
}

func toNode(t typesystem.Tag) (*node, error) {
	switch v := t.(type) {
	case typesystem.NameReference:
		n := &node{Kind: nodeName, Name: v.Name}
		var err error
		if v.Bounds.Bottom != nil {
			if n.Bottom, err = toNode(v.Bounds.Bottom); err != nil {
				return nil, err
			}
		}
		if v.Bounds.Top != nil {
			if n.Top, err = toNode(v.Bounds.Top); err != nil {
				return nil, err
			}
		}
		if v.Prefix != nil {
			if n.Prefix, err = toNode(v.Prefix); err != nil {
				return nil, err
			}
		}
		return n, nil
	case typesystem.FullReference:
		n := &node{Kind: nodeFull, Name: v.Name}
		for _, p := range v.Params {
			arg, err := toNode(p.Arg)
			if err != nil {
				return nil, err
			}
			n.Args = append(n.Args, paramNode{Variance: p.Variance.String(), Arg: arg})
		}
		if v.Prefix != nil {
			prefix, err := toNode(v.Prefix)
			if err != nil {
				return nil, err
			}
			n.Prefix = prefix
		}
		return n, nil
	case typesystem.Lambda:
		body, err := toNode(v.Body)
		if err != nil {
			return nil, err
		}
		return &node{Kind: nodeLambda, Params: v.ParamNames(), Body: body}, nil
	case typesystem.IntersectionReference:
		n := &node{Kind: nodeIntersection}
		for _, m := range v.Members {
			mn, err := toNode(m)
			if err != nil {
				return nil, err
			}
			n.Members = append(n.Members, mn)
		}
		return n, nil
	case typesystem.Refinement:
		base, err := toNode(v.Base)
		if err != nil {
			return nil, err
		}
		n := &node{Kind: nodeRefinement, Base: base}
		for _, d := range v.Decls {
			dn, err := toDeclNode(d)
			if err != nil {
				return nil, err
			}
			n.Decls = append(n.Decls, dn)
		}
		return n, nil
	case nil:
		return nil, fmt.Errorf("nil tag")
	default:
		return nil, fmt.Errorf("unknown tag %T", t)
	}
}

func toDeclNode(d typesystem.RefinementDecl) (declNode, error) {
	switch v := d.(type) {
	case typesystem.Signature:
		dn := declNode{Def: v.Name}
		for _, in := range v.Inputs {
			n, err := toNode(in)
			if err != nil {
				return dn, err
			}
			dn.Inputs = append(dn.Inputs, n)
		}
		out, err := toNode(v.Output)
		if err != nil {
			return dn, err
		}
		dn.Output = out
		return dn, nil
	case typesystem.TypeMember:
		bound, err := toNode(v.Bound)
		if err != nil {
			return declNode{}, err
		}
		return declNode{Type: v.Name, Bound: bound}, nil
	default:
		return declNode{}, fmt.Errorf("unknown declaration %T", d)
	}
}

func parseVariance(s string) (typesystem.Variance, error) {
	switch s {
	case "", "=":
		return typesystem.Invariant, nil
	case "+":
		return typesystem.Covariant, nil
	case "-":
		return typesystem.Contravariant, nil
	default:
		return 0, fmt.Errorf("unknown variance %q", s)
	}
}

func fromNode(n *node) (typesystem.Tag, error) {
	if n == nil {
		return nil, fmt.Errorf("missing tag")
	}
	switch n.Kind {
	case nodeName:
		ref := typesystem.NameReference{Name: n.Name}
		var err error
		if n.Bottom != nil {
			if ref.Bounds.Bottom, err = fromNode(n.Bottom); err != nil {
				return nil, err
			}
		}
		if n.Top != nil {
			if ref.Bounds.Top, err = fromNode(n.Top); err != nil {
				return nil, err
			}
		}
		if n.Prefix != nil {
			if ref.Prefix, err = fromApplied(n.Prefix); err != nil {
				return nil, err
			}
		}
		return ref, nil
	case nodeFull:
		ref := typesystem.FullReference{Name: n.Name}
		for _, p := range n.Args {
			v, err := parseVariance(p.Variance)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", n.Name, err)
			}
			arg, err := fromNode(p.Arg)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", n.Name, err)
			}
			ref.Params = append(ref.Params, typesystem.TypeParam{Arg: arg, Variance: v})
		}
		if n.Prefix != nil {
			prefix, err := fromApplied(n.Prefix)
			if err != nil {
				return nil, err
			}
			ref.Prefix = prefix
		}
		return ref, nil
	case nodeLambda:
		body, err := fromNode(n.Body)
		if err != nil {
			return nil, fmt.Errorf("lambda: %w", err)
		}
		l := typesystem.Lambda{Body: body}
		for _, p := range n.Params {
			l.Params = append(l.Params, typesystem.LambdaParameter{Name: p})
		}
		return l, nil
	case nodeIntersection:
		var r typesystem.IntersectionReference
		for _, mn := range n.Members {
			t, err := fromNode(mn)
			if err != nil {
				return nil, fmt.Errorf("intersection: %w", err)
			}
			m, ok := t.(typesystem.AppliedNamedReference)
			if !ok {
				return nil, fmt.Errorf("intersection member %s is not a named reference", t)
			}
			r.Members = append(r.Members, m)
		}
		return r, nil
	case nodeRefinement:
		base, err := fromApplied(n.Base)
		if err != nil {
			return nil, fmt.Errorf("refinement: %w", err)
		}
		r := typesystem.Refinement{Base: base}
		for _, dn := range n.Decls {
			d, err := fromDeclNode(dn)
			if err != nil {
				return nil, fmt.Errorf("refinement: %w", err)
			}
			r.Decls = append(r.Decls, d)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown tag kind %q", n.Kind)
	}
}

func fromApplied(n *node) (typesystem.AppliedReference, error) {
	t, err := fromNode(n)
	if err != nil {
		return nil, err
	}
	a, ok := t.(typesystem.AppliedReference)
	if !ok {
		return nil, fmt.Errorf("%s is not an applied reference", t)
	}
	return a, nil
}

func fromDeclNode(dn declNode) (typesystem.RefinementDecl, error) {
	switch {
	case dn.Def != "" && dn.Type == "":
		s := typesystem.Signature{Name: dn.Def}
		for _, in := range dn.Inputs {
			t, err := fromNode(in)
			if err != nil {
				return nil, fmt.Errorf("def %s: %w", dn.Def, err)
			}
			s.Inputs = append(s.Inputs, t)
		}
		out, err := fromNode(dn.Output)
		if err != nil {
			return nil, fmt.Errorf("def %s: %w", dn.Def, err)
		}
		s.Output = out
		return s, nil
	case dn.Type != "" && dn.Def == "":
		bound, err := fromNode(dn.Bound)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", dn.Type, err)
		}
		return typesystem.TypeMember{Name: dn.Type, Bound: bound}, nil
	default:
		return nil, fmt.Errorf("declaration must set exactly one of def or type")
	}
}
