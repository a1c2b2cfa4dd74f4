package codec

import (
	"fmt"
	"sort"

	"github.com/funvibe/typetag/internal/config"
	"github.com/funvibe/typetag/internal/subtype"
	"github.com/funvibe/typetag/internal/typesystem"
	"github.com/google/uuid"
)

// Registry message:
//
//	1 id (16 bytes)
//	2 entry { 1 child Tag, 2 parent Tag (repeated) } (repeated)
//	3 names { 1 name, 2 parent (repeated string) } (repeated)
//	4 arity { 1 name, 2 count } (repeated)

// MarshalRegistry encodes a registry snapshot, including its ID.
func MarshalRegistry(r *subtype.Registry) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("encoding registry: nil registry")
	}
	msg, err := encodeRegistry(r)
	if err != nil {
		return nil, fmt.Errorf("encoding registry: %w", err)
	}
	return append(writeHeader(registryMagic, config.EncodingVersion), msg...), nil
}

func encodeRegistry(r *subtype.Registry) ([]byte, error) {
	id := r.ID()
	var msg []byte
	msg = appendMessage(msg, 1, id[:])
	for _, e := range r.Entries() {
		child, err := encodeTag(e.Child)
		if err != nil {
			return nil, err
		}
		var em []byte
		em = appendMessage(em, 1, child)
		for _, p := range e.Parents {
			parent, err := encodeTag(p)
			if err != nil {
				return nil, err
			}
			em = appendMessage(em, 2, parent)
		}
		msg = appendMessage(msg, 2, em)
	}
	for _, n := range r.NameEntries() {
		var nm []byte
		nm = appendString(nm, 1, n.Name)
		for _, p := range n.Parents {
			nm = appendString(nm, 2, p)
		}
		msg = appendMessage(msg, 3, nm)
	}
	arities := r.Arities()
	names := make([]string, 0, len(arities))
	for name := range arities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var am []byte
		am = appendString(am, 1, name)
		am = appendUint(am, 2, uint64(arities[name]))
		msg = appendMessage(msg, 4, am)
	}
	return msg, nil
}

// UnmarshalRegistry decodes and refreezes a registry. The snapshot keeps
// its encoded ID.
func UnmarshalRegistry(data []byte) (*subtype.Registry, error) {
	payload, err := readHeader(data, registryMagic, config.EncodingVersion)
	if err != nil {
		return nil, fmt.Errorf("decoding registry: %w", err)
	}
	b, err := decodeRegistry(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding registry: %w", err)
	}
	r, err := b.Freeze()
	if err != nil {
		return nil, fmt.Errorf("decoding registry: %w", err)
	}
	return r, nil
}

func decodeRegistry(payload []byte) (*subtype.Builder, error) {
	fields, err := parseFields(payload)
	if err != nil {
		return nil, err
	}
	b := subtype.NewBuilder()
	for _, f := range fields {
		msg, err := f.message()
		if err != nil {
			return nil, err
		}
		switch f.num {
		case 1:
			id, err := uuid.FromBytes(msg)
			if err != nil {
				return nil, fmt.Errorf("registry id: %w", err)
			}
			b.WithID(id)
		case 2:
			child, parents, err := decodeEntry(msg)
			if err != nil {
				return nil, err
			}
			b.AddBaseTypes(child, parents...)
		case 3:
			inner, err := parseFields(msg)
			if err != nil {
				return nil, err
			}
			var name string
			var parents []string
			for _, nf := range inner {
				s, err := nf.str()
				if err != nil {
					return nil, err
				}
				if nf.num == 1 {
					name = s
				} else if nf.num == 2 {
					parents = append(parents, s)
				}
			}
			b.AddBaseNames(name, parents...)
		case 4:
			inner, err := parseFields(msg)
			if err != nil {
				return nil, err
			}
			var name string
			var n uint64
			for _, af := range inner {
				switch af.num {
				case 1:
					name, err = af.str()
				case 2:
					n, err = af.uint()
				}
				if err != nil {
					return nil, fmt.Errorf("arity: %w", err)
				}
			}
			b.SetArity(name, int(n))
		}
	}
	return b, nil
}

func decodeEntry(msg []byte) (typesystem.Tag, []typesystem.Tag, error) {
	fields, err := parseFields(msg)
	if err != nil {
		return nil, nil, err
	}
	var child typesystem.Tag
	var parents []typesystem.Tag
	for _, f := range fields {
		tm, err := f.message()
		if err != nil {
			return nil, nil, err
		}
		t, err := decodeTag(tm)
		if err != nil {
			return nil, nil, fmt.Errorf("registry entry: %w", err)
		}
		switch f.num {
		case 1:
			child = t
		case 2:
			parents = append(parents, t)
		}
	}
	if child == nil {
		return nil, nil, fmt.Errorf("registry entry without child")
	}
	return child, parents, nil
}
