package codec

import (
	"fmt"

	"github.com/funvibe/typetag/internal/config"
	"github.com/funvibe/typetag/internal/typesystem"
	"google.golang.org/protobuf/encoding/protowire"
)

// Binary format:
//   - Magic number (4 bytes): "TTAG" for a tag, "TREG" for a registry
//   - Version (1 byte)
//   - Protobuf wire-format message
//
// A Tag message holds exactly one of:
//
//	1 name         { 1 name, 2 bottom Tag, 3 top Tag, 4 prefix Tag }
//	2 full         { 1 name, 2 param { 1 variance, 2 arg Tag } (repeated), 3 prefix Tag }
//	3 lambda       { 1 param (repeated string), 2 body Tag }
//	4 intersection { 1 member Tag (repeated) }
//	5 refinement   { 1 base Tag, 2 decl Decl (repeated) }
//
// Decl holds one of 1 signature { 1 name, 2 input Tag (repeated), 3 output Tag }
// or 2 type member { 1 name, 2 bound Tag }.
const (
	tagMagic      = "TTAG"
	registryMagic = "TREG"
)

const (
	kindName protowire.Number = iota + 1
	kindFull
	kindLambda
	kindIntersection
	kindRefinement
)

const (
	declSignature protowire.Number = iota + 1
	declTypeMember
)

// MarshalTag encodes t in the versioned binary format.
func MarshalTag(t typesystem.Tag) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("encoding tag: nil tag")
	}
	payload, err := encodeTag(t)
	if err != nil {
		return nil, fmt.Errorf("encoding tag: %w", err)
	}
	return append(writeHeader(tagMagic, config.EncodingVersion), payload...), nil
}

// UnmarshalTag decodes a binary tag and checks that it is well-formed.
func UnmarshalTag(data []byte) (typesystem.Tag, error) {
	payload, err := readHeader(data, tagMagic, config.EncodingVersion)
	if err != nil {
		return nil, fmt.Errorf("decoding tag: %w", err)
	}
	t, err := decodeTag(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding tag: %w", err)
	}
	if err := typesystem.Validate(t, nil); err != nil {
		return nil, fmt.Errorf("decoding tag: %w", err)
	}
	return t, nil
}

// IsBinaryTag reports whether data starts with the binary tag magic.
func IsBinaryTag(data []byte) bool {
	return len(data) >= headerSize && string(data[:4]) == tagMagic
}

func encodeTag(t typesystem.Tag) ([]byte, error) {
	var b []byte
	switch v := t.(type) {
	case typesystem.NameReference:
		msg, err := encodeName(v)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, kindName, msg)
	case typesystem.FullReference:
		var msg []byte
		msg = appendString(msg, 1, v.Name)
		for _, p := range v.Params {
			arg, err := encodeTag(p.Arg)
			if err != nil {
				return nil, err
			}
			var pm []byte
			pm = appendUint(pm, 1, uint64(p.Variance))
			pm = appendMessage(pm, 2, arg)
			msg = appendMessage(msg, 2, pm)
		}
		if v.Prefix != nil {
			prefix, err := encodeTag(v.Prefix)
			if err != nil {
				return nil, err
			}
			msg = appendMessage(msg, 3, prefix)
		}
		b = appendMessage(b, kindFull, msg)
	case typesystem.Lambda:
		var msg []byte
		for _, p := range v.Params {
			msg = appendString(msg, 1, p.Name)
		}
		body, err := encodeTag(v.Body)
		if err != nil {
			return nil, err
		}
		msg = appendMessage(msg, 2, body)
		b = appendMessage(b, kindLambda, msg)
	case typesystem.IntersectionReference:
		var msg []byte
		for _, m := range v.Members {
			member, err := encodeTag(m)
			if err != nil {
				return nil, err
			}
			msg = appendMessage(msg, 1, member)
		}
		b = appendMessage(b, kindIntersection, msg)
	case typesystem.Refinement:
		var msg []byte
		base, err := encodeTag(v.Base)
		if err != nil {
			return nil, err
		}
		msg = appendMessage(msg, 1, base)
		for _, d := range v.Decls {
			dm, err := encodeDecl(d)
			if err != nil {
				return nil, err
			}
			msg = appendMessage(msg, 2, dm)
		}
		b = appendMessage(b, kindRefinement, msg)
	case nil:
		return nil, fmt.Errorf("nil tag")
	default:
		return nil, fmt.Errorf("unknown tag %T", t)
	}
	return b, nil
}

func encodeName(n typesystem.NameReference) ([]byte, error) {
	var msg []byte
	msg = appendString(msg, 1, n.Name)
	for i, bound := range []typesystem.Tag{n.Bounds.Bottom, n.Bounds.Top} {
		if bound == nil {
			continue
		}
		enc, err := encodeTag(bound)
		if err != nil {
			return nil, err
		}
		msg = appendMessage(msg, protowire.Number(2+i), enc)
	}
	if n.Prefix != nil {
		prefix, err := encodeTag(n.Prefix)
		if err != nil {
			return nil, err
		}
		msg = appendMessage(msg, 4, prefix)
	}
	return msg, nil
}

func encodeDecl(d typesystem.RefinementDecl) ([]byte, error) {
	var b []byte
	switch v := d.(type) {
	case typesystem.Signature:
		var msg []byte
		msg = appendString(msg, 1, v.Name)
		for _, in := range v.Inputs {
			enc, err := encodeTag(in)
			if err != nil {
				return nil, err
			}
			msg = appendMessage(msg, 2, enc)
		}
		out, err := encodeTag(v.Output)
		if err != nil {
			return nil, err
		}
		msg = appendMessage(msg, 3, out)
		b = appendMessage(b, declSignature, msg)
	case typesystem.TypeMember:
		var msg []byte
		msg = appendString(msg, 1, v.Name)
		bound, err := encodeTag(v.Bound)
		if err != nil {
			return nil, err
		}
		msg = appendMessage(msg, 2, bound)
		b = appendMessage(b, declTypeMember, msg)
	default:
		return nil, fmt.Errorf("unknown declaration %T", d)
	}
	return b, nil
}

func decodeTag(b []byte) (typesystem.Tag, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	if len(fields) != 1 {
		return nil, fmt.Errorf("tag message has %d variants, want 1", len(fields))
	}
	f := fields[0]
	msg, err := f.message()
	if err != nil {
		return nil, err
	}
	switch f.num {
	case kindName:
		return decodeName(msg)
	case kindFull:
		return decodeFull(msg)
	case kindLambda:
		return decodeLambda(msg)
	case kindIntersection:
		return decodeIntersection(msg)
	case kindRefinement:
		return decodeRefinement(msg)
	default:
		return nil, fmt.Errorf("unknown tag kind %d", f.num)
	}
}

func decodeApplied(b []byte) (typesystem.AppliedReference, error) {
	t, err := decodeTag(b)
	if err != nil {
		return nil, err
	}
	a, ok := t.(typesystem.AppliedReference)
	if !ok {
		return nil, fmt.Errorf("%s is not an applied reference", t)
	}
	return a, nil
}

func decodeName(b []byte) (typesystem.NameReference, error) {
	var n typesystem.NameReference
	fields, err := parseFields(b)
	if err != nil {
		return n, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			n.Name, err = f.str()
		case 2, 3, 4:
			var msg []byte
			if msg, err = f.message(); err != nil {
				break
			}
			switch f.num {
			case 2:
				n.Bounds.Bottom, err = decodeTag(msg)
			case 3:
				n.Bounds.Top, err = decodeTag(msg)
			case 4:
				n.Prefix, err = decodeApplied(msg)
			}
		}
		if err != nil {
			return n, fmt.Errorf("name reference: %w", err)
		}
	}
	return n, nil
}

func decodeFull(b []byte) (typesystem.FullReference, error) {
	var r typesystem.FullReference
	fields, err := parseFields(b)
	if err != nil {
		return r, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			r.Name, err = f.str()
		case 2:
			var p typesystem.TypeParam
			if p, err = decodeParam(f); err == nil {
				r.Params = append(r.Params, p)
			}
		case 3:
			var msg []byte
			if msg, err = f.message(); err == nil {
				r.Prefix, err = decodeApplied(msg)
			}
		}
		if err != nil {
			return r, fmt.Errorf("full reference %s: %w", r.Name, err)
		}
	}
	return r, nil
}

func decodeParam(f field) (typesystem.TypeParam, error) {
	var p typesystem.TypeParam
	msg, err := f.message()
	if err != nil {
		return p, err
	}
	fields, err := parseFields(msg)
	if err != nil {
		return p, err
	}
	for _, pf := range fields {
		switch pf.num {
		case 1:
			var v uint64
			if v, err = pf.uint(); err == nil {
				if v > uint64(typesystem.Contravariant) {
					err = fmt.Errorf("unknown variance %d", v)
				}
				p.Variance = typesystem.Variance(v)
			}
		case 2:
			var am []byte
			if am, err = pf.message(); err == nil {
				p.Arg, err = decodeTag(am)
			}
		}
		if err != nil {
			return p, err
		}
	}
	return p, nil
}

func decodeLambda(b []byte) (typesystem.Lambda, error) {
	var l typesystem.Lambda
	fields, err := parseFields(b)
	if err != nil {
		return l, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			var name string
			if name, err = f.str(); err == nil {
				l.Params = append(l.Params, typesystem.LambdaParameter{Name: name})
			}
		case 2:
			var msg []byte
			if msg, err = f.message(); err == nil {
				l.Body, err = decodeTag(msg)
			}
		}
		if err != nil {
			return l, fmt.Errorf("lambda: %w", err)
		}
	}
	return l, nil
}

func decodeIntersection(b []byte) (typesystem.IntersectionReference, error) {
	var r typesystem.IntersectionReference
	fields, err := parseFields(b)
	if err != nil {
		return r, err
	}
	for _, f := range fields {
		if f.num != 1 {
			continue
		}
		msg, err := f.message()
		if err != nil {
			return r, err
		}
		t, err := decodeTag(msg)
		if err != nil {
			return r, fmt.Errorf("intersection: %w", err)
		}
		m, ok := t.(typesystem.AppliedNamedReference)
		if !ok {
			return r, fmt.Errorf("intersection member %s is not a named reference", t)
		}
		r.Members = append(r.Members, m)
	}
	return r, nil
}

func decodeRefinement(b []byte) (typesystem.Refinement, error) {
	var r typesystem.Refinement
	fields, err := parseFields(b)
	if err != nil {
		return r, err
	}
	for _, f := range fields {
		var msg []byte
		if msg, err = f.message(); err != nil {
			return r, err
		}
		switch f.num {
		case 1:
			r.Base, err = decodeApplied(msg)
		case 2:
			var d typesystem.RefinementDecl
			if d, err = decodeDecl(msg); err == nil {
				r.Decls = append(r.Decls, d)
			}
		}
		if err != nil {
			return r, fmt.Errorf("refinement: %w", err)
		}
	}
	return r, nil
}

func decodeDecl(b []byte) (typesystem.RefinementDecl, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	if len(fields) != 1 {
		return nil, fmt.Errorf("declaration has %d variants, want 1", len(fields))
	}
	msg, err := fields[0].message()
	if err != nil {
		return nil, err
	}
	inner, err := parseFields(msg)
	if err != nil {
		return nil, err
	}
	switch fields[0].num {
	case declSignature:
		var s typesystem.Signature
		for _, f := range inner {
			switch f.num {
			case 1:
				s.Name, err = f.str()
			case 2, 3:
				var tm []byte
				var t typesystem.Tag
				if tm, err = f.message(); err == nil {
					if t, err = decodeTag(tm); err == nil {
						if f.num == 2 {
							s.Inputs = append(s.Inputs, t)
						} else {
							s.Output = t
						}
					}
				}
			}
			if err != nil {
				return nil, fmt.Errorf("signature %s: %w", s.Name, err)
			}
		}
		return s, nil
	case declTypeMember:
		var m typesystem.TypeMember
		for _, f := range inner {
			switch f.num {
			case 1:
				m.Name, err = f.str()
			case 2:
				var tm []byte
				if tm, err = f.message(); err == nil {
					m.Bound, err = decodeTag(tm)
				}
			}
			if err != nil {
				return nil, fmt.Errorf("type member %s: %w", m.Name, err)
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown declaration kind %d", fields[0].num)
	}
}
