package typesystem

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// Key returns an injective structural encoding of a tag. Two tags have the
// same key iff they are structurally identical (sequences in order, sets in
// their stored order). Keys order set members and index registry tables.
func Key(t Tag) string {
	var b strings.Builder
	writeKey(&b, t)
	return b.String()
}

// Hash is the 64-bit FNV-1a hash of Key.
func Hash(t Tag) uint64 {
	h := fnv.New64a()
	h.Write([]byte(Key(t)))
	return h.Sum64()
}

func writeName(b *strings.Builder, name string) {
	b.WriteString(strconv.Itoa(len(name)))
	b.WriteByte(':')
	b.WriteString(name)
}

func writeKey(b *strings.Builder, t Tag) {
	switch typ := t.(type) {
	case nil:
		b.WriteByte('_')
	case NameReference:
		b.WriteString("N(")
		writeName(b, typ.Name)
		if !typ.Bounds.IsEmpty() {
			b.WriteString(" <")
			writeKey(b, typ.Bounds.Bottom)
			b.WriteByte(' ')
			writeKey(b, typ.Bounds.Top)
			b.WriteByte('>')
		}
		writePrefixKey(b, typ.Prefix)
		b.WriteByte(')')
	case FullReference:
		b.WriteString("F(")
		writeName(b, typ.Name)
		for _, p := range typ.Params {
			b.WriteByte(' ')
			b.WriteString(strconv.Itoa(int(p.Variance)))
			writeKey(b, p.Arg)
		}
		writePrefixKey(b, typ.Prefix)
		b.WriteByte(')')
	case Lambda:
		b.WriteString("L(")
		for _, p := range typ.Params {
			writeName(b, p.Name)
			b.WriteByte(' ')
		}
		writeKey(b, typ.Body)
		b.WriteByte(')')
	case IntersectionReference:
		b.WriteString("I(")
		for i, m := range typ.Members {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeKey(b, m)
		}
		b.WriteByte(')')
	case Refinement:
		b.WriteString("R(")
		writeKey(b, typ.Base)
		for _, d := range typ.Decls {
			b.WriteByte(' ')
			writeDeclKey(b, d)
		}
		b.WriteByte(')')
	}
}

func writePrefixKey(b *strings.Builder, p AppliedReference) {
	if p == nil {
		return
	}
	b.WriteString(" ^")
	writeKey(b, p)
}

func writeDeclKey(b *strings.Builder, d RefinementDecl) {
	switch decl := d.(type) {
	case Signature:
		b.WriteString("S(")
		writeName(b, decl.Name)
		for _, in := range decl.Inputs {
			b.WriteByte(' ')
			writeKey(b, in)
		}
		b.WriteString(" ->")
		writeKey(b, decl.Output)
		b.WriteByte(')')
	case TypeMember:
		b.WriteString("T(")
		writeName(b, decl.Name)
		b.WriteByte(' ')
		writeKey(b, decl.Bound)
		b.WriteByte(')')
	default:
		b.WriteByte('_')
	}
}

// DeclKey is Key for refinement declarations.
func DeclKey(d RefinementDecl) string {
	var b strings.Builder
	writeDeclKey(&b, d)
	return b.String()
}

// SortTags orders tags by key, in place.
func SortTags[T Tag](tags []T) {
	sort.SliceStable(tags, func(i, j int) bool {
		return Key(tags[i]) < Key(tags[j])
	})
}
