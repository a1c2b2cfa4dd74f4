package codec

import (
	"errors"
	"testing"

	"github.com/funvibe/typetag/internal/subtype"
	ts "github.com/funvibe/typetag/internal/typesystem"
	"github.com/stretchr/testify/require"
)

func sampleTags() map[string]ts.Tag {
	intT, strT := ts.Ref("Int"), ts.Ref("String")
	return map[string]ts.Tag{
		"name":    intT,
		"bounded": ts.NameReference{Name: "T", Bounds: ts.Defined(ts.Ref("Nothing"), ts.Full("List", ts.Co(intT)))},
		"path":    ts.NameReference{Name: "Inner", Prefix: ts.Full("Outer", ts.Inv(strT))},
		"full":    ts.Full("Function1", ts.Contra(intT), ts.Co(strT)),
		"lambda": ts.Lambda{
			Params: []ts.LambdaParameter{{Name: "K"}, {Name: "V"}},
			Body:   ts.Full("Map", ts.Inv(ts.Ref("K")), ts.Co(ts.Ref("V"))),
		},
		"nested lambda": ts.Lambda{
			Params: []ts.LambdaParameter{{Name: "F"}},
			Body: ts.Full("Wrap", ts.Inv(ts.Lambda{
				Params: []ts.LambdaParameter{{Name: "A"}},
				Body:   ts.Full("F", ts.Inv(ts.Ref("A"))),
			})),
		},
		"intersection": ts.IntersectionReference{Members: []ts.AppliedNamedReference{strT, ts.Full("Seq", ts.Co(intT))}},
		"refinement": ts.Refinement{
			Base: ts.IntersectionReference{Members: []ts.AppliedNamedReference{ts.Ref("A"), ts.Ref("B")}},
			Decls: []ts.RefinementDecl{
				ts.Signature{Name: "get", Inputs: []ts.Tag{intT, strT}, Output: ts.Ref("Elem")},
				ts.Signature{Name: "size", Output: intT},
				ts.TypeMember{Name: "Elem", Bound: ts.Ref("Object")},
			},
		},
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	for name, tag := range sampleTags() {
		t.Run(name, func(t *testing.T) {
			data, err := MarshalTag(tag)
			require.NoError(t, err)
			require.True(t, IsBinaryTag(data))

			got, err := UnmarshalTag(data)
			require.NoError(t, err)
			require.True(t, ts.EqualTo(tag, got), "got %s, want %s", got, tag)
			require.Equal(t, ts.Key(tag), ts.Key(got))
		})
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	for name, tag := range sampleTags() {
		t.Run(name, func(t *testing.T) {
			data, err := MarshalTagYAML(tag)
			require.NoError(t, err)
			require.False(t, IsBinaryTag(data))

			got, err := UnmarshalAny(data)
			require.NoError(t, err)
			require.True(t, ts.EqualTo(tag, got), "got %s, want %s", got, tag)
		})
	}
}

func TestVersionMismatch(t *testing.T) {
	data, err := MarshalTag(ts.Ref("Int"))
	require.NoError(t, err)
	data[4] = 9
	_, err = UnmarshalTag(data)
	require.ErrorIs(t, err, ErrVersion)

	_, err = UnmarshalTagYAML([]byte("version: 2\ntag:\n  kind: name\n  name: Int\n"))
	require.ErrorIs(t, err, ErrVersion)

	_, err = UnmarshalRegistryYAML([]byte("version: 0\nid: \"\"\n"))
	require.ErrorIs(t, err, ErrVersion)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := UnmarshalTag([]byte("TTA"))
	require.Error(t, err)

	_, err = UnmarshalTag([]byte("XXXX\x01"))
	require.Error(t, err)

	data, err := MarshalTag(ts.Full("List", ts.Co(ts.Ref("Int"))))
	require.NoError(t, err)
	_, err = UnmarshalTag(data[:len(data)-2])
	require.Error(t, err)

	_, err = UnmarshalTagYAML([]byte("version: 1\ntag:\n  kind: bogus\n"))
	require.Error(t, err)

	_, err = UnmarshalTagYAML([]byte("version: 1\ntag:\n  kind: full\n  name: F\n  args:\n    - variance: '*'\n      arg: {kind: name, name: Int}\n"))
	require.Error(t, err)
}

func TestDecodeValidates(t *testing.T) {
	dangling := ts.Full("List", ts.Co(ts.Ref("%0")))
	data, err := MarshalTag(dangling)
	require.NoError(t, err)
	_, err = UnmarshalTag(data)
	require.True(t, errors.Is(err, ts.ErrDanglingParam), "err = %v", err)

	text, err := MarshalTagYAML(dangling)
	require.NoError(t, err)
	_, err = UnmarshalTagYAML(text)
	require.ErrorIs(t, err, ts.ErrDanglingParam)
}

func sampleRegistry(t *testing.T) *subtype.Registry {
	t.Helper()
	list := ts.Lambda{Params: []ts.LambdaParameter{{Name: "A"}}, Body: ts.Full("List", ts.Co(ts.Ref("A")))}
	seq := ts.Lambda{Params: []ts.LambdaParameter{{Name: "A"}}, Body: ts.Full("Seq", ts.Co(ts.Ref("A")))}
	r, err := subtype.NewBuilder().
		SetArity("List", 1).
		SetArity("Seq", 1).
		AddBaseTypes(list, seq).
		AddBaseTypes(ts.Ref("Cat"), ts.Ref("Animal"), ts.Ref("Pet")).
		AddBaseNames("Int", "Object").
		Freeze()
	require.NoError(t, err)
	return r
}

func requireSameRegistry(t *testing.T, want, got *subtype.Registry) {
	t.Helper()
	require.Equal(t, want.ID(), got.ID())
	require.Equal(t, want.Arities(), got.Arities())
	require.Equal(t, want.NameEntries(), got.NameEntries())
	we, ge := want.Entries(), got.Entries()
	require.Len(t, ge, len(we))
	for i := range we {
		require.True(t, ts.Equal(we[i].Child, ge[i].Child))
		require.Len(t, ge[i].Parents, len(we[i].Parents))
		for j := range we[i].Parents {
			require.True(t, ts.Equal(we[i].Parents[j], ge[i].Parents[j]))
		}
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	reg := sampleRegistry(t)

	data, err := MarshalRegistry(reg)
	require.NoError(t, err)
	got, err := UnmarshalRegistry(data)
	require.NoError(t, err)
	requireSameRegistry(t, reg, got)

	text, err := MarshalRegistryYAML(reg)
	require.NoError(t, err)
	got, err = UnmarshalRegistryYAML(text)
	require.NoError(t, err)
	requireSameRegistry(t, reg, got)

	e := subtype.NewEngine(got)
	require.True(t, e.IsSubtype(ts.Full("List", ts.Co(ts.Ref("Int"))), ts.Full("Seq", ts.Co(ts.Ref("Object")))))
}

func TestRegistryVersion(t *testing.T) {
	data, err := MarshalRegistry(sampleRegistry(t))
	require.NoError(t, err)
	data[4] = 2
	_, err = UnmarshalRegistry(data)
	require.ErrorIs(t, err, ErrVersion)

	_, err = UnmarshalRegistry([]byte("TTAG\x01"))
	require.Error(t, err)
}

func TestBundleRoundTrip(t *testing.T) {
	reg := sampleRegistry(t)
	tag := ts.Full("List", ts.Co(ts.Ref("Int")))

	data, err := MarshalBundle(tag, reg)
	require.NoError(t, err)
	gotTag, gotReg, err := UnmarshalBundle(data)
	require.NoError(t, err)
	require.True(t, ts.EqualTo(tag, gotTag))
	requireSameRegistry(t, reg, gotReg)

	bad, err := MarshalBundle(ts.Full("List", ts.Co(ts.Ref("Int")), ts.Co(ts.Ref("Int"))), reg)
	require.NoError(t, err)
	_, _, err = UnmarshalBundle(bad)
	require.ErrorIs(t, err, ts.ErrArity)
}
