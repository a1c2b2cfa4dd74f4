package subtype

import (
	"errors"
	"testing"

	ts "github.com/funvibe/typetag/internal/typesystem"
)

func TestFreezeNormalizesKeys(t *testing.T) {
	reg, err := NewBuilder().
		AddBaseTypes(lam(ts.Full("List", ts.Co(ts.Ref("A"))), "A"), lam(ts.Full("Seq", ts.Co(ts.Ref("A"))), "A")).
		Freeze()
	if err != nil {
		t.Fatalf("Freeze() error = %v", err)
	}
	key := lam(ts.Full("List", ts.Co(ts.Ref("Z"))), "Z")
	parents := reg.BaseTypes(ts.Normalize(key))
	if len(parents) != 1 {
		t.Fatalf("BaseTypes(%s) = %v, want one parent", key, parents)
	}
	if got, want := parents[0].String(), "λ %0 → Seq[+%0]"; got != want {
		t.Errorf("parent = %s, want %s", got, want)
	}
	if got := len(reg.LambdaEntries("List")); got != 1 {
		t.Errorf("LambdaEntries(List) = %d entries, want 1", got)
	}
}

func TestFreezeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		b    *Builder
		want error
	}{
		{
			name: "dangling parameter",
			b:    NewBuilder().AddBaseTypes(ts.Full("List", ts.Co(ts.Ref("%0"))), ts.Ref("Seq")),
			want: ts.ErrDanglingParam,
		},
		{
			name: "arity",
			b:    NewBuilder().SetArity("List", 1).AddBaseTypes(ts.Full("List", ts.Co(intT), ts.Co(intT)), ts.Ref("Seq")),
			want: ts.ErrArity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Freeze()
			if !errors.Is(err, tt.want) {
				t.Errorf("Freeze() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := NewBuilder().SetArity("List", 1).SetArity("List", 2).Freeze(); err == nil {
		t.Errorf("conflicting arity accepted")
	}
	if _, err := NewBuilder().AddBaseTypes(nil).Freeze(); err == nil {
		t.Errorf("nil child accepted")
	}
}

func TestFreezeSnapshot(t *testing.T) {
	b := NewBuilder().AddBaseNames("Int", "Object", "Object", "Int")
	first, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	b.AddBaseNames("Int", "Number")
	second, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}

	if got := first.BaseNames("Int"); len(got) != 1 || got[0] != "Object" {
		t.Errorf("first BaseNames(Int) = %v, want [Object]", got)
	}
	if got := second.BaseNames("Int"); len(got) != 2 || got[0] != "Number" || got[1] != "Object" {
		t.Errorf("second BaseNames(Int) = %v, want [Number Object]", got)
	}
	if first.ID() == second.ID() {
		t.Errorf("snapshots share ID %s", first.ID())
	}
}

func TestMerge(t *testing.T) {
	left, err := NewBuilder().AddBaseNames("Int", "Object").SetArity("List", 1).Freeze()
	if err != nil {
		t.Fatal(err)
	}
	right, err := NewBuilder().AddBaseTypes(ts.Ref("Cat"), ts.Ref("Animal")).AddBaseNames("Int", "Number").Freeze()
	if err != nil {
		t.Fatal(err)
	}
	merged, err := left.Merge(right)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if merged.ID() == left.ID() || merged.ID() == right.ID() {
		t.Errorf("merged registry reuses an input ID")
	}
	if got := merged.BaseNames("Int"); len(got) != 2 {
		t.Errorf("BaseNames(Int) = %v, want two names", got)
	}
	if got := merged.BaseTypes(ts.Ref("Cat")); len(got) != 1 {
		t.Errorf("BaseTypes(Cat) = %v, want [Animal]", got)
	}
	if n, ok := merged.Arity("List"); !ok || n != 1 {
		t.Errorf("Arity(List) = %d, %v", n, ok)
	}
	if got := len(left.BaseNames("Int")); got != 1 {
		t.Errorf("Merge mutated its receiver: BaseNames(Int) has %d entries", got)
	}

	conflict, _ := NewBuilder().SetArity("List", 2).Freeze()
	if _, err := left.Merge(conflict); err == nil {
		t.Errorf("Merge accepted conflicting arities")
	}
}

func TestEntriesOrdered(t *testing.T) {
	reg := collections(t)
	entries := reg.Entries()
	if len(entries) != reg.Len() {
		t.Fatalf("Entries() = %d, Len() = %d", len(entries), reg.Len())
	}
	for i := 1; i < len(entries); i++ {
		if ts.Key(entries[i-1].Child) >= ts.Key(entries[i].Child) {
			t.Errorf("entries not ordered at %d: %s, %s", i, entries[i-1].Child, entries[i].Child)
		}
	}
	names := reg.NameEntries()
	if len(names) != 3 || names[0].Name != "Int" {
		t.Errorf("NameEntries() = %v", names)
	}
}

func TestParentLambdaAlignedByName(t *testing.T) {
	reg, err := NewBuilder().
		AddBaseTypes(
			lam(ts.Full("Map", ts.Inv(ts.Ref("K")), ts.Co(ts.Ref("V"))), "K", "V"),
			lam(ts.Full("Iterable", ts.Co(ts.Ref("V"))), "V"),
		).
		Freeze()
	if err != nil {
		t.Fatalf("Freeze() error = %v", err)
	}
	entries := reg.LambdaEntries("Map")
	if len(entries) != 1 || len(entries[0].Parents) != 1 {
		t.Fatalf("LambdaEntries(Map) = %v", entries)
	}
	if got, want := entries[0].Parents[0].String(), "λ %0, %1 → Iterable[+%1]"; got != want {
		t.Errorf("parent = %s, want %s", got, want)
	}

	_, err = NewBuilder().
		AddBaseTypes(
			lam(ts.Full("List", ts.Co(ts.Ref("A"))), "A"),
			lam(ts.Full("Seq", ts.Co(ts.Ref("B"))), "B"),
		).
		Freeze()
	if err == nil {
		t.Errorf("parent over a parameter the child does not declare accepted")
	}
}
