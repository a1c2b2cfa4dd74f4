package subtype

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"

	ts "github.com/funvibe/typetag/internal/typesystem"
)

var (
	nothing = ts.Ref("Nothing")
	anyT    = ts.Ref("Any")
	intT    = ts.Ref("Int")
	strT    = ts.Ref("String")
	unitT   = ts.Ref("Unit")
	objT    = ts.Ref("Object")
)

func lam(body ts.Tag, params ...string) ts.Lambda {
	ps := make([]ts.LambdaParameter, len(params))
	for i, p := range params {
		ps[i] = ts.LambdaParameter{Name: p}
	}
	return ts.Lambda{Params: ps, Body: body}
}

// collections builds a small hierarchy:
//
//	Int, String, Unit → Object (by name)
//	List[+A] → Seq[+A] → Iterable[+A]
//	Map[K, +V] → Iterable[+Pair[K, V]]
//	Cat → Animal, Dog → Animal, CatDog → Cat, CatDog → Dog
func collections(t *testing.T) *Registry {
	t.Helper()
	b := NewBuilder().
		AddBaseNames("Int", "Object").
		AddBaseNames("String", "Object").
		AddBaseNames("Unit", "Object").
		AddBaseTypes(
			lam(ts.Full("List", ts.Co(ts.Ref("A"))), "A"),
			lam(ts.Full("Seq", ts.Co(ts.Ref("A"))), "A"),
		).
		AddBaseTypes(
			lam(ts.Full("Seq", ts.Co(ts.Ref("B"))), "B"),
			lam(ts.Full("Iterable", ts.Co(ts.Ref("B"))), "B"),
		).
		AddBaseTypes(
			lam(ts.Full("Map", ts.Inv(ts.Ref("K")), ts.Co(ts.Ref("V"))), "K", "V"),
			lam(ts.Full("Iterable", ts.Co(ts.Full("Pair", ts.Inv(ts.Ref("K")), ts.Inv(ts.Ref("V"))))), "K", "V"),
		).
		AddBaseTypes(ts.Ref("Cat"), ts.Ref("Animal")).
		AddBaseTypes(ts.Ref("Dog"), ts.Ref("Animal")).
		AddBaseTypes(ts.Ref("CatDog"), ts.Ref("Cat"), ts.Ref("Dog"))
	r, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze() error = %v", err)
	}
	return r
}

func TestIsSubtype(t *testing.T) {
	e := NewEngine(collections(t))

	either := func(l, r ts.TypeParam) ts.Tag { return ts.Full("Either", l, r) }
	list := func(a ts.Tag) ts.Tag { return ts.Full("List", ts.Co(a)) }
	iterable := func(a ts.Tag) ts.Tag { return ts.Full("Iterable", ts.Co(a)) }

	tests := []struct {
		name        string
		self, other ts.Tag
		want        bool
	}{
		{"reflexive name", intT, intT, true},
		{"reflexive generic", list(intT), list(intT), true},
		{"bottom", nothing, list(intT), true},
		{"top", list(intT), anyT, true},
		{"lambda below top", lam(list(ts.Ref("A")), "A"), anyT, true},
		{"top not below name", anyT, intT, false},
		{"base name", intT, objT, true},
		{"base name reversed", objT, intT, false},
		{"unrelated names", intT, strT, false},

		{"covariant both", either(ts.Co(nothing), ts.Co(intT)), either(ts.Co(unitT), ts.Co(objT)), true},
		{"contravariant left", either(ts.Contra(nothing), ts.Co(intT)), either(ts.Contra(unitT), ts.Co(objT)), false},
		{"contravariant flipped", either(ts.Contra(objT), ts.Co(intT)), either(ts.Contra(intT), ts.Co(objT)), true},
		{"invariant equal", ts.Full("Box", ts.Inv(intT)), ts.Full("Box", ts.Inv(intT)), true},
		{"invariant widened", ts.Full("Box", ts.Inv(intT)), ts.Full("Box", ts.Inv(objT)), false},
		{"arity mismatch", ts.Full("Box", ts.Inv(intT)), ts.Full("Box", ts.Inv(intT), ts.Inv(intT)), false},

		{"replayed ancestor", list(intT), ts.Full("Seq", ts.Co(intT)), true},
		{"replayed transitively", list(intT), iterable(objT), true},
		{"replay keeps args", list(intT), iterable(strT), false},
		{"replay multi param", ts.Full("Map", ts.Inv(strT), ts.Co(intT)),
			iterable(ts.Full("Pair", ts.Inv(strT), ts.Inv(intT))), true},
		{"replay not downward", ts.Full("Seq", ts.Co(intT)), list(intT), false},
		{"generic below name", list(intT), ts.Ref("List"), false},

		{"lambda pair", lam(list(ts.Ref("A")), "A"), lam(ts.Full("Seq", ts.Co(ts.Ref("X"))), "X"), true},
		{"lambda pair reversed", lam(ts.Full("Seq", ts.Co(ts.Ref("X"))), "X"), lam(list(ts.Ref("A")), "A"), false},
		{"lambda arity", lam(list(ts.Ref("A")), "A", "B"), lam(list(ts.Ref("A")), "A"), false},
		{"applied below lambda", list(ts.Ref("%0")), lam(ts.Full("Seq", ts.Co(ts.Ref("A"))), "A"), true},

		{"diamond", ts.Ref("CatDog"), ts.Ref("Animal"), true},
		{"sibling", ts.Ref("Cat"), ts.Ref("Dog"), false},
		{"into intersection", ts.Ref("CatDog"), ts.IntersectionReference{Members: []ts.AppliedNamedReference{ts.Ref("Cat"), ts.Ref("Dog")}}, true},
		{"not into intersection", ts.Ref("Cat"), ts.IntersectionReference{Members: []ts.AppliedNamedReference{ts.Ref("Cat"), ts.Ref("Dog")}}, false},
		{"out of intersection", ts.IntersectionReference{Members: []ts.AppliedNamedReference{ts.Ref("Cat"), strT}}, ts.Ref("Animal"), true},
		{"intersection of nothing related", ts.IntersectionReference{Members: []ts.AppliedNamedReference{intT, strT}}, ts.Ref("Animal"), false},

		{"abstract upper bound", ts.NameReference{Name: "T", Bounds: ts.Defined(nothing, intT)}, objT, true},
		{"abstract upper bound fails", ts.NameReference{Name: "T", Bounds: ts.Defined(nothing, objT)}, intT, false},
		{"abstract lower bound", intT, ts.NameReference{Name: "U", Bounds: ts.Defined(intT, anyT)}, true},
		{"abstract same name", ts.NameReference{Name: "T", Bounds: ts.Defined(nothing, intT)}, ts.NameReference{Name: "T", Bounds: ts.Defined(nothing, intT)}, true},
		{"abstract into generic", ts.NameReference{Name: "T", Bounds: ts.Defined(nothing, list(intT))}, iterable(intT), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.IsSubtype(tt.self, tt.other); got != tt.want {
				t.Errorf("IsSubtype(%s, %s) = %v, want %v", tt.self, tt.other, got, tt.want)
			}
		})
	}
}

func TestIsSubtypeRefinements(t *testing.T) {
	e := NewEngine(collections(t))
	refine := func(base ts.AppliedReference, decls ...ts.RefinementDecl) ts.Tag {
		return ts.Refinement{Base: base, Decls: decls}
	}
	sizeInt := ts.Signature{Name: "size", Output: intT}
	sizeObj := ts.Signature{Name: "size", Output: objT}
	putObj := ts.Signature{Name: "put", Inputs: []ts.Tag{objT}, Output: unitT}
	putInt := ts.Signature{Name: "put", Inputs: []ts.Tag{intT}, Output: unitT}
	elemInt := ts.TypeMember{Name: "Elem", Bound: intT}
	elemObj := ts.TypeMember{Name: "Elem", Bound: objT}

	tests := []struct {
		name        string
		self, other ts.Tag
		want        bool
	}{
		{"below own base", refine(ts.Ref("Cat"), sizeInt), ts.Ref("Cat"), true},
		{"below base ancestor", refine(ts.Ref("Cat"), sizeInt), ts.Ref("Animal"), true},
		{"base not below refinement", ts.Ref("Cat"), refine(ts.Ref("Cat"), sizeInt), false},
		{"covariant output", refine(ts.Ref("Cat"), sizeInt), refine(ts.Ref("Animal"), sizeObj), true},
		{"covariant output reversed", refine(ts.Ref("Cat"), sizeObj), refine(ts.Ref("Cat"), sizeInt), false},
		{"contravariant input", refine(ts.Ref("Cat"), putObj), refine(ts.Ref("Cat"), putInt), true},
		{"contravariant input reversed", refine(ts.Ref("Cat"), putInt), refine(ts.Ref("Cat"), putObj), false},
		{"type member bound", refine(ts.Ref("Cat"), elemInt, sizeInt), refine(ts.Ref("Cat"), elemObj), true},
		{"missing declaration", refine(ts.Ref("Cat"), sizeInt), refine(ts.Ref("Cat"), sizeInt, elemInt), false},
		{"kind of declaration", refine(ts.Ref("Cat"), ts.TypeMember{Name: "size", Bound: intT}), refine(ts.Ref("Cat"), sizeInt), false},
		{"abstract bounded by refinement", ts.NameReference{Name: "T", Bounds: ts.Defined(nothing, refine(ts.Ref("Cat"), sizeInt))}, refine(ts.Ref("Animal"), sizeObj), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.IsSubtype(tt.self, tt.other); got != tt.want {
				t.Errorf("IsSubtype(%s, %s) = %v, want %v", tt.self, tt.other, got, tt.want)
			}
		})
	}
}

func TestIsSubtypeCycles(t *testing.T) {
	reg, err := NewBuilder().
		AddBaseTypes(ts.Ref("A"), ts.Ref("B")).
		AddBaseTypes(ts.Ref("B"), ts.Ref("A")).
		AddBaseNames("X", "Y").
		AddBaseNames("Y", "X").
		Freeze()
	if err != nil {
		t.Fatalf("Freeze() error = %v", err)
	}
	e := NewEngine(reg)

	tests := []struct {
		self, other string
		want        bool
	}{
		{"A", "B", true},
		{"B", "A", true},
		{"A", "C", false},
		{"X", "Y", true},
		{"X", "C", false},
	}
	for _, tt := range tests {
		if got := e.IsSubtype(ts.Ref(tt.self), ts.Ref(tt.other)); got != tt.want {
			t.Errorf("IsSubtype(%s, %s) = %v, want %v", tt.self, tt.other, got, tt.want)
		}
	}
	if got := e.IsSubtype(ts.Ref("A"), ts.Full("C", ts.Co(intT))); got {
		t.Errorf("IsSubtype(A, C[+Int]) = true, want false")
	}
}

func chain(t *testing.T, n int) *Registry {
	t.Helper()
	b := NewBuilder()
	for i := 0; i < n; i++ {
		b.AddBaseTypes(ts.Ref(fmt.Sprintf("N%d", i)), ts.Ref(fmt.Sprintf("N%d", i+1)))
	}
	r, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze() error = %v", err)
	}
	return r
}

func TestMaxVisited(t *testing.T) {
	reg := chain(t, 10)
	from, to := ts.Ref("N0"), ts.Ref("N10")

	if !NewEngine(reg).IsSubtype(from, to) {
		t.Errorf("IsSubtype(N0, N10) = false with default limit")
	}
	if NewEngine(reg, WithMaxVisited(3)).IsSubtype(from, to) {
		t.Errorf("IsSubtype(N0, N10) = true with limit 3")
	}
}

func TestMarkers(t *testing.T) {
	e := NewEngine(Empty(), WithMarkers("Bot", "Top"))
	if e.IsSubtype(nothing, intT) {
		t.Errorf("Nothing should not be bottom when markers are overridden")
	}
	if !e.IsSubtype(ts.Ref("Bot"), intT) {
		t.Errorf("Bot <: Int = false")
	}
	if !e.IsSubtype(intT, ts.Ref("Top")) {
		t.Errorf("Int <: Top = false")
	}
}

func TestCacheAgreesWithUncached(t *testing.T) {
	reg := collections(t)
	cached := NewEngine(reg)
	uncached := NewEngine(reg, WithCache(false))
	pairs := [][2]ts.Tag{
		{ts.Full("List", ts.Co(intT)), ts.Full("Iterable", ts.Co(objT))},
		{ts.Ref("Cat"), ts.Ref("Dog")},
		{intT, objT},
	}
	for round := 0; round < 2; round++ {
		for _, p := range pairs {
			a, b := cached.IsSubtype(p[0], p[1]), uncached.IsSubtype(p[0], p[1])
			if a != b {
				t.Errorf("round %d: %s <: %s cached = %v, uncached = %v", round, p[0], p[1], a, b)
			}
		}
	}
}

func TestConcurrentQueries(t *testing.T) {
	e := NewEngine(collections(t))
	self := ts.Full("Map", ts.Inv(strT), ts.Co(intT))
	other := ts.Full("Iterable", ts.Co(ts.Full("Pair", ts.Inv(strT), ts.Inv(intT))))

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !e.IsSubtype(self, other) {
				errs <- "IsSubtype returned false"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	e := NewEngine(collections(t), WithLogger(log.New(&buf, "", 0)))
	e.IsSubtype(intT, objT)
	if !strings.Contains(buf.String(), "Int <: Object ?") {
		t.Errorf("trace = %q, want a step for Int <: Object", buf.String())
	}
}

func TestEqualImpliesMutualSubtype(t *testing.T) {
	e := NewEngine(collections(t))
	a := lam(ts.Full("Map", ts.Inv(ts.Ref("K")), ts.Co(ts.Ref("V"))), "K", "V")
	b := lam(ts.Full("Map", ts.Inv(ts.Ref("X")), ts.Co(ts.Ref("Y"))), "X", "Y")
	if !e.Equal(a, b) {
		t.Fatalf("Equal(%s, %s) = false", a, b)
	}
	if !e.IsSubtype(a, b) || !e.IsSubtype(b, a) {
		t.Errorf("alpha-equivalent lambdas are not mutual subtypes")
	}
}

func TestStructuralAncestor(t *testing.T) {
	area := ts.Signature{Name: "Area", Output: ts.Ref("float64")}
	reg, err := NewBuilder().
		AddBaseTypes(ts.Ref("Shape"), ts.Refinement{Base: anyT, Decls: []ts.RefinementDecl{area}}).
		AddBaseTypes(ts.Ref("Square"), ts.Ref("Shape")).
		Freeze()
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(reg)
	want := ts.Refinement{Base: anyT, Decls: []ts.RefinementDecl{area}}
	if !e.IsSubtype(ts.Ref("Square"), want) {
		t.Errorf("Square <: %s = false", want)
	}
	other := ts.Refinement{Base: anyT, Decls: []ts.RefinementDecl{ts.Signature{Name: "Perimeter", Output: ts.Ref("float64")}}}
	if e.IsSubtype(ts.Ref("Square"), other) {
		t.Errorf("Square <: %s = true", other)
	}
}

func TestParentUsesSomeChildParams(t *testing.T) {
	reg, err := NewBuilder().
		AddBaseTypes(
			lam(ts.Full("Map", ts.Inv(ts.Ref("K")), ts.Co(ts.Ref("V"))), "K", "V"),
			lam(ts.Full("Iterable", ts.Co(ts.Ref("V"))), "V"),
		).
		AddBaseTypes(
			lam(ts.Full("Table", ts.Inv(ts.Ref("R")), ts.Inv(ts.Ref("C"))), "R", "C"),
			lam(ts.Full("Index", ts.Inv(ts.Ref("C")), ts.Inv(ts.Ref("R"))), "C", "R"),
		).
		Freeze()
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(reg)
	m := ts.Full("Map", ts.Inv(strT), ts.Co(intT))
	table := ts.Full("Table", ts.Inv(strT), ts.Inv(intT))

	tests := []struct {
		name        string
		self, other ts.Tag
		want        bool
	}{
		{"value slot", m, ts.Full("Iterable", ts.Co(intT)), true},
		{"key slot", m, ts.Full("Iterable", ts.Co(strT)), false},
		{"swapped by name", table, ts.Full("Index", ts.Inv(intT), ts.Inv(strT)), true},
		{"swapped by position", table, ts.Full("Index", ts.Inv(strT), ts.Inv(intT)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.IsSubtype(tt.self, tt.other); got != tt.want {
				t.Errorf("IsSubtype(%s, %s) = %v, want %v", tt.self, tt.other, got, tt.want)
			}
		})
	}
}

func TestLookupBelowLambda(t *testing.T) {
	g := lam(ts.Full("G", ts.Co(ts.Ref("X"))), "X")
	reg, err := NewBuilder().
		AddBaseTypes(ts.Full("F", ts.Inv(g)), ts.Ref("Parent")).
		Freeze()
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(reg)
	if !e.IsSubtype(ts.Full("F", ts.Inv(g)), ts.Ref("Parent")) {
		t.Fatalf("F[%s] <: Parent = false", g)
	}

	self := lam(ts.Full("H", ts.Inv(ts.Ref("A")), ts.Co(ts.Full("F", ts.Inv(g)))), "A")
	other := lam(ts.Full("H", ts.Inv(ts.Ref("A")), ts.Co(ts.Ref("Parent"))), "A")
	if !e.IsSubtype(self, other) {
		t.Errorf("IsSubtype(%s, %s) = false", self, other)
	}

	// Invariant slots compare nested lambdas by normal form.
	applied := ts.Full("W", ts.Inv(g))
	wrapped := lam(ts.Full("W", ts.Inv(g)), "A")
	if !e.IsSubtype(applied, wrapped) {
		t.Errorf("IsSubtype(%s, %s) = false", applied, wrapped)
	}
}
