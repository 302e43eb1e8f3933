package executor

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const collectSDL = `
type Query {
  hero: Character
}

interface Character {
  name: String
  friends: [Character]
}

type Human implements Character {
  name: String
  friends: [Character]
  homePlanet: String
}

type Droid implements Character {
  name: String
  friends: [Character]
  primaryFunction: String
}
`

func heroRuntime() *MockRuntime {
	return NewMockRuntime(map[string]MockResolver{
		"Query.hero": NewMockValueResolver(map[string]any{
			"__typename": "Droid",
			"name":       "R2-D2",
		}),
		"Droid.primaryFunction": NewMockValueResolver("Astromech"),
		"Human.homePlanet":      NewMockValueResolver("Tatooine"),
	})
}

func TestCollect_SkipAndInclude(t *testing.T) {
	sch := mustBuildSchema(t, collectSDL)
	exec := New(sch, heroRuntime())

	cases := []struct {
		name  string
		query string
		vars  map[string]any
		want  string
	}{
		{
			name:  "skip true removes the field",
			query: `{ hero { name @skip(if: true) } }`,
			want:  `{"hero":{}}`,
		},
		{
			name:  "include false removes the field",
			query: `{ hero { name @include(if: false) } }`,
			want:  `{"hero":{}}`,
		},
		{
			name:  "skip wins over include",
			query: `{ hero { name @skip(if: true) @include(if: true) } }`,
			want:  `{"hero":{}}`,
		},
		{
			name:  "skip false keeps the field",
			query: `{ hero { name @skip(if: false) } }`,
			want:  `{"hero":{"name":"R2-D2"}}`,
		},
		{
			name:  "variable controlled",
			query: `query ($cond: Boolean!) { hero { name @include(if: $cond) } }`,
			vars:  map[string]any{"cond": false},
			want:  `{"hero":{}}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := exec.ExecuteRequestSync(context.Background(), Request{Query: tc.query, Variables: tc.vars})
			if len(res.Errors) != 0 {
				t.Fatalf("unexpected errors: %v", res.Errors)
			}
			if got := mustJSON(t, res.Data); got != tc.want {
				t.Fatalf("data mismatch: got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCollect_TypeConditions(t *testing.T) {
	sch := mustBuildSchema(t, collectSDL)
	exec := New(sch, heroRuntime())

	query := `{
	  hero {
	    name
	    ... on Droid { primaryFunction }
	    ... on Human { homePlanet }
	  }
	}`
	res := exec.ExecuteRequestSync(context.Background(), Request{Query: query})
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	want := `{"hero":{"name":"R2-D2","primaryFunction":"Astromech"}}`
	if got := mustJSON(t, res.Data); got != want {
		t.Fatalf("data mismatch: got %s, want %s", got, want)
	}
}

func TestCollect_FragmentCycleVisitedOnce(t *testing.T) {
	sch := mustBuildSchema(t, collectSDL)
	exec := New(sch, heroRuntime())

	// nameParts spreads itself; the second visit must be ignored.
	query := `
	{ hero { ...nameParts } }
	fragment nameParts on Character {
	  name
	  ...nameParts
	}`
	res := exec.ExecuteRequestSync(context.Background(), Request{Query: query})
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	want := `{"hero":{"name":"R2-D2"}}`
	if got := mustJSON(t, res.Data); got != want {
		t.Fatalf("data mismatch: got %s, want %s", got, want)
	}
}

func TestCollect_DeferredSpreadIsIndependentOfVisited(t *testing.T) {
	sch := mustBuildSchema(t, collectSDL)
	exec := New(sch, heroRuntime())

	// The fragment is spread once inline and once deferred; the deferred
	// occurrence must still produce a payload.
	query := `
	{ hero { ...nameParts ...nameParts @defer(label: "again") } }
	fragment nameParts on Character { name }`

	rr := exec.ExecuteRequest(context.Background(), Request{Query: query})
	if rr.Patches == nil {
		t.Fatal("expected incremental delivery")
	}
	patches := rr.Patches.Drain(context.Background())
	if len(patches) != 1 {
		t.Fatalf("expected 1 patch, got %d", len(patches))
	}
	if patches[0].Label != "again" {
		t.Fatalf("label mismatch: got %q", patches[0].Label)
	}
	want := `{"name":"R2-D2"}`
	if got := mustJSON(t, patches[0].Data); got != want {
		t.Fatalf("patch data mismatch: got %s, want %s", got, want)
	}
}

func TestCollect_FieldMergingAcrossFragments(t *testing.T) {
	sch := mustBuildSchema(t, collectSDL)
	rt := heroRuntime()
	exec := New(sch, rt)

	query := `
	{ hero { name ...withName } }
	fragment withName on Character { name }`
	res := exec.ExecuteRequestSync(context.Background(), Request{Query: query})
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}

	// Merged selections resolve the field once.
	var nameCalls []Call
	for _, c := range rt.GetCalls() {
		if c.Field == "name" {
			nameCalls = append(nameCalls, c)
		}
	}
	if diff := cmp.Diff(1, len(nameCalls)); diff != "" {
		t.Fatalf("name resolved more than once:\n%s", diff)
	}
}

func TestCollect_MergedSubfieldsPerRuntimeType(t *testing.T) {
	sch := mustBuildSchema(t, `
	type Query { items: [Node] }
	interface Node { child: Child }
	type A implements Node { child: Child }
	type B implements Node { child: Child }
	type Child { x: String a: String b: String }
	`)
	child := map[string]any{"x": "x", "a": "a", "b": "b"}
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.items": NewMockValueResolver([]any{
			map[string]any{"__typename": "A", "child": child},
			map[string]any{"__typename": "B", "child": child},
		}),
	})
	exec := New(sch, rt)

	// Both items merge the base fragment's child node with a per-type one.
	// The merged node lists share a first node but diverge after it, so the
	// sub-selections must not be served from one another's memo entry.
	query := `
	{ items { ...base ... on A { child { a } } ... on B { child { b } } } }
	fragment base on Node { child { x } }`
	res := exec.ExecuteRequestSync(context.Background(), Request{Query: query})
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	want := `{"items":[{"child":{"x":"x","a":"a"}},{"child":{"x":"x","b":"b"}}]}`
	if got := mustJSON(t, res.Data); got != want {
		t.Fatalf("data mismatch: got %s, want %s", got, want)
	}
}

func TestCollect_DeferDisabledInlinesFragment(t *testing.T) {
	sch := mustBuildSchema(t, collectSDL)
	exec := New(sch, heroRuntime(), WithoutIncremental())

	query := `{ hero { name ... @defer { __typename } } }`
	rr := exec.ExecuteRequest(context.Background(), Request{Query: query})
	if rr.Patches != nil {
		t.Fatal("expected no incremental delivery")
	}
	want := `{"hero":{"name":"R2-D2","__typename":"Droid"}}`
	if got := mustJSON(t, rr.Result.Data); got != want {
		t.Fatalf("data mismatch: got %s, want %s", got, want)
	}
}

func TestCollect_DeferIfFalseInlines(t *testing.T) {
	sch := mustBuildSchema(t, collectSDL)
	exec := New(sch, heroRuntime())

	query := `{ hero { name ... @defer(if: false) { __typename } } }`
	rr := exec.ExecuteRequest(context.Background(), Request{Query: query})
	if rr.Patches != nil {
		t.Fatal("expected no incremental delivery")
	}
	want := `{"hero":{"name":"R2-D2","__typename":"Droid"}}`
	if got := mustJSON(t, rr.Result.Data); got != want {
		t.Fatalf("data mismatch: got %s, want %s", got, want)
	}
}
