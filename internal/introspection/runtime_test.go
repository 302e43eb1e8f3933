package introspection

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	executor "github.com/hanpama/graphexec/internal/executor"
	schema "github.com/hanpama/graphexec/internal/schema"
)

const testSDL = `
type Query {
  hello: String
  old: Int @deprecated(reason: "use hello")
}
type User { id: ID! name: String }
`

func buildSchema(t *testing.T) *schema.Schema {
	t.Helper()
	sch, err := schema.BuildSDL("test.graphql", testSDL)
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	return sch
}

func execQuery(t *testing.T, query string) string {
	t.Helper()
	sch := buildSchema(t)
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.hello": executor.NewMockValueResolver("world"),
	})
	w := Wrap(sch, rt)
	exec := executor.New(w.Schema, w.Runtime)
	res := exec.ExecuteRequestSync(context.Background(), executor.Request{Query: query})
	if len(res.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	b, err := json.Marshal(res.Data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestSchemaIntrospection(t *testing.T) {
	got := execQuery(t, `{ __schema { queryType { name } mutationType { name } } }`)
	want := `{"__schema":{"queryType":{"name":"Query"},"mutationType":null}}`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestTypeIntrospection(t *testing.T) {
	got := execQuery(t, `{
	  __type(name: "User") {
	    kind name
	    fields { name type { kind ofType { name kind } } }
	  }
	}`)
	want := `{"__type":{"kind":"OBJECT","name":"User","fields":[` +
		`{"name":"id","type":{"kind":"NON_NULL","ofType":{"name":"ID","kind":"SCALAR"}}},` +
		`{"name":"name","type":{"kind":"SCALAR","ofType":null}}]}}`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestUnknownTypeIsNull(t *testing.T) {
	got := execQuery(t, `{ __type(name: "Nope") { name } }`)
	if got != `{"__type":null}` {
		t.Fatalf("got %s", got)
	}
}

func TestDeprecatedFieldsFilter(t *testing.T) {
	hidden := execQuery(t, `{ __type(name: "Query") { fields { name } } }`)
	if strings.Contains(hidden, `"old"`) {
		t.Fatalf("deprecated field leaked: %s", hidden)
	}
	shown := execQuery(t, `{ __type(name: "Query") { fields(includeDeprecated: true) { name deprecationReason } } }`)
	if !strings.Contains(shown, `"old"`) || !strings.Contains(shown, `"use hello"`) {
		t.Fatalf("deprecated field missing: %s", shown)
	}
}

func TestDirectivesListed(t *testing.T) {
	got := execQuery(t, `{ __schema { directives { name } } }`)
	for _, name := range []string{`"skip"`, `"include"`, `"defer"`, `"stream"`} {
		if !strings.Contains(got, name) {
			t.Fatalf("missing directive %s in %s", name, got)
		}
	}
}

func TestBaseFieldsStillResolve(t *testing.T) {
	got := execQuery(t, `{ hello __typename }`)
	if got != `{"hello":"world","__typename":"Query"}` {
		t.Fatalf("got %s", got)
	}
}
