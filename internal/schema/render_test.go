package schema

import (
	"strings"
	"testing"
)

const renderSDL = `
"""
The root of all queries.
"""
type Query {
  search(term: String!, limit: Int = 10): [Result!]
  old: Int @deprecated(reason: "gone")
}
interface Named { name: String }
type Book implements Named { name: String pages: Int }
type Author implements Named { name: String }
union Result = Book | Author
enum Format { HARDCOVER PAPERBACK }
input SearchOpts @oneOf { byTitle: String byAuthor: String }
scalar ISBN @specifiedBy(url: "https://www.isbn-international.org/")
directive @cache(ttl: Int = 60) on FIELD_DEFINITION
`

func TestRenderContainsDefinitions(t *testing.T) {
	s := mustBuild(t, renderSDL)
	out := Render(s)

	for _, want := range []string{
		"type Query {",
		"search(term: String!, limit: Int = 10): [Result!]",
		`old: Int @deprecated(reason: "gone")`,
		"type Book implements Named {",
		"union Result = Book | Author",
		"enum Format {",
		"input SearchOpts @oneOf {",
		`scalar ISBN @specifiedBy(url: "https://www.isbn-international.org/")`,
		"directive @cache(ttl: Int = 60) on FIELD_DEFINITION",
		"The root of all queries.",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered SDL missing %q:\n%s", want, out)
		}
	}
	// Built-ins never render.
	for _, absent := range []string{"scalar String", "directive @skip", "directive @stream"} {
		if strings.Contains(out, absent) {
			t.Fatalf("rendered SDL must not contain %q:\n%s", absent, out)
		}
	}
}

// Rendered SDL must parse back into an equivalent schema.
func TestRenderRoundTrip(t *testing.T) {
	first := mustBuild(t, renderSDL)
	out := Render(first)

	second, err := BuildSDL("roundtrip.graphql", out)
	if err != nil {
		t.Fatalf("re-parse rendered SDL: %v", err)
	}
	if Render(second) != out {
		t.Fatalf("render not stable:\nfirst:\n%s\nsecond:\n%s", out, Render(second))
	}
	if len(second.Types) != len(first.Types) {
		t.Fatalf("type count changed: %d != %d", len(second.Types), len(first.Types))
	}
}
