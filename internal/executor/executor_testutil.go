package executor

import (
	"encoding/json"
	"testing"

	schema "github.com/hanpama/graphexec/internal/schema"
)

// mustBuildSchema builds an executable schema from SDL and fails the test on
// error.
func mustBuildSchema(t *testing.T, sdl string) *schema.Schema {
	t.Helper()
	s, err := schema.BuildSDL("test.graphql", sdl)
	if err != nil {
		t.Fatalf("schema build error: %v", err)
	}
	return s
}

// mustJSON marshals v and fails the test on error. Used to compare response
// trees including key order.
func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	return string(b)
}
