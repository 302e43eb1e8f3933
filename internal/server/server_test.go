package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	executor "github.com/hanpama/graphexec/internal/executor"
	reqid "github.com/hanpama/graphexec/internal/reqid"
	schema "github.com/hanpama/graphexec/internal/schema"
)

const testSDL = `
type Query { hello: String user: User }
type User { id: ID bio: String }
`

func newTestHandler(t *testing.T, rt executor.Runtime, opts ...Option) *Handler {
	t.Helper()
	sch, err := schema.BuildSDL("test.graphql", testSDL)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	h, err := New(sch, rt, opts...)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return h
}

func postJSON(h *Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSingleRequest(t *testing.T) {
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.hello": executor.NewMockValueResolver("world"),
	})
	h := newTestHandler(t, rt)

	w := postJSON(h, `{"query":"{ hello }"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"data":{"hello":"world"}}` {
		t.Fatalf("body mismatch: %s", got)
	}
}

func TestGetRequest(t *testing.T) {
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.hello": executor.NewMockValueResolver("world"),
	})
	h := newTestHandler(t, rt)

	req := httptest.NewRequest("GET", "/?query={hello}", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"data":{"hello":"world"}}` {
		t.Fatalf("body mismatch: %s", got)
	}
}

func TestBatchRequest(t *testing.T) {
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.hello": executor.NewMockValueResolver("world"),
	})
	h := newTestHandler(t, rt)

	w := postJSON(h, `[{"query":"{ hello }"},{"query":"{ hello }"}]`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	want := `[{"data":{"hello":"world"}},{"data":{"hello":"world"}}]`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Fatalf("body mismatch: %s", got)
	}
}

func TestRequestID(t *testing.T) {
	rt := executor.NewMockRuntime(nil)
	var capturedID int64
	rt.SetResolver("Query", "hello", func(ctx context.Context, src any, args map[string]any) (any, error) {
		capturedID, _ = reqid.FromContext(ctx)
		return "world", nil
	})
	h := newTestHandler(t, rt)

	w := postJSON(h, `{"query":"{ hello }"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if capturedID == 0 {
		t.Fatal("missing request id in context")
	}
}

func TestIncrementalMultipart(t *testing.T) {
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.user": executor.NewMockValueResolver(map[string]any{"id": "1"}),
		"User.bio":   executor.NewMockValueResolver("hello"),
	})
	h := newTestHandler(t, rt)

	w := postJSON(h,
		`{"query":"{ user { id ... @defer(label: \"bio\") { bio } } }"}`,
		map[string]string{"Accept": "multipart/mixed"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "multipart/mixed") {
		t.Fatalf("content type %q", ct)
	}

	body := w.Body.String()
	if got := strings.Count(body, "--graphql\r\n"); got != 2 {
		t.Fatalf("expected 2 parts, got %d in: %s", got, body)
	}
	if !strings.Contains(body, `{"data":{"user":{"id":"1"}},"hasNext":true}`) {
		t.Fatalf("missing initial part: %s", body)
	}
	if !strings.Contains(body, `{"data":{"bio":"hello"},"path":["user"],"label":"bio","hasNext":false}`) {
		t.Fatalf("missing patch part: %s", body)
	}
	if !strings.HasSuffix(body, "--graphql--\r\n") {
		t.Fatalf("missing terminating boundary: %s", body)
	}
}

func TestIncrementalDisabledWithoutAccept(t *testing.T) {
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.user": executor.NewMockValueResolver(map[string]any{"id": "1"}),
		"User.bio":   executor.NewMockValueResolver("hello"),
	})
	h := newTestHandler(t, rt)

	// Without multipart/mixed in Accept, deferred fields are inlined.
	w := postJSON(h, `{"query":"{ user { id ... @defer { bio } } }"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"data":{"user":{"id":"1","bio":"hello"}}}` {
		t.Fatalf("body mismatch: %s", got)
	}
}

func TestCORSAndPreflight(t *testing.T) {
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.hello": executor.NewMockValueResolver("world"),
	})
	h := newTestHandler(t, rt, WithCORS("*"))

	// simple request
	w := postJSON(h, `{"query":"{ hello }"}`, map[string]string{"Origin": "http://example.com"})
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	// preflight
	pre := httptest.NewRequest("OPTIONS", "/", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	if pw.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", pw.Code)
	}
	if pw.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight missing CORS header")
	}
	if pw.Header().Get("Access-Control-Allow-Headers") != "X-Test" {
		t.Fatalf("preflight missing allow headers")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.hello": executor.NewMockValueResolver("world"),
	})
	h := newTestHandler(t, rt, WithMaxBodyBytes(10))

	w := postJSON(h, `{"query":"1234567890"}`, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", w.Code)
	}
}

func TestGraphiQLPage(t *testing.T) {
	rt := executor.NewMockRuntime(nil)
	h := newTestHandler(t, rt)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept", "text/html")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("content type %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "GraphiQL") {
		t.Fatal("expected the GraphiQL page")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rt := executor.NewMockRuntime(nil)
	h := newTestHandler(t, rt)

	req := httptest.NewRequest("PUT", "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", w.Code)
	}
}
