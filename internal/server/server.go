package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	eventbus "github.com/hanpama/graphexec/internal/eventbus"
	events "github.com/hanpama/graphexec/internal/events"
	executor "github.com/hanpama/graphexec/internal/executor"
	language "github.com/hanpama/graphexec/internal/language"
	reqid "github.com/hanpama/graphexec/internal/reqid"
	schema "github.com/hanpama/graphexec/internal/schema"
	"go.uber.org/zap"
)

// Handler is an http.Handler that serves a GraphQL endpoint.
// It parses requests, runs the executor, and formats responses. Clients that
// accept multipart/mixed receive deferred and streamed payloads as they
// become ready; everyone else gets a single complete JSON document.
type Handler struct {
	exec *executor.Executor
	log  *zap.Logger
	opt  Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// GraphiQL enables the in-browser IDE when true.
	GraphiQL bool

	// Logger receives request and patch-delivery logs. Defaults to a no-op.
	Logger *zap.Logger

	// Executor options are passed through to executor.New.
	Executor []executor.Option
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Logger = l } }
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(o *Options) { o.Executor = append(o.Executor, opts...) }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

func WithGraphiQL(enable bool) Option { return func(o *Options) { o.GraphiQL = enable } }

// New creates a new GraphQL HTTP handler using the given schema and runtime.
func New(sch *schema.Schema, runtime executor.Runtime, opts ...Option) (*Handler, error) {
	op := Options{Timeout: 10 * time.Second, GraphiQL: true}
	for _, f := range opts {
		f(&op)
	}
	if op.Logger == nil {
		op.Logger = zap.NewNop()
	}
	exec := executor.New(sch, runtime, op.Executor...)
	return &Handler{exec: exec, log: op.Logger, opt: op}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Method: r.Method, Path: r.URL.Path, UserAgent: r.UserAgent()})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Method: r.Method, Path: r.URL.Path, Status: status, Duration: time.Since(start)})
		h.log.Debug("http request served",
			zap.Int64("requestId", rid),
			zap.String("method", r.Method),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)))
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse("method not allowed"), h.opt.Pretty)
		return
	}

	// Serve GraphiQL IDE when enabled and the client expects HTML.
	if r.Method == http.MethodGet && h.opt.GraphiQL && acceptsHTML(r.Header.Get("Accept")) && r.URL.Query().Get("query") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(graphiqlPage)
		return
	}

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		if berr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(berr.Message), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if batch != nil {
		// Batched requests are always delivered as one complete document each.
		out := make([]any, len(batch))
		for i := range batch {
			out[i] = h.executeSync(ctx, batch[i])
		}
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}

	if acceptsIncremental(r.Header.Get("Accept")) {
		h.executeIncremental(ctx, w, req)
		return
	}

	writeJSON(w, status, h.executeSync(ctx, req), h.opt.Pretty)
}

// executeSync runs one request with incremental delivery disabled.
func (h *Handler) executeSync(ctx context.Context, req GraphQLRequest) *executor.Result {
	opType := operationType(req)
	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{Query: req.Query, OperationName: req.OperationName, OperationType: opType})
	result := h.exec.ExecuteRequestSync(ctx, executor.Request{
		Query:         req.Query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
		Extensions:    req.Extensions,
	})
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		ErrorCount:    len(result.Errors),
		Duration:      time.Since(start),
	})
	h.logFinish(req, opType, len(result.Errors), false, time.Since(start))
	return result
}

// executeIncremental runs one request with incremental delivery enabled and
// writes a multipart/mixed response when the request produced patches. The
// initial result goes out as the first part so clients render it immediately.
func (h *Handler) executeIncremental(ctx context.Context, w http.ResponseWriter, req GraphQLRequest) {
	opType := operationType(req)
	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{Query: req.Query, OperationName: req.OperationName, OperationType: opType})
	rr := h.exec.ExecuteRequest(ctx, executor.Request{
		Query:         req.Query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
		Extensions:    req.Extensions,
	})
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		ErrorCount:    len(rr.Result.Errors),
		Incremental:   rr.Patches != nil,
		Duration:      time.Since(start),
	})
	h.logFinish(req, opType, len(rr.Result.Errors), rr.Patches != nil, time.Since(start))

	if rr.Patches == nil {
		writeJSON(w, http.StatusOK, rr.Result, h.opt.Pretty)
		return
	}
	defer rr.Patches.Stop()

	w.Header().Set("Content-Type", `multipart/mixed; boundary="`+multipartBoundary+`"; deferSpec=20220824`)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	writePart(w, rr.Result)
	if flusher != nil {
		flusher.Flush()
	}

	seq := 0
	for {
		p, ok := rr.Patches.Next(ctx)
		if !ok {
			break
		}
		writePart(w, p)
		if flusher != nil {
			flusher.Flush()
		}
		eventbus.Publish(ctx, events.PatchDelivered{
			Label:   p.Label,
			Path:    p.Path.String(),
			Seq:     seq,
			HasNext: p.HasNext,
		})
		seq++
	}
	_, _ = io.WriteString(w, "--"+multipartBoundary+"--\r\n")
}

func (h *Handler) logFinish(req GraphQLRequest, opType string, errCount int, incremental bool, d time.Duration) {
	h.log.Info("graphql request executed",
		zap.String("operationName", req.OperationName),
		zap.String("operationType", opType),
		zap.Int("errors", errCount),
		zap.Bool("incremental", incremental),
		zap.Duration("duration", d))
}

// operationType reports the operation kind for event payloads. Parse failures
// surface through the executor, so a best-effort empty string is fine here.
func operationType(req GraphQLRequest) string {
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return ""
	}
	opDef := doc.Operations.ForName(req.OperationName)
	if opDef == nil && len(doc.Operations) == 1 {
		opDef = doc.Operations[0]
	}
	if opDef == nil {
		return ""
	}
	return string(opDef.Operation)
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, *language.Error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, &language.Error{Message: "missing 'query'"}
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, &language.Error{Message: "invalid 'variables' JSON"}
			}
		}
		op := r.URL.Query().Get("operationName")
		return GraphQLRequest{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct == "" || ct == "application/json" || startsWith(ct, "application/json;") {
		reader := io.Reader(r.Body)
		if maxBody > 0 {
			reader = io.LimitReader(r.Body, maxBody+1)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			return GraphQLRequest{}, nil, &language.Error{Message: "failed to read body"}
		}
		defer r.Body.Close()
		if maxBody > 0 && int64(len(body)) > maxBody {
			return GraphQLRequest{}, nil, &language.Error{Message: errBodyTooLargeMessage}
		}

		// Try array (batch)
		var arr []GraphQLRequest
		if len(body) > 0 && body[0] == '[' {
			if err := json.Unmarshal(body, &arr); err != nil {
				return GraphQLRequest{}, nil, &language.Error{Message: "invalid JSON"}
			}
			if len(arr) == 0 {
				return GraphQLRequest{}, nil, &language.Error{Message: "empty batch"}
			}
			return GraphQLRequest{}, arr, nil
		}
		// Single
		var req GraphQLRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return GraphQLRequest{}, nil, &language.Error{Message: "invalid JSON"}
		}
		if req.Query == "" {
			return GraphQLRequest{}, nil, &language.Error{Message: "missing 'query'"}
		}
		if req.Variables == nil {
			req.Variables = map[string]any{}
		}
		return req, nil, nil
	}

	return GraphQLRequest{}, nil, &language.Error{Message: "unsupported Content-Type"}
}

// ------------------ Response formatting ------------------

const multipartBoundary = "graphql"

// writePart writes one multipart/mixed part holding a JSON document.
func writePart(w io.Writer, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		body = []byte(`{"data":null,"errors":[{"message":"failed to encode response"}]}`)
	}
	_, _ = io.WriteString(w, "--"+multipartBoundary+"\r\nContent-Type: application/json; charset=utf-8\r\n\r\n")
	_, _ = w.Write(body)
	_, _ = io.WriteString(w, "\r\n")
}

func errorResponse(message string) *executor.Result {
	return &executor.Result{Errors: []executor.GraphQLError{{Message: message}}}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func startsWith(s, prefix string) bool { return len(s) >= len(prefix) && s[:len(prefix)] == prefix }

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func acceptsHTML(accept string) bool {
	if accept == "" {
		return false
	}
	parts := strings.Split(accept, ",")
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if startsWith(p, "text/html") || p == "*/*" {
			return true
		}
	}
	return false
}

func acceptsIncremental(accept string) bool {
	for _, p := range strings.Split(accept, ",") {
		if startsWith(strings.TrimSpace(p), "multipart/mixed") {
			return true
		}
	}
	return false
}
