package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Path addresses a location in the response tree. Elements are response keys
// (string) and list indices (int).
type Path []any

// With returns a copy of the path extended with one element.
func (p Path) With(elem any) Path {
	next := make(Path, len(p)+1)
	copy(next, p)
	next[len(p)] = elem
	return next
}

// String renders the path in dotted notation, e.g. "items.[1].name".
func (p Path) String() string {
	var b bytes.Buffer
	for i, elem := range p {
		if i > 0 {
			b.WriteByte('.')
		}
		switch v := elem.(type) {
		case string:
			b.WriteString(v)
		case int:
			fmt.Fprintf(&b, "[%d]", v)
		default:
			fmt.Fprint(&b, v)
		}
	}
	return b.String()
}

// Location is a source position in the query document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLError is a located execution error.
type GraphQLError struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string { return e.Message }

// Result is the initial (or only) response of a request.
// HasNext is set only when the request produced incremental work.
type Result struct {
	Data       any            `json:"data"`
	Errors     []GraphQLError `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
	HasNext    *bool          `json:"hasNext,omitempty"`
}

// Patch is one incremental unit of the response, addressed by Path.
// AtIndex is set only by the batching bundler (experimental): Data is then a
// slice of consecutive stream items starting at that list index.
type Patch struct {
	Data       any            `json:"data"`
	Path       Path           `json:"path"`
	Label      string         `json:"label,omitempty"`
	HasNext    bool           `json:"hasNext"`
	Errors     []GraphQLError `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
	AtIndex    *int           `json:"atIndex,omitempty"`

	// streamItem marks a patch carrying one streamed list item. A defer patch
	// addressed at a list index also ends in an index, so the bundler keys
	// chunk eligibility on this instead of the path shape.
	streamItem bool
}

// RequestResult is the outcome of ExecuteRequest: the initial result plus,
// when deferred or streamed work remains, the patch sequence delivering it.
type RequestResult struct {
	Result  *Result
	Patches *PatchStream
}

// OrderedMap is a JSON object that preserves response key order. Selection
// sets settle concurrently, so insertion happens by pre-assigned slot rather
// than completion order.
type OrderedMap struct {
	keys   []string
	values map[string]any
}

// NewOrderedMap returns an empty ordered map.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: map[string]any{}}
}

// Set stores the value under key, keeping the key's first-insertion position.
func (m *OrderedMap) Set(key string, value any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value stored under key.
func (m *OrderedMap) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Len returns the number of keys.
func (m *OrderedMap) Len() int { return len(m.keys) }

// Keys returns the keys in first-insertion order.
func (m *OrderedMap) Keys() []string { return m.keys }

// MarshalJSON writes the object with keys in first-insertion order.
func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, key := range m.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		vb, err := json.Marshal(m.values[key])
		if err != nil {
			return nil, err
		}
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}
