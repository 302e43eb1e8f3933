package events

import "time"

// HTTPStart is emitted when the GraphQL endpoint receives a request.
// The publishing context carries the request ID.
type HTTPStart struct {
	Method    string
	Path      string
	UserAgent string
}

// HTTPFinish is emitted after the response has been written.
type HTTPFinish struct {
	Method   string
	Path     string
	Status   int
	Duration time.Duration
}
