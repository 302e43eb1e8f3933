package events

import "time"

// GraphQLStart is emitted before executing a GraphQL operation.
type GraphQLStart struct {
	Query         string
	OperationName string
	OperationType string
}

// GraphQLFinish is emitted after the initial result of an operation is
// produced. Incremental reports whether a patch phase follows.
type GraphQLFinish struct {
	Query         string
	OperationName string
	OperationType string
	ErrorCount    int
	Incremental   bool
	Duration      time.Duration
}

// PatchDelivered is emitted for each incremental patch written to a client.
// Seq is the position of the patch within its response, starting at 0.
type PatchDelivered struct {
	Label   string
	Path    string
	Seq     int
	HasNext bool
}
