package model

// OpKind identifies the kind of a memory operation
type OpKind string

const (
	OpStore  OpKind = "store"
	OpRecall OpKind = "recall"
)

// Valid reports whether the kind is one of the closed set of operations.
func (k OpKind) Valid() bool {
	return k == OpStore || k == OpRecall
}

// Operation is a single output of the decision policy. For store operations
// Payload is the normalized note text to persist; for recall operations it is
// a broadened context phrase describing the class of information sought.
// The sequence emitted for one message is immutable and operations are
// mutually independent within a turn.
type Operation struct {
	Kind    OpKind `json:"action"`
	Payload string `json:"text"`
}

// OpResult is the outcome of executing one operation. Kind and Position echo
// the originating operation so the caller can match results to operations
// regardless of completion order. Exactly one of Note (store), Retrieved
// (recall) or Err is meaningful.
type OpResult struct {
	Kind      OpKind
	Position  int
	Note      *Note
	Retrieved []*Retrieved
	Err       error
}
