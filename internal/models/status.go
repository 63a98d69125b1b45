package models

import "fmt"

// Status is the document lifecycle state.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusChunking   Status = "chunking"
	StatusEmbedding  Status = "embedding"
	StatusProcessed  Status = "processed"
	StatusError      Status = "error"
)

var statusOrder = map[Status]int{
	StatusUploaded:   0,
	StatusProcessing: 1,
	StatusChunking:   2,
	StatusEmbedding:  3,
	StatusProcessed:  4,
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	if s == StatusError {
		return true
	}
	_, ok := statusOrder[s]
	return ok
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusError
}

// CanTransition reports whether a document may move from one status to another.
// Statuses only move forward and every document passes through processing; error is
// reachable from any non-terminal status.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StatusError {
		return true
	}
	if from == StatusUploaded {
		return to == StatusProcessing
	}
	return statusOrder[to] > statusOrder[from]
}

// Predecessors returns every status from which to is reachable in one transition.
func Predecessors(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusUploaded, StatusProcessing, StatusChunking, StatusEmbedding} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	DocumentID string
	From       Status
	To         Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("document %s: invalid status transition %s -> %s", e.DocumentID, e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
