// Package models defines the error taxonomy shared across pipeline stages.
package models

import "fmt"

// ExtractionError indicates a structured or free-text model call failed
// or timed out. Pipeline stages recover from it locally with a fallback
// value; it is never surfaced to the customer.
type ExtractionError struct {
	Op  string // which extraction failed, e.g. "intent", "generate"
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction %s failed: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// RetrievalError indicates the store was unreachable during a search.
// The pipeline recovers by treating the candidate set as empty.
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s failed: %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// DeliveryError indicates an outbound send failed after the reply was
// computed. The run is reported as failed, but persisted state is kept.
type DeliveryError struct {
	To  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.To, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// PersistenceError indicates the finalize commit failed. It is fatal for
// the run and always propagates to the caller.
type PersistenceError struct {
	Phone string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence for %s failed: %v", e.Phone, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
