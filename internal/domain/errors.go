package domain

import "fmt"

// ValidationError is returned for malformed work items, candidates, or
// events. Never retried — it signals a bug in an upstream producer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// ConflictError is returned when an optimistic version check fails. The
// caller should refetch the entity and may retry the operation once.
type ConflictError struct {
	EntityID        string
	IncomingVersion int64
	TrackedVersion  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("stale version for %s: incoming %d < tracked %d",
		e.EntityID, e.IncomingVersion, e.TrackedVersion)
}

// NoCandidateError is returned when no candidate is available or the best
// score falls below the acceptability threshold. A reportable business
// outcome rather than a failure.
type NoCandidateError struct {
	WorkItemID string
	BestScore  float64
	Threshold  float64
}

func (e *NoCandidateError) Error() string {
	return fmt.Sprintf("no suitable candidate for %s: best score %.2f below threshold %.2f",
		e.WorkItemID, e.BestScore, e.Threshold)
}

// WorkItemNotFoundError is returned when a work item ID does not exist.
type WorkItemNotFoundError struct {
	WorkItemID string
}

func (e *WorkItemNotFoundError) Error() string {
	return fmt.Sprintf("work item not found: %s", e.WorkItemID)
}

// WorkItemExpiredError is surfaced through the queue's expired state when a
// pending item outlives its deadline. Never thrown synchronously to callers.
type WorkItemExpiredError struct {
	WorkItemID string
}

func (e *WorkItemExpiredError) Error() string {
	return fmt.Sprintf("work item expired: %s", e.WorkItemID)
}

// AlreadyAssignedError is returned by the commit path when another actor
// committed an assignment first. Callers report it as an outcome.
type AlreadyAssignedError struct {
	WorkItemID string
	Status     WorkItemStatus
}

func (e *AlreadyAssignedError) Error() string {
	return fmt.Sprintf("work item %s already %s", e.WorkItemID, e.Status)
}

// CandidateOverloadedError is returned when committing would push a
// candidate past its max load.
type CandidateOverloadedError struct {
	CandidateID string
	MaxLoad     int
}

func (e *CandidateOverloadedError) Error() string {
	return fmt.Sprintf("candidate %s is at max load %d", e.CandidateID, e.MaxLoad)
}
