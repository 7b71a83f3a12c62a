package domain

import "time"

// AssignmentStatus is the state machine of a committed assignment:
// pending -> accepted -> in_progress -> {completed | escalated}.
type AssignmentStatus string

const (
	AssignmentPending    AssignmentStatus = "PENDING"
	AssignmentAccepted   AssignmentStatus = "ACCEPTED"
	AssignmentInProgress AssignmentStatus = "IN_PROGRESS"
	AssignmentCompleted  AssignmentStatus = "COMPLETED"
	AssignmentEscalated  AssignmentStatus = "ESCALATED"
)

// IsTerminal returns true once no further mutation is allowed.
func (s AssignmentStatus) IsTerminal() bool {
	return s == AssignmentCompleted || s == AssignmentEscalated
}

// CanTransitionTo enforces the forward-only assignment state machine.
func (s AssignmentStatus) CanTransitionTo(next AssignmentStatus) bool {
	switch s {
	case AssignmentPending:
		return next == AssignmentAccepted
	case AssignmentAccepted:
		return next == AssignmentInProgress
	case AssignmentInProgress:
		return next == AssignmentCompleted || next == AssignmentEscalated
	default:
		return false
	}
}

// Assignment binds one work item to one candidate at a point in time.
// At most one non-terminal assignment exists per work item.
type Assignment struct {
	ID             string           `json:"id"`
	WorkItemID     string           `json:"work_item_id"`
	CandidateID    string           `json:"candidate_id"`
	AssignedBy     string           `json:"assigned_by"`
	Reason         string           `json:"reason,omitempty"`
	Priority       Priority         `json:"priority"`
	Score          float64          `json:"score"`
	Status         AssignmentStatus `json:"status"`
	Version        int64            `json:"version"`
	AssignedAt     time.Time        `json:"assigned_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Outcome classifies the result of a coordinator run for one work item.
// Conflicts and empty candidate pools are reported states, not errors.
type Outcome string

const (
	OutcomeCommitted       Outcome = "committed"
	OutcomeAlreadyAssigned Outcome = "already_assigned"
	OutcomeNoCandidate     Outcome = "no_candidate"
	OutcomeExpired         Outcome = "expired"
)

// AssignmentResult is what the coordinator hands back per work item.
type AssignmentResult struct {
	Outcome    Outcome     `json:"outcome"`
	Assignment *Assignment `json:"assignment,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}
