package domain

import "time"

// WorkItemStatus represents the states a conversation takes while it is
// owned by the assignment queue.
type WorkItemStatus string

const (
	WorkItemPending  WorkItemStatus = "PENDING"
	WorkItemAssigned WorkItemStatus = "ASSIGNED"
	WorkItemExpired  WorkItemStatus = "EXPIRED"
	WorkItemFailed   WorkItemStatus = "FAILED"
)

// IsTerminal returns true if no further state transitions are possible.
func (s WorkItemStatus) IsTerminal() bool {
	return s == WorkItemAssigned || s == WorkItemExpired || s == WorkItemFailed
}

// Priority orders work items for dequeueing. Higher values dequeue first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityMedium: "medium",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParsePriority maps a wire-level priority name to a Priority.
// Unknown names fall back to medium rather than failing the intake.
func ParsePriority(name string) Priority {
	for p, n := range priorityNames {
		if n == name {
			return p
		}
	}
	return PriorityMedium
}

// WorkItem is a conversation awaiting assignment to an agent.
type WorkItem struct {
	ID             string         `json:"id"`
	RequiredSkills []string       `json:"required_skills,omitempty"`
	Priority       Priority       `json:"priority"`
	Status         WorkItemStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	ArrivedAt      time.Time      `json:"arrived_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Validate checks the fields the scoring and queue layers rely on.
func (w *WorkItem) Validate() error {
	if w.ID == "" {
		return &ValidationError{Field: "id", Reason: "work item id is required"}
	}
	if w.ArrivedAt.IsZero() {
		return &ValidationError{Field: "arrived_at", Reason: "arrival timestamp is required"}
	}
	if p := w.Priority; p < PriorityLow || p > PriorityUrgent {
		return &ValidationError{Field: "priority", Reason: "priority out of range"}
	}
	return nil
}

// ExpiredBy reports whether the item's deadline has passed at the given time.
// Zero ExpiresAt means the item never expires.
func (w *WorkItem) ExpiredBy(now time.Time) bool {
	return !w.ExpiresAt.IsZero() && now.After(w.ExpiresAt)
}
