package domain

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Presence is an agent's realtime availability state.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceAway    Presence = "away"
	PresenceBusy    Presence = "busy"
	PresenceOffline Presence = "offline"
)

// Role is an agent's tier within the support organisation.
type Role string

const (
	RoleAgent      Role = "agent"
	RoleSpecialist Role = "specialist"
	RoleAdmin      Role = "admin"
)

// AvailabilityWindow describes when a candidate accepts new work.
// Window is a standard cron expression ("0 9 * * 1-5" style) naming the
// start of each availability period; Duration is how long each period lasts.
// An empty Window means always available (subject to the Enabled flag).
type AvailabilityWindow struct {
	Enabled  bool          `json:"enabled"`
	Window   string        `json:"window,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// IsAvailable reports whether now falls inside the window.
func (a AvailabilityWindow) IsAvailable(now time.Time) bool {
	if !a.Enabled {
		return false
	}
	if a.Window == "" {
		return true
	}
	schedule, err := cron.ParseStandard(a.Window)
	if err != nil {
		// Unparsable windows are rejected at the directory boundary;
		// treat anything that slips through as unavailable.
		return false
	}
	// The window is open if the most recent activation within one Duration
	// of now would fire again no later than now+Duration.
	start := now.Add(-a.Duration)
	next := schedule.Next(start)
	return !next.After(now)
}

// Candidate is an agent eligible to receive a work item. Candidates are
// created and updated by the external directory service and are read-only
// to the scoring engine.
type Candidate struct {
	ID                 string             `json:"id"`
	CurrentLoad        int                `json:"current_load"`
	MaxLoad            int                `json:"max_load"`
	AvgResponseMinutes float64            `json:"avg_response_minutes"`
	Satisfaction       float64            `json:"satisfaction"`
	Role               Role               `json:"role"`
	Presence           Presence           `json:"presence"`
	Skills             []string           `json:"skills,omitempty"`
	Availability       AvailabilityWindow `json:"availability"`
}

// Validate checks the fields the scoring engine divides or compares on.
// A malformed candidate indicates a directory-service bug and must fail
// fast rather than silently defaulting.
func (c *Candidate) Validate() error {
	if c.ID == "" {
		return &ValidationError{Field: "id", Reason: "candidate id is required"}
	}
	if c.MaxLoad <= 0 {
		return &ValidationError{Field: "max_load", Reason: "max load must be positive"}
	}
	if c.CurrentLoad < 0 {
		return &ValidationError{Field: "current_load", Reason: "current load cannot be negative"}
	}
	if c.Satisfaction < 0 || c.Satisfaction > 5 {
		return &ValidationError{Field: "satisfaction", Reason: "satisfaction must be within [0,5]"}
	}
	if c.AvgResponseMinutes < 0 {
		return &ValidationError{Field: "avg_response_minutes", Reason: "response time cannot be negative"}
	}
	switch c.Presence {
	case PresenceOnline, PresenceAway, PresenceBusy, PresenceOffline:
	default:
		return &ValidationError{Field: "presence", Reason: "unknown presence state"}
	}
	return nil
}

// AtCapacity reports whether the candidate cannot take another item.
func (c *Candidate) AtCapacity() bool {
	return c.CurrentLoad >= c.MaxLoad
}
