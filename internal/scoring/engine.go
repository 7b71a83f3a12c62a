// Package scoring ranks candidates for a work item with a weighted-sum
// heuristic. Scoring is pure: no I/O, no clocks beyond the caller-supplied
// reference time, and deterministic output for identical input.
package scoring

import (
	"sort"
	"time"

	"github.com/lawrns/camp-sub015/internal/domain"
)

// Weights are the tunable coefficients of the heuristic. They are
// configuration, not domain constants; defaults preserve the ratios the
// engine was tuned with.
type Weights struct {
	// Load is the coefficient of the load-balance term
	// (1 - currentLoad/maxLoad) * Load. Zero at full load.
	Load float64
	// Response is the coefficient of the responsiveness term
	// max(0, ResponseCutoffMinutes - avgResponse) * Response.
	Response float64
	// ResponseCutoffMinutes is the response time past which the
	// responsiveness term contributes nothing.
	ResponseCutoffMinutes float64
	// Satisfaction is the coefficient of the quality term (score 0-5).
	Satisfaction float64

	// Fixed role bonuses, specialist > admin > agent.
	SpecialistBonus float64
	AdminBonus      float64
	AgentBonus      float64

	// Fixed presence bonuses, online > away > busy. Offline candidates are
	// filtered before scoring and never receive a presence term.
	OnlineBonus float64
	AwayBonus   float64
	BusyBonus   float64
}

// DefaultWeights returns the tuned coefficient set.
func DefaultWeights() Weights {
	return Weights{
		Load:                  30,
		Response:              5,
		ResponseCutoffMinutes: 30,
		Satisfaction:          10,
		SpecialistBonus:       25,
		AdminBonus:            15,
		AgentBonus:            10,
		OnlineBonus:           20,
		AwayBonus:             10,
		BusyBonus:             5,
	}
}

// Suggestion is one ranked candidate.
type Suggestion struct {
	Candidate domain.Candidate `json:"candidate"`
	Score     float64          `json:"score"`
}

// Engine ranks candidates for work items.
type Engine struct {
	weights Weights
	topN    int
}

// Option configures an Engine.
type Option func(*Engine)

func WithWeights(w Weights) Option { return func(e *Engine) { e.weights = w } }
func WithTopN(n int) Option        { return func(e *Engine) { e.topN = n } }

// NewEngine constructs an Engine. Defaults: DefaultWeights, top 3.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{weights: DefaultWeights(), topN: 3}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score computes the match score for one candidate. It fails fast on
// malformed input rather than defaulting, so directory-service bugs surface
// instead of skewing assignment quality.
func (e *Engine) Score(c *domain.Candidate, item *domain.WorkItem) (float64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	if err := item.Validate(); err != nil {
		return 0, err
	}

	w := e.weights
	score := 0.0

	// Load balance: idle candidates win; full or overloaded contribute zero.
	// The directory may report currentLoad above maxLoad out of band.
	if load := 1 - float64(c.CurrentLoad)/float64(c.MaxLoad); load > 0 {
		score += load * w.Load
	}

	// Responsiveness: floors at zero past the cutoff.
	if slack := w.ResponseCutoffMinutes - c.AvgResponseMinutes; slack > 0 {
		score += slack * w.Response
	}

	score += c.Satisfaction * w.Satisfaction

	switch c.Role {
	case domain.RoleSpecialist:
		score += w.SpecialistBonus
	case domain.RoleAdmin:
		score += w.AdminBonus
	case domain.RoleAgent:
		score += w.AgentBonus
	}

	switch c.Presence {
	case domain.PresenceOnline:
		score += w.OnlineBonus
	case domain.PresenceAway:
		score += w.AwayBonus
	case domain.PresenceBusy:
		score += w.BusyBonus
	}

	return score, nil
}

// Rank filters the pool to available, non-offline candidates, scores each,
// and returns the top N by descending score. Ties break by lowest current
// load, then lexicographic ID, keeping results deterministic. An empty pool
// yields an empty result, not an error; candidates at max load are still
// scored (their load term is simply zero).
func (e *Engine) Rank(now time.Time, pool []domain.Candidate, item *domain.WorkItem) ([]Suggestion, error) {
	suggestions := make([]Suggestion, 0, len(pool))
	for i := range pool {
		c := pool[i]
		if c.Presence == domain.PresenceOffline || !c.Availability.IsAvailable(now) {
			continue
		}
		score, err := e.Score(&c, item)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, Suggestion{Candidate: c, Score: score})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Candidate.CurrentLoad != b.Candidate.CurrentLoad {
			return a.Candidate.CurrentLoad < b.Candidate.CurrentLoad
		}
		return a.Candidate.ID < b.Candidate.ID
	})

	if len(suggestions) > e.topN {
		suggestions = suggestions[:e.topN]
	}
	return suggestions, nil
}
