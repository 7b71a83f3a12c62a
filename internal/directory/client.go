// Package directory fetches candidate agents from the external directory
// service. It is the single normalization boundary: the directory still
// emits a mix of snake_case and camelCase fields, and both are coalesced
// into the typed domain model here so the tolerance never leaks inward.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lawrns/camp-sub015/internal/domain"
	"github.com/lawrns/camp-sub015/internal/guard"
	"github.com/lawrns/camp-sub015/pkg/retry"
)

// Client reads the agent directory over HTTP. Concurrent lookups for the
// same team share one request through the deduplicator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dedup      *guard.Deduplicator[[]domain.Candidate]
	retryCfg   retry.Config
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option  { return func(c *Client) { c.httpClient = h } }
func WithLogger(l *slog.Logger) Option      { return func(c *Client) { c.logger = l } }
func WithRetryConfig(cfg retry.Config) Option { return func(c *Client) { c.retryCfg = cfg } }

// NewClient creates a directory client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dedup:      guard.NewDeduplicator[[]domain.Candidate](),
		retryCfg: retry.Config{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Candidates fetches the eligible agents for a team, optionally filtered by
// required skills. Transient failures are retried with backoff; validation
// failures are not (a malformed candidate is a directory bug, not weather).
func (c *Client) Candidates(ctx context.Context, teamID string, skills []string) ([]domain.Candidate, error) {
	key := "candidates:" + teamID + ":" + strings.Join(skills, ",")
	return c.dedup.Do(ctx, key, func(ctx context.Context) ([]domain.Candidate, error) {
		var pool []domain.Candidate
		err := retry.Do(ctx, c.retryCfg, func() error {
			var fetchErr error
			pool, fetchErr = c.fetch(ctx, teamID, skills)
			if fetchErr != nil {
				c.logger.Warn("directory fetch failed",
					slog.String("team", teamID),
					slog.String("error", fetchErr.Error()),
				)
			}
			return fetchErr
		})
		return pool, err
	})
}

func (c *Client) fetch(ctx context.Context, teamID string, skills []string) ([]domain.Candidate, error) {
	q := url.Values{}
	q.Set("team", teamID)
	if len(skills) > 0 {
		q.Set("skills", strings.Join(skills, ","))
	}
	reqURL := c.baseURL + "/v1/agents?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build directory request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("directory returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var wire []wireCandidate
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode directory response: %w", err))
	}

	pool := make([]domain.Candidate, 0, len(wire))
	for i := range wire {
		candidate, err := wire[i].normalize()
		if err != nil {
			return nil, retry.Permanent(err)
		}
		pool = append(pool, candidate)
	}
	return pool, nil
}

// wireCandidate tolerates the directory's dual field casing. The coalescing
// happens once, here; the domain model downstream is strictly typed.
type wireCandidate struct {
	ID                  string   `json:"id"`
	CurrentLoad         *int     `json:"current_load"`
	CurrentLoadCamel    *int     `json:"currentLoad"`
	MaxLoad             *int     `json:"max_load"`
	MaxLoadCamel        *int     `json:"maxLoad"`
	AvgResponse         *float64 `json:"avg_response_minutes"`
	AvgResponseCamel    *float64 `json:"avgResponseMinutes"`
	Satisfaction        *float64 `json:"satisfaction"`
	Role                string   `json:"role"`
	Presence            string   `json:"presence"`
	Skills              []string `json:"skills"`
	AvailabilityEnabled *bool    `json:"availability_enabled"`
	AvailEnabledCamel   *bool    `json:"availabilityEnabled"`
	Window              string   `json:"availability_window"`
	WindowCamel         string   `json:"availabilityWindow"`
	WindowMinutes       *int     `json:"availability_minutes"`
	WindowMinutesCamel  *int     `json:"availabilityMinutes"`
}

func coalesceInt(snake, camel *int) int {
	if snake != nil {
		return *snake
	}
	if camel != nil {
		return *camel
	}
	return 0
}

func coalesceFloat(snake, camel *float64) float64 {
	if snake != nil {
		return *snake
	}
	if camel != nil {
		return *camel
	}
	return 0
}

func coalesceBool(snake, camel *bool) bool {
	if snake != nil {
		return *snake
	}
	if camel != nil {
		return *camel
	}
	return false
}

func coalesceString(snake, camel string) string {
	if snake != "" {
		return snake
	}
	return camel
}

func (w *wireCandidate) normalize() (domain.Candidate, error) {
	window := coalesceString(w.Window, w.WindowCamel)
	if window != "" {
		if _, err := cron.ParseStandard(window); err != nil {
			return domain.Candidate{}, &domain.ValidationError{
				Field:  "availability_window",
				Reason: fmt.Sprintf("unparsable cron expression %q", window),
			}
		}
	}

	sat := 0.0
	if w.Satisfaction != nil {
		sat = *w.Satisfaction
	}

	c := domain.Candidate{
		ID:                 w.ID,
		CurrentLoad:        coalesceInt(w.CurrentLoad, w.CurrentLoadCamel),
		MaxLoad:            coalesceInt(w.MaxLoad, w.MaxLoadCamel),
		AvgResponseMinutes: coalesceFloat(w.AvgResponse, w.AvgResponseCamel),
		Satisfaction:       sat,
		Role:               domain.Role(w.Role),
		Presence:           domain.Presence(w.Presence),
		Skills:             w.Skills,
		Availability: domain.AvailabilityWindow{
			Enabled:  coalesceBool(w.AvailabilityEnabled, w.AvailEnabledCamel),
			Window:   window,
			Duration: time.Duration(coalesceInt(w.WindowMinutes, w.WindowMinutesCamel)) * time.Minute,
		},
	}
	if err := c.Validate(); err != nil {
		return domain.Candidate{}, err
	}
	return c, nil
}
