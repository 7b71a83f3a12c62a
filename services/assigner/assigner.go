// Package assigner runs the assignment coordinator: it consumes pending
// conversations and manual commands from Kafka, ranks candidates, and commits
// at most one active assignment per conversation.
package assigner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lawrns/camp-sub015/internal/assignqueue"
	"github.com/lawrns/camp-sub015/internal/domain"
	"github.com/lawrns/camp-sub015/internal/guard"
	"github.com/lawrns/camp-sub015/internal/kafka"
	"github.com/lawrns/camp-sub015/internal/ordering"
	"github.com/lawrns/camp-sub015/internal/postgres"
	redisstore "github.com/lawrns/camp-sub015/internal/redis"
	"github.com/lawrns/camp-sub015/internal/scoring"
	"github.com/lawrns/camp-sub015/pkg/telemetry"
)

const (
	TopicPending   = "conversations.pending"
	TopicCommands  = "assignments.commands"
	TopicEvents    = "conversations.events"
	TopicCommitted = "assignments.committed"
	topicDLQ       = "conversations.dlq"
)

// CandidateSource yields the candidate pool for a conversation.
// Implemented by the directory HTTP client.
type CandidateSource interface {
	Candidates(ctx context.Context, teamID string, skills []string) ([]domain.Candidate, error)
}

// ManualAssignCommand is the payload on assignments.commands. The manual path
// goes through the same commit pipeline as auto-assignment, it only skips the
// ranking and the score threshold.
type ManualAssignCommand struct {
	WorkItemID  string `json:"work_item_id"`
	CandidateID string `json:"candidate_id"`
	AssignedBy  string `json:"assigned_by"`
	Reason      string `json:"reason,omitempty"`
}

// CommittedRecord is published on assignments.committed for every resolved
// conversation, including expiries and no-candidate outcomes.
type CommittedRecord struct {
	WorkItemID string             `json:"work_item_id"`
	Outcome    domain.Outcome     `json:"outcome"`
	Assignment *domain.Assignment `json:"assignment,omitempty"`
	Mode       string             `json:"mode,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	ResolvedAt time.Time          `json:"resolved_at"`
}

// Coordinator owns the assignment pipeline for one assigner instance.
type Coordinator struct {
	pending  kafka.Consumer
	commands kafka.Consumer
	events   kafka.Consumer
	producer kafka.Producer
	store    redisstore.StateStore
	repo     postgres.Repository
	source   CandidateSource
	limiter  redisstore.RateLimiter // nil = disabled

	queue    *assignqueue.Queue
	engine   *scoring.Engine
	locks    *guard.KeyedMutex
	versions *guard.VersionTracker
	ordering *ordering.Manager

	team      string
	threshold float64
	tick      time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	channels map[string]struct{} // channels with buffered events to flush
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithThreshold(v float64) Option        { return func(c *Coordinator) { c.threshold = v } }
func WithTick(d time.Duration) Option       { return func(c *Coordinator) { c.tick = d } }
func WithLogger(l *slog.Logger) Option      { return func(c *Coordinator) { c.logger = l } }
func WithEngine(e *scoring.Engine) Option   { return func(c *Coordinator) { c.engine = e } }
func WithQueue(q *assignqueue.Queue) Option { return func(c *Coordinator) { c.queue = q } }
func WithOrdering(m *ordering.Manager) Option {
	return func(c *Coordinator) { c.ordering = m }
}
func WithRateLimiter(l redisstore.RateLimiter) Option {
	return func(c *Coordinator) { c.limiter = l }
}

// NewCoordinator wires the coordinator. team names the directory team the
// candidate pool is drawn from.
func NewCoordinator(
	pending, commands, events kafka.Consumer,
	producer kafka.Producer,
	store redisstore.StateStore,
	repo postgres.Repository,
	source CandidateSource,
	team string,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		pending:   pending,
		commands:  commands,
		events:    events,
		producer:  producer,
		store:     store,
		repo:      repo,
		source:    source,
		queue:     assignqueue.New(3),
		engine:    scoring.NewEngine(),
		locks:     guard.NewKeyedMutex(),
		versions:  guard.NewVersionTracker(),
		ordering:  ordering.NewManager(),
		team:      team,
		threshold: 40,
		tick:      time.Second,
		logger:    slog.Default(),
		channels:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Queue exposes the live queue for stats readers (metrics, sweep).
func (c *Coordinator) Queue() *assignqueue.Queue { return c.queue }

// Run starts the consumers and the assignment loop. Blocks until ctx is
// cancelled; consumer errors shut the whole coordinator down.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	for name, run := range map[string]func(context.Context) error{
		"pending":  func(ctx context.Context) error { return c.pending.Subscribe(ctx, c.handlePending) },
		"commands": func(ctx context.Context) error { return c.commands.Subscribe(ctx, c.handleCommand) },
		"events":   func(ctx context.Context) error { return c.events.Subscribe(ctx, c.handleEvent) },
	} {
		wg.Add(1)
		go func(name string, run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil {
				errCh <- fmt.Errorf("%s consumer: %w", name, err)
				cancel()
			}
		}(name, run)
	}

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			c.flushEvents(ctx)
			c.drainQueue(ctx)
		}
	}

	wg.Wait()
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// handlePending takes a conversation off conversations.pending and into the
// working set. Transient persistence failures leave the offset uncommitted so
// Kafka re-delivers; the idempotent enqueue absorbs the replay.
func (c *Coordinator) handlePending(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer("assigner").Start(ctx, "assigner.intake")
	defer span.End()

	var item domain.WorkItem
	if err := json.Unmarshal(msg.Value, &item); err != nil {
		c.logger.Error("malformed pending message, sending to DLQ", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed message")
		telemetry.CoordinatorDLQTotal.Inc()
		return c.toDLQ(ctx, msg.Value)
	}
	span.SetAttributes(attribute.String("conversation.id", item.ID))

	inserted, err := c.queue.Enqueue(item)
	if err != nil {
		c.logger.Error("invalid work item, sending to DLQ",
			slog.String("conversation_id", item.ID),
			slog.String("error", err.Error()),
		)
		telemetry.CoordinatorDLQTotal.Inc()
		return c.toDLQ(ctx, msg.Value)
	}
	if !inserted {
		return nil // replay of a known conversation
	}

	if err := c.repo.CreateWorkItem(ctx, &item); err != nil {
		span.RecordError(err)
		return fmt.Errorf("persist work item %s: %w", item.ID, err)
	}
	// Best-effort hot state. Postgres is the record; a Redis miss only slows reads.
	if err := c.store.SetWorkItemStatus(ctx, item.ID, domain.WorkItemPending); err != nil {
		c.logger.Error("failed to set pending status",
			slog.String("conversation_id", item.ID),
			slog.String("error", err.Error()),
		)
	}

	c.publishQueueStats()
	c.logger.Info("conversation queued",
		slog.String("conversation_id", item.ID),
		slog.String("priority", item.Priority.String()),
	)
	return nil
}

// handleCommand commits a manual assignment. The operator's choice bypasses
// ranking and threshold but not the invariants: load cap and the
// one-active-assignment rule still hold.
func (c *Coordinator) handleCommand(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer("assigner").Start(ctx, "assigner.manual_assign")
	defer span.End()

	var cmd ManualAssignCommand
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		c.logger.Error("malformed command, sending to DLQ", slog.String("error", err.Error()))
		telemetry.CoordinatorDLQTotal.Inc()
		return c.toDLQ(ctx, msg.Value)
	}
	if cmd.WorkItemID == "" || cmd.CandidateID == "" {
		c.logger.Error("command missing ids, sending to DLQ")
		telemetry.CoordinatorDLQTotal.Inc()
		return c.toDLQ(ctx, msg.Value)
	}
	span.SetAttributes(
		attribute.String("conversation.id", cmd.WorkItemID),
		attribute.String("candidate.id", cmd.CandidateID),
	)

	item, ok := c.queue.Get(cmd.WorkItemID)
	if !ok {
		stored, err := c.repo.GetWorkItem(ctx, cmd.WorkItemID)
		if err != nil {
			var notFound *domain.WorkItemNotFoundError
			if errors.As(err, &notFound) {
				c.logger.Warn("manual assign for unknown conversation, sending to DLQ",
					slog.String("conversation_id", cmd.WorkItemID))
				telemetry.CoordinatorDLQTotal.Inc()
				return c.toDLQ(ctx, msg.Value)
			}
			return fmt.Errorf("load work item %s: %w", cmd.WorkItemID, err)
		}
		item = *stored
	}

	candidate, err := c.lookupCandidate(ctx, cmd.CandidateID, item.RequiredSkills)
	if err != nil {
		c.logger.Warn("manual assign candidate not in directory, sending to DLQ",
			slog.String("candidate_id", cmd.CandidateID),
			slog.String("error", err.Error()),
		)
		telemetry.CoordinatorDLQTotal.Inc()
		return c.toDLQ(ctx, msg.Value)
	}

	result := c.commit(ctx, item, candidate, 0, cmd.AssignedBy, cmd.Reason, "manual")
	telemetry.AssignmentOutcomes.WithLabelValues(string(result.Outcome)).Inc()
	if result.Outcome == domain.OutcomeCommitted {
		telemetry.APIManualAssignments.Inc()
	}
	c.logger.Info("manual assignment resolved",
		slog.String("conversation_id", cmd.WorkItemID),
		slog.String("candidate_id", cmd.CandidateID),
		slog.String("outcome", string(result.Outcome)),
	)
	return nil
}

func (c *Coordinator) lookupCandidate(ctx context.Context, candidateID string, skills []string) (domain.Candidate, error) {
	pool, err := c.source.Candidates(ctx, c.team, skills)
	if err != nil {
		return domain.Candidate{}, err
	}
	for i := range pool {
		if pool[i].ID == candidateID {
			return pool[i], nil
		}
	}
	return domain.Candidate{}, fmt.Errorf("candidate %s not found in team %s", candidateID, c.team)
}

// handleEvent buffers a realtime event for ordered delivery.
func (c *Coordinator) handleEvent(ctx context.Context, msg kafka.Message) error {
	var ev domain.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.logger.Error("malformed event, sending to DLQ", slog.String("error", err.Error()))
		telemetry.CoordinatorDLQTotal.Inc()
		return c.toDLQ(ctx, msg.Value)
	}

	if err := c.ordering.ProcessEvent(time.Now().UTC(), ev); err != nil {
		c.logger.Error("invalid event envelope, sending to DLQ",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
		telemetry.CoordinatorDLQTotal.Inc()
		return c.toDLQ(ctx, msg.Value)
	}

	c.mu.Lock()
	c.channels[ev.Channel] = struct{}{}
	c.mu.Unlock()

	telemetry.EventsBuffered.WithLabelValues(ev.Channel).Set(float64(c.ordering.Buffered(ev.Channel)))
	return nil
}

// flushEvents delivers due events per channel, in timestamp order.
func (c *Coordinator) flushEvents(ctx context.Context) {
	c.mu.Lock()
	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	now := time.Now().UTC()
	for _, ch := range channels {
		if err := c.ordering.FlushDue(ctx, now, ch, c.applyEvent); err != nil {
			c.logger.Error("event delivery halted, will retry",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
		}
		// The empty check and the delete share one critical section. A
		// concurrent handleEvent buffers first and registers its channel under
		// the same lock afterwards, so a channel refilled mid-check is always
		// re-added and never stalls holding an undelivered event.
		c.mu.Lock()
		if n := c.ordering.Buffered(ch); n == 0 {
			delete(c.channels, ch)
			telemetry.EventsBuffered.DeleteLabelValues(ch)
		} else {
			telemetry.EventsBuffered.WithLabelValues(ch).Set(float64(n))
		}
		c.mu.Unlock()
	}
}

// applyEvent reacts to one ordered event. Returning an error keeps the event
// buffered for the next flush.
func (c *Coordinator) applyEvent(ctx context.Context, ev domain.Event) error {
	switch ev.Type {
	case domain.EventPresenceChanged:
		var p domain.PresencePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil || p.CandidateID == "" {
			c.logger.Error("bad presence payload, dropping",
				slog.String("event_id", ev.ID))
			return nil
		}
		if err := c.store.SetPresence(ctx, p.CandidateID, p.Presence); err != nil {
			return err
		}

	case domain.EventConversationClosed:
		if a, err := c.store.GetAssignment(ctx, ev.Channel); err == nil && !a.Status.IsTerminal() {
			if err := c.repo.UpdateAssignmentStatus(ctx, a.ID, domain.AssignmentCompleted); err != nil {
				var conflict *domain.ConflictError
				if !errors.As(err, &conflict) {
					return err
				}
			}
		}
		c.queue.Remove(ev.Channel)
		c.versions.Forget(ev.Channel)

	case domain.EventAssignmentUpdated:
		c.versions.Observe(ev.Channel, ev.Version)
	}

	telemetry.EventsDelivered.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// drainQueue runs the auto-assignment loop for everything currently pending.
// Deferred items (throttled, directory down) re-enter the queue only after
// the pass ends, so one stuck conversation cannot spin the loop.
func (c *Coordinator) drainQueue(ctx context.Context) {
	var deferred []string
	for {
		if ctx.Err() != nil {
			break
		}
		item, ok := c.queue.DequeueNext()
		if !ok {
			break
		}
		result, wait := c.assign(ctx, item)
		if wait {
			deferred = append(deferred, item.ID)
			continue
		}
		telemetry.AssignmentOutcomes.WithLabelValues(string(result.Outcome)).Inc()
	}
	for _, id := range deferred {
		if err := c.queue.Requeue(id); err != nil {
			c.logger.Error("requeue deferred item",
				slog.String("conversation_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// assign runs one auto-assignment try for a dequeued conversation. The bool
// asks the caller to requeue the item without charging an attempt.
func (c *Coordinator) assign(ctx context.Context, item domain.WorkItem) (domain.AssignmentResult, bool) {
	ctx, span := otel.Tracer("assigner").Start(ctx, "assigner.assign")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", item.ID))

	log := c.logger.With(slog.String("conversation_id", item.ID))
	now := time.Now().UTC()

	if item.ExpiredBy(now) {
		c.finalizeExpired(ctx, item.ID, now)
		return domain.AssignmentResult{Outcome: domain.OutcomeExpired}, false
	}

	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx, item.ID)
		if err != nil {
			log.Error("rate limiter error", slog.String("error", err.Error()))
			// Allow on limiter failure so a Redis hiccup cannot stall assignment.
		} else if !allowed {
			log.Warn("assignment attempts throttled, deferring")
			return domain.AssignmentResult{}, true
		}
	}

	start := time.Now()
	pool, err := c.source.Candidates(ctx, c.team, item.RequiredSkills)
	if err != nil {
		log.Error("candidate fetch failed, deferring", slog.String("error", err.Error()))
		span.RecordError(err)
		return domain.AssignmentResult{}, true
	}

	// Live presence overrides the directory snapshot when Redis has fresher data.
	for i := range pool {
		if p, err := c.store.GetPresence(ctx, pool[i].ID); err == nil && p != domain.PresenceOffline {
			pool[i].Presence = p
		}
	}

	suggestions, err := c.engine.Rank(now, pool, &item)
	telemetry.ScoringDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error("ranking failed", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "ranking failed")
		return c.reportFailure(ctx, item.ID, err.Error()), false
	}

	for _, s := range suggestions {
		if s.Score < c.threshold {
			break // sorted descending, nothing below passes either
		}
		if s.Candidate.AtCapacity() {
			continue
		}
		result := c.commit(ctx, item, s.Candidate, s.Score, "system", "best ranked candidate", "auto")
		switch result.Outcome {
		case domain.OutcomeCommitted, domain.OutcomeAlreadyAssigned, domain.OutcomeExpired:
			return result, false
		}
		// Overloaded at commit time: fall through to the next suggestion.
	}

	best := 0.0
	if len(suggestions) > 0 {
		best = suggestions[0].Score
	}
	noCandidate := &domain.NoCandidateError{WorkItemID: item.ID, BestScore: best, Threshold: c.threshold}
	log.Info("no suitable candidate", slog.Float64("best_score", best))
	return c.reportFailure(ctx, item.ID, noCandidate.Error()), false
}

// commit is the single write path for both auto and manual assignment. It
// serializes on the conversation key so racing commits for the same
// conversation resolve to exactly one winner.
func (c *Coordinator) commit(
	ctx context.Context,
	item domain.WorkItem,
	candidate domain.Candidate,
	score float64,
	assignedBy, reason, mode string,
) domain.AssignmentResult {
	var result domain.AssignmentResult

	err := c.locks.WithLock(ctx, item.ID, func() error {
		now := time.Now().UTC()

		if item.ExpiredBy(now) {
			c.finalizeExpired(ctx, item.ID, now)
			result = domain.AssignmentResult{Outcome: domain.OutcomeExpired}
			return nil
		}

		// A racing commit may have won while we waited on the lock.
		if status, err := c.store.GetWorkItemStatus(ctx, item.ID); err == nil && status == domain.WorkItemAssigned {
			result = c.alreadyAssigned(ctx, item.ID)
			return nil
		}

		// Committed load check: the directory snapshot may lag.
		active, err := c.repo.CountActiveByCandidate(ctx, candidate.ID)
		if err != nil {
			return fmt.Errorf("count active assignments: %w", err)
		}
		if active >= candidate.MaxLoad {
			overloaded := &domain.CandidateOverloadedError{CandidateID: candidate.ID, MaxLoad: candidate.MaxLoad}
			result = domain.AssignmentResult{Outcome: domain.OutcomeNoCandidate, Reason: overloaded.Error()}
			return nil
		}

		version, err := c.store.BumpVersion(ctx, item.ID)
		if err != nil {
			return err
		}
		if err := c.versions.Check(item.ID, version); err != nil {
			telemetry.AssignmentConflicts.Inc()
			return err
		}

		a := &domain.Assignment{
			WorkItemID:  item.ID,
			CandidateID: candidate.ID,
			AssignedBy:  assignedBy,
			Reason:      reason,
			Priority:    item.Priority,
			Score:       score,
			Status:      domain.AssignmentPending,
			Version:     version,
			AssignedAt:  now,
			UpdatedAt:   now,
		}

		if err := c.repo.CreateAssignment(ctx, a); err != nil {
			var already *domain.AlreadyAssignedError
			if errors.As(err, &already) {
				telemetry.AssignmentConflicts.Inc()
				result = c.alreadyAssigned(ctx, item.ID)
				return nil
			}
			return err
		}

		if err := c.repo.UpdateWorkItemStatus(ctx, item.ID, domain.WorkItemAssigned); err != nil {
			c.logger.Error("failed to update work item status",
				slog.String("conversation_id", item.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := c.store.SetAssignment(ctx, a); err != nil {
			c.logger.Error("failed to cache assignment",
				slog.String("conversation_id", item.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := c.store.SetWorkItemStatus(ctx, item.ID, domain.WorkItemAssigned); err != nil {
			c.logger.Error("failed to set assigned status",
				slog.String("conversation_id", item.ID),
				slog.String("error", err.Error()),
			)
		}

		if err := c.queue.MarkAssigned(item.ID); err != nil {
			var notFound *domain.WorkItemNotFoundError
			if !errors.As(err, &notFound) {
				c.logger.Error("queue finalize", slog.String("error", err.Error()))
			}
		}

		record := CommittedRecord{
			WorkItemID: item.ID,
			Outcome:    domain.OutcomeCommitted,
			Assignment: a,
			Mode:       mode,
			ResolvedAt: now,
		}
		if err := kafka.PublishJSON(ctx, c.producer, TopicCommitted, item.ID, record); err != nil {
			c.logger.Error("failed to publish committed record",
				slog.String("conversation_id", item.ID),
				slog.String("error", err.Error()),
			)
		}

		telemetry.AssignmentsCommitted.WithLabelValues(mode).Inc()
		c.logger.Info("assignment committed",
			slog.String("conversation_id", item.ID),
			slog.String("candidate_id", candidate.ID),
			slog.String("mode", mode),
			slog.Float64("score", score),
			slog.Int64("version", version),
		)
		result = domain.AssignmentResult{Outcome: domain.OutcomeCommitted, Assignment: a}
		return nil
	})

	c.publishQueueStats()

	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return domain.AssignmentResult{Outcome: domain.OutcomeAlreadyAssigned, Reason: conflict.Error()}
		}
		c.logger.Error("commit failed",
			slog.String("conversation_id", item.ID),
			slog.String("error", err.Error()),
		)
		return c.reportFailure(ctx, item.ID, err.Error())
	}
	return result
}

func (c *Coordinator) alreadyAssigned(ctx context.Context, workItemID string) domain.AssignmentResult {
	result := domain.AssignmentResult{Outcome: domain.OutcomeAlreadyAssigned}
	if a, err := c.store.GetAssignment(ctx, workItemID); err == nil {
		result.Assignment = a
	}
	// The queue's view must agree with the winner's commit.
	if err := c.queue.MarkAssigned(workItemID); err != nil {
		var notFound *domain.WorkItemNotFoundError
		var already *domain.AlreadyAssignedError
		if !errors.As(err, &notFound) && !errors.As(err, &already) {
			c.logger.Error("queue finalize after lost race", slog.String("error", err.Error()))
		}
	}
	return result
}

// reportFailure charges an attempt and persists the failed state once the
// item exhausts its tries.
func (c *Coordinator) reportFailure(ctx context.Context, workItemID, reason string) domain.AssignmentResult {
	status, err := c.queue.ReportFailure(workItemID)
	if err != nil {
		c.logger.Error("report failure", slog.String("error", err.Error()))
		return domain.AssignmentResult{Outcome: domain.OutcomeNoCandidate, Reason: reason}
	}
	if status == domain.WorkItemFailed {
		if err := c.repo.UpdateWorkItemStatus(ctx, workItemID, domain.WorkItemFailed); err != nil {
			c.logger.Error("persist failed status", slog.String("error", err.Error()))
		}
		if err := c.store.SetWorkItemStatus(ctx, workItemID, domain.WorkItemFailed); err != nil {
			c.logger.Error("cache failed status", slog.String("error", err.Error()))
		}
		record := CommittedRecord{
			WorkItemID: workItemID,
			Outcome:    domain.OutcomeNoCandidate,
			Reason:     reason,
			ResolvedAt: time.Now().UTC(),
		}
		if err := kafka.PublishJSON(ctx, c.producer, TopicCommitted, workItemID, record); err != nil {
			c.logger.Error("publish failed record", slog.String("error", err.Error()))
		}
	}
	c.publishQueueStats()
	return domain.AssignmentResult{Outcome: domain.OutcomeNoCandidate, Reason: reason}
}

// finalizeExpired moves a conversation found past its deadline to expired in
// the queue, Postgres and Redis, and publishes the resolution.
func (c *Coordinator) finalizeExpired(ctx context.Context, workItemID string, now time.Time) {
	status, err := c.queue.MarkExpired(workItemID)
	if err != nil || status != domain.WorkItemExpired {
		return
	}
	if err := c.repo.UpdateWorkItemStatus(ctx, workItemID, domain.WorkItemExpired); err != nil {
		c.logger.Error("persist expired status", slog.String("error", err.Error()))
	}
	if err := c.store.SetWorkItemStatus(ctx, workItemID, domain.WorkItemExpired); err != nil {
		c.logger.Error("cache expired status", slog.String("error", err.Error()))
	}
	record := CommittedRecord{
		WorkItemID: workItemID,
		Outcome:    domain.OutcomeExpired,
		ResolvedAt: now,
	}
	if err := kafka.PublishJSON(ctx, c.producer, TopicCommitted, workItemID, record); err != nil {
		c.logger.Error("publish expired record", slog.String("error", err.Error()))
	}
	telemetry.QueueExpiredTotal.Inc()
	c.publishQueueStats()
	c.logger.Info("conversation expired", slog.String("conversation_id", workItemID))
}

func (c *Coordinator) publishQueueStats() {
	s := c.queue.Stats()
	telemetry.QueuePending.Set(float64(s.Pending))
	telemetry.QueueFailed.Set(float64(s.Failed))
	telemetry.QueueHighPriority.Set(float64(s.HighPriority))
}

func (c *Coordinator) toDLQ(ctx context.Context, payload []byte) error {
	if err := c.producer.Publish(ctx, topicDLQ, "", payload); err != nil {
		c.logger.Error("failed to publish to DLQ", slog.String("error", err.Error()))
		return err
	}
	return nil
}
