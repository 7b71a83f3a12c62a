package assigner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawrns/camp-sub015/internal/assignqueue"
	"github.com/lawrns/camp-sub015/internal/domain"
	"github.com/lawrns/camp-sub015/internal/kafka"
	"github.com/lawrns/camp-sub015/internal/ordering"
	"github.com/lawrns/camp-sub015/internal/postgres"
	redisstore "github.com/lawrns/camp-sub015/internal/redis"
	"github.com/lawrns/camp-sub015/pkg/telemetry"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeProducer struct {
	mu       sync.Mutex
	topics   []string
	payloads map[string][][]byte
	err      error
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{payloads: make(map[string][][]byte)}
}

func (p *fakeProducer) Publish(_ context.Context, topic, _ string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads[topic] = append(p.payloads[topic], value)
	return nil
}
func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) published(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads[topic])
}

type fakeStore struct {
	mu          sync.Mutex
	statuses    map[string]domain.WorkItemStatus
	assignments map[string]*domain.Assignment
	versions    map[string]int64
	presence    map[string]domain.Presence
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses:    make(map[string]domain.WorkItemStatus),
		assignments: make(map[string]*domain.Assignment),
		versions:    make(map[string]int64),
		presence:    make(map[string]domain.Presence),
	}
}

func (s *fakeStore) SetWorkItemStatus(_ context.Context, id string, st domain.WorkItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = st
	return nil
}
func (s *fakeStore) GetWorkItemStatus(_ context.Context, id string) (domain.WorkItemStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	if !ok {
		return "", &domain.WorkItemNotFoundError{WorkItemID: id}
	}
	return st, nil
}
func (s *fakeStore) SetAssignment(_ context.Context, a *domain.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.WorkItemID] = a
	return nil
}
func (s *fakeStore) GetAssignment(_ context.Context, id string) (*domain.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, &domain.WorkItemNotFoundError{WorkItemID: id}
	}
	return a, nil
}
func (s *fakeStore) BumpVersion(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[id]++
	return s.versions[id], nil
}
func (s *fakeStore) GetVersion(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[id], nil
}
func (s *fakeStore) SetPresence(_ context.Context, id string, p domain.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[id] = p
	return nil
}
func (s *fakeStore) GetPresence(_ context.Context, id string) (domain.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presence[id]
	if !ok {
		return domain.PresenceOffline, nil
	}
	return p, nil
}

var _ redisstore.StateStore = (*fakeStore)(nil)

type fakeRepo struct {
	mu          sync.Mutex
	workItems   map[string]*domain.WorkItem
	statuses    map[string]domain.WorkItemStatus
	assignments map[string]*domain.Assignment // keyed by work item, active only
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		workItems:   make(map[string]*domain.WorkItem),
		statuses:    make(map[string]domain.WorkItemStatus),
		assignments: make(map[string]*domain.Assignment),
	}
}

func (r *fakeRepo) CreateWorkItem(_ context.Context, item *domain.WorkItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workItems[item.ID]; !exists {
		cp := *item
		r.workItems[item.ID] = &cp
	}
	return nil
}
func (r *fakeRepo) UpdateWorkItemStatus(_ context.Context, id string, st domain.WorkItemStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = st
	return nil
}
func (r *fakeRepo) GetWorkItem(_ context.Context, id string) (*domain.WorkItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.workItems[id]
	if !ok {
		return nil, &domain.WorkItemNotFoundError{WorkItemID: id}
	}
	return item, nil
}
func (r *fakeRepo) QueueCounts(_ context.Context) (int, int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending, failed, high int
	for id := range r.workItems {
		switch r.statuses[id] {
		case domain.WorkItemFailed:
			failed++
		case "", domain.WorkItemPending:
			pending++
			if r.workItems[id].Priority >= domain.PriorityHigh {
				high++
			}
		}
	}
	return pending, failed, high, nil
}
func (r *fakeRepo) CreateAssignment(_ context.Context, a *domain.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.assignments[a.WorkItemID]; ok && !existing.Status.IsTerminal() {
		return &domain.AlreadyAssignedError{WorkItemID: a.WorkItemID, Status: domain.WorkItemAssigned}
	}
	if a.ID == "" {
		a.ID = fmt.Sprintf("asg-%s", a.WorkItemID)
	}
	r.assignments[a.WorkItemID] = a
	return nil
}
func (r *fakeRepo) UpdateAssignmentStatus(_ context.Context, id string, st domain.AssignmentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.assignments {
		if a.ID == id {
			if a.Status.IsTerminal() {
				return &domain.ConflictError{EntityID: id}
			}
			a.Status = st
			return nil
		}
	}
	return &domain.WorkItemNotFoundError{WorkItemID: id}
}
func (r *fakeRepo) GetActiveAssignment(_ context.Context, workItemID string) (*domain.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[workItemID]
	if !ok || a.Status.IsTerminal() {
		return nil, &domain.WorkItemNotFoundError{WorkItemID: workItemID}
	}
	return a, nil
}
func (r *fakeRepo) CountActiveByCandidate(_ context.Context, candidateID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.assignments {
		if a.CandidateID == candidateID && !a.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

var _ postgres.Repository = (*fakeRepo)(nil)

type fakeSource struct {
	mu    sync.Mutex
	pool  []domain.Candidate
	err   error
	calls int
}

func (f *fakeSource) Candidates(_ context.Context, _ string, _ []string) ([]domain.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pool, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func onlineAgent(id string, load, maxLoad int) domain.Candidate {
	return domain.Candidate{
		ID:                 id,
		CurrentLoad:        load,
		MaxLoad:            maxLoad,
		AvgResponseMinutes: 5,
		Satisfaction:       4.5,
		Role:               domain.RoleAgent,
		Presence:           domain.PresenceOnline,
	}
}

func newTestCoordinator(prod *fakeProducer, store *fakeStore, repo *fakeRepo, source *fakeSource, opts ...Option) *Coordinator {
	base := []Option{
		WithQueue(assignqueue.New(2)),
		WithOrdering(ordering.NewManager(ordering.WithHoldback(0))),
		WithThreshold(40),
	}
	return NewCoordinator(nil, nil, nil, prod, store, repo, source, "support", append(base, opts...)...)
}

func pendingMsg(t *testing.T, id string, p domain.Priority) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(domain.WorkItem{
		ID:        id,
		Priority:  p,
		Status:    domain.WorkItemPending,
		ArrivedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return kafka.Message{Value: raw}
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestCoordinator_IntakeThenAutoAssign(t *testing.T) {
	prod := newFakeProducer()
	store := newFakeStore()
	repo := newFakeRepo()
	source := &fakeSource{pool: []domain.Candidate{
		onlineAgent("agent-busy", 4, 5),
		onlineAgent("agent-idle", 0, 5),
	}}

	c := newTestCoordinator(prod, store, repo, source)
	require.NoError(t, c.handlePending(context.Background(), pendingMsg(t, "conv-1", domain.PriorityMedium)))

	c.drainQueue(context.Background())

	a, err := repo.GetActiveAssignment(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-idle", a.CandidateID, "lower load wins the ranking")
	assert.Equal(t, domain.AssignmentPending, a.Status)
	assert.Equal(t, int64(1), a.Version)

	assert.Equal(t, domain.WorkItemAssigned, store.statuses["conv-1"])
	assert.Equal(t, domain.WorkItemAssigned, repo.statuses["conv-1"])
	assert.Equal(t, 1, prod.published(TopicCommitted))

	item, ok := c.queue.Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, domain.WorkItemAssigned, item.Status)
}

func TestCoordinator_IntakeIdempotentOnRedelivery(t *testing.T) {
	prod := newFakeProducer()
	c := newTestCoordinator(prod, newFakeStore(), newFakeRepo(), &fakeSource{})

	require.NoError(t, c.handlePending(context.Background(), pendingMsg(t, "conv-1", domain.PriorityLow)))
	require.NoError(t, c.handlePending(context.Background(), pendingMsg(t, "conv-1", domain.PriorityLow)))

	assert.Equal(t, 1, c.queue.Stats().Pending)
}

func TestCoordinator_MalformedPendingGoesToDLQ(t *testing.T) {
	prod := newFakeProducer()
	c := newTestCoordinator(prod, newFakeStore(), newFakeRepo(), &fakeSource{})

	err := c.handlePending(context.Background(), kafka.Message{Value: []byte("not-json")})
	require.NoError(t, err, "DLQ'd message still commits its offset")
	assert.Equal(t, 1, prod.published(topicDLQ))
}

func TestCoordinator_BelowThresholdFailsAfterMaxAttempts(t *testing.T) {
	prod := newFakeProducer()
	store := newFakeStore()
	repo := newFakeRepo()
	// Offline-adjacent pool: busy, overloaded, slow. Scores land below 40.
	source := &fakeSource{pool: []domain.Candidate{{
		ID:                 "agent-weak",
		CurrentLoad:        5,
		MaxLoad:            5,
		AvgResponseMinutes: 90,
		Satisfaction:       0.5,
		Role:               domain.RoleAgent,
		Presence:           domain.PresenceBusy,
	}}}

	c := newTestCoordinator(prod, store, repo, source)
	require.NoError(t, c.handlePending(context.Background(), pendingMsg(t, "conv-1", domain.PriorityHigh)))

	// A failed try re-enters the pending order, so one drain pass runs the
	// item through both of its attempts.
	c.drainQueue(context.Background())

	item, ok := c.queue.Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, domain.WorkItemFailed, item.Status)
	assert.Equal(t, domain.WorkItemFailed, repo.statuses["conv-1"])
	assert.Equal(t, 1, prod.published(TopicCommitted), "terminal failure publishes a resolution")
}

func TestCoordinator_DirectoryOutageDefersWithoutChargingAttempts(t *testing.T) {
	prod := newFakeProducer()
	source := &fakeSource{err: errors.New("directory down")}

	c := newTestCoordinator(prod, newFakeStore(), newFakeRepo(), source)
	require.NoError(t, c.handlePending(context.Background(), pendingMsg(t, "conv-1", domain.PriorityMedium)))

	for i := 0; i < 5; i++ {
		c.drainQueue(context.Background())
	}

	item, ok := c.queue.Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, domain.WorkItemPending, item.Status, "outage must not burn attempts")
	assert.Zero(t, item.Attempts)
}

func TestCoordinator_ExpiredItemResolvedAtDequeue(t *testing.T) {
	prod := newFakeProducer()
	store := newFakeStore()
	repo := newFakeRepo()
	c := newTestCoordinator(prod, store, repo, &fakeSource{pool: []domain.Candidate{onlineAgent("a", 0, 5)}})

	raw, err := json.Marshal(domain.WorkItem{
		ID:        "conv-old",
		Priority:  domain.PriorityMedium,
		ArrivedAt: time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, c.handlePending(context.Background(), kafka.Message{Value: raw}))

	c.drainQueue(context.Background())

	item, ok := c.queue.Get("conv-old")
	require.True(t, ok)
	assert.Equal(t, domain.WorkItemExpired, item.Status)
	assert.Equal(t, domain.WorkItemExpired, repo.statuses["conv-old"])
	_, err = repo.GetActiveAssignment(context.Background(), "conv-old")
	assert.Error(t, err, "expired conversations are never assigned")
}

func TestCoordinator_LoadCapEnforcedAtCommit(t *testing.T) {
	prod := newFakeProducer()
	store := newFakeStore()
	repo := newFakeRepo()
	// Directory reports agent-a idle, but the committed load says otherwise.
	repo.assignments["conv-prior"] = &domain.Assignment{
		ID: "asg-prior", WorkItemID: "conv-prior", CandidateID: "agent-a",
		Status: domain.AssignmentPending,
	}
	source := &fakeSource{pool: []domain.Candidate{{
		ID:                 "agent-a",
		CurrentLoad:        0,
		MaxLoad:            1,
		AvgResponseMinutes: 5,
		Satisfaction:       4.5,
		Role:               domain.RoleAgent,
		Presence:           domain.PresenceOnline,
	}}}

	c := newTestCoordinator(prod, store, repo, source)
	require.NoError(t, c.handlePending(context.Background(), pendingMsg(t, "conv-1", domain.PriorityMedium)))
	c.drainQueue(context.Background())

	_, err := repo.GetActiveAssignment(context.Background(), "conv-1")
	assert.Error(t, err, "commit must respect the committed load, not the directory snapshot")
}

func TestCoordinator_ManualAssignBypassesThreshold(t *testing.T) {
	prod := newFakeProducer()
	store := newFakeStore()
	repo := newFakeRepo()
	weak := domain.Candidate{
		ID:                 "agent-weak",
		CurrentLoad:        4,
		MaxLoad:            5,
		AvgResponseMinutes: 60,
		Satisfaction:       1,
		Role:               domain.RoleAgent,
		Presence:           domain.PresenceBusy,
	}
	source := &fakeSource{pool: []domain.Candidate{weak}}

	c := newTestCoordinator(prod, store, repo, source)
	require.NoError(t, c.handlePending(context.Background(), pendingMsg(t, "conv-1", domain.PriorityMedium)))

	cmd, err := json.Marshal(ManualAssignCommand{
		WorkItemID:  "conv-1",
		CandidateID: "agent-weak",
		AssignedBy:  "supervisor-7",
		Reason:      "customer requested this agent",
	})
	require.NoError(t, err)
	require.NoError(t, c.handleCommand(context.Background(), kafka.Message{Value: cmd}))

	a, err := repo.GetActiveAssignment(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-weak", a.CandidateID)
	assert.Equal(t, "supervisor-7", a.AssignedBy)
	assert.Equal(t, "customer requested this agent", a.Reason)
}

func TestCoordinator_ManualAssignUnknownCandidateGoesToDLQ(t *testing.T) {
	prod := newFakeProducer()
	c := newTestCoordinator(prod, newFakeStore(), newFakeRepo(), &fakeSource{})
	require.NoError(t, c.handlePending(context.Background(), pendingMsg(t, "conv-1", domain.PriorityMedium)))

	cmd, err := json.Marshal(ManualAssignCommand{WorkItemID: "conv-1", CandidateID: "ghost"})
	require.NoError(t, err)
	require.NoError(t, c.handleCommand(context.Background(), kafka.Message{Value: cmd}))
	assert.Equal(t, 1, prod.published(topicDLQ))
}

func TestCoordinator_RacingCommitsResolveToOneWinner(t *testing.T) {
	store := newFakeStore()
	repo := newFakeRepo()
	source := &fakeSource{pool: []domain.Candidate{onlineAgent("agent-a", 0, 10)}}

	// Two coordinator instances sharing Redis and Postgres, as in production.
	c1 := newTestCoordinator(newFakeProducer(), store, repo, source)
	c2 := newTestCoordinator(newFakeProducer(), store, repo, source)

	require.NoError(t, c1.handlePending(context.Background(), pendingMsg(t, "conv-1", domain.PriorityMedium)))
	require.NoError(t, c2.handlePending(context.Background(), pendingMsg(t, "conv-1", domain.PriorityMedium)))

	var wg sync.WaitGroup
	outcomes := make([]domain.Outcome, 2)
	for i, c := range []*Coordinator{c1, c2} {
		wg.Add(1)
		go func(i int, c *Coordinator) {
			defer wg.Done()
			item, ok := c.queue.DequeueNext()
			if !ok {
				return
			}
			result, _ := c.assign(context.Background(), item)
			outcomes[i] = result.Outcome
		}(i, c)
	}
	wg.Wait()

	committed, already := 0, 0
	for _, o := range outcomes {
		switch o {
		case domain.OutcomeCommitted:
			committed++
		case domain.OutcomeAlreadyAssigned:
			already++
		}
	}
	assert.Equal(t, 1, committed, "exactly one instance wins the commit")
	assert.Equal(t, 1, already, "the loser reports already_assigned, not an error")

	n, err := repo.CountActiveByCandidate(context.Background(), "agent-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one active assignment despite the race")
}

func TestCoordinator_PresenceEventOverridesDirectorySnapshot(t *testing.T) {
	prod := newFakeProducer()
	store := newFakeStore()
	repo := newFakeRepo()
	// Directory claims away; the realtime stream says online.
	agent := onlineAgent("agent-a", 0, 5)
	agent.Presence = domain.PresenceAway
	source := &fakeSource{pool: []domain.Candidate{agent}}

	c := newTestCoordinator(prod, store, repo, source)

	payload, err := json.Marshal(domain.PresencePayload{CandidateID: "agent-a", Presence: domain.PresenceOnline})
	require.NoError(t, err)
	raw, err := json.Marshal(domain.Event{
		ID:        "ev-1",
		Channel:   "presence",
		Type:      domain.EventPresenceChanged,
		Timestamp: time.Now().UTC().Add(-time.Second),
		Payload:   payload,
	})
	require.NoError(t, err)
	require.NoError(t, c.handleEvent(context.Background(), kafka.Message{Value: raw}))
	c.flushEvents(context.Background())

	p, err := store.GetPresence(context.Background(), "agent-a")
	require.NoError(t, err)
	require.Equal(t, domain.PresenceOnline, p)

	require.NoError(t, c.handlePending(context.Background(), pendingMsg(t, "conv-1", domain.PriorityMedium)))
	c.drainQueue(context.Background())

	a, err := repo.GetActiveAssignment(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-a", a.CandidateID)
}

func TestCoordinator_ClosedEventCompletesAssignment(t *testing.T) {
	prod := newFakeProducer()
	store := newFakeStore()
	repo := newFakeRepo()
	source := &fakeSource{pool: []domain.Candidate{onlineAgent("agent-a", 0, 5)}}

	c := newTestCoordinator(prod, store, repo, source)
	require.NoError(t, c.handlePending(context.Background(), pendingMsg(t, "conv-1", domain.PriorityMedium)))
	c.drainQueue(context.Background())

	raw, err := json.Marshal(domain.Event{
		ID:        "ev-close",
		Channel:   "conv-1",
		Type:      domain.EventConversationClosed,
		Timestamp: time.Now().UTC().Add(-time.Second),
	})
	require.NoError(t, err)
	require.NoError(t, c.handleEvent(context.Background(), kafka.Message{Value: raw}))
	c.flushEvents(context.Background())

	_, err = repo.GetActiveAssignment(context.Background(), "conv-1")
	assert.Error(t, err, "completed assignment is no longer active")
	_, ok := c.queue.Get("conv-1")
	assert.False(t, ok, "closed conversation leaves the queue")
}

func TestCoordinator_OutOfOrderEventsApplyInTimestampOrder(t *testing.T) {
	prod := newFakeProducer()
	store := newFakeStore()
	c := newTestCoordinator(prod, store, newFakeRepo(), &fakeSource{})

	mk := func(id string, offset time.Duration, p domain.Presence) kafka.Message {
		payload, err := json.Marshal(domain.PresencePayload{CandidateID: "agent-a", Presence: p})
		require.NoError(t, err)
		raw, err := json.Marshal(domain.Event{
			ID:        id,
			Channel:   "presence",
			Type:      domain.EventPresenceChanged,
			Timestamp: time.Now().UTC().Add(offset),
			Payload:   payload,
		})
		require.NoError(t, err)
		return kafka.Message{Value: raw}
	}

	// Newest arrives first; after ordered delivery the latest state must win.
	require.NoError(t, c.handleEvent(context.Background(), mk("ev-2", -time.Second, domain.PresenceOnline)))
	require.NoError(t, c.handleEvent(context.Background(), mk("ev-1", -2*time.Second, domain.PresenceOffline)))
	c.flushEvents(context.Background())

	p, err := store.GetPresence(context.Background(), "agent-a")
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceOnline, p)
}

func TestCoordinator_EventBurstDuringFlushAllDelivered(t *testing.T) {
	prod := newFakeProducer()
	store := newFakeStore()
	c := newTestCoordinator(prod, store, newFakeRepo(), &fakeSource{})

	const n = 200
	msgs := make([]kafka.Message, n)
	for i := range msgs {
		payload, err := json.Marshal(domain.PresencePayload{
			CandidateID: fmt.Sprintf("agent-%03d", i),
			Presence:    domain.PresenceOnline,
		})
		require.NoError(t, err)
		raw, err := json.Marshal(domain.Event{
			ID:        fmt.Sprintf("ev-%03d", i),
			Channel:   "presence",
			Type:      domain.EventPresenceChanged,
			Timestamp: time.Now().UTC().Add(-time.Second),
			Payload:   payload,
		})
		require.NoError(t, err)
		msgs[i] = kafka.Message{Value: raw}
	}

	// Ingest races the flush loop: a channel drained and dropped from the
	// flush set while a straggler buffers must come back on its own.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, msg := range msgs {
			_ = c.handleEvent(context.Background(), msg)
		}
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		c.flushEvents(context.Background())
	}

	assert.Equal(t, 0, c.ordering.Buffered("presence"), "no event may be stranded once the stream is quiet")
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.presence, n, "every presence change must reach the store")
}

func TestCoordinator_BufferedGaugeTracksEachChannel(t *testing.T) {
	c := newTestCoordinator(newFakeProducer(), newFakeStore(), newFakeRepo(), &fakeSource{},
		WithOrdering(ordering.NewManager(ordering.WithHoldback(time.Hour))))

	mk := func(id, channel string) kafka.Message {
		raw, err := json.Marshal(domain.Event{
			ID:        id,
			Channel:   channel,
			Type:      domain.EventAssignmentUpdated,
			Timestamp: time.Now().UTC(),
		})
		require.NoError(t, err)
		return kafka.Message{Value: raw}
	}

	require.NoError(t, c.handleEvent(context.Background(), mk("ev-1", "conv-gauge-a")))
	require.NoError(t, c.handleEvent(context.Background(), mk("ev-2", "conv-gauge-a")))
	require.NoError(t, c.handleEvent(context.Background(), mk("ev-3", "conv-gauge-b")))

	assert.Equal(t, 2.0, testutil.ToFloat64(telemetry.EventsBuffered.WithLabelValues("conv-gauge-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(telemetry.EventsBuffered.WithLabelValues("conv-gauge-b")))
}
