package assigner

import (
	"context"
	"log/slog"
	"time"

	"github.com/lawrns/camp-sub015/internal/domain"
	"github.com/lawrns/camp-sub015/internal/guard"
	"github.com/lawrns/camp-sub015/internal/kafka"
	"github.com/lawrns/camp-sub015/internal/postgres"
	redisstore "github.com/lawrns/camp-sub015/internal/redis"
	"github.com/lawrns/camp-sub015/pkg/telemetry"
)

// Sweeper expires overdue pending conversations on a fixed interval.
// Leader election over Redis keeps the sweep single-writer when multiple
// assigner instances run: followers tick but do nothing.
type Sweeper struct {
	leader   Leaseholder
	queue    queueSweeper
	repo     postgres.Repository
	store    redisstore.StateStore
	producer kafka.Producer
	finalize *guard.SequentialQueue
	interval time.Duration
	logger   *slog.Logger
}

// Leaseholder is the leadership contract, satisfied by redis.Leader.
type Leaseholder interface {
	AcquireOrRenew(ctx context.Context) bool
	Resign(ctx context.Context)
}

// queueSweeper is the slice of the queue the sweeper needs.
type queueSweeper interface {
	SweepExpired(now time.Time) []domain.WorkItem
}

// NewSweeper wires a Sweeper around the coordinator's queue.
func NewSweeper(
	leader Leaseholder,
	queue queueSweeper,
	repo postgres.Repository,
	store redisstore.StateStore,
	producer kafka.Producer,
	interval time.Duration,
	logger *slog.Logger,
) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sweeper{
		leader:   leader,
		queue:    queue,
		repo:     repo,
		store:    store,
		producer: producer,
		finalize: guard.NewSequentialQueue(logger),
		interval: interval,
		logger:   logger,
	}
}

// Run ticks until ctx is cancelled, then resigns leadership.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.finalize.Wait()
			resignCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			s.leader.Resign(resignCtx)
			cancel()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if !s.leader.AcquireOrRenew(ctx) {
		return
	}

	now := time.Now().UTC()
	// Finalization (persist + publish) runs off the tick goroutine through the
	// sequential queue, so a slow Kafka broker cannot delay the next sweep but
	// items still settle in expiry order.
	for _, item := range s.queue.SweepExpired(now) {
		id := item.ID
		s.finalize.Submit(ctx, "finalize expired "+id, func(ctx context.Context) error {
			if err := s.repo.UpdateWorkItemStatus(ctx, id, domain.WorkItemExpired); err != nil {
				s.logger.Error("persist expired status",
					slog.String("conversation_id", id),
					slog.String("error", err.Error()),
				)
			}
			if err := s.store.SetWorkItemStatus(ctx, id, domain.WorkItemExpired); err != nil {
				s.logger.Error("cache expired status",
					slog.String("conversation_id", id),
					slog.String("error", err.Error()),
				)
			}
			record := CommittedRecord{
				WorkItemID: id,
				Outcome:    domain.OutcomeExpired,
				ResolvedAt: now,
			}
			if err := kafka.PublishJSON(ctx, s.producer, TopicCommitted, id, record); err != nil {
				return err
			}
			telemetry.QueueExpiredTotal.Inc()
			telemetry.AssignmentOutcomes.WithLabelValues(string(domain.OutcomeExpired)).Inc()
			s.logger.Info("conversation expired by sweep", slog.String("conversation_id", id))
			return nil
		})
	}
}
