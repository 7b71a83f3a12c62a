package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lawrns/camp-sub015/internal/domain"
)

// Repository abstracts all database access for work items and assignments.
// Postgres is the system of record; Redis carries the hot state.
type Repository interface {
	CreateWorkItem(ctx context.Context, item *domain.WorkItem) error
	UpdateWorkItemStatus(ctx context.Context, id string, status domain.WorkItemStatus) error
	GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error)

	QueueCounts(ctx context.Context) (pending, failed, highPriority int, err error)

	CreateAssignment(ctx context.Context, a *domain.Assignment) error
	UpdateAssignmentStatus(ctx context.Context, id string, status domain.AssignmentStatus) error
	GetActiveAssignment(ctx context.Context, workItemID string) (*domain.Assignment, error)
	CountActiveByCandidate(ctx context.Context, candidateID string) (int, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the Repository interface.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *repository) CreateWorkItem(ctx context.Context, item *domain.WorkItem) error {
	var expiresAt *time.Time
	if !item.ExpiresAt.IsZero() {
		expiresAt = &item.ExpiresAt
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO work_items
			(id, required_skills, priority, status, attempts, arrived_at, expires_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`,
		item.ID, item.RequiredSkills, int(item.Priority), string(item.Status),
		item.Attempts, item.ArrivedAt, expiresAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create work item %s: %w", item.ID, err)
	}
	return nil
}

func (r *repository) UpdateWorkItemStatus(ctx context.Context, id string, status domain.WorkItemStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE work_items SET status = $1, updated_at = $2 WHERE id = $3
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update status for work item %s: %w", id, err)
	}
	return nil
}

func (r *repository) GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, required_skills, priority, status, attempts, arrived_at, expires_at, updated_at
		FROM work_items
		WHERE id = $1
	`, id)

	var item domain.WorkItem
	var priority int
	var statusStr string
	var expiresAt *time.Time
	err := row.Scan(
		&item.ID, &item.RequiredSkills, &priority, &statusStr,
		&item.Attempts, &item.ArrivedAt, &expiresAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.WorkItemNotFoundError{WorkItemID: id}
		}
		return nil, fmt.Errorf("scan work item: %w", err)
	}
	item.Priority = domain.Priority(priority)
	item.Status = domain.WorkItemStatus(statusStr)
	if expiresAt != nil {
		item.ExpiresAt = *expiresAt
	}
	return &item, nil
}

// QueueCounts reports conversation counts by state for the stats endpoint.
// high-priority counts pending items at high or urgent priority.
func (r *repository) QueueCounts(ctx context.Context) (pending, failed, highPriority int, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COUNT(*) FILTER (WHERE status = 'PENDING' AND priority >= $1)
		FROM work_items
	`, int(domain.PriorityHigh)).Scan(&pending, &failed, &highPriority)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("queue counts: %w", err)
	}
	return pending, failed, highPriority, nil
}

// CreateAssignment inserts an assignment row. The partial unique index on
// non-terminal assignments turns a lost commit race into an
// AlreadyAssignedError, the database being the last line of defence under
// the one-active-assignment invariant.
func (r *repository) CreateAssignment(ctx context.Context, a *domain.Assignment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO assignments
			(id, work_item_id, candidate_id, assigned_by, reason, priority, score, status, version, assigned_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		a.ID, a.WorkItemID, a.CandidateID, a.AssignedBy, a.Reason,
		int(a.Priority), a.Score, string(a.Status), a.Version, a.AssignedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &domain.AlreadyAssignedError{
				WorkItemID: a.WorkItemID,
				Status:     domain.WorkItemAssigned,
			}
		}
		return fmt.Errorf("create assignment for %s: %w", a.WorkItemID, err)
	}
	return nil
}

func (r *repository) UpdateAssignmentStatus(ctx context.Context, id string, status domain.AssignmentStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE assignments
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status NOT IN ('COMPLETED', 'ESCALATED')
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update assignment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Terminal states are final; refusing the write keeps them so.
		return &domain.ConflictError{EntityID: id}
	}
	return nil
}

func (r *repository) GetActiveAssignment(ctx context.Context, workItemID string) (*domain.Assignment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, work_item_id, candidate_id, assigned_by, reason, priority, score, status, version, assigned_at, updated_at
		FROM assignments
		WHERE work_item_id = $1 AND status NOT IN ('COMPLETED', 'ESCALATED')
	`, workItemID)

	var a domain.Assignment
	var priority int
	var statusStr string
	err := row.Scan(
		&a.ID, &a.WorkItemID, &a.CandidateID, &a.AssignedBy, &a.Reason,
		&priority, &a.Score, &statusStr, &a.Version, &a.AssignedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.WorkItemNotFoundError{WorkItemID: workItemID}
		}
		return nil, fmt.Errorf("scan assignment: %w", err)
	}
	a.Priority = domain.Priority(priority)
	a.Status = domain.AssignmentStatus(statusStr)
	return &a, nil
}

// CountActiveByCandidate returns the candidate's committed active load,
// used to enforce the max-load invariant at commit time.
func (r *repository) CountActiveByCandidate(ctx context.Context, candidateID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM assignments
		WHERE candidate_id = $1 AND status NOT IN ('COMPLETED', 'ESCALATED')
	`, candidateID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active for candidate %s: %w", candidateID, err)
	}
	return n, nil
}
