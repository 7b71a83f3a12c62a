package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lawrns/camp-sub015/internal/domain"
	"github.com/lawrns/camp-sub015/internal/kafka"
	"github.com/lawrns/camp-sub015/internal/postgres"
	redisstore "github.com/lawrns/camp-sub015/internal/redis"
	"github.com/lawrns/camp-sub015/pkg/telemetry"
)

const (
	pendingTopic = "conversations.pending"
	commandTopic = "assignments.commands"
)

// REST handles HTTP requests for the Camp Assign API.
type REST struct {
	producer kafka.Producer
	store    redisstore.StateStore
	repo     postgres.Repository
	logger   *slog.Logger
}

// NewREST creates a new REST handler.
func NewREST(producer kafka.Producer, store redisstore.StateStore, repo postgres.Repository, logger *slog.Logger) *REST {
	return &REST{producer: producer, store: store, repo: repo, logger: logger}
}

// SubmitConversationRequest is the JSON body for POST /api/v1/conversations.
type SubmitConversationRequest struct {
	ID               string   `json:"id,omitempty"`
	RequiredSkills   []string `json:"required_skills,omitempty"`
	Priority         string   `json:"priority,omitempty"`
	ExpiresInSeconds int      `json:"expires_in_seconds,omitempty"`
}

// SubmitConversationResponse is the 202 response body.
type SubmitConversationResponse struct {
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	Priority       string    `json:"priority"`
	ArrivedAt      time.Time `json:"arrived_at"`
}

// ManualAssignRequest is the JSON body for POST /api/v1/conversations/{id}/assign.
type ManualAssignRequest struct {
	CandidateID string `json:"candidate_id"`
	AssignedBy  string `json:"assigned_by"`
	Reason      string `json:"reason,omitempty"`
}

// ConversationStatusResponse is the GET /conversations/{id} response body.
type ConversationStatusResponse struct {
	ConversationID string             `json:"conversation_id"`
	Status         string             `json:"status"`
	Priority       string             `json:"priority"`
	Attempts       int                `json:"attempts"`
	ArrivedAt      time.Time          `json:"arrived_at"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
	Assignment     *domain.Assignment `json:"assignment,omitempty"`
}

// QueueStatsResponse is the GET /queue/stats response body.
type QueueStatsResponse struct {
	Pending      int `json:"pending"`
	Failed       int `json:"failed"`
	HighPriority int `json:"high_priority"`
}

// SubmitConversation handles POST /api/v1/conversations.
func (h *REST) SubmitConversation(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api").Start(r.Context(), "api.submit_conversation")
	defer span.End()

	var req SubmitConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ExpiresInSeconds < 0 {
		writeError(w, http.StatusBadRequest, "field 'expires_in_seconds' must not be negative")
		return
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()

	span.SetAttributes(attribute.String("conversation.id", id))

	item := domain.WorkItem{
		ID:             id,
		RequiredSkills: req.RequiredSkills,
		Priority:       domain.ParsePriority(req.Priority),
		Status:         domain.WorkItemPending,
		ArrivedAt:      now,
		UpdatedAt:      now,
	}
	if req.ExpiresInSeconds > 0 {
		item.ExpiresAt = now.Add(time.Duration(req.ExpiresInSeconds) * time.Second)
	}

	// Persist to PostgreSQL first: the record exists before the assigner can
	// race it. The insert is idempotent on conversation ID.
	if err := h.repo.CreateWorkItem(ctx, &item); err != nil {
		h.logger.Error("failed to persist conversation", slog.String("conversation_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	if err := h.store.SetWorkItemStatus(ctx, id, domain.WorkItemPending); err != nil {
		h.logger.Error("failed to set conversation status", slog.String("conversation_id", id), slog.String("error", err.Error()))
		// Non-fatal: Redis is the hot cache, Postgres already has the record.
	}

	// Conversation ID as message key keeps per-conversation ordering.
	if err := kafka.PublishJSON(ctx, h.producer, pendingTopic, id, item); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "kafka publish failed")
		h.logger.Error("failed to publish conversation", slog.String("conversation_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to enqueue conversation")
		return
	}

	telemetry.APIConversationsSubmitted.WithLabelValues(item.Priority.String()).Inc()
	h.logger.Info("conversation submitted",
		slog.String("conversation_id", id),
		slog.String("priority", item.Priority.String()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitConversationResponse{
		ConversationID: id,
		Status:         string(domain.WorkItemPending),
		Priority:       item.Priority.String(),
		ArrivedAt:      now,
	})
}

// ManualAssign handles POST /api/v1/conversations/{id}/assign. The command
// rides the same Kafka pipeline as auto-assignment so the commit path is
// identical either way.
func (h *REST) ManualAssign(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api").Start(r.Context(), "api.manual_assign")
	defer span.End()

	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation ID is required")
		return
	}

	var req ManualAssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.CandidateID) == "" {
		writeError(w, http.StatusBadRequest, "field 'candidate_id' is required")
		return
	}

	span.SetAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("candidate.id", req.CandidateID),
	)

	// Reject commands for unknown conversations up front.
	if _, err := h.repo.GetWorkItem(ctx, conversationID); err != nil {
		var notFound *domain.WorkItemNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("postgres error", slog.String("conversation_id", conversationID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	cmd := map[string]string{
		"work_item_id": conversationID,
		"candidate_id": req.CandidateID,
		"assigned_by":  req.AssignedBy,
		"reason":       req.Reason,
	}
	if err := kafka.PublishJSON(ctx, h.producer, commandTopic, conversationID, cmd); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "kafka publish failed")
		h.logger.Error("failed to publish command", slog.String("conversation_id", conversationID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to submit assignment")
		return
	}

	telemetry.APIManualAssignments.Inc()
	h.logger.Info("manual assignment submitted",
		slog.String("conversation_id", conversationID),
		slog.String("candidate_id", req.CandidateID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"conversation_id": conversationID,
		"candidate_id":    req.CandidateID,
		"status":          "submitted",
	})
}

// GetConversation handles GET /api/v1/conversations/{id}.
func (h *REST) GetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation ID is required")
		return
	}

	ctx := r.Context()

	item, err := h.repo.GetWorkItem(ctx, conversationID)
	if err != nil {
		var notFound *domain.WorkItemNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("postgres error", slog.String("conversation_id", conversationID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve conversation")
		return
	}

	// Live status from Redis when available (the assigner may be ahead of
	// the last Postgres write we read).
	if status, err := h.store.GetWorkItemStatus(ctx, conversationID); err == nil {
		item.Status = status
	}

	resp := ConversationStatusResponse{
		ConversationID: item.ID,
		Status:         string(item.Status),
		Priority:       item.Priority.String(),
		Attempts:       item.Attempts,
		ArrivedAt:      item.ArrivedAt,
	}
	if !item.ExpiresAt.IsZero() {
		resp.ExpiresAt = &item.ExpiresAt
	}

	if a, err := h.store.GetAssignment(ctx, conversationID); err == nil {
		resp.Assignment = a
	} else if a, err := h.repo.GetActiveAssignment(ctx, conversationID); err == nil {
		resp.Assignment = a
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetQueueStats handles GET /api/v1/queue/stats.
func (h *REST) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	pending, failed, high, err := h.repo.QueueCounts(r.Context())
	if err != nil {
		h.logger.Error("queue counts", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(QueueStatsResponse{
		Pending:      pending,
		Failed:       failed,
		HighPriority: high,
	})
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Readyz handles GET /readyz — checks Redis connectivity.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.store.GetWorkItemStatus(ctx, "__readyz__"); err != nil {
		var notFound *domain.WorkItemNotFoundError
		if !errors.As(err, &notFound) {
			writeError(w, http.StatusServiceUnavailable, "redis not ready")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
