package processing

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"go.flowcatalyst.tech/dispatch/internal/common/metrics"
	"go.flowcatalyst.tech/dispatch/internal/dispatchjob"
	"go.flowcatalyst.tech/dispatch/internal/router/model"
)

// JobProcessor runs one delivery attempt for a dispatch job.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string) *model.ProcessResponse
}

// Handler exposes the processing endpoint the router mediates against.
type Handler struct {
	processor JobProcessor
	auth      *dispatchjob.AuthService
}

// NewHandler creates the processing HTTP handler
func NewHandler(processor JobProcessor, auth *dispatchjob.AuthService) *Handler {
	return &Handler{
		processor: processor,
		auth:      auth,
	}
}

// RegisterRoutes registers the processing endpoint on the given router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/dispatch/process", h.Process)
}

// Process handles the router's callback for one dispatch job. The request
// carries the job ID and the per-job HMAC token the scheduler embedded in
// the message pointer; a token that does not match the job is rejected.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var req model.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.MessageID == "" {
		http.Error(w, "messageId is required", http.StatusBadRequest)
		return
	}

	token := bearerToken(r)
	if err := h.auth.ValidateToken(req.MessageID, token); err != nil {
		metrics.ProcessingJobs.WithLabelValues("rejected").Inc()
		http.Error(w, "invalid auth token", http.StatusUnauthorized)
		return
	}

	resp := h.processor.ProcessJob(r.Context(), req.MessageID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
