package httpx

import (
	"errors"
	"net/http"

	"github.com/soundloom/soundloom/internal/domain/model"
	apperrors "github.com/soundloom/soundloom/internal/errors"
	"github.com/soundloom/soundloom/internal/monitor"
)

// GenerationHandlers provides HTTP handlers for generation tracking.
type GenerationHandlers struct {
	Monitor *monitor.Monitor
}

// createGenerationRequest is the POST body for starting a tracked generation.
type createGenerationRequest struct {
	ID       string            `json:"id"`
	TaskID   *string           `json:"taskId,omitempty"`
	Service  string            `json:"service"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateGeneration handles requests to start tracking a new generation. The
// owner is taken from the caller identity, never from the body.
func (h *GenerationHandlers) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req createGenerationRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	ownerID, ok := GetOwnerFromContext(r.Context())
	if !ok {
		WriteError(w, apperrors.Auth("caller identity is required"))
		return
	}

	gen, err := h.Monitor.Create(r.Context(), &model.CreateGenerationRequest{
		ID:       req.ID,
		TaskID:   req.TaskID,
		OwnerID:  ownerID,
		Service:  req.Service,
		Metadata: req.Metadata,
	})
	if err != nil {
		if errors.Is(err, monitor.ErrAlreadyTracked) {
			WriteError(w, apperrors.Conflict(err.Error()))
			return
		}
		WriteError(w, apperrors.Wrap(err, apperrors.ErrCodeValidation, "create generation"))
		return
	}

	WriteData(w, gen)
}

// GetGeneration handles requests for one tracked generation by id.
func (h *GenerationHandlers) GetGeneration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, apperrors.Validation("generation id is required"))
		return
	}

	ownerID, _ := GetOwnerFromContext(r.Context())
	gen, ok := h.Monitor.Get(id)
	if !ok || gen.OwnerID != ownerID {
		WriteError(w, apperrors.NotFound("generation not found"))
		return
	}

	WriteData(w, gen)
}

// ListActiveGenerations handles requests for the caller's in-flight generations.
func (h *GenerationHandlers) ListActiveGenerations(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := GetOwnerFromContext(r.Context())

	owned := make([]*model.Generation, 0)
	for _, gen := range h.Monitor.GetActive() {
		if gen.OwnerID == ownerID {
			owned = append(owned, gen)
		}
	}

	WriteData(w, owned)
}
