package httpx

import (
	"net/http"
	"time"

	apperrors "github.com/soundloom/soundloom/internal/errors"
	"github.com/soundloom/soundloom/internal/service"
)

// MaterializeHandlers provides HTTP handlers for the materialization pipeline.
type MaterializeHandlers struct {
	Svc *service.Materializer
}

// materializeRequest is the POST body. One of GenerationID or TaskID is required.
type materializeRequest struct {
	GenerationID string `json:"generationId,omitempty"`
	TaskID       string `json:"taskId,omitempty"`
	ExternalURL  string `json:"externalUrl"`
	Filename     string `json:"filename,omitempty"`
}

// materializeResponse is the success payload. Duplicate is true when the call
// performed no new work.
type materializeResponse struct {
	GenerationID  string    `json:"generationId"`
	TrackID       string    `json:"trackId,omitempty"`
	LocalAudioURL string    `json:"localAudioUrl,omitempty"`
	StoragePath   string    `json:"storagePath,omitempty"`
	FileSize      int64     `json:"fileSize,omitempty"`
	DownloadedAt  time.Time `json:"downloadedAt,omitzero"`
	Duplicate     bool      `json:"duplicate,omitempty"`
}

// Materialize handles POST requests to fetch and persist a generation's
// artifact. Duplicate and already-materialized calls succeed with the
// existing result.
func (h *MaterializeHandlers) Materialize(w http.ResponseWriter, r *http.Request) {
	var req materializeRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	ownerID, ok := GetOwnerFromContext(r.Context())
	if !ok {
		WriteError(w, apperrors.Auth("caller identity is required"))
		return
	}

	outcome, err := h.Svc.Materialize(r.Context(), service.MaterializeRequest{
		GenerationID: req.GenerationID,
		TaskID:       req.TaskID,
		ExternalURL:  req.ExternalURL,
		Filename:     req.Filename,
		CallerID:     ownerID,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteData(w, materializeResponse{
		GenerationID:  outcome.Result.GenerationID,
		TrackID:       outcome.Result.TrackID,
		LocalAudioURL: outcome.Result.PublicURL,
		StoragePath:   outcome.Result.StoragePath,
		FileSize:      outcome.Result.ByteSize,
		DownloadedAt:  outcome.Result.DownloadedAt,
		Duplicate:     outcome.Duplicate,
	})
}
