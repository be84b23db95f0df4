// Package model defines the core data types and structures used throughout the soundloom generation system.
package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// GenerationStatus represents the overall status of a generation.
type GenerationStatus string

// StageStatus represents the status of a single lifecycle stage.
type StageStatus string

const (
	// GenerationStatusPending indicates a generation is waiting to start.
	GenerationStatusPending GenerationStatus = "pending"
	// GenerationStatusProcessing indicates a generation has at least one running stage.
	GenerationStatusProcessing GenerationStatus = "processing"
	// GenerationStatusCompleted indicates every stage finished successfully.
	GenerationStatusCompleted GenerationStatus = "completed"
	// GenerationStatusFailed indicates a stage errored.
	GenerationStatusFailed GenerationStatus = "failed"

	// StageStatusPending indicates a stage has not started.
	StageStatusPending StageStatus = "pending"
	// StageStatusRunning indicates a stage is in flight.
	StageStatusRunning StageStatus = "running"
	// StageStatusCompleted indicates a stage finished successfully.
	StageStatusCompleted StageStatus = "completed"
	// StageStatusError indicates a stage failed.
	StageStatusError StageStatus = "error"
)

// Valid returns true if the GenerationStatus is valid.
func (s GenerationStatus) Valid() bool {
	return s == GenerationStatusPending || s == GenerationStatusProcessing ||
		s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// Terminal returns true once a generation can no longer change status.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// Valid returns true if the StageStatus is valid.
func (s StageStatus) Valid() bool {
	return s == StageStatusPending || s == StageStatusRunning ||
		s == StageStatusCompleted || s == StageStatusError
}

// Terminal returns true once a stage can no longer change status.
func (s StageStatus) Terminal() bool {
	return s == StageStatusCompleted || s == StageStatusError
}

// Stage is one ordered, named step in a generation's lifecycle.
type Stage struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Status       StageStatus `json:"status"`
	StartTime    *time.Time  `json:"start_time,omitempty"`
	EndTime      *time.Time  `json:"end_time,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Progress     int         `json:"progress,omitempty"`
}

// StageUpdate is a partial stage mutation merged by the monitor. Nil fields
// leave the existing values untouched.
type StageUpdate struct {
	Status       *StageStatus
	ErrorMessage *string
	Progress     *int
}

// DefaultStageIDs returns the fixed, ordered stage pipeline every generation
// moves through.
func DefaultStageIDs() []string {
	return []string{"validate", "enqueue", "generate", "post-process", "persist"}
}

// NewStages builds the initial pending stage list for a generation.
func NewStages() []Stage {
	names := map[string]string{
		"validate":     "Validate request",
		"enqueue":      "Submit to provider",
		"generate":     "Generate audio",
		"post-process": "Post-process result",
		"persist":      "Persist result",
	}

	ids := DefaultStageIDs()
	stages := make([]Stage, 0, len(ids))
	for _, id := range ids {
		stages = append(stages, Stage{
			ID:     id,
			Name:   names[id],
			Status: StageStatusPending,
		})
	}
	return stages
}

// Generation represents one asynchronous content-creation request tracked end-to-end.
type Generation struct {
	ID              string            `json:"id"                       db:"id"`
	TaskID          *string           `json:"task_id,omitempty"        db:"task_id"`
	OwnerID         string            `json:"owner_id"                 db:"owner_id"`
	Service         string            `json:"service"                  db:"service"`
	Status          GenerationStatus  `json:"status"                   db:"status"`
	Stages          []Stage           `json:"stages"`
	CurrentStage    string            `json:"current_stage,omitempty"`
	OverallProgress int               `json:"overall_progress"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	LastError       *string           `json:"last_error,omitempty"     db:"last_error"`
	CreatedAt       time.Time         `json:"created_at"               db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"               db:"updated_at"`
}

// Metadata keys set by the materialization pipeline.
const (
	MetaLocalStoragePath = "localStoragePath"
	MetaProviderURL      = "providerUrl"
)

// StageByID returns a pointer to the named stage, or nil if unknown.
func (g *Generation) StageByID(stageID string) *Stage {
	for i := range g.Stages {
		if g.Stages[i].ID == stageID {
			return &g.Stages[i]
		}
	}
	return nil
}

// CompletedStageCount returns how many stages have completed.
func (g *Generation) CompletedStageCount() int {
	n := 0
	for i := range g.Stages {
		if g.Stages[i].Status == StageStatusCompleted {
			n++
		}
	}
	return n
}

// ComputeProgress derives overall progress from completed stages,
// rounded to the nearest whole percent.
func (g *Generation) ComputeProgress() int {
	if len(g.Stages) == 0 {
		return 0
	}
	return int(math.Round(100 * float64(g.CompletedStageCount()) / float64(len(g.Stages))))
}

// DeriveStatus computes the overall status from stage states: failed if any
// stage errored, completed iff every stage completed, processing while any
// stage runs or some have completed, pending otherwise.
func (g *Generation) DeriveStatus() GenerationStatus {
	completed := 0
	active := false
	for i := range g.Stages {
		switch g.Stages[i].Status {
		case StageStatusError:
			return GenerationStatusFailed
		case StageStatusCompleted:
			completed++
		case StageStatusRunning:
			active = true
		}
	}

	if len(g.Stages) > 0 && completed == len(g.Stages) {
		return GenerationStatusCompleted
	}
	if active || completed > 0 {
		return GenerationStatusProcessing
	}
	return GenerationStatusPending
}

// Clone returns a deep copy so callers can hand state to subscribers without
// sharing mutable slices or maps.
func (g *Generation) Clone() *Generation {
	cp := *g
	cp.Stages = make([]Stage, len(g.Stages))
	copy(cp.Stages, g.Stages)
	if g.Metadata != nil {
		cp.Metadata = make(map[string]string, len(g.Metadata))
		for k, v := range g.Metadata {
			cp.Metadata[k] = v
		}
	}
	if g.TaskID != nil {
		id := *g.TaskID
		cp.TaskID = &id
	}
	if g.LastError != nil {
		msg := *g.LastError
		cp.LastError = &msg
	}
	return &cp
}

// CreateGenerationRequest represents a request to create and track a new generation.
type CreateGenerationRequest struct {
	ID       string            `json:"id"`
	TaskID   *string           `json:"task_id,omitempty"`
	OwnerID  string            `json:"owner_id"`
	Service  string            `json:"service"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate validates the CreateGenerationRequest fields.
func (r *CreateGenerationRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("generation id is required")
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		return errors.New("owner id is required")
	}
	if strings.TrimSpace(r.Service) == "" {
		return errors.New("service is required")
	}
	return nil
}

// MaterializedResult records the single durable outcome of a materialization.
type MaterializedResult struct {
	GenerationID string    `json:"generation_id" db:"generation_id"`
	TrackID      string    `json:"track_id"      db:"track_id"`
	StoragePath  string    `json:"storage_path"  db:"storage_path"`
	PublicURL    string    `json:"public_url"    db:"public_url"`
	ByteSize     int64     `json:"byte_size"     db:"byte_size"`
	DownloadedAt time.Time `json:"downloaded_at" db:"downloaded_at"`
}

// ErrorContext is one append-only retry history entry for a failed attempt.
type ErrorContext struct {
	GenerationID string    `json:"generation_id"`
	Stage        string    `json:"stage"`
	Attempt      int       `json:"attempt"`
	Err          error     `json:"-"`
	Message      string    `json:"error"`
	Timestamp    time.Time `json:"timestamp"`
}

// String renders the entry for logs.
func (e ErrorContext) String() string {
	return fmt.Sprintf("%s/%s attempt %d: %s", e.GenerationID, e.Stage, e.Attempt, e.Message)
}
