package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrGenerationNotFound is returned when a generation is not found.
	ErrGenerationNotFound = errors.New("generation not found")
	// ErrGenerationExists is returned when creating a generation whose id is already stored.
	ErrGenerationExists = errors.New("generation already exists")
	// ErrTrackNotFound is returned when no track row exists for a generation.
	ErrTrackNotFound = errors.New("track not found")
)
