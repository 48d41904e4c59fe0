package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobAlreadyClaimed is returned when another worker owns the job.
	ErrJobAlreadyClaimed = errors.New("job already claimed by another worker")
	// ErrJobFinished is returned when claiming a job in a terminal state.
	ErrJobFinished = errors.New("job already finished")
	// ErrTargetNotFound is returned when a target result row does not exist.
	ErrTargetNotFound = errors.New("target result not found")
)
