package models

import "errors"

var (
	// ErrJobNotFound is returned when an analysis job id has no row.
	// A running orchestrator treats this as the job having been deleted
	// mid-flight: subsequent writes are no-ops, not failures.
	ErrJobNotFound = errors.New("analysis job not found")

	// ErrSessionNotFound is returned when a session id has no row
	ErrSessionNotFound = errors.New("session not found")

	// ErrJobTerminal is returned when an operation (such as cancellation)
	// targets a job that has already reached a terminal state
	ErrJobTerminal = errors.New("analysis job is in a terminal state")
)
