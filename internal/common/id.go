package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique analysis job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewSummaryID generates a unique intermediate summary ID with the "sum_" prefix
func NewSummaryID() string {
	return "sum_" + uuid.New().String()
}

// NewSessionID generates a unique session ID with the "ses_" prefix
func NewSessionID() string {
	return "ses_" + uuid.New().String()
}
