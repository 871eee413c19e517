package models

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a conversion job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses along Queued -> Processing -> {Completed, Failed}.
func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next is a forward move.
// Terminal states never transition, and unknown states are rejected.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	from, to := s.rank(), next.rank()
	if from < 0 || to < 0 {
		return false
	}
	return to > from
}

// Backend is the execution strategy chosen for a job at creation.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "remote"
)

// Valid reports whether b names a known backend.
func (b Backend) Valid() bool {
	return b == BackendLocal || b == BackendRemote
}

// Job tracks one video-to-audio conversion. The API returns the id on submit;
// the client polls the status endpoint until status is completed or failed.
type Job struct {
	ID            string    `json:"jobId"`
	SourceURL     string    `json:"sourceUrl"`
	Status        Status    `json:"status"`
	Progress      int       `json:"progress"`
	Backend       Backend   `json:"backend"`
	ExternalJobID string    `json:"externalJobId,omitempty"`
	ResultURL     string    `json:"resultUrl,omitempty"`
	ErrorDetail   string    `json:"errorDetail,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	// Set once by the orchestrator when the job was handed to a remote worker.
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	// Fallback marks a local job created after remote delegation failed.
	Fallback bool `json:"fallback,omitempty"`

	ProcessingTime *int64          `json:"processingTime,omitempty"`
	ServiceType    string          `json:"serviceType,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	FinishedAt     *time.Time      `json:"finishedAt,omitempty"`
}
