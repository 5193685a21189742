package entity

import "github.com/google/uuid"

// SamplingRequestMessage is the inbound message from the sampling.jobs queue.
// IntervalMs overrides the worker's default sampling interval when positive.
type SamplingRequestMessage struct {
	JobID      uuid.UUID `json:"job_id"`
	UserID     string    `json:"user_id"`
	VideoKey   string    `json:"video_key"`
	FileSize   int64     `json:"file_size"`
	IntervalMs int64     `json:"interval_ms,omitempty"`
	UserEmail  string    `json:"user_email"`
}

// SamplingStatusMessage is the outbound message published to the sampling.status queue.
type SamplingStatusMessage struct {
	JobID        uuid.UUID `json:"job_id"`
	UserID       string    `json:"user_id"`
	Status       JobStatus `json:"status"`
	VideoKey     string    `json:"video_key"`
	ArchiveKey   string    `json:"archive_key,omitempty"`
	FrameCount   int       `json:"frame_count,omitempty"`
	IntervalMs   int64     `json:"interval_ms,omitempty"`
	Duration     float64   `json:"duration_seconds,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempt      int       `json:"attempt"`
	MaxAttempts  int       `json:"max_attempts"`
}
