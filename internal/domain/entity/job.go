package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Job is one video sampling request, tracked from queue intake to archive upload.
type Job struct {
	ID               uuid.UUID
	UserID           string
	VideoKey         string
	ArchiveKey       string
	Status           JobStatus
	SamplingInterval time.Duration
	FrameCount       int
	FileSize         int64
	VideoDuration    float64
	Attempt          int
	MaxAttempts      int
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

func NewJob(userID, videoKey string, fileSize int64, interval time.Duration, maxAttempts int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:               uuid.New(),
		UserID:           userID,
		VideoKey:         videoKey,
		FileSize:         fileSize,
		SamplingInterval: interval,
		Status:           JobStatusPending,
		Attempt:          0,
		MaxAttempts:      maxAttempts,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.Attempt++
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) MarkCompleted(archiveKey string, frameCount int, duration float64) {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.ArchiveKey = archiveKey
	j.FrameCount = frameCount
	j.VideoDuration = duration
	j.UpdatedAt = now
	j.CompletedAt = &now
}

func (j *Job) MarkFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.ErrorMessage = errMsg
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) CanRetry() bool {
	return j.Attempt < j.MaxAttempts
}
