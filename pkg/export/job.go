package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a queued export.
type JobState string

const (
	// JobCreated is a job that was built but not yet handed to a submitter.
	JobCreated JobState = "created"
	// JobSubmitted is a job accepted by the job system.
	JobSubmitted JobState = "submitted"
	// JobRunning is a job picked up by a worker.
	JobRunning JobState = "running"
	// JobCompleted is a job whose export was stored.
	JobCompleted JobState = "completed"
	// JobFailed is a job whose export or chained jobs failed.
	JobFailed JobState = "failed"
)

// Terminal reports whether s is a final state.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job describes one deferred store of an export. It is immutable once built
// and serialises to JSON so any job system can carry it.
type Job struct {
	ID          string          `json:"id"`
	ExporterKey string          `json:"exporter"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Path        string          `json:"path"`
	Disk        string          `json:"disk,omitempty"`
	Format      Format          `json:"format"`
	DiskOptions DiskOptions     `json:"disk_options,omitempty"`
	Chain       []ChainedJob    `json:"chain,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`

	// Trace carries the trace context of the submitter across the transport.
	Trace map[string]string `json:"trace,omitempty"`
}

// ChainedJob is a follow-up task executed after the export was stored.
// Name selects a handler registered with the job system.
type ChainedJob struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewJob creates a job with a fresh ID.
func NewJob(key string, payload json.RawMessage, path, disk string, format Format, opts DiskOptions, chain []ChainedJob) *Job {
	return &Job{
		ID:          uuid.New().String(),
		ExporterKey: key,
		Payload:     payload,
		Path:        path,
		Disk:        disk,
		Format:      format,
		DiskOptions: opts,
		Chain:       chain,
		CreatedAt:   time.Now().UTC(),
	}
}

// Validate checks that a decoded job can be executed.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if j.ExporterKey == "" {
		return fmt.Errorf("job %s: exporter key is required", j.ID)
	}
	if j.Path == "" {
		return &NoDestinationError{}
	}
	if !j.Format.Valid() {
		return &UnresolvedFormatError{Name: j.Path, Requested: string(j.Format)}
	}
	return nil
}

// MarshalJob encodes a job for transport.
func MarshalJob(j *Job) ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return data, nil
}

// UnmarshalJob decodes and validates a job received from transport.
func UnmarshalJob(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

// QueuedJob is the handle returned once a job was submitted.
type QueuedJob struct {
	ID          string    `json:"id"`
	Job         *Job      `json:"job"`
	State       JobState  `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// JobStatus is the observable state of a job.
type JobStatus struct {
	ID        string      `json:"id"`
	State     JobState    `json:"state"`
	Path      string      `json:"path"`
	Disk      string      `json:"disk,omitempty"`
	Format    Format      `json:"format"`
	Error     string      `json:"error,omitempty"`
	Result    *StoredFile `json:"result,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// JobSubmitter hands jobs to a job system.
type JobSubmitter interface {
	Submit(ctx context.Context, job *Job) (*QueuedJob, error)
}

// JobRunner executes a job inside a worker.
type JobRunner interface {
	RunJob(ctx context.Context, job *Job) (*StoredFile, error)
}
