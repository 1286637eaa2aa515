package service

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a background job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobTypeEmbeddings rebuilds a model's embedding matrix from the catalog.
const JobTypeEmbeddings = "embeddings"

// Job represents a background processing job.
type Job struct {
	ID          string
	Type        string
	Status      JobStatus
	Model       string
	OutputPath  string
	Progress    int
	Total       int
	Result      *BuildResult
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time

	mu sync.RWMutex
}

// JobInfo is a point-in-time copy of a job, safe to serialize.
type JobInfo struct {
	ID          string       `json:"id" yaml:"id"`
	Type        string       `json:"type" yaml:"type"`
	Status      JobStatus    `json:"status" yaml:"status"`
	Model       string       `json:"model_name" yaml:"model_name"`
	OutputPath  string       `json:"output_path" yaml:"output_path"`
	Progress    int          `json:"progress" yaml:"progress"`
	Total       int          `json:"total" yaml:"total"`
	Result      *BuildResult `json:"result,omitempty" yaml:"result,omitempty"`
	Error       string       `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobInfo{
		ID:          j.ID,
		Type:        j.Type,
		Status:      j.Status,
		Model:       j.Model,
		OutputPath:  j.OutputPath,
		Progress:    j.Progress,
		Total:       j.Total,
		Result:      j.Result,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// JobManager tracks background jobs in memory.
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewJobManager creates a new job manager.
func NewJobManager(logger *slog.Logger) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		jobs:   make(map[string]*Job),
		logger: logger,
	}
}

// CreateJob creates a new pending job.
func (m *JobManager) CreateJob(jobType, model, outputPath string) *Job {
	job := &Job{
		ID:         uuid.New().String()[:8], // Short ID for convenience
		Type:       jobType,
		Status:     JobStatusPending,
		Model:      model,
		OutputPath: outputPath,
		StartedAt:  time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.logger.Info("job created", "job_id", job.ID, "type", jobType, "model", model, "output", outputPath)
	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all jobs, most recent first.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}

	// Sort by start time descending (most recent first)
	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})

	return jobs
}

// UpdateProgress records how many texts have been encoded.
func (m *JobManager) UpdateProgress(job *Job, current, total int) {
	job.mu.Lock()
	job.Progress = current
	job.Total = total
	if job.Status == JobStatusPending {
		job.Status = JobStatusRunning
	}
	job.mu.Unlock()
}

// SetRunning marks job as running.
func (m *JobManager) SetRunning(job *Job) {
	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()
}

// Complete marks job as completed with result.
func (m *JobManager) Complete(job *Job, result *BuildResult) {
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.Result = result
	job.Progress = result.Rows
	job.Total = result.Rows
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()

	m.logger.Info("job completed", "job_id", job.ID, "model", result.Model, "rows", result.Rows, "path", result.Path)
}

// Fail marks job as failed with error.
func (m *JobManager) Fail(job *Job, err error) {
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = err.Error()
	now := time.Now()
	job.CompletedAt = &now
	job.mu.Unlock()

	m.logger.Error("job failed", "job_id", job.ID, "error", err)
}
