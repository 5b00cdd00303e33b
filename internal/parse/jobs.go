package parse

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"finsight/internal/fault"
	"finsight/internal/models"

	"github.com/google/uuid"
)

// JobState tracks an asynchronous parse request.
type JobState string

const (
	JobPending JobState = "pending"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// Job is the status record for one submitted document.
type Job struct {
	ID          uuid.UUID        `json:"job_id"`
	State       JobState         `json:"state"`
	SubmittedAt time.Time        `json:"submitted_at"`
	Document    *models.Document `json:"document,omitempty"`
	ErrorKind   string           `json:"error_kind,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// JobRegistry runs parses in the background for the polling pattern on
// large documents.
type JobRegistry struct {
	orch    *Orchestrator
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

// NewJobRegistry creates a registry; timeout bounds each background parse.
func NewJobRegistry(orch *Orchestrator, timeout time.Duration, logger *slog.Logger) *JobRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRegistry{
		orch:    orch,
		timeout: timeout,
		jobs:    make(map[uuid.UUID]*Job),
		logger:  logger,
	}
}

// Submit enqueues a parse and returns its job ID immediately.
func (r *JobRegistry) Submit(data []byte) uuid.UUID {
	id := uuid.New()
	job := &Job{ID: id, State: JobPending, SubmittedAt: time.Now().UTC()}

	r.mu.Lock()
	r.jobs[id] = job
	r.mu.Unlock()

	go r.run(id, data)
	return id
}

// Job returns the current status of a submitted parse.
func (r *JobRegistry) Job(id uuid.UUID) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

func (r *JobRegistry) run(id uuid.UUID, data []byte) {
	r.setState(id, func(j *Job) { j.State = JobRunning })

	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	doc, err := r.orch.Parse(ctx, data)
	if err != nil {
		r.logger.Warn("background parse failed", "job_id", id, "error", err)
		r.setState(id, func(j *Job) {
			j.State = JobFailed
			j.ErrorKind = string(fault.KindOf(err))
			j.Error = err.Error()
		})
		return
	}
	r.setState(id, func(j *Job) {
		j.State = JobDone
		j.Document = doc
	})
}

func (r *JobRegistry) setState(id uuid.UUID, mutate func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		mutate(job)
	}
}
