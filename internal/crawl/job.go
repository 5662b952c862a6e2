package crawl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStatus is a crawl job's position in the PENDING -> RUNNING ->
// {COMPLETED, FAILED, CANCELLED} state machine.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobProgress is a point-in-time snapshot of a running job's counters.
type JobProgress struct {
	TotalURLs     int
	CompletedURLs int
	FailedURLs    int
}

// Job is the externally visible state of one batch crawl.
type Job struct {
	ID          string
	Status      JobStatus
	Progress    JobProgress
	Error       string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// job is the internal, mutable record backing a Job snapshot. cancel is
// invoked by JobService.Cancel; it is nil once the job reaches a terminal
// state and its goroutine has exited.
type job struct {
	mu     sync.Mutex
	record Job
	cancel context.CancelFunc
}

func (j *job) snapshot() Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.record
}

// JobService tracks in-flight and completed batch crawl jobs in memory,
// keyed by a generated UUID. It does not persist across restarts.
type JobService struct {
	mu     sync.RWMutex
	jobs   map[string]*job
	logger *zap.Logger
}

// NewJobService builds an empty JobService.
func NewJobService(logger *zap.Logger) *JobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobService{jobs: make(map[string]*job), logger: logger}
}

// Create registers a new PENDING job with totalURLs already known, and
// returns its generated id plus a context that Cancel will cancel.
func (s *JobService) Create(parent context.Context, totalURLs int) (string, context.Context, context.CancelFunc) {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(parent)

	j := &job{
		record: Job{
			ID:        id,
			Status:    JobPending,
			Progress:  JobProgress{TotalURLs: totalURLs},
			CreatedAt: time.Now(),
		},
		cancel: cancel,
	}

	s.mu.Lock()
	s.jobs[id] = j
	s.mu.Unlock()

	return id, ctx, cancel
}

// Start transitions a job from PENDING to RUNNING.
func (s *JobService) Start(id string) {
	j := s.get(id)
	if j == nil {
		return
	}
	j.mu.Lock()
	j.record.Status = JobRunning
	j.record.StartedAt = time.Now()
	j.mu.Unlock()
}

// RecordSuccess increments the completed-URL counter.
func (s *JobService) RecordSuccess(id string) {
	j := s.get(id)
	if j == nil {
		return
	}
	j.mu.Lock()
	j.record.Progress.CompletedURLs++
	j.mu.Unlock()
}

// RecordFailure increments the failed-URL counter.
func (s *JobService) RecordFailure(id string) {
	j := s.get(id)
	if j == nil {
		return
	}
	j.mu.Lock()
	j.record.Progress.FailedURLs++
	j.mu.Unlock()
}

// Complete marks a job COMPLETED or FAILED depending on whether err is nil.
// Calling Complete on an already-cancelled job is a no-op: CANCELLED wins.
func (s *JobService) Complete(id string, err error) {
	j := s.get(id)
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.record.Status == JobCancelled {
		return
	}
	j.record.CompletedAt = time.Now()
	if err != nil {
		j.record.Status = JobFailed
		j.record.Error = err.Error()
	} else {
		j.record.Status = JobCompleted
	}
}

// Cancel requests cancellation of a job's context. The job transitions to
// CANCELLED immediately; the crawl itself stops on a best-effort basis as
// in-flight tasks observe ctx.Done().
func (s *JobService) Cancel(id string) error {
	j := s.get(id)
	if j == nil {
		return fmt.Errorf("crawl: unknown job %q", id)
	}
	j.mu.Lock()
	terminal := j.record.Status == JobCompleted || j.record.Status == JobFailed || j.record.Status == JobCancelled
	if !terminal {
		j.record.Status = JobCancelled
		j.record.CompletedAt = time.Now()
	}
	cancel := j.cancel
	j.mu.Unlock()

	if terminal {
		return fmt.Errorf("crawl: job %q already finished", id)
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Get returns a job's current snapshot.
func (s *JobService) Get(id string) (Job, bool) {
	j := s.get(id)
	if j == nil {
		return Job{}, false
	}
	return j.snapshot(), true
}

// List returns a snapshot of every tracked job, most recently created first.
func (s *JobService) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

func (s *JobService) get(id string) *job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}
