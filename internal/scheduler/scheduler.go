// Package scheduler provides delayed, deduplicated task dispatch keyed by
// a caller-supplied lock key. Per key there is at most one pending and one
// running job; submitting over an existing pending job replaces it. Jobs
// are persisted so pending work survives a restart.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/procrasturbate/procrasturbate/internal/config"
	"github.com/procrasturbate/procrasturbate/internal/model"
	"github.com/procrasturbate/procrasturbate/internal/store"
	"github.com/procrasturbate/procrasturbate/pkg/errors"
	"github.com/procrasturbate/procrasturbate/pkg/idgen"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
	"github.com/procrasturbate/procrasturbate/pkg/telemetry"
)

const (
	// pollInterval bounds how late a due job can start when no submit
	// signal arrives.
	pollInterval = 500 * time.Millisecond

	// baseRetryDelay seeds the exponential backoff between attempts.
	baseRetryDelay = 10 * time.Second
)

// Job is one unit of scheduled work.
type Job struct {
	ID         string
	TaskName   string
	LockKey    string
	Payload    string
	RunAt      time.Time
	Attempt    int
	MaxRetries int
}

// UnmarshalPayload decodes the job's JSON payload into v.
func (j *Job) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal([]byte(j.Payload), v)
}

// Handler executes a job. A retryable error reschedules the job with
// backoff unless a newer pending job has taken the key.
type Handler func(ctx context.Context, job *Job) error

// keyState tracks the at-most-one-pending plus at-most-one-running
// invariant for a single lock key.
type keyState struct {
	pending *Job
	running *Job
}

// Scheduler dispatches jobs to registered handlers on a bounded worker
// pool. Jobs with the same lock key are serialized; jobs with different
// keys run in parallel.
type Scheduler struct {
	mu       sync.Mutex
	keys     map[string]*keyState
	handlers map[string]Handler

	jobs       store.JobStore
	workers    int
	maxRetries int
	shutdown   time.Duration
	metrics    *telemetry.Metrics

	jobReady chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a scheduler backed by the given job store.
func New(jobs store.JobStore, cfg config.SchedulerConfig, metrics *telemetry.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		keys:       make(map[string]*keyState),
		handlers:   make(map[string]Handler),
		jobs:       jobs,
		workers:    workers,
		maxRetries: cfg.MaxRetries,
		shutdown:   time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second,
		metrics:    metrics,
		jobReady:   make(chan struct{}, 100),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Register binds a task name to its handler. Must be called before Start.
func (s *Scheduler) Register(taskName string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskName] = handler
}

// Submit enqueues a job. An existing pending job with the same lock key is
// replaced and its slot reused; a running job is left alone and the new
// job waits behind it. An empty lock key disables deduplication.
func (s *Scheduler) Submit(taskName string, payload interface{}, delay time.Duration, lockKey string) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, "failed to encode job payload", err)
	}

	job := &Job{
		ID:         idgen.NewJobID(),
		TaskName:   taskName,
		LockKey:    lockKey,
		Payload:    string(data),
		RunAt:      time.Now().Add(delay),
		MaxRetries: s.maxRetries,
	}
	if job.LockKey == "" {
		// Unkeyed jobs never collide
		job.LockKey = "job:" + job.ID
	}

	s.mu.Lock()
	ks, ok := s.keys[job.LockKey]
	if !ok {
		ks = &keyState{}
		s.keys[job.LockKey] = ks
	}
	replaced := ks.pending
	ks.pending = job
	s.mu.Unlock()

	if replaced != nil {
		if err := s.jobs.Delete(replaced.ID); err != nil {
			logger.Warn("Failed to delete replaced job",
				zap.String("job_id", replaced.ID), zap.Error(err))
		}
		logger.Debug("Pending job replaced",
			zap.String("lock_key", job.LockKey),
			zap.String("old_job_id", replaced.ID),
			zap.String("new_job_id", job.ID),
		)
	} else {
		s.metrics.RecordQueueDepth(s.ctx, 1)
	}

	if err := s.jobs.Create(&model.SchedulerJob{
		ID:         job.ID,
		TaskName:   job.TaskName,
		LockKey:    job.LockKey,
		Payload:    job.Payload,
		RunAt:      job.RunAt,
		State:      model.JobStatePending,
		MaxRetries: job.MaxRetries,
	}); err != nil {
		return "", errors.Wrap(errors.ErrCodeDBQuery, "failed to persist job", err)
	}

	s.signalJobReady()
	return job.ID, nil
}

// RecoverJobs reloads persisted jobs at startup. Jobs left in the running
// state belong to a dead process and become runnable immediately.
func (s *Scheduler) RecoverJobs() error {
	rows, err := s.jobs.ListRecoverable()
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to list recoverable jobs", err)
	}

	s.mu.Lock()
	recovered := 0
	for i := range rows {
		row := rows[i]
		job := &Job{
			ID:         row.ID,
			TaskName:   row.TaskName,
			LockKey:    row.LockKey,
			Payload:    row.Payload,
			RunAt:      row.RunAt,
			Attempt:    row.Attempt,
			MaxRetries: row.MaxRetries,
		}
		if row.State == model.JobStateRunning {
			job.RunAt = time.Now()
		}

		ks, ok := s.keys[job.LockKey]
		if !ok {
			ks = &keyState{}
			s.keys[job.LockKey] = ks
		}
		// Keep the newest job when several rows share a key
		if ks.pending == nil || job.RunAt.After(ks.pending.RunAt) {
			ks.pending = job
		}
		recovered++
	}
	s.mu.Unlock()

	if recovered > 0 {
		logger.Info("Recovered scheduler jobs", zap.Int("count", recovered))
		s.signalJobReady()
	}
	return nil
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	logger.Info("Scheduler started", zap.Int("workers", s.workers))
}

// Stop cancels the pull loop and waits for in-flight handlers up to the
// shutdown timeout. Abandoned jobs re-appear as pending on restart.
func (s *Scheduler) Stop() {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timeout := s.shutdown
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
		logger.Info("Scheduler stopped")
	case <-time.After(timeout):
		logger.Warn("Scheduler shutdown timed out, abandoning in-flight jobs")
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.jobReady:
		case <-ticker.C:
		}

		for {
			if s.ctx.Err() != nil {
				return
			}
			job := s.dequeue()
			if job == nil {
				break
			}
			s.execute(job)
		}
	}
}

// dequeue claims a due pending job whose key has no running job.
func (s *Scheduler) dequeue() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, ks := range s.keys {
		if ks.running != nil || ks.pending == nil {
			continue
		}
		if ks.pending.RunAt.After(now) {
			continue
		}
		job := ks.pending
		ks.pending = nil
		ks.running = job
		return job
	}
	return nil
}

func (s *Scheduler) execute(job *Job) {
	s.mu.Lock()
	handler, ok := s.handlers[job.TaskName]
	s.mu.Unlock()

	if !ok {
		logger.Error("No handler registered for task",
			zap.String("task", job.TaskName), zap.String("job_id", job.ID))
		s.finish(job, nil, false)
		return
	}

	if err := s.jobs.SetState(job.ID, model.JobStateRunning); err != nil {
		logger.Warn("Failed to persist running state",
			zap.String("job_id", job.ID), zap.Error(err))
	}

	log := logger.Get().With(
		zap.String("job_id", job.ID),
		zap.String("task", job.TaskName),
		zap.String("lock_key", job.LockKey),
		zap.Int("attempt", job.Attempt),
	)
	log.Debug("Job started")

	err := handler(s.ctx, job)
	if err != nil {
		retryable := errors.IsRetryable(err)
		log.Warn("Job failed", zap.Error(err), zap.Bool("retryable", retryable))
		s.finish(job, err, retryable)
		return
	}

	log.Debug("Job finished")
	s.finish(job, nil, false)
}

// finish releases the key's running slot and applies the retry policy. A
// retry is dropped when a newer pending job has taken the key, since that
// job supersedes the failed work.
func (s *Scheduler) finish(job *Job, jobErr error, retryable bool) {
	s.mu.Lock()
	ks := s.keys[job.LockKey]
	if ks != nil {
		ks.running = nil
	}

	retried := false
	if jobErr != nil && retryable && job.Attempt < job.MaxRetries && ks != nil && ks.pending == nil {
		job.Attempt++
		job.RunAt = time.Now().Add(backoff(job.Attempt))
		ks.pending = job
		retried = true
	}

	if ks != nil && ks.pending == nil && ks.running == nil {
		delete(s.keys, job.LockKey)
	}
	hasMore := ks != nil && ks.pending != nil
	s.mu.Unlock()

	if retried {
		s.metrics.RecordRetry(context.Background(), job.TaskName)
		if err := s.jobs.UpdateRunAt(job.ID, job.RunAt, job.Attempt); err != nil {
			logger.Warn("Failed to persist retry schedule",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	} else {
		s.metrics.RecordQueueDepth(context.Background(), -1)
		if err := s.jobs.Delete(job.ID); err != nil {
			logger.Warn("Failed to delete finished job",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	if hasMore {
		s.signalJobReady()
	}
}

// backoff returns the exponential delay before the given attempt.
func backoff(attempt int) time.Duration {
	d := baseRetryDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (s *Scheduler) signalJobReady() {
	select {
	case s.jobReady <- struct{}{}:
	default:
		// A wakeup is already queued
	}
}

// CancelPending drops the pending job for a lock key, if any. A running
// job is unaffected.
func (s *Scheduler) CancelPending(lockKey string) bool {
	s.mu.Lock()
	ks, ok := s.keys[lockKey]
	var cancelled *Job
	if ok && ks.pending != nil {
		cancelled = ks.pending
		ks.pending = nil
		if ks.running == nil {
			delete(s.keys, lockKey)
		}
	}
	s.mu.Unlock()

	if cancelled == nil {
		return false
	}
	s.metrics.RecordQueueDepth(context.Background(), -1)
	if err := s.jobs.Delete(cancelled.ID); err != nil {
		logger.Warn("Failed to delete cancelled job",
			zap.String("job_id", cancelled.ID), zap.Error(err))
	}
	return true
}

// Stats holds point-in-time queue statistics.
type Stats struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Keys    int `json:"keys"`
}

// GetStats returns queue statistics.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Keys: len(s.keys)}
	for _, ks := range s.keys {
		if ks.pending != nil {
			stats.Pending++
		}
		if ks.running != nil {
			stats.Running++
		}
	}
	return stats
}

// PendingFor reports how many pending jobs hold the given lock key. By
// construction the answer is 0 or 1.
func (s *Scheduler) PendingFor(lockKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ks, ok := s.keys[lockKey]; ok && ks.pending != nil {
		return 1
	}
	return 0
}
