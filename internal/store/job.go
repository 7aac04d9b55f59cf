package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/procrasturbate/procrasturbate/internal/model"
)

// JobStore defines persistence operations for scheduler jobs. The scheduler
// keeps its authoritative state in memory; these rows exist so pending work
// survives a process restart.
type JobStore interface {
	Create(job *model.SchedulerJob) error
	SetState(id string, state model.JobState) error
	UpdateRunAt(id string, runAt time.Time, attempt int) error
	Delete(id string) error
	DeleteByLockKeyAndState(lockKey string, state model.JobState) error

	// ListRecoverable returns jobs to re-enqueue at startup. Rows left in
	// the running state belong to a process that died mid-execution and are
	// treated as pending again.
	ListRecoverable() ([]model.SchedulerJob, error)
}

// jobStore implements JobStore using GORM.
type jobStore struct {
	db *gorm.DB
}

func newJobStore(db *gorm.DB) JobStore {
	return &jobStore{db: db}
}

func (s *jobStore) Create(job *model.SchedulerJob) error {
	return s.db.Create(job).Error
}

func (s *jobStore) SetState(id string, state model.JobState) error {
	return s.db.Model(&model.SchedulerJob{}).Where("id = ?", id).
		Update("state", state).Error
}

func (s *jobStore) UpdateRunAt(id string, runAt time.Time, attempt int) error {
	return s.db.Model(&model.SchedulerJob{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"run_at":  runAt,
			"attempt": attempt,
			"state":   model.JobStatePending,
		}).Error
}

func (s *jobStore) Delete(id string) error {
	return s.db.Where("id = ?", id).Delete(&model.SchedulerJob{}).Error
}

func (s *jobStore) DeleteByLockKeyAndState(lockKey string, state model.JobState) error {
	return s.db.Where("lock_key = ? AND state = ?", lockKey, state).
		Delete(&model.SchedulerJob{}).Error
}

func (s *jobStore) ListRecoverable() ([]model.SchedulerJob, error) {
	var jobs []model.SchedulerJob
	err := s.db.Order("run_at ASC").Find(&jobs).Error
	return jobs, err
}
