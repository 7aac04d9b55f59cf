package engine

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/procrasturbate/procrasturbate/internal/model"
	"github.com/procrasturbate/procrasturbate/internal/store"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
)

// staleReviewAge is how long a review may sit in-progress before the
// reconciler declares it dead. Covers crashed workers and jobs whose
// retries ran out.
const staleReviewAge = time.Hour

// Reconciler periodically fails reviews stuck in-progress.
type Reconciler struct {
	store store.Store
	cron  *cron.Cron
}

// NewReconciler creates the reconciler with an hourly sweep.
func NewReconciler(s store.Store) *Reconciler {
	return &Reconciler{
		store: s,
		cron:  cron.New(),
	}
}

// Start begins the hourly sweep.
func (r *Reconciler) Start() error {
	if _, err := r.cron.AddFunc("@hourly", r.Sweep); err != nil {
		return err
	}
	r.cron.Start()
	logger.Info("Reconciler started")
	return nil
}

// Stop halts scheduling and waits for a running sweep.
func (r *Reconciler) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Sweep fails every review that has been in-progress longer than the
// stale age.
func (r *Reconciler) Sweep() {
	cutoff := time.Now().Add(-staleReviewAge)
	stale, err := r.store.Review().ListStaleInProgress(cutoff)
	if err != nil {
		logger.Error("Stale review sweep failed", zap.Error(err))
		return
	}
	for i := range stale {
		ok, err := r.store.Review().MarkTerminal(stale[i].ID, model.ReviewStatusFailed,
			"Review timed out")
		if err != nil {
			logger.Error("Failed to time out review",
				zap.String("review_id", stale[i].ID), zap.Error(err))
			continue
		}
		if ok {
			logger.Warn("Stale review marked failed",
				zap.String("review_id", stale[i].ID),
				zap.Time("started_at", derefTime(stale[i].StartedAt)),
			)
		}
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
