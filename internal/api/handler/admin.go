package handler

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/procrasturbate/procrasturbate/internal/model"
	"github.com/procrasturbate/procrasturbate/internal/scheduler"
	"github.com/procrasturbate/procrasturbate/internal/store"
	"github.com/procrasturbate/procrasturbate/pkg/errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// AdminHandler serves the read-only admin API. All mutation happens
// through webhooks; these endpoints exist for operators to inspect
// installations, reviews, and spend.
type AdminHandler struct {
	store store.Store
	sched *scheduler.Scheduler
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(s store.Store, sched *scheduler.Scheduler) *AdminHandler {
	return &AdminHandler{store: s, sched: sched}
}

// ListInstallations handles GET /admin/installations
func (h *AdminHandler) ListInstallations(c *gin.Context) {
	limit, offset := pagination(c)

	installations, total, err := h.store.Installation().List(limit, offset)
	if err != nil {
		c.Error(errors.Wrap(errors.ErrCodeDBQuery, "Failed to list installations", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"installations": installations,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

// ListRepositories handles GET /admin/installations/:id/repositories
func (h *AdminHandler) ListRepositories(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	installation, err := h.store.Installation().GetByID(id)
	if err != nil {
		c.Error(lookupError(err, "Installation not found", "Failed to load installation"))
		return
	}

	repos, err := h.store.Repository().ListByInstallation(installation.ID)
	if err != nil {
		c.Error(errors.Wrap(errors.ErrCodeDBQuery, "Failed to list repositories", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"installation_id": installation.ID,
		"repositories":    repos,
	})
}

// GetUsage handles GET /admin/installations/:id/usage
func (h *AdminHandler) GetUsage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	installation, err := h.store.Installation().GetByID(id)
	if err != nil {
		c.Error(lookupError(err, "Installation not found", "Failed to load installation"))
		return
	}

	records, err := h.store.Usage().ListByInstallation(installation.ID, 12)
	if err != nil {
		c.Error(errors.Wrap(errors.ErrCodeDBQuery, "Failed to load usage", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"installation_id": installation.ID,
		"usage":           records,
	})
}

// ListReviews handles GET /admin/reviews with an optional status filter
func (h *AdminHandler) ListReviews(c *gin.Context) {
	limit, offset := pagination(c)
	status := c.Query("status")

	reviews, total, err := h.store.Review().List(status, limit, offset)
	if err != nil {
		c.Error(errors.Wrap(errors.ErrCodeDBQuery, "Failed to list reviews", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reviews": reviews,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetReview handles GET /admin/reviews/:id and includes inline comments
func (h *AdminHandler) GetReview(c *gin.Context) {
	review, err := h.store.Review().GetByIDWithComments(c.Param("id"))
	if err != nil {
		c.Error(lookupError(err, "Review not found", "Failed to load review"))
		return
	}

	c.JSON(http.StatusOK, review)
}

// GetStats handles GET /admin/stats
func (h *AdminHandler) GetStats(c *gin.Context) {
	byStatus := make(map[string]int64)
	for _, status := range []model.ReviewStatus{
		model.ReviewStatusPending,
		model.ReviewStatusInProgress,
		model.ReviewStatusCompleted,
		model.ReviewStatusFailed,
		model.ReviewStatusSkipped,
		model.ReviewStatusSuperseded,
	} {
		count, err := h.store.Review().CountByStatus(status)
		if err != nil {
			c.Error(errors.Wrap(errors.ErrCodeDBQuery, "Failed to count reviews", err))
			return
		}
		byStatus[string(status)] = count
	}

	last24h, err := h.store.Review().CountCreatedAfter(time.Now().Add(-24 * time.Hour))
	if err != nil {
		c.Error(errors.Wrap(errors.ErrCodeDBQuery, "Failed to count reviews", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reviews_by_status": byStatus,
		"reviews_last_24h":  last24h,
		"scheduler":         h.sched.GetStats(),
	})
}

func lookupError(err error, notFoundMsg, queryMsg string) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(errors.ErrCodeNotFound, notFoundMsg)
	}
	return errors.Wrap(errors.ErrCodeDBQuery, queryMsg, err)
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(errors.New(errors.ErrCodeValidation, "Invalid installation ID"))
		return 0, false
	}
	return uint(id), true
}
