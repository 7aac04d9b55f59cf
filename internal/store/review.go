package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/procrasturbate/procrasturbate/internal/model"
)

// CompletionResult carries the outputs written when a review run finishes
// successfully. All fields are persisted in a single update.
type CompletionResult struct {
	Summary        string
	RiskLevel      string
	GithubReviewID int64
	FilesReviewed  int
	CommentsPosted int
	InputTokens    int64
	OutputTokens   int64
	CostCents      int64
	Model          string
	SystemPrompt   string
	UserPrompt     string
}

// ReviewStore defines operations for Review and ReviewComment records.
type ReviewStore interface {
	// Review CRUD
	Create(review *model.Review) error
	GetByID(id string) (*model.Review, error)
	GetByIDWithComments(id string) (*model.Review, error)
	Update(review *model.Review) error
	Save(review *model.Review) error

	// Status transitions. The compare-and-set variants return whether the
	// transition happened so callers can detect concurrent finalization.
	MarkInProgress(id string, startedAt time.Time) (bool, error)
	MarkTerminal(id string, status model.ReviewStatus, errMsg string) (bool, error)
	Complete(id string, result CompletionResult) (bool, error)
	UpdateCheckRunID(id string, checkRunID int64) error
	UpdateConfigSnapshot(id string, snapshot model.JSONMap) error

	// Review queries
	List(statusFilter string, limit, offset int) ([]model.Review, int64, error)
	ListByRepository(repositoryID uint, limit, offset int) ([]model.Review, int64, error)
	ListByPR(repositoryID uint, prNumber int) ([]model.Review, error)
	GetByRepoPRAndHead(repositoryID uint, prNumber int, headSHA string) (*model.Review, error)
	ListStaleInProgress(cutoff time.Time) ([]model.Review, error)

	// ReviewComment operations
	CreateComments(comments []model.ReviewComment) error
	GetCommentsByReviewID(reviewID string) ([]model.ReviewComment, error)

	// Statistics queries
	CountByStatus(status model.ReviewStatus) (int64, error)
	CountCreatedAfter(start time.Time) (int64, error)
}

// reviewStore implements ReviewStore using GORM.
type reviewStore struct {
	db *gorm.DB
}

func newReviewStore(db *gorm.DB) ReviewStore {
	return &reviewStore{db: db}
}

// Review CRUD implementations

func (s *reviewStore) Create(review *model.Review) error {
	return s.db.Create(review).Error
}

func (s *reviewStore) GetByID(id string) (*model.Review, error) {
	var review model.Review
	err := s.db.First(&review, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (s *reviewStore) GetByIDWithComments(id string) (*model.Review, error) {
	var review model.Review
	err := s.db.Preload("Comments").First(&review, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (s *reviewStore) Update(review *model.Review) error {
	return s.db.Model(review).Updates(review).Error
}

func (s *reviewStore) Save(review *model.Review) error {
	return s.db.Save(review).Error
}

// Status transitions

func (s *reviewStore) MarkInProgress(id string, startedAt time.Time) (bool, error) {
	result := s.db.Model(&model.Review{}).
		Where("id = ?", id).
		Where("status = ?", model.ReviewStatusPending).
		Updates(map[string]interface{}{
			"status":     model.ReviewStatusInProgress,
			"started_at": startedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkTerminal moves a non-terminal review into the given terminal status.
// Rows already in a terminal state are left untouched, which keeps the
// terminal transition exactly-once under concurrent finalization.
func (s *reviewStore) MarkTerminal(id string, status model.ReviewStatus, errMsg string) (bool, error) {
	result := s.db.Model(&model.Review{}).
		Where("id = ?", id).
		Where("status IN ?", []model.ReviewStatus{model.ReviewStatusPending, model.ReviewStatusInProgress}).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errMsg,
			"completed_at":  time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *reviewStore) Complete(id string, res CompletionResult) (bool, error) {
	result := s.db.Model(&model.Review{}).
		Where("id = ?", id).
		Where("status = ?", model.ReviewStatusInProgress).
		Updates(map[string]interface{}{
			"status":           model.ReviewStatusCompleted,
			"summary":          res.Summary,
			"risk_level":       res.RiskLevel,
			"github_review_id": res.GithubReviewID,
			"files_reviewed":   res.FilesReviewed,
			"comments_posted":  res.CommentsPosted,
			"input_tokens":     res.InputTokens,
			"output_tokens":    res.OutputTokens,
			"cost_cents":       res.CostCents,
			"model":            res.Model,
			"system_prompt":    res.SystemPrompt,
			"user_prompt":      res.UserPrompt,
			"completed_at":     time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *reviewStore) UpdateCheckRunID(id string, checkRunID int64) error {
	return s.db.Model(&model.Review{}).Where("id = ?", id).
		Update("github_check_run_id", checkRunID).Error
}

func (s *reviewStore) UpdateConfigSnapshot(id string, snapshot model.JSONMap) error {
	return s.db.Model(&model.Review{}).Where("id = ?", id).
		Update("config_snapshot", snapshot).Error
}

// Review queries

func (s *reviewStore) List(statusFilter string, limit, offset int) ([]model.Review, int64, error) {
	var reviews []model.Review
	var total int64

	query := s.db.Model(&model.Review{})
	if statusFilter != "" {
		query = query.Where("status = ?", statusFilter)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&reviews).Error
	return reviews, total, err
}

func (s *reviewStore) ListByRepository(repositoryID uint, limit, offset int) ([]model.Review, int64, error) {
	var reviews []model.Review
	var total int64

	query := s.db.Model(&model.Review{}).Where("repository_id = ?", repositoryID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&reviews).Error
	return reviews, total, err
}

func (s *reviewStore) ListByPR(repositoryID uint, prNumber int) ([]model.Review, error) {
	var reviews []model.Review
	err := s.db.Where("repository_id = ? AND pr_number = ?", repositoryID, prNumber).
		Order("created_at DESC").Find(&reviews).Error
	return reviews, err
}

func (s *reviewStore) GetByRepoPRAndHead(repositoryID uint, prNumber int, headSHA string) (*model.Review, error) {
	var review model.Review
	err := s.db.Where("repository_id = ? AND pr_number = ? AND head_sha = ?",
		repositoryID, prNumber, headSHA).
		Order("created_at DESC").First(&review).Error
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (s *reviewStore) ListStaleInProgress(cutoff time.Time) ([]model.Review, error) {
	var reviews []model.Review
	err := s.db.Where("status = ? AND started_at < ?", model.ReviewStatusInProgress, cutoff).
		Find(&reviews).Error
	return reviews, err
}

// ReviewComment operations

func (s *reviewStore) CreateComments(comments []model.ReviewComment) error {
	if len(comments) == 0 {
		return nil
	}
	return s.db.Create(&comments).Error
}

func (s *reviewStore) GetCommentsByReviewID(reviewID string) ([]model.ReviewComment, error) {
	var comments []model.ReviewComment
	err := s.db.Where("review_id = ?", reviewID).Order("file_path ASC, line_number ASC").
		Find(&comments).Error
	return comments, err
}

// Statistics queries

func (s *reviewStore) CountByStatus(status model.ReviewStatus) (int64, error) {
	var count int64
	err := s.db.Model(&model.Review{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

func (s *reviewStore) CountCreatedAfter(start time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&model.Review{}).Where("created_at >= ?", start).Count(&count).Error
	return count, err
}
