// Package model defines the data models for the application.
// All models use GORM for ORM operations with SQLite database.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// StringArray is a custom type for storing string arrays in SQLite
type StringArray []string

// Value implements driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(s)
	return string(data), err
}

// Scan implements sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	}
	return json.Unmarshal(bytes, s)
}

// JSONMap is a custom type for storing JSON maps in SQLite
type JSONMap map[string]interface{}

// Value implements driver.Valuer interface
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	data, err := json.Marshal(j)
	return string(data), err
}

// Scan implements sql.Scanner interface
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	}
	return json.Unmarshal(bytes, j)
}

// Installation represents a GitHub App installation on an account
type Installation struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// GitHub identification
	GithubInstallationID int64  `gorm:"not null;uniqueIndex" json:"github_installation_id"`
	OwnerLogin           string `gorm:"size:255;not null;index" json:"owner_login"`
	OwnerType            string `gorm:"size:50" json:"owner_type"` // "User" or "Organization"
	OwnerGithubID        int64  `json:"owner_github_id"`

	// Lifecycle. No column default on is_active: GORM would drop an
	// explicit false from the insert, so the creator sets it.
	IsActive    bool       `gorm:"index" json:"is_active"`
	SuspendedAt *time.Time `json:"suspended_at,omitempty"`

	// Billing
	MonthlyBudgetCents int `json:"monthly_budget_cents"`

	// Relations
	Repositories []Repository `gorm:"foreignKey:InstallationID" json:"repositories,omitempty"`
}

// Repository represents a repository covered by an installation
type Repository struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Association
	InstallationID uint `gorm:"not null;index" json:"installation_id"`

	// GitHub identification
	GithubRepoID  int64  `gorm:"not null;uniqueIndex" json:"github_repo_id"`
	FullName      string `gorm:"size:512;not null;index" json:"full_name"` // "owner/name"
	DefaultBranch string `gorm:"size:255;default:main" json:"default_branch"`

	// Review switches. No column defaults so an explicit false survives
	// Create; rows are always written with both values set.
	IsEnabled  bool `json:"is_enabled"`
	AutoReview bool `json:"auto_review"`

	// Billing override (nil means inherit from installation)
	MonthlyBudgetCents *int `json:"monthly_budget_cents,omitempty"`

	// Cached per-repository configuration from the config file on the
	// default branch. ConfigFetchedAt drives the cache TTL.
	ConfigYAML      JSONMap    `gorm:"type:json" json:"config_yaml,omitempty"`
	ConfigFetchedAt *time.Time `json:"config_fetched_at,omitempty"`

	// Relations
	Installation Installation `json:"-"`
}

// ReviewStatus represents the status of a review run
type ReviewStatus string

const (
	ReviewStatusPending    ReviewStatus = "pending"
	ReviewStatusInProgress ReviewStatus = "in_progress"
	ReviewStatusCompleted  ReviewStatus = "completed"
	ReviewStatusFailed     ReviewStatus = "failed"
	ReviewStatusSkipped    ReviewStatus = "skipped"
	ReviewStatusSuperseded ReviewStatus = "superseded"
)

// IsTerminal reports whether the status is a terminal state
func (s ReviewStatus) IsTerminal() bool {
	switch s {
	case ReviewStatusCompleted, ReviewStatusFailed, ReviewStatusSkipped, ReviewStatusSuperseded:
		return true
	}
	return false
}

// ReviewTrigger identifies what caused a review run
type ReviewTrigger string

const (
	TriggerPROpened      ReviewTrigger = "pr_opened"
	TriggerPRSynchronize ReviewTrigger = "pr_synchronize"
	TriggerPRReopened    ReviewTrigger = "pr_reopened"
	TriggerCommand       ReviewTrigger = "command"
)

// Review represents one review run against a specific head commit of a pull request
type Review struct {
	ID        string         `gorm:"primarykey;size:20" json:"id"` // xid
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Association
	RepositoryID uint `gorm:"not null;index" json:"repository_id"`

	// Pull request identification
	PRNumber int    `gorm:"not null;index" json:"pr_number"`
	PRTitle  string `gorm:"size:1024" json:"pr_title"`
	PRAuthor string `gorm:"size:255" json:"pr_author"`
	HeadSHA  string `gorm:"size:64;not null;index" json:"head_sha"`
	BaseSHA  string `gorm:"size:64" json:"base_sha"`

	// Run state
	Status      ReviewStatus  `gorm:"size:50;not null;default:pending;index" json:"status"`
	Trigger     ReviewTrigger `gorm:"size:50;not null" json:"trigger"`
	TriggeredBy string        `gorm:"size:255" json:"triggered_by,omitempty"`

	// Outputs
	Summary   string `gorm:"type:text" json:"summary,omitempty"`
	RiskLevel string `gorm:"size:20" json:"risk_level,omitempty"`

	// GitHub artifacts
	GithubReviewID   int64 `json:"github_review_id,omitempty"`
	GithubCheckRunID int64 `json:"github_check_run_id,omitempty"`

	// Statistics
	FilesReviewed  int `gorm:"default:0" json:"files_reviewed"`
	CommentsPosted int `gorm:"default:0" json:"comments_posted"`

	// Usage
	InputTokens  int64 `gorm:"default:0" json:"input_tokens"`
	OutputTokens int64 `gorm:"default:0" json:"output_tokens"`
	CostCents    int64 `gorm:"default:0" json:"cost_cents"`
	Model        string `gorm:"size:255" json:"model,omitempty"`

	// Effective configuration captured at run time
	ConfigSnapshot JSONMap `gorm:"type:json" json:"config_snapshot,omitempty"`

	// Prompt audit trail
	SystemPrompt string `gorm:"type:text" json:"-"`
	UserPrompt   string `gorm:"type:text" json:"-"`

	// Timing
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error handling
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	// Relations
	Repository Repository      `json:"-"`
	Comments   []ReviewComment `gorm:"foreignKey:ReviewID" json:"comments,omitempty"`
}

// CommentSeverity classifies a review comment
type CommentSeverity string

const (
	SeverityCritical   CommentSeverity = "critical"
	SeverityWarning    CommentSeverity = "warning"
	SeveritySuggestion CommentSeverity = "suggestion"
	SeverityNitpick    CommentSeverity = "nitpick"
	SeverityPraise     CommentSeverity = "praise"
)

// ReviewComment represents a single inline finding produced by a review run
type ReviewComment struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Association
	ReviewID string `gorm:"size:20;not null;index" json:"review_id"`

	// Location
	FilePath     string `gorm:"size:1024;not null" json:"file_path"`
	LineNumber   int    `json:"line_number"`
	DiffPosition int    `json:"diff_position"`

	// Content
	Severity     CommentSeverity `gorm:"size:20;default:suggestion" json:"severity"`
	Category     string          `gorm:"size:100" json:"category,omitempty"`
	Message      string          `gorm:"type:text;not null" json:"message"`
	SuggestedFix string          `gorm:"type:text" json:"suggested_fix,omitempty"`

	// GitHub artifact
	GithubCommentID int64 `json:"github_comment_id,omitempty"`

	// Relations
	Review Review `json:"-"`
}

// UsageRecord aggregates token consumption and cost per installation per
// calendar month. Rows are upserted on (installation_id, year, month).
type UsageRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Association and period
	InstallationID uint `gorm:"not null;uniqueIndex:idx_usage_period,priority:1" json:"installation_id"`
	Year           int  `gorm:"not null;uniqueIndex:idx_usage_period,priority:2" json:"year"`
	Month          int  `gorm:"not null;uniqueIndex:idx_usage_period,priority:3" json:"month"`

	// Totals
	TotalInputTokens  int64 `gorm:"default:0" json:"total_input_tokens"`
	TotalOutputTokens int64 `gorm:"default:0" json:"total_output_tokens"`
	TotalCostCents    int64 `gorm:"default:0" json:"total_cost_cents"`
	ReviewCount       int   `gorm:"default:0" json:"review_count"`
}

// JobState represents the lifecycle state of a scheduler job
type JobState string

const (
	JobStatePending JobState = "pending"
	JobStateRunning JobState = "running"
)

// SchedulerJob persists queued work so the scheduler can recover after a restart
type SchedulerJob struct {
	ID        string    `gorm:"primarykey;size:20" json:"id"` // xid
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TaskName string `gorm:"size:100;not null" json:"task_name"`
	LockKey  string `gorm:"size:512;index" json:"lock_key"`
	Payload  string `gorm:"type:text" json:"payload"` // JSON-encoded task arguments

	RunAt      time.Time `gorm:"not null;index" json:"run_at"`
	State      JobState  `gorm:"size:20;not null;default:pending" json:"state"`
	Attempt    int       `gorm:"default:0" json:"attempt"`
	MaxRetries int       `gorm:"default:0" json:"max_retries"`
}

// AllModels returns all models for auto-migration
func AllModels() []interface{} {
	return []interface{}{
		&Installation{},
		&Repository{},
		&Review{},
		&ReviewComment{},
		&UsageRecord{},
		&SchedulerJob{},
	}
}
