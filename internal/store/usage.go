package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/procrasturbate/procrasturbate/internal/model"
)

// UsageDelta is the per-review consumption added to the monthly aggregate.
type UsageDelta struct {
	InputTokens  int64
	OutputTokens int64
	CostCents    int64
	Reviews      int
}

// UsageStore defines operations for monthly usage aggregates.
type UsageStore interface {
	// AddUsage upserts the (installation, year, month) row, adding the
	// delta onto the existing totals.
	AddUsage(installationID uint, year, month int, delta UsageDelta) error

	// GetForMonth returns the usage row for the period, or a zero-valued
	// record when no usage has been recorded yet.
	GetForMonth(installationID uint, year, month int) (*model.UsageRecord, error)

	ListByInstallation(installationID uint, limit int) ([]model.UsageRecord, error)
}

// usageStore implements UsageStore using GORM.
type usageStore struct {
	db *gorm.DB
}

func newUsageStore(db *gorm.DB) UsageStore {
	return &usageStore{db: db}
}

func (s *usageStore) AddUsage(installationID uint, year, month int, delta UsageDelta) error {
	record := model.UsageRecord{
		InstallationID:    installationID,
		Year:              year,
		Month:             month,
		TotalInputTokens:  delta.InputTokens,
		TotalOutputTokens: delta.OutputTokens,
		TotalCostCents:    delta.CostCents,
		ReviewCount:       delta.Reviews,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "installation_id"}, {Name: "year"}, {Name: "month"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_input_tokens":  gorm.Expr("total_input_tokens + ?", delta.InputTokens),
			"total_output_tokens": gorm.Expr("total_output_tokens + ?", delta.OutputTokens),
			"total_cost_cents":    gorm.Expr("total_cost_cents + ?", delta.CostCents),
			"review_count":        gorm.Expr("review_count + ?", delta.Reviews),
			"updated_at":          time.Now(),
		}),
	}).Create(&record).Error
}

func (s *usageStore) GetForMonth(installationID uint, year, month int) (*model.UsageRecord, error) {
	var record model.UsageRecord
	err := s.db.Where("installation_id = ? AND year = ? AND month = ?",
		installationID, year, month).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.UsageRecord{
			InstallationID: installationID,
			Year:           year,
			Month:          month,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *usageStore) ListByInstallation(installationID uint, limit int) ([]model.UsageRecord, error) {
	var records []model.UsageRecord
	err := s.db.Where("installation_id = ?", installationID).
		Order("year DESC, month DESC").Limit(limit).Find(&records).Error
	return records, err
}
