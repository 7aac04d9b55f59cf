package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/procrasturbate/procrasturbate/internal/model"
)

// InstallationStore defines operations for Installation records.
type InstallationStore interface {
	Create(installation *model.Installation) error
	GetByID(id uint) (*model.Installation, error)
	GetByGithubID(githubInstallationID int64) (*model.Installation, error)
	Update(installation *model.Installation) error
	Save(installation *model.Installation) error

	// Lifecycle transitions driven by installation webhook events
	Suspend(githubInstallationID int64, at time.Time) error
	Unsuspend(githubInstallationID int64) error
	DeleteByGithubID(githubInstallationID int64) error

	List(limit, offset int) ([]model.Installation, int64, error)
	ListActive() ([]model.Installation, error)
}

// installationStore implements InstallationStore using GORM.
type installationStore struct {
	db *gorm.DB
}

func newInstallationStore(db *gorm.DB) InstallationStore {
	return &installationStore{db: db}
}

func (s *installationStore) Create(installation *model.Installation) error {
	return s.db.Create(installation).Error
}

func (s *installationStore) GetByID(id uint) (*model.Installation, error) {
	var installation model.Installation
	err := s.db.First(&installation, id).Error
	if err != nil {
		return nil, err
	}
	return &installation, nil
}

func (s *installationStore) GetByGithubID(githubInstallationID int64) (*model.Installation, error) {
	var installation model.Installation
	err := s.db.First(&installation, "github_installation_id = ?", githubInstallationID).Error
	if err != nil {
		return nil, err
	}
	return &installation, nil
}

func (s *installationStore) Update(installation *model.Installation) error {
	return s.db.Model(installation).Updates(installation).Error
}

func (s *installationStore) Save(installation *model.Installation) error {
	return s.db.Save(installation).Error
}

func (s *installationStore) Suspend(githubInstallationID int64, at time.Time) error {
	return s.db.Model(&model.Installation{}).
		Where("github_installation_id = ?", githubInstallationID).
		Updates(map[string]interface{}{
			"is_active":    false,
			"suspended_at": at,
		}).Error
}

func (s *installationStore) Unsuspend(githubInstallationID int64) error {
	return s.db.Model(&model.Installation{}).
		Where("github_installation_id = ?", githubInstallationID).
		Updates(map[string]interface{}{
			"is_active":    true,
			"suspended_at": nil,
		}).Error
}

// DeleteByGithubID removes the installation and its repositories.
// Uninstall means the app loses access, so rows are hard-deleted.
func (s *installationStore) DeleteByGithubID(githubInstallationID int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var installation model.Installation
		if err := tx.First(&installation, "github_installation_id = ?", githubInstallationID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}

		if err := tx.Unscoped().
			Where("installation_id = ?", installation.ID).
			Delete(&model.Repository{}).Error; err != nil {
			return err
		}

		return tx.Unscoped().Delete(&installation).Error
	})
}

func (s *installationStore) List(limit, offset int) ([]model.Installation, int64, error) {
	var installations []model.Installation
	var total int64

	query := s.db.Model(&model.Installation{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&installations).Error
	return installations, total, err
}

func (s *installationStore) ListActive() ([]model.Installation, error) {
	var installations []model.Installation
	err := s.db.Where("is_active = ?", true).Find(&installations).Error
	return installations, err
}
