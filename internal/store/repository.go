package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/procrasturbate/procrasturbate/internal/model"
)

// RepositoryStore defines operations for Repository records.
type RepositoryStore interface {
	Create(repo *model.Repository) error
	GetByID(id uint) (*model.Repository, error)
	GetByGithubID(githubRepoID int64) (*model.Repository, error)
	GetByFullName(fullName string) (*model.Repository, error)
	Update(repo *model.Repository) error
	Save(repo *model.Repository) error
	DeleteByGithubID(githubRepoID int64) error

	// Config cache
	UpdateConfigCache(id uint, config model.JSONMap, fetchedAt time.Time) error
	InvalidateConfigCache(id uint) error

	ListByInstallation(installationID uint) ([]model.Repository, error)
	List(limit, offset int) ([]model.Repository, int64, error)
}

// repositoryStore implements RepositoryStore using GORM.
type repositoryStore struct {
	db *gorm.DB
}

func newRepositoryStore(db *gorm.DB) RepositoryStore {
	return &repositoryStore{db: db}
}

func (s *repositoryStore) Create(repo *model.Repository) error {
	return s.db.Create(repo).Error
}

func (s *repositoryStore) GetByID(id uint) (*model.Repository, error) {
	var repo model.Repository
	err := s.db.First(&repo, id).Error
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (s *repositoryStore) GetByGithubID(githubRepoID int64) (*model.Repository, error) {
	var repo model.Repository
	err := s.db.First(&repo, "github_repo_id = ?", githubRepoID).Error
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (s *repositoryStore) GetByFullName(fullName string) (*model.Repository, error) {
	var repo model.Repository
	err := s.db.First(&repo, "full_name = ?", fullName).Error
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (s *repositoryStore) Update(repo *model.Repository) error {
	return s.db.Model(repo).Updates(repo).Error
}

func (s *repositoryStore) Save(repo *model.Repository) error {
	return s.db.Save(repo).Error
}

func (s *repositoryStore) DeleteByGithubID(githubRepoID int64) error {
	return s.db.Unscoped().Where("github_repo_id = ?", githubRepoID).Delete(&model.Repository{}).Error
}

func (s *repositoryStore) UpdateConfigCache(id uint, config model.JSONMap, fetchedAt time.Time) error {
	return s.db.Model(&model.Repository{}).Where("id = ?", id).Updates(map[string]interface{}{
		"config_yaml":       config,
		"config_fetched_at": fetchedAt,
	}).Error
}

func (s *repositoryStore) InvalidateConfigCache(id uint) error {
	return s.db.Model(&model.Repository{}).Where("id = ?", id).Updates(map[string]interface{}{
		"config_yaml":       nil,
		"config_fetched_at": nil,
	}).Error
}

func (s *repositoryStore) ListByInstallation(installationID uint) ([]model.Repository, error) {
	var repos []model.Repository
	err := s.db.Where("installation_id = ?", installationID).Find(&repos).Error
	return repos, err
}

func (s *repositoryStore) List(limit, offset int) ([]model.Repository, int64, error) {
	var repos []model.Repository
	var total int64

	query := s.db.Model(&model.Repository{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("full_name ASC").Limit(limit).Offset(offset).Find(&repos).Error
	return repos, total, err
}
