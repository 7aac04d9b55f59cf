package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/procrasturbate/procrasturbate/internal/model"
	"github.com/procrasturbate/procrasturbate/internal/store"
	"github.com/procrasturbate/procrasturbate/pkg/errors"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
)

// RepoInfo identifies one repository in an installation event.
type RepoInfo struct {
	GithubRepoID  int64
	FullName      string
	DefaultBranch string
}

// Installations applies installation lifecycle events to the database.
type Installations struct {
	store              store.Store
	defaultBudgetCents int
}

// NewInstallations creates the lifecycle manager.
func NewInstallations(s store.Store, defaultBudgetCents int) *Installations {
	return &Installations{store: s, defaultBudgetCents: defaultBudgetCents}
}

// Install records a new installation and its initial repository set. An
// existing installation is reactivated instead of duplicated.
func (m *Installations) Install(githubInstallationID int64, ownerLogin, ownerType string, ownerGithubID int64, repos []RepoInfo) error {
	existing, err := m.store.Installation().GetByGithubID(githubInstallationID)
	if err == nil {
		existing.IsActive = true
		existing.SuspendedAt = nil
		existing.OwnerLogin = ownerLogin
		existing.OwnerType = ownerType
		if err := m.store.Installation().Save(existing); err != nil {
			return errors.Wrap(errors.ErrCodeDBQuery, "failed to reactivate installation", err)
		}
		return m.AddRepositories(githubInstallationID, repos)
	}

	installation := &model.Installation{
		GithubInstallationID: githubInstallationID,
		OwnerLogin:           ownerLogin,
		OwnerType:            ownerType,
		OwnerGithubID:        ownerGithubID,
		IsActive:             true,
		MonthlyBudgetCents:   m.defaultBudgetCents,
	}
	err = m.store.Transaction(func(tx store.Store) error {
		if err := tx.Installation().Create(installation); err != nil {
			return err
		}
		for _, info := range repos {
			if err := tx.Repository().Create(newRepository(installation.ID, info)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to record installation", err)
	}

	logger.Info("Installation created",
		zap.Int64("installation_id", githubInstallationID),
		zap.String("owner", ownerLogin),
		zap.Int("repos", len(repos)),
	)
	return nil
}

// Uninstall removes an installation and its repositories.
func (m *Installations) Uninstall(githubInstallationID int64) error {
	if err := m.store.Installation().DeleteByGithubID(githubInstallationID); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to delete installation", err)
	}
	logger.Info("Installation deleted", zap.Int64("installation_id", githubInstallationID))
	return nil
}

// Suspend pauses all reviewing for an installation.
func (m *Installations) Suspend(githubInstallationID int64) error {
	if err := m.store.Installation().Suspend(githubInstallationID, time.Now()); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to suspend installation", err)
	}
	logger.Info("Installation suspended", zap.Int64("installation_id", githubInstallationID))
	return nil
}

// Unsuspend resumes reviewing for an installation.
func (m *Installations) Unsuspend(githubInstallationID int64) error {
	if err := m.store.Installation().Unsuspend(githubInstallationID); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to unsuspend installation", err)
	}
	logger.Info("Installation unsuspended", zap.Int64("installation_id", githubInstallationID))
	return nil
}

// AddRepositories registers repositories added to an installation. Already
// known repositories are left untouched.
func (m *Installations) AddRepositories(githubInstallationID int64, repos []RepoInfo) error {
	installation, err := m.store.Installation().GetByGithubID(githubInstallationID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeNotFound, "unknown installation", err)
	}
	for _, info := range repos {
		if _, err := m.store.Repository().GetByGithubID(info.GithubRepoID); err == nil {
			continue
		}
		if err := m.store.Repository().Create(newRepository(installation.ID, info)); err != nil {
			return errors.Wrap(errors.ErrCodeDBQuery, "failed to add repository", err)
		}
		logger.Info("Repository added",
			zap.Int64("installation_id", githubInstallationID),
			zap.String("repo", info.FullName),
		)
	}
	return nil
}

// RemoveRepositories deletes repositories removed from an installation.
func (m *Installations) RemoveRepositories(githubInstallationID int64, githubRepoIDs []int64) error {
	for _, id := range githubRepoIDs {
		if err := m.store.Repository().DeleteByGithubID(id); err != nil {
			return errors.Wrap(errors.ErrCodeDBQuery, "failed to remove repository", err)
		}
	}
	logger.Info("Repositories removed",
		zap.Int64("installation_id", githubInstallationID),
		zap.Int("count", len(githubRepoIDs)),
	)
	return nil
}

func newRepository(installationID uint, info RepoInfo) *model.Repository {
	branch := info.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	return &model.Repository{
		InstallationID: installationID,
		GithubRepoID:   info.GithubRepoID,
		FullName:       info.FullName,
		DefaultBranch:  branch,
		IsEnabled:      true,
		AutoReview:     true,
	}
}
