package engine

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/procrasturbate/procrasturbate/consts"
	"github.com/procrasturbate/procrasturbate/internal/config"
	"github.com/procrasturbate/procrasturbate/internal/model"
	"github.com/procrasturbate/procrasturbate/internal/store"
	"github.com/procrasturbate/procrasturbate/pkg/errors"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
)

// configCacheTTL bounds how long a cached repository config is served
// before the config file is re-fetched from the default branch.
const configCacheTTL = 5 * time.Minute

// ConfigLoader resolves the effective review configuration for a
// repository. The config file from the default branch is cached on the
// repository row; a missing or unparsable file falls back to defaults.
type ConfigLoader struct {
	store store.Store
}

// NewConfigLoader creates a loader backed by the given store.
func NewConfigLoader(s store.Store) *ConfigLoader {
	return &ConfigLoader{store: s}
}

// Load returns the effective review config for the repository, consulting
// the cache first. This never fails: any fetch or parse problem degrades to
// the default configuration.
func (l *ConfigLoader) Load(ctx context.Context, client HostClient, repo *model.Repository) *config.ReviewConfig {
	if repo.ConfigFetchedAt != nil && time.Since(*repo.ConfigFetchedAt) < configCacheTTL && len(repo.ConfigYAML) > 0 {
		if cfg, err := config.ReviewConfigFromMap(repo.ConfigYAML); err == nil {
			return cfg
		}
	}

	cfg := l.fetch(ctx, client, repo)

	cached, err := cfg.ToMap()
	if err == nil {
		if err := l.store.Repository().UpdateConfigCache(repo.ID, cached, time.Now()); err != nil {
			logger.Warn("Failed to cache repository config",
				zap.String("repo", repo.FullName), zap.Error(err))
		}
	}
	return cfg
}

// Invalidate drops the cached config so the next load re-fetches it. Called
// when a push to the default branch touches the config file.
func (l *ConfigLoader) Invalidate(repo *model.Repository) {
	if err := l.store.Repository().InvalidateConfigCache(repo.ID); err != nil {
		logger.Warn("Failed to invalidate repository config cache",
			zap.String("repo", repo.FullName), zap.Error(err))
	}
}

func (l *ConfigLoader) fetch(ctx context.Context, client HostClient, repo *model.Repository) *config.ReviewConfig {
	owner, name := splitFullName(repo.FullName)
	data, err := client.GetFileContent(ctx, owner, name, consts.ConfigFileName, repo.DefaultBranch)
	if err != nil {
		if !errors.HasCode(err, errors.ErrCodeHostPermanent) {
			logger.Warn("Failed to fetch repository config, using defaults",
				zap.String("repo", repo.FullName), zap.Error(err))
		}
		return config.DefaultReviewConfig()
	}

	cfg, err := config.ParseReviewConfig(data)
	if err != nil {
		logger.Warn("Repository config is invalid, using defaults",
			zap.String("repo", repo.FullName), zap.Error(err))
		return config.DefaultReviewConfig()
	}
	return cfg
}

// splitFullName splits "owner/name" into its parts.
func splitFullName(fullName string) (owner, name string) {
	if i := strings.Index(fullName, "/"); i >= 0 {
		return fullName[:i], fullName[i+1:]
	}
	return fullName, ""
}
