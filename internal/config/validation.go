// Package config provides configuration management for the application.
// This file contains validation functions for configuration values.
package config

import (
	"github.com/procrasturbate/procrasturbate/pkg/errors"
)

// MinWebhookSecretLength is the minimum accepted webhook secret length
const MinWebhookSecretLength = 16

// Validate checks that the configuration carries everything the service
// needs to start. Returns an error describing the first missing value.
func (c *Config) Validate() error {
	if c.GithubApp.AppID == 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "github_app.app_id is required")
	}
	if c.GithubApp.PrivateKey == "" && c.GithubApp.PrivateKeyPath == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "github_app.private_key or private_key_path is required")
	}
	if c.GithubApp.WebhookSecret == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "github_app.webhook_secret is required")
	}
	if len(c.GithubApp.WebhookSecret) < MinWebhookSecretLength {
		return errors.New(errors.ErrCodeConfigInvalid, "github_app.webhook_secret is too short")
	}
	if c.AI.APIKey == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "ai.api_key is required")
	}
	if c.AI.DefaultModel == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "ai.default_model is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New(errors.ErrCodeConfigInvalid, "server.port is out of range")
	}
	if c.Scheduler.Workers <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "scheduler.workers must be positive")
	}
	return nil
}
